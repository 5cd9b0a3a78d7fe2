package eventbus

import (
	"context"
	"encoding/json"

	"github.com/pingcap/errors"

	derrors "github.com/hanfei1991/minionbatch/pkg/errors"
)

// Message is one event delivered by the bus.
type Message struct {
	Tag  string          `json:"tag"`
	Data json.RawMessage `json:"data"`
}

// Handler receives every message whose tag matches one of the
// connection's subscriptions. It is called from the bus' delivery
// goroutine and must not block.
type Handler func(msg *Message)

//go:generate mockgen -destination mock/event_mock.go -package mock github.com/hanfei1991/minionbatch/pkg/eventbus Event

// Event is one connection to the event bus.
type Event interface {
	// Subscribe starts delivering messages whose tag matches pattern.
	// Subscribing the same pattern twice is a no-op.
	Subscribe(pattern string) error
	// Unsubscribe stops delivering messages for pattern. Unknown patterns
	// are ignored.
	Unsubscribe(pattern string) error
	// SetHandler installs the message handler, replacing the previous one.
	SetHandler(h Handler)
	// RemoveHandler detaches the handler. Messages arriving without a
	// handler are dropped.
	RemoveHandler()
	// FireEvent publishes data under tag. data is JSON encoded unless it
	// is already a []byte or json.RawMessage.
	FireEvent(ctx context.Context, tag string, data interface{}) error
	// Close releases the connection. It must not be called from a Handler.
	Close() error
}

// Pack encodes data the way FireEvent does.
func Pack(data interface{}) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return raw, nil
}

// Unpack decodes the message payload into v.
func Unpack(msg *Message, v interface{}) error {
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return derrors.WrapError(derrors.ErrMalformedEvent, err, msg.Tag)
	}
	return nil
}
