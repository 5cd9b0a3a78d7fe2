package client

import (
	"context"
	"time"

	derrors "github.com/hanfei1991/minionbatch/pkg/errors"
	"github.com/hanfei1991/minionbatch/pkg/roster"
)

// Target selects the minions a job is published to.
type Target struct {
	Type roster.TargetType `json:"tgt_type"`
	Expr string            `json:"tgt"`
	// List is used by the list target type in addition to Expr.
	List []string `json:"list,omitempty"`
}

// Empty reports whether no minion can possibly be selected.
func (t Target) Empty() bool {
	return t.Expr == "" && len(t.List) == 0
}

// JobRequest asks the dispatcher to run Fun on the minions of Target.
type JobRequest struct {
	// JID is generated by the dispatcher when empty.
	JID    string
	Target Target
	Fun    string
	Arg    []interface{}

	GatherJobTimeout time.Duration
	Metadata         interface{}
	Ret              string
	Raw              bool
}

// Validate reports configuration errors of the request.
func (r *JobRequest) Validate() error {
	if r.Target.Empty() {
		return derrors.ErrMissingTarget.GenWithStackByArgs()
	}
	if r.Fun == "" {
		return derrors.ErrMissingFunction.GenWithStackByArgs()
	}
	return nil
}

// JobAck is the dispatcher's answer once a job is published.
type JobAck struct {
	JID string `json:"jid"`
	// Minions are the ids the job was published to.
	Minions []string `json:"minions"`
}

// Dispatcher publishes jobs to minions. RunJob returns as soon as the
// job is published, results arrive on the event bus.
type Dispatcher interface {
	RunJob(ctx context.Context, req *JobRequest) (*JobAck, error)
}

// JobPublish is the payload of salt/job/<jid>/new.
type JobPublish struct {
	JID     string        `json:"jid"`
	Fun     string        `json:"fun"`
	Arg     []interface{} `json:"arg"`
	Tgt     string        `json:"tgt"`
	TgtType string        `json:"tgt_type"`
	// Minions is the resolved target. Minions only run jobs listing them.
	Minions          []string    `json:"minions"`
	Ret              string      `json:"ret,omitempty"`
	Raw              bool        `json:"raw,omitempty"`
	Metadata         interface{} `json:"metadata,omitempty"`
	GatherJobTimeout float64     `json:"gather_job_timeout,omitempty"`
}

// JobReturn is the payload of salt/job/<jid>/ret/<id>.
type JobReturn struct {
	ID      string      `json:"id"`
	JID     string      `json:"jid"`
	Fun     string      `json:"fun"`
	Return  interface{} `json:"return"`
	Success bool        `json:"success"`
	Retcode int         `json:"retcode"`
	// Duration is how long the function ran, in milliseconds.
	Duration float64     `json:"duration"`
	Metadata interface{} `json:"metadata,omitempty"`
}
