package jid

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/hanfei1991/minionbatch/pkg/clock"
)

// Generator produces unique job identifiers.
type Generator interface {
	NewJID() string
}

// GeneratorFunc adapts a plain function to a Generator.
type GeneratorFunc func() string

// NewJID implements Generator.
func (f GeneratorFunc) NewJID() string {
	return f()
}

const timestampLayout = "20060102150405.000000"

// TimestampGenerator allocates 20 digit ids in the form
// YYYYMMDDhhmmssffffff. Ids from one generator are strictly increasing
// even when the clock stalls or steps backwards.
type TimestampGenerator struct {
	mu    sync.Mutex
	clock clock.Clock
	last  string
}

// NewTimestampGenerator creates a TimestampGenerator reading the system clock.
func NewTimestampGenerator() *TimestampGenerator {
	return NewTimestampGeneratorWithClock(clock.New())
}

var defaultGenerator = NewTimestampGenerator()

// Default returns the process-wide TimestampGenerator. Ids it hands out
// are unique across every run of the process.
func Default() *TimestampGenerator {
	return defaultGenerator
}

// NewTimestampGeneratorWithClock creates a TimestampGenerator reading clk.
func NewTimestampGeneratorWithClock(clk clock.Clock) *TimestampGenerator {
	return &TimestampGenerator{clock: clk}
}

// NewJID implements Generator.
func (g *TimestampGenerator) NewJID() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	next := strings.Replace(g.clock.Now().UTC().Format(timestampLayout), ".", "", 1)
	// All ids have the same width, so lexical order is numeric order.
	if next <= g.last {
		next = increment(g.last)
	}
	g.last = next
	return next
}

// increment adds one to a string of decimal digits.
func increment(digits string) string {
	buf := []byte(digits)
	for i := len(buf) - 1; i >= 0; i-- {
		if buf[i] < '9' {
			buf[i]++
			return string(buf)
		}
		buf[i] = '0'
	}
	return "1" + string(buf)
}

// UUIDGenerator allocates random UUIDs as job ids.
type UUIDGenerator struct{}

// NewUUIDGenerator creates a UUIDGenerator.
func NewUUIDGenerator() *UUIDGenerator {
	return new(UUIDGenerator)
}

// NewJID implements Generator.
func (g *UUIDGenerator) NewJID() string {
	return uuid.New().String()
}

// MockGenerator hands out preset ids in order. It panics when it runs out,
// which makes an unexpected extra allocation visible in tests.
type MockGenerator struct {
	mu  sync.Mutex
	ids []string
}

// NewMockGenerator creates a MockGenerator returning ids in order.
func NewMockGenerator(ids ...string) *MockGenerator {
	return &MockGenerator{ids: ids}
}

// Push appends ids to the pending list.
func (g *MockGenerator) Push(ids ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ids = append(g.ids, ids...)
}

// NewJID implements Generator.
func (g *MockGenerator) NewJID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.ids) == 0 {
		panic("MockGenerator: no more ids")
	}
	ret := g.ids[0]
	g.ids = g.ids[1:]
	return ret
}
