package etcdbus

import (
	"strings"
	"time"

	"google.golang.org/grpc"

	derrors "github.com/hanfei1991/minionbatch/pkg/errors"
)

const (
	defaultPrefix      = "/minionbatch/events"
	defaultDialTimeout = 5 * time.Second
	defaultEventTTL    = 60
)

// Config configures the etcd backed bus.
type Config struct {
	Endpoints []string `toml:"endpoints" json:"endpoints"`
	// Prefix is the key space events are written under.
	Prefix      string        `toml:"prefix" json:"prefix"`
	DialTimeout time.Duration `toml:"dial-timeout" json:"dial-timeout"`
	// EventTTL is how many seconds a fired event stays in etcd.
	EventTTL int64 `toml:"event-ttl" json:"event-ttl"`

	// DialOptions is a list of dial options for the grpc client
	DialOptions []grpc.DialOption `toml:"-" json:"-"`
}

// Adjust fills the unset fields with defaults.
func (c *Config) Adjust() {
	if c.Prefix == "" {
		c.Prefix = defaultPrefix
	}
	c.Prefix = strings.TrimSuffix(c.Prefix, "/")
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.EventTTL <= 0 {
		c.EventTTL = defaultEventTTL
	}
	if len(c.DialOptions) == 0 {
		c.DialOptions = []grpc.DialOption{grpc.WithBlock()}
	}
}

// Validate checks the config after Adjust.
func (c *Config) Validate() error {
	if len(c.Endpoints) == 0 {
		return derrors.ErrInvalidConfig.GenWithStackByArgs("etcd endpoints are empty")
	}
	return nil
}
