package minion

import (
	"time"

	derrors "github.com/hanfei1991/minionbatch/pkg/errors"
)

// Mode decides how a simulated minion reacts to jobs.
type Mode string

// Supported modes
const (
	// ModeNormal answers every job.
	ModeNormal Mode = "normal"
	// ModeDead never answers anything and never announces itself.
	ModeDead Mode = "dead"
	// ModeHang answers test.ping but accepts every other job without
	// returning it, and does not report it as running.
	ModeHang Mode = "hang"
	// ModeNoPing ignores test.ping and answers everything else.
	ModeNoPing Mode = "no-ping"
)

// Config describes one simulated minion.
type Config struct {
	ID      string        `toml:"id" json:"id"`
	Host    string        `toml:"host" json:"host"`
	Mode    Mode          `toml:"mode" json:"mode"`
	Latency time.Duration `toml:"latency" json:"latency"`
}

// Adjust fills the unset fields with defaults.
func (c *Config) Adjust() {
	if c.Mode == "" {
		c.Mode = ModeNormal
	}
}

// Validate checks the config after Adjust.
func (c *Config) Validate() error {
	if c.ID == "" {
		return derrors.ErrInvalidConfig.GenWithStackByArgs("minion id is empty")
	}
	switch c.Mode {
	case ModeNormal, ModeDead, ModeHang, ModeNoPing:
	default:
		return derrors.ErrInvalidConfig.GenWithStackByArgs("unknown minion mode " + string(c.Mode))
	}
	if c.Latency < 0 {
		return derrors.ErrInvalidConfig.GenWithStackByArgs("minion latency is negative")
	}
	return nil
}
