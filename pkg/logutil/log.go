package logutil

import (
	"strings"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

const (
	// FormatText is the human readable log format.
	FormatText = "text"
	// FormatJSON is the machine readable log format.
	FormatJSON = "json"
)

// Config is the logging part of a component config.
type Config struct {
	Level  string `toml:"level" json:"level"`
	File   string `toml:"file" json:"file"`
	Format string `toml:"format" json:"format"`
}

// Adjust fills unset fields with defaults.
func (c *Config) Adjust() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = FormatText
	}
	c.Level = strings.ToLower(c.Level)
	c.Format = strings.ToLower(c.Format)
}

// Validate checks the config values.
func (c *Config) Validate() error {
	switch c.Format {
	case FormatText, FormatJSON:
	default:
		return errors.Errorf("unsupported log format %q", c.Format)
	}
	switch c.Level {
	case "debug", "info", "warn", "error", "fatal":
	default:
		return errors.Errorf("unsupported log level %q", c.Level)
	}
	return nil
}

// InitLogger builds a logger from cfg and installs it as the global
// logger returned by log.L().
func InitLogger(cfg *Config) error {
	cfg.Adjust()
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, props, err := log.InitLogger(&log.Config{
		Level:  cfg.Level,
		Format: cfg.Format,
		File: log.FileLogConfig{
			Filename: cfg.File,
		},
	}, zap.AddStacktrace(zap.DPanicLevel))
	if err != nil {
		return errors.Trace(err)
	}

	log.ReplaceGlobals(logger, props)
	return nil
}
