package config

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/log"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/hanfei1991/minionbatch/batch"
	"github.com/hanfei1991/minionbatch/minion"
	derrors "github.com/hanfei1991/minionbatch/pkg/errors"
	"github.com/hanfei1991/minionbatch/pkg/eventbus/etcdbus"
	"github.com/hanfei1991/minionbatch/pkg/logutil"
)

// Bus types
const (
	BusMemory = "memory"
	BusEtcd   = "etcd"
)

// EtcdConfig is the [bus.etcd] section.
type EtcdConfig struct {
	Endpoints   []string `toml:"endpoints" json:"endpoints"`
	Prefix      string   `toml:"prefix" json:"prefix"`
	DialTimeout Duration `toml:"dial-timeout" json:"dial-timeout"`
	EventTTL    int64    `toml:"event-ttl" json:"event-ttl"`
}

// BusConfig is the [bus] section.
type BusConfig struct {
	Type string     `toml:"type" json:"type"`
	Etcd EtcdConfig `toml:"etcd" json:"etcd"`
}

// BatchConfig is the [batch] section, the defaults of every run.
type BatchConfig struct {
	Batch               string                 `toml:"batch" json:"batch"`
	BatchDelay          Duration               `toml:"batch-delay" json:"batch-delay"`
	PresencePingTimeout Duration               `toml:"presence-ping-timeout" json:"presence-ping-timeout"`
	GatherJobTimeout    Duration               `toml:"gather-job-timeout" json:"gather-job-timeout"`
	Timeout             Duration               `toml:"timeout" json:"timeout"`
	EndFlushDelay       Duration               `toml:"end-flush-delay" json:"end-flush-delay"`
	Metadata            map[string]interface{} `toml:"metadata" json:"metadata"`
	Ret                 string                 `toml:"ret" json:"ret"`
	Raw                 bool                   `toml:"raw" json:"raw"`
}

// MinionConfig is one [[minions]] entry.
type MinionConfig struct {
	ID      string   `toml:"id" json:"id"`
	Host    string   `toml:"host" json:"host"`
	Mode    string   `toml:"mode" json:"mode"`
	Latency Duration `toml:"latency" json:"latency"`
}

// Config is the configuration of batchctl.
type Config struct {
	Log         logutil.Config      `toml:"log" json:"log"`
	MetricsAddr string              `toml:"metrics-addr" json:"metrics-addr"`
	Bus         BusConfig           `toml:"bus" json:"bus"`
	Nodegroups  map[string][]string `toml:"nodegroups" json:"nodegroups"`
	Batch       BatchConfig         `toml:"batch" json:"batch"`
	Minions     []MinionConfig      `toml:"minions" json:"minions"`
}

// NewConfig creates a Config with every default filled in.
func NewConfig() *Config {
	cfg := &Config{}
	cfg.Adjust()
	return cfg
}

func (c *Config) String() string {
	cfg, err := json.Marshal(c)
	if err != nil {
		log.L().Error("marshal config to json", zap.Error(err))
	}
	return string(cfg)
}

// Toml returns TOML format representation of config.
func (c *Config) Toml() (string, error) {
	var b bytes.Buffer
	if err := toml.NewEncoder(&b).Encode(c); err != nil {
		return "", derrors.WrapError(derrors.ErrInvalidConfig, err, "encode toml")
	}
	return b.String(), nil
}

// ConfigFromFile loads config from file. Unknown items are rejected.
func (c *Config) ConfigFromFile(path string) error {
	metaData, err := toml.DecodeFile(path, c)
	if err != nil {
		return derrors.WrapError(derrors.ErrInvalidConfig, err, "decode "+path)
	}
	undecoded := metaData.Undecoded()
	if len(undecoded) > 0 {
		var undecodedItems []string
		for _, item := range undecoded {
			undecodedItems = append(undecodedItems, item.String())
		}
		return derrors.ErrInvalidConfig.GenWithStackByArgs("unknown items " + strings.Join(undecodedItems, ","))
	}
	return nil
}

// Adjust fills the unset fields with defaults.
func (c *Config) Adjust() {
	c.Log.Adjust()
	if c.Bus.Type == "" {
		c.Bus.Type = BusMemory
	}
	c.Bus.Type = strings.ToLower(c.Bus.Type)
	if c.Batch.Batch == "" {
		c.Batch.Batch = "10%"
	}
	for i := range c.Minions {
		if c.Minions[i].Mode == "" {
			c.Minions[i].Mode = string(minion.ModeNormal)
		}
	}
}

// Validate checks the config after Adjust.
func (c *Config) Validate() error {
	if err := c.Log.Validate(); err != nil {
		return derrors.WrapError(derrors.ErrInvalidConfig, err, "log")
	}
	switch c.Bus.Type {
	case BusMemory:
	case BusEtcd:
		if err := c.EtcdBusConfig().Validate(); err != nil {
			return err
		}
	default:
		return derrors.ErrInvalidConfig.GenWithStackByArgs("unknown bus type " + c.Bus.Type)
	}
	if err := c.BatchOptions().Validate(); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(c.Minions))
	for _, cfg := range c.MinionConfigs() {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if _, ok := seen[cfg.ID]; ok {
			return derrors.ErrInvalidConfig.GenWithStackByArgs("duplicate minion id " + cfg.ID)
		}
		seen[cfg.ID] = struct{}{}
	}
	return nil
}

// BatchOptions returns the defaulted run options of the [batch] section.
func (c *Config) BatchOptions() batch.Options {
	opts := batch.Options{
		Batch:               c.Batch.Batch,
		BatchDelay:          c.Batch.BatchDelay.Duration,
		PresencePingTimeout: c.Batch.PresencePingTimeout.Duration,
		GatherJobTimeout:    c.Batch.GatherJobTimeout.Duration,
		Timeout:             c.Batch.Timeout.Duration,
		EndFlushDelay:       c.Batch.EndFlushDelay.Duration,
		Ret:                 c.Batch.Ret,
		Raw:                 c.Batch.Raw,
	}
	if c.Batch.Metadata != nil {
		opts.Metadata = c.Batch.Metadata
	}
	return opts.Adjust()
}

// EtcdBusConfig returns the defaulted etcd bus config.
func (c *Config) EtcdBusConfig() *etcdbus.Config {
	cfg := &etcdbus.Config{
		Endpoints:   c.Bus.Etcd.Endpoints,
		Prefix:      c.Bus.Etcd.Prefix,
		DialTimeout: c.Bus.Etcd.DialTimeout.Duration,
		EventTTL:    c.Bus.Etcd.EventTTL,
	}
	cfg.Adjust()
	return cfg
}

// MinionConfigs returns the simulated minions.
func (c *Config) MinionConfigs() []minion.Config {
	ret := make([]minion.Config, 0, len(c.Minions))
	for _, m := range c.Minions {
		cfg := minion.Config{
			ID:      m.ID,
			Host:    m.Host,
			Mode:    minion.Mode(m.Mode),
			Latency: m.Latency.Duration,
		}
		cfg.Adjust()
		ret = append(ret, cfg)
	}
	return ret
}

// Flags are the command line overrides of a Config.
type Flags struct {
	ConfigFile string

	LogLevel    string
	LogFile     string
	LogFormat   string
	MetricsAddr string

	Bus           string
	EtcdEndpoints []string
	EtcdPrefix    string

	Batch            string
	BatchDelay       time.Duration
	GatherJobTimeout time.Duration
	Timeout          time.Duration
}

// Register adds the flags to fs.
func (f *Flags) Register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.ConfigFile, "config", "c", "", "path to config file")
	fs.StringVarP(&f.LogLevel, "log-level", "L", "info", "log level: debug, info, warn, error, fatal")
	fs.StringVar(&f.LogFile, "log-file", "", "log file path")
	fs.StringVar(&f.LogFormat, "log-format", logutil.FormatText, `the format of the log, "text" or "json"`)
	fs.StringVar(&f.MetricsAddr, "metrics-addr", "", "address serving /metrics, disabled when empty")
	fs.StringVar(&f.Bus, "bus", BusMemory, `event bus: "memory" or "etcd"`)
	fs.StringSliceVar(&f.EtcdEndpoints, "etcd-endpoints", nil, "etcd endpoints of the event bus")
	fs.StringVar(&f.EtcdPrefix, "etcd-prefix", "", "etcd key prefix of the event bus")
	fs.StringVarP(&f.Batch, "batch", "b", "10%", "window size, a count or a percentage")
	fs.DurationVar(&f.BatchDelay, "batch-delay", 0, "wait before admitting more minions after a return")
	fs.DurationVar(&f.GatherJobTimeout, "gather-job-timeout", 0, "how long find_job probes wait for answers")
	fs.DurationVar(&f.Timeout, "timeout", 0, "wait before probing admitted minions")
}

// Load reads the config file named by the flags, then applies every
// flag set explicitly on fs.
func Load(f *Flags, fs *pflag.FlagSet) (*Config, error) {
	cfg := &Config{}
	if f.ConfigFile != "" {
		if err := cfg.ConfigFromFile(f.ConfigFile); err != nil {
			return nil, err
		}
	}

	overrides := map[string]func(){
		"log-level":          func() { cfg.Log.Level = f.LogLevel },
		"log-file":           func() { cfg.Log.File = f.LogFile },
		"log-format":         func() { cfg.Log.Format = f.LogFormat },
		"metrics-addr":       func() { cfg.MetricsAddr = f.MetricsAddr },
		"bus":                func() { cfg.Bus.Type = f.Bus },
		"etcd-endpoints":     func() { cfg.Bus.Etcd.Endpoints = f.EtcdEndpoints },
		"etcd-prefix":        func() { cfg.Bus.Etcd.Prefix = f.EtcdPrefix },
		"batch":              func() { cfg.Batch.Batch = f.Batch },
		"batch-delay":        func() { cfg.Batch.BatchDelay = NewDuration(f.BatchDelay) },
		"gather-job-timeout": func() { cfg.Batch.GatherJobTimeout = NewDuration(f.GatherJobTimeout) },
		"timeout":            func() { cfg.Batch.Timeout = NewDuration(f.Timeout) },
	}
	for name, apply := range overrides {
		if fs.Changed(name) {
			apply()
		}
	}

	cfg.Adjust()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
