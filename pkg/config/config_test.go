package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/hanfei1991/minionbatch/minion"
	derrors "github.com/hanfei1991/minionbatch/pkg/errors"
)

const sampleConfig = `
metrics-addr = "127.0.0.1:0"

[log]
level = "debug"

[bus]
type = "etcd"

[bus.etcd]
endpoints = ["127.0.0.1:2379"]
dial-timeout = "3s"

[nodegroups]
web = ["web1", "web2"]

[batch]
batch = "2"
batch-delay = "500ms"
gather-job-timeout = "4s"

[batch.metadata]
owner = "ops"

[[minions]]
id = "web1"

[[minions]]
id = "web2"
mode = "hang"
latency = "150ms"
`

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "batchctl.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestConfigFromFile(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	require.NoError(t, cfg.ConfigFromFile(writeConfig(t, sampleConfig)))
	cfg.Adjust()
	require.NoError(t, cfg.Validate())

	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, BusEtcd, cfg.Bus.Type)
	require.Equal(t, []string{"web1", "web2"}, cfg.Nodegroups["web"])

	etcdCfg := cfg.EtcdBusConfig()
	require.Equal(t, []string{"127.0.0.1:2379"}, etcdCfg.Endpoints)
	require.Equal(t, 3*time.Second, etcdCfg.DialTimeout)
	require.NotEmpty(t, etcdCfg.Prefix)

	opts := cfg.BatchOptions()
	require.Equal(t, "2", opts.Batch)
	require.Equal(t, 500*time.Millisecond, opts.BatchDelay)
	require.Equal(t, 4*time.Second, opts.GatherJobTimeout)
	require.Equal(t, 4*time.Second, opts.PresencePingTimeout)
	require.Equal(t, map[string]interface{}{"owner": "ops"}, opts.Metadata)

	minions := cfg.MinionConfigs()
	require.Len(t, minions, 2)
	require.Equal(t, minion.ModeNormal, minions[0].Mode)
	require.Equal(t, minion.ModeHang, minions[1].Mode)
	require.Equal(t, 150*time.Millisecond, minions[1].Latency)
}

func TestConfigFromFileRejectsUnknownItems(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	err := cfg.ConfigFromFile(writeConfig(t, "[bus]\nkind = \"etcd\"\n"))
	require.True(t, derrors.ErrInvalidConfig.Equal(err))
	require.Contains(t, err.Error(), "bus.kind")

	err = cfg.ConfigFromFile(writeConfig(t, "[batch]\ntimeout = \"soon\"\n"))
	require.True(t, derrors.ErrInvalidConfig.Equal(err))
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	cases := []func(c *Config){
		func(c *Config) { c.Bus.Type = "kafka" },
		func(c *Config) { c.Bus.Type = BusEtcd },
		func(c *Config) { c.Batch.Batch = "many" },
		func(c *Config) { c.Log.Format = "xml" },
		func(c *Config) { c.Minions = []MinionConfig{{ID: "a"}, {ID: "a"}} },
		func(c *Config) { c.Minions = []MinionConfig{{ID: "a", Mode: "zombie"}} },
	}
	for i, mutate := range cases {
		cfg := NewConfig()
		mutate(cfg)
		cfg.Adjust()
		err := cfg.Validate()
		require.Error(t, err, "case %d", i)
	}
	require.NoError(t, NewConfig().Validate())
}

func TestTomlRoundTrip(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	require.NoError(t, cfg.ConfigFromFile(writeConfig(t, sampleConfig)))
	cfg.Adjust()

	out, err := cfg.Toml()
	require.NoError(t, err)
	decoded := &Config{}
	_, err = toml.Decode(out, decoded)
	require.NoError(t, err)
	require.Equal(t, cfg.Batch.BatchDelay, decoded.Batch.BatchDelay)
	require.Equal(t, cfg.Minions, decoded.Minions)
	require.Contains(t, cfg.String(), `"batch-delay":"500ms"`)
}

func TestLoadAppliesChangedFlags(t *testing.T) {
	t.Parallel()

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f := &Flags{}
	f.Register(fs)
	path := writeConfig(t, sampleConfig)
	require.NoError(t, fs.Parse([]string{"-c", path, "--bus", "memory", "-b", "50%", "--timeout", "2s"}))

	cfg, err := Load(f, fs)
	require.NoError(t, err)
	require.Equal(t, BusMemory, cfg.Bus.Type)
	require.Equal(t, "50%", cfg.Batch.Batch)
	require.Equal(t, 2*time.Second, cfg.Batch.Timeout.Duration)
	// untouched flags keep the file values
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, 500*time.Millisecond, cfg.Batch.BatchDelay.Duration)

	fs = pflag.NewFlagSet("test", pflag.ContinueOnError)
	f = &Flags{}
	f.Register(fs)
	require.NoError(t, fs.Parse([]string{"--bus", "etcd"}))
	_, err = Load(f, fs)
	require.True(t, derrors.ErrInvalidConfig.Equal(err))
}
