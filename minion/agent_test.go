package minion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hanfei1991/minionbatch/client"
	derrors "github.com/hanfei1991/minionbatch/pkg/errors"
	"github.com/hanfei1991/minionbatch/pkg/eventbus"
	"github.com/hanfei1991/minionbatch/pkg/eventbus/membus"
	"github.com/hanfei1991/minionbatch/pkg/roster"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testEnv struct {
	t      *testing.T
	bus    *membus.Bus
	roster *roster.Roster
	cli    *client.LocalClient
	pubEv  eventbus.Event
	retEv  eventbus.Event
	rets   chan *client.JobReturn

	cancel context.CancelFunc
	wg     sync.WaitGroup
	conns  []eventbus.Event
}

func newTestEnv(t *testing.T, minions ...Config) *testEnv {
	env := &testEnv{
		t:      t,
		bus:    membus.New(),
		roster: roster.New(nil),
		rets:   make(chan *client.JobReturn, 64),
	}
	env.pubEv = env.bus.Connect()
	env.retEv = env.bus.Connect()
	env.retEv.SetHandler(func(msg *eventbus.Message) {
		ret := &client.JobReturn{}
		if err := eventbus.Unpack(msg, ret); err == nil {
			env.rets <- ret
		}
	})
	require.NoError(t, env.retEv.Subscribe("salt/job/*/ret/*"))
	env.cli = client.NewLocalClient(env.roster, env.pubEv)

	ctx, cancel := context.WithCancel(context.Background())
	env.cancel = cancel
	for _, cfg := range minions {
		ev := env.bus.Connect()
		env.conns = append(env.conns, ev)
		agent, err := NewAgent(cfg, ev, nil)
		require.NoError(t, err)
		env.roster.Register(roster.Entry{ID: cfg.ID})
		env.wg.Add(1)
		go func() {
			defer env.wg.Done()
			_ = agent.Run(ctx)
		}()
	}
	// wait until live agents have subscribed
	time.Sleep(50 * time.Millisecond)
	return env
}

func (env *testEnv) close() {
	env.cancel()
	env.wg.Wait()
	for _, ev := range env.conns {
		_ = ev.Close()
	}
	_ = env.pubEv.Close()
	_ = env.retEv.Close()
	env.bus.Close()
}

func (env *testEnv) run(jid, tgt, fun string, args ...interface{}) {
	_, err := env.cli.RunJob(context.Background(), &client.JobRequest{
		JID:    jid,
		Target: client.Target{Type: roster.TargetGlob, Expr: tgt},
		Fun:    fun,
		Arg:    args,
	})
	require.NoError(env.t, err)
}

func (env *testEnv) collect(n int, timeout time.Duration) map[string]*client.JobReturn {
	ret := make(map[string]*client.JobReturn)
	deadline := time.After(timeout)
	for len(ret) < n {
		select {
		case r := <-env.rets:
			ret[r.ID] = r
		case <-deadline:
			return ret
		}
	}
	return ret
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{ID: "a"}
	cfg.Adjust()
	require.Equal(t, ModeNormal, cfg.Mode)
	require.NoError(t, cfg.Validate())

	for _, bad := range []Config{{}, {ID: "a", Mode: "zombie"}, {ID: "a", Mode: ModeNormal, Latency: -time.Second}} {
		err := bad.Validate()
		require.True(t, derrors.ErrInvalidConfig.Equal(err))
	}
}

func TestPingModes(t *testing.T) {
	env := newTestEnv(t,
		Config{ID: "normal"},
		Config{ID: "hang", Mode: ModeHang},
		Config{ID: "noping", Mode: ModeNoPing},
		Config{ID: "dead", Mode: ModeDead},
	)
	defer env.close()

	env.run("1", "*", "test.ping")
	rets := env.collect(2, 2*time.Second)
	require.Len(t, rets, 2)
	require.Contains(t, rets, "normal")
	require.Contains(t, rets, "hang")
	require.Equal(t, true, rets["normal"].Return)
	require.True(t, rets["normal"].Success)
	require.Equal(t, "1", rets["normal"].JID)

	// nothing else arrives
	require.Len(t, env.collect(1, 200*time.Millisecond), 0)
}

func TestFunctions(t *testing.T) {
	env := newTestEnv(t, Config{ID: "a"})
	defer env.close()

	env.run("1", "a", "test.echo", "hello")
	ret := env.collect(1, 2*time.Second)["a"]
	require.Equal(t, "hello", ret.Return)

	env.run("2", "a", "test.arg", "x", 1)
	ret = env.collect(1, 2*time.Second)["a"]
	require.Equal(t, map[string]interface{}{"args": []interface{}{"x", float64(1)}}, ret.Return)

	env.run("3", "a", "cmd.run", "ls")
	ret = env.collect(1, 2*time.Second)["a"]
	require.False(t, ret.Success)
	require.Equal(t, retcodeUnknownFun, ret.Retcode)

	env.run("4", "a", "test.sleep", "bogus")
	ret = env.collect(1, 2*time.Second)["a"]
	require.False(t, ret.Success)
	require.Equal(t, retcodeFunctionFail, ret.Retcode)
}

func TestFindJob(t *testing.T) {
	env := newTestEnv(t, Config{ID: "busy"}, Config{ID: "hang", Mode: ModeHang})
	defer env.close()

	env.run("10", "*", "test.sleep", 1)
	time.Sleep(100 * time.Millisecond)

	env.run("11", "*", "saltutil.find_job", "10")
	rets := env.collect(2, 2*time.Second)
	require.Len(t, rets, 2)
	found, ok := rets["busy"].Return.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "10", found["jid"])
	require.Equal(t, "test.sleep", found["fun"])
	require.Empty(t, rets["hang"].Return)

	env.run("12", "busy", "saltutil.running")
	ret := env.collect(1, 2*time.Second)["busy"]
	jobs, ok := ret.Return.([]interface{})
	require.True(t, ok)
	require.Len(t, jobs, 1)

	// the sleep finishes and is no longer running
	ret = env.collect(1, 3*time.Second)["busy"]
	require.Equal(t, "10", ret.JID)
	require.Equal(t, true, ret.Return)

	env.run("13", "busy", "saltutil.find_job", "10")
	ret = env.collect(1, 2*time.Second)["busy"]
	require.Empty(t, ret.Return)
}

func TestAgentAnnouncesItself(t *testing.T) {
	bus := membus.New()
	defer bus.Close()

	r := roster.New(nil)
	trackEv := bus.Connect()
	defer trackEv.Close()
	require.NoError(t, r.Track(trackEv))

	agentEv := bus.Connect()
	defer agentEv.Close()
	agent, err := NewAgent(Config{ID: "new", Host: "10.0.0.2"}, agentEv, nil)
	require.NoError(t, err)
	require.Equal(t, "new", agent.ID())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agent.Run(ctx) }()

	require.Eventually(t, func() bool {
		e, ok := r.Get("new")
		return ok && e.Host == "10.0.0.2"
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.Equal(t, int64(0), agent.Executed())
}
