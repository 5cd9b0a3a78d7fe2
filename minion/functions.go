package minion

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pingcap/errors"

	derrors "github.com/hanfei1991/minionbatch/pkg/errors"
)

const (
	funTestPing         = "test.ping"
	funTestEcho         = "test.echo"
	funTestSleep        = "test.sleep"
	funTestArg          = "test.arg"
	funFindJob          = "saltutil.find_job"
	funSaltutilRunning  = "saltutil.running"
	retcodeUnknownFun   = 254
	retcodeFunctionFail = 1
)

type function func(ctx context.Context, a *Agent, args []interface{}) (interface{}, error)

var functions = map[string]function{
	funTestPing:        testPing,
	funTestEcho:        testEcho,
	funTestSleep:       testSleep,
	funTestArg:         testArg,
	funFindJob:         findJob,
	funSaltutilRunning: running,
}

// Functions lists the functions a minion can run.
func Functions() []string {
	ret := make([]string, 0, len(functions))
	for name := range functions {
		ret = append(ret, name)
	}
	return ret
}

func testPing(context.Context, *Agent, []interface{}) (interface{}, error) {
	return true, nil
}

func testEcho(_ context.Context, _ *Agent, args []interface{}) (interface{}, error) {
	if len(args) == 0 {
		return "", nil
	}
	return fmt.Sprint(args[0]), nil
}

func testSleep(ctx context.Context, a *Agent, args []interface{}) (interface{}, error) {
	if len(args) == 0 {
		return nil, derrors.ErrInvalidFunctionArg.GenWithStackByArgs(funTestSleep, "missing length")
	}
	seconds, err := toFloat(args[0])
	if err != nil {
		return nil, derrors.WrapError(derrors.ErrInvalidFunctionArg, err, funTestSleep, fmt.Sprint(args[0]))
	}
	select {
	case <-ctx.Done():
		return nil, errors.Trace(ctx.Err())
	case <-a.clk.After(time.Duration(seconds * float64(time.Second))):
	}
	return true, nil
}

func testArg(_ context.Context, _ *Agent, args []interface{}) (interface{}, error) {
	if args == nil {
		args = []interface{}{}
	}
	return map[string]interface{}{"args": args}, nil
}

func findJob(_ context.Context, a *Agent, args []interface{}) (interface{}, error) {
	if len(args) == 0 {
		return nil, derrors.ErrInvalidFunctionArg.GenWithStackByArgs(funFindJob, "missing jid")
	}
	jid := fmt.Sprint(args[0])
	if info, ok := a.runningJob(jid); ok {
		return info, nil
	}
	return map[string]interface{}{}, nil
}

func running(_ context.Context, a *Agent, _ []interface{}) (interface{}, error) {
	return a.runningJobs(), nil
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, errors.Trace(err)
	default:
		return 0, errors.Errorf("%v is not a number", v)
	}
}
