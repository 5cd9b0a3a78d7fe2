package errors

import (
	"github.com/pingcap/errors"
)

// batch coordinator related errors
var (
	ErrInvalidBatchSpec = errors.Normalize("invalid batch specification %q, expected a count or a percentage", errors.RFCCodeText("MBATCH:ErrInvalidBatchSpec"))
	ErrMissingTarget    = errors.Normalize("target expression is required", errors.RFCCodeText("MBATCH:ErrMissingTarget"))
	ErrMissingFunction  = errors.Normalize("function to run is required", errors.RFCCodeText("MBATCH:ErrMissingFunction"))
	ErrInvalidConfig    = errors.Normalize("invalid config: %s", errors.RFCCodeText("MBATCH:ErrInvalidConfig"))
	ErrBatchAborted     = errors.Normalize("batch %s aborted", errors.RFCCodeText("MBATCH:ErrBatchAborted"))
	ErrBatchClosed      = errors.Normalize("batch %s is closed", errors.RFCCodeText("MBATCH:ErrBatchClosed"))
	ErrLoopClosed       = errors.Normalize("event loop is closed", errors.RFCCodeText("MBATCH:ErrLoopClosed"))
)

// dispatch related errors
var (
	ErrDispatchFailed     = errors.Normalize("dispatch job %s failed", errors.RFCCodeText("MBATCH:ErrDispatchFailed"))
	ErrNoMinionsMatched   = errors.Normalize("no minions matched target %q", errors.RFCCodeText("MBATCH:ErrNoMinionsMatched"))
	ErrInvalidTargetType  = errors.Normalize("invalid target type %q", errors.RFCCodeText("MBATCH:ErrInvalidTargetType"))
	ErrInvalidTargetExpr  = errors.Normalize("invalid target expression %q", errors.RFCCodeText("MBATCH:ErrInvalidTargetExpr"))
	ErrUnknownNodegroup   = errors.Normalize("unknown nodegroup %q", errors.RFCCodeText("MBATCH:ErrUnknownNodegroup"))
	ErrUnknownFunction    = errors.Normalize("function %q is not available", errors.RFCCodeText("MBATCH:ErrUnknownFunction"))
	ErrInvalidFunctionArg = errors.Normalize("invalid argument for %s: %s", errors.RFCCodeText("MBATCH:ErrInvalidFunctionArg"))
)

// event bus related errors
var (
	ErrEventBusClosed  = errors.Normalize("event bus is closed", errors.RFCCodeText("MBATCH:ErrEventBusClosed"))
	ErrMalformedEvent  = errors.Normalize("malformed event with tag %s", errors.RFCCodeText("MBATCH:ErrMalformedEvent"))
	ErrInvalidPattern  = errors.Normalize("invalid subscription pattern %q", errors.RFCCodeText("MBATCH:ErrInvalidPattern"))
	ErrEtcdOpFail      = errors.Normalize("etcd operation failed", errors.RFCCodeText("MBATCH:ErrEtcdOpFail"))
	ErrEtcdConnectFail = errors.Normalize("failed to connect etcd endpoints %v", errors.RFCCodeText("MBATCH:ErrEtcdConnectFail"))
)

// WrapError generates an error of rfcError annotated with the message of
// err. Unlike rfcError.Wrap, the result still satisfies rfcError.Equal.
func WrapError(rfcError *errors.Error, err error, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Annotate(rfcError.GenWithStackByArgs(args...), err.Error())
}
