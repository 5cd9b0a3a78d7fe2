package errors

import (
	"testing"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/require"
)

func TestWrapErrorKeepsIdentity(t *testing.T) {
	t.Parallel()

	cause := errors.New("publish failed")
	err := WrapError(ErrBatchAborted, cause, "1002")
	require.True(t, ErrBatchAborted.Equal(err))
	require.False(t, ErrDispatchFailed.Equal(err))
	require.Contains(t, err.Error(), "publish failed")
	require.Contains(t, err.Error(), "batch 1002 aborted")

	// nested wraps keep the outermost identity
	inner := WrapError(ErrDispatchFailed, cause, "1003")
	require.True(t, ErrDispatchFailed.Equal(inner))
	outer := WrapError(ErrBatchAborted, inner, "1002")
	require.True(t, ErrBatchAborted.Equal(outer))
	require.Contains(t, outer.Error(), "dispatch job 1003 failed")

	require.NoError(t, WrapError(ErrBatchAborted, nil, "1002"))
}

func TestWrapMethodLosesIdentity(t *testing.T) {
	t.Parallel()

	err := ErrBatchAborted.Wrap(errors.New("publish failed")).GenWithStackByArgs("1002")
	require.False(t, ErrBatchAborted.Equal(err))
}
