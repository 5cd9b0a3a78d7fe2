package batch

import (
	"time"

	"github.com/hanfei1991/minionbatch/client"
	derrors "github.com/hanfei1991/minionbatch/pkg/errors"
)

const (
	defaultBatchDelay       = 1 * time.Second
	defaultGatherJobTimeout = 10 * time.Second
	defaultTimeout          = 5 * time.Second
	defaultEndFlushDelay    = 1 * time.Second
)

// Job is what a batch run executes and on whom.
type Job struct {
	Target client.Target
	Fun    string
	Arg    []interface{}
}

// Validate reports configuration errors of the job.
func (j *Job) Validate() error {
	if j.Target.Empty() {
		return derrors.ErrMissingTarget.GenWithStackByArgs()
	}
	if j.Fun == "" {
		return derrors.ErrMissingFunction.GenWithStackByArgs()
	}
	return nil
}

// Options controls the pacing of a batch run. It is never modified
// once the run has started.
type Options struct {
	// Batch is the window size, a count like "10" or a percentage of
	// the available minions like "25%".
	Batch string
	// BatchDelay is the wait after a minion returns before more minions
	// are admitted, so that close returns are handled together.
	BatchDelay time.Duration
	// PresencePingTimeout bounds the presence discovery. It defaults to
	// GatherJobTimeout.
	PresencePingTimeout time.Duration
	// GatherJobTimeout is how long a find_job probe waits for answers.
	GatherJobTimeout time.Duration
	// Timeout is the wait after admitting minions before they are
	// probed with find_job.
	Timeout time.Duration
	// EndFlushDelay is the wait between the done event and teardown.
	EndFlushDelay time.Duration

	// Metadata is echoed in every job and lifecycle event.
	Metadata interface{}
	Ret      string
	Raw      bool
}

// Adjust returns a copy with defaults applied to unset fields.
func (o Options) Adjust() Options {
	if o.BatchDelay <= 0 {
		o.BatchDelay = defaultBatchDelay
	}
	if o.GatherJobTimeout <= 0 {
		o.GatherJobTimeout = defaultGatherJobTimeout
	}
	if o.PresencePingTimeout <= 0 {
		o.PresencePingTimeout = o.GatherJobTimeout
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.EndFlushDelay <= 0 {
		o.EndFlushDelay = defaultEndFlushDelay
	}
	if o.Metadata == nil {
		o.Metadata = map[string]interface{}{}
	}
	return o
}

// Validate reports configuration errors.
func (o Options) Validate() error {
	_, err := ParseWindowSpec(o.Batch)
	return err
}
