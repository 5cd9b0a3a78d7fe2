package batch

import (
	"math"
	"strconv"
	"strings"

	derrors "github.com/hanfei1991/minionbatch/pkg/errors"
)

// WindowSpec is a parsed batch size: either a fixed count or a
// percentage of the available minions.
type WindowSpec struct {
	raw     string
	count   int
	percent float64
	isPct   bool
}

// ParseWindowSpec parses "10" or "25%".
func ParseWindowSpec(spec string) (WindowSpec, error) {
	s := strings.TrimSpace(spec)
	if strings.HasSuffix(s, "%") {
		pct, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "%")), 64)
		if err != nil || math.IsNaN(pct) || math.IsInf(pct, 0) {
			return WindowSpec{}, derrors.ErrInvalidBatchSpec.GenWithStackByArgs(spec)
		}
		return WindowSpec{raw: spec, percent: pct, isPct: true}, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return WindowSpec{}, derrors.ErrInvalidBatchSpec.GenWithStackByArgs(spec)
	}
	return WindowSpec{raw: spec, count: n}, nil
}

// Resolve returns the window size for n available minions, at least 1.
// A percentage above 100 yields a window larger than n.
func (w WindowSpec) Resolve(n int) int {
	size := w.count
	if w.isPct {
		size = int(math.Ceil(w.percent / 100 * float64(n)))
	}
	if size < 1 {
		size = 1
	}
	return size
}

// IsPercentage reports whether the window scales with the minion count.
func (w WindowSpec) IsPercentage() bool {
	return w.isPct
}

func (w WindowSpec) String() string {
	return w.raw
}

// ResolveWindowSize parses spec and resolves it for n minions.
func ResolveWindowSize(spec string, n int) (int, error) {
	w, err := ParseWindowSpec(spec)
	if err != nil {
		return 0, err
	}
	return w.Resolve(n), nil
}
