package batch

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	derrors "github.com/hanfei1991/minionbatch/pkg/errors"
)

func TestResolveWindowSize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		spec     string
		n        int
		expected int
	}{
		{"2", 2, 2},
		{"3", 2, 3},
		{" 5 ", 100, 5},
		{"0", 10, 1},
		{"-3", 10, 1},
		{"50%", 4, 2},
		{"50%", 5, 3},
		{"10%", 4, 1},
		{"1%", 1000, 10},
		{"0%", 10, 1},
		{"100%", 7, 7},
		{"150%", 4, 6},
		{"33.3%", 10, 4},
		{"25%", 0, 1},
		{"2", 0, 2},
	}
	for _, c := range cases {
		size, err := ResolveWindowSize(c.spec, c.n)
		require.NoError(t, err, c.spec)
		require.Equal(t, c.expected, size, "spec %q n %d", c.spec, c.n)
	}
}

func TestResolveWindowSizeInvalid(t *testing.T) {
	t.Parallel()

	for _, spec := range []string{"", "abc", "%", "x%", "1.5", "10%%", "NaN%", "Inf%"} {
		_, err := ResolveWindowSize(spec, 10)
		require.True(t, derrors.ErrInvalidBatchSpec.Equal(err), "spec %q", spec)
	}
}

func TestWindowPercentageProperty(t *testing.T) {
	t.Parallel()

	for pct := 1; pct <= 300; pct += 7 {
		w, err := ParseWindowSpec(fmt.Sprintf("%d%%", pct))
		require.NoError(t, err)
		require.True(t, w.IsPercentage())
		for n := 0; n <= 50; n++ {
			size := w.Resolve(n)
			require.GreaterOrEqual(t, size, 1)
			expected := int(math.Ceil(float64(pct) / 100 * float64(n)))
			if expected < 1 {
				expected = 1
			}
			require.Equal(t, expected, size)
			if pct >= 100 {
				require.GreaterOrEqual(t, size, n)
			}
		}
	}
}
