package notifier

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNotifierBasics(t *testing.T) {
	n := NewNotifier[int]()
	defer n.Close()

	const (
		numReceivers = 10
		numEvents    = 100000
		finEv        = math.MaxInt
	)
	var wg sync.WaitGroup

	for i := 0; i < numReceivers; i++ {
		wg.Add(1)
		r := n.NewReceiver()
		go func() {
			defer wg.Done()
			defer r.Close()

			var lastEv int
			for ev := range r.C {
				if ev == finEv {
					return
				}

				if lastEv != 0 {
					require.Equal(t, lastEv+1, ev)
				}
				lastEv = ev
			}
		}()
	}

	for i := 1; i <= numEvents; i++ {
		n.Notify(i)
	}

	n.Notify(finEv)
	err := n.Flush(context.Background())
	require.NoError(t, err)

	wg.Wait()
	require.Equal(t, 0, n.ReceiverCount())
}

func TestReceiverCloseDetaches(t *testing.T) {
	n := NewNotifier[string]()
	defer n.Close()

	r1 := n.NewReceiver()
	r2 := n.NewReceiver()
	require.Equal(t, 2, n.ReceiverCount())

	r1.Close()
	require.Equal(t, 1, n.ReceiverCount())
	_, ok := <-r1.C
	require.False(t, ok)

	n.Notify("hello")
	select {
	case ev := <-r2.C:
		require.Equal(t, "hello", ev)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for notification")
	}

	// closing twice is a no-op
	r1.Close()
	r2.Close()
	require.Equal(t, 0, n.ReceiverCount())
}

func TestNotifierCloseClosesReceivers(t *testing.T) {
	n := NewNotifier[int]()
	r := n.NewReceiver()

	n.Close()
	_, ok := <-r.C
	require.False(t, ok)

	// Flush and Close after Close must not block.
	require.NoError(t, n.Flush(context.Background()))
	r.Close()
	n.Close()
}
