package mock

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/hanfei1991/minionbatch/client"
)

// MockDispatcher is a testify mock of client.Dispatcher. It also keeps
// every request it was called with.
type MockDispatcher struct {
	mock.Mock

	mu       sync.Mutex
	requests []*client.JobRequest
}

// NewMockDispatcher creates a MockDispatcher.
func NewMockDispatcher() *MockDispatcher {
	return &MockDispatcher{}
}

// RunJob implements client.Dispatcher.
func (d *MockDispatcher) RunJob(ctx context.Context, req *client.JobRequest) (*client.JobAck, error) {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.mu.Unlock()

	args := d.Mock.Called(ctx, req)
	ack, _ := args.Get(0).(*client.JobAck)
	return ack, args.Error(1)
}

// Requests returns the requests received so far.
func (d *MockDispatcher) Requests() []*client.JobRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	ret := make([]*client.JobRequest, len(d.requests))
	copy(ret, d.requests)
	return ret
}

// RequestsFor returns the requests running fun.
func (d *MockDispatcher) RequestsFor(fun string) []*client.JobRequest {
	var ret []*client.JobRequest
	for _, req := range d.Requests() {
		if req.Fun == fun {
			ret = append(ret, req)
		}
	}
	return ret
}
