package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// blockingService starts, blocks until stopped, and records the order
// of its stop relative to its peers.
type blockingService struct {
	name    string
	order   *stopOrder
	done    chan struct{}
	stopped sync.Once
}

type stopOrder struct {
	mu    sync.Mutex
	names []string
}

func (o *stopOrder) record(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.names = append(o.names, name)
}

func (o *stopOrder) list() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.names...)
}

func newBlockingService(name string, order *stopOrder) *blockingService {
	return &blockingService{name: name, order: order, done: make(chan struct{})}
}

func (s *blockingService) Start() error {
	<-s.done
	return nil
}

func (s *blockingService) Stop() {
	s.stopped.Do(func() {
		s.order.record(s.name)
		close(s.done)
	})
}

func TestLifecycle_StopsInReverseOrder(t *testing.T) {
	order := &stopOrder{}
	l := NewLifecycle(zap.NewNop())
	l.Add("first", newBlockingService("first", order))
	l.Add("second", newBlockingService("second", order))
	l.Add("third", newBlockingService("third", order))

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	assert.Equal(t, []string{"third", "second", "first"}, order.list())
}

func TestLifecycle_ServiceErrorTriggersShutdown(t *testing.T) {
	order := &stopOrder{}
	boom := errors.New("boom")

	l := NewLifecycle(zap.NewNop())
	l.Add("healthy", newBlockingService("healthy", order))
	l.Add("broken", &FuncService{
		StartFn: func() error { return boom },
		StopFn:  func() { order.record("broken") },
	})

	err := l.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "broken")

	// The healthy service was stopped as part of the shutdown.
	assert.Contains(t, order.list(), "healthy")
}

func TestLifecycle_ShutdownIdempotent(t *testing.T) {
	var stops int
	l := NewLifecycle(zap.NewNop())
	l.Add("svc", &FuncService{
		StartFn: func() error { return nil },
		StopFn:  func() { stops++ },
	})

	l.Shutdown()
	l.Shutdown()

	assert.Equal(t, 1, stops)
}

func TestLifecycle_RunWithNoServices(t *testing.T) {
	l := NewLifecycle(zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, l.Run(ctx))
}

func TestFuncService(t *testing.T) {
	started := false
	stopped := false
	svc := &FuncService{
		StartFn: func() error { started = true; return nil },
		StopFn:  func() { stopped = true },
	}

	require.NoError(t, svc.Start())
	svc.Stop()
	assert.True(t, started)
	assert.True(t, stopped)
}
