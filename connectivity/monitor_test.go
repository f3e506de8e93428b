package connectivity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProber struct {
	calls atomic.Int32
	mu    sync.Mutex
	err   error
	delay time.Duration
}

func (s *stubProber) Ping(ctx context.Context) error {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stubProber) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func TestCheckConnection_OnlineAndOffline(t *testing.T) {
	p := &stubProber{}
	m := New(p, Options{})

	assert.False(t, m.IsOnline())
	assert.True(t, m.IsStale(time.Minute))

	assert.True(t, m.CheckConnection(context.Background()))
	assert.True(t, m.IsOnline())
	assert.False(t, m.IsStale(time.Minute))
	assert.False(t, m.LastChecked().IsZero())

	p.fail(errors.New("connection refused"))
	assert.False(t, m.CheckConnection(context.Background()))
	assert.False(t, m.IsOnline())
}

func TestCheckConnection_TimeoutMeansOffline(t *testing.T) {
	p := &stubProber{delay: time.Second}
	m := New(p, Options{ProbeTimeout: 20 * time.Millisecond})

	start := time.Now()
	assert.False(t, m.CheckConnection(context.Background()))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestCheckConnection_ProberPanicMeansOffline(t *testing.T) {
	m := New(ProberFunc(func(ctx context.Context) error { panic("bad response") }), Options{})
	assert.False(t, m.CheckConnection(context.Background()))
}

func TestCheckConnection_DeduplicatesConcurrentProbes(t *testing.T) {
	p := &stubProber{delay: 100 * time.Millisecond}
	m := New(p, Options{})

	var wg sync.WaitGroup
	results := make([]bool, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.CheckConnection(context.Background())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), p.calls.Load())
	for _, r := range results {
		assert.True(t, r)
	}
}

func TestListeners_FireOnlyOnChange(t *testing.T) {
	p := &stubProber{}
	m := New(p, Options{})

	var events []bool
	m.AddListener(func(online bool) { events = append(events, online) })

	m.CheckConnection(context.Background())
	m.CheckConnection(context.Background())
	p.fail(errors.New("down"))
	m.CheckConnection(context.Background())
	m.CheckConnection(context.Background())

	assert.Equal(t, []bool{true, false}, events)
}

func TestListeners_PanicDoesNotStopOthers(t *testing.T) {
	m := New(&stubProber{}, Options{})

	var second bool
	m.AddListener(func(bool) { panic("listener blew up") })
	m.AddListener(func(online bool) { second = online })

	assert.NotPanics(t, func() { m.CheckConnection(context.Background()) })
	assert.True(t, second)
}

func TestRemoveListener(t *testing.T) {
	p := &stubProber{}
	m := New(p, Options{})

	var calls int
	id := m.AddListener(func(bool) { calls++ })
	m.RemoveListener(id)
	m.RemoveListener(id)

	m.CheckConnection(context.Background())
	assert.Equal(t, 0, calls)
}

func TestStartPeriodicCheck(t *testing.T) {
	p := &stubProber{}
	m := New(p, Options{})

	m.StartPeriodicCheck(10 * time.Millisecond)
	require.Eventually(t, func() bool { return p.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	m.Stop()

	after := p.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, p.calls.Load())
	assert.True(t, m.IsOnline())
}

func TestStart_StopsWithContext(t *testing.T) {
	p := &stubProber{}
	m := New(p, Options{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	require.Eventually(t, m.IsOnline, time.Second, 5*time.Millisecond)
	cancel()
	m.Stop()
}

func TestDefaultSingleton(t *testing.T) {
	Teardown()
	assert.Nil(t, Default())

	first := Init(&stubProber{}, Options{})
	assert.Same(t, first, Default())

	second := Init(&stubProber{}, Options{})
	assert.NotSame(t, first, second)
	assert.Same(t, second, Default())

	Teardown()
	assert.Nil(t, Default())
}
