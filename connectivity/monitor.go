/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package connectivity tracks whether the remote order ledger is reachable.
package connectivity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultProbeTimeout = 3 * time.Second
	probeKey            = "probe"
)

// Prober issues one side-effect free liveness request against the ledger.
type Prober interface {
	Ping(ctx context.Context) error
}

// ProberFunc adapts a plain function to Prober.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Ping(ctx context.Context) error { return f(ctx) }

// Listener is told the new reachability after every state change.
type Listener func(online bool)

// ListenerID identifies a registered listener for removal.
type ListenerID uint64

type Options struct {
	// ProbeTimeout bounds a single probe. It should stay well below the
	// order submission timeout.
	ProbeTimeout time.Duration
	// Interval is used by Start for the periodic check. Zero disables it.
	Interval time.Duration
}

type listenerEntry struct {
	id ListenerID
	fn Listener
}

// Monitor owns the connectivity state of one process. Concurrent checks
// share a single in-flight probe.
type Monitor struct {
	prober  Prober
	timeout time.Duration
	opts    Options
	group   singleflight.Group

	mu          sync.RWMutex
	online      bool
	lastChecked time.Time
	listeners   []listenerEntry
	nextID      ListenerID

	loopMu   sync.Mutex
	stopLoop context.CancelFunc
	loopDone chan struct{}
}

func New(prober Prober, opts Options) *Monitor {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	return &Monitor{prober: prober, timeout: opts.ProbeTimeout, opts: opts}
}

// Start runs an immediate check and then the periodic check configured in
// the options until ctx is done or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	if m.opts.Interval <= 0 {
		m.CheckConnection(ctx)
		return
	}
	m.startLoop(ctx, m.opts.Interval)
}

// StartPeriodicCheck replaces any running periodic check with one at the
// given interval.
func (m *Monitor) StartPeriodicCheck(interval time.Duration) {
	if interval <= 0 {
		return
	}
	m.startLoop(context.Background(), interval)
}

func (m *Monitor) startLoop(parent context.Context, interval time.Duration) {
	m.Stop()

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	m.loopMu.Lock()
	m.stopLoop = cancel
	m.loopDone = done
	m.loopMu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		m.CheckConnection(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CheckConnection(ctx)
			}
		}
	}()
}

// Stop ends the periodic check and waits for it to exit.
func (m *Monitor) Stop() {
	m.loopMu.Lock()
	cancel, done := m.stopLoop, m.loopDone
	m.stopLoop, m.loopDone = nil, nil
	m.loopMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// CheckConnection probes the ledger and returns the resulting state. A
// caller arriving while a probe is in flight waits for that probe.
func (m *Monitor) CheckConnection(ctx context.Context) bool {
	ch := m.group.DoChan(probeKey, func() (interface{}, error) {
		return m.probe(context.WithoutCancel(ctx)), nil
	})
	select {
	case res := <-ch:
		return res.Val.(bool)
	case <-ctx.Done():
		return m.IsOnline()
	}
}

func (m *Monitor) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	online := true
	if err := m.safePing(ctx); err != nil {
		logrus.WithError(err).Debug("connectivity probe failed")
		online = false
	}
	m.setOnline(online)
	return online
}

func (m *Monitor) safePing(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()
	if m.prober == nil {
		return fmt.Errorf("no prober configured")
	}
	return m.prober.Ping(ctx)
}

func (m *Monitor) setOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.lastChecked = time.Now()
	var listeners []listenerEntry
	if changed {
		listeners = append(listeners, m.listeners...)
	}
	m.mu.Unlock()

	if changed {
		logrus.WithField("online", online).Info("ledger connectivity changed")
		for _, l := range listeners {
			notify(l, online)
		}
	}
}

func notify(l listenerEntry, online bool) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("listener", l.id).Errorf("connectivity listener panicked: %v", r)
		}
	}()
	l.fn(online)
}

func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// LastChecked is the completion time of the latest probe, zero if none ran.
func (m *Monitor) LastChecked() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastChecked
}

// IsStale reports whether the last probe is older than maxAge.
func (m *Monitor) IsStale(maxAge time.Duration) bool {
	last := m.LastChecked()
	return last.IsZero() || time.Since(last) > maxAge
}

// AddListener registers fn and returns the id used to remove it.
func (m *Monitor) AddListener(fn Listener) ListenerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.listeners = append(m.listeners, listenerEntry{id: m.nextID, fn: fn})
	return m.nextID
}

func (m *Monitor) RemoveListener(id ListenerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.listeners {
		if l.id == id {
			m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
			return
		}
	}
}

var (
	defaultMu      sync.Mutex
	defaultMonitor *Monitor
)

// Init creates the process-wide monitor. Calling it again replaces and stops
// the previous one.
func Init(prober Prober, opts Options) *Monitor {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultMonitor != nil {
		defaultMonitor.Stop()
	}
	defaultMonitor = New(prober, opts)
	return defaultMonitor
}

// Default returns the process-wide monitor, or nil before Init.
func Default() *Monitor {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultMonitor
}

// Teardown stops and forgets the process-wide monitor.
func Teardown() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultMonitor != nil {
		defaultMonitor.Stop()
		defaultMonitor = nil
	}
}
