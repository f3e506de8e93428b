package tillsync

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/tillsync/connectivity"
)

// driver runs SyncAllPending on a timer and whenever the ledger comes back.
type driver struct {
	tillsync *TillSync
	interval time.Duration
	stopCh   chan struct{}
	trigger  chan struct{}
	listener connectivity.ListenerID
	done     chan struct{}
	running  bool
	mu       sync.Mutex
}

const defaultSyncInterval = 30 * time.Second

func newDriver(s *TillSync, interval time.Duration) *driver {
	if interval <= 0 {
		interval = defaultSyncInterval
	}
	return &driver{
		tillsync: s,
		interval: interval,
		trigger:  make(chan struct{}, 1),
	}
}

// StartBackgroundSync recovers syncs interrupted by a previous process and
// then keeps draining the queue until Stop is called or ctx ends. Calling it
// while the driver is running does nothing.
func (s *TillSync) StartBackgroundSync(ctx context.Context) {
	s.driverMu.Lock()
	if s.driver == nil {
		s.driver = newDriver(s, s.cfg.Sync.Interval())
	}
	d := s.driver
	s.driverMu.Unlock()
	d.start(ctx)
}

// Stop halts background sync and waits for an in-flight batch to finish.
func (s *TillSync) Stop() {
	s.driverMu.Lock()
	d := s.driver
	s.driverMu.Unlock()
	if d != nil {
		d.stop()
	}
}

func (d *driver) start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true
	stopCh := make(chan struct{})
	d.stopCh = stopCh
	d.listener = d.tillsync.monitor.AddListener(func(online bool) {
		if !online {
			return
		}
		select {
		case d.trigger <- struct{}{}:
		default:
		}
	})

	done := make(chan struct{})
	d.done = done
	go func() {
		defer close(done)
		if n := d.tillsync.RecoverInterruptedSyncs(ctx); n > 0 {
			logrus.Infof("recovered %d interrupted syncs", n)
		}
		d.run(ctx, stopCh)
		d.exited(stopCh)
	}()
	logrus.WithField("interval", d.interval.String()).Info("background sync started")
}

func (d *driver) stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.stopCh)
	listener, done := d.listener, d.done
	d.mu.Unlock()

	d.tillsync.monitor.RemoveListener(listener)
	<-done
	logrus.Info("background sync stopped")
}

// exited marks the driver stopped when its run loop ended on its own
// because the start context was done.
func (d *driver) exited(stopCh chan struct{}) {
	d.mu.Lock()
	if !d.running || d.stopCh != stopCh {
		d.mu.Unlock()
		return
	}
	d.running = false
	listener := d.listener
	d.mu.Unlock()

	d.tillsync.monitor.RemoveListener(listener)
	logrus.Info("background sync ended with its context")
}

func (d *driver) isRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *driver) run(ctx context.Context, stopCh <-chan struct{}) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.step(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			d.step(ctx)
		case <-d.trigger:
			logrus.Info("ledger reachable again, syncing queued orders")
			d.step(ctx)
		}
	}
}

func (d *driver) step(ctx context.Context) {
	res := d.tillsync.CheckAndSyncIfOnline(ctx)
	if res.Failed > 0 {
		logrus.WithFields(logrus.Fields{"failed": res.Failed, "total": res.Total}).Warn("background sync finished with failures")
	}
}
