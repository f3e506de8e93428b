package tillsync

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/blnkfinance/tillsync/config"
	"github.com/blnkfinance/tillsync/model"
)

// retryPolicy decides when a failed order becomes eligible for another
// automatic attempt.
type retryPolicy struct {
	initial     time.Duration
	max         time.Duration
	maxAttempts int
	disabled    bool
}

func newRetryPolicy(cfg config.SyncConfig) retryPolicy {
	return retryPolicy{
		initial:     cfg.RetryInitial(),
		max:         cfg.RetryMax(),
		maxAttempts: cfg.MaxAttempts,
		disabled:    cfg.DisableAutoRetry,
	}
}

// delay is the wait after the given number of failed attempts: initial,
// then doubling, capped at max.
func (r retryPolicy) delay(attempts int) time.Duration {
	if attempts <= 0 || r.initial <= 0 {
		return 0
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initial
	b.MaxInterval = r.max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	var d time.Duration
	for i := 0; i < attempts; i++ {
		d = b.NextBackOff()
	}
	return d
}

// eligible reports whether an order may be picked up by the batch sync now.
// Only failed orders are ever held back.
func (r retryPolicy) eligible(o *model.OfflineOrder, now time.Time) bool {
	if o.SyncStatus != model.StatusFailed {
		return true
	}
	if r.disabled {
		return false
	}
	if r.maxAttempts > 0 && o.SyncAttempts >= r.maxAttempts {
		return false
	}
	if o.LastSyncAttempt == nil {
		return true
	}
	return !now.Before(o.LastSyncAttempt.Add(r.delay(o.SyncAttempts)))
}

// nextAttemptAt is when a failed order will next be retried automatically,
// zero when it will not be.
func (r retryPolicy) nextAttemptAt(o *model.OfflineOrder) time.Time {
	if o.SyncStatus != model.StatusFailed || r.disabled {
		return time.Time{}
	}
	if r.maxAttempts > 0 && o.SyncAttempts >= r.maxAttempts {
		return time.Time{}
	}
	if o.LastSyncAttempt == nil {
		return time.Now().UTC()
	}
	return o.LastSyncAttempt.Add(r.delay(o.SyncAttempts))
}
