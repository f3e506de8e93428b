package tillsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/blnkfinance/tillsync/config"
	"github.com/blnkfinance/tillsync/model"
)

func TestRetryPolicy_Delay(t *testing.T) {
	r := newRetryPolicy(config.SyncConfig{RetryInitialSec: 30, RetryMaxSec: 600, MaxAttempts: 10})

	assert.Equal(t, time.Duration(0), r.delay(0))
	assert.Equal(t, 30*time.Second, r.delay(1))
	assert.Equal(t, 60*time.Second, r.delay(2))
	assert.Equal(t, 120*time.Second, r.delay(3))
	assert.Equal(t, 480*time.Second, r.delay(5))
	assert.Equal(t, 600*time.Second, r.delay(6))
	assert.Equal(t, 600*time.Second, r.delay(9))
}

func TestRetryPolicy_Eligible(t *testing.T) {
	r := newRetryPolicy(config.SyncConfig{RetryInitialSec: 30, RetryMaxSec: 600, MaxAttempts: 3})
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ago := func(d time.Duration) *time.Time {
		at := now.Add(-d)
		return &at
	}

	tests := []struct {
		name  string
		order model.OfflineOrder
		want  bool
	}{
		{"pending is never held back", model.OfflineOrder{SyncStatus: model.StatusPending, SyncAttempts: 9}, true},
		{"failed inside backoff", model.OfflineOrder{SyncStatus: model.StatusFailed, SyncAttempts: 1, LastSyncAttempt: ago(10 * time.Second)}, false},
		{"failed after backoff", model.OfflineOrder{SyncStatus: model.StatusFailed, SyncAttempts: 1, LastSyncAttempt: ago(30 * time.Second)}, true},
		{"second failure waits longer", model.OfflineOrder{SyncStatus: model.StatusFailed, SyncAttempts: 2, LastSyncAttempt: ago(45 * time.Second)}, false},
		{"failed past the cap", model.OfflineOrder{SyncStatus: model.StatusFailed, SyncAttempts: 3, LastSyncAttempt: ago(time.Hour)}, false},
		{"failed without attempt time", model.OfflineOrder{SyncStatus: model.StatusFailed, SyncAttempts: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.eligible(&tt.order, now))
		})
	}
}

func TestRetryPolicy_Disabled(t *testing.T) {
	r := newRetryPolicy(config.SyncConfig{RetryInitialSec: 30, RetryMaxSec: 600, DisableAutoRetry: true})
	failed := &model.OfflineOrder{SyncStatus: model.StatusFailed, SyncAttempts: 1}

	assert.False(t, r.eligible(failed, time.Now()))
	assert.True(t, r.nextAttemptAt(failed).IsZero())
}

func TestRetryPolicy_NextAttemptAt(t *testing.T) {
	r := newRetryPolicy(config.SyncConfig{RetryInitialSec: 30, RetryMaxSec: 600, MaxAttempts: 5})
	last := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	o := &model.OfflineOrder{SyncStatus: model.StatusFailed, SyncAttempts: 2, LastSyncAttempt: &last}
	assert.Equal(t, last.Add(time.Minute), r.nextAttemptAt(o))

	o.SyncAttempts = 5
	assert.True(t, r.nextAttemptAt(o).IsZero())
}
