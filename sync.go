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

package tillsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/blnkfinance/tillsync/internal/apierror"
	redlock "github.com/blnkfinance/tillsync/internal/lock"
	"github.com/blnkfinance/tillsync/internal/notification"
	"github.com/blnkfinance/tillsync/model"
	"github.com/blnkfinance/tillsync/wire"
)

var tracer = otel.Tracer("tillsync.sync")

// eligibleStatuses are the statuses a batch sync picks up.
var eligibleStatuses = []model.SyncStatus{model.StatusDraft, model.StatusPending, model.StatusFailed}

// settleAttempts bounds how often a status change is replayed after losing
// a compare-and-swap to a writer that kept the status.
const settleAttempts = 3

// SaveOrder builds the payload for a paid sale and stores it as a draft.
// Validation errors are returned before anything is stored.
func (s *TillSync) SaveOrder(ctx context.Context, in wire.BuildInput) (*model.OfflineOrder, error) {
	payload, err := wire.BuildOrder(in)
	if err != nil {
		return nil, err
	}
	order, err := s.datasource.SaveOrder(ctx, &model.OfflineOrder{OrderID: payload.OrderID, OrderPayload: *payload})
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"local_id": order.LocalID, "order_id": order.OrderID}).Info("order saved")
	return order, nil
}

// FinalizeOrder moves a draft to pending so the sync engine owns it.
// Finalizing an order that is already past draft is a no-op.
func (s *TillSync) FinalizeOrder(ctx context.Context, localID string) (*model.OfflineOrder, error) {
	order, err := s.datasource.GetOrderByID(ctx, localID)
	if err != nil {
		return nil, err
	}
	if order.SyncStatus != model.StatusDraft {
		return order, nil
	}
	next, err := s.settle(ctx, order, model.StatusDraft, func(o *model.OfflineOrder) error {
		return o.Transition(model.StatusPending)
	})
	if err != nil {
		if apierror.HasCode(err, apierror.ErrRaceSkipped) {
			return s.datasource.GetOrderByID(ctx, localID)
		}
		return nil, err
	}
	return next, nil
}

// ForceResync is the recovery action for a stuck order. A failed order goes
// back to pending whatever its retry schedule says. A synced order is
// resubmitted right away for reconciliation; its idempotency token keeps
// the ledger from recording it twice.
func (s *TillSync) ForceResync(ctx context.Context, localID string) (*model.OfflineOrder, error) {
	order, err := s.datasource.GetOrderByID(ctx, localID)
	if err != nil {
		return nil, err
	}

	switch order.SyncStatus {
	case model.StatusFailed:
		return s.settle(ctx, order, model.StatusFailed, func(o *model.OfflineOrder) error {
			return o.Transition(model.StatusPending)
		})
	case model.StatusSynced:
		res := s.SyncOrder(ctx, localID, true)
		if !res.Success && !res.Skipped {
			return nil, apierror.NewAPIError(apierror.ErrRemoteRejected, res.Error, nil)
		}
		return s.datasource.GetOrderByID(ctx, localID)
	case model.StatusPending:
		return order, nil
	default:
		return nil, apierror.NewAPIError(apierror.ErrConflict,
			fmt.Sprintf("order %s is %s and cannot be resynced", localID, order.SyncStatus), nil)
	}
}

// OrderNeedsSync is the pure eligibility predicate: pending and failed
// orders need a sync, a synced order only when force is set.
func OrderNeedsSync(o *model.OfflineOrder, force bool) bool {
	switch o.SyncStatus {
	case model.StatusPending, model.StatusFailed:
		return true
	case model.StatusSynced:
		return force
	default:
		return false
	}
}

// NeedsSync loads the order and applies OrderNeedsSync.
func (s *TillSync) NeedsSync(ctx context.Context, localID string, force bool) (bool, error) {
	order, err := s.datasource.GetOrderByID(ctx, localID)
	if err != nil {
		return false, err
	}
	return OrderNeedsSync(order, force), nil
}

// ensureOnline trusts a recent probe and re-probes a stale one.
func (s *TillSync) ensureOnline(ctx context.Context) bool {
	if s.monitor.IsOnline() && !s.monitor.IsStale(s.cfg.Sync.StaleAfter()) {
		return true
	}
	return s.monitor.CheckConnection(ctx)
}

func (s *TillSync) lockOrder(ctx context.Context, localID string) (func(), error) {
	if s.redis == nil {
		return func() {}, nil
	}
	locker := redlock.NewLocker(s.redis, redlock.OrderLockKey(localID), s.owner)
	if err := locker.Lock(ctx, s.cfg.Sync.LockTTL()); err != nil {
		if errors.Is(err, redlock.ErrLockHeld) {
			return nil, err
		}
		// the CAS on the store still guards the transition
		logrus.WithError(err).Warn("order lock unavailable, relying on store compare-and-swap")
		return func() {}, nil
	}
	return func() {
		if err := locker.Unlock(context.WithoutCancel(ctx)); err != nil {
			logrus.WithError(err).WithField("local_id", localID).Warn("order lock release failed")
		}
	}, nil
}

// settle stores change applied to order while the persisted record is still
// in status from. When another writer moved the record on without leaving
// from, change is replayed on a fresh read so that writer's fields survive.
func (s *TillSync) settle(ctx context.Context, order *model.OfflineOrder, from model.SyncStatus, change func(*model.OfflineOrder) error) (*model.OfflineOrder, error) {
	current := order
	for attempt := 1; ; attempt++ {
		next := current.Clone()
		if err := change(next); err != nil {
			return nil, err
		}
		err := s.datasource.CompareAndSwapOrder(ctx, next, from)
		if err == nil {
			return next, nil
		}
		if !apierror.HasCode(err, apierror.ErrRaceSkipped) || attempt >= settleAttempts {
			return nil, err
		}
		current, err = s.datasource.GetOrderByID(ctx, order.LocalID)
		if err != nil {
			return nil, err
		}
		if current.SyncStatus != from {
			return nil, apierror.NewAPIError(apierror.ErrRaceSkipped,
				fmt.Sprintf("order %s is %s, expected %s", order.LocalID, current.SyncStatus, from), nil)
		}
	}
}

// SyncOrder drives one order through syncing to synced or failed. It never
// returns an error: every outcome is described by the result.
func (s *TillSync) SyncOrder(ctx context.Context, localID string, force bool) model.SyncResult {
	ctx, span := tracer.Start(ctx, "SyncOrder")
	defer span.End()
	span.SetAttributes(attribute.String("local_id", localID), attribute.Bool("force", force))

	result := model.SyncResult{LocalID: localID}

	if !s.ensureOnline(ctx) {
		result.Skipped = true
		result.Reason = model.ReasonOffline
		result.Error = "ledger is unreachable"
		return result
	}

	unlock, err := s.lockOrder(ctx, localID)
	if err != nil {
		result.Skipped = true
		result.Reason = model.ReasonLocked
		return result
	}
	defer unlock()

	order, err := s.datasource.GetOrderByID(ctx, localID)
	if err != nil {
		if apierror.HasCode(err, apierror.ErrNotFound) {
			result.Skipped = true
			result.Reason = model.ReasonNotFound
		}
		result.Error = apierror.Message(err)
		return result
	}
	result.OrderID = order.OrderID
	result.Status = order.SyncStatus

	if !OrderNeedsSync(order, force) {
		result.Skipped = true
		result.Reason = model.ReasonNotEligible
		result.Success = order.SyncStatus == model.StatusSynced
		result.ServerOrderID = order.ServerOrderID
		return result
	}

	if order.SyncStatus == model.StatusSynced {
		return s.reconcileSynced(ctx, order, result)
	}

	now := s.now()
	syncing, err := s.settle(ctx, order, order.SyncStatus, func(o *model.OfflineOrder) error {
		if err := o.Transition(model.StatusSyncing); err != nil {
			return err
		}
		o.SyncAttempts++
		o.LastSyncAttempt = &now
		if o.IsRefund {
			wire.NormalizeRefund(&o.OrderPayload)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, model.ErrInvalidTransition) {
			result.Skipped = true
			result.Reason = model.ReasonNotEligible
			return result
		}
		if apierror.HasCode(err, apierror.ErrRaceSkipped) {
			result.Skipped = true
			result.Reason = model.ReasonRaceSkipped
			return result
		}
		result.Error = apierror.Message(err)
		return result
	}
	result.Status = model.StatusSyncing

	commit, err := s.committer.Commit(ctx, &syncing.OrderPayload)
	if err != nil {
		span.RecordError(err)
		return s.markFailed(ctx, syncing, err, result)
	}
	return s.markSynced(ctx, syncing, commit, result)
}

func (s *TillSync) markFailed(ctx context.Context, syncing *model.OfflineOrder, cause error, result model.SyncResult) model.SyncResult {
	result.Error = apierror.Message(cause)
	failed, err := s.settle(ctx, syncing, model.StatusSyncing, func(o *model.OfflineOrder) error {
		if err := o.Transition(model.StatusFailed); err != nil {
			return err
		}
		o.Error = result.Error
		return nil
	})
	if err != nil {
		logrus.WithError(err).WithField("local_id", syncing.LocalID).Error("could not record failed sync")
		return result
	}
	result.Status = model.StatusFailed

	logrus.WithFields(logrus.Fields{
		"local_id": failed.LocalID,
		"order_id": failed.OrderID,
		"attempts": failed.SyncAttempts,
	}).Warnf("order sync failed: %s", failed.Error)
	if !apierror.HasCode(cause, apierror.ErrConnectivity) {
		notification.NotifyError(fmt.Errorf("order %s failed to sync: %s", failed.OrderID, failed.Error))
	}
	s.emit(EventOrderFailed, failed)
	return result
}

func (s *TillSync) markSynced(ctx context.Context, syncing *model.OfflineOrder, commit *wire.CommitResult, result model.SyncResult) model.SyncResult {
	now := s.now()
	synced, err := s.settle(ctx, syncing, model.StatusSyncing, func(o *model.OfflineOrder) error {
		if err := o.Transition(model.StatusSynced); err != nil {
			return err
		}
		o.ServerOrderID = commit.ServerOrderID
		o.SyncDate = &now
		o.Error = ""
		return nil
	})
	if err != nil {
		// the ledger has the order; recovery retries it and the token dedupes
		result.Error = "ledger accepted the order but it could not be marked synced: " + apierror.Message(err)
		logrus.WithError(err).WithField("local_id", syncing.LocalID).Error("could not record synced order")
		return result
	}

	result.Success = true
	result.Status = model.StatusSynced
	result.ServerOrderID = synced.ServerOrderID
	result.Warning = commit.Warning
	logrus.WithFields(logrus.Fields{"local_id": synced.LocalID, "server_order_id": synced.ServerOrderID}).Info("order synced")
	s.emit(EventOrderSynced, synced)

	if synced.IsRefund {
		s.tagOriginal(ctx, synced)
	}
	return result
}

// reconcileSynced resubmits an already synced order on request. The order
// stays synced; a failure is reported without moving it.
func (s *TillSync) reconcileSynced(ctx context.Context, order *model.OfflineOrder, result model.SyncResult) model.SyncResult {
	payload := order.OrderPayload
	if order.IsRefund {
		wire.NormalizeRefund(&payload)
	}
	commit, err := s.committer.Commit(ctx, &payload)
	if err != nil {
		result.Error = apierror.Message(err)
		_, err := s.settle(ctx, order, model.StatusSynced, func(o *model.OfflineOrder) error {
			o.Error = result.Error
			return nil
		})
		if err != nil {
			logrus.WithError(err).WithField("local_id", order.LocalID).Warn("could not record resync error")
		}
		return result
	}

	now := s.now()
	next, err := s.settle(ctx, order, model.StatusSynced, func(o *model.OfflineOrder) error {
		o.SyncDate = &now
		o.Error = ""
		if commit.ServerOrderID != "" {
			o.ServerOrderID = commit.ServerOrderID
		}
		return nil
	})
	if err != nil {
		result.Error = apierror.Message(err)
		return result
	}
	result.Success = true
	result.ServerOrderID = next.ServerOrderID
	result.Warning = commit.Warning
	return result
}

// SyncAllPending pushes every eligible order to the ledger, oldest first
// and one at a time. Drafts are finalized on the way.
func (s *TillSync) SyncAllPending(ctx context.Context) model.BatchResult {
	ctx, span := tracer.Start(ctx, "SyncAllPending")
	defer span.End()

	batch := model.BatchResult{Details: []model.SyncResult{}}

	if !s.batchMu.TryLock() {
		batch.Reason = model.ReasonInProgress
		return batch
	}
	defer s.batchMu.Unlock()

	if !s.ensureOnline(ctx) {
		batch.Reason = model.ReasonOffline
		return batch
	}

	s.RecoverInterruptedSyncs(ctx)

	orders, err := s.datasource.GetOrdersByStatus(ctx, eligibleStatuses...)
	if err != nil {
		span.RecordError(err)
		batch.Reason = model.ReasonStorage
		return batch
	}

	now := s.now()
	for _, order := range orders {
		if !s.retry.eligible(order, now) {
			batch.Deferred++
			logrus.WithFields(logrus.Fields{
				"local_id":   order.LocalID,
				"attempts":   order.SyncAttempts,
				"next_retry": s.retry.nextAttemptAt(order),
			}).Debug("failed order deferred")
			continue
		}

		if order.SyncStatus == model.StatusDraft {
			finalized, err := s.FinalizeOrder(ctx, order.LocalID)
			if err != nil || !OrderNeedsSync(finalized, false) {
				batch.Skipped++
				continue
			}
		}

		res := s.SyncOrder(ctx, order.LocalID, false)
		if res.Skipped {
			batch.Skipped++
			continue
		}
		batch.Total++
		if res.Success {
			batch.Successful++
		} else {
			batch.Failed++
		}
		batch.Details = append(batch.Details, res)
	}

	if batch.Total == 0 && batch.Skipped == 0 && batch.Deferred == 0 {
		batch.Reason = model.ReasonNothingToDo
	}

	span.SetAttributes(
		attribute.Int("total", batch.Total),
		attribute.Int("successful", batch.Successful),
		attribute.Int("failed", batch.Failed),
	)
	if batch.Total > 0 {
		logrus.WithFields(logrus.Fields{
			"total":      batch.Total,
			"successful": batch.Successful,
			"failed":     batch.Failed,
			"skipped":    batch.Skipped,
			"deferred":   batch.Deferred,
		}).Info("batch sync completed")
		s.emit(EventBatchCompleted, batch)
	}
	return batch
}

// CheckAndSyncIfOnline is the background driver's step: nothing to do
// while no order is ready, nothing possible without the ledger. Failed
// orders still backing off or past the attempt cap do not wake the ledger.
func (s *TillSync) CheckAndSyncIfOnline(ctx context.Context) model.BatchResult {
	ready, deferred, err := s.readyOrderCount(ctx)
	if err != nil {
		return model.BatchResult{Reason: model.ReasonStorage, Details: []model.SyncResult{}}
	}
	if ready == 0 {
		return model.BatchResult{Reason: model.ReasonNothingToDo, Deferred: deferred, Details: []model.SyncResult{}}
	}
	if !s.monitor.CheckConnection(ctx) {
		return model.BatchResult{Reason: model.ReasonOffline, Details: []model.SyncResult{}}
	}
	return s.SyncAllPending(ctx)
}

// readyOrderCount splits unsynced orders into those a batch would push now
// and failed ones the retry policy holds back.
func (s *TillSync) readyOrderCount(ctx context.Context) (ready, deferred int, err error) {
	ready, err = s.datasource.CountOrdersByStatus(ctx, model.StatusDraft, model.StatusPending)
	if err != nil || ready > 0 {
		return ready, 0, err
	}
	failed, err := s.datasource.GetOrdersByStatus(ctx, model.StatusFailed)
	if err != nil {
		return 0, 0, err
	}
	now := s.now()
	for _, order := range failed {
		if s.retry.eligible(order, now) {
			ready++
		} else {
			deferred++
		}
	}
	return ready, deferred, nil
}

// GetPendingOrdersCount counts orders the ledger has not acknowledged yet.
func (s *TillSync) GetPendingOrdersCount(ctx context.Context) (int, error) {
	return s.datasource.CountOrdersByStatus(ctx, eligibleStatuses...)
}

func (s *TillSync) GetPendingOrders(ctx context.Context) ([]*model.OfflineOrder, error) {
	return s.datasource.GetOrdersByStatus(ctx, eligibleStatuses...)
}

// RecoverInterruptedSyncs fails orders left in syncing by a process that
// died mid-flight, so the retry path picks them up again.
func (s *TillSync) RecoverInterruptedSyncs(ctx context.Context) int {
	stuck, err := s.datasource.GetStuckSyncingOrders(ctx, s.now().Add(-s.cfg.Sync.StuckSyncingAfter()))
	if err != nil {
		logrus.WithError(err).Warn("could not look for interrupted syncs")
		return 0
	}
	recovered := 0
	for _, order := range stuck {
		failed := order.Clone()
		if err := failed.Transition(model.StatusFailed); err != nil {
			continue
		}
		failed.Error = "interrupted sync"
		if err := s.datasource.CompareAndSwapOrder(ctx, failed, model.StatusSyncing); err != nil {
			continue
		}
		recovered++
		logrus.WithField("local_id", order.LocalID).Warn("recovered interrupted sync")
	}
	return recovered
}

func (s *TillSync) GetOrder(ctx context.Context, localID string) (*model.OfflineOrder, error) {
	return s.datasource.GetOrderByID(ctx, localID)
}

// ListOrders returns every order, or only those in the given statuses.
func (s *TillSync) ListOrders(ctx context.Context, statuses ...model.SyncStatus) ([]*model.OfflineOrder, error) {
	if len(statuses) == 0 {
		return s.datasource.GetAllOrders(ctx)
	}
	return s.datasource.GetOrdersByStatus(ctx, statuses...)
}

// PurgeSyncedOrder is the explicit cleanup action. Only orders the ledger
// has acknowledged can be removed.
func (s *TillSync) PurgeSyncedOrder(ctx context.Context, localID string) error {
	order, err := s.datasource.GetOrderByID(ctx, localID)
	if err != nil {
		return err
	}
	if order.SyncStatus != model.StatusSynced {
		return apierror.NewAPIError(apierror.ErrConflict,
			fmt.Sprintf("order %s is %s; only synced orders can be removed", localID, order.SyncStatus), nil)
	}
	return s.datasource.DeleteOrder(ctx, localID)
}
