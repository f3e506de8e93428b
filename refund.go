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
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/tillsync/internal/apierror"
	"github.com/blnkfinance/tillsync/model"
	"github.com/blnkfinance/tillsync/wire"
)

// tagAttempts bounds how often a tag is retried when a concurrent writer
// replaced the original between read and write.
const tagAttempts = 3

// RefundDetails describes one refund to record against an original order.
type RefundDetails struct {
	RefundOrderID string               `json:"refund_order_id"`
	Amount        decimal.Decimal      `json:"amount"`
	Date          time.Time            `json:"date"`
	Lines         []model.RefundedLine `json:"lines,omitempty"`
}

// RefundInfo is the refund view of an order.
type RefundInfo struct {
	LocalID            string                     `json:"local_id"`
	OrderID            string                     `json:"order_id"`
	IsRefund           bool                       `json:"is_refund"`
	HasBeenRefunded    bool                       `json:"has_been_refunded"`
	TotalRefunded      decimal.Decimal            `json:"total_refunded"`
	RefundedQuantities map[string]decimal.Decimal `json:"refunded_quantities"`
	RefundHistory      []model.RefundRecord       `json:"refund_history"`
}

func (s *TillSync) findOriginal(ctx context.Context, id string) (*model.OfflineOrder, error) {
	order, err := s.datasource.GetOrderByID(ctx, id)
	if err == nil {
		return order, nil
	}
	if !apierror.HasCode(err, apierror.ErrNotFound) {
		return nil, err
	}
	return s.datasource.FindOrderByBusinessID(ctx, id)
}

// TagOrderAsRefunded records a refund against the original order, found by
// local id or by business id. An unknown original is not an error: the
// refund may target a sale rung up on another till.
func (s *TillSync) TagOrderAsRefunded(ctx context.Context, originalID string, details RefundDetails) (*model.OfflineOrder, error) {
	if details.Date.IsZero() {
		details.Date = s.now()
	}

	var lastErr error
	for attempt := 0; attempt < tagAttempts; attempt++ {
		original, err := s.findOriginal(ctx, originalID)
		if err != nil {
			if apierror.HasCode(err, apierror.ErrNotFound) {
				logrus.WithField("original_id", originalID).Warn("refunded order not found locally")
				return nil, nil
			}
			return nil, err
		}

		for _, record := range original.RefundHistory {
			if record.RefundOrderID == details.RefundOrderID {
				return original, nil
			}
		}

		tagged := original.Clone()
		first := !tagged.HasBeenRefunded
		tagged.RefundHistory = append(tagged.RefundHistory, model.RefundRecord{
			RefundOrderID: details.RefundOrderID,
			RefundDate:    details.Date,
			RefundAmount:  details.Amount.Abs(),
			Lines:         details.Lines,
		})
		tagged.HasBeenRefunded = true
		if first {
			history, err := json.Marshal(tagged.RefundHistory)
			if err != nil {
				return nil, err
			}
			tagged.OrderPayload.HasBeenRefunded = true
			tagged.OrderPayload.RefundHistory = history
		}

		err = s.datasource.CompareAndSwapOrder(ctx, tagged, original.SyncStatus)
		if err == nil {
			s.emit(EventOrderRefunded, tagged)
			return tagged, nil
		}
		if !apierror.HasCode(err, apierror.ErrRaceSkipped) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// tagOriginal links a refund the ledger just accepted to its original.
// Failing to tag does not undo the sync.
func (s *TillSync) tagOriginal(ctx context.Context, refund *model.OfflineOrder) {
	originalID := refund.OrderPayload.RefundedOrderID
	if originalID == "" {
		return
	}
	details := RefundDetails{
		RefundOrderID: refund.OrderID,
		Amount:        refund.OrderPayload.Total.Abs(),
		Date:          s.now(),
		Lines:         wire.RefundedLines(&refund.OrderPayload),
	}
	if _, err := s.TagOrderAsRefunded(ctx, originalID, details); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"refund_id":   refund.OrderID,
			"original_id": originalID,
		}).Error("could not tag refunded order")
	}
}

func (s *TillSync) GetOrderRefundInfo(ctx context.Context, id string) (*RefundInfo, error) {
	order, err := s.findOriginal(ctx, id)
	if err != nil {
		return nil, err
	}
	history := order.RefundHistory
	if history == nil {
		history = []model.RefundRecord{}
	}
	return &RefundInfo{
		LocalID:            order.LocalID,
		OrderID:            order.OrderID,
		IsRefund:           order.IsRefund,
		HasBeenRefunded:    order.HasBeenRefunded,
		TotalRefunded:      order.TotalRefunded(),
		RefundedQuantities: order.RefundedQuantities(),
		RefundHistory:      history,
	}, nil
}

func (s *TillSync) GetRefundedOrders(ctx context.Context) ([]*model.OfflineOrder, error) {
	return s.datasource.GetRefundedOrders(ctx)
}

func (s *TillSync) GetRefundOrders(ctx context.Context) ([]*model.OfflineOrder, error) {
	return s.datasource.GetRefundOrders(ctx)
}

// withInFlightRefunds returns a copy of original whose history also holds
// refunds that are queued locally but not yet acknowledged, so they count
// against what remains refundable.
func (s *TillSync) withInFlightRefunds(ctx context.Context, original *model.OfflineOrder) (*model.OfflineOrder, error) {
	refunds, err := s.datasource.GetRefundOrders(ctx)
	if err != nil {
		return nil, err
	}
	recorded := make(map[string]bool, len(original.RefundHistory))
	for _, record := range original.RefundHistory {
		recorded[record.RefundOrderID] = true
	}

	view := original.Clone()
	for _, refund := range refunds {
		if refund.OrderPayload.RefundedOrderID != original.OrderID || recorded[refund.OrderID] {
			continue
		}
		view.RefundHistory = append(view.RefundHistory, model.RefundRecord{
			RefundOrderID: refund.OrderID,
			RefundDate:    refund.Timestamp,
			RefundAmount:  refund.OrderPayload.Total.Abs(),
			Lines:         wire.RefundedLines(&refund.OrderPayload),
		})
	}
	return view, nil
}

// CreateRefundOrder builds a refund against an existing order and queues it.
// Requested quantities are clamped to what has not been refunded yet,
// counting refunds still waiting to sync.
func (s *TillSync) CreateRefundOrder(ctx context.Context, originalID string, requests []wire.RefundRequest, session model.Session) (*model.OfflineOrder, error) {
	original, err := s.findOriginal(ctx, originalID)
	if err != nil {
		return nil, err
	}
	view, err := s.withInFlightRefunds(ctx, original)
	if err != nil {
		return nil, err
	}
	payload, err := wire.BuildRefund(view, requests, session)
	if err != nil {
		return nil, err
	}

	refund, err := s.datasource.SaveOrder(ctx, &model.OfflineOrder{
		OrderID:      payload.OrderID,
		OrderPayload: *payload,
		IsRefund:     true,
	})
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"refund_id":   refund.OrderID,
		"original_id": original.OrderID,
		"amount":      payload.Total.String(),
	}).Info("refund order created")
	return s.FinalizeOrder(ctx, refund.LocalID)
}

// RemoveConfirmedRefund deletes a refund order once the ledger has it.
func (s *TillSync) RemoveConfirmedRefund(ctx context.Context, localID string) error {
	order, err := s.datasource.GetOrderByID(ctx, localID)
	if err != nil {
		return err
	}
	if !order.IsRefund {
		return apierror.NewAPIError(apierror.ErrValidation, "order "+localID+" is not a refund", nil)
	}
	if order.SyncStatus != model.StatusSynced {
		return apierror.NewAPIError(apierror.ErrConflict,
			"refund "+localID+" has not been confirmed by the ledger", nil)
	}
	return s.datasource.DeleteOrder(ctx, localID)
}
