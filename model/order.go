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

package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SyncStatus is the position of an offline order in the sync state machine.
type SyncStatus string

const (
	StatusDraft   SyncStatus = "draft"
	StatusPending SyncStatus = "pending"
	StatusSyncing SyncStatus = "syncing"
	StatusSynced  SyncStatus = "synced"
	StatusFailed  SyncStatus = "failed"
)

// RefundLabelPrefix marks refund order ids for people reading receipts and
// ledger screens. It carries no meaning for the sync engine; IsRefund does.
const RefundLabelPrefix = "REFUND-"

var ErrInvalidTransition = errors.New("invalid sync status transition")

// transitions lists every edge the state machine allows.
var transitions = map[SyncStatus][]SyncStatus{
	StatusDraft:   {StatusPending},
	StatusPending: {StatusSyncing},
	StatusFailed:  {StatusSyncing, StatusPending},
	StatusSyncing: {StatusSynced, StatusFailed},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to SyncStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s SyncStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusSyncing, StatusSynced, StatusFailed:
		return true
	}
	return false
}

// ParseSyncStatus converts user input into a SyncStatus.
func ParseSyncStatus(s string) (SyncStatus, error) {
	status := SyncStatus(strings.ToLower(strings.TrimSpace(s)))
	if !status.Valid() {
		return "", fmt.Errorf("unknown sync status %q", s)
	}
	return status, nil
}

// RefundRecord is one refund applied against an order.
type RefundRecord struct {
	RefundOrderID string          `json:"refund_order_id"`
	RefundDate    time.Time       `json:"refund_date"`
	RefundAmount  decimal.Decimal `json:"refund_amount"`
	Lines         []RefundedLine  `json:"lines,omitempty"`
}

// RefundedLine records how much of an original line a refund took back.
type RefundedLine struct {
	LineToken string          `json:"line_token"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// OfflineOrder is a locally persisted transaction not yet, or only recently,
// acknowledged by the remote ledger.
type OfflineOrder struct {
	LocalID         string         `json:"local_id"`
	OrderID         string         `json:"order_id"`
	OrderPayload    OrderPayload   `json:"order_payload"`
	SyncStatus      SyncStatus     `json:"sync_status"`
	Timestamp       time.Time      `json:"timestamp"`
	SyncAttempts    int            `json:"sync_attempts"`
	LastSyncAttempt *time.Time     `json:"last_sync_attempt,omitempty"`
	SyncDate        *time.Time     `json:"sync_date,omitempty"`
	Error           string         `json:"error"`
	IsRefund        bool           `json:"is_refund"`
	HasBeenRefunded bool           `json:"has_been_refunded"`
	RefundHistory   []RefundRecord `json:"refund_history"`
	ServerOrderID   string         `json:"server_order_id,omitempty"`
	// Version counts writes to the stored record.
	Version int64 `json:"version"`
}

// Transition moves the order to the next status, rejecting edges the state
// machine does not define.
func (o *OfflineOrder) Transition(to SyncStatus) error {
	if !CanTransition(o.SyncStatus, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.SyncStatus, to)
	}
	o.SyncStatus = to
	return nil
}

// RefundedQuantities sums, per line token, how much has already been
// refunded according to the order's refund history.
func (o *OfflineOrder) RefundedQuantities() map[string]decimal.Decimal {
	refunded := make(map[string]decimal.Decimal)
	for _, record := range o.RefundHistory {
		for _, line := range record.Lines {
			refunded[line.LineToken] = refunded[line.LineToken].Add(line.Quantity.Abs())
		}
	}
	return refunded
}

// TotalRefunded is the sum of every refund amount recorded against the order.
func (o *OfflineOrder) TotalRefunded() decimal.Decimal {
	total := decimal.Zero
	for _, record := range o.RefundHistory {
		total = total.Add(record.RefundAmount.Abs())
	}
	return total
}

// Clone returns a deep copy so callers can build a whole-record replacement
// without aliasing the stored value.
func (o *OfflineOrder) Clone() *OfflineOrder {
	b, err := json.Marshal(o)
	if err != nil {
		cp := *o
		return &cp
	}
	var cp OfflineOrder
	if err := json.Unmarshal(b, &cp); err != nil {
		cp = *o
	}
	return &cp
}

func (o *OfflineOrder) ToJSON() ([]byte, error) {
	return json.Marshal(o)
}

// DetectRefund settles whether an incoming order is a refund. Callers that
// still mark refunds only through the id label are honoured here, once, at
// construction time; afterwards IsRefund is the only signal.
func DetectRefund(o *OfflineOrder) bool {
	if o.IsRefund || o.OrderPayload.IsRefund {
		return true
	}
	if o.OrderPayload.RefundedOrderID != "" || o.OrderPayload.HasRefundLines() {
		return true
	}
	return strings.HasPrefix(o.OrderID, RefundLabelPrefix)
}
