package model

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to SyncStatus
		want     bool
	}{
		{StatusDraft, StatusPending, true},
		{StatusPending, StatusSyncing, true},
		{StatusFailed, StatusSyncing, true},
		{StatusFailed, StatusPending, true},
		{StatusSyncing, StatusSynced, true},
		{StatusSyncing, StatusFailed, true},
		{StatusDraft, StatusSyncing, false},
		{StatusSynced, StatusPending, false},
		{StatusPending, StatusSynced, false},
		{StatusSynced, StatusSyncing, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTransitionRejectsUnknownEdge(t *testing.T) {
	o := &OfflineOrder{SyncStatus: StatusSynced}
	err := o.Transition(StatusPending)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, StatusSynced, o.SyncStatus)

	o.SyncStatus = StatusDraft
	require.NoError(t, o.Transition(StatusPending))
	assert.Equal(t, StatusPending, o.SyncStatus)
}

func TestParseSyncStatus(t *testing.T) {
	s, err := ParseSyncStatus(" Failed ")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, s)

	_, err = ParseSyncStatus("archived")
	assert.Error(t, err)
}

func TestRefundTotals(t *testing.T) {
	o := &OfflineOrder{RefundHistory: []RefundRecord{
		{RefundOrderID: "r1", RefundAmount: decimal.NewFromInt(-23), Lines: []RefundedLine{{LineToken: "a", Quantity: decimal.NewFromInt(-1)}}},
		{RefundOrderID: "r2", RefundAmount: decimal.NewFromInt(46), Lines: []RefundedLine{{LineToken: "a", Quantity: decimal.NewFromInt(2)}, {LineToken: "b", Quantity: decimal.NewFromInt(1)}}},
	}}

	assert.True(t, o.TotalRefunded().Equal(decimal.NewFromInt(69)))
	q := o.RefundedQuantities()
	assert.True(t, q["a"].Equal(decimal.NewFromInt(3)))
	assert.True(t, q["b"].Equal(decimal.NewFromInt(1)))
}

func TestDetectRefund(t *testing.T) {
	assert.False(t, DetectRefund(&OfflineOrder{OrderID: "A-1"}))
	assert.True(t, DetectRefund(&OfflineOrder{IsRefund: true}))
	assert.True(t, DetectRefund(&OfflineOrder{OrderPayload: OrderPayload{RefundedOrderID: "A-1"}}))
	assert.True(t, DetectRefund(&OfflineOrder{OrderID: RefundLabelPrefix + "A-1"}))
	assert.True(t, DetectRefund(&OfflineOrder{OrderPayload: OrderPayload{Lines: []OrderLine{
		{RefundedLine: "tok", Quantity: decimal.NewFromInt(-1)},
	}}}))
}

func TestCloneDoesNotAlias(t *testing.T) {
	o := &OfflineOrder{LocalID: "ord_1", RefundHistory: []RefundRecord{{RefundOrderID: "r1"}}}
	cp := o.Clone()
	cp.RefundHistory[0].RefundOrderID = "changed"
	assert.Equal(t, "r1", o.RefundHistory[0].RefundOrderID)
}
