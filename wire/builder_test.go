package wire

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/tillsync/internal/apierror"
	"github.com/blnkfinance/tillsync/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func sampleInput() BuildInput {
	return BuildInput{
		OrderID: "Order 00012-001-0001",
		Lines: []CartLine{
			{ProductID: "espresso", Name: "Espresso", Quantity: d("2"), UnitPrice: d("20"), TaxRate: d("15")},
			{ProductID: "bagel", Name: "Bagel", Quantity: d("3"), UnitPrice: d("20"), TaxRate: d("15")},
		},
		Payments: []PaymentEntry{{MethodID: "cash", Name: "Cash", Amount: d("115.00")}},
		Session:  model.Session{ID: "sess_12", TerminalID: "till-1"},
	}
}

func TestBuildOrder_Totals(t *testing.T) {
	p, err := BuildOrder(sampleInput())
	require.NoError(t, err)

	assert.True(t, p.Subtotal.Equal(d("100")), p.Subtotal.String())
	assert.True(t, p.TaxTotal.Equal(d("15")), p.TaxTotal.String())
	assert.True(t, p.Total.Equal(d("115.00")), p.Total.String())
	assert.True(t, p.Paid.Equal(d("115")))
	assert.True(t, p.Change.IsZero())
	assert.Equal(t, model.OrderTypeTakeaway, p.OrderType)
	assert.Equal(t, p.OrderID, p.ExternalReference)
	assert.False(t, p.IsRefund)
	require.Len(t, p.Lines, 2)
	assert.True(t, p.Lines[1].OriginalQuantity.Equal(d("3")))
	assert.True(t, p.Lines[1].HasOriginalQty)
}

func TestBuildOrder_DiscountAndChange(t *testing.T) {
	in := sampleInput()
	in.Lines = []CartLine{{ProductID: "cake", Quantity: d("1"), UnitPrice: d("10"), Discount: d("10"), TaxRate: d("0")}}
	in.Payments = []PaymentEntry{{MethodID: "cash", Amount: d("20")}}

	p, err := BuildOrder(in)
	require.NoError(t, err)
	assert.True(t, p.Total.Equal(d("9")), p.Total.String())
	assert.True(t, p.Change.Equal(d("11")), p.Change.String())
}

func TestBuildOrder_Tokens(t *testing.T) {
	in := sampleInput()
	in.CreatedAt = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	first, err := BuildOrder(in)
	require.NoError(t, err)
	second, err := BuildOrder(in)
	require.NoError(t, err)

	assert.NotEmpty(t, first.IdempotencyToken)
	assert.Equal(t, first.IdempotencyToken, second.IdempotencyToken)
	assert.Equal(t, first.IdempotencyToken, OrderToken(first))
	assert.NotEqual(t, first.Lines[0].LineToken, first.Lines[1].LineToken)

	in.Lines[0].Quantity = d("5")
	third, err := BuildOrder(in)
	require.NoError(t, err)
	assert.NotEqual(t, first.IdempotencyToken, third.IdempotencyToken)
}

func TestBuildOrder_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*BuildInput)
	}{
		{"missing session", func(in *BuildInput) { in.Session = model.Session{} }},
		{"empty cart", func(in *BuildInput) { in.Lines = nil }},
		{"zero quantity", func(in *BuildInput) { in.Lines[0].Quantity = decimal.Zero }},
		{"missing product", func(in *BuildInput) { in.Lines[0].ProductID = "" }},
		{"negative payment", func(in *BuildInput) { in.Payments[0].Amount = d("-1") }},
		{"discount above 100", func(in *BuildInput) { in.Lines[0].Discount = d("120") }},
		{"unknown order type", func(in *BuildInput) { in.OrderType = "drive_through" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := sampleInput()
			tt.mutate(&in)
			p, err := BuildOrder(in)
			assert.Nil(t, p)
			assert.True(t, apierror.HasCode(err, apierror.ErrValidation), "got %v", err)
		})
	}
}
