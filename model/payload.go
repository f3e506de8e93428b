package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// OrderType distinguishes how the order leaves the counter.
type OrderType string

const (
	OrderTypeDineIn   OrderType = "dine_in"
	OrderTypeTakeaway OrderType = "takeaway"
	OrderTypeDelivery OrderType = "delivery"
)

// Customer is the optional buyer attached to an order.
type Customer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Session is the till session an order was rung up in.
type Session struct {
	ID         string    `json:"id"`
	TerminalID string    `json:"terminal_id"`
	CashierID  string    `json:"cashier_id"`
	OpenedAt   time.Time `json:"opened_at"`
}

// OrderLine is one product line of an order. Quantities are negative on
// refund orders.
type OrderLine struct {
	ProductID        string          `json:"product_id"`
	Name             string          `json:"name"`
	Quantity         decimal.Decimal `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	Discount         decimal.Decimal `json:"discount"`
	TaxRate          decimal.Decimal `json:"tax_rate"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	Tax              decimal.Decimal `json:"tax"`
	OriginalQuantity decimal.Decimal `json:"original_quantity"`
	HasOriginalQty   bool            `json:"has_original_quantity"`
	RefundedLine     string          `json:"refunded_line,omitempty"`
	LineToken        string          `json:"line_token"`
}

// PaymentLine is one tender applied to an order.
type PaymentLine struct {
	MethodID string          `json:"method_id"`
	Name     string          `json:"name"`
	Amount   decimal.Decimal `json:"amount"`
	IsChange bool            `json:"is_change,omitempty"`
}

// OrderPayload is the structured order the wire adapter submits to the
// remote ledger.
type OrderPayload struct {
	OrderID           string          `json:"order_id"`
	Lines             []OrderLine     `json:"lines"`
	Payments          []PaymentLine   `json:"payments"`
	Customer          *Customer       `json:"customer,omitempty"`
	Session           Session         `json:"session"`
	OrderType         OrderType       `json:"order_type"`
	ExternalReference string          `json:"external_reference"`
	RefundedOrderID   string          `json:"refunded_order_id,omitempty"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	TaxTotal          decimal.Decimal `json:"tax_total"`
	Total             decimal.Decimal `json:"total"`
	Paid              decimal.Decimal `json:"paid"`
	Change            decimal.Decimal `json:"change"`
	CreatedAt         time.Time       `json:"created_at"`
	IdempotencyToken  string          `json:"idempotency_token"`
	IsRefund          bool            `json:"is_refund"`
	HasBeenRefunded   bool            `json:"has_been_refunded,omitempty"`
	RefundHistory     json.RawMessage `json:"refund_history,omitempty"`
}

// LineByToken finds the line with the given idempotency token.
func (p *OrderPayload) LineByToken(token string) (OrderLine, bool) {
	for _, line := range p.Lines {
		if line.LineToken == token {
			return line, true
		}
	}
	return OrderLine{}, false
}

// HasRefundLines reports whether the payload looks like a refund even when
// the caller did not flag it: a line pointing back at a sold line.
func (p *OrderPayload) HasRefundLines() bool {
	for _, line := range p.Lines {
		if line.RefundedLine != "" && line.Quantity.LessThanOrEqual(decimal.Zero) {
			return true
		}
	}
	return false
}
