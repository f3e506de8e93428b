package wire

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/blnkfinance/tillsync/internal/apierror"
	"github.com/blnkfinance/tillsync/model"
)

// RefundRequest asks for Quantity units of the original line LineToken back.
type RefundRequest struct {
	LineToken string          `json:"line_token"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// RefundableQuantity is what is left to refund on a sold line, given what
// the order's refund history already took back. A line without a recorded
// original quantity falls back to its sold quantity; a line with neither
// cannot be refunded.
func RefundableQuantity(original *model.OfflineOrder, line model.OrderLine) (decimal.Decimal, error) {
	sold := line.Quantity
	if line.HasOriginalQty {
		sold = line.OriginalQuantity
	}
	if !sold.IsPositive() {
		return decimal.Zero, apierror.NewAPIError(apierror.ErrValidation,
			fmt.Sprintf("line %s has no original quantity to refund against", line.LineToken), nil)
	}
	remaining := sold.Sub(original.RefundedQuantities()[line.LineToken])
	if remaining.IsNegative() {
		return decimal.Zero, nil
	}
	return remaining, nil
}

// BuildRefund builds a refund payload against original. Every requested
// quantity is clamped to what remains refundable on its line, and lines with
// nothing left are dropped. The result has only non-positive quantities.
func BuildRefund(original *model.OfflineOrder, requests []RefundRequest, session model.Session) (*model.OrderPayload, error) {
	if original == nil {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "original order is required", nil)
	}
	if original.IsRefund {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "a refund order cannot be refunded", nil)
	}
	if session.ID == "" {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "an open till session is required", nil)
	}
	if len(requests) == 0 {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "no lines selected for refund", nil)
	}

	refundID := fmt.Sprintf("%s%s-%s", model.RefundLabelPrefix, original.OrderID, strings.Split(uuid.NewString(), "-")[0])
	p := &model.OrderPayload{
		OrderID:         refundID,
		Customer:        original.OrderPayload.Customer,
		Session:         session,
		OrderType:       original.OrderPayload.OrderType,
		RefundedOrderID: original.OrderID,
		CreatedAt:       time.Now().UTC(),
		IsRefund:        true,
	}

	requested := make(map[string]decimal.Decimal)
	for _, r := range requests {
		if !r.Quantity.Abs().IsPositive() {
			return nil, apierror.NewAPIError(apierror.ErrValidation,
				fmt.Sprintf("refund quantity for line %s must be non-zero", r.LineToken), nil)
		}
		requested[r.LineToken] = requested[r.LineToken].Add(r.Quantity.Abs())
	}

	for _, r := range requests {
		qty, ok := requested[r.LineToken]
		if !ok {
			continue
		}
		delete(requested, r.LineToken)

		line, found := original.OrderPayload.LineByToken(r.LineToken)
		if !found {
			return nil, apierror.NewAPIError(apierror.ErrValidation,
				fmt.Sprintf("line %s is not part of order %s", r.LineToken, original.OrderID), nil)
		}
		remaining, err := RefundableQuantity(original, line)
		if err != nil {
			return nil, err
		}
		if qty.GreaterThan(remaining) {
			qty = remaining
		}
		if !qty.IsPositive() {
			continue
		}

		refundLine := model.OrderLine{
			ProductID:        line.ProductID,
			Name:             line.Name,
			Quantity:         qty.Neg(),
			UnitPrice:        line.UnitPrice,
			Discount:         line.Discount,
			TaxRate:          line.TaxRate,
			OriginalQuantity: line.OriginalQuantity,
			HasOriginalQty:   line.HasOriginalQty,
			RefundedLine:     line.LineToken,
		}
		if !refundLine.HasOriginalQty {
			refundLine.OriginalQuantity = line.Quantity
			refundLine.HasOriginalQty = true
		}
		refundLine.LineToken = LineToken(refundID, len(p.Lines), refundLine)
		p.Lines = append(p.Lines, refundLine)
	}

	if len(p.Lines) == 0 {
		return nil, apierror.NewAPIError(apierror.ErrValidation,
			fmt.Sprintf("nothing left to refund on order %s", original.OrderID), nil)
	}

	ApplyTotals(p)
	method := model.PaymentLine{MethodID: "cash", Name: "Cash"}
	if len(original.OrderPayload.Payments) > 0 {
		method = original.OrderPayload.Payments[0]
	}
	p.Payments = []model.PaymentLine{{MethodID: method.MethodID, Name: method.Name, Amount: p.Total}}
	NormalizeRefund(p)
	return p, nil
}

// NormalizeRefund forces refund semantics onto p: no positive quantity or
// payment survives, totals are recomputed and the external reference is the
// refund's own id. It is safe to apply more than once.
func NormalizeRefund(p *model.OrderPayload) {
	p.IsRefund = true
	for i := range p.Lines {
		if p.Lines[i].Quantity.IsPositive() {
			p.Lines[i].Quantity = p.Lines[i].Quantity.Neg()
		}
	}
	for i := range p.Payments {
		if p.Payments[i].Amount.IsPositive() {
			p.Payments[i].Amount = p.Payments[i].Amount.Neg()
		}
	}
	ApplyTotals(p)
	p.ExternalReference = p.OrderID
	if p.IdempotencyToken == "" {
		p.IdempotencyToken = OrderToken(p)
	}
}

// RefundedLines summarises a refund payload per original line, as recorded
// in the original's refund history.
func RefundedLines(p *model.OrderPayload) []model.RefundedLine {
	var lines []model.RefundedLine
	for _, l := range p.Lines {
		if l.RefundedLine == "" {
			continue
		}
		lines = append(lines, model.RefundedLine{LineToken: l.RefundedLine, Quantity: l.Quantity.Abs()})
	}
	return lines
}
