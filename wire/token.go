package wire

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/blnkfinance/tillsync/model"
)

func digest(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:16])
}

// LineToken derives the idempotency token of one order line from the order
// id, the line position and the line's sale terms.
func LineToken(orderID string, index int, l model.OrderLine) string {
	return "ln_" + digest(orderID, strconv.Itoa(index), l.ProductID,
		l.Quantity.String(), l.UnitPrice.String(), l.Discount.String(), l.RefundedLine)
}

// OrderToken derives the order's idempotency token from its content. It is
// stable for a stored payload, so resubmitting a failed order cannot create a
// second remote record.
func OrderToken(p *model.OrderPayload) string {
	parts := []string{p.Session.ID, p.OrderID, p.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000000Z")}
	for _, l := range p.Lines {
		parts = append(parts, l.LineToken, l.Quantity.String())
	}
	for _, pay := range p.Payments {
		parts = append(parts, pay.MethodID, pay.Amount.String())
	}
	return "ord_" + digest(parts...)
}
