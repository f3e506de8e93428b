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

// Package wire turns carts and payments into ledger commit payloads and
// interprets the ledger's replies.
package wire

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"

	"github.com/blnkfinance/tillsync/internal/apierror"
	"github.com/blnkfinance/tillsync/model"
)

var hundred = decimal.NewFromInt(100)

// CartLine is one product line as the till's cart holds it. Discount and
// TaxRate are percentages.
type CartLine struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Discount  decimal.Decimal `json:"discount"`
	TaxRate   decimal.Decimal `json:"tax_rate"`
}

// PaymentEntry is one tender the cashier took.
type PaymentEntry struct {
	MethodID string          `json:"method_id"`
	Name     string          `json:"name"`
	Amount   decimal.Decimal `json:"amount"`
}

// BuildInput is everything the payment flow hands over once a sale is paid.
type BuildInput struct {
	OrderID   string          `json:"order_id"`
	Lines     []CartLine      `json:"lines"`
	Payments  []PaymentEntry  `json:"payments"`
	Customer  *model.Customer `json:"customer"`
	Session   model.Session   `json:"session"`
	OrderType model.OrderType `json:"order_type"`
	CreatedAt time.Time       `json:"created_at"`
}

func positive(field string) validation.RuleFunc {
	return func(value interface{}) error {
		d, _ := value.(decimal.Decimal)
		if !d.IsPositive() {
			return errors.New(field + " must be greater than zero")
		}
		return nil
	}
}

func nonNegative(field string) validation.RuleFunc {
	return func(value interface{}) error {
		d, _ := value.(decimal.Decimal)
		if d.IsNegative() {
			return errors.New(field + " must not be negative")
		}
		return nil
	}
}

func percentage(value interface{}) error {
	d, _ := value.(decimal.Decimal)
	if d.IsNegative() || d.GreaterThan(hundred) {
		return errors.New("must be between 0 and 100")
	}
	return nil
}

func (l CartLine) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.ProductID, validation.Required),
		validation.Field(&l.Quantity, validation.By(positive("quantity"))),
		validation.Field(&l.UnitPrice, validation.By(nonNegative("unit price"))),
		validation.Field(&l.Discount, validation.By(percentage)),
		validation.Field(&l.TaxRate, validation.By(nonNegative("tax rate"))),
	)
}

func (p PaymentEntry) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.MethodID, validation.Required),
		validation.Field(&p.Amount, validation.By(nonNegative("amount"))),
	)
}

func (in *BuildInput) Validate() error {
	return validation.ValidateStruct(in,
		validation.Field(&in.Session, validation.By(func(value interface{}) error {
			s, _ := value.(model.Session)
			if s.ID == "" {
				return errors.New("an open till session is required")
			}
			return nil
		})),
		validation.Field(&in.Lines, validation.Required.Error("the cart is empty")),
		validation.Field(&in.Payments),
		validation.Field(&in.OrderType, validation.In(model.OrderTypeDineIn, model.OrderTypeTakeaway, model.OrderTypeDelivery)),
	)
}

// BuildOrder validates the sale and produces the payload that is stored
// locally and later committed. Validation failures come back as VALIDATION
// api errors so the payment flow can reject the sale before it is queued.
func BuildOrder(in BuildInput) (*model.OrderPayload, error) {
	if err := in.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrValidation, err.Error(), nil)
	}

	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	orderType := in.OrderType
	if orderType == "" {
		orderType = model.OrderTypeTakeaway
	}
	orderID := in.OrderID
	if orderID == "" {
		orderID = model.GenerateUUIDWithSuffix("pos")
	}

	p := &model.OrderPayload{
		OrderID:           orderID,
		Customer:          in.Customer,
		Session:           in.Session,
		OrderType:         orderType,
		ExternalReference: orderID,
		CreatedAt:         createdAt.UTC(),
	}
	for i, l := range in.Lines {
		line := model.OrderLine{
			ProductID:        l.ProductID,
			Name:             l.Name,
			Quantity:         l.Quantity,
			UnitPrice:        l.UnitPrice,
			Discount:         l.Discount,
			TaxRate:          l.TaxRate,
			OriginalQuantity: l.Quantity,
			HasOriginalQty:   true,
		}
		line.LineToken = LineToken(orderID, i, line)
		p.Lines = append(p.Lines, line)
	}
	for _, pay := range in.Payments {
		p.Payments = append(p.Payments, model.PaymentLine{MethodID: pay.MethodID, Name: pay.Name, Amount: pay.Amount})
	}

	ApplyTotals(p)
	p.IdempotencyToken = OrderToken(p)
	return p, nil
}

// ApplyTotals recomputes line and order totals from lines and payments.
// Amounts are rounded to cents per line.
func ApplyTotals(p *model.OrderPayload) {
	subtotal, tax := decimal.Zero, decimal.Zero
	for i := range p.Lines {
		l := &p.Lines[i]
		gross := l.Quantity.Mul(l.UnitPrice)
		l.Subtotal = gross.Sub(gross.Mul(l.Discount).Div(hundred)).Round(2)
		l.Tax = l.Subtotal.Mul(l.TaxRate).Div(hundred).Round(2)
		subtotal = subtotal.Add(l.Subtotal)
		tax = tax.Add(l.Tax)
	}

	paid := decimal.Zero
	for _, pay := range p.Payments {
		if pay.IsChange {
			continue
		}
		paid = paid.Add(pay.Amount)
	}

	p.Subtotal = subtotal
	p.TaxTotal = tax
	p.Total = subtotal.Add(tax)
	p.Paid = paid
	p.Change = decimal.Zero
	if !p.IsRefund && paid.GreaterThan(p.Total) {
		p.Change = paid.Sub(p.Total)
	}
}
