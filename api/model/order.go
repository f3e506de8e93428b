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
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"

	"github.com/blnkfinance/tillsync/model"
	"github.com/blnkfinance/tillsync/wire"
)

// CreateOrder is the body of POST /orders.
type CreateOrder struct {
	OrderID   string              `json:"order_id"`
	Lines     []wire.CartLine     `json:"lines"`
	Payments  []wire.PaymentEntry `json:"payments"`
	Customer  *model.Customer     `json:"customer"`
	Session   model.Session       `json:"session"`
	OrderType string              `json:"order_type"`
	CreatedAt string              `json:"created_at"`
	// Finalize hands the order to the sync engine straight away.
	Finalize bool `json:"finalize"`
}

// RefundLine asks for part or all of one sold line back.
type RefundLine struct {
	LineToken string          `json:"line_token"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// CreateRefund is the body of POST /orders/:id/refunds.
type CreateRefund struct {
	Lines   []RefundLine  `json:"lines"`
	Session model.Session `json:"session"`
}

func validateDateFormat(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, err := time.Parse(time.RFC3339, s); err != nil {
		return errors.New("please format created_at as RFC 3339 (e.g., 2024-04-22T15:28:03+00:00)")
	}
	return nil
}

func sessionOpen(value interface{}) error {
	session, ok := value.(model.Session)
	if !ok || session.ID == "" {
		return errors.New("an open till session is required")
	}
	return nil
}

func (o *CreateOrder) ValidateCreateOrder() error {
	return validation.ValidateStruct(o,
		validation.Field(&o.Lines, validation.Required.Error("the cart is empty")),
		validation.Field(&o.Session, validation.By(sessionOpen)),
		validation.Field(&o.OrderType, validation.In(
			string(model.OrderTypeTakeaway), string(model.OrderTypeDineIn), string(model.OrderTypeDelivery))),
		validation.Field(&o.CreatedAt, validation.By(validateDateFormat)),
	)
}

// ToBuildInput converts the request for the payload builder. Call it after
// ValidateCreateOrder.
func (o *CreateOrder) ToBuildInput() wire.BuildInput {
	in := wire.BuildInput{
		OrderID:   o.OrderID,
		Lines:     o.Lines,
		Payments:  o.Payments,
		Customer:  o.Customer,
		Session:   o.Session,
		OrderType: model.OrderType(o.OrderType),
	}
	if o.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339, o.CreatedAt); err == nil {
			in.CreatedAt = t.UTC()
		}
	}
	return in
}

func (r *CreateRefund) ValidateCreateRefund() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Lines, validation.Required.Error("no lines selected for refund"), validation.Each(validation.By(func(value interface{}) error {
			line, ok := value.(RefundLine)
			if !ok {
				return errors.New("invalid refund line")
			}
			if line.LineToken == "" {
				return errors.New("line_token is required")
			}
			if line.Quantity.IsZero() {
				return errors.New("quantity must be non-zero")
			}
			return nil
		}))),
		validation.Field(&r.Session, validation.By(sessionOpen)),
	)
}

func (r *CreateRefund) ToRefundRequests() []wire.RefundRequest {
	requests := make([]wire.RefundRequest, 0, len(r.Lines))
	for _, l := range r.Lines {
		requests = append(requests, wire.RefundRequest{LineToken: l.LineToken, Quantity: l.Quantity})
	}
	return requests
}
