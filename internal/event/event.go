// Package event defines the settlement notification published after a
// payment is approved. The wire shape is fixed; consumers must tolerate
// unknown types by dropping them, not by failing.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// TypeOrderPaid is the discriminator carried by every settlement event.
const TypeOrderPaid = "payment.order.paid"

type Item struct {
	SKUID string `json:"skuid" validate:"required"`
	Qty   int32  `json:"qty" validate:"required,gt=0"`
}

type Payload struct {
	OrderNumber string  `json:"orderNumber" validate:"required"`
	CustomerID  *int64  `json:"customerId"`
	TotalAmount float64 `json:"totalAmount"`
	Items       []Item  `json:"items" validate:"required,min=1,dive"`
}

type SettlementEvent struct {
	EventID    string    `json:"eventId" validate:"required"`
	OccurredAt time.Time `json:"occurredAt"`
	Type       string    `json:"type" validate:"required"`
	Data       Payload   `json:"data"`
}

var validate = validator.New()

// NewOrderPaid assigns a fresh event id; the event is immutable once published.
func NewOrderPaid(orderNumber string, customerID *int64, totalAmount float64, items []Item) *SettlementEvent {
	return &SettlementEvent{
		EventID:    uuid.New().String(),
		OccurredAt: time.Now().UTC(),
		Type:       TypeOrderPaid,
		Data: Payload{
			OrderNumber: orderNumber,
			CustomerID:  customerID,
			TotalAmount: totalAmount,
			Items:       items,
		},
	}
}

func (e *SettlementEvent) Validate() error {
	return validate.Struct(e)
}

// Decode parses a message body. A decode error means the body is not the
// settlement envelope at all and must be dropped, never retried. Field-level
// checks are deliberately left to Validate: a parseable envelope carrying bad
// data is a data-integrity failure and takes the retry path instead.
func Decode(body []byte) (*SettlementEvent, error) {
	var e SettlementEvent
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("unmarshal settlement event: %w", err)
	}

	return &e, nil
}
