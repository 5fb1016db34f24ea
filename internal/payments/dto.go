package payments

import (
	"github.com/mvrodrig/tillsync/pkg/enums"
)

// LineItem is one sold position inside a payment payload.
type LineItem struct {
	Name      string  `json:"name" validate:"required"`
	UnitPrice float64 `json:"unitPrice" validate:"gte=0"`
	Quantity  int     `json:"quantity" validate:"gt=0"`
}

// EnqueueInput is what the checkout collaborator hands over when a payment
// cannot be confirmed synchronously.
type EnqueueInput struct {
	Items         []LineItem          `json:"items" validate:"required,min=1,dive"`
	PaymentMethod enums.PaymentMethod `json:"paymentMethod" validate:"required"`
	CustomerEmail string              `json:"customerEmail,omitempty" validate:"omitempty,email"`
	ExternalRef   string              `json:"externalRef,omitempty"`
}

// Payload is the immutable snapshot of what to charge, persisted with the
// intent and replayed verbatim on every submission attempt.
type Payload struct {
	Items         []LineItem          `json:"items"`
	PaymentMethod enums.PaymentMethod `json:"paymentMethod"`
	CustomerEmail string              `json:"customerEmail,omitempty"`
	ExternalRef   string              `json:"externalRef,omitempty"`
	TerminalID    string              `json:"terminalId"`
}
