package payments

import (
	"github.com/angelmondragon/paysaga-backend/pkg/db/models"
	"github.com/shopspring/decimal"
)

// InitiatePaymentInput is a transfer request.
type InitiatePaymentInput struct {
	SenderAccount   string          `json:"senderAccount" validate:"required"`
	ReceiverAccount string          `json:"receiverAccount" validate:"required,nefield=SenderAccount"`
	Amount          decimal.Decimal `json:"amount" validate:"-"`
	Currency        string          `json:"currency" validate:"required,iso4217"`
	IdempotencyKey  string          `json:"idempotencyKey" validate:"required,max=255"`
}

// PaymentDetails is a payment with its audit trail.
type PaymentDetails struct {
	models.Payment
	Transitions []models.PaymentTransition `json:"transitions"`
}
