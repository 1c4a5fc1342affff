package payloads

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentInitiatedEvent asks the accounts service to debit the sender.
type PaymentInitiatedEvent struct {
	PaymentID       uuid.UUID       `json:"payment_id"`
	SenderAccount   string          `json:"sender_account"`
	ReceiverAccount string          `json:"receiver_account"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
}

// SenderDebitedEvent reports a successful debit.
type SenderDebitedEvent struct {
	PaymentID     uuid.UUID       `json:"payment_id"`
	AccountNumber string          `json:"account_number"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	NewBalance    decimal.Decimal `json:"new_balance"`
}

// LedgerFailureEvent is the shared shape of DebitFailed, CreditFailed and
// CompensationFailed.
type LedgerFailureEvent struct {
	PaymentID     uuid.UUID       `json:"payment_id"`
	AccountNumber string          `json:"account_number"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Code          string          `json:"code"`
	Reason        string          `json:"reason"`
}

// DebitFailedEvent reports a rejected debit; the sender balance is untouched.
type DebitFailedEvent = LedgerFailureEvent

// CreditFailedEvent reports a rejected receiver credit; the sender was debited.
type CreditFailedEvent = LedgerFailureEvent

// CompensationFailedEvent reports that the refund to the sender could not be applied.
type CompensationFailedEvent = LedgerFailureEvent

// ReceiverCreditRequestedEvent asks the accounts service to credit the receiver.
type ReceiverCreditRequestedEvent struct {
	PaymentID       uuid.UUID       `json:"payment_id"`
	SenderAccount   string          `json:"sender_account"`
	ReceiverAccount string          `json:"receiver_account"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
}

// ReceiverCreditedEvent reports a successful credit.
type ReceiverCreditedEvent struct {
	PaymentID     uuid.UUID       `json:"payment_id"`
	AccountNumber string          `json:"account_number"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	NewBalance    decimal.Decimal `json:"new_balance"`
}

// CompensatePaymentRequestedEvent asks the accounts service to refund the sender.
type CompensatePaymentRequestedEvent struct {
	PaymentID     uuid.UUID       `json:"payment_id"`
	SenderAccount string          `json:"sender_account"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Reason        string          `json:"reason,omitempty"`
}

// CompensatePaymentEvent reports that the sender was refunded.
type CompensatePaymentEvent struct {
	PaymentID     uuid.UUID       `json:"payment_id"`
	AccountNumber string          `json:"account_number"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	NewBalance    decimal.Decimal `json:"new_balance"`
}

// PaymentCompletedEvent closes the saga.
type PaymentCompletedEvent struct {
	PaymentID   uuid.UUID       `json:"payment_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Compensated bool            `json:"compensated"`
}

// AccountActivityEvent announces a direct balance change made through the
// accounts API (open, deposit, withdraw).
type AccountActivityEvent struct {
	AccountID     uuid.UUID       `json:"account_id"`
	AccountNumber string          `json:"account_number"`
	Amount        decimal.Decimal `json:"amount"`
	NewBalance    decimal.Decimal `json:"new_balance"`
}
