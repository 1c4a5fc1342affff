package enums

import "fmt"

// PaymentStatus tracks a payment through the transfer saga.
type PaymentStatus string

const (
	PaymentStatusInitiated          PaymentStatus = "INITIATED"
	PaymentStatusSenderDebited      PaymentStatus = "SENDER_DEBITED"
	PaymentStatusReceiverCredited   PaymentStatus = "RECEIVER_CREDITED"
	PaymentStatusCreditFailed       PaymentStatus = "CREDIT_FAILED"
	PaymentStatusCompleted          PaymentStatus = "COMPLETED"
	PaymentStatusDebitFailed        PaymentStatus = "DEBIT_FAILED"
	PaymentStatusManualIntervention PaymentStatus = "MANUAL_INTERVENTION"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusInitiated,
	PaymentStatusSenderDebited,
	PaymentStatusReceiverCredited,
	PaymentStatusCreditFailed,
	PaymentStatusCompleted,
	PaymentStatusDebitFailed,
	PaymentStatusManualIntervention,
}

// paymentStatusRank orders statuses along the saga. Statuses on different
// branches share a rank when neither can follow the other.
var paymentStatusRank = map[PaymentStatus]int{
	PaymentStatusInitiated:          0,
	PaymentStatusSenderDebited:      1,
	PaymentStatusDebitFailed:        1,
	PaymentStatusReceiverCredited:   2,
	PaymentStatusCreditFailed:       2,
	PaymentStatusCompleted:          3,
	PaymentStatusManualIntervention: 3,
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further saga event can move the payment.
func (p PaymentStatus) IsTerminal() bool {
	switch p {
	case PaymentStatusCompleted, PaymentStatusDebitFailed, PaymentStatusManualIntervention:
		return true
	default:
		return false
	}
}

// Rank returns the position of the status along the saga, or -1 when unknown.
func (p PaymentStatus) Rank() int {
	if rank, ok := paymentStatusRank[p]; ok {
		return rank
	}
	return -1
}

// ParsePaymentStatus converts raw input into a PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	for _, candidate := range validPaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}
