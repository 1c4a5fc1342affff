package enums

import "fmt"

// OutboxAggregateType identifies the aggregate whose id orders an event stream.
type OutboxAggregateType string

const (
	AggregatePayment OutboxAggregateType = "payment"
	AggregateAccount OutboxAggregateType = "account"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregatePayment,
	AggregateAccount,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType names a message on the wire. Values double as the
// event_type attribute carried by every broker message.
type OutboxEventType string

const (
	EventPaymentInitiated           OutboxEventType = "PaymentInitiated"
	EventSenderDebited              OutboxEventType = "SenderDebited"
	EventDebitFailed                OutboxEventType = "DebitFailed"
	EventReceiverCreditRequested    OutboxEventType = "ReceiverCreditRequested"
	EventReceiverCredited           OutboxEventType = "ReceiverCredited"
	EventCreditFailed               OutboxEventType = "CreditFailed"
	EventCompensatePaymentRequested OutboxEventType = "CompensatePaymentRequested"
	EventCompensatePayment          OutboxEventType = "CompensatePayment"
	EventCompensationFailed         OutboxEventType = "CompensationFailed"
	EventPaymentCompleted           OutboxEventType = "PaymentCompleted"

	EventAccountOpened    OutboxEventType = "AccountOpened"
	EventAccountDeposited OutboxEventType = "AccountDeposited"
	EventAccountWithdrawn OutboxEventType = "AccountWithdrawn"
)

var validOutboxEventTypes = []OutboxEventType{
	EventPaymentInitiated,
	EventSenderDebited,
	EventDebitFailed,
	EventReceiverCreditRequested,
	EventReceiverCredited,
	EventCreditFailed,
	EventCompensatePaymentRequested,
	EventCompensatePayment,
	EventCompensationFailed,
	EventPaymentCompleted,
	EventAccountOpened,
	EventAccountDeposited,
	EventAccountWithdrawn,
}

// String implements fmt.Stringer.
func (e OutboxEventType) String() string {
	return string(e)
}

// IsValid reports whether the value is a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
