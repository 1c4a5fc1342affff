package enums

// OutboxDLQErrorReason records why a row was quarantined.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonUnrecognizedType     OutboxDLQErrorReason = "unrecognized_type"
	OutboxDLQReasonSerializationFailure OutboxDLQErrorReason = "serialization_failure"
)

var validOutboxDLQErrorReasons = []OutboxDLQErrorReason{
	OutboxDLQReasonUnrecognizedType,
	OutboxDLQReasonSerializationFailure,
}

func (r OutboxDLQErrorReason) IsValid() bool {
	for _, candidate := range validOutboxDLQErrorReasons {
		if candidate == r {
			return true
		}
	}
	return false
}
