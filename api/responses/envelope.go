package responses

// SuccessEnvelope wraps every 2xx body.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the public error shape. RequestID echoes X-Request-Id so a
// caller can quote it when reporting a failed payment or balance change.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
