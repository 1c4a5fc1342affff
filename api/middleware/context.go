package middleware

import "context"

// Operator is the authenticated caller of an /ops route.
type Operator struct {
	Subject string
	Role    string
	TokenID string
}

type operatorKey struct{}

func WithOperator(ctx context.Context, op Operator) context.Context {
	return context.WithValue(ctx, operatorKey{}, op)
}

// OperatorFrom reports false when the request never passed Auth.
func OperatorFrom(ctx context.Context) (Operator, bool) {
	if ctx == nil {
		return Operator{}, false
	}
	op, ok := ctx.Value(operatorKey{}).(Operator)
	return op, ok
}
