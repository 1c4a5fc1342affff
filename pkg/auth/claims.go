package auth

import "github.com/golang-jwt/jwt/v5"

// RoleOperator grants access to the /ops routes.
const RoleOperator = "operator"

// OperatorTokenPayload captures the data available when minting an operator JWT.
type OperatorTokenPayload struct {
	Subject string
	Role    string
}

// OperatorClaims is the typed JWT carried by operator tooling.
type OperatorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}
