package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/paysaga-backend/pkg/config"
)

var (
	errSecretRequired  = errors.New("jwt secret is required")
	errIssuerRequired  = errors.New("jwt issuer is required")
	errSubjectRequired = errors.New("jwt subject is required")
)

var signingMethod = jwt.SigningMethodHS256

// MintOperatorToken signs an HS256 token valid for cfg.ExpirationMinutes
// from now. An empty role defaults to RoleOperator.
func MintOperatorToken(cfg config.JWTConfig, now time.Time, payload OperatorTokenPayload) (string, error) {
	switch {
	case cfg.Secret == "":
		return "", errSecretRequired
	case cfg.Issuer == "":
		return "", errIssuerRequired
	case cfg.ExpirationMinutes <= 0:
		return "", errors.New("jwt expiration minutes must be positive")
	}
	subject := strings.TrimSpace(payload.Subject)
	if subject == "" {
		return "", errSubjectRequired
	}
	role := strings.TrimSpace(payload.Role)
	if role == "" {
		role = RoleOperator
	}

	ttl := time.Duration(cfg.ExpirationMinutes) * time.Minute
	claims := OperatorClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    cfg.Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// ParseOperatorToken accepts only HS256 tokens from cfg.Issuer that carry an
// expiry and a subject.
func ParseOperatorToken(cfg config.JWTConfig, tokenString string) (*OperatorClaims, error) {
	if cfg.Secret == "" {
		return nil, errSecretRequired
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	claims := &OperatorClaims{}
	if _, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return []byte(cfg.Secret), nil
	}); err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errSubjectRequired
	}
	return claims, nil
}
