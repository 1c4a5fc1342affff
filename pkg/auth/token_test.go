package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/angelmondragon/paysaga-backend/pkg/config"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:            "secret",
		Issuer:            "paysaga",
		ExpirationMinutes: 30,
	}
}

func TestMintAndParseOperatorToken(t *testing.T) {
	cfg := testJWTConfig()
	now := time.Now().UTC()

	token, err := MintOperatorToken(cfg, now, OperatorTokenPayload{Subject: "oncall@paysaga"})
	if err != nil {
		t.Fatalf("mint operator token: %v", err)
	}

	claims, err := ParseOperatorToken(cfg, token)
	if err != nil {
		t.Fatalf("parse operator token: %v", err)
	}
	if claims.Subject != "oncall@paysaga" {
		t.Fatalf("unexpected subject %q", claims.Subject)
	}
	if claims.Role != RoleOperator {
		t.Fatalf("expected default role %q, got %q", RoleOperator, claims.Role)
	}
	if claims.Issuer != cfg.Issuer {
		t.Fatalf("unexpected issuer %q", claims.Issuer)
	}
	if claims.ID == "" {
		t.Fatal("expected jti to be set")
	}
	if claims.ExpiresAt == nil || !claims.ExpiresAt.Time.After(now) {
		t.Fatal("expected expiry in the future")
	}
}

func TestMintOperatorTokenValidation(t *testing.T) {
	now := time.Now()
	cases := map[string]struct {
		cfg     config.JWTConfig
		payload OperatorTokenPayload
	}{
		"missing secret":  {cfg: config.JWTConfig{Issuer: "paysaga", ExpirationMinutes: 5}, payload: OperatorTokenPayload{Subject: "a"}},
		"missing issuer":  {cfg: config.JWTConfig{Secret: "s", ExpirationMinutes: 5}, payload: OperatorTokenPayload{Subject: "a"}},
		"bad expiry":      {cfg: config.JWTConfig{Secret: "s", Issuer: "paysaga"}, payload: OperatorTokenPayload{Subject: "a"}},
		"missing subject": {cfg: testJWTConfig(), payload: OperatorTokenPayload{Subject: "  "}},
	}
	for name, tc := range cases {
		if _, err := MintOperatorToken(tc.cfg, now, tc.payload); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestParseOperatorTokenRejectsExpired(t *testing.T) {
	cfg := testJWTConfig()
	token, err := MintOperatorToken(cfg, time.Now().Add(-2*time.Hour), OperatorTokenPayload{Subject: "ops"})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := ParseOperatorToken(cfg, token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestParseOperatorTokenRejectsWrongSecretAndIssuer(t *testing.T) {
	cfg := testJWTConfig()
	token, err := MintOperatorToken(cfg, time.Now(), OperatorTokenPayload{Subject: "ops"})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	wrongSecret := cfg
	wrongSecret.Secret = "other"
	if _, err := ParseOperatorToken(wrongSecret, token); err == nil {
		t.Fatal("expected signature failure")
	}

	wrongIssuer := cfg
	wrongIssuer.Issuer = "someone-else"
	if _, err := ParseOperatorToken(wrongIssuer, token); err == nil {
		t.Fatal("expected issuer failure")
	}
}

func TestParseOperatorTokenRejectsFutureIssuedAt(t *testing.T) {
	cfg := testJWTConfig()
	token, err := MintOperatorToken(cfg, time.Now().Add(time.Hour), OperatorTokenPayload{Subject: "ops"})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := ParseOperatorToken(cfg, token); !errors.Is(err, jwt.ErrTokenUsedBeforeIssued) {
		t.Fatalf("expected issued-at rejection, got %v", err)
	}
}

func TestParseOperatorTokenRejectsOtherAlgorithms(t *testing.T) {
	cfg := testJWTConfig()
	claims := OperatorClaims{
		Role: RoleOperator,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   "ops",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseOperatorToken(cfg, token); err == nil {
		t.Fatal("expected HS512 token to be rejected")
	}
}
