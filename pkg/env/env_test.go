package env

import "testing"

func TestGetPrefersPrefixedVariable(t *testing.T) {
	t.Setenv("PAYSAGA_LOG_FORMAT", "console")
	t.Setenv("LOG_FORMAT", "json")

	if got := Get("LOG_FORMAT", "text"); got != "console" {
		t.Fatalf("expected prefixed value, got %q", got)
	}
}

func TestGetFallsBackToBareThenDefault(t *testing.T) {
	t.Setenv("PAYSAGA_PORT", "")
	t.Setenv("PORT", "9090")
	if got := Get("PORT", "8080"); got != "9090" {
		t.Fatalf("expected bare value, got %q", got)
	}

	t.Setenv("PORT", "")
	if got := Get("PAYSAGA_PORT", "8080"); got != "8080" {
		t.Fatalf("expected fallback, got %q", got)
	}
}
