package validators

import (
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/angelmondragon/paysaga-backend/pkg/errors"
)

// ParseQueryInt reads an optional integer query parameter, falling back to
// defaultVal when absent and rejecting values outside [min, max].
func ParseQueryInt(r *http.Request, key string, defaultVal, min, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return defaultVal, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, queryError(key, "query parameter must be an integer", nil)
	}
	if value < min || value > max {
		return 0, queryError(key, "query parameter out of range", map[string]any{"min": min, "max": max})
	}
	return value, nil
}

// ParseQueryEnum reads an optional enum query parameter. The raw value is
// upper-cased before parse runs; an absent parameter yields the zero value.
func ParseQueryEnum[T ~string](r *http.Request, key string, parse func(string) (T, error)) (T, error) {
	var zero T
	raw := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get(key)))
	if raw == "" {
		return zero, nil
	}
	value, err := parse(raw)
	if err != nil {
		return zero, queryError(key, "query parameter has an unknown value", map[string]any{"value": raw})
	}
	return value, nil
}

func queryError(key, msg string, extra map[string]any) error {
	details := map[string]any{"field": key}
	for k, v := range extra {
		details[k] = v
	}
	return pkgerrors.New(pkgerrors.CodeValidation, msg).WithDetails(details)
}
