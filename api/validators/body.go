package validators

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/paysaga-backend/pkg/errors"
)

// maxBodyBytes bounds request bodies; payment and ledger payloads are tiny.
const maxBodyBytes = 64 << 10

// maxMoneyScale is the number of fraction digits an amount may carry.
const maxMoneyScale = 2

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	// decimals validate as their canonical string form
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})
	_ = v.RegisterValidation("money", func(fl validator.FieldLevel) bool {
		d, ok := moneyValue(fl)
		return ok && d.IsPositive()
	})
	_ = v.RegisterValidation("money_nonneg", func(fl validator.FieldLevel) bool {
		d, ok := moneyValue(fl)
		return ok && !d.IsNegative()
	})
	return v
}

func moneyValue(fl validator.FieldLevel) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(fl.Field().String())
	if err != nil || d.Exponent() < -maxMoneyScale {
		return decimal.Decimal{}, false
	}
	return d, true
}

// DecodeJSONBody strictly decodes a bounded JSON body into dest and runs its
// validate tags. Failures come back as CodeValidation errors with per-field
// details.
func DecodeJSONBody(r *http.Request, dest any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	defer func() {
		_, _ = io.Copy(io.Discard, r.Body)
	}()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body").WithDetails(map[string]any{"error": err.Error()})
	}
	if err := validate.Struct(dest); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func formatValidationErrors(err error) *pkgerrors.Error {
	if errs, ok := err.(validator.ValidationErrors); ok {
		details := map[string]string{}
		for _, fieldErr := range errs {
			details[fieldErr.Field()] = validationMessage(fieldErr)
		}
		return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "iso4217":
		return "must be an ISO 4217 currency code"
	case "nefield":
		return fmt.Sprintf("must differ from %s", fe.Param())
	case "alphanum":
		return "must be alphanumeric"
	case "money":
		return fmt.Sprintf("must be a positive amount with at most %d decimals", maxMoneyScale)
	case "money_nonneg":
		return fmt.Sprintf("must be a non-negative amount with at most %d decimals", maxMoneyScale)
	}
	return "is invalid"
}
