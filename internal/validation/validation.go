// Package validation wraps go-playground/validator with the rules shared by
// request handling and checkout.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// New returns a validator that reports JSON field names and knows the
// "phone" tag.
func New() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return ValidPhone(fl.Field().String())
	})
	return v
}

// NormalizePhone drops spaces, dashes, dots and parentheses.
func NormalizePhone(raw string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))
}

// ValidPhone accepts an optional leading '+' followed by 7 to 15 digits.
func ValidPhone(phone string) bool {
	digits := strings.TrimPrefix(phone, "+")
	if len(digits) < 7 || len(digits) > 15 {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Message flattens validator errors into one line naming each failed field.
func Message(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}

	parts := make([]string, 0, len(fieldErrs))
	for _, fieldErr := range fieldErrs {
		field := trimRoot(fieldErr.Namespace())
		switch fieldErr.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		case "min":
			parts = append(parts, fmt.Sprintf("%s must be at least %s", field, fieldErr.Param()))
		case "max":
			parts = append(parts, fmt.Sprintf("%s must be at most %s", field, fieldErr.Param()))
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of [%s]", field, fieldErr.Param()))
		case "email":
			parts = append(parts, field+" must be a valid email")
		case "phone":
			parts = append(parts, field+" must be a valid phone number")
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s", field, fieldErr.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

func trimRoot(namespace string) string {
	if idx := strings.IndexByte(namespace, '.'); idx >= 0 {
		return namespace[idx+1:]
	}
	return namespace
}
