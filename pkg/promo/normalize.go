package promo

import (
	"errors"
	"regexp"
	"strings"

	"github.com/bloomnest/entitlements/pkg/validator"
)

const (
	MinCodeLength = 3
	MaxCodeLength = 32
)

var codePattern = regexp.MustCompile(`^[A-Z0-9-]+$`)

// Normalize returns the canonical form of a code: trimmed and upper-cased.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks a canonical code. Call Normalize first.
func Validate(code string) error {
	if err := validator.Apply(
		validator.Required("code", code),
		validator.MinLen("code", code, MinCodeLength),
		validator.MaxLen("code", code, MaxCodeLength),
		validator.Matches("code", code, codePattern, "letters, digits and hyphens"),
	); err != nil {
		return errors.Join(ErrValidation, ErrInvalidCode, err)
	}
	return nil
}

// NormalizeAndValidate is the entry point used by every ledger operation.
func NormalizeAndValidate(code string) (string, error) {
	canonical := Normalize(code)
	if err := Validate(canonical); err != nil {
		return "", err
	}
	return canonical, nil
}
