package validate

import (
	"errors"
	"math"
	"regexp"
	"strings"
)

// Money validation errors
var (
	ErrInvalidAmount   = errors.New("amount must be a positive number")
	ErrAmountTooLarge  = errors.New("amount exceeds the maximum accepted value")
	ErrInvalidCurrency = errors.New("currency must be a 3-letter ISO 4217 code")
)

// maxAmount is a sanity ceiling on a single checkout, in currency units.
const maxAmount = 100000.0

// currencyPattern matches 3-letter ISO 4217 codes.
var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Amount validates a decimal currency amount and converts it to cents.
// Amounts carry at most two fraction digits on the wire; anything finer is
// rejected rather than silently rounded.
func Amount(amount float64) (int64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if amount > maxAmount {
		return 0, ErrAmountTooLarge
	}

	cents := math.Round(amount * 100)
	if math.Abs(amount*100-cents) > 1e-6 {
		return 0, ErrInvalidAmount
	}

	return int64(cents), nil
}

// Currency validates a currency code.
// Returns the normalized (uppercased, trimmed) code and an error if invalid.
func Currency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", ErrEmpty
	}
	if !currencyPattern.MatchString(code) {
		return "", ErrInvalidCurrency
	}
	return code, nil
}
