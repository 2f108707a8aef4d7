// Package currency validates ISO 4217 currency codes.
package currency

import (
	"errors"
	"strings"

	"golang.org/x/text/currency"
)

var ErrInvalidCode = errors.New("invalid_currency")

// Normalize trims and upper-cases code and checks it against the ISO 4217 table.
func Normalize(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", ErrInvalidCode
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", ErrInvalidCode
	}
	return unit.String(), nil
}
