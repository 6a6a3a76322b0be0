package booking

import (
	"fmt"
	"strings"
)

// DefaultCountryCode is prefixed to national numbers.
const DefaultCountryCode = "55"

// NormalizePhone reduces a phone number to digits and prefixes the country
// code when the number is national (area code plus 8 or 9 digits).
// "(92) 99999-8888" becomes "5592999998888".
func NormalizePhone(raw, countryCode string) (string, error) {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := strings.TrimLeft(b.String(), "0")

	switch n := len(digits); {
	case n == 10 || n == 11:
		return countryCode + digits, nil
	case n >= 12 && n <= 13 && strings.HasPrefix(digits, countryCode):
		return digits, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
	}
}

// MaskPhone keeps the last four digits.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
