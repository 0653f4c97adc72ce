// Package phone canonicalizes phone numbers to E.164 before they are used
// for dispatch or as conversation keys.
package phone

import (
	"strings"
	"unicode"
)

// DefaultCountryCode is the North American calling code.
const DefaultCountryCode = "1"

// Normalizer converts free-form input to E.164.
type Normalizer struct {
	CountryCode string
}

// NewNormalizer returns a Normalizer for the given calling code. An empty
// code falls back to DefaultCountryCode.
func NewNormalizer(countryCode string) *Normalizer {
	countryCode = strings.TrimPrefix(strings.TrimSpace(countryCode), "+")
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	return &Normalizer{CountryCode: countryCode}
}

// Normalize strips formatting and applies the domestic rules:
//
//	5551234567    -> +15551234567
//	15551234567   -> +15551234567
//	+15551234567  -> +15551234567
//
// Input that already carries a plus keeps its digits as given; only
// spacing and punctuation are removed, so conversation keys stay unique.
// Anything else is prefixed with the country code as a best effort.
func (n *Normalizer) Normalize(input string) string {
	trimmed := strings.TrimSpace(input)
	if strings.HasPrefix(trimmed, "+") {
		return "+" + digits(trimmed)
	}

	d := digits(trimmed)
	switch {
	case len(d) == 10:
		return "+" + n.CountryCode + d
	case len(d) == 11 && strings.HasPrefix(d, n.CountryCode):
		return "+" + d
	default:
		return "+" + n.CountryCode + d
	}
}

// Normalize canonicalizes with the default country code.
func Normalize(input string) string {
	return NewNormalizer(DefaultCountryCode).Normalize(input)
}

// Valid reports whether s looks like an E.164 number: a leading plus and
// between 8 and 15 digits.
func Valid(s string) bool {
	if !strings.HasPrefix(s, "+") {
		return false
	}
	d := s[1:]
	if len(d) < 8 || len(d) > 15 {
		return false
	}
	return digits(d) == d
}

func digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			b.WriteRune(r)
		}
	}
	return b.String()
}
