// Package validation checks user-supplied city names before they reach the upstream API.
package validation

import (
	"errors"
	"strings"
	"unicode"
)

// Default length bounds in runes.
const (
	DefaultMinCityLength = 1
	DefaultMaxCityLength = 100
)

// ErrCityEmpty is returned when the city is empty or whitespace-only after trim.
var ErrCityEmpty = errors.New("city is required")

// ErrCityTooShort is returned when the city length is below the minimum.
var ErrCityTooShort = errors.New("city too short")

// ErrCityTooLong is returned when the city length exceeds the maximum.
var ErrCityTooLong = errors.New("city too long")

// ErrCityInvalidChars is returned when the city contains disallowed characters.
var ErrCityInvalidChars = errors.New("city contains invalid characters")

// IsValidationError reports whether err came from ValidateCity.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrCityEmpty) || errors.Is(err, ErrCityTooShort) ||
		errors.Is(err, ErrCityTooLong) || errors.Is(err, ErrCityInvalidChars)
}

// ValidateCity trims the input, enforces length bounds (minLen, maxLen in runes; zero
// disables a bound) and restricts to letters, digits, space and , - . '
// ("St. John's", "London,uk"). Returns the trimmed city.
func ValidateCity(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrCityEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrCityTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrCityTooLong
	}
	for _, c := range r {
		if !isAllowedCityRune(c) {
			return "", ErrCityInvalidChars
		}
	}
	return s, nil
}

// NormalizeCity is the comparison key for a validated city.
func NormalizeCity(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}

func isAllowedCityRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}
