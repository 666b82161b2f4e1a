package validation

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrEmptyInput is returned when the city is empty or whitespace-only.
var ErrEmptyInput = errors.New("city name is required")

// ErrCityTooLong is returned when the city length exceeds the maximum.
var ErrCityTooLong = errors.New("city name too long")

// ErrCityInvalidChars is returned when the city contains control characters.
var ErrCityInvalidChars = errors.New("city name contains control characters")

// ValidateCity checks user-entered city text before any fetch is issued. maxLen is in
// runes; zero disables the check. On success the input is returned unchanged, since
// the provider receives the city exactly as typed.
func ValidateCity(input string, maxLen int) (string, error) {
	if IsEmpty(input) {
		return "", ErrEmptyInput
	}
	if maxLen > 0 && utf8.RuneCountInString(input) > maxLen {
		return "", ErrCityTooLong
	}
	for _, r := range input {
		if unicode.IsControl(r) {
			return "", ErrCityInvalidChars
		}
	}
	return input, nil
}

// IsEmpty reports whether input would be rejected as empty.
func IsEmpty(input string) bool {
	return strings.TrimSpace(input) == ""
}
