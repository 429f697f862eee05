// File: internal/rut/rut.go

// Package rut validates and normalizes Chilean national identifiers (RUT).
// A RUT consists of a 7 or 8 digit body, a dash, and a single check
// character derived from a weighted mod-11 checksum.
package rut

import (
	"regexp"
	"strings"
)

// format is the canonical shape: 7-8 digits, dash, digit or K.
var format = regexp.MustCompile(`^\d{7,8}-[\dK]$`)

// Normalize strips whitespace and thousands separators, upper-cases the
// check character, and inserts the dash before the final character when it
// is missing. It does not validate the checksum.
func Normalize(raw string) string {
	r := strings.NewReplacer(" ", "", ".", "")
	cleaned := strings.ToUpper(r.Replace(raw))

	if !strings.Contains(cleaned, "-") && len(cleaned) >= 8 {
		cleaned = cleaned[:len(cleaned)-1] + "-" + cleaned[len(cleaned)-1:]
	}
	return cleaned
}

// Valid reports whether raw is a well-formed RUT with a correct check
// character. Input is normalized first, so "12.345.678-5" and "12345678-5"
// are equivalent.
func Valid(raw string) bool {
	r := Normalize(raw)
	if !format.MatchString(r) {
		return false
	}

	body, check, _ := strings.Cut(r, "-")
	return checkChar(body) == check
}

// checkChar computes the expected check character for a digit body using
// the mod-11 algorithm with weights cycling 2..7 from the rightmost digit.
func checkChar(body string) string {
	sum := 0
	weight := 2
	for i := len(body) - 1; i >= 0; i-- {
		sum += int(body[i]-'0') * weight
		weight++
		if weight > 7 {
			weight = 2
		}
	}

	switch d := 11 - sum%11; d {
	case 11:
		return "0"
	case 10:
		return "K"
	default:
		return string(rune('0' + d))
	}
}
