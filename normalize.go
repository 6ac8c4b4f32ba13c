package fieldcrypt

import "strings"

// Normalizer maps a value to the canonical form that is blind indexed.
//
// IMPORTANT: the same normalizer must be used when the index is written and
// when it is searched, or lookups silently miss.
type Normalizer func(string) string

// NormalizeEmail lowercases and trims an email address.
//
// Example: " Alice@Example.COM " -> "alice@example.com"
var NormalizeEmail Normalizer = func(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeLineUserID trims surrounding whitespace from a LINE user ID.
// LINE IDs are case-sensitive ("U" followed by 32 hex digits), so case is kept.
var NormalizeLineUserID Normalizer = func(s string) string {
	return strings.TrimSpace(s)
}

// NormalizePhone keeps ASCII digits only.
//
// Example: "+886 912-345-678" -> "886912345678"
var NormalizePhone Normalizer = func(s string) string {
	return strings.Map(func(r rune) rune {
		if r < '0' || r > '9' {
			return -1
		}
		return r
	}, s)
}

// NormalizeNone returns the value unchanged (exact, case-sensitive match).
var NormalizeNone Normalizer = func(s string) string {
	return s
}

// NormalizerByName resolves the names accepted on the command line:
// "email", "line", "phone" and "none". ok is false for unknown names.
func NormalizerByName(name string) (norm Normalizer, ok bool) {
	switch strings.ToLower(name) {
	case "", "none":
		return NormalizeNone, true
	case "email":
		return NormalizeEmail, true
	case "line":
		return NormalizeLineUserID, true
	case "phone":
		return NormalizePhone, true
	default:
		return nil, false
	}
}
