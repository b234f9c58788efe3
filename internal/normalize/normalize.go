// Package normalize holds small canonicalization helpers shared by the
// identity provider and the credential gateway.
package normalize

import "strings"

// Email returns a normalized form of an email address suitable for storage
// and comparisons. Normalization currently trims surrounding whitespace and
// lower-cases the address.
func Email(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// ValidEmail reports whether the address has a plausible shape: one "@",
// non-empty local part, and a domain containing an interior dot. This is a
// fast local check, not RFC validation; the provider remains the authority.
func ValidEmail(e string) bool {
	e = strings.TrimSpace(e)
	at := strings.IndexByte(e, '@')
	if at <= 0 || at != strings.LastIndexByte(e, '@') {
		return false
	}
	domain := e[at+1:]
	dot := strings.IndexByte(domain, '.')
	return dot > 0 && dot < len(domain)-1
}
