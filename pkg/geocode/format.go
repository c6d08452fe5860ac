package geocode

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// FormatAddress builds the one-line query string for an address. Vietnamese
// names arrive in mixed Unicode forms depending on the input method used at
// import time, so everything is normalized to NFC before hitting the API
// (and the cacheable query string stays stable).
func FormatAddress(addr AddressInput) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{addr.Name, addr.District, addr.City} {
		p = NormalizeText(p)
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// NormalizeText NFC-normalizes a single field and squeezes whitespace. Used
// both for query parts and for cleaning imported ward fields.
func NormalizeText(s string) string {
	return collapseSpaces(norm.NFC.String(s))
}

// collapseSpaces trims and squeezes runs of whitespace to a single space.
func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
