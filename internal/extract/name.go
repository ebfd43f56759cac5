package extract

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// legalSuffixes are company-form suffixes stripped when building dedup keys,
// so "Rossi S.r.l." and "Rossi SRL" collapse to the same business.
var legalSuffixes = []string{
	"s.p.a.", "spa", "s.r.l.", "srl", "s.a.s.", "sas", "s.n.c.", "snc",
	"s.s.", "gmbh", "ag", "kg", "ohg", "ug", "e.u.", "sarl", "sa",
	"ltd", "llc", "inc", "corp", "co",
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldDiacritics removes combining marks so "Müller" and "Muller" compare equal.
func foldDiacritics(s string) string {
	out, _, err := transform.String(stripMarks, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeName cleans a company name for display: trimmed, inner whitespace
// collapsed.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// NameKey normalizes a company name for dedup matching: lowercase, diacritics
// folded, punctuation dropped, legal suffixes removed.
func NameKey(name string) string {
	s := strings.ToLower(foldDiacritics(name))

	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '.':
			// Dots join, not split, so "s.r.l." collapses to "srl".
		default:
			b.WriteRune(' ')
		}
	}

	words := strings.Fields(b.String())
	kept := words[:0]
	for _, w := range words {
		if !isLegalSuffix(w) {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}

func isLegalSuffix(word string) bool {
	for _, suffix := range legalSuffixes {
		if word == strings.ReplaceAll(suffix, ".", "") {
			return true
		}
	}
	return false
}

// CityKey normalizes a city name for dedup matching.
func CityKey(city string) string {
	return strings.Join(strings.Fields(strings.ToLower(foldDiacritics(city))), " ")
}

// NormalizeCity title-cases a city name for display.
func NormalizeCity(city string) string {
	fields := strings.Fields(city)
	for i, f := range fields {
		r := []rune(strings.ToLower(f))
		if len(r) > 0 {
			r[0] = unicode.ToUpper(r[0])
		}
		fields[i] = string(r)
	}
	return strings.Join(fields, " ")
}
