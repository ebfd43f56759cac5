package extract

import (
	"regexp"
	"strings"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

var emailScanPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

// disposableDomains hosts throwaway mailboxes; addresses on them are treated
// as invalid outright.
var disposableDomains = map[string]bool{
	"tempmail.com":       true,
	"throwaway.email":    true,
	"guerrillamail.com":  true,
	"10minutemail.com":   true,
	"mailinator.com":     true,
	"trashmail.com":      true,
	"yopmail.com":        true,
	"fakeinbox.com":      true,
	"sharklasers.com":    true,
}

// typoDomains maps common misspellings of major providers to the intended
// domain.
var typoDomains = map[string]string{
	"gmial.com":   "gmail.com",
	"gmai.com":    "gmail.com",
	"gamil.com":   "gmail.com",
	"hotmai.com":  "hotmail.com",
	"hotnail.com": "hotmail.com",
	"yahooo.com":  "yahoo.com",
	"yaho.com":    "yahoo.com",
}

// NormalizeEmail lowercases and trims an address; returns "" when the format
// is not a plausible address.
func NormalizeEmail(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if !emailPattern.MatchString(raw) {
		return ""
	}
	return raw
}

// EmailDomain returns the domain part of a normalized address.
func EmailDomain(email string) string {
	i := strings.LastIndexByte(email, '@')
	if i < 0 {
		return ""
	}
	return email[i+1:]
}

// IsDisposableDomain reports whether the domain hosts throwaway mailboxes.
func IsDisposableDomain(domain string) bool {
	return disposableDomains[strings.ToLower(domain)]
}

// SuggestDomain returns the likely intended domain for a common typo, or ""
// when none is known.
func SuggestDomain(domain string) string {
	return typoDomains[strings.ToLower(domain)]
}

// EmailsFromText extracts addresses from free text, normalized and
// deduplicated, skipping disposable domains. Used by the website enrichment
// pass.
func EmailsFromText(text string) []string {
	if text == "" {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, m := range emailScanPattern.FindAllString(text, -1) {
		email := NormalizeEmail(m)
		if email == "" || seen[email] {
			continue
		}
		if IsDisposableDomain(EmailDomain(email)) {
			continue
		}
		seen[email] = true
		out = append(out, email)
	}
	return out
}
