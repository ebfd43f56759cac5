// Package extract normalizes raw business data (names, phones, emails, URLs)
// into the canonical forms used as dedup keys and export values.
package extract

import (
	"net/url"
	"strings"
)

// NormalizeURL canonicalizes a website URL: lowercased, scheme added when
// missing, trailing slash removed. Returns "" when the input is not a URL.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return ""
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || !strings.Contains(u.Host, ".") {
		return ""
	}
	path := strings.TrimRight(u.Path, "/")
	return u.Scheme + "://" + u.Host + path
}

// Domain extracts the registrable host from a URL, stripping the scheme,
// credentials, port, and a leading "www.". Used as the first dedup match key.
func Domain(raw string) string {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return ""
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	host = strings.TrimPrefix(host, "www.")
	if !strings.Contains(host, ".") {
		return ""
	}
	return host
}
