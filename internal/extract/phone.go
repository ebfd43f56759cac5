package extract

import (
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// phonePatterns match the phone formats seen across provider payloads and
// free text on business websites.
var phonePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\+\d{1,3}[\s\-.]?\d{1,4}[\s\-.]?\d{1,4}[\s\-.]?\d{1,9}`),
	regexp.MustCompile(`0\d{2,4}[\s\-.]?\d{5,8}`),
	regexp.MustCompile(`\(\d{2,4}\)[\s\-.]?\d{5,8}`),
	regexp.MustCompile(`\d{3}[\s\-.]\d{3}[\s\-.]\d{4}`),
}

// PhoneLineType classifies a parsed number.
type PhoneLineType string

const (
	LineFixed   PhoneLineType = "landline"
	LineMobile  PhoneLineType = "mobile"
	LineVoIP    PhoneLineType = "voip"
	LineOther   PhoneLineType = "other"
	LineUnknown PhoneLineType = "unknown"
)

// NormalizePhone canonicalizes a phone number to E.164, the second dedup
// match key. Returns "" when the number does not parse or is not valid for
// the region.
func NormalizePhone(raw, region string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if region == "" {
		region = "IT"
	}
	num, err := phonenumbers.Parse(raw, strings.ToUpper(region))
	if err != nil {
		return ""
	}
	if !phonenumbers.IsValidNumber(num) {
		return ""
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

// PhoneType returns the line type for a number, used by the premium-tier
// carrier classification.
func PhoneType(raw, region string) PhoneLineType {
	if region == "" {
		region = "IT"
	}
	num, err := phonenumbers.Parse(raw, strings.ToUpper(region))
	if err != nil {
		return LineUnknown
	}
	switch phonenumbers.GetNumberType(num) {
	case phonenumbers.FIXED_LINE, phonenumbers.FIXED_LINE_OR_MOBILE:
		return LineFixed
	case phonenumbers.MOBILE:
		return LineMobile
	case phonenumbers.VOIP:
		return LineVoIP
	case phonenumbers.UNKNOWN:
		return LineUnknown
	default:
		return LineOther
	}
}

// IsPossiblePhone reports whether the number at least resembles a dialable
// number for the region, without requiring full validity.
func IsPossiblePhone(raw, region string) bool {
	if region == "" {
		region = "IT"
	}
	num, err := phonenumbers.Parse(raw, strings.ToUpper(region))
	if err != nil {
		return false
	}
	return phonenumbers.IsPossibleNumber(num)
}

// PhonesFromText extracts phone numbers from free text and canonicalizes
// them, deduplicating by E.164 form. Used by the website enrichment pass.
func PhonesFromText(text, region string) []string {
	if text == "" {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, pat := range phonePatterns {
		for _, m := range pat.FindAllString(text, -1) {
			if !IsPossiblePhone(m, region) {
				continue
			}
			e164 := NormalizePhone(m, region)
			if e164 == "" || seen[e164] {
				continue
			}
			seen[e164] = true
			out = append(out, e164)
		}
	}
	return out
}
