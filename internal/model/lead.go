package model

import "time"

// CandidateRecord is one raw observation of a business from a single source.
// Candidates are produced by connectors, consumed by the dedup engine, and
// never persisted standalone.
type CandidateRecord struct {
	Name        string    `json:"name"`
	Phone       string    `json:"phone,omitempty"`
	Email       string    `json:"email,omitempty"`
	Website     string    `json:"website,omitempty"`
	Address     string    `json:"address,omitempty"`
	PostalCode  string    `json:"postal_code,omitempty"`
	City        string    `json:"city,omitempty"`
	Region      string    `json:"region,omitempty"`
	Country     string    `json:"country,omitempty"`
	Category    string    `json:"category,omitempty"`
	Description string    `json:"description,omitempty"`
	EmployeeMin int       `json:"employee_count_min,omitempty"`
	EmployeeMax int       `json:"employee_count_max,omitempty"`
	SourceName  string    `json:"source_name"`
	SourceURL   string    `json:"source_url,omitempty"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

// ValidationState is the tri-state outcome of a field validation. Network
// errors during deep checks leave a field unvalidated rather than invalid.
type ValidationState string

const (
	ValidationUnchecked   ValidationState = "unchecked"
	ValidationValid       ValidationState = "valid"
	ValidationInvalid     ValidationState = "invalid"
	ValidationUnvalidated ValidationState = "unvalidated"
)

// LeadRecord is the durable unit of a search result: candidates referring to
// the same business merged into one record. It is mutated only while its
// owning run is live.
type LeadRecord struct {
	ID       string `json:"id"`
	SearchID string `json:"search_id"`

	Name        string   `json:"name"`
	Phone       string   `json:"phone,omitempty"`
	AltPhones   []string `json:"alternative_phones,omitempty"`
	Email       string   `json:"email,omitempty"`
	Website     string   `json:"website,omitempty"`
	Address     string   `json:"address,omitempty"`
	PostalCode  string   `json:"postal_code,omitempty"`
	City        string   `json:"city,omitempty"`
	Region      string   `json:"region,omitempty"`
	Country     string   `json:"country,omitempty"`
	Category    string   `json:"category,omitempty"`
	Description string   `json:"description,omitempty"`
	EmployeeMin int      `json:"employee_count_min,omitempty"`
	EmployeeMax int      `json:"employee_count_max,omitempty"`

	Sources      []string `json:"sources"`
	SourcesCount int      `json:"sources_count"`

	PhoneValidation   ValidationState `json:"phone_validation"`
	EmailValidation   ValidationState `json:"email_validation"`
	WebsiteValidation ValidationState `json:"website_validation"`

	MatchScore      float64 `json:"match_score"`
	ConfidenceScore float64 `json:"confidence_score"`
	QualityScore    float64 `json:"quality_score"`
	BelowThreshold  bool    `json:"below_threshold"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PhoneValidated reports whether the primary phone was confirmed valid.
func (l *LeadRecord) PhoneValidated() bool { return l.PhoneValidation == ValidationValid }

// EmailValidated reports whether the email was confirmed valid.
func (l *LeadRecord) EmailValidated() bool { return l.EmailValidation == ValidationValid }

// WebsiteValidated reports whether the website was confirmed reachable.
func (l *LeadRecord) WebsiteValidated() bool { return l.WebsiteValidation == ValidationValid }

// AllPhones returns the primary phone followed by alternates.
func (l *LeadRecord) AllPhones() []string {
	if l.Phone == "" {
		return l.AltPhones
	}
	out := make([]string, 0, 1+len(l.AltPhones))
	out = append(out, l.Phone)
	out = append(out, l.AltPhones...)
	return out
}

// HasSource reports whether a connector already contributed to this lead.
func (l *LeadRecord) HasSource(name string) bool {
	for _, s := range l.Sources {
		if s == name {
			return true
		}
	}
	return false
}

// Incomplete reports whether the lead is missing contact fields the
// enrichment pass can fill from the business's own website.
func (l *LeadRecord) Incomplete() bool {
	return l.Website != "" && (l.Phone == "" || l.Email == "")
}
