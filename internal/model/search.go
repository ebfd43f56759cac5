package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// QualityTier selects the validation depth, source breadth, and cost model
// for a search. Tiers are ordered basic < standard < premium.
type QualityTier string

const (
	TierBasic    QualityTier = "basic"
	TierStandard QualityTier = "standard"
	TierPremium  QualityTier = "premium"
)

// ParseTier converts a string into a QualityTier.
func ParseTier(s string) (QualityTier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "basic":
		return TierBasic, nil
	case "standard", "":
		return TierStandard, nil
	case "premium":
		return TierPremium, nil
	default:
		return "", eris.Errorf("unknown quality tier: %q (valid: basic, standard, premium)", s)
	}
}

// Rank returns the tier's position in the basic < standard < premium order.
func (t QualityTier) Rank() int {
	switch t {
	case TierBasic:
		return 0
	case TierStandard:
		return 1
	case TierPremium:
		return 2
	default:
		return -1
	}
}

// SearchRequest holds the user-defined criteria for one search. It is
// immutable once a run starts.
type SearchRequest struct {
	Query            string      `json:"query"`
	Categories       []string    `json:"categories,omitempty"`
	Cities           []string    `json:"cities,omitempty"`
	Regions          []string    `json:"regions,omitempty"`
	Countries        []string    `json:"countries,omitempty"`
	KeywordsInclude  []string    `json:"keywords_include,omitempty"`
	KeywordsExclude  []string    `json:"keywords_exclude,omitempty"`
	EmployeeCountMin int         `json:"employee_count_min,omitempty"`
	EmployeeCountMax int         `json:"employee_count_max,omitempty"`
	TargetCount      int         `json:"target_count"`
	Tier             QualityTier `json:"quality_tier"`
}

// Validate checks the request before any run is created. Input errors are
// rejected here synchronously, with no state mutation.
func (r SearchRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" && len(r.Categories) == 0 && len(r.KeywordsInclude) == 0 {
		return eris.New("search request: query, categories, or include keywords required")
	}
	if r.TargetCount < 1 {
		return eris.New("search request: target_count must be at least 1")
	}
	if r.TargetCount > 10000 {
		return eris.New("search request: target_count must not exceed 10000")
	}
	if _, err := ParseTier(string(r.Tier)); err != nil {
		return eris.Wrap(err, "search request")
	}
	if r.EmployeeCountMin > 0 && r.EmployeeCountMax > 0 && r.EmployeeCountMin > r.EmployeeCountMax {
		return eris.New("search request: employee_count_min exceeds employee_count_max")
	}
	for _, c := range r.Countries {
		if len(c) != 2 {
			return eris.Errorf("search request: country code %q must be ISO 3166-1 alpha-2", c)
		}
	}
	return nil
}

// PrimaryCountry returns the first requested country, defaulting to IT.
func (r SearchRequest) PrimaryCountry() string {
	if len(r.Countries) > 0 {
		return strings.ToUpper(r.Countries[0])
	}
	return "IT"
}

// Terms returns every query term used for connector queries: the free-text
// query plus all categories.
func (r SearchRequest) Terms() []string {
	var terms []string
	if q := strings.TrimSpace(r.Query); q != "" {
		terms = append(terms, q)
	}
	for _, c := range r.Categories {
		if c = strings.TrimSpace(c); c != "" && !containsFold(terms, c) {
			terms = append(terms, c)
		}
	}
	return terms
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// Search is a saved search definition owned by one user. Runs execute it.
type Search struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	Name      string        `json:"name"`
	Request   SearchRequest `json:"request"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Estimate is the projected outcome of a search, computed before any credits
// are reserved.
type Estimate struct {
	ExpectedLeads      int     `json:"expected_leads"`
	AvailableLeads     int     `json:"available_leads"`
	ExpectedSeconds    int     `json:"expected_seconds"`
	ExpectedCostCredit float64 `json:"expected_cost_credits"`
	CostPerLead        float64 `json:"cost_per_lead"`
}
