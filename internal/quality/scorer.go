package quality

import (
	"math"
	"strings"

	"github.com/scripe/leadgen/internal/extract"
	"github.com/scripe/leadgen/internal/model"
)

// Weights controls how the score components combine. They should sum to 1;
// Scorer normalizes if they don't.
type Weights struct {
	Completeness  float64
	Validation    float64
	Corroboration float64
	QueryMatch    float64

	// CorroborationHalfStep is the h in 1-2^(-(n-1)/h): how many extra
	// sources halve the remaining distance to full corroboration.
	CorroborationHalfStep float64
}

// DefaultWeights returns the production weighting.
func DefaultWeights() Weights {
	return Weights{
		Completeness:          0.35,
		Validation:            0.30,
		Corroboration:         0.20,
		QueryMatch:            0.15,
		CorroborationHalfStep: 1.0,
	}
}

// fieldWeights is the relative importance of each field inside the
// completeness component.
var fieldWeights = []struct {
	weight float64
	value  func(*model.LeadRecord) float64
}{
	{0.15, func(l *model.LeadRecord) float64 { return presence(l.Name) }},
	{0.20, phoneValue},
	{0.15, emailValue},
	{0.15, websiteValue},
	{0.10, addressValue},
	{0.10, func(l *model.LeadRecord) float64 { return presence(l.City) }},
	{0.10, func(l *model.LeadRecord) float64 { return presence(l.Category) }},
	{0.05, descriptionValue},
}

// Breakdown is a scored lead's components, each in [0,1], with Total on the
// 0-100 scale.
type Breakdown struct {
	Completeness  float64
	Validation    float64
	Corroboration float64
	QueryMatch    float64
	Total         float64
}

// Scorer computes quality scores. Pure: no I/O, deterministic for a given
// lead and request.
type Scorer struct {
	weights Weights
}

// NewScorer creates a scorer; zero-valued weights fall back to defaults.
func NewScorer(w Weights) *Scorer {
	if w.Completeness+w.Validation+w.Corroboration+w.QueryMatch <= 0 {
		w = DefaultWeights()
	}
	if w.CorroborationHalfStep <= 0 {
		w.CorroborationHalfStep = 1.0
	}
	return &Scorer{weights: w}
}

// Score computes the component breakdown for a lead against its request.
func (s *Scorer) Score(lead *model.LeadRecord, req model.SearchRequest) Breakdown {
	b := Breakdown{
		Completeness:  completeness(lead),
		Validation:    validationComponent(lead),
		Corroboration: s.corroboration(lead.SourcesCount),
		QueryMatch:    queryMatch(lead, req),
	}

	w := s.weights
	sum := w.Completeness + w.Validation + w.Corroboration + w.QueryMatch
	total := (w.Completeness*b.Completeness +
		w.Validation*b.Validation +
		w.Corroboration*b.Corroboration +
		w.QueryMatch*b.QueryMatch) / sum * 100

	b.Total = clamp(total, 0, 100)
	return b
}

// Apply scores the lead and records the outcome on it, flagging leads under
// the policy threshold.
func (s *Scorer) Apply(lead *model.LeadRecord, req model.SearchRequest, policy TierPolicy) {
	b := s.Score(lead, req)
	lead.QualityScore = b.Total
	lead.MatchScore = clamp(b.QueryMatch*100, 0, 100)
	lead.ConfidenceScore = clamp(b.Corroboration*100, 0, 100)
	lead.BelowThreshold = b.Total < policy.MinScore
}

func completeness(l *model.LeadRecord) float64 {
	var got, max float64
	for _, f := range fieldWeights {
		max += f.weight
		got += f.weight * f.value(l)
	}
	return got / max
}

func presence(v string) float64 {
	if strings.TrimSpace(v) == "" {
		return 0
	}
	return 1
}

func phoneValue(l *model.LeadRecord) float64 {
	if l.Phone == "" {
		return 0
	}
	if extract.NormalizePhone(l.Phone, l.Country) == "" {
		return 0.5
	}
	return 1
}

func emailValue(l *model.LeadRecord) float64 {
	if l.Email == "" {
		return 0
	}
	if extract.NormalizeEmail(l.Email) == "" {
		return 0.3
	}
	if extract.IsDisposableDomain(extract.EmailDomain(l.Email)) {
		return 0.3
	}
	return 1
}

func websiteValue(l *model.LeadRecord) float64 {
	if l.Website == "" {
		return 0
	}
	if extract.NormalizeURL(l.Website) == "" {
		return 0.5
	}
	return 1
}

// addressValue gives full credit to street-level addresses, partial to
// anything without a house number.
func addressValue(l *model.LeadRecord) float64 {
	if l.Address == "" {
		return 0
	}
	for _, r := range l.Address {
		if r >= '0' && r <= '9' {
			return 1
		}
	}
	return 0.7
}

func descriptionValue(l *model.LeadRecord) float64 {
	switch {
	case l.Description == "":
		return 0
	case len(l.Description) < 20:
		return 0.5
	default:
		return 1
	}
}

// validationComponent averages the tri-state outcomes over the fields that
// were actually checked: confirmed valid 1.0, present but unvalidated 0.5,
// confirmed invalid 0.0. With nothing checked it stays neutral.
func validationComponent(l *model.LeadRecord) float64 {
	var sum float64
	var n int
	for _, state := range []model.ValidationState{
		l.PhoneValidation, l.EmailValidation, l.WebsiteValidation,
	} {
		switch state {
		case model.ValidationValid:
			sum += 1.0
			n++
		case model.ValidationUnvalidated:
			sum += 0.5
			n++
		case model.ValidationInvalid:
			n++
		}
	}
	if n == 0 {
		return 0.5
	}
	return sum / float64(n)
}

// corroboration saturates with the number of independent sources: one source
// scores zero, each additional h sources halve the remaining gap.
func (s *Scorer) corroboration(sources int) float64 {
	if sources <= 1 {
		return 0
	}
	return 1 - math.Exp2(-float64(sources-1)/s.weights.CorroborationHalfStep)
}

// queryMatch measures how well the lead fits what was asked for. Any
// exclude-keyword hit forces the component to near zero.
func queryMatch(l *model.LeadRecord, req model.SearchRequest) float64 {
	haystack := strings.ToLower(strings.Join([]string{
		l.Name, l.Category, l.Description,
	}, " "))

	for _, kw := range req.KeywordsExclude {
		if kw != "" && strings.Contains(haystack, strings.ToLower(kw)) {
			return 0.05
		}
	}

	var sum float64
	var n int

	if len(req.Categories) > 0 || req.Query != "" {
		terms := append([]string{}, req.Categories...)
		if req.Query != "" {
			terms = append(terms, req.Query)
		}
		sum += termOverlap(haystack, terms)
		n++
	}

	if len(req.Cities) > 0 {
		cityScore := 0.0
		for _, city := range req.Cities {
			if extract.CityKey(city) == extract.CityKey(l.City) {
				cityScore = 1.0
				break
			}
		}
		sum += cityScore
		n++
	}

	if len(req.KeywordsInclude) > 0 {
		hits := 0
		for _, kw := range req.KeywordsInclude {
			if kw != "" && strings.Contains(haystack, strings.ToLower(kw)) {
				hits++
			}
		}
		sum += float64(hits) / float64(len(req.KeywordsInclude))
		n++
	}

	if n == 0 {
		return 1
	}
	return sum / float64(n)
}

// termOverlap scores the best word-level overlap between the haystack and
// any of the terms.
func termOverlap(haystack string, terms []string) float64 {
	best := 0.0
	for _, term := range terms {
		words := strings.Fields(strings.ToLower(term))
		if len(words) == 0 {
			continue
		}
		hits := 0
		for _, w := range words {
			if strings.Contains(haystack, w) {
				hits++
			}
		}
		if score := float64(hits) / float64(len(words)); score > best {
			best = score
		}
	}
	return best
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
