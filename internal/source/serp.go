package source

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/scripe/leadgen/internal/extract"
	"github.com/scripe/leadgen/internal/model"
	"github.com/scripe/leadgen/internal/resilience"
	"github.com/scripe/leadgen/pkg/serp"
)

const serpMaxPages = 3

// Serp discovers businesses through search-engine results. Lowest confidence
// of the discovery sources; runs last in the cascade.
type Serp struct {
	client serp.Client
}

// NewSerp wraps a SERP client as a connector.
func NewSerp(client serp.Client) *Serp {
	return &Serp{client: client}
}

func (s *Serp) Name() string                { return "serp" }
func (s *Serp) Kind() Kind                  { return KindScraper }
func (s *Serp) Priority() int               { return 30 }
func (s *Serp) Confidence() float64         { return 0.6 }
func (s *Serp) SupportsCountry(string) bool { return true }

func (s *Serp) Search(ctx context.Context, q Query) ([]model.CandidateRecord, error) {
	var out []model.CandidateRecord
	for page := 1; page <= serpMaxPages; page++ {
		query := serp.Query{
			Text:     q.Term + " " + q.City,
			Location: q.City,
			Country:  strings.ToLower(q.Country),
			Page:     page,
		}
		resp, err := resilience.DoVal(ctx, policyFor(s.Name(), "search"),
			func(ctx context.Context) (*serp.Results, error) {
				return s.client.Search(ctx, query)
			})
		if err != nil {
			return out, eris.Wrap(err, "source: serp search")
		}

		for _, local := range resp.Local {
			out = append(out, s.localToCandidate(local, q))
			if q.Limit > 0 && len(out) >= q.Limit {
				return out, nil
			}
		}
		for _, organic := range resp.Organic {
			c, ok := s.organicToCandidate(organic, q)
			if !ok {
				continue
			}
			out = append(out, c)
			if q.Limit > 0 && len(out) >= q.Limit {
				return out, nil
			}
		}

		if len(resp.Local) == 0 && len(resp.Organic) == 0 {
			return out, nil
		}
	}
	return out, nil
}

func (s *Serp) localToCandidate(l serp.LocalResult, q Query) model.CandidateRecord {
	return model.CandidateRecord{
		Name:        extract.NormalizeName(l.Title),
		Phone:       extract.NormalizePhone(l.Phone, q.Country),
		Website:     extract.NormalizeURL(l.Website),
		Address:     l.Address,
		City:        extract.NormalizeCity(q.City),
		Country:     strings.ToUpper(q.Country),
		Category:    l.Type,
		SourceName:  s.Name(),
		RetrievedAt: time.Now().UTC(),
	}
}

// organicToCandidate keeps only organic results that look like a business's
// own site: a resolvable link plus a usable title.
func (s *Serp) organicToCandidate(o serp.OrganicResult, q Query) (model.CandidateRecord, bool) {
	website := extract.NormalizeURL(o.Link)
	if website == "" {
		return model.CandidateRecord{}, false
	}
	domain := extract.Domain(website)
	if isAggregatorDomain(domain) {
		return model.CandidateRecord{}, false
	}
	name := extract.NormalizeName(cleanSERPTitle(o.Title))
	if name == "" {
		return model.CandidateRecord{}, false
	}
	return model.CandidateRecord{
		Name:        name,
		Website:     website,
		City:        extract.NormalizeCity(q.City),
		Country:     strings.ToUpper(q.Country),
		Category:    q.Term,
		Description: o.Snippet,
		SourceName:  s.Name(),
		SourceURL:   o.Link,
		RetrievedAt: time.Now().UTC(),
	}, true
}

// aggregatorDomains are portals whose results describe many businesses, not
// the one owning the domain.
var aggregatorDomains = map[string]bool{
	"facebook.com":     true,
	"instagram.com":    true,
	"linkedin.com":     true,
	"tripadvisor.com":  true,
	"tripadvisor.it":   true,
	"yelp.com":         true,
	"paginegialle.it":  true,
	"gelbeseiten.de":   true,
	"herold.at":        true,
	"wikipedia.org":    true,
	"google.com":       true,
}

func isAggregatorDomain(domain string) bool {
	if aggregatorDomains[domain] {
		return true
	}
	// Subdomains of aggregators count too.
	for agg := range aggregatorDomains {
		if strings.HasSuffix(domain, "."+agg) {
			return true
		}
	}
	return false
}

// cleanSERPTitle strips the site-name suffix search engines append after a
// separator.
func cleanSERPTitle(title string) string {
	for _, sep := range []string{" | ", " - ", " – "} {
		if i := strings.Index(title, sep); i > 0 {
			return title[:i]
		}
	}
	return title
}
