package source

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/scripe/leadgen/internal/extract"
	"github.com/scripe/leadgen/internal/model"
	"github.com/scripe/leadgen/internal/resilience"
	"github.com/scripe/leadgen/pkg/directory"
)

const directoryMaxPages = 5

// Directory is a yellow-pages connector. Directories are country-specific,
// so each instance is gated to the countries its provider covers.
type Directory struct {
	client    directory.Client
	countries map[string]bool
}

// NewDirectory wraps a directory client covering the given countries.
func NewDirectory(client directory.Client, countries []string) *Directory {
	set := make(map[string]bool, len(countries))
	for _, c := range countries {
		set[strings.ToUpper(c)] = true
	}
	return &Directory{client: client, countries: set}
}

func (d *Directory) Name() string        { return "directory" }
func (d *Directory) Kind() Kind          { return KindDirectory }
func (d *Directory) Priority() int       { return 20 }
func (d *Directory) Confidence() float64 { return 0.85 }

func (d *Directory) SupportsCountry(code string) bool {
	return d.countries[strings.ToUpper(code)]
}

func (d *Directory) Search(ctx context.Context, q Query) ([]model.CandidateRecord, error) {
	var out []model.CandidateRecord
	for page := 1; page <= directoryMaxPages; page++ {
		query := directory.ListingQuery{
			What:    q.Term,
			Where:   q.City,
			Country: strings.ToUpper(q.Country),
			Page:    page,
		}
		resp, err := resilience.DoVal(ctx, policyFor(d.Name(), "listings"),
			func(ctx context.Context) (*directory.ListingPage, error) {
				return d.client.Listings(ctx, query)
			})
		if err != nil {
			return out, eris.Wrap(err, "source: directory listings")
		}

		for _, l := range resp.Listings {
			out = append(out, d.toCandidate(l, q))
			if q.Limit > 0 && len(out) >= q.Limit {
				return out, nil
			}
		}

		if len(resp.Listings) == 0 || page >= resp.TotalPages {
			return out, nil
		}
	}
	return out, nil
}

func (d *Directory) toCandidate(l directory.Listing, q Query) model.CandidateRecord {
	city := l.City
	if city == "" {
		city = q.City
	}
	min, max := parseEmployeeRange(l.Employees)
	return model.CandidateRecord{
		Name:        extract.NormalizeName(l.Name),
		Phone:       extract.NormalizePhone(l.Phone, q.Country),
		Email:       extract.NormalizeEmail(l.Email),
		Website:     extract.NormalizeURL(l.Website),
		Address:     l.Address,
		PostalCode:  l.PostalCode,
		City:        extract.NormalizeCity(city),
		Region:      l.Province,
		Country:     strings.ToUpper(q.Country),
		Category:    l.Category,
		Description: l.Description,
		EmployeeMin: min,
		EmployeeMax: max,
		SourceName:  d.Name(),
		RetrievedAt: time.Now().UTC(),
	}
}

// parseEmployeeRange decodes directory labels like "10-19" or "50+".
func parseEmployeeRange(label string) (int, int) {
	label = strings.TrimSpace(label)
	if label == "" {
		return 0, 0
	}
	if strings.HasSuffix(label, "+") {
		if n, err := strconv.Atoi(strings.TrimSuffix(label, "+")); err == nil {
			return n, 0
		}
		return 0, 0
	}
	parts := strings.SplitN(label, "-", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	lo, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	hi, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return 0, 0
	}
	return lo, hi
}
