package source

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/scripe/leadgen/internal/extract"
	"github.com/scripe/leadgen/internal/model"
	"github.com/scripe/leadgen/internal/resilience"
	"github.com/scripe/leadgen/pkg/places"
)

const placesPageSize = 20

// Places is the maps/places API connector, the highest-confidence discovery
// source. Covers all countries.
type Places struct {
	client places.Client
}

// NewPlaces wraps a places client as a connector.
func NewPlaces(client places.Client) *Places {
	return &Places{client: client}
}

func (p *Places) Name() string                { return "places" }
func (p *Places) Kind() Kind                  { return KindAPI }
func (p *Places) Priority() int               { return 10 }
func (p *Places) Confidence() float64         { return 0.9 }
func (p *Places) SupportsCountry(string) bool { return true }

func (p *Places) Search(ctx context.Context, q Query) ([]model.CandidateRecord, error) {
	var out []model.CandidateRecord
	pageToken := ""
	for {
		req := places.TextSearchRequest{
			Query:      q.Term + " " + q.City,
			RegionCode: strings.ToUpper(q.Country),
			PageSize:   placesPageSize,
			PageToken:  pageToken,
		}
		resp, err := resilience.DoVal(ctx, policyFor(p.Name(), "text_search"),
			func(ctx context.Context) (*places.TextSearchResponse, error) {
				return p.client.TextSearch(ctx, req)
			})
		if err != nil {
			return out, eris.Wrap(err, "source: places search")
		}

		for _, place := range resp.Places {
			if place.BusinessStatus == "CLOSED_PERMANENTLY" {
				continue
			}
			out = append(out, p.toCandidate(place, q))
			if q.Limit > 0 && len(out) >= q.Limit {
				return out, nil
			}
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			return out, nil
		}
	}
}

func (p *Places) toCandidate(place places.Place, q Query) model.CandidateRecord {
	category := q.Term
	if len(place.Types) > 0 {
		category = strings.ReplaceAll(place.Types[0], "_", " ")
	}
	return model.CandidateRecord{
		Name:       extract.NormalizeName(place.DisplayName.Text),
		Address:    place.FormattedAddress,
		City:       extract.NormalizeCity(q.City),
		Country:    strings.ToUpper(q.Country),
		Phone:      extract.NormalizePhone(place.InternationalPhoneNumber, q.Country),
		Website:    extract.NormalizeURL(place.WebsiteURI),
		Category:   category,
		SourceName: p.Name(),
		SourceURL:  "https://maps.google.com/?cid=" + place.ID,
		RetrievedAt: time.Now().UTC(),
	}
}
