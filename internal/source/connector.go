// Package source defines the lead source connectors and the registry the
// cascade pulls them from.
package source

import (
	"context"
	"errors"

	"github.com/scripe/leadgen/internal/model"
	"github.com/scripe/leadgen/internal/resilience"
	"github.com/scripe/leadgen/pkg/directory"
	"github.com/scripe/leadgen/pkg/places"
	"github.com/scripe/leadgen/pkg/serp"
	"github.com/scripe/leadgen/pkg/webscan"
)

// Kind groups connectors by how they obtain data.
type Kind string

const (
	KindAPI        Kind = "api"
	KindDirectory  Kind = "directory"
	KindScraper    Kind = "scraper"
	KindEnrichment Kind = "enrichment"
)

// Query is one unit of cascade work: a search term in a city.
type Query struct {
	Term    string
	City    string
	Country string // ISO 3166-1 alpha-2
	Limit   int    // max candidates wanted from this call
}

// Connector is a lead source. Implementations wrap a pkg client and map its
// payloads into candidate records.
type Connector interface {
	// Name returns the unique connector identifier (e.g. "places").
	Name() string

	// Kind returns how the connector obtains its data.
	Kind() Kind

	// Priority orders connectors in the cascade; lower runs first.
	Priority() int

	// Confidence is the base trust in this connector's data, in [0,1].
	// Feeds the corroboration component of the quality score.
	Confidence() float64

	// SupportsCountry reports whether the connector covers the country.
	SupportsCountry(code string) bool

	// Search returns candidates for one query. Results arrive in provider
	// order; the dedup engine downstream is order-insensitive.
	Search(ctx context.Context, q Query) ([]model.CandidateRecord, error)
}

// Enricher fills missing contact fields on an already-deduplicated lead.
// Run after the primary cascade, never as a discovery source.
type Enricher interface {
	Name() string
	Confidence() float64
	Enrich(ctx context.Context, lead *model.LeadRecord) (*model.CandidateRecord, error)
}

// retryable classifies connector call failures for the retry policy:
// network-level transience plus provider 408/429/5xx responses.
func retryable(err error) bool {
	if resilience.IsTransient(err) {
		return true
	}
	var perr *places.APIError
	if errors.As(err, &perr) {
		return resilience.RetryableStatus(perr.Status)
	}
	var serr *serp.APIError
	if errors.As(err, &serr) {
		return resilience.RetryableStatus(serr.Status)
	}
	var derr *directory.APIError
	if errors.As(err, &derr) {
		return resilience.RetryableStatus(derr.Status)
	}
	var werr *webscan.APIError
	if errors.As(err, &werr) {
		return resilience.RetryableStatus(werr.Status)
	}
	return false
}

// policyFor builds the retry policy connectors share, logging attempts under
// the connector's name.
func policyFor(name, op string) resilience.Policy {
	p := resilience.DefaultPolicy()
	p.Retryable = retryable
	p.OnRetry = resilience.LogRetries(name, op)
	return p
}
