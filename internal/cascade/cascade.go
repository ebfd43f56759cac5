// Package cascade orchestrates the source waterfall for one run: it sweeps
// the city×term work list across the tier's connectors, streams candidates
// into the dedup engine, and stops once the target count is reached.
package cascade

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/scripe/leadgen/internal/dedupe"
	"github.com/scripe/leadgen/internal/model"
	"github.com/scripe/leadgen/internal/quality"
	"github.com/scripe/leadgen/internal/source"
)

// Config bounds one cascade run.
type Config struct {
	// ConnectorConcurrency caps connectors queried in parallel per city.
	ConnectorConcurrency int `yaml:"connector_concurrency" mapstructure:"connector_concurrency"`

	// PerCallTimeout bounds a single connector Search call.
	PerCallTimeout time.Duration `yaml:"per_call_timeout" mapstructure:"per_call_timeout"`

	// CorroborationPasses is how many spillover connectors may re-sweep
	// searched cities after the target is reached, to raise source counts.
	CorroborationPasses int `yaml:"corroboration_passes" mapstructure:"corroboration_passes"`

	// EnrichTimeout bounds a single enrichment call.
	EnrichTimeout time.Duration `yaml:"enrich_timeout" mapstructure:"enrich_timeout"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ConnectorConcurrency: 3,
		PerCallTimeout:       30 * time.Second,
		CorroborationPasses:  1,
		EnrichTimeout:        20 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ConnectorConcurrency <= 0 {
		c.ConnectorConcurrency = d.ConnectorConcurrency
	}
	if c.PerCallTimeout <= 0 {
		c.PerCallTimeout = d.PerCallTimeout
	}
	if c.CorroborationPasses < 0 {
		c.CorroborationPasses = 0
	}
	if c.EnrichTimeout <= 0 {
		c.EnrichTimeout = d.EnrichTimeout
	}
	return c
}

// Update is a progress snapshot pushed to the caller as the cascade moves.
// Percent is capped at 99; only the run controller declares completion.
type Update struct {
	Percent       int
	CurrentSource string
	Found         int
	CitiesSwept   int
	TotalCities   int
}

// Result is what a finished cascade hands back. Leads are in first-seen
// order, capped at the request's target count. SourceCalls and SourceErrors
// count primary-sweep connector invocations so the caller can tell "nothing
// to find" apart from "every source failed".
type Result struct {
	Leads        []*model.LeadRecord
	CitiesSwept  int
	SourceCalls  int
	SourceErrors int
}

// Orchestrator runs cascades against a connector registry.
type Orchestrator struct {
	registry *source.Registry
	cfg      Config
}

// New creates an orchestrator.
func New(registry *source.Registry, cfg Config) *Orchestrator {
	return &Orchestrator{registry: registry, cfg: cfg.withDefaults()}
}

// workItem is one connector invocation: a term searched in a city.
type workItem struct {
	city    string
	country string
}

// Run sweeps cities until the target count is reached. A connector failure
// marks it unhealthy and the sweep continues; only context cancellation
// aborts the run.
func (o *Orchestrator) Run(
	ctx context.Context,
	searchID string,
	req model.SearchRequest,
	policy quality.TierPolicy,
	onLead func(lead *model.LeadRecord, merged bool),
	onProgress func(Update),
) (*Result, error) {
	countries := req.Countries
	if len(countries) == 0 {
		countries = []string{req.PrimaryCountry()}
	}

	var work []workItem
	for _, country := range countries {
		for _, city := range citiesFor(country, req.Cities, req.Regions) {
			work = append(work, workItem{city: city, country: country})
		}
	}

	terms := req.Terms()
	if len(terms) == 0 {
		terms = req.KeywordsInclude
	}

	target := req.TargetCount
	engine := dedupe.New(searchID)

	var mu sync.Mutex // guards onLead/onProgress and swept bookkeeping
	swept := 0
	calls, failures := 0, 0
	spillover := map[string]bool{} // connectors cut by the MaxSources cap

	emit := func(cur string) {
		if onProgress == nil {
			return
		}
		pct := 0
		if target > 0 {
			pct = engine.Len() * 100 / target
		}
		if pct > 99 {
			pct = 99
		}
		onProgress(Update{
			Percent:       pct,
			CurrentSource: cur,
			Found:         engine.Len(),
			CitiesSwept:   swept,
			TotalCities:   len(work),
		})
	}

	runConnector := func(ctx context.Context, conn source.Connector, q source.Query) {
		mu.Lock()
		emit(conn.Name())
		mu.Unlock()

		callCtx, cancel := context.WithTimeout(ctx, o.cfg.PerCallTimeout)
		defer cancel()

		candidates, err := conn.Search(callCtx, q)
		o.registry.MarkResult(conn.Name(), err)
		mu.Lock()
		calls++
		if err != nil {
			failures++
		}
		mu.Unlock()
		if err != nil {
			zap.L().Warn("cascade: connector search failed",
				zap.String("source", conn.Name()),
				zap.String("city", q.City),
				zap.Error(err),
			)
			return
		}

		for _, c := range candidates {
			lead, merged := engine.Upsert(c)
			if lead == nil {
				continue
			}
			mu.Lock()
			if onLead != nil {
				onLead(lead, merged)
			}
			emit(conn.Name())
			mu.Unlock()
		}
	}

	zap.L().Info("cascade: started",
		zap.String("search_id", searchID),
		zap.Int("target", target),
		zap.Int("cities", len(work)),
		zap.Int("terms", len(terms)),
		zap.String("tier", string(policy.Tier)),
	)

sweep:
	for _, item := range work {
		if engine.Len() >= target {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		connectors := o.registry.Select(item.country, policy.Sources)
		if policy.MaxSources > 0 && len(connectors) > policy.MaxSources {
			mu.Lock()
			for _, c := range connectors[policy.MaxSources:] {
				spillover[c.Name()] = true
			}
			mu.Unlock()
			connectors = connectors[:policy.MaxSources]
		}

		for _, term := range terms {
			if engine.Len() >= target {
				break sweep
			}

			remaining := target - engine.Len()
			limit := remaining * 2
			if limit > 100 {
				limit = 100
			}
			q := source.Query{
				Term:    term,
				City:    item.city,
				Country: item.country,
				Limit:   limit,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(o.cfg.ConnectorConcurrency)
			for _, conn := range connectors {
				conn := conn
				g.Go(func() error {
					runConnector(gctx, conn, q)
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return nil, err
			}
		}

		mu.Lock()
		swept++
		mu.Unlock()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	o.corroborate(ctx, engine, req, terms, spillover, onLead, &mu, emit)
	o.enrich(ctx, engine, policy, onLead, &mu, emit)

	// both passes drain quietly on cancellation; surface it so the caller
	// records the right terminal state
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	leads := engine.Leads()
	if len(leads) > target {
		leads = leads[:target]
	}

	zap.L().Info("cascade: completed",
		zap.String("search_id", searchID),
		zap.Int("found", len(leads)),
		zap.Int("target", target),
		zap.Int("cities_swept", swept),
	)

	return &Result{
		Leads:        leads,
		CitiesSwept:  swept,
		SourceCalls:  calls,
		SourceErrors: failures,
	}, nil
}

// corroborate re-sweeps the cities of single-source leads with connectors
// that were cut by the tier's source cap. Merges raise SourcesCount; no new
// leads are admitted here.
func (o *Orchestrator) corroborate(
	ctx context.Context,
	engine *dedupe.Engine,
	req model.SearchRequest,
	terms []string,
	spillover map[string]bool,
	onLead func(*model.LeadRecord, bool),
	mu *sync.Mutex,
	emit func(string),
) {
	if o.cfg.CorroborationPasses == 0 || len(spillover) == 0 {
		return
	}

	// cities that actually hold single-source leads
	cities := map[string]string{} // city -> country
	for _, lead := range engine.Leads() {
		if lead.SourcesCount <= 1 && lead.City != "" {
			cities[lead.City] = lead.Country
		}
	}
	if len(cities) == 0 {
		return
	}

	names := make([]string, 0, len(spillover))
	for name := range spillover {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > o.cfg.CorroborationPasses {
		names = names[:o.cfg.CorroborationPasses]
	}

	before := engine.Len()
	for _, name := range names {
		conn, err := o.registry.Get(name)
		if err != nil {
			continue
		}
		for city, country := range cities {
			if ctx.Err() != nil {
				return
			}
			for _, term := range terms {
				callCtx, cancel := context.WithTimeout(ctx, o.cfg.PerCallTimeout)
				candidates, err := conn.Search(callCtx, source.Query{
					Term: term, City: city, Country: country, Limit: 50,
				})
				cancel()
				o.registry.MarkResult(name, err)
				if err != nil {
					zap.L().Warn("cascade: corroboration search failed",
						zap.String("source", name),
						zap.String("city", city),
						zap.Error(err),
					)
					continue
				}
				for _, c := range candidates {
					lead, merged := engine.Upsert(c)
					if lead == nil || !merged {
						continue
					}
					mu.Lock()
					if onLead != nil {
						onLead(lead, true)
					}
					emit(name)
					mu.Unlock()
				}
			}
		}
	}

	// corroboration may have created leads past the target; they are
	// trimmed by the caller, but the count drift is worth a log line
	if added := engine.Len() - before; added > 0 {
		zap.L().Debug("cascade: corroboration added leads past target", zap.Int("added", added))
	}
}

// enrich runs the enrichment connector over leads still missing contact
// fields. Premium-tier behavior; failures leave leads as they were.
func (o *Orchestrator) enrich(
	ctx context.Context,
	engine *dedupe.Engine,
	policy quality.TierPolicy,
	onLead func(*model.LeadRecord, bool),
	mu *sync.Mutex,
	emit func(string),
) {
	if !policy.EnrichWebsite {
		return
	}
	enricher := o.registry.Enricher()
	if enricher == nil {
		return
	}

	for _, lead := range engine.Leads() {
		if ctx.Err() != nil {
			return
		}
		if lead.Website == "" || (lead.Email != "" && lead.Phone != "") {
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, o.cfg.EnrichTimeout)
		candidate, err := enricher.Enrich(callCtx, lead)
		cancel()
		if err != nil {
			zap.L().Warn("cascade: enrichment failed",
				zap.String("lead", lead.ID),
				zap.String("website", lead.Website),
				zap.Error(err),
			)
			continue
		}
		if candidate == nil {
			continue
		}

		merged, ok := engine.Upsert(*candidate)
		if merged == nil || !ok {
			continue
		}
		mu.Lock()
		if onLead != nil {
			onLead(merged, true)
		}
		emit(enricher.Name())
		mu.Unlock()
	}
}
