package source

import (
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/scripe/leadgen/internal/resilience"
)

// Registry holds the registered connectors with per-connector health
// tracking. Selection returns healthy connectors in priority order.
type Registry struct {
	connectors map[string]*entry
	order      []string // registration order, for stable ties
	enricher   Enricher
}

type entry struct {
	conn    Connector
	breaker *resilience.Breaker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		connectors: make(map[string]*entry),
	}
}

// Register adds a connector. Later registrations with the same name replace
// earlier ones.
func (r *Registry) Register(c Connector) {
	name := c.Name()
	if _, exists := r.connectors[name]; !exists {
		r.order = append(r.order, name)
	}
	r.connectors[name] = &entry{
		conn:    c,
		breaker: resilience.NewBreaker(3, 5*time.Minute),
	}
}

// SetEnricher installs the post-cascade enrichment connector.
func (r *Registry) SetEnricher(e Enricher) {
	r.enricher = e
}

// Enricher returns the enrichment connector, or nil when none is installed.
func (r *Registry) Enricher() Enricher {
	return r.enricher
}

// Get returns a connector by name.
func (r *Registry) Get(name string) (Connector, error) {
	e, ok := r.connectors[name]
	if !ok {
		return nil, eris.Errorf("source: unknown connector %q", name)
	}
	return e.conn, nil
}

// Select returns the connectors to run for a country, restricted to the
// allow list when non-empty, skipping unhealthy ones, sorted by priority.
func (r *Registry) Select(country string, allow []string) []Connector {
	allowed := func(string) bool { return true }
	if len(allow) > 0 {
		set := make(map[string]bool, len(allow))
		for _, name := range allow {
			set[name] = true
		}
		allowed = func(name string) bool { return set[name] }
	}

	var out []Connector
	for _, name := range r.order {
		e := r.connectors[name]
		if !allowed(name) {
			continue
		}
		if !e.conn.SupportsCountry(country) {
			continue
		}
		if e.breaker.Allow() != nil {
			continue
		}
		out = append(out, e.conn)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority() < out[j].Priority()
	})
	return out
}

// MarkResult records a connector call outcome for health tracking.
func (r *Registry) MarkResult(name string, err error) {
	if e, ok := r.connectors[name]; ok {
		e.breaker.Record(err)
	}
}

// Healthy reports whether a connector is currently admitting calls.
func (r *Registry) Healthy(name string) bool {
	e, ok := r.connectors[name]
	return ok && e.breaker.Healthy()
}

// Names returns all registered connector names in priority order.
func (r *Registry) Names() []string {
	conns := make([]Connector, 0, len(r.order))
	for _, name := range r.order {
		conns = append(conns, r.connectors[name].conn)
	}
	sort.SliceStable(conns, func(i, j int) bool {
		return conns[i].Priority() < conns[j].Priority()
	})
	names := make([]string, len(conns))
	for i, c := range conns {
		names[i] = c.Name()
	}
	return names
}

// Confidence returns the base confidence for a source name, defaulting to
// 0.5 for sources registered in neither role.
func (r *Registry) Confidence(name string) float64 {
	if e, ok := r.connectors[name]; ok {
		return e.conn.Confidence()
	}
	if r.enricher != nil && r.enricher.Name() == name {
		return r.enricher.Confidence()
	}
	return 0.5
}
