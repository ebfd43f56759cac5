// Package dedupe merges candidate records that refer to the same business
// into a single lead, online as candidates stream in from the cascade.
package dedupe

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scripe/leadgen/internal/extract"
	"github.com/scripe/leadgen/internal/model"
)

// Engine is a streaming dedup index for one run. Match keys are tried in
// precedence order: website domain, then any E.164 phone, then normalized
// name plus city. Safe for concurrent use.
type Engine struct {
	mu       sync.Mutex
	searchID string

	byDomain map[string]*model.LeadRecord
	byPhone  map[string]*model.LeadRecord
	byName   map[string]*model.LeadRecord

	leads []*model.LeadRecord // insertion order
	now   func() time.Time
}

// New creates an empty engine for a search.
func New(searchID string) *Engine {
	return &Engine{
		searchID: searchID,
		byDomain: make(map[string]*model.LeadRecord),
		byPhone:  make(map[string]*model.LeadRecord),
		byName:   make(map[string]*model.LeadRecord),
		now:      time.Now,
	}
}

// Upsert merges a candidate into the index. Returns the lead it landed on
// and whether it merged into an existing lead (false means a new lead).
// Candidates without a name are dropped and return (nil, false).
func (e *Engine) Upsert(c model.CandidateRecord) (*model.LeadRecord, bool) {
	name := extract.NormalizeName(c.Name)
	if name == "" {
		return nil, false
	}
	c.Name = name

	e.mu.Lock()
	defer e.mu.Unlock()

	if lead := e.match(c); lead != nil {
		e.merge(lead, c)
		e.index(lead)
		return lead, true
	}

	lead := e.newLead(c)
	e.leads = append(e.leads, lead)
	e.index(lead)
	return lead, false
}

// Len returns the number of distinct leads so far.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.leads)
}

// Leads returns a snapshot of all leads in first-seen order.
func (e *Engine) Leads() []*model.LeadRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*model.LeadRecord, len(e.leads))
	copy(out, e.leads)
	return out
}

func (e *Engine) match(c model.CandidateRecord) *model.LeadRecord {
	if d := extract.Domain(c.Website); d != "" {
		if lead, ok := e.byDomain[d]; ok {
			return lead
		}
	}
	if c.Phone != "" {
		if lead, ok := e.byPhone[c.Phone]; ok {
			return lead
		}
	}
	if key := nameCityKey(c.Name, c.City); key != "" {
		if lead, ok := e.byName[key]; ok {
			return lead
		}
	}
	return nil
}

// index (re-)registers a lead under all keys it currently has. A merge can
// fill a field that was empty, so keys accrue over the lead's lifetime.
func (e *Engine) index(lead *model.LeadRecord) {
	if d := extract.Domain(lead.Website); d != "" {
		if _, taken := e.byDomain[d]; !taken {
			e.byDomain[d] = lead
		}
	}
	for _, phone := range lead.AllPhones() {
		if _, taken := e.byPhone[phone]; !taken {
			e.byPhone[phone] = lead
		}
	}
	if key := nameCityKey(lead.Name, lead.City); key != "" {
		if _, taken := e.byName[key]; !taken {
			e.byName[key] = lead
		}
	}
}

func (e *Engine) newLead(c model.CandidateRecord) *model.LeadRecord {
	now := e.now().UTC()
	return &model.LeadRecord{
		ID:          uuid.NewString(),
		SearchID:    e.searchID,
		Name:        c.Name,
		Phone:       c.Phone,
		Email:       c.Email,
		Website:     c.Website,
		Address:     c.Address,
		PostalCode:  c.PostalCode,
		City:        c.City,
		Region:      c.Region,
		Country:     c.Country,
		Category:    c.Category,
		Description: c.Description,
		EmployeeMin: c.EmployeeMin,
		EmployeeMax: c.EmployeeMax,

		Sources:      []string{c.SourceName},
		SourcesCount: 1,

		PhoneValidation:   model.ValidationUnchecked,
		EmailValidation:   model.ValidationUnchecked,
		WebsiteValidation: model.ValidationUnchecked,

		CreatedAt: now,
		UpdatedAt: now,
	}
}

// merge folds a candidate into an existing lead. Scalars fill only when
// empty, so earlier (higher-priority) sources win regardless of arrival
// order within a field. Extra phones accumulate as alternates.
func (e *Engine) merge(lead *model.LeadRecord, c model.CandidateRecord) {
	fill(&lead.Email, c.Email)
	fill(&lead.Website, c.Website)
	fill(&lead.Address, c.Address)
	fill(&lead.PostalCode, c.PostalCode)
	fill(&lead.City, c.City)
	fill(&lead.Region, c.Region)
	fill(&lead.Country, c.Country)
	fill(&lead.Category, c.Category)
	fill(&lead.Description, c.Description)
	if lead.EmployeeMin == 0 && lead.EmployeeMax == 0 {
		lead.EmployeeMin = c.EmployeeMin
		lead.EmployeeMax = c.EmployeeMax
	}

	if c.Phone != "" {
		if lead.Phone == "" {
			lead.Phone = c.Phone
		} else if !containsPhone(lead, c.Phone) {
			lead.AltPhones = append(lead.AltPhones, c.Phone)
		}
	}

	if c.SourceName != "" && !lead.HasSource(c.SourceName) {
		lead.Sources = append(lead.Sources, c.SourceName)
		lead.SourcesCount = len(lead.Sources)
	}

	lead.UpdatedAt = e.now().UTC()
}

func fill(dst *string, src string) {
	if *dst == "" && src != "" {
		*dst = src
	}
}

func containsPhone(lead *model.LeadRecord, phone string) bool {
	for _, p := range lead.AllPhones() {
		if p == phone {
			return true
		}
	}
	return false
}

func nameCityKey(name, city string) string {
	nk := extract.NameKey(name)
	if nk == "" {
		return ""
	}
	return nk + "|" + extract.CityKey(city)
}
