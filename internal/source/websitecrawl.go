package source

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/scripe/leadgen/internal/extract"
	"github.com/scripe/leadgen/internal/model"
	"github.com/scripe/leadgen/internal/resilience"
	"github.com/scripe/leadgen/pkg/webscan"
)

// WebsiteCrawl scrapes a lead's own website to fill missing phone and email
// fields. It only enriches; it never discovers new businesses.
type WebsiteCrawl struct {
	client webscan.Client
}

// NewWebsiteCrawl wraps a webscan client as the enrichment connector.
func NewWebsiteCrawl(client webscan.Client) *WebsiteCrawl {
	return &WebsiteCrawl{client: client}
}

func (w *WebsiteCrawl) Name() string        { return "websitecrawl" }
func (w *WebsiteCrawl) Confidence() float64 { return 0.7 }

// Enrich scrapes the lead's website and returns a candidate carrying any
// contacts found there. Returns nil when the lead has no website or the page
// yields nothing usable.
func (w *WebsiteCrawl) Enrich(ctx context.Context, lead *model.LeadRecord) (*model.CandidateRecord, error) {
	if lead.Website == "" {
		return nil, nil
	}

	doc, err := resilience.DoVal(ctx, policyFor(w.Name(), "scrape"),
		func(ctx context.Context) (*webscan.Document, error) {
			return w.client.Scrape(ctx, lead.Website)
		})
	if err != nil {
		return nil, eris.Wrap(err, "source: website scrape")
	}

	emails := extract.EmailsFromText(doc.Text)
	phones := extract.PhonesFromText(doc.Text, lead.Country)
	if len(emails) == 0 && len(phones) == 0 && doc.Description == "" {
		return nil, nil
	}

	c := &model.CandidateRecord{
		Name:        lead.Name,
		Website:     lead.Website,
		City:        lead.City,
		Country:     lead.Country,
		Description: doc.Description,
		SourceName:  w.Name(),
		SourceURL:   lead.Website,
		RetrievedAt: time.Now().UTC(),
	}
	if len(emails) > 0 {
		c.Email = emails[0]
	}
	if len(phones) > 0 {
		c.Phone = phones[0]
	}
	return c, nil
}
