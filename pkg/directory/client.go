// Package directory provides a client for a business-directory listings API
// (yellow-pages style), the richest source for contact details.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.directorysearch.example.com"

// Client queries directory listings.
type Client interface {
	// Listings returns one page of listings matching the query.
	Listings(ctx context.Context, q ListingQuery) (*ListingPage, error)
}

// ListingQuery describes a directory lookup.
type ListingQuery struct {
	What    string // category or free text
	Where   string // city or region
	Country string // ISO 3166-1 alpha-2
	Page    int
}

// ListingPage is one page of listings.
type ListingPage struct {
	Listings   []Listing `json:"listings"`
	Page       int       `json:"page"`
	TotalPages int       `json:"total_pages"`
}

// Listing is a directory entry for a business.
type Listing struct {
	Name        string `json:"name"`
	Address     string `json:"address"`
	City        string `json:"city"`
	PostalCode  string `json:"postal_code"`
	Province    string `json:"province"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
	Website     string `json:"website"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Employees   string `json:"employees"` // range label, e.g. "10-19"
}

// APIError is a non-2xx response from the API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("directory: unexpected status %d: %s", e.Status, e.Body)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit sets the requests-per-second limit.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a directory API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter: rate.NewLimiter(5, 5),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Listings(ctx context.Context, q ListingQuery) (*ListingPage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "directory: rate limit wait")
	}

	params := url.Values{}
	params.Set("what", q.What)
	params.Set("where", q.Where)
	if q.Country != "" {
		params.Set("country", q.Country)
	}
	if q.Page > 1 {
		params.Set("page", strconv.Itoa(q.Page))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/listings?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "directory: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "directory: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "directory: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var page ListingPage
	if err := json.Unmarshal(respBody, &page); err != nil {
		return nil, eris.Wrap(err, "directory: unmarshal response")
	}

	return &page, nil
}
