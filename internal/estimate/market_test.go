package estimate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scripe/leadgen/internal/model"
)

func TestMarketSize(t *testing.T) {
	tests := []struct {
		name string
		req  model.SearchRequest
		want int
	}{
		{
			name: "country and category",
			req:  model.SearchRequest{Countries: []string{"IT"}, Categories: []string{"dentist"}},
			want: 60000,
		},
		{
			name: "defaults to Italy when no country given",
			req:  model.SearchRequest{Categories: []string{"dentist"}},
			want: 60000,
		},
		{
			name: "unknown category falls back to country default",
			req:  model.SearchRequest{Countries: []string{"AT"}, Categories: []string{"falconry"}},
			want: 5000,
		},
		{
			name: "unknown country falls back to default table",
			req:  model.SearchRequest{Countries: []string{"XX"}, Categories: []string{"dentist"}},
			want: 10000,
		},
		{
			name: "multi country sums",
			req:  model.SearchRequest{Countries: []string{"AT", "CH"}, Categories: []string{"dentist"}},
			want: 10000,
		},
		{
			name: "major city takes a larger share",
			req:  model.SearchRequest{Countries: []string{"IT"}, Categories: []string{"restaurant"}, Cities: []string{"Milano"}},
			want: 26400,
		},
		{
			name: "small city share",
			req:  model.SearchRequest{Countries: []string{"IT"}, Categories: []string{"restaurant"}, Cities: []string{"Ferrara"}},
			want: 6600,
		},
		{
			name: "region share",
			req:  model.SearchRequest{Countries: []string{"IT"}, Categories: []string{"restaurant"}, Regions: []string{"Emilia-Romagna"}},
			want: 33000,
		},
		{
			name: "floors at the minimum",
			req:  model.SearchRequest{Countries: []string{"AT"}, Categories: []string{"gym"}, Cities: []string{"Hallstatt"}},
			want: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MarketSize(tt.req))
		})
	}
}

func TestForRequest(t *testing.T) {
	req := model.SearchRequest{
		Countries:   []string{"IT"},
		Categories:  []string{"dentist"},
		Cities:      []string{"Bologna"},
		TargetCount: 50,
		Tier:        model.TierStandard,
	}

	est := ForRequest(req)
	assert.Equal(t, 50, est.ExpectedLeads)
	assert.Equal(t, 1200, est.AvailableLeads)
	assert.InDelta(t, 0.12, est.CostPerLead, 1e-9)
	assert.InDelta(t, 6.0, est.ExpectedCostCredit, 1e-9)
	// 50 leads at the 2x standard multiplier
	assert.Equal(t, 60, est.ExpectedSeconds)
}

func TestForRequestCapsAtAvailable(t *testing.T) {
	req := model.SearchRequest{
		Countries:   []string{"AT"},
		Categories:  []string{"gym"},
		Cities:      []string{"Hallstatt"},
		TargetCount: 100000,
		Tier:        model.TierBasic,
	}

	est := ForRequest(req)
	assert.Equal(t, 100, est.ExpectedLeads)
	assert.InDelta(t, 5.0, est.ExpectedCostCredit, 1e-9)
	assert.Equal(t, 60, est.ExpectedSeconds)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "45s", FormatDuration(45))
	assert.Equal(t, "2m", FormatDuration(150))
	assert.Equal(t, "1h 5m", FormatDuration(3900))
}
