// Package estimate projects lead counts, runtime, and credit cost for a
// search before any credits are reserved.
package estimate

import (
	"fmt"
	"math"
	"strings"

	"github.com/scripe/leadgen/internal/model"
	"github.com/scripe/leadgen/internal/quality"
)

// marketSizes maps country code to approximate business counts per category.
// Figures are deliberately coarse; they bound the reservation, not the run.
var marketSizes = map[string]map[string]int{
	"DE": {
		"dentist": 65000, "dental clinic": 65000,
		"doctor": 150000, "medical practice": 150000,
		"pharmacy": 19000, "restaurant": 220000, "hotel": 50000,
		"lawyer": 165000, "law firm": 165000, "accountant": 95000,
		"architect": 45000, "hairdresser": 80000,
		"gym": 10000, "fitness center": 10000,
		"plumber": 50000, "electrician": 55000,
		"default": 50000,
	},
	"AT": {
		"dentist": 5500, "dental clinic": 5500,
		"doctor": 18000, "medical practice": 18000,
		"pharmacy": 1400, "restaurant": 35000, "hotel": 15000,
		"lawyer": 6500, "law firm": 6500, "accountant": 8500,
		"architect": 4000, "hairdresser": 8000, "gym": 1500,
		"plumber": 5000, "electrician": 6000,
		"default": 5000,
	},
	"CH": {
		"dentist": 4500, "dental clinic": 4500,
		"doctor": 20000, "medical practice": 20000,
		"pharmacy": 1800, "restaurant": 25000, "hotel": 5500,
		"lawyer": 11000, "law firm": 11000, "accountant": 7000,
		"architect": 3500, "hairdresser": 6000, "gym": 1200,
		"plumber": 4000, "electrician": 5000,
		"default": 4000,
	},
	"IT": {
		"dentist": 60000, "dental clinic": 60000,
		"doctor": 240000, "medical practice": 240000,
		"pharmacy": 19000, "restaurant": 330000, "hotel": 33000,
		"lawyer": 250000, "law firm": 250000, "accountant": 120000,
		"architect": 155000, "hairdresser": 95000, "gym": 7000,
		"plumber": 35000, "electrician": 45000,
		"default": 50000,
	},
	"FR": {
		"dentist": 43000, "dental clinic": 43000,
		"doctor": 230000, "medical practice": 230000,
		"pharmacy": 21000, "restaurant": 175000, "hotel": 30000,
		"lawyer": 70000, "law firm": 70000, "accountant": 21000,
		"architect": 30000, "hairdresser": 85000, "gym": 4500,
		"plumber": 40000, "electrician": 50000,
		"default": 40000,
	},
	"default": {
		"dentist": 10000, "dental clinic": 10000,
		"doctor": 50000, "restaurant": 50000, "hotel": 10000,
		"lawyer": 20000,
		"default": 10000,
	},
}

// majorCities hold a visibly larger share of a country's businesses than the
// per-city baseline.
var majorCities = map[string]bool{
	"berlin": true, "hamburg": true, "münchen": true, "köln": true,
	"frankfurt": true, "wien": true, "zürich": true, "genf": true,
	"basel": true, "milano": true, "roma": true, "paris": true,
	"lyon": true, "marseille": true,
}

const (
	majorCityShare = 0.08
	cityShare      = 0.02
	regionShare    = 0.10

	minMarketSize = 100

	// seconds to process 100 leads at the basic tier
	baseSecondsPer100 = 60
	minSeconds        = 30
)

// MarketSize estimates how many businesses match the request's countries,
// category, and geography.
func MarketSize(req model.SearchRequest) int {
	countries := req.Countries
	if len(countries) == 0 {
		countries = []string{"IT"}
	}

	var category string
	if len(req.Categories) > 0 {
		category = strings.ToLower(req.Categories[0])
	}

	total := 0
	for _, c := range countries {
		data, ok := marketSizes[strings.ToUpper(c)]
		if !ok {
			data = marketSizes["default"]
		}
		n, ok := data[category]
		if !ok {
			n = data["default"]
		}
		total += n
	}

	switch {
	case len(req.Cities) > 0:
		share := 0.0
		for _, city := range req.Cities {
			if majorCities[strings.ToLower(city)] {
				share += majorCityShare
			} else {
				share += cityShare
			}
		}
		total = int(float64(total) * math.Min(share, 1.0))
	case len(req.Regions) > 0:
		total = int(float64(total) * math.Min(regionShare*float64(len(req.Regions)), 1.0))
	}

	if total < minMarketSize {
		return minMarketSize
	}
	return total
}

// ForRequest projects the outcome of running the request at its tier.
func ForRequest(req model.SearchRequest) model.Estimate {
	policy := quality.PolicyFor(req.Tier)
	available := MarketSize(req)

	expected := req.TargetCount
	if expected > available {
		expected = available
	}

	seconds := int(float64(expected) / 100 * baseSecondsPer100 * policy.TimeMultiplier)
	if seconds < minSeconds {
		seconds = minSeconds
	}

	return model.Estimate{
		ExpectedLeads:      expected,
		AvailableLeads:     available,
		ExpectedSeconds:    seconds,
		ExpectedCostCredit: math.Round(float64(expected)*policy.CostPerLead*100) / 100,
		CostPerLead:        policy.CostPerLead,
	}
}

// FormatDuration renders an estimate's runtime for display.
func FormatDuration(seconds int) string {
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm", seconds/60)
	default:
		return fmt.Sprintf("%dh %dm", seconds/3600, (seconds%3600)/60)
	}
}
