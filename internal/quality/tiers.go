// Package quality scores leads and validates their contact fields according
// to the search's quality tier.
package quality

import (
	"sort"

	"github.com/scripe/leadgen/internal/model"
)

// TierPolicy holds everything that varies by quality tier: which sources
// run, how deep validation goes, the acceptance threshold, and pricing.
type TierPolicy struct {
	Tier model.QualityTier

	// MinScore is the acceptance threshold on the 0-100 quality scale.
	// Leads below it are kept but flagged.
	MinScore float64

	// MaxSources caps how many discovery connectors run.
	MaxSources int

	// Sources is the connector allow list, in cascade order.
	Sources []string

	// CheckMX enables DNS MX lookups for email validation.
	CheckMX bool

	// ProbeMailbox enables SMTP mailbox probing (premium).
	ProbeMailbox bool

	// ClassifyPhoneLine enables line-type classification (premium).
	ClassifyPhoneLine bool

	// DeepWebsiteCheck enables the HTTP reachability probe on top of DNS.
	DeepWebsiteCheck bool

	// EnrichWebsite enables the post-cascade website enrichment pass.
	EnrichWebsite bool

	// CostPerLead is the credit price per delivered lead.
	CostPerLead float64

	// TimeMultiplier scales the duration estimate relative to basic.
	TimeMultiplier float64
}

var tierPolicies = map[model.QualityTier]TierPolicy{
	model.TierBasic: {
		Tier:           model.TierBasic,
		MinScore:       40,
		MaxSources:     1,
		Sources:        []string{"places"},
		CostPerLead:    0.05,
		TimeMultiplier: 1.0,
	},
	model.TierStandard: {
		Tier:             model.TierStandard,
		MinScore:         60,
		MaxSources:       3,
		Sources:          []string{"places", "directory", "serp"},
		CheckMX:          true,
		DeepWebsiteCheck: true,
		CostPerLead:      0.12,
		TimeMultiplier:   2.0,
	},
	model.TierPremium: {
		Tier:              model.TierPremium,
		MaxSources:        4,
		MinScore:          80,
		Sources:           []string{"places", "directory", "serp"},
		CheckMX:           true,
		ProbeMailbox:      true,
		ClassifyPhoneLine: true,
		DeepWebsiteCheck:  true,
		EnrichWebsite:     true,
		CostPerLead:       0.25,
		TimeMultiplier:    4.0,
	},
}

// PolicyFor returns the policy for a tier. Unknown tiers fall back to
// standard, matching ParseTier.
func PolicyFor(tier model.QualityTier) TierPolicy {
	if p, ok := tierPolicies[tier]; ok {
		return p
	}
	return tierPolicies[model.TierStandard]
}

// Tiers returns every policy in basic < standard < premium order.
func Tiers() []TierPolicy {
	out := make([]TierPolicy, 0, len(tierPolicies))
	for _, p := range tierPolicies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tier.Rank() < out[j].Tier.Rank() })
	return out
}
