package quality

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/scripe/leadgen/internal/model"
)

// tierOverride is one tier's partial policy from a YAML file. Pointer fields
// distinguish "absent" from zero so unset keys keep the built-in values.
type tierOverride struct {
	MinScore          *float64 `yaml:"min_score"`
	MaxSources        *int     `yaml:"max_sources"`
	Sources           []string `yaml:"sources"`
	CheckMX           *bool    `yaml:"check_mx"`
	ProbeMailbox      *bool    `yaml:"probe_mailbox"`
	ClassifyPhoneLine *bool    `yaml:"classify_phone_line"`
	DeepWebsiteCheck  *bool    `yaml:"deep_website_check"`
	EnrichWebsite     *bool    `yaml:"enrich_website"`
	CostPerLead       *float64 `yaml:"cost_per_lead"`
	TimeMultiplier    *float64 `yaml:"time_multiplier"`
}

// LoadPolicies reads tier policy overrides from a YAML file and merges them
// over the built-in policies. Unknown tier names fail the load.
func LoadPolicies(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "quality: read policy file %s", path)
	}

	var wrapper struct {
		Tiers map[string]tierOverride `yaml:"tiers"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return eris.Wrap(err, "quality: parse policy file")
	}

	for name, ov := range wrapper.Tiers {
		tier, err := model.ParseTier(name)
		if err != nil {
			return eris.Wrap(err, "quality: policy file")
		}
		p := tierPolicies[tier]
		if ov.MinScore != nil {
			p.MinScore = *ov.MinScore
		}
		if ov.MaxSources != nil {
			p.MaxSources = *ov.MaxSources
		}
		if len(ov.Sources) > 0 {
			p.Sources = ov.Sources
		}
		if ov.CheckMX != nil {
			p.CheckMX = *ov.CheckMX
		}
		if ov.ProbeMailbox != nil {
			p.ProbeMailbox = *ov.ProbeMailbox
		}
		if ov.ClassifyPhoneLine != nil {
			p.ClassifyPhoneLine = *ov.ClassifyPhoneLine
		}
		if ov.DeepWebsiteCheck != nil {
			p.DeepWebsiteCheck = *ov.DeepWebsiteCheck
		}
		if ov.EnrichWebsite != nil {
			p.EnrichWebsite = *ov.EnrichWebsite
		}
		if ov.CostPerLead != nil {
			p.CostPerLead = *ov.CostPerLead
		}
		if ov.TimeMultiplier != nil {
			p.TimeMultiplier = *ov.TimeMultiplier
		}
		tierPolicies[tier] = p
	}

	return nil
}
