package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scripe/leadgen/internal/model"
)

func fullLead() *model.LeadRecord {
	return &model.LeadRecord{
		Name:              "Studio Dentistico Rossi",
		Phone:             "+390212345678",
		Email:             "info@studiorossi.it",
		Website:           "https://studiorossi.it",
		Address:           "Via Roma 1",
		City:              "Milano",
		Country:           "IT",
		Category:          "dentista",
		Description:       "Studio dentistico nel centro di Milano",
		Sources:           []string{"places", "directory", "serp"},
		SourcesCount:      3,
		PhoneValidation:   model.ValidationValid,
		EmailValidation:   model.ValidationValid,
		WebsiteValidation: model.ValidationValid,
	}
}

func dentistRequest() model.SearchRequest {
	return model.SearchRequest{
		Query:       "dentista",
		Categories:  []string{"dentista"},
		Cities:      []string{"Milano"},
		Countries:   []string{"IT"},
		TargetCount: 50,
	}
}

func TestScore_Bounds(t *testing.T) {
	s := NewScorer(DefaultWeights())

	leads := []*model.LeadRecord{
		fullLead(),
		{Name: "X"},
		{
			Name:              "Bad Data",
			Phone:             "not-a-phone",
			Email:             "junk@mailinator.com",
			PhoneValidation:   model.ValidationInvalid,
			EmailValidation:   model.ValidationInvalid,
			WebsiteValidation: model.ValidationInvalid,
			SourcesCount:      1,
		},
	}
	for _, lead := range leads {
		b := s.Score(lead, dentistRequest())
		assert.GreaterOrEqual(t, b.Total, 0.0)
		assert.LessOrEqual(t, b.Total, 100.0)
	}
}

func TestScore_Deterministic(t *testing.T) {
	s := NewScorer(DefaultWeights())
	lead := fullLead()
	req := dentistRequest()

	first := s.Score(lead, req)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, s.Score(lead, req))
	}
}

func TestScore_RicherLeadScoresHigher(t *testing.T) {
	s := NewScorer(DefaultWeights())
	req := dentistRequest()

	rich := s.Score(fullLead(), req)

	sparse := &model.LeadRecord{
		Name:         "Studio Dentistico Rossi",
		City:         "Milano",
		Category:     "dentista",
		SourcesCount: 1,
	}
	poor := s.Score(sparse, req)

	assert.Greater(t, rich.Total, poor.Total)
}

func TestScore_ExcludeKeywordForcesNearZeroMatch(t *testing.T) {
	s := NewScorer(DefaultWeights())
	req := dentistRequest()
	req.KeywordsExclude = []string{"ortodonzia"}

	lead := fullLead()
	lead.Description = "Specialisti in ortodonzia e implantologia"

	b := s.Score(lead, req)
	assert.InDelta(t, 0.05, b.QueryMatch, 0.001)

	clean := s.Score(fullLead(), req)
	assert.Greater(t, clean.QueryMatch, 0.5)
}

func TestScore_ValidationStates(t *testing.T) {
	s := NewScorer(DefaultWeights())

	lead := fullLead()
	valid := s.Score(lead, dentistRequest()).Validation
	assert.InDelta(t, 1.0, valid, 0.001)

	lead.EmailValidation = model.ValidationUnvalidated
	half := s.Score(lead, dentistRequest()).Validation
	assert.InDelta(t, (1.0+0.5+1.0)/3, half, 0.001)

	lead.EmailValidation = model.ValidationInvalid
	zero := s.Score(lead, dentistRequest()).Validation
	assert.InDelta(t, (1.0+0.0+1.0)/3, zero, 0.001)
}

func TestCorroboration_Saturates(t *testing.T) {
	s := NewScorer(DefaultWeights())

	assert.Equal(t, 0.0, s.corroboration(0))
	assert.Equal(t, 0.0, s.corroboration(1))
	assert.InDelta(t, 0.5, s.corroboration(2), 0.001)
	assert.InDelta(t, 0.75, s.corroboration(3), 0.001)
	assert.InDelta(t, 0.875, s.corroboration(4), 0.001)

	// Monotone and bounded.
	prev := 0.0
	for n := 1; n <= 10; n++ {
		c := s.corroboration(n)
		assert.GreaterOrEqual(t, c, prev)
		assert.Less(t, c, 1.0)
		prev = c
	}
}

func TestApply_SetsThresholdFlag(t *testing.T) {
	s := NewScorer(DefaultWeights())
	req := dentistRequest()

	rich := fullLead()
	s.Apply(rich, req, PolicyFor(model.TierStandard))
	assert.False(t, rich.BelowThreshold)
	assert.Greater(t, rich.QualityScore, 60.0)

	sparse := &model.LeadRecord{Name: "Solo Nome", SourcesCount: 1}
	s.Apply(sparse, req, PolicyFor(model.TierStandard))
	assert.True(t, sparse.BelowThreshold)
	assert.Greater(t, sparse.ConfidenceScore, -0.001)
}

func TestNewScorer_ZeroWeightsFallBack(t *testing.T) {
	s := NewScorer(Weights{})
	b := s.Score(fullLead(), dentistRequest())
	require.Greater(t, b.Total, 0.0)
}

func TestPolicyFor(t *testing.T) {
	basic := PolicyFor(model.TierBasic)
	assert.InDelta(t, 40, basic.MinScore, 0.001)
	assert.InDelta(t, 0.05, basic.CostPerLead, 0.0001)
	assert.False(t, basic.CheckMX)

	standard := PolicyFor(model.TierStandard)
	assert.InDelta(t, 60, standard.MinScore, 0.001)
	assert.True(t, standard.CheckMX)
	assert.False(t, standard.ProbeMailbox)

	premium := PolicyFor(model.TierPremium)
	assert.InDelta(t, 80, premium.MinScore, 0.001)
	assert.InDelta(t, 0.25, premium.CostPerLead, 0.0001)
	assert.True(t, premium.ProbeMailbox)
	assert.True(t, premium.EnrichWebsite)

	// Unknown tiers get the standard policy.
	fallback := PolicyFor(model.QualityTier("nonsense"))
	assert.Equal(t, model.TierStandard, fallback.Tier)
}

func TestTiersOrderedByRank(t *testing.T) {
	tiers := Tiers()
	require.Len(t, tiers, 3)
	assert.Equal(t, model.TierBasic, tiers[0].Tier)
	assert.Equal(t, model.TierStandard, tiers[1].Tier)
	assert.Equal(t, model.TierPremium, tiers[2].Tier)
}
