package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/leaf-analyzer/pkg/types"
)

// neighborWithShape builds a neighbor carrying a full-length vector whose
// shape band holds the given values.
func neighborWithShape(category string, distance float64, shape [4]float32) types.NeighborMatch {
	vec := make(types.FeatureVector, types.VectorDim)
	copy(vec[types.ColorDim+types.TextureDim:], shape[:])
	return types.NeighborMatch{
		Record:   types.ImageRecord{Category: category, Vector: vec},
		Distance: distance,
	}
}

// cleanDiagnosis builds a diagnosis that triggers no risk rule.
func cleanDiagnosis() types.DiagnosisResult {
	shape := [4]float32{1, 10, 0, 0.1}
	return types.DiagnosisResult{
		Category:   "rust",
		Confidence: 95,
		Neighbors: []types.NeighborMatch{
			neighborWithShape("rust", 0.10, shape),
			neighborWithShape("rust", 0.12, shape),
			neighborWithShape("rust", 0.15, shape),
		},
		Stats: types.NeighborStats{
			MinDistance: 0.10,
			MaxDistance: 0.15,
			Agreement:   1.0,
		},
	}
}

func factorCodes(a types.RiskAssessment) []string {
	codes := make([]string, 0, len(a.Factors))
	for _, f := range a.Factors {
		codes = append(codes, f.Code)
	}
	return codes
}

func TestAssessCleanDiagnosis(t *testing.T) {
	assessment := New().Assess(cleanDiagnosis())

	assert.Equal(t, types.RiskLow, assessment.Level)
	assert.InDelta(t, 0, assessment.Score, 1e-9)
	assert.Empty(t, assessment.Factors)
}

func TestAssessLowConfidence(t *testing.T) {
	d := cleanDiagnosis()
	d.Confidence = 50

	assessment := New().Assess(d)
	assert.InDelta(t, 0.40, assessment.Score, 1e-9)
	assert.Equal(t, []string{FactorLowConfidence}, factorCodes(assessment))
	assert.Equal(t, types.RiskMedium, assessment.Level)
}

func TestAssessModerateConfidence(t *testing.T) {
	d := cleanDiagnosis()
	d.Confidence = 70

	assessment := New().Assess(d)
	assert.InDelta(t, 0.20, assessment.Score, 1e-9)
	assert.Equal(t, []string{FactorModerateConfidence}, factorCodes(assessment))
	assert.Equal(t, types.RiskLow, assessment.Level)
}

func TestAssessConfidenceBandBoundaries(t *testing.T) {
	d := cleanDiagnosis()

	// Exactly at the low boundary counts as moderate, not low.
	d.Confidence = 60
	assert.Equal(t, []string{FactorModerateConfidence}, factorCodes(New().Assess(d)))

	// Exactly at the moderate boundary triggers nothing.
	d.Confidence = 80
	assert.Empty(t, New().Assess(d).Factors)
}

func TestAssessLowAgreement(t *testing.T) {
	d := cleanDiagnosis()
	d.Stats.Agreement = 0.4

	assessment := New().Assess(d)
	assert.InDelta(t, 0.25, assessment.Score, 1e-9)
	assert.Equal(t, []string{FactorLowConsistency}, factorCodes(assessment))
}

func TestAssessAgreementBoundaryDoesNotTrigger(t *testing.T) {
	// A 3-of-5 neighborhood sits exactly on the boundary.
	d := cleanDiagnosis()
	d.Stats.Agreement = 0.6

	assert.Empty(t, New().Assess(d).Factors)
}

func TestAssessDistanceGap(t *testing.T) {
	d := cleanDiagnosis()
	d.Stats.MinDistance = 0.1
	d.Stats.MaxDistance = 0.5

	assessment := New().Assess(d)
	assert.InDelta(t, 0.20, assessment.Score, 1e-9)
	assert.Equal(t, []string{FactorSimilarityVariance}, factorCodes(assessment))
}

func TestAssessShapeVariability(t *testing.T) {
	d := cleanDiagnosis()
	d.Neighbors = []types.NeighborMatch{
		neighborWithShape("rust", 0.10, [4]float32{1, 5, 0, 0.1}),
		neighborWithShape("rust", 0.12, [4]float32{8, 90, 20, 0.9}),
		neighborWithShape("rust", 0.15, [4]float32{1, 5, 0, 0.1}),
	}
	d.Stats.MinDistance = 0.10
	d.Stats.MaxDistance = 0.15

	assessment := New().Assess(d)
	assert.InDelta(t, 0.15, assessment.Score, 1e-9)
	assert.Equal(t, []string{FactorFeatureVariability}, factorCodes(assessment))
}

func TestAssessShapeVariabilityUsesThreeNearest(t *testing.T) {
	// The divergent neighbor is fourth and must not count.
	d := cleanDiagnosis()
	d.Neighbors = append(d.Neighbors, neighborWithShape("rust", 0.2, [4]float32{50, 900, 300, 1}))

	assert.Empty(t, New().Assess(d).Factors)
}

func TestAssessScoreClippedAtOne(t *testing.T) {
	d := cleanDiagnosis()
	d.Confidence = 30
	d.Stats.Agreement = 0.2
	d.Stats.MaxDistance = 2.0
	d.Neighbors = []types.NeighborMatch{
		neighborWithShape("rust", 0.1, [4]float32{1, 5, 0, 0.1}),
		neighborWithShape("spot", 0.5, [4]float32{9, 80, 30, 0.8}),
		neighborWithShape("mildew", 2.0, [4]float32{2, 200, 10, 0.3}),
	}

	assessment := New().Assess(d)
	assert.InDelta(t, 1.0, assessment.Score, 1e-9)
	assert.Equal(t, types.RiskHigh, assessment.Level)
	require.Len(t, assessment.Factors, 4)
	assert.Equal(t, []string{
		FactorLowConfidence,
		FactorLowConsistency,
		FactorSimilarityVariance,
		FactorFeatureVariability,
	}, factorCodes(assessment))
}

func TestAssessSplitNeighborhoodIsMediumRisk(t *testing.T) {
	// A 3-2 split with spread-out distances: moderate confidence plus the
	// distance gap lands in the medium band.
	shape := [4]float32{1, 10, 0, 0.1}
	d := types.DiagnosisResult{
		Category:   "rust",
		Confidence: 66.8,
		Neighbors: []types.NeighborMatch{
			neighborWithShape("rust", 0.5, shape),
			neighborWithShape("rust", 0.8, shape),
			neighborWithShape("spot", 0.9, shape),
			neighborWithShape("rust", 1.0, shape),
			neighborWithShape("spot", 1.0, shape),
		},
		Stats: types.NeighborStats{
			MinDistance: 0.5,
			MaxDistance: 1.0,
			Agreement:   0.6,
		},
	}

	assessment := New().Assess(d)
	assert.InDelta(t, 0.40, assessment.Score, 1e-9)
	assert.Equal(t, types.RiskMedium, assessment.Level)
	assert.Equal(t, []string{FactorModerateConfidence, FactorSimilarityVariance}, factorCodes(assessment))
}

func TestAssessScoreMonotonicity(t *testing.T) {
	// Each additional triggered condition can only raise the score.
	p := New()

	base := cleanDiagnosis()
	prev := p.Assess(base).Score

	base.Confidence = 70
	score := p.Assess(base).Score
	assert.Greater(t, score, prev)
	prev = score

	base.Stats.Agreement = 0.4
	score = p.Assess(base).Score
	assert.Greater(t, score, prev)
	prev = score

	base.Stats.MaxDistance = 1.0
	score = p.Assess(base).Score
	assert.Greater(t, score, prev)
	prev = score

	base.Confidence = 40
	score = p.Assess(base).Score
	assert.Greater(t, score, prev)
	assert.LessOrEqual(t, score, 1.0)
}

func TestAssessLevelBoundaries(t *testing.T) {
	p := New()
	assert.Equal(t, types.RiskLow, p.level(0.39))
	assert.Equal(t, types.RiskMedium, p.level(0.4))
	assert.Equal(t, types.RiskMedium, p.level(0.69))
	assert.Equal(t, types.RiskHigh, p.level(0.7))
	assert.Equal(t, types.RiskHigh, p.level(1.0))
}

func TestAssessCustomThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LowConfidence = 90
	p := NewWithConfig(cfg)

	d := cleanDiagnosis()
	d.Confidence = 85

	assessment := p.Assess(d)
	assert.Equal(t, []string{FactorLowConfidence}, factorCodes(assessment))
}

func TestShapeVariabilityIgnoresShortVectors(t *testing.T) {
	neighbors := []types.NeighborMatch{
		{Record: types.ImageRecord{Category: "rust"}, Distance: 0.1},
		{Record: types.ImageRecord{Category: "rust", Vector: make(types.FeatureVector, 3)}, Distance: 0.2},
	}
	assert.InDelta(t, 0, shapeVariability(neighbors), 1e-9)
}
