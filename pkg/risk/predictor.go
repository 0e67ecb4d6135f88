// Package risk estimates the probability that a diagnosis should not be
// trusted without further review. Scoring is rule-based: each condition adds
// a fixed amount to the score independently, in a fixed evaluation order, and
// the result is clipped to [0,1].
package risk

import (
	"fmt"
	"math"

	"github.com/menta2k/leaf-analyzer/pkg/types"
)

// Factor codes, in rule evaluation order.
const (
	FactorLowConfidence      = "low confidence"
	FactorModerateConfidence = "moderate confidence"
	FactorLowConsistency     = "low category consistency"
	FactorSimilarityVariance = "high similarity variance"
	FactorFeatureVariability = "high feature variability"
)

// Config holds the scoring thresholds. All values are supplied externally at
// construction so deployments can tune them without code change.
type Config struct {
	// LowConfidence and ModerateConfidence split the confidence percentage
	// into low (< LowConfidence), moderate and high bands.
	LowConfidence      float64
	ModerateConfidence float64

	// MinAgreement is the category agreement ratio below which (strictly)
	// the neighborhood counts as inconsistent. A 3-of-5 neighborhood sits
	// exactly on the default boundary and does not trigger the factor.
	MinAgreement float64

	// MaxDistanceGap flags neighborhoods whose max-min distance spread
	// exceeds it. Calibration parameter; the default suits piecewise
	// normalized feature vectors under squared Euclidean distance.
	MaxDistanceGap float64

	// MaxShapeVariability flags high spread among the shape-band features of
	// the nearest neighbors. Calibration parameter.
	MaxShapeVariability float64

	// MediumRiskScore and HighRiskScore are the level boundaries: scores
	// below MediumRiskScore are LOW, below HighRiskScore MEDIUM, else HIGH.
	MediumRiskScore float64
	HighRiskScore   float64
}

// DefaultConfig returns the documented default thresholds.
func DefaultConfig() Config {
	return Config{
		LowConfidence:       60,
		ModerateConfidence:  80,
		MinAgreement:        0.6,
		MaxDistanceGap:      0.25,
		MaxShapeVariability: 0.5,
		MediumRiskScore:     0.4,
		HighRiskScore:       0.7,
	}
}

// Predictor scores revocation risk. It is pure and stateless: the same
// diagnosis always produces the same assessment.
type Predictor struct {
	config Config
}

// New creates a new Predictor with default configuration.
func New() *Predictor {
	return &Predictor{config: DefaultConfig()}
}

// NewWithConfig creates a new Predictor with custom configuration.
func NewWithConfig(config Config) *Predictor {
	return &Predictor{config: config}
}

// Assess scores the revocation risk of a diagnosis from its confidence,
// neighbor distance distribution, category agreement and the feature
// variability among its nearest neighbors. The factor list preserves rule
// evaluation order.
func (p *Predictor) Assess(d types.DiagnosisResult) types.RiskAssessment {
	var score float64
	var factors []types.RiskFactor

	add := func(delta float64, code, explanation string) {
		score += delta
		factors = append(factors, types.RiskFactor{Code: code, Explanation: explanation})
	}

	if d.Confidence < p.config.LowConfidence {
		add(0.40, FactorLowConfidence,
			fmt.Sprintf("confidence %.1f%% is below %.0f%%", d.Confidence, p.config.LowConfidence))
	} else if d.Confidence < p.config.ModerateConfidence {
		add(0.20, FactorModerateConfidence,
			fmt.Sprintf("confidence %.1f%% is below %.0f%%", d.Confidence, p.config.ModerateConfidence))
	}

	if d.Stats.Agreement < p.config.MinAgreement {
		add(0.25, FactorLowConsistency,
			fmt.Sprintf("only %.0f%% of neighbors agree with the diagnosis", d.Stats.Agreement*100))
	}

	if gap := d.Stats.MaxDistance - d.Stats.MinDistance; gap > p.config.MaxDistanceGap {
		add(0.20, FactorSimilarityVariance,
			fmt.Sprintf("neighbor distance gap %.3f exceeds %.3f", gap, p.config.MaxDistanceGap))
	}

	if v := shapeVariability(d.Neighbors); v > p.config.MaxShapeVariability {
		add(0.15, FactorFeatureVariability,
			fmt.Sprintf("shape feature spread %.3f exceeds %.3f", v, p.config.MaxShapeVariability))
	}

	if score > 1 {
		score = 1
	}

	return types.RiskAssessment{
		Level:   p.level(score),
		Score:   score,
		Factors: factors,
	}
}

func (p *Predictor) level(score float64) types.RiskLevel {
	switch {
	case score < p.config.MediumRiskScore:
		return types.RiskLow
	case score < p.config.HighRiskScore:
		return types.RiskMedium
	default:
		return types.RiskHigh
	}
}

// shapeVariability measures how far the shape bands of up to the three
// nearest neighbors scatter around their mean: the root mean squared
// per-component deviation. Identical neighborhoods score zero. Neighbors
// without a full vector contribute nothing.
func shapeVariability(neighbors []types.NeighborMatch) float64 {
	var bands [][]float32
	for i, n := range neighbors {
		if i >= 3 {
			break
		}
		if len(n.Record.Vector) != types.VectorDim {
			continue
		}
		bands = append(bands, n.Record.Vector.ShapeBand())
	}
	if len(bands) == 0 {
		return 0
	}

	var mean [types.ShapeDim]float64
	for _, band := range bands {
		for j, v := range band {
			mean[j] += float64(v)
		}
	}
	for j := range mean {
		mean[j] /= float64(len(bands))
	}

	var sqDiff float64
	for _, band := range bands {
		for j, v := range band {
			d := float64(v) - mean[j]
			sqDiff += d * d
		}
	}
	return math.Sqrt(sqDiff / float64(len(bands)*types.ShapeDim))
}
