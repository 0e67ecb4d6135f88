package types

import (
	"fmt"
	"math"
)

// Feature vector layout: three contiguous bands in a fixed order.
const (
	// ColorBins is the number of histogram bins per HSV channel.
	ColorBins = 32

	// ColorDim is the size of the color band (32 bins x 3 channels).
	ColorDim = 3 * ColorBins

	// TextureDim is the size of the texture band (mean + stddev for
	// local-variance maps at window sizes 3, 5 and 7).
	TextureDim = 6

	// ShapeDim is the size of the shape band (lesion blob count, mean blob
	// area, blob area stddev, largest-blob to leaf-area ratio).
	ShapeDim = 4

	// VectorDim is the total feature vector length.
	VectorDim = ColorDim + TextureDim + ShapeDim
)

// FeatureVector is a fixed-length numeric summary of a leaf image's visual
// properties. The order of values is identical across runs for the same image.
type FeatureVector []float32

// ColorBand returns the 96 HSV histogram values.
func (v FeatureVector) ColorBand() []float32 {
	return v[:ColorDim]
}

// TextureBand returns the 6 local-contrast statistics.
func (v FeatureVector) TextureBand() []float32 {
	return v[ColorDim : ColorDim+TextureDim]
}

// ShapeBand returns the 4 lesion shape statistics.
func (v FeatureVector) ShapeBand() []float32 {
	return v[ColorDim+TextureDim:]
}

// Validate checks the structural invariants of the vector: fixed length,
// finite values, non-negative histogram bins and per-channel histogram sums
// of 1.0 within tolerance.
func (v FeatureVector) Validate() error {
	if len(v) != VectorDim {
		return fmt.Errorf("feature vector has length %d, want %d", len(v), VectorDim)
	}

	for i, val := range v {
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("feature vector value %d is not finite: %v", i, f)
		}
	}

	const tolerance = 1e-6
	for ch := 0; ch < 3; ch++ {
		var sum float64
		for i := ch * ColorBins; i < (ch+1)*ColorBins; i++ {
			if v[i] < 0 {
				return fmt.Errorf("histogram bin %d is negative: %v", i, v[i])
			}
			sum += float64(v[i])
		}
		if math.Abs(sum-1.0) > tolerance {
			return fmt.Errorf("histogram channel %d sums to %v, want 1.0", ch, sum)
		}
	}

	return nil
}

// ImageRecord associates a feature vector with its source image and category
// label. Records are immutable once created; the vector store owns all
// persisted records and callers operate on value snapshots.
type ImageRecord struct {
	ID       string        `json:"id"`
	Category string        `json:"category"`
	Vector   FeatureVector `json:"vector"`
	Source   string        `json:"source"`
}

// NeighborMatch is a stored record returned by a similarity query together
// with its distance to the query vector. Matches are ordered by non-decreasing
// distance and never exceed the requested count.
type NeighborMatch struct {
	Record   ImageRecord `json:"record"`
	Distance float64     `json:"distance"`
}

// NeighborStats summarizes the neighbor set a diagnosis was derived from.
type NeighborStats struct {
	MinDistance  float64 `json:"min_distance"`
	MaxDistance  float64 `json:"max_distance"`
	MeanDistance float64 `json:"mean_distance"`
	StdDistance  float64 `json:"std_distance"`

	// Agreement is the fraction of neighbors whose category matches the
	// winning category.
	Agreement float64 `json:"agreement"`

	// Distribution maps each category to its weighted vote share in percent.
	Distribution map[string]float64 `json:"distribution"`
}

// DiagnosisResult is the outcome of a single query: the predicted category,
// a confidence percentage in [0,100], the neighbor list used and derived
// aggregate statistics. A result is only ever returned fully populated.
type DiagnosisResult struct {
	Category   string          `json:"category"`
	Confidence float64         `json:"confidence"`
	Neighbors  []NeighborMatch `json:"neighbors"`
	Stats      NeighborStats   `json:"stats"`
}

// RiskLevel grades how likely a diagnosis is to be revoked on review.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// RiskFactor is a single triggered risk condition with a stable code and a
// human-readable explanation.
type RiskFactor struct {
	Code        string `json:"code"`
	Explanation string `json:"explanation"`
}

// RiskAssessment is the revocation-risk verdict for one diagnosis. Factors
// appear in rule evaluation order, not magnitude order.
type RiskAssessment struct {
	Level   RiskLevel    `json:"level"`
	Score   float64      `json:"score"`
	Factors []RiskFactor `json:"factors"`
}

// CategoryMetrics holds one-vs-rest classification metrics for a category.
// Unsupported marks categories where a zero denominator forced a 0 score.
type CategoryMetrics struct {
	TruePositives  int     `json:"true_positives"`
	FalsePositives int     `json:"false_positives"`
	FalseNegatives int     `json:"false_negatives"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
	Unsupported    bool    `json:"unsupported,omitempty"`
}

// RiskBucket aggregates evaluation outcomes for one risk level.
type RiskBucket struct {
	Count    int     `json:"count"`
	Correct  int     `json:"correct"`
	Accuracy float64 `json:"accuracy"`
}

// ItemResult records the outcome of evaluating a single labeled sample.
// Skipped items carry the reason the item could not be evaluated.
type ItemResult struct {
	ID         string    `json:"id"`
	TrueLabel  string    `json:"true_label"`
	Predicted  string    `json:"predicted,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Risk       RiskLevel `json:"risk,omitempty"`
	RiskScore  float64   `json:"risk_score,omitempty"`
	Skipped    bool      `json:"skipped,omitempty"`
	SkipReason string    `json:"skip_reason,omitempty"`
}

// EvaluationReport aggregates a batch evaluation run: confusion counts,
// per-category and aggregate accuracy/precision/recall/F1 and a risk-level
// calibration table. Rendering to a file format is the caller's concern.
type EvaluationReport struct {
	Total     int     `json:"total"`
	Evaluated int     `json:"evaluated"`
	Skipped   int     `json:"skipped"`
	Correct   int     `json:"correct"`
	Accuracy  float64 `json:"accuracy"`

	// Confusion maps true category -> predicted category -> count.
	Confusion map[string]map[string]int `json:"confusion"`

	PerCategory map[string]CategoryMetrics `json:"per_category"`

	// RiskBuckets holds per-risk-level accuracy as a calibration diagnostic:
	// a well calibrated system shows LOW-bucket accuracy above HIGH-bucket
	// accuracy.
	RiskBuckets map[RiskLevel]RiskBucket `json:"risk_buckets"`

	Items []ItemResult `json:"items"`
}
