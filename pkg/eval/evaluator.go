// Package eval drives the extraction, retrieval, diagnosis and risk
// components over a labeled corpus and aggregates classification and
// risk-calibration metrics.
package eval

import (
	"context"
	"errors"
	"image"
	"sort"

	"github.com/menta2k/leaf-analyzer/pkg/store"
	"github.com/menta2k/leaf-analyzer/pkg/types"
)

// Extractor produces a feature vector from a decoded image.
type Extractor interface {
	Extract(img image.Image) (types.FeatureVector, error)
}

// Index answers nearest-neighbor queries against the reference corpus.
type Index interface {
	Query(ctx context.Context, vec types.FeatureVector, k int) ([]types.NeighborMatch, error)
	QueryExcluding(ctx context.Context, vec types.FeatureVector, k int, excludeID string) ([]types.NeighborMatch, error)
}

// Diagnoser converts neighbor matches into a diagnosis.
type Diagnoser interface {
	Diagnose(neighbors []types.NeighborMatch) (types.DiagnosisResult, error)
}

// Assessor scores the revocation risk of a diagnosis.
type Assessor interface {
	Assess(d types.DiagnosisResult) types.RiskAssessment
}

// Sample is one labeled test item.
type Sample struct {
	ID       string
	Category string
	Image    image.Image
}

// Config holds configuration for batch evaluation.
type Config struct {
	// K is the neighbor count per query.
	K int
}

// DefaultConfig returns the default evaluation configuration.
func DefaultConfig() Config {
	return Config{K: 5}
}

// Evaluator runs the diagnosis pipeline over a labeled corpus. Items are
// processed sequentially; each item is independent and read-only against the
// index, so callers must not interleave index writes with a running batch.
type Evaluator struct {
	extractor Extractor
	index     Index
	diagnoser Diagnoser
	assessor  Assessor
	config    Config
}

// New creates an Evaluator with default configuration.
func New(extractor Extractor, index Index, diagnoser Diagnoser, assessor Assessor) *Evaluator {
	return NewWithConfig(extractor, index, diagnoser, assessor, DefaultConfig())
}

// NewWithConfig creates an Evaluator with custom configuration.
func NewWithConfig(extractor Extractor, index Index, diagnoser Diagnoser, assessor Assessor, config Config) *Evaluator {
	if config.K <= 0 {
		config.K = DefaultConfig().K
	}
	return &Evaluator{
		extractor: extractor,
		index:     index,
		diagnoser: diagnoser,
		assessor:  assessor,
		config:    config,
	}
}

// Evaluate runs every sample through extract, query (excluding the sample's
// own record if it was indexed), diagnose and assess, then aggregates the
// outcomes. A single bad item is recorded as skipped with a reason and does
// not abort the batch; a store failure aborts the whole run. Context
// cancellation stops the batch after the current item and returns the
// partial report along with the context error.
func (ev *Evaluator) Evaluate(ctx context.Context, samples []Sample) (types.EvaluationReport, error) {
	items := make([]types.ItemResult, 0, len(samples))

	for _, sample := range samples {
		if err := ctx.Err(); err != nil {
			return ev.aggregate(items, len(samples)), err
		}

		item, err := ev.evaluateOne(ctx, sample)
		if err != nil {
			return ev.aggregate(items, len(samples)), err
		}
		items = append(items, item)
	}

	return ev.aggregate(items, len(samples)), nil
}

func (ev *Evaluator) evaluateOne(ctx context.Context, sample Sample) (types.ItemResult, error) {
	item := types.ItemResult{ID: sample.ID, TrueLabel: sample.Category}

	vec, err := ev.extractor.Extract(sample.Image)
	if err != nil {
		item.Skipped = true
		item.SkipReason = err.Error()
		return item, nil
	}

	neighbors, err := ev.index.QueryExcluding(ctx, vec, ev.config.K, sample.ID)
	if err != nil {
		// An unusable store dooms the whole run, not just this item.
		var storageErr *store.StorageError
		if errors.Is(err, store.ErrEmptyIndex) || errors.As(err, &storageErr) {
			return item, err
		}
		item.Skipped = true
		item.SkipReason = err.Error()
		return item, nil
	}

	diag, err := ev.diagnoser.Diagnose(neighbors)
	if err != nil {
		item.Skipped = true
		item.SkipReason = err.Error()
		return item, nil
	}

	assessment := ev.assessor.Assess(diag)

	item.Predicted = diag.Category
	item.Confidence = diag.Confidence
	item.Risk = assessment.Level
	item.RiskScore = assessment.Score
	return item, nil
}

func (ev *Evaluator) aggregate(items []types.ItemResult, total int) types.EvaluationReport {
	report := types.EvaluationReport{
		Total:       total,
		Confusion:   make(map[string]map[string]int),
		PerCategory: make(map[string]types.CategoryMetrics),
		RiskBuckets: make(map[types.RiskLevel]types.RiskBucket),
		Items:       items,
	}

	for _, item := range items {
		if item.Skipped {
			report.Skipped++
			continue
		}
		report.Evaluated++

		row := report.Confusion[item.TrueLabel]
		if row == nil {
			row = make(map[string]int)
			report.Confusion[item.TrueLabel] = row
		}
		row[item.Predicted]++

		correct := item.TrueLabel == item.Predicted
		if correct {
			report.Correct++
		}

		bucket := report.RiskBuckets[item.Risk]
		bucket.Count++
		if correct {
			bucket.Correct++
		}
		report.RiskBuckets[item.Risk] = bucket
	}

	if report.Evaluated > 0 {
		report.Accuracy = float64(report.Correct) / float64(report.Evaluated)
	}

	for level, bucket := range report.RiskBuckets {
		if bucket.Count > 0 {
			bucket.Accuracy = float64(bucket.Correct) / float64(bucket.Count)
		}
		report.RiskBuckets[level] = bucket
	}

	for _, category := range categories(report.Confusion) {
		report.PerCategory[category] = categoryMetrics(report.Confusion, category)
	}

	return report
}

// categories returns the union of true and predicted labels, sorted.
func categories(confusion map[string]map[string]int) []string {
	seen := make(map[string]bool)
	for trueCat, row := range confusion {
		seen[trueCat] = true
		for predicted := range row {
			seen[predicted] = true
		}
	}

	out := make([]string, 0, len(seen))
	for cat := range seen {
		out = append(out, cat)
	}
	sort.Strings(out)
	return out
}

// categoryMetrics computes one-vs-rest precision, recall and F1 for a
// category. Zero-denominator cases score 0 and flag the category as
// unsupported instead of failing.
func categoryMetrics(confusion map[string]map[string]int, category string) types.CategoryMetrics {
	m := types.CategoryMetrics{}

	for trueCat, row := range confusion {
		for predicted, count := range row {
			switch {
			case trueCat == category && predicted == category:
				m.TruePositives += count
			case trueCat != category && predicted == category:
				m.FalsePositives += count
			case trueCat == category && predicted != category:
				m.FalseNegatives += count
			}
		}
	}

	if m.TruePositives+m.FalsePositives > 0 {
		m.Precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	} else {
		m.Unsupported = true
	}

	if m.TruePositives+m.FalseNegatives > 0 {
		m.Recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	} else {
		m.Unsupported = true
	}

	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}

	return m
}
