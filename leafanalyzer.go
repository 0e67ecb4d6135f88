// Package leafanalyzer diagnoses plant leaf diseases by visual similarity.
//
// A leaf photo is reduced to a fixed-length feature vector describing its
// color distribution, surface texture and lesion shape. Diagnoses come from
// the k nearest reference images in a vector index: neighbors vote for their
// disease category weighted by similarity, and a rule-based risk score flags
// verdicts that should not be trusted without review.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//		"log"
//
//		leafanalyzer "github.com/menta2k/leaf-analyzer"
//	)
//
//	func main() {
//		la, err := leafanalyzer.New()
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		ctx := context.Background()
//
//		// Index a reference corpus laid out as dataset/<category>/*.jpg
//		if _, err := la.IndexDirectory(ctx, "dataset"); err != nil {
//			log.Fatal(err)
//		}
//
//		// Diagnose a new photo
//		result, err := la.DiagnoseFile(ctx, "leaf.jpg")
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		fmt.Printf("%s (%.1f%% confidence, risk %s)\n",
//			result.Diagnosis.Category, result.Diagnosis.Confidence, result.Risk.Level)
//	}
//
// The package consists of five main components:
//
// 1. Feature (pkg/feature): Extracts color, texture and shape descriptors
// 2. Store (pkg/store): Vector index over the reference corpus
// 3. Diagnosis (pkg/diagnosis): Weighted nearest-neighbor voting
// 4. Risk (pkg/risk): Rule-based revocation-risk scoring
// 5. Eval (pkg/eval): Batch evaluation with classification metrics
package leafanalyzer

import (
	"context"
	"fmt"
	"image"
	"io"
	"sort"

	"github.com/menta2k/leaf-analyzer/internal/config"
	"github.com/menta2k/leaf-analyzer/internal/utils"
	"github.com/menta2k/leaf-analyzer/pkg/diagnosis"
	"github.com/menta2k/leaf-analyzer/pkg/eval"
	"github.com/menta2k/leaf-analyzer/pkg/feature"
	"github.com/menta2k/leaf-analyzer/pkg/risk"
	"github.com/menta2k/leaf-analyzer/pkg/store"
	"github.com/menta2k/leaf-analyzer/pkg/types"
)

// Version of the leaf analyzer library
const Version = "1.0.0"

// Analyzer provides a high-level interface for indexing reference images and
// diagnosing new ones.
type Analyzer struct {
	extractor *feature.Extractor
	store     *store.Client
	engine    *diagnosis.Engine
	predictor *risk.Predictor
	k         int
}

// New creates a new Analyzer with default configuration.
func New() (*Analyzer, error) {
	return NewWithConfig(config.Default())
}

// NewWithConfig creates a new Analyzer with custom configuration.
func NewWithConfig(cfg *config.Config) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	client, err := store.New()
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	return &Analyzer{
		extractor: feature.NewWithConfig(cfg.ExtractorConfig()),
		store:     client,
		engine:    diagnosis.NewWithConfig(cfg.EngineConfig()),
		predictor: risk.NewWithConfig(cfg.PredictorConfig()),
		k:         cfg.K,
	}, nil
}

// Result bundles the diagnosis with its risk assessment.
type Result struct {
	Diagnosis types.DiagnosisResult `json:"diagnosis"`
	Risk      types.RiskAssessment  `json:"risk"`
}

// IndexImage extracts features from a decoded image and upserts it into the
// reference index under the given ID and category.
func (la *Analyzer) IndexImage(ctx context.Context, id, category, source string, img image.Image) error {
	vec, err := la.extractor.Extract(img)
	if err != nil {
		return fmt.Errorf("feature extraction failed: %w", err)
	}

	return la.store.Index(ctx, types.ImageRecord{
		ID:       id,
		Category: category,
		Vector:   vec,
		Source:   source,
	})
}

// IndexFile loads an image from disk and indexes it. The file path doubles as
// the record ID, so re-indexing the same file updates the stored record.
func (la *Analyzer) IndexFile(ctx context.Context, path, category string) error {
	img, err := feature.LoadImage(path)
	if err != nil {
		return fmt.Errorf("failed to load image: %w", err)
	}
	return la.IndexImage(ctx, path, category, path, img)
}

// IndexDirectory indexes every image under dir, treating each immediate
// subdirectory name as the category label. It returns per-category counts of
// successfully indexed images. Unreadable or invalid images are skipped.
func (la *Analyzer) IndexDirectory(ctx context.Context, dir string) (map[string]int, error) {
	byCategory, err := utils.ListCategoryImages(dir)
	if err != nil {
		return nil, err
	}
	if len(byCategory) == 0 {
		return nil, fmt.Errorf("no category subdirectories with images found in %s", dir)
	}

	counts := make(map[string]int)
	for category, files := range byCategory {
		for _, path := range files {
			if err := ctx.Err(); err != nil {
				return counts, err
			}
			if err := la.IndexFile(ctx, path, category); err != nil {
				continue
			}
			counts[category]++
		}
	}

	return counts, nil
}

// Diagnose runs the full pipeline on a decoded image: feature extraction,
// nearest-neighbor retrieval, weighted voting and risk scoring.
func (la *Analyzer) Diagnose(ctx context.Context, img image.Image) (Result, error) {
	vec, err := la.extractor.Extract(img)
	if err != nil {
		return Result{}, fmt.Errorf("feature extraction failed: %w", err)
	}

	neighbors, err := la.store.Query(ctx, vec, la.k)
	if err != nil {
		return Result{}, fmt.Errorf("neighbor query failed: %w", err)
	}

	diag, err := la.engine.Diagnose(neighbors)
	if err != nil {
		return Result{}, fmt.Errorf("diagnosis failed: %w", err)
	}

	return Result{
		Diagnosis: diag,
		Risk:      la.predictor.Assess(diag),
	}, nil
}

// DiagnoseFile loads an image from disk and diagnoses it.
func (la *Analyzer) DiagnoseFile(ctx context.Context, path string) (Result, error) {
	img, err := feature.LoadImage(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load image: %w", err)
	}
	return la.Diagnose(ctx, img)
}

// DiagnoseReader decodes an image from an io.Reader and diagnoses it.
func (la *Analyzer) DiagnoseReader(ctx context.Context, reader io.Reader) (Result, error) {
	img, err := feature.LoadImageFromReader(reader)
	if err != nil {
		return Result{}, fmt.Errorf("failed to decode image: %w", err)
	}
	return la.Diagnose(ctx, img)
}

// Evaluate runs batch evaluation over pre-decoded labeled samples against
// the current index.
func (la *Analyzer) Evaluate(ctx context.Context, samples []eval.Sample) (types.EvaluationReport, error) {
	evaluator := eval.NewWithConfig(la.extractor, la.store, la.engine, la.predictor, eval.Config{K: la.k})
	return evaluator.Evaluate(ctx, samples)
}

// EvaluateDirectory indexes dir if the store is empty, then evaluates every
// image in it against the rest of the corpus. Each sample's own record is
// excluded from its neighbor query, so an image never matches itself.
func (la *Analyzer) EvaluateDirectory(ctx context.Context, dir string) (types.EvaluationReport, error) {
	byCategory, err := utils.ListCategoryImages(dir)
	if err != nil {
		return types.EvaluationReport{}, err
	}
	if len(byCategory) == 0 {
		return types.EvaluationReport{}, fmt.Errorf("no category subdirectories with images found in %s", dir)
	}

	if la.store.Len() == 0 {
		if _, err := la.IndexDirectory(ctx, dir); err != nil {
			return types.EvaluationReport{}, err
		}
	}

	categories := make([]string, 0, len(byCategory))
	for category := range byCategory {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	var samples []eval.Sample
	for _, category := range categories {
		for _, path := range byCategory[category] {
			img, err := feature.LoadImage(path)
			if err != nil {
				samples = append(samples, eval.Sample{ID: path, Category: category})
				continue
			}
			samples = append(samples, eval.Sample{ID: path, Category: category, Image: img})
		}
	}

	return la.Evaluate(ctx, samples)
}

// Store exposes the underlying vector index, mainly for pre-populating it
// with already-extracted records.
func (la *Analyzer) Store() *store.Client {
	return la.store
}

// ExtractFeatures extracts the feature vector for a decoded image without
// touching the index.
func (la *Analyzer) ExtractFeatures(img image.Image) (types.FeatureVector, error) {
	return la.extractor.Extract(img)
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
