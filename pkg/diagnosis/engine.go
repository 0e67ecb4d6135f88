// Package diagnosis turns a ranked neighbor list into a category verdict
// with a confidence percentage.
package diagnosis

import (
	"errors"
	"math"
	"sort"

	"github.com/menta2k/leaf-analyzer/pkg/types"
)

// ErrNoNeighbors is returned when Diagnose is called with an empty match list.
var ErrNoNeighbors = errors.New("diagnosis: no neighbor matches to vote on")

// Config holds configuration for the diagnosis engine.
type Config struct {
	// DistanceEpsilon stabilizes inverse-distance weights for exact or
	// near-exact matches.
	DistanceEpsilon float64
}

// DefaultConfig returns the default diagnosis configuration.
func DefaultConfig() Config {
	return Config{DistanceEpsilon: 1e-9}
}

// Engine performs an inverse-distance-weighted majority vote over neighbor
// categories.
type Engine struct {
	config Config
}

// New creates a new Engine with default configuration.
func New() *Engine {
	return &Engine{config: DefaultConfig()}
}

// NewWithConfig creates a new Engine with custom configuration.
func NewWithConfig(config Config) *Engine {
	return &Engine{config: config}
}

// Diagnose derives the winning category and its confidence from the given
// neighbor matches. Each neighbor votes for its category with weight
// 1/(epsilon+distance); confidence is the winning category's weighted share
// in percent. Ties on total weighted vote fall to the category of the single
// nearest neighbor; in a maximum-entropy tie the confidence equals the
// lowest competing share, never a randomized pick.
func (e *Engine) Diagnose(neighbors []types.NeighborMatch) (types.DiagnosisResult, error) {
	if len(neighbors) == 0 {
		return types.DiagnosisResult{}, ErrNoNeighbors
	}

	sorted := make([]types.NeighborMatch, len(neighbors))
	copy(sorted, neighbors)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Distance < sorted[j].Distance
	})

	weights := make(map[string]float64)
	var totalWeight float64
	for _, n := range sorted {
		w := 1.0 / (e.config.DistanceEpsilon + n.Distance)
		weights[n.Record.Category] += w
		totalWeight += w
	}

	winner := pickWinner(weights, sorted[0].Record.Category)

	// Confidence is the winner's share. When every category carries the same
	// weight there is no majority signal: report the lowest competing share
	// deterministically.
	share := weights[winner] / totalWeight
	if allSharesEqual(weights) && len(weights) > 1 {
		share = minShare(weights) / totalWeight
	}
	confidence := share * 100

	agreeing := 0
	for _, n := range sorted {
		if n.Record.Category == winner {
			agreeing++
		}
	}

	distribution := make(map[string]float64, len(weights))
	for cat, w := range weights {
		distribution[cat] = w / totalWeight * 100
	}

	return types.DiagnosisResult{
		Category:   winner,
		Confidence: confidence,
		Neighbors:  sorted,
		Stats: types.NeighborStats{
			MinDistance:  sorted[0].Distance,
			MaxDistance:  sorted[len(sorted)-1].Distance,
			MeanDistance: meanDistance(sorted),
			StdDistance:  stdDistance(sorted),
			Agreement:    float64(agreeing) / float64(len(sorted)),
			Distribution: distribution,
		},
	}, nil
}

// pickWinner selects the category with the highest total weighted vote,
// breaking ties in favor of the nearest neighbor's category and then by
// category name for determinism.
func pickWinner(weights map[string]float64, nearest string) string {
	const tieEpsilon = 1e-12

	best := math.Inf(-1)
	for _, w := range weights {
		if w > best {
			best = w
		}
	}

	var tied []string
	for cat, w := range weights {
		if best-w <= tieEpsilon {
			tied = append(tied, cat)
		}
	}
	if len(tied) == 1 {
		return tied[0]
	}

	for _, cat := range tied {
		if cat == nearest {
			return cat
		}
	}

	sort.Strings(tied)
	return tied[0]
}

func allSharesEqual(weights map[string]float64) bool {
	const tieEpsilon = 1e-12
	first := math.NaN()
	for _, w := range weights {
		if math.IsNaN(first) {
			first = w
			continue
		}
		if math.Abs(w-first) > tieEpsilon {
			return false
		}
	}
	return true
}

func minShare(weights map[string]float64) float64 {
	lowest := math.Inf(1)
	for _, w := range weights {
		if w < lowest {
			lowest = w
		}
	}
	return lowest
}

func meanDistance(matches []types.NeighborMatch) float64 {
	var sum float64
	for _, m := range matches {
		sum += m.Distance
	}
	return sum / float64(len(matches))
}

func stdDistance(matches []types.NeighborMatch) float64 {
	mean := meanDistance(matches)
	var sqDiff float64
	for _, m := range matches {
		d := m.Distance - mean
		sqDiff += d * d
	}
	return math.Sqrt(sqDiff / float64(len(matches)))
}
