package risk

import (
	"context"
	"math"
)

const (
	heuristicModelVersion = "heuristic-v1"

	weightDrain     = 0.40
	weightRatio     = 0.25
	weightNight     = 0.15
	weightMagnitude = 0.20
)

// HeuristicClassifier is a deterministic weighted-factor scorer for local
// development when no model endpoint is configured. Each factor is in
// [0, 1]; the weighted sum is clamped to [0, 1].
type HeuristicClassifier struct{}

// NewHeuristicClassifier creates the development scorer.
func NewHeuristicClassifier() *HeuristicClassifier {
	return &HeuristicClassifier{}
}

// Classify implements Classifier.
func (h *HeuristicClassifier) Classify(_ context.Context, f FeatureVector) (float64, string, error) {
	factors := h.Factors(f)
	score := factors["drain"]*weightDrain +
		factors["ratio"]*weightRatio +
		factors["night"]*weightNight +
		factors["magnitude"]*weightMagnitude

	if score > 1.0 {
		score = 1.0
	}
	if score < 0.0 {
		score = 0.0
	}
	return math.Round(score*1000) / 1000, heuristicModelVersion, nil
}

// Factors returns the individual factor scores for f.
func (h *HeuristicClassifier) Factors(f FeatureVector) map[string]float64 {
	return map[string]float64{
		"drain":     drainFactor(f),
		"ratio":     ratioFactor(f),
		"night":     nightFactor(f),
		"magnitude": magnitudeFactor(f),
	}
}

// drainFactor: emptying the sender account is the strongest fraud signal.
func drainFactor(f FeatureVector) float64 {
	if f.OldBalanceOrig <= 0 || f.NewBalanceOrig > 0 {
		return 0.0
	}
	return 1.0
}

// ratioFactor: share of the balance being moved, 0 below 20%, linear to 1.0 at 100%.
func ratioFactor(f FeatureVector) float64 {
	r := f.AmountRatio
	if f.OrigBalanceZero {
		return 1.0
	}
	if r <= 0.2 {
		return 0.0
	}
	if r >= 1.0 {
		return 1.0
	}
	return math.Round((r-0.2)/0.8*1000) / 1000
}

func nightFactor(f FeatureVector) float64 {
	if f.IsNight {
		return 1.0
	}
	return 0.0
}

// magnitudeFactor: log10 scaling, 1k → 0.0, 100k → 1.0.
func magnitudeFactor(f FeatureVector) float64 {
	if f.Amount <= 1000 {
		return 0.0
	}
	score := (math.Log10(f.Amount) - 3) / 2
	if score > 1.0 {
		score = 1.0
	}
	return math.Round(score*1000) / 1000
}
