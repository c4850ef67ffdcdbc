// Package evaluate combines independent quality signals into an acceptance
// decision for candidate code. The combination is pure arithmetic: same
// signals in, same evaluation out.
package evaluate

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mutator/internal/config"
	"github.com/sells-group/mutator/internal/model"
)

// Signal is one scored quality dimension with its commentary.
type Signal struct {
	Score           float64
	Issues          []string
	Recommendations []string
}

// Engine computes weighted evaluations under a fixed scoring policy.
type Engine struct {
	cfg config.EvaluationConfig
}

// New creates an Engine after validating the policy.
func New(cfg config.EvaluationConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Evaluate combines the three signals into a CodeEvaluation. Every input
// score must lie in [0, 1]; anything else is an ErrInvalidScore, never a
// silent clamp. Issues and recommendations are concatenated in dimension
// order: preference, factuality, constraint.
func (e *Engine) Evaluate(preference, factuality, constraint Signal) (model.CodeEvaluation, error) {
	for _, s := range []struct {
		name  string
		score float64
	}{
		{"preference", preference.Score},
		{"factuality", factuality.Score},
		{"constraint", constraint.Score},
	} {
		if s.score < 0 || s.score > 1 {
			return model.CodeEvaluation{}, eris.Wrapf(model.ErrInvalidScore, "%s score %v", s.name, s.score)
		}
	}

	weighted := preference.Score*e.cfg.PreferenceWeight +
		factuality.Score*e.cfg.FactualityWeight +
		constraint.Score*e.cfg.ConstraintWeight

	return model.CodeEvaluation{
		HumanPreferenceScore: preference.Score,
		FactualityScore:      factuality.Score,
		ConstraintScore:      constraint.Score,
		WeightedScore:        weighted,
		Issues:               mergeDistinct(preference.Issues, factuality.Issues, constraint.Issues),
		Recommendations:      mergeDistinct(preference.Recommendations, factuality.Recommendations, constraint.Recommendations),
	}, nil
}

// Accept reports whether an evaluation clears the policy. A factuality
// score at or below the floor rejects outright, regardless of how well the
// other dimensions scored.
func (e *Engine) Accept(eval model.CodeEvaluation) (bool, string) {
	if eval.FactualityScore <= e.cfg.FactualityFloor {
		return false, "factuality score at or below hard floor"
	}
	if eval.WeightedScore < e.cfg.AcceptanceThreshold {
		return false, "weighted score below acceptance threshold"
	}
	return true, ""
}

// mergeDistinct concatenates lists in order, dropping exact duplicates.
func mergeDistinct(lists ...[]string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, list := range lists {
		for _, item := range list {
			key := strings.TrimSpace(item)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, item)
		}
	}
	return out
}
