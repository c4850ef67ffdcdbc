package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// ModificationPlan is the oracle's proposal for how a change request will be
// carried out. The two check flags decide which evaluation signals the
// pipeline must compute before committing.
type ModificationPlan struct {
	Steps                 []string `json:"steps"`
	Reasoning             string   `json:"reasoning"`
	ConstraintCheckNeeded bool     `json:"constraint_check_needed"`
	FactualityCheckNeeded bool     `json:"factuality_check_needed"`
}

// Validate checks the plan for structural well-formedness. minReasoning is
// the minimum rune length of the reasoning text for it to count as
// substantive.
func (p *ModificationPlan) Validate(minReasoning int) error {
	if p == nil {
		return eris.Wrap(ErrInvalidPlan, "plan is nil")
	}
	if len(p.Steps) == 0 {
		return eris.Wrap(ErrInvalidPlan, "plan has no steps")
	}
	for i, s := range p.Steps {
		if strings.TrimSpace(s) == "" {
			return eris.Wrapf(ErrInvalidPlan, "plan step %d is empty", i+1)
		}
	}
	if len([]rune(strings.TrimSpace(p.Reasoning))) < minReasoning {
		return eris.Wrapf(ErrInvalidPlan, "plan reasoning shorter than %d characters", minReasoning)
	}
	return nil
}
