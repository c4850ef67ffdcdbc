// Package oracle is the LLM boundary of the versioning engine. It turns
// change requests into plans and candidate code, and scores candidates
// along three independent quality dimensions.
package oracle

import (
	"context"

	"github.com/sells-group/mutator/internal/model"
)

// Oracle defines the LLM operations the modification pipeline depends on.
// Implementations must be safe for concurrent use: the pipeline issues the
// three scoring calls in parallel.
type Oracle interface {
	// ProposePlan produces a modification plan for the change request.
	ProposePlan(ctx context.Context, obj *model.DurableObject, request string) (*model.ModificationPlan, error)

	// ApplyModification produces candidate code implementing the plan.
	ApplyModification(ctx context.Context, obj *model.DurableObject, request string, plan *model.ModificationPlan) (*ModificationResult, error)

	// Scoring dimensions. Each returns a score in [0, 1].
	ScorePreference(ctx context.Context, in ScoreInput) (*ScoreResult, error)
	ScoreFactuality(ctx context.Context, in ScoreInput) (*ScoreResult, error)
	ScoreConstraint(ctx context.Context, in ScoreInput) (*ScoreResult, error)
}

// ScoreInput carries everything a scoring call needs to judge a candidate.
type ScoreInput struct {
	Object        *model.DurableObject
	Request       string
	CandidateCode string
}

// ScoreResult is one dimension's verdict on a candidate.
type ScoreResult struct {
	Score           float64  `json:"score"`
	Feedback        string   `json:"feedback"`
	Issues          []string `json:"issues,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// ModificationResult is the oracle's candidate code plus the narrative the
// model produced alongside it.
type ModificationResult struct {
	CodeAfter      string   `json:"code"`
	SummaryPoints  []string `json:"summary_points,omitempty"`
	Approach       string   `json:"approach,omitempty"`
	Considerations []string `json:"considerations,omitempty"`
	Risks          []string `json:"risks,omitempty"`
	Tests          []string `json:"tests,omitempty"`
}
