// Package model defines the core data types for the durable object
// versioning engine: objects, history records, evaluations, and the
// modification plan contract shared with the oracle.
package model

import "time"

// Status is the lifecycle state of a durable object.
type Status string

const (
	StatusActive            Status = "active"
	StatusPendingEvaluation Status = "pending_evaluation"
	StatusRejected          Status = "rejected"
	StatusRolledBack        Status = "rolled_back"
)

// DurableObject is a versioned unit of executable code. The version store
// owns the canonical copy; everything handed out is a snapshot.
type DurableObject struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Language    string    `json:"language"`
	Version     int64     `json:"version"`
	CodeContent string    `json:"code_content"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ModificationRecord is evidence of a committed code change. Records are
// append-only; the record with ResultingVersion == v is the authoritative
// snapshot of the object's code at version v.
type ModificationRecord struct {
	ID               string         `json:"id"`
	ObjectID         string         `json:"object_id"`
	PreviousVersion  int64          `json:"previous_version"`
	ResultingVersion int64          `json:"resulting_version"`
	CodeBefore       string         `json:"code_before"`
	CodeAfter        string         `json:"code_after"`
	Evaluation       CodeEvaluation `json:"evaluation"`
	Timestamp        time.Time      `json:"timestamp"`
}

// RollbackRecord is evidence of a reversion to an earlier version.
type RollbackRecord struct {
	ID          string    `json:"id"`
	ObjectID    string    `json:"object_id"`
	FromVersion int64     `json:"from_version"`
	ToVersion   int64     `json:"to_version"`
	Reason      string    `json:"reason"`
	Timestamp   time.Time `json:"timestamp"`
}

// CodeEvaluation combines three independent quality signals into a single
// weighted acceptance score. Values are immutable once produced.
type CodeEvaluation struct {
	HumanPreferenceScore float64  `json:"human_preference_score"`
	FactualityScore      float64  `json:"factuality_score"`
	ConstraintScore      float64  `json:"constraint_score"`
	WeightedScore        float64  `json:"weighted_score"`
	Issues               []string `json:"issues,omitempty"`
	Recommendations      []string `json:"recommendations,omitempty"`
}

// AttemptState is the terminal state of a modification attempt.
type AttemptState string

const (
	AttemptCommitted AttemptState = "committed"
	AttemptRejected  AttemptState = "rejected"
)

// ModificationOutcome reports the result of a modification attempt. A
// rejected attempt carries the evaluation (when one was computed) and the
// reason; the stored object is untouched in that case.
type ModificationOutcome struct {
	ObjectID     string          `json:"object_id"`
	State        AttemptState    `json:"state"`
	NewVersion   int64           `json:"new_version,omitempty"`
	Evaluation   *CodeEvaluation `json:"evaluation,omitempty"`
	RejectReason string          `json:"reject_reason,omitempty"`
}
