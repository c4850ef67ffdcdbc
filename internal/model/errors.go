package model

import (
	"errors"

	"github.com/rotisserie/eris"
)

// Sentinel error kinds for the engine. Every failure that crosses a
// component boundary wraps exactly one of these, so callers branch with
// errors.Is instead of string matching.
var (
	// ErrNotFound means no object exists for the given identity.
	ErrNotFound = eris.New("object not found")

	// ErrInvalidPlan means the oracle produced a structurally unusable plan.
	ErrInvalidPlan = eris.New("invalid modification plan")

	// ErrModificationFailed means the candidate code was missing, too thin,
	// or otherwise not substantial enough to be real code.
	ErrModificationFailed = eris.New("modification failed")

	// ErrValidationFailed means the sandbox rejected the candidate.
	ErrValidationFailed = eris.New("sandbox validation failed")

	// ErrInvalidScore means an evaluation input was outside [0, 1].
	ErrInvalidScore = eris.New("score out of range")

	// ErrFutureVersion means a rollback targeted a version beyond the
	// object's current one.
	ErrFutureVersion = eris.New("rollback target is a future version")

	// ErrNoOpRollback means a rollback targeted the current version.
	ErrNoOpRollback = eris.New("rollback target equals current version")

	// ErrVersionNotFound means no history record maps to the target version.
	ErrVersionNotFound = eris.New("no history record for target version")

	// ErrHistoricalValidation means a historical snapshot no longer passes
	// sandbox validation and cannot be restored.
	ErrHistoricalValidation = eris.New("historical code failed re-validation")

	// ErrOracleTimeout means an oracle call exceeded its deadline.
	ErrOracleTimeout = eris.New("oracle call timed out")

	// ErrValidationTimeout means sandbox validation exceeded its deadline.
	ErrValidationTimeout = eris.New("sandbox validation timed out")

	// ErrConcurrentMutation means another mutation on the same identity was
	// already in flight.
	ErrConcurrentMutation = eris.New("concurrent mutation in flight")
)

// IsRecoverable reports whether the failure is safe for the caller to retry:
// nothing was committed and the condition is expected to be transient. The
// engine itself never retries.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrOracleTimeout) ||
		errors.Is(err, ErrValidationTimeout) ||
		errors.Is(err, ErrConcurrentMutation)
}
