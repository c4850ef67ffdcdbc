// Package pipeline orchestrates the modification lifecycle for durable
// objects: plan, apply, validate, evaluate, then commit or reject. Nothing
// is persisted until every gate has passed; a failed attempt leaves the
// stored object exactly as it was.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/mutator/internal/config"
	"github.com/sells-group/mutator/internal/evaluate"
	"github.com/sells-group/mutator/internal/model"
	"github.com/sells-group/mutator/internal/sandbox"
	"github.com/sells-group/mutator/internal/store"
	"github.com/sells-group/mutator/pkg/oracle"
)

// Pipeline runs modification attempts end to end.
type Pipeline struct {
	cfg       config.PipelineConfig
	store     store.Store
	oracle    oracle.Oracle
	validator *sandbox.Validator
	engine    *evaluate.Engine
	locks     *store.LockRegistry
}

// New creates a Pipeline with all dependencies.
func New(
	cfg config.PipelineConfig,
	st store.Store,
	orc oracle.Oracle,
	validator *sandbox.Validator,
	engine *evaluate.Engine,
	locks *store.LockRegistry,
) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		store:     st,
		oracle:    orc,
		validator: validator,
		engine:    engine,
		locks:     locks,
	}
}

// CreateObject validates initial code in the sandbox and registers the
// object at version 1.
func (p *Pipeline) CreateObject(ctx context.Context, name, language, code string) (*model.DurableObject, error) {
	if err := p.validator.Validate(ctx, language, code); err != nil {
		return nil, err
	}
	obj, err := p.store.CreateObject(ctx, name, language, code)
	if err != nil {
		return nil, err
	}
	zap.L().Info("object created",
		zap.String("object_id", obj.ID),
		zap.String("name", name),
		zap.String("language", language),
	)
	return obj, nil
}

// RequestModification runs one modification attempt against the object.
//
// A rejection by the sandbox or the scoring policy is a terminal outcome,
// not an error: the returned outcome carries State Rejected and the reason,
// and the stored object is untouched. Errors are reserved for failures
// where the caller may meaningfully retry (oracle failures, timeouts,
// concurrent mutations) or where the request itself is unusable. The
// pipeline never retries on its own.
func (p *Pipeline) RequestModification(ctx context.Context, objectID, request string) (*model.ModificationOutcome, error) {
	log := zap.L().With(zap.String("object_id", objectID))

	release, err := p.locks.Acquire(objectID)
	if err != nil {
		return nil, err
	}
	defer release()

	obj, err := p.store.GetObject(ctx, objectID)
	if err != nil {
		return nil, err
	}

	// The attempt works on a snapshot carrying the transient status; the
	// stored object never shows a state between commits.
	attempt := *obj
	attempt.Status = model.StatusPendingEvaluation

	// Plan.
	plan, err := p.proposePlan(ctx, &attempt, request)
	if err != nil {
		return nil, err
	}
	log.Info("plan accepted",
		zap.Int("steps", len(plan.Steps)),
		zap.Bool("constraint_check", plan.ConstraintCheckNeeded),
		zap.Bool("factuality_check", plan.FactualityCheckNeeded),
	)

	// Apply.
	result, err := p.applyPlan(ctx, &attempt, request, plan)
	if err != nil {
		return nil, err
	}
	candidate := result.CodeAfter

	// Validate. Timeout and cancellation abort the attempt; only a
	// structural verdict on the candidate counts as a rejection.
	if err := p.validator.Validate(ctx, attempt.Language, candidate); err != nil {
		if errors.Is(err, model.ErrValidationTimeout) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		log.Info("candidate rejected by sandbox", zap.Error(err))
		return p.reject(ctx, &attempt, candidate, nil, err.Error()), nil
	}

	// Evaluate.
	eval, err := p.scoreCandidate(ctx, &attempt, request, candidate, plan)
	if err != nil {
		return nil, err
	}

	ok, reason := p.engine.Accept(eval)
	if !ok {
		log.Info("candidate rejected by policy",
			zap.Float64("weighted_score", eval.WeightedScore),
			zap.String("reason", reason),
		)
		return p.reject(ctx, &attempt, candidate, &eval, reason), nil
	}

	// Commit.
	newVersion, err := p.store.CommitModification(ctx, objectID, candidate, eval)
	if err != nil {
		return nil, err
	}
	log.Info("modification committed",
		zap.Int64("new_version", newVersion),
		zap.Float64("weighted_score", eval.WeightedScore),
	)

	return &model.ModificationOutcome{
		ObjectID:   objectID,
		State:      model.AttemptCommitted,
		NewVersion: newVersion,
		Evaluation: &eval,
	}, nil
}

func (p *Pipeline) proposePlan(ctx context.Context, obj *model.DurableObject, request string) (*model.ModificationPlan, error) {
	if strings.TrimSpace(request) == "" {
		return nil, eris.Wrap(model.ErrInvalidPlan, "change request is empty")
	}

	ctx, cancel := p.oracleContext(ctx)
	defer cancel()

	plan, err := p.oracle.ProposePlan(ctx, obj, request)
	if err != nil {
		return nil, err
	}
	if err := plan.Validate(p.cfg.MinReasoningLength); err != nil {
		return nil, err
	}
	return plan, nil
}

func (p *Pipeline) applyPlan(ctx context.Context, obj *model.DurableObject, request string, plan *model.ModificationPlan) (*oracle.ModificationResult, error) {
	ctx, cancel := p.oracleContext(ctx)
	defer cancel()

	result, err := p.oracle.ApplyModification(ctx, obj, request, plan)
	if err != nil {
		return nil, err
	}
	if result == nil || len(strings.TrimSpace(result.CodeAfter)) < p.cfg.MinCodeLength {
		return nil, eris.Wrapf(model.ErrModificationFailed, "candidate shorter than %d bytes", p.cfg.MinCodeLength)
	}
	if len(result.SummaryPoints) == 0 {
		return nil, eris.Wrap(model.ErrModificationFailed, "modification summary is empty")
	}
	return result, nil
}

// scoreCandidate runs the required scoring dimensions in parallel. The
// preference dimension is always scored; factuality and constraint default
// to a neutral 1.0 unless the plan requested them, so skipped dimensions
// never drag the weighted score down.
func (p *Pipeline) scoreCandidate(ctx context.Context, obj *model.DurableObject, request, candidate string, plan *model.ModificationPlan) (model.CodeEvaluation, error) {
	in := oracle.ScoreInput{Object: obj, Request: request, CandidateCode: candidate}

	neutral := evaluate.Signal{Score: 1.0}
	preference := neutral
	factuality := neutral
	constraint := neutral

	scoreCtx, cancel := p.oracleContext(ctx)
	defer cancel()

	g, gCtx := errgroup.WithContext(scoreCtx)

	g.Go(func() error {
		r, err := p.oracle.ScorePreference(gCtx, in)
		if err != nil {
			return err
		}
		preference = toSignal(r)
		return nil
	})
	if plan.FactualityCheckNeeded {
		g.Go(func() error {
			r, err := p.oracle.ScoreFactuality(gCtx, in)
			if err != nil {
				return err
			}
			factuality = toSignal(r)
			return nil
		})
	}
	if plan.ConstraintCheckNeeded {
		g.Go(func() error {
			r, err := p.oracle.ScoreConstraint(gCtx, in)
			if err != nil {
				return err
			}
			constraint = toSignal(r)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return model.CodeEvaluation{}, err
	}

	return p.engine.Evaluate(preference, factuality, constraint)
}

func (p *Pipeline) reject(ctx context.Context, obj *model.DurableObject, candidate string, eval *model.CodeEvaluation, reason string) *model.ModificationOutcome {
	obj.Status = model.StatusRejected

	audit := model.CodeEvaluation{}
	if eval != nil {
		audit = *eval
	}
	if err := p.store.RecordRejectedEvaluation(ctx, obj.ID, candidate, audit, reason); err != nil {
		zap.L().Warn("failed to record rejected evaluation",
			zap.String("object_id", obj.ID),
			zap.Error(err),
		)
	}
	return &model.ModificationOutcome{
		ObjectID:     obj.ID,
		State:        model.AttemptRejected,
		Evaluation:   eval,
		RejectReason: reason,
	}
}

func (p *Pipeline) oracleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := time.Duration(p.cfg.OracleTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func toSignal(r *oracle.ScoreResult) evaluate.Signal {
	return evaluate.Signal{
		Score:           r.Score,
		Issues:          r.Issues,
		Recommendations: r.Recommendations,
	}
}
