package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/mutator/internal/config"
	"github.com/sells-group/mutator/internal/model"
	"github.com/sells-group/mutator/pkg/anthropic"
)

const planSystemPrompt = `You are a careful code modification planner. You receive a unit of code
and a change request, and respond with a plan as a JSON object:
{"steps": ["..."], "reasoning": "...", "constraint_check_needed": true, "factuality_check_needed": true}

Rules:
- steps: concrete ordered edit steps, each non-empty
- reasoning: why this approach is safe and suitable
- constraint_check_needed: true when the change could violate structural or policy constraints
- factuality_check_needed: true when the change embeds factual claims, formulas, or external API shapes
Respond with the JSON object only.`

const applySystemPrompt = `You are a code modification engine. You receive code, a change request,
and an approved plan. Produce the complete modified code, not a diff.
Respond with a JSON object:
{"code": "...", "summary_points": ["..."], "approach": "...", "considerations": ["..."], "risks": ["..."], "tests": ["..."]}
The code field must contain the full new source of the unit. Respond with the JSON object only.`

const scoreSystemPrompt = `You are a strict code reviewer scoring one quality dimension of a
proposed code change. Respond with a JSON object:
{"score": 0.0, "feedback": "...", "issues": ["..."], "recommendations": ["..."]}
score must be a number between 0 and 1. Respond with the JSON object only.`

const (
	preferenceCriteria = `Dimension: human preference. Judge readability, naming, structure, and
how closely the change matches what a careful human reviewer would have
written for this request.`

	factualityCriteria = `Dimension: factuality. Judge whether claims embedded in the code and its
comments are correct: algorithms, formulas, constants, API usage, and any
documented behavior. Unverifiable claims lower the score.`

	constraintCriteria = `Dimension: constraint adherence. Judge whether the change stays inside
the request's scope, preserves the unit's public surface unless asked
otherwise, and avoids forbidden operations.`
)

// AnthropicOracle implements Oracle against the Anthropic API with
// client-side rate limiting shared across all call types.
type AnthropicOracle struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	limiter   *rate.Limiter
}

// NewAnthropic creates an AnthropicOracle from configuration.
func NewAnthropic(client anthropic.Client, cfg config.AnthropicConfig) *AnthropicOracle {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	return &AnthropicOracle{
		client:    client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		limiter:   rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
	}
}

func (o *AnthropicOracle) ProposePlan(ctx context.Context, obj *model.DurableObject, request string) (*model.ModificationPlan, error) {
	prompt := fmt.Sprintf("Language: %s\n\nCurrent code:\n%s\n\nChange request:\n%s", obj.Language, obj.CodeContent, request)

	text, err := o.complete(ctx, "plan", planSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	var plan model.ModificationPlan
	if err := json.Unmarshal([]byte(cleanJSON(text)), &plan); err != nil {
		return nil, eris.Wrap(model.ErrInvalidPlan, err.Error())
	}
	return &plan, nil
}

func (o *AnthropicOracle) ApplyModification(ctx context.Context, obj *model.DurableObject, request string, plan *model.ModificationPlan) (*ModificationResult, error) {
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return nil, eris.Wrap(err, "oracle: marshal plan")
	}
	prompt := fmt.Sprintf("Language: %s\n\nCurrent code:\n%s\n\nChange request:\n%s\n\nApproved plan:\n%s",
		obj.Language, obj.CodeContent, request, string(planJSON))

	text, err := o.complete(ctx, "apply", applySystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	var result ModificationResult
	if err := json.Unmarshal([]byte(cleanJSON(text)), &result); err != nil {
		return nil, eris.Wrap(model.ErrModificationFailed, err.Error())
	}
	return &result, nil
}

func (o *AnthropicOracle) ScorePreference(ctx context.Context, in ScoreInput) (*ScoreResult, error) {
	return o.score(ctx, "score_preference", preferenceCriteria, in)
}

func (o *AnthropicOracle) ScoreFactuality(ctx context.Context, in ScoreInput) (*ScoreResult, error) {
	return o.score(ctx, "score_factuality", factualityCriteria, in)
}

func (o *AnthropicOracle) ScoreConstraint(ctx context.Context, in ScoreInput) (*ScoreResult, error) {
	return o.score(ctx, "score_constraint", constraintCriteria, in)
}

func (o *AnthropicOracle) score(ctx context.Context, phase, criteria string, in ScoreInput) (*ScoreResult, error) {
	prompt := fmt.Sprintf("%s\n\nLanguage: %s\n\nOriginal code:\n%s\n\nChange request:\n%s\n\nProposed code:\n%s",
		criteria, in.Object.Language, in.Object.CodeContent, in.Request, in.CandidateCode)

	text, err := o.complete(ctx, phase, scoreSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	var result ScoreResult
	if err := json.Unmarshal([]byte(cleanJSON(text)), &result); err != nil {
		return nil, eris.Wrapf(err, "oracle: parse %s response", phase)
	}
	if result.Score < 0 || result.Score > 1 {
		return nil, eris.Wrapf(model.ErrInvalidScore, "%s returned %v", phase, result.Score)
	}
	return &result, nil
}

// complete issues one rate-limited message call and returns the response
// text. Deadline expiry anywhere in the call maps to ErrOracleTimeout.
func (o *AnthropicOracle) complete(ctx context.Context, phase, system, prompt string) (string, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", eris.Wrapf(model.ErrOracleTimeout, "%s: waiting for rate limit", phase)
		}
		return "", eris.Wrapf(err, "oracle: %s rate limit", phase)
	}

	resp, err := o.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     o.model,
		MaxTokens: o.maxTokens,
		System: []anthropic.SystemBlock{
			{Text: system, CacheControl: &anthropic.CacheControl{TTL: "5m"}},
		},
		Messages: []anthropic.Message{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", eris.Wrapf(model.ErrOracleTimeout, "%s", phase)
		}
		return "", eris.Wrapf(err, "oracle: %s", phase)
	}
	resp.Usage.LogCost(o.model, phase)

	return extractText(resp), nil
}
