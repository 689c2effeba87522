package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/iago/meetiq-back/internal/ai"
	"github.com/iago/meetiq-back/internal/domain"
	"github.com/iago/meetiq-back/internal/quality"
)

// RetryPolicy bounds how many repair calls a single job may make.
type RetryPolicy struct {
	MaxAttempts int
}

var DefaultRepairPolicy = RetryPolicy{MaxAttempts: 1}

type Validator interface {
	Validate(doc []byte) (domain.PipelineResult, error)
}

type RepairerDependencies struct {
	Client    ai.TextGenerator
	Router    *ai.ModelRouter
	Validator Validator
	Policy    RetryPolicy
	Logger    zerolog.Logger
}

type Repairer struct {
	client    ai.TextGenerator
	router    *ai.ModelRouter
	validator Validator
	policy    RetryPolicy
	logger    zerolog.Logger
}

func NewRepairer(deps RepairerDependencies) *Repairer {
	if deps.Router == nil {
		deps.Router = ai.NewModelRouter(ai.ModelRouterConfig{})
	}
	if deps.Validator == nil {
		deps.Validator = quality.NewSchemaValidator(quality.Options{})
	}
	if deps.Policy.MaxAttempts <= 0 {
		deps.Policy = DefaultRepairPolicy
	}
	return &Repairer{
		client:    deps.Client,
		router:    deps.Router,
		validator: deps.Validator,
		policy:    deps.Policy,
		logger:    deps.Logger,
	}
}

func (r *Repairer) Policy() RetryPolicy {
	return r.policy
}

// Repair asks the provider to fix document given its violations and validates
// the answer. It never makes more than Policy().MaxAttempts calls.
func (r *Repairer) Repair(
	ctx context.Context,
	document []byte,
	violations []quality.Violation,
) (domain.PipelineResult, error) {
	current := document
	currentViolations := violations
	var lastErr error
	var lastRaw string

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		violationsJSON, err := json.MarshalIndent(currentViolations, "", "  ")
		if err != nil {
			return domain.PipelineResult{}, &StageError{Stage: StageRepair, Err: fmt.Errorf("%w: %v", ErrRepairExhausted, err)}
		}
		messages, err := renderMessages(
			string(StageRepair),
			struct{ SchemaVersion string }{domain.ResultSchemaVersion},
			struct{ Document, Violations string }{string(current), string(violationsJSON)},
		)
		if err != nil {
			return domain.PipelineResult{}, &StageError{Stage: StageRepair, Err: fmt.Errorf("%w: %v", ErrRepairExhausted, err)}
		}

		text, modelID, err := generateText(ctx, r.client, r.router.Select(ai.TaskRepair), messages)
		if err != nil {
			lastErr = err
			lastRaw = ""
			r.logger.Warn().Err(err).Int("attempt", attempt).Msg("repair call failed")
			continue
		}
		lastRaw = text

		_, raw, err := extractJSONObject(text)
		if err != nil {
			lastErr = err
			r.logger.Warn().Err(err).Int("attempt", attempt).Str("model", modelID).Msg("repair output is not JSON")
			continue
		}

		result, err := r.validator.Validate(raw)
		if err == nil {
			r.logger.Info().Int("attempt", attempt).Str("model", modelID).Msg("repair produced a valid result")
			return result, nil
		}
		lastErr = err
		current = raw
		var validationErr *quality.ValidationError
		if errors.As(err, &validationErr) {
			currentViolations = validationErr.Violations
		}
		r.logger.Warn().Int("attempt", attempt).Str("model", modelID).Msg("repaired result still invalid")
	}

	if lastErr == nil {
		lastErr = errors.New("no repair attempt made")
	}
	return domain.PipelineResult{}, &StageError{
		Stage: StageRepair,
		Raw:   lastRaw,
		Err:   fmt.Errorf("%w after %d attempt(s): %v", ErrRepairExhausted, r.policy.MaxAttempts, lastErr),
	}
}
