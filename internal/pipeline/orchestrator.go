package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/iago/meetiq-back/internal/ai"
	"github.com/iago/meetiq-back/internal/domain"
)

type Stage string

const (
	StageExtract Stage = "extract"
	StageWrite   Stage = "write"
	StageMerge   Stage = "merge"
	StageRepair  Stage = "repair"
)

var (
	ErrExtract         = errors.New("extract stage failed")
	ErrWrite           = errors.New("write stage failed")
	ErrMerge           = errors.New("merge stage failed")
	ErrRepairExhausted = errors.New("repair exhausted")
)

// StageError reports which stage failed. Raw holds the provider text, when
// there was any, for logging.
type StageError struct {
	Stage Stage
	Raw   string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Draft is the merged, not yet validated, pipeline candidate.
type Draft struct {
	Document []byte
	Facts    domain.ExtractFacts
	ModelIDs map[Stage]string
}

type Dependencies struct {
	Client ai.TextGenerator
	Router *ai.ModelRouter
	Logger zerolog.Logger
}

type Orchestrator struct {
	client ai.TextGenerator
	router *ai.ModelRouter
	logger zerolog.Logger
}

func NewOrchestrator(deps Dependencies) *Orchestrator {
	if deps.Router == nil {
		deps.Router = ai.NewModelRouter(ai.ModelRouterConfig{})
	}
	return &Orchestrator{
		client: deps.Client,
		router: deps.Router,
		logger: deps.Logger,
	}
}

// Run executes Extract, Write and Merge in order. A stage failure stops the
// run; later stages are not called.
func (o *Orchestrator) Run(ctx context.Context, transcript string) (Draft, error) {
	draft := Draft{ModelIDs: make(map[Stage]string, 2)}

	extractObject, extractJSON, err := o.extract(ctx, transcript, &draft)
	if err != nil {
		return Draft{}, err
	}
	draft.Facts = decodeFacts(extractObject)

	summary, err := o.write(ctx, extractJSON, &draft)
	if err != nil {
		return Draft{}, err
	}

	document, err := merge(summary, extractObject["action_items"])
	if err != nil {
		return Draft{}, &StageError{Stage: StageMerge, Err: fmt.Errorf("%w: %v", ErrMerge, err)}
	}
	draft.Document = document

	o.logger.Debug().
		Int("action_items", len(draft.Facts.ActionItems)).
		Int("decisions", len(draft.Facts.Decisions)).
		Int("open_questions", len(draft.Facts.OpenQuestions)).
		Msg("pipeline draft merged")
	return draft, nil
}

func (o *Orchestrator) extract(
	ctx context.Context,
	transcript string,
	draft *Draft,
) (map[string]json.RawMessage, []byte, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, nil, &StageError{Stage: StageExtract, Err: fmt.Errorf("%w: empty transcript", ErrExtract)}
	}

	messages, err := renderMessages(
		string(StageExtract),
		struct{ SchemaVersion string }{domain.ExtractSchemaVersion},
		struct{ Transcript string }{transcript},
	)
	if err != nil {
		return nil, nil, &StageError{Stage: StageExtract, Err: fmt.Errorf("%w: %v", ErrExtract, err)}
	}

	text, modelID, err := generateText(ctx, o.client, o.router.Select(ai.TaskExtract), messages)
	if err != nil {
		return nil, nil, &StageError{Stage: StageExtract, Err: fmt.Errorf("%w: %v", ErrExtract, err)}
	}
	draft.ModelIDs[StageExtract] = modelID

	object, raw, err := extractJSONObject(text)
	if err != nil {
		return nil, nil, &StageError{Stage: StageExtract, Raw: text, Err: fmt.Errorf("%w: %v", ErrExtract, err)}
	}

	compact := bytes.NewBuffer(nil)
	if err := json.Compact(compact, raw); err != nil {
		return nil, nil, &StageError{Stage: StageExtract, Raw: text, Err: fmt.Errorf("%w: %v", ErrExtract, err)}
	}
	return object, compact.Bytes(), nil
}

func (o *Orchestrator) write(ctx context.Context, facts []byte, draft *Draft) (json.RawMessage, error) {
	messages, err := renderMessages(
		string(StageWrite),
		struct{ SchemaVersion string }{domain.WriteSchemaVersion},
		struct{ Facts string }{string(facts)},
	)
	if err != nil {
		return nil, &StageError{Stage: StageWrite, Err: fmt.Errorf("%w: %v", ErrWrite, err)}
	}

	text, modelID, err := generateText(ctx, o.client, o.router.Select(ai.TaskWrite), messages)
	if err != nil {
		return nil, &StageError{Stage: StageWrite, Err: fmt.Errorf("%w: %v", ErrWrite, err)}
	}
	draft.ModelIDs[StageWrite] = modelID

	_, raw, err := extractJSONObject(text)
	if err != nil {
		return nil, &StageError{Stage: StageWrite, Raw: text, Err: fmt.Errorf("%w: %v", ErrWrite, err)}
	}
	var output domain.WriteOutput
	if err := json.Unmarshal(raw, &output); err != nil {
		return nil, &StageError{Stage: StageWrite, Raw: text, Err: fmt.Errorf("%w: %v", ErrWrite, err)}
	}
	if isNullOrAbsent(output.Summary) {
		return nil, &StageError{Stage: StageWrite, Raw: text, Err: fmt.Errorf("%w: output has no summary", ErrWrite)}
	}
	return output.Summary, nil
}

type mergedDocument struct {
	SchemaVersion string          `json:"schema_version"`
	Summary       json.RawMessage `json:"summary"`
	ActionItems   json.RawMessage `json:"action_items"`
}

// merge assembles the candidate result. Values are carried through untouched so
// that type problems surface in validation.
func merge(summary, actionItems json.RawMessage) ([]byte, error) {
	if isNullOrAbsent(actionItems) {
		actionItems = json.RawMessage(`[]`)
	}
	if isNullOrAbsent(summary) {
		summary = json.RawMessage(`null`)
	}
	return json.Marshal(mergedDocument{
		SchemaVersion: domain.ResultSchemaVersion,
		Summary:       summary,
		ActionItems:   actionItems,
	})
}

// decodeFacts reads the Extract output leniently: malformed decision or
// question entries are skipped, action items stay raw.
func decodeFacts(object map[string]json.RawMessage) domain.ExtractFacts {
	facts := domain.ExtractFacts{
		ActionItems:   []json.RawMessage{},
		Decisions:     []domain.Decision{},
		OpenQuestions: []domain.OpenQuestion{},
	}
	_ = json.Unmarshal(object["schema_version"], &facts.SchemaVersion)

	var items []json.RawMessage
	if err := json.Unmarshal(object["action_items"], &items); err == nil && items != nil {
		facts.ActionItems = items
	}

	var decisions []json.RawMessage
	if err := json.Unmarshal(object["decisions"], &decisions); err == nil {
		for _, raw := range decisions {
			var decision domain.Decision
			if err := json.Unmarshal(raw, &decision); err == nil && strings.TrimSpace(decision.Decision) != "" {
				facts.Decisions = append(facts.Decisions, decision)
			}
		}
	}

	var questions []json.RawMessage
	if err := json.Unmarshal(object["open_questions"], &questions); err == nil {
		for _, raw := range questions {
			var question domain.OpenQuestion
			if err := json.Unmarshal(raw, &question); err == nil && strings.TrimSpace(question.Question) != "" {
				facts.OpenQuestions = append(facts.OpenQuestions, question)
			}
		}
	}
	return facts
}

// generateText makes one provider call, plus one on the fallback model when the
// profile names a distinct one.
func generateText(
	ctx context.Context,
	client ai.TextGenerator,
	profile ai.ModelProfile,
	messages []ai.Message,
) (string, string, error) {
	if client == nil || !client.Available() {
		return "", "", ai.ErrOpenAIUnavailable
	}

	primary, err := client.Generate(ctx, ai.GenerateRequest{
		Model:           profile.PrimaryModel,
		Messages:        messages,
		Temperature:     profile.Temperature,
		MaxOutputTokens: profile.MaxOutputTokens,
	})
	if err == nil {
		return primary.Text, firstNonEmpty(primary.ModelID, profile.PrimaryModel), nil
	}

	if strings.TrimSpace(profile.FallbackModel) == "" || profile.FallbackModel == profile.PrimaryModel {
		return "", "", err
	}

	fallback, fallbackErr := client.Generate(ctx, ai.GenerateRequest{
		Model:           profile.FallbackModel,
		Messages:        messages,
		Temperature:     profile.Temperature,
		MaxOutputTokens: profile.MaxOutputTokens,
	})
	if fallbackErr != nil {
		return "", "", fmt.Errorf("primary model failed: %v; fallback failed: %w", err, fallbackErr)
	}
	return fallback.Text, firstNonEmpty(fallback.ModelID, profile.FallbackModel), nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
