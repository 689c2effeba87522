package domain

import "encoding/json"

const (
	ResultSchemaVersion  = "1.0"
	ExtractSchemaVersion = "extract-1.0"
	WriteSchemaVersion   = "write-1.0"
)

// Evidence is an optional timestamp span in seconds. Unknown bounds stay nil
// and encode as null.
type Evidence struct {
	StartS *float64 `json:"start_s"`
	EndS   *float64 `json:"end_s"`
}

type ActionItem struct {
	Task     string   `json:"task"`
	Owner    *string  `json:"owner"`
	DueDate  *string  `json:"due_date"`
	Evidence Evidence `json:"evidence"`
}

type Summary struct {
	Title   string   `json:"title"`
	TLDR    string   `json:"tldr"`
	Bullets []string `json:"bullets"`
}

// PipelineResult is the versioned artifact written for every done job.
// Every field is always encoded; collections are never nil after Normalize.
type PipelineResult struct {
	SchemaVersion string       `json:"schema_version"`
	Summary       Summary      `json:"summary"`
	ActionItems   []ActionItem `json:"action_items"`
}

// Normalize replaces nil collections so the encoded form carries [] instead of null.
func (r PipelineResult) Normalize() PipelineResult {
	if r.Summary.Bullets == nil {
		r.Summary.Bullets = []string{}
	}
	if r.ActionItems == nil {
		r.ActionItems = []ActionItem{}
	}
	return r
}

type Decision struct {
	Decision string   `json:"decision"`
	Evidence Evidence `json:"evidence"`
}

type OpenQuestion struct {
	Question   string   `json:"question"`
	AssignedTo *string  `json:"assigned_to"`
	Evidence   Evidence `json:"evidence"`
}

// ExtractFacts is the Extract stage output. Action items stay as raw JSON until
// the merged document goes through schema validation, so provider type drift is
// reported as violations instead of a decode failure.
type ExtractFacts struct {
	SchemaVersion string            `json:"schema_version"`
	ActionItems   []json.RawMessage `json:"action_items"`
	Decisions     []Decision        `json:"decisions"`
	OpenQuestions []OpenQuestion    `json:"open_questions"`
}

// WriteOutput is the Write stage output.
type WriteOutput struct {
	SchemaVersion string          `json:"schema_version"`
	Summary       json.RawMessage `json:"summary"`
}
