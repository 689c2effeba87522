package quality

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/iago/meetiq-back/internal/domain"
)

const validDocument = `{
	"schema_version": "1.0",
	"summary": {"title": "Launch sync", "tldr": "Ship on Friday.", "bullets": ["Ship Friday"]},
	"action_items": [
		{"task": "Email the team", "owner": "Alex", "due_date": null, "evidence": {"start_s": null, "end_s": 12.5}}
	]
}`

func TestValidateAcceptsWellFormedResult(t *testing.T) {
	validator := NewSchemaValidator(Options{})

	result, err := validator.Validate([]byte(validDocument))
	if err != nil {
		t.Fatalf("expected valid document, got %v", err)
	}

	owner := "Alex"
	end := 12.5
	want := domain.PipelineResult{
		SchemaVersion: "1.0",
		Summary:       domain.Summary{Title: "Launch sync", TLDR: "Ship on Friday.", Bullets: []string{"Ship Friday"}},
		ActionItems: []domain.ActionItem{
			{Task: "Email the team", Owner: &owner, Evidence: domain.Evidence{EndS: &end}},
		},
	}
	if diff := cmp.Diff(want, result); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateEmptyCollectionsStayNonNil(t *testing.T) {
	validator := NewSchemaValidator(Options{})

	result, err := validator.Validate([]byte(`{"schema_version":"1.0","summary":{"title":"","tldr":"","bullets":[]},"action_items":[]}`))
	if err != nil {
		t.Fatalf("expected valid document, got %v", err)
	}
	if result.ActionItems == nil || result.Summary.Bullets == nil {
		t.Fatalf("expected empty slices, got %+v", result)
	}
}

func TestValidateReportsViolationsWithPointerPaths(t *testing.T) {
	validator := NewSchemaValidator(Options{})

	doc := `{
		"schema_version": "2.0",
		"summary": {"title": 7, "bullets": ["ok", 3]},
		"action_items": [
			{"task": "Review", "owner": 42, "due_date": null, "evidence": {"start_s": "00:12", "end_s": null}},
			{"owner": null, "due_date": null, "evidence": null}
		]
	}`
	_, err := validator.Validate([]byte(doc))

	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if !errors.Is(err, ErrSchemaInvalid) {
		t.Fatalf("expected ErrSchemaInvalid in chain")
	}

	want := []Violation{
		{Path: "/schema_version", Message: `must equal "1.0", got "2.0"`},
		{Path: "/summary/tldr", Message: "is required"},
		{Path: "/summary/title", Message: "must be a string, got number"},
		{Path: "/summary/bullets/1", Message: "must be a string, got number"},
		{Path: "/action_items/0/owner", Message: "must be a string or null, got number"},
		{Path: "/action_items/0/evidence/start_s", Message: "must be a number or null, got string"},
		{Path: "/action_items/1/task", Message: "is required"},
		{Path: "/action_items/1/evidence", Message: "must be an object, got null"},
	}
	if diff := cmp.Diff(want, validationErr.Violations); diff != "" {
		t.Fatalf("violations mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateMissingTopLevelFields(t *testing.T) {
	validator := NewSchemaValidator(Options{})

	_, err := validator.Validate([]byte(`{"schema_version":"1.0"}`))
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	want := []Violation{
		{Path: "/summary", Message: "is required"},
		{Path: "/action_items", Message: "is required"},
	}
	if diff := cmp.Diff(want, validationErr.Violations); diff != "" {
		t.Fatalf("violations mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateUnknownKeysFollowPolicy(t *testing.T) {
	doc := []byte(`{"schema_version":"1.0","summary":{"title":"t","tldr":"d","bullets":[]},"action_items":[],"confidence":0.9}`)

	_, err := NewSchemaValidator(Options{}).Validate(doc)
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected unknown key to be rejected, got %v", err)
	}
	if diff := cmp.Diff([]Violation{{Path: "/confidence", Message: "is not allowed"}}, validationErr.Violations); diff != "" {
		t.Fatalf("violations mismatch (-want +got):\n%s", diff)
	}

	if _, err := NewSchemaValidator(Options{AllowUnknownKeys: true}).Validate(doc); err != nil {
		t.Fatalf("expected unknown key to be tolerated, got %v", err)
	}
}

func TestValidateRejectsNonJSON(t *testing.T) {
	validator := NewSchemaValidator(Options{})

	for _, doc := range []string{"not json", `{"a":1} {"b":2}`, `[]`} {
		if _, err := validator.Validate([]byte(doc)); err == nil {
			t.Fatalf("expected %q to be rejected", doc)
		}
	}
}
