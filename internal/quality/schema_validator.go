package quality

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/iago/meetiq-back/internal/domain"
)

var ErrSchemaInvalid = errors.New("pipeline result failed schema validation")

// Violation is one schema deviation. Path is a JSON pointer into the document.
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return ErrSchemaInvalid.Error()
	}
	parts := make([]string, 0, len(e.Violations))
	for _, violation := range e.Violations {
		parts = append(parts, violation.Path+": "+violation.Message)
	}
	return ErrSchemaInvalid.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrSchemaInvalid
}

type Options struct {
	// AllowUnknownKeys tolerates keys the schema does not name. Off by default.
	AllowUnknownKeys bool
}

type SchemaValidator struct {
	options Options
}

func NewSchemaValidator(options Options) *SchemaValidator {
	return &SchemaValidator{options: options}
}

var (
	rootKeys       = []string{"schema_version", "summary", "action_items"}
	summaryKeys    = []string{"title", "tldr", "bullets"}
	actionItemKeys = []string{"task", "owner", "due_date", "evidence"}
	evidenceKeys   = []string{"start_s", "end_s"}
)

// Validate checks doc against the versioned result schema and returns the typed
// result. It performs no I/O.
func (v *SchemaValidator) Validate(doc []byte) (domain.PipelineResult, error) {
	var root any
	decoder := json.NewDecoder(bytes.NewReader(doc))
	if err := decoder.Decode(&root); err != nil {
		return domain.PipelineResult{}, &ValidationError{Violations: []Violation{{Path: "", Message: "document is not valid JSON"}}}
	}
	if decoder.More() {
		return domain.PipelineResult{}, &ValidationError{Violations: []Violation{{Path: "", Message: "trailing data after JSON document"}}}
	}

	c := &checker{allowUnknown: v.options.AllowUnknownKeys}
	c.root(root)
	if len(c.violations) > 0 {
		return domain.PipelineResult{}, &ValidationError{Violations: c.violations}
	}

	var result domain.PipelineResult
	if err := json.Unmarshal(doc, &result); err != nil {
		return domain.PipelineResult{}, &ValidationError{Violations: []Violation{{Path: "", Message: err.Error()}}}
	}
	return result.Normalize(), nil
}

type checker struct {
	allowUnknown bool
	violations   []Violation
}

func (c *checker) add(path, format string, args ...any) {
	c.violations = append(c.violations, Violation{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (c *checker) object(path string, value any, keys []string) (map[string]any, bool) {
	object, ok := value.(map[string]any)
	if !ok {
		c.add(path, "must be an object, got %s", typeName(value))
		return nil, false
	}
	for _, key := range keys {
		if _, present := object[key]; !present {
			c.add(path+"/"+escapePointer(key), "is required")
		}
	}
	if !c.allowUnknown {
		known := make(map[string]struct{}, len(keys))
		for _, key := range keys {
			known[key] = struct{}{}
		}
		extras := make([]string, 0)
		for key := range object {
			if _, ok := known[key]; !ok {
				extras = append(extras, key)
			}
		}
		sort.Strings(extras)
		for _, key := range extras {
			c.add(path+"/"+escapePointer(key), "is not allowed")
		}
	}
	return object, true
}

func (c *checker) root(value any) {
	object, ok := c.object("", value, rootKeys)
	if !ok {
		return
	}
	if raw, present := object["schema_version"]; present {
		version, isString := raw.(string)
		if !isString {
			c.add("/schema_version", "must be a string, got %s", typeName(raw))
		} else if version != domain.ResultSchemaVersion {
			c.add("/schema_version", "must equal %q, got %q", domain.ResultSchemaVersion, version)
		}
	}
	if raw, present := object["summary"]; present {
		c.summary(raw)
	}
	if raw, present := object["action_items"]; present {
		items, isArray := raw.([]any)
		if !isArray {
			c.add("/action_items", "must be an array, got %s", typeName(raw))
			return
		}
		for index, item := range items {
			c.actionItem("/action_items/"+strconv.Itoa(index), item)
		}
	}
}

func (c *checker) summary(value any) {
	object, ok := c.object("/summary", value, summaryKeys)
	if !ok {
		return
	}
	c.requiredString(object, "/summary", "title")
	c.requiredString(object, "/summary", "tldr")
	raw, present := object["bullets"]
	if !present {
		return
	}
	bullets, isArray := raw.([]any)
	if !isArray {
		c.add("/summary/bullets", "must be an array, got %s", typeName(raw))
		return
	}
	for index, bullet := range bullets {
		if _, isString := bullet.(string); !isString {
			c.add("/summary/bullets/"+strconv.Itoa(index), "must be a string, got %s", typeName(bullet))
		}
	}
}

func (c *checker) actionItem(path string, value any) {
	object, ok := c.object(path, value, actionItemKeys)
	if !ok {
		return
	}
	c.requiredString(object, path, "task")
	c.nullableString(object, path, "owner")
	c.nullableString(object, path, "due_date")
	raw, present := object["evidence"]
	if !present {
		return
	}
	evidence, ok := c.object(path+"/evidence", raw, evidenceKeys)
	if !ok {
		return
	}
	c.nullableNumber(evidence, path+"/evidence", "start_s")
	c.nullableNumber(evidence, path+"/evidence", "end_s")
}

func (c *checker) requiredString(object map[string]any, path, key string) {
	raw, present := object[key]
	if !present {
		return
	}
	if _, ok := raw.(string); !ok {
		c.add(path+"/"+key, "must be a string, got %s", typeName(raw))
	}
}

func (c *checker) nullableString(object map[string]any, path, key string) {
	raw, present := object[key]
	if !present || raw == nil {
		return
	}
	if _, ok := raw.(string); !ok {
		c.add(path+"/"+key, "must be a string or null, got %s", typeName(raw))
	}
}

func (c *checker) nullableNumber(object map[string]any, path, key string) {
	raw, present := object[key]
	if !present || raw == nil {
		return
	}
	if _, ok := raw.(float64); !ok {
		c.add(path+"/"+key, "must be a number or null, got %s", typeName(raw))
	}
}

func typeName(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", value)
	}
}

func escapePointer(key string) string {
	key = strings.ReplaceAll(key, "~", "~0")
	return strings.ReplaceAll(key, "/", "~1")
}
