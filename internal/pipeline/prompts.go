package pipeline

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"

	"github.com/iago/meetiq-back/internal/ai"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var promptTemplates = template.Must(template.ParseFS(promptFS, "prompts/*.tmpl"))

// renderMessages builds the ordered system/user pair for one stage.
func renderMessages(stage string, systemData, userData any) ([]ai.Message, error) {
	system, err := renderPrompt(stage+"_system.tmpl", systemData)
	if err != nil {
		return nil, err
	}
	user, err := renderPrompt(stage+"_user.tmpl", userData)
	if err != nil {
		return nil, err
	}
	return []ai.Message{
		{Role: ai.RoleSystem, Content: system},
		{Role: ai.RoleUser, Content: user},
	}, nil
}

func renderPrompt(name string, data any) (string, error) {
	buffer := bytes.NewBuffer(nil)
	if err := promptTemplates.ExecuteTemplate(buffer, name, data); err != nil {
		return "", fmt.Errorf("execute template %s: %w", name, err)
	}
	return buffer.String(), nil
}
