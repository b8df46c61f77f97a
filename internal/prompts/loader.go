// Package prompts holds the system prompt templates of the planner and the
// discipline cores.
package prompts

import (
	"embed"
	"fmt"
	"sort"
	"strings"
)

//go:embed *.md
var promptFS embed.FS

// Template names.
const (
	Planner      = "planner"
	Requirements = "requirements"
	Codegen      = "codegen"
	Propulsion   = "propulsion"
	FlightSafety = "flight_safety"
	CodeReview   = "code_review"
)

// Loader renders embedded templates.
type Loader struct {
	templates map[string]string
}

// NewLoader reads every embedded template.
func NewLoader() (*Loader, error) {
	entries, err := promptFS.ReadDir(".")
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts directory: %w", err)
	}
	l := &Loader{templates: make(map[string]string, len(entries))}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		content, err := promptFS.ReadFile(entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read prompt file %s: %w", entry.Name(), err)
		}
		l.templates[strings.TrimSuffix(entry.Name(), ".md")] = string(content)
	}
	return l, nil
}

// MustLoad is NewLoader for package initialization; the templates are
// compiled in, so failure is a build defect.
func MustLoad() *Loader {
	l, err := NewLoader()
	if err != nil {
		panic(err)
	}
	return l
}

// Render substitutes {{key}} placeholders in template name.
func (l *Loader) Render(name string, variables map[string]string) (string, error) {
	content, ok := l.templates[name]
	if !ok {
		return "", fmt.Errorf("prompt template '%s' not found", name)
	}
	for key, value := range variables {
		content = strings.ReplaceAll(content, "{{"+key+"}}", value)
	}
	return content, nil
}

// Names lists the available templates.
func (l *Loader) Names() []string {
	names := make([]string, 0, len(l.templates))
	for name := range l.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
