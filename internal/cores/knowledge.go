package cores

import (
	"encoding/json"
	"strings"

	"github.com/beam-me/core/internal/knowledge"
)

// Knowledge is the category search cores use to ground their prompts.
type Knowledge interface {
	Search(category, query string) []knowledge.Item
}

// Section names one knowledge category rendered into a prompt.
type Section struct {
	Label    string
	Category string
}

// KnowledgeContext renders the full contents of each section under title.
// A nil kb renders the headings with empty lists.
func KnowledgeContext(kb Knowledge, title string, sections ...Section) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteString(":\n")
	for _, s := range sections {
		var items []knowledge.Item
		if kb != nil {
			items = kb.Search(s.Category, "")
		}
		if items == nil {
			items = []knowledge.Item{}
		}
		raw, err := json.MarshalIndent(items, "", "  ")
		if err != nil {
			raw = []byte("[]")
		}
		b.WriteString(s.Label)
		b.WriteString(": ")
		b.Write(raw)
		b.WriteString("\n")
	}
	return b.String()
}

// PrettyJSON renders v for prompts and traces, falling back to "{}".
func PrettyJSON(v any) string {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(raw)
}
