package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ParseError reports inference output that could not be decoded even after
// repair. Callers substitute their fallback value.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse inference output: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// DecodeJSON decodes content into T. Markdown code fences are stripped and
// malformed JSON is repaired before giving up.
func DecodeJSON[T any](content string) (T, error) {
	var out T
	cleaned := stripFences(content)
	if cleaned == "" {
		return out, &ParseError{Raw: content, Err: fmt.Errorf("empty output")}
	}
	if err := json.Unmarshal([]byte(cleaned), &out); err == nil {
		return out, nil
	}

	repaired, err := jsonrepair.JSONRepair(cleaned)
	if err != nil {
		return out, &ParseError{Raw: content, Err: err}
	}
	var retry T
	if err := json.Unmarshal([]byte(repaired), &retry); err != nil {
		return out, &ParseError{Raw: content, Err: err}
	}
	return retry, nil
}

func stripFences(content string) string {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
