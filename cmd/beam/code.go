package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/beam-me/core/internal/domain/mission"
)

const codeWrapWidth = 100

var codeHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))

// generatedCode returns the program the engineering core accepted, if any.
func generatedCode(msg mission.AgentMessage) (string, bool) {
	artifacts, _ := msg.Payload[mission.PayloadArtifacts].(map[string]any)
	code, ok := artifacts[mission.ArtifactGeneratedCode].(string)
	return code, ok && strings.TrimSpace(code) != ""
}

// printCode writes code under a header. With styled set the program is
// rendered as a highlighted markdown block.
func printCode(w io.Writer, code string, styled bool) error {
	if !styled {
		_, err := fmt.Fprintf(w, "--- generated code ---\n%s\n", strings.TrimRight(code, "\n"))
		return err
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(codeWrapWidth))
	if err != nil {
		return fmt.Errorf("code renderer: %w", err)
	}
	out, err := r.Render("```python\n" + strings.TrimRight(code, "\n") + "\n```\n")
	if err != nil {
		return fmt.Errorf("render code: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n%s", codeHeader.Render("Generated code"), out)
	return err
}
