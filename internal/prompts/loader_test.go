package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderHasEveryTemplate(t *testing.T) {
	l, err := NewLoader()
	require.NoError(t, err)
	assert.Equal(t, []string{CodeReview, Codegen, FlightSafety, Planner, Propulsion, Requirements}, l.Names())
}

func TestRenderSubstitutesPlaceholders(t *testing.T) {
	l := MustLoad()
	out, err := l.Render(FlightSafety, map[string]string{"kb_context": "margin: 30%"})
	require.NoError(t, err)
	assert.Contains(t, out, "margin: 30%")
	assert.NotContains(t, out, "{{kb_context}}")

	_, err = l.Render("nope", nil)
	assert.Error(t, err)
}
