// Package codereview implements the security review core.
package codereview

import (
	"context"
	"errors"
	"fmt"

	"github.com/beam-me/core/internal/abn"
	"github.com/beam-me/core/internal/cores"
	"github.com/beam-me/core/internal/domain/mission"
	"github.com/beam-me/core/internal/llm"
	"github.com/beam-me/core/internal/prompts"
)

var errNoCode = errors.New("no code provided for review")

// Core reviews generated code against the security knowledge base.
type Core struct {
	llm     llm.Client
	prompts *prompts.Loader
	kb      cores.Knowledge
}

// New returns the code review core.
func New(client llm.Client, loader *prompts.Loader, kb cores.Knowledge) *Core {
	return &Core{llm: client, prompts: loader, kb: kb}
}

func (c *Core) ID() string { return cores.CodeReviewCoreID }

func (c *Core) Description() string {
	return "Reviews code for vulnerabilities, bugs and unsafe practices"
}

func (c *Core) Capabilities() []string {
	return []string{"review", "qa", "security"}
}

func (c *Core) Plan(_ context.Context, _ cores.Input, _ *cores.Trace) (cores.Plan, error) {
	return cores.Plan{Summary: "Static analysis via LLM with Security KB check."}, nil
}

// Execute reviews the run's generated code, or an explicit "code" input.
func (c *Core) Execute(ctx context.Context, _ cores.Plan, in cores.Input, trace *cores.Trace) (cores.Payload, error) {
	code, _ := in.Artifacts[mission.ArtifactGeneratedCode].(string)
	if code == "" {
		code, _ = in.Inputs["code"].(string)
	}
	review, err := c.review(ctx, code)
	if err != nil {
		return nil, err
	}
	trace.Log(cores.RoleExecutor, "Review", fmt.Sprintf("Verdict: %v", review["verdict"]), "🔍")
	return cores.Payload(review), nil
}

// HandleEnvelope reviews the "code" field of the envelope payload.
func (c *Core) HandleEnvelope(ctx context.Context, env abn.Envelope) (map[string]any, error) {
	code, _ := env.Payload["code"].(string)
	return c.review(ctx, code)
}

func (c *Core) review(ctx context.Context, code string) (map[string]any, error) {
	if code == "" {
		return nil, errNoCode
	}
	kbContext := cores.KnowledgeContext(c.kb, "Security Knowledge Base",
		cores.Section{Label: "Banned Functions", Category: "banned_functions"},
		cores.Section{Label: "Common Weaknesses", Category: "common_cwes"},
	)
	system, err := c.prompts.Render(prompts.CodeReview, map[string]string{"kb_context": kbContext})
	if err != nil {
		return nil, err
	}
	resp, err := c.llm.Complete(ctx, llm.Request{
		Tag:      prompts.CodeReview,
		System:   system,
		User:     "Code:\n" + code,
		JSONMode: true,
	})
	if err != nil {
		return nil, fmt.Errorf("code review failed: %w", err)
	}
	return llm.DecodeJSON[map[string]any](resp.Content)
}

// Validate accepts every review; findings are information, not failure.
func (c *Core) Validate(_ context.Context, payload cores.Payload, _ cores.Input) cores.Validation {
	if msg, ok := payload["error"]; ok {
		return cores.Reject(fmt.Sprint(msg))
	}
	return cores.Pass()
}

var _ abn.Handler = (*Core)(nil)
