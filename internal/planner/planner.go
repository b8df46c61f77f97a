// Package planner turns an objective into a task graph, asking the inference
// service first and falling back to fixed graphs so a run always has a
// valid plan.
package planner

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/beam-me/core/internal/cores"
	"github.com/beam-me/core/internal/domain/mission"
	"github.com/beam-me/core/internal/llm"
	"github.com/beam-me/core/internal/logging"
	"github.com/beam-me/core/internal/observability"
	"github.com/beam-me/core/internal/prompts"
	"github.com/beam-me/core/internal/rag"
)

// MetadataArtifact is the task metadata key carrying the reuse artifact.
const MetadataArtifact = "artifact"

// Planner generates task graphs.
type Planner struct {
	llm     llm.Client
	prompts *prompts.Loader
	catalog []cores.Descriptor
	logger  logging.Logger
}

// New returns a Planner. catalog lists the cores the model may assign.
func New(client llm.Client, loader *prompts.Loader, catalog []cores.Descriptor) *Planner {
	return &Planner{
		llm:     client,
		prompts: loader,
		catalog: catalog,
		logger:  logging.NewComponentLogger("Planner"),
	}
}

type planResponse struct {
	Tasks []planTask `json:"tasks"`
}

type planTask struct {
	ID           string         `json:"id"`
	Description  string         `json:"description"`
	AssignedCore string         `json:"assigned_core"`
	Dependencies []string       `json:"dependencies"`
	Metadata     map[string]any `json:"metadata"`
}

// GeneratePlan always returns a valid, acyclic graph.
func (p *Planner) GeneratePlan(ctx context.Context, objective string, strategy mission.Strategy, reuse *rag.Match) mission.TaskGraph {
	ctx, span := observability.StartSpan(ctx, observability.SpanPlannerGenerate,
		attribute.String(observability.AttrStrategy, string(strategy)))
	defer span.End()

	if !UsesArtifact(strategy) {
		reuse = nil
	}
	graph, err := p.fromModel(ctx, objective, strategy, reuse)
	if err != nil {
		p.logger.Warn("planner falling back to fixed graph: %v", err)
		span.SetAttributes(attribute.Bool("beam.planner.fallback", true))
		return Fallback(objective, strategy, reuse)
	}
	return graph
}

func (p *Planner) fromModel(ctx context.Context, objective string, strategy mission.Strategy, reuse *rag.Match) (mission.TaskGraph, error) {
	if p.llm == nil || p.prompts == nil {
		return nil, fmt.Errorf("no inference client configured")
	}
	system, err := p.prompts.Render(prompts.Planner, map[string]string{
		"cores":         p.describeCores(),
		"strategy":      string(strategy),
		"reuse_context": reuseContext(reuse),
	})
	if err != nil {
		return nil, err
	}
	resp, err := p.llm.Complete(ctx, llm.Request{
		Tag:      prompts.Planner,
		System:   system,
		User:     "Problem: " + objective,
		JSONMode: true,
	})
	if err != nil {
		return nil, err
	}
	plan, err := llm.DecodeJSON[planResponse](resp.Content)
	if err != nil {
		return nil, err
	}

	graph := mission.TaskGraph{}
	for _, t := range plan.Tasks {
		if _, dup := graph[t.ID]; dup {
			return nil, fmt.Errorf("duplicate task id %q", t.ID)
		}
		meta := t.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		switch mode := mission.Strategy(fmt.Sprint(meta["mode"])); mode {
		case mission.StrategyReuse, mission.StrategyModify:
			if reuse == nil || mode != strategy {
				// The run strategy decides whether a stored solution is used.
				meta["mode"] = string(mission.StrategyBuild)
				delete(meta, MetadataArtifact)
				break
			}
			meta[MetadataArtifact] = ArtifactMetadata(reuse)
		default:
			delete(meta, MetadataArtifact)
		}
		graph[t.ID] = &mission.Task{
			ID:           t.ID,
			Description:  t.Description,
			AssignedCore: t.AssignedCore,
			Dependencies: append([]string(nil), t.Dependencies...),
			Status:       mission.TaskPending,
			Metadata:     meta,
		}
	}
	if err := graph.Validate(); err != nil {
		return nil, err
	}
	if err := graph.ValidateAcyclic(); err != nil {
		return nil, err
	}
	return graph, nil
}

func (p *Planner) describeCores() string {
	if len(p.catalog) == 0 {
		return "- " + cores.AnalysisCoreID + "\n- " + cores.EngineeringCoreID
	}
	var b strings.Builder
	for _, d := range p.catalog {
		fmt.Fprintf(&b, "- %s", d.ID)
		if d.Description != "" {
			fmt.Fprintf(&b, ": %s", d.Description)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func reuseContext(reuse *rag.Match) string {
	if reuse == nil {
		return "Reuse artifact: None"
	}
	return fmt.Sprintf("Reuse artifact: File: %s, Desc: %s", reuse.FilePath, reuse.ProblemDescription)
}

// UsesArtifact reports whether runs under strategy start from a stored
// solution.
func UsesArtifact(strategy mission.Strategy) bool {
	return strategy == mission.StrategyReuse || strategy == mission.StrategyModify
}

// ArtifactMetadata is the task metadata form of a reuse match.
func ArtifactMetadata(m *rag.Match) map[string]any {
	if m == nil {
		return nil
	}
	return map[string]any{
		"artifact_id":         m.ArtifactID,
		"file_path":           m.FilePath,
		"code_url":            m.CodeURL,
		"problem_description": m.ProblemDescription,
		"similarity_score":    m.Similarity,
	}
}
