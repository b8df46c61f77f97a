package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/beam-me/core/internal/config"
	"github.com/beam-me/core/internal/domain/mission"
	"github.com/beam-me/core/internal/orchestrator"
	"github.com/beam-me/core/internal/server/bootstrap"
)

// maxResumes bounds how often one invocation answers missing variables.
const maxResumes = 5

type runOptions struct {
	inputs      []string
	interactive bool
	jsonOutput  bool
	showCode    bool
	runID       string
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <objective>",
		Short: "Run one objective in-process and print the final message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runObjective(cmd, root, opts, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringArrayVar(&opts.inputs, "input", nil, "user input as key=value; values are parsed as JSON when possible")
	cmd.Flags().BoolVarP(&opts.interactive, "interactive", "i", false, "prompt for missing variables and resume")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "print the final message as JSON")
	cmd.Flags().BoolVar(&opts.showCode, "show-code", false, "print the generated program after the summary")
	cmd.Flags().StringVar(&opts.runID, "run-id", "", "run identifier (generated when empty)")
	return cmd
}

func runObjective(cmd *cobra.Command, root *rootOptions, opts *runOptions, objective string) error {
	inputs, err := parseInputs(opts.inputs)
	if err != nil {
		return err
	}
	var asker varAsker
	if opts.interactive {
		if !isTTY() {
			return errors.New("--interactive needs a terminal")
		}
		asker = promptAsker{in: os.Stdin, out: os.Stdout}
	}

	cfg, err := config.Load(root.configPath)
	if err != nil {
		return err
	}
	cleanup := bootstrap.InitObservability(cfg)
	defer cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := bootstrap.BuildContainer(ctx, cfg)
	if err != nil {
		return err
	}
	defer container.Close()

	msg, err := runMission(ctx, container.Orchestrator, orchestrator.Request{
		RunID:     opts.runID,
		Objective: objective,
		Inputs:    inputs,
	}, asker)
	if err != nil {
		return err
	}
	if err := printMessage(cmd.OutOrStdout(), msg, opts.jsonOutput); err != nil {
		return err
	}
	if code, ok := generatedCode(msg); ok && opts.showCode && !opts.jsonOutput {
		if err := printCode(cmd.OutOrStdout(), code, isTTY()); err != nil {
			return err
		}
	}
	if msg.State != mission.StateCompleted {
		return &exitCodeError{code: 2, msg: string(msg.State)}
	}
	return nil
}

type missionRunner interface {
	Run(ctx context.Context, req orchestrator.Request) mission.AgentMessage
}

// varAsker collects values for missing variables. A nil map stops the run
// at AWAITING_USER.
type varAsker interface {
	Ask(vars []mission.MissingVar) (map[string]any, error)
}

// runMission runs req and, while the run pauses for user input and asker
// supplies it, resumes under the same run id.
func runMission(ctx context.Context, runner missionRunner, req orchestrator.Request, asker varAsker) (mission.AgentMessage, error) {
	msg := runner.Run(ctx, req)
	for resumes := 0; msg.State == mission.StateAwaitingUser && asker != nil && resumes < maxResumes; resumes++ {
		answers, err := asker.Ask(msg.MissingVars())
		if err != nil {
			return msg, err
		}
		if len(answers) == 0 {
			break
		}
		merged := make(map[string]any, len(req.Inputs)+len(answers))
		for k, v := range req.Inputs {
			merged[k] = v
		}
		for k, v := range answers {
			merged[k] = v
		}
		req.RunID = msg.RunID
		req.Inputs = merged
		msg = runner.Run(ctx, req)
	}
	return msg, nil
}

// parseInputs turns key=value pairs into run inputs.
func parseInputs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --input %q: want key=value", pair)
		}
		out[key] = parseValue(value)
	}
	return out, nil
}

func parseValue(raw string) any {
	raw = strings.TrimSpace(raw)
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

type promptAsker struct {
	in  io.ReadCloser
	out io.WriteCloser
}

func (p promptAsker) Ask(vars []mission.MissingVar) (map[string]any, error) {
	answers := make(map[string]any, len(vars))
	for _, v := range vars {
		label := v.Name
		if v.Description != "" {
			label = fmt.Sprintf("%s (%s)", v.Name, v.Description)
		}
		prompt := promptui.Prompt{
			Label:  label,
			Stdin:  p.in,
			Stdout: p.out,
			Validate: func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("a value is required")
				}
				return nil
			},
		}
		if v.Default != nil {
			prompt.Default = fmt.Sprint(v.Default)
		}
		raw, err := prompt.Run()
		if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		answers[v.Name] = parseValue(raw)
	}
	return answers, nil
}

func printMessage(w io.Writer, msg mission.AgentMessage, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(msg)
	}

	for _, entry := range msg.TraceLog() {
		fmt.Fprintf(w, "%s %s %s\n", gray(entry.Timestamp.Format("15:04:05")), cyan("["+entry.Agent+"]"), entry.Content)
	}
	fmt.Fprintln(w)

	switch msg.State {
	case mission.StateCompleted:
		fmt.Fprintf(w, "%s %s\n", green(bold(string(msg.State))), msg.Summary)
	case mission.StateAwaitingUser:
		fmt.Fprintf(w, "%s %s\n", yellow(bold(string(msg.State))), msg.Summary)
		for _, q := range msg.OpenQuestions {
			fmt.Fprintf(w, "  - %s\n", q)
		}
		fmt.Fprintf(w, "%s\n", gray("Re-run with --input name=value or --interactive to continue."))
	default:
		fmt.Fprintf(w, "%s %s\n", red(bold(string(msg.State))), msg.Summary)
	}
	fmt.Fprintf(w, "run: %s\n", msg.RunID)

	if s, ok := msg.Payload[mission.PayloadStrategy].(string); ok && s != "" {
		fmt.Fprintf(w, "strategy: %s\n", s)
	}
	if url, ok := msg.Payload[mission.PayloadCodeURL].(string); ok && url != "" {
		fmt.Fprintf(w, "code: %s\n", url)
	}
	if artifacts, ok := msg.Payload[mission.PayloadArtifacts].(map[string]any); ok && len(artifacts) > 0 {
		keys := make([]string, 0, len(artifacts))
		for k := range artifacts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(w, "artifacts: %s\n", strings.Join(keys, ", "))
	}
	return nil
}
