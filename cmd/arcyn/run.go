package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/arcyn/internal/gateway"
	"github.com/fyrsmithlabs/arcyn/internal/orchestrator"
)

// withApp builds the app for a one-shot command, runs fn and closes it.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return fn(ctx, a)
}

// pipelineContext bounds a run by pipeline.timeout.
func pipelineContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := cfg.Pipeline.Timeout.Duration(); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

func newRunCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "run <goal>",
		Short: "Run a goal through every pipeline stage",
		Long: `Run a goal through classify, plan, build, validate, integrate, store
and review. The command exits non-zero when a stage fails.

Examples:
  # Run with the stage table
  arcyn run "Build a REST API for todo items"

  # Include every stage output
  arcyn run --verbose "Build a REST API"

  # Machine-readable result
  arcyn run --json "Build a REST API" | jq .status`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			goal := strings.Join(args, " ")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				ctx, cancel := pipelineContext(ctx)
				defer cancel()

				result := a.orch.Execute(ctx, goal)

				out := cmd.OutOrStdout()
				if jsonOutput {
					view := result
					if !verbose {
						view = result.Compact()
					}
					if err := printJSON(out, view); err != nil {
						return err
					}
				} else {
					renderResult(out, result, verbose)
				}
				if !result.Succeeded() {
					return errors.New(result.ErrorMessage())
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "include stage outputs")
	return cmd
}

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <goal>",
		Short: "Run only the classify stage",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				out, err := a.orch.Classify(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				return printStage(cmd.OutOrStdout(), orchestrator.StageClassify, out)
			})
		},
	}
}

func newPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan <goal>",
		Short: "Classify a goal and plan it",
		Long: `Classify a goal and run the plan stage on the classification.

Examples:
  arcyn plan "Add rate limiting to the API gateway"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				classification, err := a.orch.Classify(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				plan, err := a.orch.Plan(ctx, classification)
				if err != nil {
					return err
				}
				return printStage(cmd.OutOrStdout(), orchestrator.StagePlan, plan)
			})
		},
	}
}

// statusView is the JSON shape of the status command.
type statusView struct {
	Pipeline orchestrator.StatusReport `json:"pipeline"`
	Provider *gateway.HealthReport     `json:"provider,omitempty"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show which stages have agents and which run fallbacks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				view := statusView{Pipeline: a.orch.Status(ctx)}
				if a.provider != nil {
					report := gateway.Report(a.provider)
					view.Provider = &report
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), view)
				}
				renderStatus(cmd.OutOrStdout(), view)
				return nil
			})
		},
	}
}

func printStage(w io.Writer, stage orchestrator.Stage, out orchestrator.Output) error {
	if jsonOutput {
		return printJSON(w, out)
	}
	renderOutput(w, stage, out)
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
