package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/mpataki/pipestatus/internal/execution"
	"github.com/mpataki/pipestatus/internal/models"
	"github.com/mpataki/pipestatus/internal/spec"
)

// withApp runs fn with a configured app and closes it afterwards.
func withApp(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.close()
		return fn(cmd, a, args)
	}
}

func newSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync [dir...]",
		Short: "Register pipelines from pipeline-spec.yaml files",
		Long:  "Scans the given directories (default PIPESTATUS_SPEC_DIRS) for pipeline-spec.yaml files, initializes every pipeline and deregisters pipelines that are gone.",
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			dirs := args
			if len(dirs) == 0 {
				dirs = a.cfg.SpecDirs
			}

			pipelines, err := spec.LoadAll(dirs)
			if err != nil {
				return err
			}

			res, err := a.orch.Sync(cmd.Context(), pipelines)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, p := range pipelines {
				mark := "✓"
				if len(p.ValidationErrors) > 0 {
					mark = "✗"
				}
				fmt.Fprintf(out, "%s %s\n", mark, p.ID)
				for _, v := range p.ValidationErrors {
					fmt.Fprintf(out, "    %s\n", v)
				}
			}
			for _, id := range res.Deregistered {
				fmt.Fprintf(out, "- %s (deregistered)\n", id)
			}
			return nil
		}),
	}
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered pipelines",
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			summaries, err := a.orch.List(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(summaries) == 0 {
				fmt.Fprintln(out, "No pipelines registered.")
				return nil
			}
			for _, s := range summaries {
				dirty := ""
				if s.Dirty && s.State != models.StateInvalid {
					dirty = " (dirty)"
				}
				last := "-"
				if s.LastExecution != nil {
					last = shortID(s.LastExecution.ID())
				}
				fmt.Fprintf(out, "%-40s %-10s %-9s%s\n", s.PipelineID, s.State, last, dirty)
			}
			return nil
		}),
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <pipeline-id>",
		Short: "Show pipeline status and execution history",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			st, err := a.orch.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Pipeline: %s\n", st.PipelineID())
			fmt.Fprintf(out, "State: %s\n", st.State())
			fmt.Fprintf(out, "Dirty: %v\n", st.Dirty())
			fmt.Fprintf(out, "Cache hash: %s\n", st.CacheHash())
			if path, ok := st.SourceSpec()["path"].(string); ok {
				fmt.Fprintf(out, "Source: %s\n", path)
			}
			if errs := st.Errors(); len(errs) > 0 {
				fmt.Fprintln(out, "\nErrors:")
				for _, e := range errs {
					fmt.Fprintf(out, "  %s\n", e)
				}
			}

			execs := st.Executions()
			if len(execs) > 0 {
				fmt.Fprintln(out, "\nExecutions:")
			}
			for _, ex := range execs {
				fmt.Fprintf(out, "  %s %s\n", ex.ID(), describe(ex.(*execution.Execution)))
			}
			return nil
		}),
	}
}

func describe(ex *execution.Execution) string {
	var outcome string
	switch {
	case ex.Success() != nil && *ex.Success():
		outcome = "succeeded"
	case ex.Success() != nil:
		outcome = "failed"
	case ex.StartTime() != nil:
		outcome = "running"
	default:
		outcome = "queued"
	}
	parts := []string{outcome, string(ex.Trigger())}
	if q := ex.QueueTime(); q != nil {
		parts = append(parts, q.Format(time.RFC3339))
	}
	if d := ex.Duration(); d > 0 {
		parts = append(parts, d.Round(time.Millisecond).String())
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func newQueueCommand() *cobra.Command {
	var (
		trigger string
		dirty   bool
	)
	cmd := &cobra.Command{
		Use:   "queue [pipeline-id]",
		Short: "Queue a new execution",
		Args: func(cmd *cobra.Command, args []string) error {
			if dirty {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			out := cmd.OutOrStdout()
			if dirty {
				queued, err := a.orch.QueueDirty(cmd.Context(), models.TriggerDirty)
				for _, id := range queued {
					fmt.Fprintf(out, "queued %s\n", id)
				}
				return err
			}

			executionID, queued, err := a.orch.Queue(cmd.Context(), args[0], models.Trigger(trigger))
			if err != nil {
				return err
			}
			if !queued {
				return errors.Errorf("%s was not queued: an execution is in flight or the pipeline is invalid", args[0])
			}
			fmt.Fprintln(out, executionID)
			return nil
		}),
	}
	cmd.Flags().StringVar(&trigger, "trigger", string(models.TriggerManual), "Trigger recorded on the execution")
	cmd.Flags().BoolVar(&dirty, "dirty", false, "Queue every pipeline whose definition changed since its last execution")
	return cmd
}

var errStale = errors.New("execution is not the most recent one, or already in that state")

func newStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start <pipeline-id> <execution-id>",
		Short: "Mark an execution as started",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			ok, err := a.orch.Start(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if !ok {
				return errStale
			}
			return nil
		}),
	}
}

func newUpdateCommand() *cobra.Command {
	var hooks bool
	cmd := &cobra.Command{
		Use:   "update <pipeline-id> <execution-id>",
		Short: "Store progress log lines read from stdin",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			lines, err := readLines(cmd.InOrStdin())
			if err != nil {
				return err
			}
			ok, err := a.orch.Update(cmd.Context(), args[0], args[1], lines, hooks)
			if err != nil {
				return err
			}
			if !ok {
				return errStale
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&hooks, "hooks", false, "Send a progress event to the pipeline hooks")
	return cmd
}

func newFinishCommand() *cobra.Command {
	var (
		success bool
		errs    []string
		stats   []string
	)
	cmd := &cobra.Command{
		Use:   "finish <pipeline-id> <execution-id>",
		Short: "Record the outcome of an execution",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			parsed, err := parseStats(stats)
			if err != nil {
				return err
			}
			ok, err := a.orch.Finish(cmd.Context(), args[0], args[1], success, parsed, errs)
			if err != nil {
				return err
			}
			if !ok {
				return errStale
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&success, "success", false, "The execution succeeded")
	cmd.Flags().StringArrayVar(&errs, "error", nil, "Error log line (repeatable)")
	cmd.Flags().StringArrayVar(&stats, "stat", nil, "Statistic as key=value; JSON values are decoded (repeatable)")
	return cmd
}

func newInvalidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <pipeline-id>",
		Short: "Fail the in-flight execution of a pipeline whose runner died",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			ok, err := a.orch.Invalidate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s has no execution in flight\n", args[0])
			}
			return nil
		}),
	}
}

func newDeregisterCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "deregister <pipeline-id>",
		Short: "Remove a pipeline from the registry, keeping its history",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			return a.orch.Deregister(cmd.Context(), args[0])
		}),
	}
}

func readLines(r io.Reader) ([]string, error) {
	lines := []string{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, errors.Wrap(scanner.Err(), "failed to read log lines")
}

func parseStats(pairs []string) (map[string]any, error) {
	stats := map[string]any{}
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, errors.Errorf("invalid stat %q, expected key=value", pair)
		}
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err != nil {
			decoded = v
		}
		stats[k] = decoded
	}
	return stats, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
