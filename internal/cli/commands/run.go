package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/coastwise/swath/internal/container"
	"github.com/coastwise/swath/internal/intel"
	"github.com/coastwise/swath/internal/state"
	"github.com/coastwise/swath/internal/worker"
	"github.com/coastwise/swath/pkg/core"
)

// maxRunPasses bounds the convergence loop. Conversion establishes a line's
// time coverage, which changes later stages' input fingerprints, so a cold
// project needs a second pass; more than a few passes means something is
// flapping.
const maxRunPasses = 5

// RunOptions holds options for the run command.
type RunOptions struct {
	Lines []string
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pending processing actions",
		Long: `Execute the pending processing actions in dependency order.

Actions for distinct lines run concurrently on the worker pool; actions
for the same line run sequentially. The command repeats evaluation until
no stale stages remain or an action fails.`,
		Example: `  # Process everything that is stale
  swath run

  # Process specific lines only
  swath run --lines line_0001,line_0002

  # Force grid recomputation even for unchanged tiles
  swath run --force-regrid`,
		Aliases: []string{"process"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Lines, "lines", nil, "Comma-separated list of lines to process")

	return cmd
}

func runRun(cmd *cobra.Command, opts *RunOptions) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	containers, err := s.selectContainers(opts.Lines)
	if err != nil {
		return err
	}
	if len(containers) == 0 {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No lines in project.")
		return nil
	}

	surface, err := s.openSurface()
	if err != nil {
		return err
	}
	proc, backend, err := s.newProcessor(surface)
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()

	pool := worker.NewPool(s.cfg.Workers, s.logger)
	defer pool.Shutdown()

	sched := intel.NewScheduler(intel.Config{
		Registry:  s.reg,
		Pool:      pool,
		Executors: proc.Executors(),
		Logger:    s.logger,
	})

	ctx := cmd.Context()
	started := time.Now().UTC()
	var all []intel.Action
	failed := false

	for pass := 0; pass < maxRunPasses; pass++ {
		actions := sched.PendingActions(containers)
		if len(actions) == 0 {
			break
		}
		s.logger.Debug("scheduler pass", "pass", pass+1, "actions", len(actions))

		rep, err := sched.Run(ctx, containers, actions)
		if rep != nil {
			all = append(all, rep.Actions...)
		}
		if err != nil {
			return fmt.Errorf("run failed: %w", err)
		}
		if rep.Failed() {
			failed = true
			break
		}
	}

	if err := s.recordRun(started, all, containers); err != nil {
		return err
	}

	renderRunTable(cmd.OutOrStdout(), all)
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Completed in %s\n", time.Since(started).Round(time.Millisecond))
	if failed {
		return fmt.Errorf("run finished with failed actions")
	}
	return nil
}

// recordRun persists the report, the per-action stage runs, and the updated
// container summaries.
func (s *session) recordRun(started time.Time, actions []intel.Action, containers []*container.Container) error {
	for _, a := range actions {
		status := actionStatusToStage(a.Status)
		run := &state.StageRun{
			ContainerID: a.Container,
			Stage:       a.Stage,
			Status:      status,
			Fingerprint: a.Fingerprint,
			StartedAt:   started,
			Error:       a.Error,
		}
		if err := s.store.RecordStageRun(run); err != nil {
			return fmt.Errorf("record stage run: %w", err)
		}
		if err := s.store.CompleteStageRun(run.ID, status, a.Error); err != nil {
			return fmt.Errorf("complete stage run: %w", err)
		}
	}

	for _, c := range containers {
		if err := s.persistContainer(c); err != nil {
			return fmt.Errorf("persist container %s: %w", c.ID, err)
		}
	}

	if len(actions) == 0 {
		return nil
	}

	rep := state.ReportRecord{StartedAt: started, FinishedAt: time.Now().UTC(), Total: len(actions)}
	recs := make([]state.ActionRecord, 0, len(actions))
	for _, a := range actions {
		switch a.Status {
		case intel.ActionComplete:
			rep.Complete++
		case intel.ActionFailed:
			rep.Failed++
		case intel.ActionSkipped:
			rep.Skipped++
		}
		recs = append(recs, state.ActionRecord{
			ContainerID: a.Container,
			Stage:       a.Stage,
			Status:      string(a.Status),
			Error:       a.Error,
		})
	}
	if err := s.store.SaveReport(&rep, recs); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

func renderRunTable(w io.Writer, actions []intel.Action) {
	if len(actions) == 0 {
		_, _ = fmt.Fprintln(w, "Everything is up to date.")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Line", "Stage", "Status", "Error"})
	for _, a := range actions {
		t.AppendRow(table.Row{a.Container, a.Stage, a.Status, a.Error})
	}
	t.Render()

	var complete, failedN, skipped int
	for _, a := range actions {
		switch a.Status {
		case intel.ActionComplete:
			complete++
		case intel.ActionFailed:
			failedN++
		case intel.ActionSkipped:
			skipped++
		}
	}
	_, _ = fmt.Fprintf(w, "%d complete, %d failed, %d skipped\n", complete, failedN, skipped)
}

func actionStatusToStage(st intel.ActionStatus) core.StageStatus {
	switch st {
	case intel.ActionComplete:
		return core.StageComplete
	case intel.ActionFailed:
		return core.StageFailed
	default:
		return core.StageStale
	}
}
