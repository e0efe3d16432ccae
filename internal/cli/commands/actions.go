package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/coastwise/swath/internal/intel"
)

// ActionsOptions holds options for the actions command.
type ActionsOptions struct {
	Lines      []string
	JSONOutput bool
}

// NewActionsCommand creates the actions command.
func NewActionsCommand() *cobra.Command {
	opts := &ActionsOptions{}

	cmd := &cobra.Command{
		Use:   "actions",
		Short: "Show the pending processing actions",
		Long: `Evaluate every survey line against the dependency source registry and
list the minimal, dependency-ordered set of processing actions needed to
bring the project up to date. Nothing is executed.`,
		Example: `  # Show all pending actions
  swath actions

  # Show pending actions for specific lines
  swath actions --lines line_0001,line_0002

  # Machine-readable output
  swath actions --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runActions(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Lines, "lines", nil, "Comma-separated list of lines to evaluate")
	cmd.Flags().BoolVar(&opts.JSONOutput, "json", false, "Output as JSON")

	return cmd
}

func runActions(cmd *cobra.Command, opts *ActionsOptions) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	containers, err := s.selectContainers(opts.Lines)
	if err != nil {
		return err
	}

	sched := intel.NewScheduler(intel.Config{Registry: s.reg, Logger: s.logger})
	actions := sched.PendingActions(containers)

	if opts.JSONOutput {
		return renderActionsJSON(cmd.OutOrStdout(), actions)
	}
	renderActionsTable(cmd.OutOrStdout(), actions)
	return nil
}

func renderActionsTable(w io.Writer, actions []intel.Action) {
	if len(actions) == 0 {
		_, _ = fmt.Fprintln(w, "Everything is up to date.")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Line", "Stage"})
	for i, a := range actions {
		t.AppendRow(table.Row{i + 1, a.Container, a.Stage})
	}
	t.Render()
	_, _ = fmt.Fprintf(w, "%d pending actions\n", len(actions))
}

func renderActionsJSON(w io.Writer, actions []intel.Action) error {
	type actionOut struct {
		Line  string `json:"line"`
		Stage string `json:"stage"`
	}
	out := make([]actionOut, 0, len(actions))
	for _, a := range actions {
		out = append(out, actionOut{Line: a.Container, Stage: string(a.Stage)})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
