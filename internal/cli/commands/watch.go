package commands

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// WatchOptions holds options for the watch command.
type WatchOptions struct {
	CastDir string
}

// NewWatchCommand creates the watch command.
func NewWatchCommand() *cobra.Command {
	opts := &WatchOptions{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch dependency source files and re-import on change",
		Long: `Watch the project's vessel calibration file and a cast directory for
changes. Edited or newly dropped files are re-imported into the registry
automatically; affected stages show up as pending actions.`,
		Example: `  # Watch the vessel file and a cast drop directory
  swath watch --casts ./casts`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.CastDir, "casts", "", "Directory to watch for sound velocity cast files")

	return cmd
}

func runWatch(cmd *cobra.Command, opts *WatchOptions) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	castDir := opts.CastDir
	if castDir == "" {
		castDir = s.cfg.Watch.CastDir
	}
	if castDir == "" && s.proj.VesselFile() == "" {
		return fmt.Errorf("nothing to watch: no vessel file attached and no cast directory configured")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.proj.WatchSources(ctx, castDir); err != nil {
		return err
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Watching for source changes. Press Ctrl+C to stop.")
	<-ctx.Done()

	// Imports picked up while watching must survive the session.
	if err := s.saveRegistry(); err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Stopped.")
	return nil
}
