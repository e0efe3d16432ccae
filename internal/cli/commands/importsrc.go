package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coastwise/swath/internal/svp"
	"github.com/coastwise/swath/internal/vessel"
	"github.com/coastwise/swath/pkg/core"
)

// NewImportCommand creates the import command group.
func NewImportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import dependency sources into the registry",
		Long: `Import vessel calibration files and sound velocity casts into the
dependency source registry. Re-importing a changed file supersedes the
previous entries and marks the affected processing stages stale; the
next run picks them up.`,
	}
	cmd.AddCommand(newImportVesselCommand())
	cmd.AddCommand(newImportSVPCommand())
	return cmd
}

func newImportVesselCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "vessel <file>",
		Short:   "Import a vessel calibration file",
		Args:    cobra.ExactArgs(1),
		Example: `  swath import vessel config/vessel.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImportVessel(cmd, args[0])
		},
	}
	return cmd
}

func runImportVessel(cmd *cobra.Command, path string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	entries, err := vessel.Import(s.reg, path, s.logger)
	if err != nil {
		return describeImportError(err)
	}
	if err := s.proj.AttachVesselFile(path); err != nil {
		return err
	}
	if err := s.proj.Save(); err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	if err := s.saveRegistry(); err != nil {
		return fmt.Errorf("save registry: %w", err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Imported %d calibration entries from %s\n", len(entries), path)
	return nil
}

func newImportSVPCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "svp <file>",
		Short:   "Import a sound velocity cast file",
		Args:    cobra.ExactArgs(1),
		Example: `  swath import svp casts/cast_morning.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImportSVP(cmd, args[0])
		},
	}
	return cmd
}

func runImportSVP(cmd *cobra.Command, path string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	entries, err := svp.Import(s.reg, path, s.logger)
	if err != nil {
		return describeImportError(err)
	}
	if err := s.saveRegistry(); err != nil {
		return fmt.Errorf("save registry: %w", err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Imported %d cast entries from %s\n", len(entries), path)
	return nil
}

// describeImportError adds a resolution hint to conflicts, which are the
// one import failure the user has to resolve by hand.
func describeImportError(err error) error {
	var conflict *core.ConflictError
	if errors.As(err, &conflict) {
		return fmt.Errorf("%w\nHint: two different sources cover the same interval; remove or correct one of them and re-import", err)
	}
	return err
}
