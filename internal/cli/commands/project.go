package commands

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/coastwise/swath/internal/cli/config"
	"github.com/coastwise/swath/internal/container"
	"github.com/coastwise/swath/internal/grid"
	"github.com/coastwise/swath/internal/project"
	"github.com/coastwise/swath/internal/registry"
	"github.com/coastwise/swath/internal/state"
	"github.com/coastwise/swath/pkg/core"
)

// NewProjectCommand creates the project command group.
func NewProjectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Create and inspect survey projects",
	}
	cmd.AddCommand(newProjectInitCommand())
	cmd.AddCommand(newProjectInfoCommand())
	cmd.AddCommand(newProjectAddLineCommand())
	cmd.AddCommand(newProjectAddSurfaceCommand())
	return cmd
}

// ProjectInitOptions holds options for project init.
type ProjectInitOptions struct {
	Name        string
	CRS         string
	VerticalRef string
}

func newProjectInitCommand() *cobra.Command {
	opts := &ProjectInitOptions{}

	cmd := &cobra.Command{
		Use:     "init",
		Short:   "Create a new project file",
		Example: `  swath project init --name harbor_survey --crs EPSG:32610`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProjectInit(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "Project name")
	cmd.Flags().StringVar(&opts.CRS, "crs", "", "Project coordinate system (e.g. EPSG:32610)")
	cmd.Flags().StringVar(&opts.VerticalRef, "vertical-ref", config.DefaultVerticalRef, "Vertical reference")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func runProjectInit(cmd *cobra.Command, opts *ProjectInitOptions) error {
	cfg := config.GetCurrentConfig()
	if cfg == nil {
		return fmt.Errorf("no configuration loaded")
	}
	logger := config.GetLogger(cmd.Context())

	if _, err := os.Stat(cfg.ProjectFile); err == nil {
		return fmt.Errorf("project file already exists: %s", cfg.ProjectFile)
	}

	reg := registry.New(logger)
	p := project.New(project.Config{
		Name:        opts.Name,
		Path:        cfg.ProjectFile,
		CRS:         opts.CRS,
		VerticalRef: opts.VerticalRef,
		Registry:    reg,
		Logger:      logger,
	})
	if err := p.Save(); err != nil {
		return fmt.Errorf("save project: %w", err)
	}

	// Create the state database alongside so later commands start clean.
	store, err := openState(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created project %q at %s\n", opts.Name, cfg.ProjectFile)
	return nil
}

func newProjectInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show project summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProjectInfo(cmd)
		},
	}
}

func runProjectInfo(cmd *cobra.Command) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	w := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(w, "Project: %s\n", s.proj.Name())
	if crs := s.proj.CRS(); crs != "" {
		_, _ = fmt.Fprintf(w, "Coordinate system: %s\n", crs)
	}
	_, _ = fmt.Fprintf(w, "Vertical reference: %s\n", s.proj.VerticalRef())
	if vf := s.proj.VesselFile(); vf != "" {
		_, _ = fmt.Fprintf(w, "Vessel file: %s\n", vf)
	}
	_, _ = fmt.Fprintf(w, "Registry entries: %d\n", s.reg.Len())

	containers := s.proj.Containers()
	_, _ = fmt.Fprintf(w, "Lines: %d\n", len(containers))
	if len(containers) > 0 {
		_, _ = fmt.Fprintln(w)
		renderLinesTable(w, containers)
	}

	if surfaces := s.proj.Surfaces(); len(surfaces) > 0 {
		_, _ = fmt.Fprintf(w, "\nSurfaces: %v\n", surfaces)
	}
	return nil
}

func renderLinesTable(w io.Writer, containers []*container.Container) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Line", "Serial", "Coverage", "Convert", "Orient", "SV", "Georef", "Grid"})
	for _, c := range containers {
		coverage := "-"
		if tr := c.TimeRange(); !tr.Start.IsZero() {
			coverage = tr.String()
		}
		row := table.Row{c.ID, c.SerialNumber, coverage}
		for _, stage := range core.Pipeline() {
			row = append(row, c.Stage(stage).Status)
		}
		t.AppendRow(row)
	}
	t.Render()
}

// ProjectAddLineOptions holds options for project add-line.
type ProjectAddLineOptions struct {
	Serial string
	Data   string
}

func newProjectAddLineCommand() *cobra.Command {
	opts := &ProjectAddLineOptions{}

	cmd := &cobra.Command{
		Use:     "add-line <line-id>",
		Short:   "Register a survey line with the project",
		Args:    cobra.ExactArgs(1),
		Example: `  swath project add-line line_0001 --serial em2040_40 --data raw/line_0001.all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectAddLine(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.Serial, "serial", "", "Sonar serial number of the line")
	cmd.Flags().StringVar(&opts.Data, "data", "", "Path to the raw data file")
	_ = cmd.MarkFlagRequired("serial")
	_ = cmd.MarkFlagRequired("data")

	return cmd
}

func runProjectAddLine(cmd *cobra.Command, line string, opts *ProjectAddLineOptions) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	c := container.New(line, opts.Serial, s.proj.GeohashPrecision())
	if err := s.proj.AddContainer(c, opts.Data); err != nil {
		return err
	}
	if err := s.proj.Save(); err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	if err := s.persistContainer(c); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Added line %s (serial %s)\n", line, opts.Serial)
	return nil
}

func newProjectAddSurfaceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add-surface <name>",
		Short: "Register a gridded surface with the project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectAddSurface(cmd, args[0])
		},
	}
	return cmd
}

func runProjectAddSurface(cmd *cobra.Command, name string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	tiles, err := grid.NewFileTileStore(s.tileDir())
	if err != nil {
		return err
	}
	g, err := grid.New(grid.Config{
		TileSize:    s.cfg.Grid.TileSize,
		VerticalRef: s.cfg.Transform.VerticalRef,
		CRS:         s.proj.CRS(),
		Store:       tiles,
		Logger:      s.logger,
	})
	if err != nil {
		return err
	}
	if err := s.proj.AddSurface(name, g, s.tileDir()); err != nil {
		return err
	}
	if err := s.proj.Save(); err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	if err := s.store.SaveSurface(state.SurfaceRecord{
		Name:        name,
		TileSize:    s.cfg.Grid.TileSize,
		CRS:         s.proj.CRS(),
		VerticalRef: s.cfg.Transform.VerticalRef,
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("save surface: %w", err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Added surface %s (%gm tiles)\n", name, s.cfg.Grid.TileSize)
	return nil
}
