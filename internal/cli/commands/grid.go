package commands

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/coastwise/swath/internal/grid"
	"github.com/coastwise/swath/internal/state"
)

// NewGridCommand creates the grid command group.
func NewGridCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grid",
		Short: "Inspect and export the gridded surface",
	}
	cmd.AddCommand(newGridExportCommand())
	cmd.AddCommand(newGridInfoCommand())
	return cmd
}

// GridExportOptions holds options for grid export.
type GridExportOptions struct {
	Format     string
	Dir        string
	Resolution float64
}

func newGridExportCommand() *cobra.Command {
	opts := &GridExportOptions{}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the surface to XYZ or GeoJSON files",
		Long: `Export the gridded surface, one file per resolution layer. Cell
centers are written in the project coordinate system for XYZ and as
geographic points for GeoJSON.`,
		Example: `  # Export everything as XYZ
  swath grid export --dir out/

  # Export the 2m layer as GeoJSON
  swath grid export --dir out/ --format geojson --resolution 2`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGridExport(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Format, "format", "xyz", "Export format (xyz|geojson)")
	cmd.Flags().StringVar(&opts.Dir, "dir", "", "Output directory")
	cmd.Flags().Float64Var(&opts.Resolution, "resolution", 0, "Restrict to one resolution layer in meters (0 for all)")
	_ = cmd.MarkFlagRequired("dir")

	return cmd
}

func runGridExport(cmd *cobra.Command, opts *GridExportOptions) error {
	format, err := grid.ParseExportFormat(opts.Format)
	if err != nil {
		return err
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	surface, err := s.openSurface()
	if err != nil {
		return err
	}

	files, err := surface.Export(cmd.Context(), grid.ExportOptions{
		Resolution: opts.Resolution,
		Format:     format,
		Dir:        opts.Dir,
	})
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	if len(files) == 0 {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Nothing to export: the surface is empty.")
		return nil
	}
	for _, f := range files {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", f)
	}
	return nil
}

func newGridInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show surface metadata and tile inventory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGridInfo(cmd)
		},
	}
}

func runGridInfo(cmd *cobra.Command) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	tiles, err := grid.NewFileTileStore(s.tileDir())
	if err != nil {
		return err
	}
	ids, err := tiles.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("list tiles: %w", err)
	}

	w := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(w, "Coordinate system: %s\n", s.proj.CRS())
	_, _ = fmt.Fprintf(w, "Vertical reference: %s\n", s.proj.VerticalRef())
	_, _ = fmt.Fprintf(w, "Tile size: %gm\n", s.cfg.Grid.TileSize)
	_, _ = fmt.Fprintf(w, "Stored tiles: %d\n", len(ids))

	surfaces, err := s.store.ListSurfaces()
	if err != nil {
		return fmt.Errorf("list surfaces: %w", err)
	}
	if len(surfaces) > 0 {
		_, _ = fmt.Fprintln(w)
		renderSurfacesTable(w, surfaces)
	}
	return nil
}

func renderSurfacesTable(w io.Writer, surfaces []*state.SurfaceRecord) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Surface", "Tile Size", "CRS", "Vertical Ref", "Created"})
	for _, sr := range surfaces {
		t.AppendRow(table.Row{sr.Name, fmt.Sprintf("%gm", sr.TileSize), sr.CRS, sr.VerticalRef,
			sr.CreatedAt.Format("2006-01-02 15:04")})
	}
	t.Render()
}
