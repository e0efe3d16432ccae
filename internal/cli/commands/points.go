package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/coastwise/swath/internal/project"
	"github.com/coastwise/swath/pkg/core"
)

// PointsOptions holds options for the points command.
type PointsOptions struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
	Lines          []string
	AcceptedOnly   bool
	Limit          int
	JSONOutput     bool
}

// NewPointsCommand creates the points command.
func NewPointsCommand() *cobra.Command {
	opts := &PointsOptions{}

	cmd := &cobra.Command{
		Use:   "points",
		Short: "Query soundings inside a geographic box",
		Long: `Query the soundings of every processed line that fall inside a
latitude/longitude box. The geohash index prunes lines and cells before
the exact geometry check runs.`,
		Example: `  # All soundings in a box
  swath points --min-lat 47.10 --max-lat 47.20 --min-lon -122.50 --max-lon -122.40

  # Accepted soundings of one line only
  swath points --min-lat 47.10 --max-lat 47.20 --min-lon -122.50 --max-lon -122.40 \
    --lines line_0001 --accepted-only`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPoints(cmd, opts)
		},
	}

	cmd.Flags().Float64Var(&opts.MinLat, "min-lat", 0, "Southern latitude bound")
	cmd.Flags().Float64Var(&opts.MaxLat, "max-lat", 0, "Northern latitude bound")
	cmd.Flags().Float64Var(&opts.MinLon, "min-lon", 0, "Western longitude bound")
	cmd.Flags().Float64Var(&opts.MaxLon, "max-lon", 0, "Eastern longitude bound")
	cmd.Flags().StringSliceVar(&opts.Lines, "lines", nil, "Restrict the query to these lines")
	cmd.Flags().BoolVar(&opts.AcceptedOnly, "accepted-only", false, "Exclude rejected soundings")
	cmd.Flags().IntVar(&opts.Limit, "limit", 100, "Maximum rows to print (0 for all)")
	cmd.Flags().BoolVar(&opts.JSONOutput, "json", false, "Output as JSON")

	_ = cmd.MarkFlagRequired("min-lat")
	_ = cmd.MarkFlagRequired("max-lat")
	_ = cmd.MarkFlagRequired("min-lon")
	_ = cmd.MarkFlagRequired("max-lon")

	return cmd
}

func runPoints(cmd *cobra.Command, opts *PointsOptions) error {
	if opts.MinLat >= opts.MaxLat || opts.MinLon >= opts.MaxLon {
		return fmt.Errorf("box is empty: min bounds must be strictly below max bounds")
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	// Soundings live in the record store between sessions; rebuild the
	// in-memory index for the lines the query may touch.
	proc, backend, err := s.newProcessor(nil)
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()

	containers, err := s.selectContainers(opts.Lines)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	for _, c := range containers {
		if err := proc.Hydrate(ctx, c); err != nil {
			s.logger.Warn("line not queryable", "line", c.ID, "error", err)
		}
	}

	box := core.Box{
		MinLat: opts.MinLat, MaxLat: opts.MaxLat,
		MinLon: opts.MinLon, MaxLon: opts.MaxLon,
	}
	results := s.proj.QueryPoints(core.Region{Box: &box}, project.Filters{
		AcceptedOnly: opts.AcceptedOnly,
		Lines:        opts.Lines,
	})

	if opts.JSONOutput {
		return renderPointsJSON(cmd.OutOrStdout(), results)
	}
	renderPointsTable(cmd.OutOrStdout(), results, opts.Limit)
	return nil
}

func renderPointsTable(w io.Writer, soundings []core.Sounding, limit int) {
	if len(soundings) == 0 {
		_, _ = fmt.Fprintln(w, "(0 soundings)")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Line", "Seq", "Lat", "Lon", "Depth", "TVU", "Flag"})

	shown := 0
	for _, s := range soundings {
		if limit > 0 && shown >= limit {
			break
		}
		t.AppendRow(table.Row{
			s.ID.Line, s.ID.Seq,
			fmt.Sprintf("%.6f", s.Pos.Lat), fmt.Sprintf("%.6f", s.Pos.Lon),
			fmt.Sprintf("%.2f", s.Depth), fmt.Sprintf("%.2f", s.TVU),
			s.Flag,
		})
		shown++
	}
	t.Render()
	if limit > 0 && len(soundings) > limit {
		_, _ = fmt.Fprintf(w, "(%d soundings, showing first %d)\n", len(soundings), limit)
	} else {
		_, _ = fmt.Fprintf(w, "(%d soundings)\n", len(soundings))
	}
}

func renderPointsJSON(w io.Writer, soundings []core.Sounding) error {
	type pointOut struct {
		Line  string  `json:"line"`
		Seq   uint64  `json:"seq"`
		Lat   float64 `json:"lat"`
		Lon   float64 `json:"lon"`
		Depth float64 `json:"depth"`
		TVU   float64 `json:"tvu"`
		Flag  string  `json:"flag"`
	}
	out := make([]pointOut, 0, len(soundings))
	for _, s := range soundings {
		out = append(out, pointOut{
			Line: s.ID.Line, Seq: s.ID.Seq,
			Lat: s.Pos.Lat, Lon: s.Pos.Lon,
			Depth: s.Depth, TVU: s.TVU, Flag: s.Flag.String(),
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
