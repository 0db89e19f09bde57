package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/agentic-research/tessera/internal/builder"
	"github.com/agentic-research/tessera/internal/report"
)

var planCmd = &cobra.Command{
	Use:   "plan [input|glob]...",
	Short: "Show how a build would partition the inputs without writing anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, rootFS)
		if err != nil {
			return err
		}
		log, err := newLogger(cmd, cfg)
		if err != nil {
			return err
		}
		srcs, err := collectInputs(rootFS, args, flags.inputList)
		if err != nil {
			return err
		}

		out, err := newBuilder(cfg, absolute("mosaic.vrt"), log).Plan(cmd.Context(), srcs)
		if err != nil {
			return err
		}
		if cfg.Report != "" {
			if err := report.Write(rootFS, absolute(cfg.Report), out); err != nil {
				return err
			}
		}
		return printPlan(cmd.OutOrStdout(), out)
	},
}

func printPlan(w io.Writer, out *builder.Outcome) error {
	fmt.Fprintf(w, "%d sources accepted, %d rejected\n", out.Ingest.Accepted, len(out.Ingest.Rejected))
	fmt.Fprintf(w, "extent %s, %dx%d pixels\n", out.Ingest.Extent, out.Grid.Width, out.Grid.Height)
	fmt.Fprintf(w, "plan %s\n", out.Plan)
	if out.Plan.Degenerate() {
		fmt.Fprintln(w, "single cell: the mosaic references the sources directly")
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("Cell", "I", "J", "Sources", "Pixels")
	for _, c := range out.Cells {
		if err := table.Append([]string{
			filepath.Base(c.Name),
			strconv.Itoa(c.I),
			strconv.Itoa(c.J),
			strconv.Itoa(c.Sources),
			fmt.Sprintf("%dx%d+%d+%d", c.Window.Cols, c.Window.Rows, c.Window.Col, c.Window.Row),
		}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d empty cells dropped, %d sources in more than one cell\n", out.EmptyCells, out.Shared)
	return nil
}

func init() {
	addRunFlags(planCmd.Flags())
	rootCmd.AddCommand(planCmd)
}
