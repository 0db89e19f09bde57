package cmd

import (
	"fmt"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/agentic-research/tessera/internal/builder"
	"github.com/agentic-research/tessera/internal/config"
	"github.com/agentic-research/tessera/internal/metrics"
	"github.com/agentic-research/tessera/internal/mosaic"
	"github.com/agentic-research/tessera/internal/overview"
	"github.com/agentic-research/tessera/internal/progress"
	"github.com/agentic-research/tessera/internal/report"
	"github.com/agentic-research/tessera/internal/source"
)

// rootFS is the filesystem every command reads and writes through.
var rootFS billy.Filesystem = osfs.New("/")

var buildCmd = &cobra.Command{
	Use:   "build <output.vrt> [input|glob]...",
	Short: "Build a top-level mosaic and its cell mosaics",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, rootFS)
		if err != nil {
			return err
		}
		log, err := newLogger(cmd, cfg)
		if err != nil {
			return err
		}
		srcs, err := collectInputs(rootFS, args[1:], flags.inputList)
		if err != nil {
			return err
		}

		output := absolute(args[0])
		b := newBuilder(cfg, output, log)
		if cfg.Progress {
			b.Progress = progress.NewBar(cmd.ErrOrStderr())
		}

		out, err := b.Run(cmd.Context(), srcs)
		if mErr := writeMetrics(cfg); mErr != nil {
			log.Warn().Err(mErr).Msg("metrics not written")
		}
		if err != nil {
			return err
		}
		if cfg.Report != "" {
			if err := report.Write(rootFS, absolute(cfg.Report), out); err != nil {
				return err
			}
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d sources, %d rejected, %d cell mosaics\n",
			output, out.Ingest.Accepted, len(out.Ingest.Rejected), len(out.Cells))
		return nil
	},
}

func newBuilder(cfg config.Config, output string, log zerolog.Logger) *builder.Builder {
	return builder.New(
		source.NewFileOpener(rootFS),
		mosaic.NewFSWriter(rootFS),
		overview.NewTIFFBuilder(rootFS),
		cfg.Options(output),
		log,
	)
}

func writeMetrics(cfg config.Config) error {
	if cfg.MetricsFile == "" {
		return nil
	}
	return metrics.WriteTextfile(absolute(cfg.MetricsFile))
}

func init() {
	addRunFlags(buildCmd.Flags())
	rootCmd.AddCommand(buildCmd)
}
