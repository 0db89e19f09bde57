package cmd

import (
	"errors"
	"os"
	"path/filepath"

	billy "github.com/go-git/go-billy/v5"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/agentic-research/tessera/internal/config"
	"github.com/agentic-research/tessera/internal/inputs"
	"github.com/agentic-research/tessera/internal/logging"
)

// ErrNoInputs is returned when the arguments and input list name no rasters.
var ErrNoInputs = errors.New("no inputs")

// runFlags holds the values of the flags shared by build and plan.
type runFlags struct {
	maxFiles        int
	intermediateDir string
	addAlpha        bool
	tr              []float64
	resolution      string
	resampling      string
	stopOnError     bool
	overviews       bool
	factors         []int
	compression     string
	inputList       string
	jobs            int
	openWorkers     int
	catalog         string
	report          string
	metricsFile     string
	progress        bool
}

var flags runFlags

func addRunFlags(fs *pflag.FlagSet) {
	d := config.Default()
	fs.IntVar(&flags.maxFiles, "max-files-per-vrt", d.MaxFilesPerVRT, "Target maximum number of sources per cell mosaic")
	fs.StringVar(&flags.intermediateDir, "intermediate-vrt-path", "", "Directory for cell mosaics (default: directory of the output)")
	fs.BoolVar(&flags.addAlpha, "addalpha", false, "Add an alpha band marking source footprints")
	fs.Float64SliceVar(&flags.tr, "tr", nil, "Target resolution as XRES,YRES")
	fs.StringVar(&flags.resolution, "resolution", d.Resolution, "Resolution when --tr is absent (average, highest, lowest)")
	fs.StringVarP(&flags.resampling, "resampling", "r", "", "Resampling recorded on source placements and used for overviews")
	fs.BoolVar(&flags.stopOnError, "stop-on-error", false, "Abort on the first rejected source")
	fs.BoolVar(&flags.overviews, "intermediate-vrt-add-overviews", false, "Build overview levels for every cell mosaic")
	fs.IntSliceVar(&flags.factors, "intermediate-vrt-overview-factors", nil, "Explicit overview factors, e.g. 2,4,8")
	fs.StringVar(&flags.compression, "overview-compression", d.OverviewCompression, "Overview compression (NONE, LZW, DEFLATE, ZSTD, JPEG, LERC, JXL)")
	fs.StringVar(&flags.inputList, "input-file-list", "", "File listing one input per line")
	fs.IntVar(&flags.jobs, "jobs", d.Jobs, "Cell mosaics built concurrently")
	fs.IntVar(&flags.openWorkers, "open-workers", d.OpenWorkers, "Source headers read concurrently")
	fs.StringVar(&flags.catalog, "catalog", "", "Keep the source catalog in this SQLite file instead of memory")
	fs.StringVar(&flags.report, "report", "", "Write a JSON run report to this file")
	fs.StringVar(&flags.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file")
	fs.BoolVar(&flags.progress, "progress", false, "Show a progress bar while building cells")
}

// loadConfig layers the config file and the flags set on the command line
// over the defaults.
func loadConfig(cmd *cobra.Command, fsys billy.Filesystem) (config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(fsys, absolute(configPath)); err != nil {
			return cfg, err
		}
	}

	set := cmd.Flags().Changed
	apply := []struct {
		name string
		fn   func()
	}{
		{"max-files-per-vrt", func() { cfg.MaxFilesPerVRT = flags.maxFiles }},
		{"intermediate-vrt-path", func() { cfg.IntermediateDir = flags.intermediateDir }},
		{"addalpha", func() { cfg.AddAlpha = flags.addAlpha }},
		{"tr", func() { cfg.TargetResolution = flags.tr }},
		{"resolution", func() { cfg.Resolution = flags.resolution }},
		{"resampling", func() { cfg.Resampling = flags.resampling }},
		{"stop-on-error", func() { cfg.StopOnError = flags.stopOnError }},
		{"intermediate-vrt-add-overviews", func() { cfg.Overviews = flags.overviews }},
		{"intermediate-vrt-overview-factors", func() { cfg.OverviewFactors = flags.factors }},
		{"overview-compression", func() { cfg.OverviewCompression = flags.compression }},
		{"jobs", func() { cfg.Jobs = flags.jobs }},
		{"open-workers", func() { cfg.OpenWorkers = flags.openWorkers }},
		{"catalog", func() { cfg.Catalog = flags.catalog }},
		{"report", func() { cfg.Report = flags.report }},
		{"metrics-file", func() { cfg.MetricsFile = flags.metricsFile }},
		{"progress", func() { cfg.Progress = flags.progress }},
		{"log-level", func() { cfg.LogLevel = logLevel }},
		{"log-format", func() { cfg.LogFormat = logFormat }},
	}
	for _, a := range apply {
		if set(a.name) {
			a.fn()
		}
	}

	if cfg.IntermediateDir != "" {
		cfg.IntermediateDir = absolute(cfg.IntermediateDir)
	}
	if cfg.Catalog != "" {
		cfg.Catalog = absolute(cfg.Catalog)
	}
	return cfg, cfg.Validate()
}

func newLogger(cmd *cobra.Command, cfg config.Config) (zerolog.Logger, error) {
	return logging.New(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
}

// collectInputs gathers inputs from the arguments and the input list, as
// absolute paths, expanding globs.
func collectInputs(fsys billy.Filesystem, args []string, listPath string) ([]string, error) {
	var raw []string
	if listPath != "" {
		listed, err := inputs.ReadList(fsys, absolute(listPath))
		if err != nil {
			return nil, err
		}
		raw = append(raw, listed...)
	}
	raw = append(raw, args...)
	for i, p := range raw {
		raw[i] = absolute(p)
	}
	expanded, err := inputs.Expand(fsys, raw)
	if err != nil {
		return nil, err
	}
	if len(expanded) == 0 {
		return nil, ErrNoInputs
	}
	return expanded, nil
}

// absolute anchors p at the working directory; the command filesystem is
// rooted at /.
func absolute(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	wd, err := os.Getwd()
	if err != nil {
		return p
	}
	return filepath.Join(wd, p)
}
