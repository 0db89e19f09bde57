// Package config layers run settings: built-in defaults, an optional HCL
// file, then the flags given on the command line.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/rs/zerolog"

	"github.com/agentic-research/tessera/internal/builder"
	"github.com/agentic-research/tessera/internal/catalog"
	"github.com/agentic-research/tessera/internal/logging"
	"github.com/agentic-research/tessera/internal/overview"
)

var ErrInvalid = errors.New("invalid configuration")

// Config mirrors the command line flags. Every attribute is optional in a
// config file; unset attributes keep their defaults.
type Config struct {
	MaxFilesPerVRT   int       `hcl:"max_files_per_vrt,optional"`
	IntermediateDir  string    `hcl:"intermediate_vrt_path,optional"`
	AddAlpha         bool      `hcl:"add_alpha,optional"`
	TargetResolution []float64 `hcl:"target_resolution,optional"`
	Resolution       string    `hcl:"resolution,optional"`
	Resampling       string    `hcl:"resampling,optional"`
	StopOnError      bool      `hcl:"stop_on_error,optional"`

	Overviews           bool   `hcl:"overviews,optional"`
	OverviewFactors     []int  `hcl:"overview_factors,optional"`
	OverviewCompression string `hcl:"overview_compression,optional"`

	Jobs        int    `hcl:"jobs,optional"`
	OpenWorkers int    `hcl:"open_workers,optional"`
	Catalog     string `hcl:"catalog,optional"`
	Report      string `hcl:"report,optional"`
	MetricsFile string `hcl:"metrics_file,optional"`
	Progress    bool   `hcl:"progress,optional"`

	LogLevel  string `hcl:"log_level,optional"`
	LogFormat string `hcl:"log_format,optional"`
}

func Default() Config {
	return Config{
		MaxFilesPerVRT:      1000,
		Resolution:          catalog.ResolutionAverage,
		OverviewCompression: overview.CompressionNone,
		Jobs:                1,
		OpenWorkers:         1,
		LogLevel:            "info",
		LogFormat:           logging.FormatConsole,
	}
}

// Load decodes the HCL file at path over the defaults.
func Load(fs billy.Filesystem, path string) (Config, error) {
	cfg := Default()
	data, err := util.ReadFile(fs, path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	name := path
	if ext := filepath.Ext(path); ext != ".hcl" && ext != ".json" {
		name = path + ".hcl"
	}
	if err := hclsimple.Decode(name, data, nil, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges and names.
func (c Config) Validate() error {
	var errs []error
	if c.MaxFilesPerVRT < 1 {
		errs = append(errs, fmt.Errorf("max_files_per_vrt must be positive, got %d", c.MaxFilesPerVRT))
	}
	if n := len(c.TargetResolution); n != 0 && (n != 2 || c.TargetResolution[0] <= 0 || c.TargetResolution[1] <= 0) {
		errs = append(errs, fmt.Errorf("target resolution must be two positive numbers, got %v", c.TargetResolution))
	}
	if !slices.Contains([]string{catalog.ResolutionAverage, catalog.ResolutionHighest, catalog.ResolutionLowest}, c.Resolution) {
		errs = append(errs, fmt.Errorf("unknown resolution strategy %q", c.Resolution))
	}
	if c.Resampling != "" && !slices.Contains(overview.Resamplings, strings.ToLower(c.Resampling)) {
		errs = append(errs, fmt.Errorf("unknown resampling %q", c.Resampling))
	}
	if !slices.Contains(overview.Compressions, strings.ToUpper(c.OverviewCompression)) {
		errs = append(errs, fmt.Errorf("unknown overview compression %q", c.OverviewCompression))
	}
	for _, f := range c.OverviewFactors {
		if f < 2 {
			errs = append(errs, fmt.Errorf("overview factor must be at least 2, got %d", f))
		}
	}
	if c.Jobs < 1 {
		errs = append(errs, fmt.Errorf("jobs must be positive, got %d", c.Jobs))
	}
	if c.OpenWorkers < 1 {
		errs = append(errs, fmt.Errorf("open workers must be positive, got %d", c.OpenWorkers))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log level %q: %w", c.LogLevel, err))
	}
	if c.LogFormat != logging.FormatConsole && c.LogFormat != logging.FormatJSON {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Options translates the configuration into builder settings for output.
func (c Config) Options(output string) builder.Options {
	opts := builder.Options{
		Output:              output,
		IntermediateDir:     c.IntermediateDir,
		MaxPerCell:          c.MaxFilesPerVRT,
		Resolution:          c.Resolution,
		AddAlpha:            c.AddAlpha,
		Resampling:          strings.ToLower(c.Resampling),
		StopOnError:         c.StopOnError,
		Overviews:           overview.NewPolicy(c.Overviews, c.OverviewFactors),
		OverviewCompression: strings.ToUpper(c.OverviewCompression),
		Jobs:                c.Jobs,
		OpenWorkers:         c.OpenWorkers,
		CatalogPath:         c.Catalog,
	}
	if len(c.TargetResolution) == 2 {
		opts.ResX, opts.ResY = c.TargetResolution[0], c.TargetResolution[1]
	}
	return opts
}
