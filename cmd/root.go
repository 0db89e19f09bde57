package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "HCL file with default settings")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "Log format (console or json)")
	rootCmd.SetGlobalNormalizationFunc(underscoreToDash)
}

var rootCmd = &cobra.Command{
	Use:   "tessera",
	Short: "Build virtual mosaics over very large raster collections",
	Long: `tessera catalogs georeferenced rasters, splits the collection into a grid
of cells, writes one virtual mosaic per cell and a top-level mosaic that
stitches the cells together.`,
	SilenceUsage: true,
}

// underscoreToDash accepts --max_files_per_vrt for --max-files-per-vrt.
func underscoreToDash(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// singleDash lists the long options the classic tool spells with one dash.
var singleDash = map[string]bool{
	"addalpha":                          true,
	"input_file_list":                   true,
	"max_files_per_vrt":                 true,
	"intermediate_vrt_path":             true,
	"intermediate_vrt_add_overviews":    true,
	"intermediate_vrt_overview_factors": true,
	"overview_compression":              true,
	"stop_on_error":                     true,
}

// classicArgs rewrites `-addalpha` style options to their double dash form
// and folds `-tr XRES YRES` into `--tr=XRES,YRES`.
func classicArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			return append(out, args[i:]...)
		}
		name, value, hasValue := strings.Cut(strings.TrimPrefix(a, "-"), "=")
		switch {
		case a == "-tr" && i+2 < len(args):
			out = append(out, "--tr="+args[i+1]+","+args[i+2])
			i += 2
		case strings.HasPrefix(a, "-") && !strings.HasPrefix(a, "--") && singleDash[name]:
			if hasValue {
				out = append(out, "--"+name+"="+value)
			} else {
				out = append(out, "--"+name)
			}
		default:
			out = append(out, a)
		}
	}
	return out
}

// Execute runs the root command.
func Execute() {
	rootCmd.SetArgs(classicArgs(os.Args[1:]))
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
