package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/osmriver/internal/logger"
	"github.com/wegman-software/osmriver/internal/osmdata"
)

var fetchOutput string

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download raw waterway data to an Overpass JSON file",
	Long: `Fetch waterway ways for REGION (or --bbox) and write them as Overpass JSON.

The file can be processed later with "osmriver build" without contacting
the Overpass API again.`,
	Args: cobra.NoArgs,
	Run:  runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().StringVar(&fetchOutput, "out", "", "Output file (default <output-dir>/<region>.json)")
}

func runFetch(cmd *cobra.Command, args []string) {
	log := logger.Get()

	if err := cfg.ValidateRemote(); err != nil {
		exitWithError("invalid configuration", err)
	}
	if cfg.Region == "" && (cfg.BBox == nil || !cfg.BBox.IsSet) {
		exitWithError("invalid configuration", fmt.Errorf("either REGION or --bbox is required"))
	}

	ctx, cancel := signalContext()
	defer cancel()

	res := &resources{}
	defer res.Close()

	filter, err := loadFilter(cfg)
	if err != nil {
		exitWithError("failed to load style", err)
	}
	src, err := remoteSource(cfg, filter, res)
	if err != nil {
		exitWithError("failed to prepare source", err)
	}

	data, err := src.Load(ctx)
	if err != nil {
		res.Close()
		exitWithError("fetch failed", err)
	}

	path := fetchOutput
	if path == "" {
		path = filepath.Join(cfg.OutputDir, fileSafe(cfg.Region)+".json")
	}
	if err := writeOverpass(path, data); err != nil {
		res.Close()
		exitWithError("failed to write output", err)
	}

	stats := data.Stats()
	log.Info("Fetch complete",
		zap.String("path", path),
		zap.Int("ways", stats.Ways),
		zap.Int("nodes", stats.Nodes))
}

func writeOverpass(path string, data *osmdata.RawData) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := osmdata.EncodeOverpass(f, data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// fileSafe turns a region name into a file name
func fileSafe(region string) string {
	if region == "" {
		return "bbox"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, strings.ToLower(region))
}
