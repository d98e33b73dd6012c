package cmd

import (
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/osmriver/internal/logger"
	"github.com/wegman-software/osmriver/internal/pipeline"
)

var buildCmd = &cobra.Command{
	Use:   "build <input>",
	Short: "Build the river network from a local OSM file",
	Long: `Build the river network from a local file instead of Overpass.

Accepted inputs are .osm.pbf extracts, .osm XML and Overpass JSON as written
by the fetch command. Sinks, snapshot and change detection behave as in run.`,
	Args: cobra.ExactArgs(1),
	Run:  runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) {
	log := logger.Get()

	if err := cfg.Validate(); err != nil {
		exitWithError("invalid configuration", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	res := &resources{}
	defer res.Close()

	filter, err := loadFilter(cfg)
	if err != nil {
		exitWithError("failed to load style", err)
	}

	start := time.Now()
	log.Info("Building river network from file",
		zap.String("input", args[0]),
		zap.String("region", cfg.Region))

	if _, err := runPipeline(ctx, cfg, &pipeline.FileSource{Path: args[0]}, filter, res); err != nil {
		res.Close()
		exitWithError("build failed", err)
	}

	log.Info("Build complete", zap.Duration("elapsed", time.Since(start).Round(time.Millisecond)))
}
