package cmd

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/osmriver/internal/logger"
	"github.com/wegman-software/osmriver/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch a region from Overpass and write its river network",
	Long: `Run the full pipeline for REGION (or --bbox):

  1. Resolve the region to a bounding box via Nominatim unless --bbox is set
  2. Fetch waterway ways from the Overpass API (cached, tiled, retried)
  3. Normalize ways into segments and merge them into a river network
  4. Upsert edges into PostGIS and nodes/relationships into Neo4j
  5. Save the JSON snapshot used to skip unchanged reruns`,
	Args: cobra.NoArgs,
	Run:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) {
	log := logger.Get()

	if err := errors.Join(cfg.Validate(), cfg.ValidateRemote()); err != nil {
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
	src, err := remoteSource(cfg, filter, res)
	if err != nil {
		exitWithError("failed to prepare source", err)
	}

	start := time.Now()
	log.Info("Starting river import",
		zap.String("region", cfg.Region),
		zap.String("bbox", cfg.BBox.String()),
		zap.Float64("tolerance", cfg.Tolerance))

	if _, err := runPipeline(ctx, cfg, src, filter, res); err != nil {
		res.Close()
		if errors.Is(err, pipeline.ErrNoSegments) {
			exitWithError("nothing to import", err)
		}
		exitWithError("import failed", err)
	}

	log.Info("River import complete", zap.Duration("elapsed", time.Since(start).Round(time.Millisecond)))
}
