package cmd

import (
	"os"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/osmriver/internal/config"
	"github.com/wegman-software/osmriver/internal/logger"
)

var (
	cfg     = config.DefaultConfig()
	envFile string
)

var rootCmd = &cobra.Command{
	Use:   "osmriver",
	Short: "Build river networks from OpenStreetMap",
	Long: `osmriver fetches waterway ways for a region from OpenStreetMap, merges them
into a deduplicated river network and writes it to PostGIS, Neo4j, Parquet
and a JSON snapshot.

Every setting can come from a .env file, the environment or a flag, with
flags taking precedence.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(envFile, cmd.Flags())
		if err != nil {
			return err
		}
		cfg = loaded

		logger.InitWithOptions(logger.Options{Debug: cfg.Debug, File: cfg.LogFile})
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	d := config.DefaultConfig()
	f := rootCmd.PersistentFlags()

	f.StringVar(&envFile, "env-file", ".env", "Environment file to load")
	f.BoolP("debug", "v", false, "Enable debug logging")
	f.String("log-file", "", "Also write JSON logs to this file (rotated)")
	f.Duration("metrics-interval", d.MetricsInterval, "Resource usage logging interval (0 disables)")

	// Region and model
	f.StringP("region", "r", "", "Region name, used for geocoding and to tag records")
	f.StringP("bbox", "b", "", "Bounding box minlon,minlat,maxlon,maxlat (skips geocoding)")
	f.Float64("tolerance", d.Tolerance, "Coordinate tolerance in degrees for joining endpoints")
	f.StringP("style", "S", "", "YAML waterway filter")
	f.String("name-script", "", "Lua script defining river_name(tags)")

	// Outputs
	f.StringP("output-dir", "o", d.OutputDir, "Directory for the JSON snapshot")
	f.String("output-file", d.OutputFile, "Snapshot file name (empty disables)")
	f.String("parquet", "", "Also export edges to this Parquet file")
	f.Bool("prune", false, "Delete stored records of the region that are no longer present")
	f.Bool("force", false, "Write even when the network is unchanged since the last snapshot")

	// Spatial store
	f.Bool("skip-spatial", false, "Do not write to PostGIS")
	f.String("host", d.DBHost, "PostgreSQL host")
	f.Int("port", d.DBPort, "PostgreSQL port")
	f.StringP("database", "d", d.DBName, "PostgreSQL database name")
	f.StringP("user", "U", d.DBUser, "PostgreSQL user")
	f.StringP("password", "W", "", "PostgreSQL password")
	f.String("schema", d.DBSchema, "PostgreSQL schema")
	f.String("table", d.DBTable, "PostgreSQL table")
	f.Int("srid", d.SRID, "Target SRID for stored geometry (4326 or 3857)")
	f.Int("batch-size", d.BatchSize, "Records per write batch")

	// Graph store
	f.Bool("skip-graph", false, "Do not write to Neo4j")
	f.String("neo4j-uri", d.Neo4jURI, "Neo4j URI")
	f.String("neo4j-user", d.Neo4jUser, "Neo4j user")
	f.String("neo4j-password", "", "Neo4j password")
	f.String("neo4j-database", d.Neo4jDatabase, "Neo4j database")
	f.String("graph", d.GraphName, "Graph name stored on every node and relationship")

	// Fetching
	f.String("overpass-url", d.OverpassURL, "Overpass API interpreter URL")
	f.String("geocoding-url", d.GeocodingURL, "Nominatim base URL")
	f.String("geocoding-agent", d.GeocodingAgent, "User agent for remote requests")
	f.Duration("fetch-timeout", d.FetchTimeout, "Overpass query timeout")
	f.Int("retries", d.MaxRetries, "Retries for failed requests")
	f.Duration("retry-delay", d.RetryDelay, "Initial delay between retries, doubled each attempt")
	f.Float64("tile-degrees", 0, "Split the bbox into tiles of this size in degrees (0 = one request)")
	f.String("cache", "", "bbolt file caching Overpass responses")
	f.Duration("cache-ttl", d.CacheTTL, "Maximum age of cached responses")
}

func exitWithError(msg string, err error) {
	log := logger.Get()
	if err != nil {
		log.Error(msg, zap.Error(err))
	} else {
		log.Error(msg)
	}
	logger.Sync()
	os.Exit(1)
}
