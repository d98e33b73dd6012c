package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// binding ties an environment key to its CLI flag
type binding struct {
	Key  string
	Flag string
}

// Bindings lists every environment key and the flag that overrides it.
// Flags not registered on the command are ignored.
var Bindings = []binding{
	{"REGION", "region"},
	{"BBOX", "bbox"},
	{"OSM_API_URL", "overpass-url"},
	{"GEOCODING_URL", "geocoding-url"},
	{"GEOCODING_AGENT", "geocoding-agent"},
	{"FETCH_TIMEOUT", "fetch-timeout"},
	{"FETCH_RETRIES", "retries"},
	{"FETCH_RETRY_DELAY", "retry-delay"},
	{"TILE_DEGREES", "tile-degrees"},
	{"CACHE_FILE", "cache"},
	{"CACHE_TTL", "cache-ttl"},
	{"COORD_TOLERANCE", "tolerance"},
	{"STYLE_FILE", "style"},
	{"NAME_SCRIPT", "name-script"},
	{"SKIP_SPATIAL", "skip-spatial"},
	{"SQL_HOST", "host"},
	{"SQL_PORT", "port"},
	{"SQL_NAME", "database"},
	{"SQL_USER", "user"},
	{"SQL_PASS", "password"},
	{"SQL_SCHEMA", "schema"},
	{"SQL_TABLE", "table"},
	{"SRID", "srid"},
	{"BATCH_SIZE", "batch-size"},
	{"SKIP_GRAPH", "skip-graph"},
	{"NEO4J_URI", "neo4j-uri"},
	{"NEO4J_USER", "neo4j-user"},
	{"NEO4J_PASS", "neo4j-password"},
	{"NEO4J_DATABASE", "neo4j-database"},
	{"NEO4J_GRAPH_NAME", "graph"},
	{"OUTPUT_DIR_PATH", "output-dir"},
	{"OUTPUT_FILE_NAME", "output-file"},
	{"PARQUET_FILE", "parquet"},
	{"PRUNE", "prune"},
	{"FORCE", "force"},
	{"DEBUG", "debug"},
	{"LOG_FILE", "log-file"},
	{"METRICS_INTERVAL", "metrics-interval"},
}

// Load builds a Config from defaults, an optional .env file, the environment
// and finally the given flags, in increasing order of precedence.
// A missing envFile is not an error.
func Load(envFile string, flags *pflag.FlagSet) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	if flags != nil {
		for _, b := range Bindings {
			f := flags.Lookup(b.Flag)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(b.Key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", b.Flag, err)
			}
		}
	}

	return fromViper(v)
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("OSM_API_URL", d.OverpassURL)
	v.SetDefault("GEOCODING_URL", d.GeocodingURL)
	v.SetDefault("GEOCODING_AGENT", d.GeocodingAgent)
	v.SetDefault("FETCH_TIMEOUT", d.FetchTimeout)
	v.SetDefault("FETCH_RETRIES", d.MaxRetries)
	v.SetDefault("FETCH_RETRY_DELAY", d.RetryDelay)
	v.SetDefault("CACHE_TTL", d.CacheTTL)
	v.SetDefault("COORD_TOLERANCE", d.Tolerance)
	v.SetDefault("SQL_HOST", d.DBHost)
	v.SetDefault("SQL_PORT", d.DBPort)
	v.SetDefault("SQL_NAME", d.DBName)
	v.SetDefault("SQL_USER", d.DBUser)
	v.SetDefault("SQL_SCHEMA", d.DBSchema)
	v.SetDefault("SQL_TABLE", d.DBTable)
	v.SetDefault("SRID", d.SRID)
	v.SetDefault("BATCH_SIZE", d.BatchSize)
	v.SetDefault("NEO4J_URI", d.Neo4jURI)
	v.SetDefault("NEO4J_USER", d.Neo4jUser)
	v.SetDefault("NEO4J_DATABASE", d.Neo4jDatabase)
	v.SetDefault("NEO4J_GRAPH_NAME", d.GraphName)
	v.SetDefault("OUTPUT_DIR_PATH", d.OutputDir)
	v.SetDefault("OUTPUT_FILE_NAME", d.OutputFile)
	v.SetDefault("METRICS_INTERVAL", d.MetricsInterval)
}

func fromViper(v *viper.Viper) (*Config, error) {
	bbox, err := ParseBBox(v.GetString("BBOX"))
	if err != nil {
		return nil, &ConfigError{Field: "BBOX", Message: err.Error()}
	}

	cfg := &Config{
		Region:          strings.TrimSpace(v.GetString("REGION")),
		BBox:            bbox,
		OverpassURL:     v.GetString("OSM_API_URL"),
		GeocodingURL:    v.GetString("GEOCODING_URL"),
		GeocodingAgent:  v.GetString("GEOCODING_AGENT"),
		FetchTimeout:    v.GetDuration("FETCH_TIMEOUT"),
		MaxRetries:      v.GetInt("FETCH_RETRIES"),
		RetryDelay:      v.GetDuration("FETCH_RETRY_DELAY"),
		TileDegrees:     v.GetFloat64("TILE_DEGREES"),
		CacheFile:       v.GetString("CACHE_FILE"),
		CacheTTL:        v.GetDuration("CACHE_TTL"),
		Tolerance:       v.GetFloat64("COORD_TOLERANCE"),
		StyleFile:       v.GetString("STYLE_FILE"),
		NameScript:      v.GetString("NAME_SCRIPT"),
		SkipSpatial:     v.GetBool("SKIP_SPATIAL"),
		DBHost:          v.GetString("SQL_HOST"),
		DBPort:          v.GetInt("SQL_PORT"),
		DBName:          v.GetString("SQL_NAME"),
		DBUser:          v.GetString("SQL_USER"),
		DBPassword:      v.GetString("SQL_PASS"),
		DBSchema:        v.GetString("SQL_SCHEMA"),
		DBTable:         v.GetString("SQL_TABLE"),
		SRID:            v.GetInt("SRID"),
		BatchSize:       v.GetInt("BATCH_SIZE"),
		SkipGraph:       v.GetBool("SKIP_GRAPH"),
		Neo4jURI:        v.GetString("NEO4J_URI"),
		Neo4jUser:       v.GetString("NEO4J_USER"),
		Neo4jPassword:   v.GetString("NEO4J_PASS"),
		Neo4jDatabase:   v.GetString("NEO4J_DATABASE"),
		GraphName:       v.GetString("NEO4J_GRAPH_NAME"),
		OutputDir:       v.GetString("OUTPUT_DIR_PATH"),
		OutputFile:      v.GetString("OUTPUT_FILE_NAME"),
		ParquetFile:     v.GetString("PARQUET_FILE"),
		Prune:           v.GetBool("PRUNE"),
		Force:           v.GetBool("FORCE"),
		Debug:           v.GetBool("DEBUG"),
		LogFile:         v.GetString("LOG_FILE"),
		MetricsInterval: v.GetDuration("METRICS_INTERVAL"),
	}

	return cfg, nil
}
