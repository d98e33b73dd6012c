package config

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

// DefaultTolerance is the quantization grid size in degrees used to decide
// whether two segment endpoints are the same junction (about 0.1 m).
const DefaultTolerance = 1e-6

// BBox represents a geographic bounding box
type BBox struct {
	MinLon, MinLat, MaxLon, MaxLat float64
	IsSet                          bool
}

// Contains checks if a point is within the bounding box
func (b *BBox) Contains(lat, lon float64) bool {
	if b == nil || !b.IsSet {
		return true
	}
	return lon >= b.MinLon && lon <= b.MaxLon && lat >= b.MinLat && lat <= b.MaxLat
}

// Bound converts the box to an orb.Bound
func (b *BBox) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.MinLon, b.MinLat}, Max: orb.Point{b.MaxLon, b.MaxLat}}
}

// String formats the box as "minlon,minlat,maxlon,maxlat"
func (b *BBox) String() string {
	if b == nil || !b.IsSet {
		return ""
	}
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

// Tiles splits the box into a grid of boxes no larger than step degrees per side.
// A non-positive step returns the box itself.
func (b *BBox) Tiles(step float64) []BBox {
	if step <= 0 {
		return []BBox{*b}
	}
	cols := int(math.Ceil((b.MaxLon - b.MinLon) / step))
	rows := int(math.Ceil((b.MaxLat - b.MinLat) / step))
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}

	tiles := make([]BBox, 0, cols*rows)
	for r := 0; r < rows; r++ {
		minLat := b.MinLat + float64(r)*step
		maxLat := math.Min(minLat+step, b.MaxLat)
		for c := 0; c < cols; c++ {
			minLon := b.MinLon + float64(c)*step
			maxLon := math.Min(minLon+step, b.MaxLon)
			tiles = append(tiles, BBox{MinLon: minLon, MinLat: minLat, MaxLon: maxLon, MaxLat: maxLat, IsSet: true})
		}
	}
	return tiles
}

// ParseBBox parses a bbox string in format "minlon,minlat,maxlon,maxlat"
func ParseBBox(s string) (*BBox, error) {
	if strings.TrimSpace(s) == "" {
		return &BBox{IsSet: false}, nil
	}

	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("bbox must have 4 values: minlon,minlat,maxlon,maxlat")
	}

	var coords [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid bbox coordinate %q: %w", p, err)
		}
		coords[i] = v
	}

	bbox := &BBox{
		MinLon: coords[0],
		MinLat: coords[1],
		MaxLon: coords[2],
		MaxLat: coords[3],
		IsSet:  true,
	}

	if bbox.MinLon > bbox.MaxLon {
		return nil, fmt.Errorf("minlon (%f) must be <= maxlon (%f)", bbox.MinLon, bbox.MaxLon)
	}
	if bbox.MinLat > bbox.MaxLat {
		return nil, fmt.Errorf("minlat (%f) must be <= maxlat (%f)", bbox.MinLat, bbox.MaxLat)
	}

	return bbox, nil
}

// ConfigError reports a missing or invalid setting
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Message)
}

// Config holds the configuration for one pipeline run
type Config struct {
	// Region selection
	Region string
	BBox   *BBox

	// Remote sources
	OverpassURL    string
	GeocodingURL   string
	GeocodingAgent string
	FetchTimeout   time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	TileDegrees    float64 // Split the bbox into tiles of this size (0 = single request)
	CacheFile      string  // bbolt file for cached Overpass responses (empty = no cache)
	CacheTTL       time.Duration

	// Model building
	Tolerance  float64
	StyleFile  string // YAML waterway filter
	NameScript string // Lua script defining river_name(tags)

	// Spatial store
	SkipSpatial bool
	DBHost      string
	DBPort      int
	DBName      string
	DBUser      string
	DBPassword  string
	DBSchema    string
	DBTable     string
	SRID        int
	BatchSize   int

	// Graph store
	SkipGraph     bool
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string
	GraphName     string

	// Outputs
	OutputDir   string
	OutputFile  string // JSON snapshot file name inside OutputDir
	ParquetFile string // optional Parquet export of edges

	// Run behaviour
	Prune bool // delete stale records of the region after upserting
	Force bool // write sinks even when the network is unchanged

	// Logging and metrics
	Debug           bool
	LogFile         string
	MetricsInterval time.Duration
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		OverpassURL:     "https://overpass-api.de/api/interpreter",
		GeocodingURL:    "https://nominatim.openstreetmap.org",
		GeocodingAgent:  "osmriver/1.0",
		FetchTimeout:    180 * time.Second,
		MaxRetries:      3,
		RetryDelay:      5 * time.Second,
		CacheTTL:        24 * time.Hour,
		Tolerance:       DefaultTolerance,
		DBHost:          "localhost",
		DBPort:          5432,
		DBName:          "osm",
		DBUser:          "postgres",
		DBSchema:        "public",
		DBTable:         "rivers",
		SRID:            4326,
		BatchSize:       500,
		Neo4jURI:        "neo4j://localhost:7687",
		Neo4jUser:       "neo4j",
		Neo4jDatabase:   "neo4j",
		GraphName:       "rivers",
		OutputDir:       "./output",
		OutputFile:      "network.json",
		MetricsInterval: 0,
	}
}

// ConnectionString returns a PostgreSQL connection string
func (c *Config) ConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBName, c.DBUser,
	)
	if c.DBPassword != "" {
		connStr += fmt.Sprintf(" password=%s", c.DBPassword)
	}
	return connStr
}

// SnapshotPath returns the full path of the JSON snapshot, or "" when disabled
func (c *Config) SnapshotPath() string {
	if c.OutputDir == "" || c.OutputFile == "" {
		return ""
	}
	return strings.TrimRight(c.OutputDir, "/") + "/" + c.OutputFile
}

// Validate checks the settings every command needs
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Region) == "" {
		errs = append(errs, &ConfigError{Field: "REGION", Message: "required but not set"})
	}
	if c.Tolerance <= 0 || math.IsNaN(c.Tolerance) || math.IsInf(c.Tolerance, 0) {
		errs = append(errs, &ConfigError{Field: "COORD_TOLERANCE", Message: "must be a positive number"})
	}
	if c.SRID != 4326 && c.SRID != 3857 {
		errs = append(errs, &ConfigError{Field: "SRID", Message: "must be 4326 or 3857"})
	}
	if c.BatchSize < 1 {
		errs = append(errs, &ConfigError{Field: "BATCH_SIZE", Message: "must be at least 1"})
	}
	if !c.SkipSpatial {
		if c.DBHost == "" || c.DBName == "" || c.DBUser == "" || c.DBTable == "" {
			errs = append(errs, &ConfigError{Field: "SQL_*", Message: "spatial database configuration is incomplete"})
		}
		if c.DBPort < 1 || c.DBPort > 65535 {
			errs = append(errs, &ConfigError{Field: "SQL_PORT", Message: "must be between 1 and 65535"})
		}
	}
	if !c.SkipGraph {
		if c.Neo4jURI == "" || c.Neo4jUser == "" || c.GraphName == "" {
			errs = append(errs, &ConfigError{Field: "NEO4J_*", Message: "graph database configuration is incomplete"})
		}
	}
	return errors.Join(errs...)
}

// ValidateRemote checks the settings needed to fetch from Overpass
func (c *Config) ValidateRemote() error {
	var errs []error
	if c.OverpassURL == "" {
		errs = append(errs, &ConfigError{Field: "OSM_API_URL", Message: "required but not set"})
	}
	if (c.BBox == nil || !c.BBox.IsSet) && c.GeocodingURL == "" {
		errs = append(errs, &ConfigError{Field: "GEOCODING_URL", Message: "required when no bbox is given"})
	}
	if c.MaxRetries < 0 {
		errs = append(errs, &ConfigError{Field: "FETCH_RETRIES", Message: "must not be negative"})
	}
	return errors.Join(errs...)
}
