// Package fetch downloads river ways from the Overpass API and resolves
// region names to bounding boxes.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/osmriver/internal/cache"
	"github.com/wegman-software/osmriver/internal/config"
	"github.com/wegman-software/osmriver/internal/logger"
	"github.com/wegman-software/osmriver/internal/osmdata"
)

// Cache stores raw responses keyed by request
type Cache interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, data []byte) error
}

// Options configures a Fetcher
type Options struct {
	URL         string
	UserAgent   string
	Timeout     time.Duration // server side query timeout
	MaxRetries  int
	RetryDelay  time.Duration
	TileDegrees float64
	Waterways   []string // waterway values to query, empty for any
	Cache       Cache
}

// Fetcher retrieves raw OSM river data for a bounding box
type Fetcher struct {
	opts  Options
	retry *retrier
}

// New creates a Fetcher
func New(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 180 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "osmriver/1.0"
	}
	return &Fetcher{
		opts: opts,
		retry: &retrier{
			// leave room for the server to answer a query that hits its timeout
			client:     &http.Client{Timeout: opts.Timeout + 30*time.Second},
			userAgent:  opts.UserAgent,
			maxRetries: opts.MaxRetries,
			retryDelay: opts.RetryDelay,
		},
	}
}

// NewFromConfig creates a Fetcher from run configuration
func NewFromConfig(cfg *config.Config, waterways []string, c Cache) *Fetcher {
	return New(Options{
		URL:         cfg.OverpassURL,
		UserAgent:   cfg.GeocodingAgent,
		Timeout:     cfg.FetchTimeout,
		MaxRetries:  cfg.MaxRetries,
		RetryDelay:  cfg.RetryDelay,
		TileDegrees: cfg.TileDegrees,
		Waterways:   waterways,
		Cache:       c,
	})
}

// BuildQuery returns the Overpass QL query for waterway ways inside bbox,
// including their member nodes
func BuildQuery(bbox config.BBox, waterways []string, timeout time.Duration) string {
	var filter string
	switch len(waterways) {
	case 0:
		filter = `["waterway"]`
	case 1:
		filter = fmt.Sprintf(`["waterway"=%q]`, waterways[0])
	default:
		quoted := make([]string, len(waterways))
		for i, w := range waterways {
			quoted[i] = regexp.QuoteMeta(w)
		}
		filter = fmt.Sprintf(`["waterway"~"^(%s)$"]`, strings.Join(quoted, "|"))
	}

	// Overpass wants south,west,north,east
	area := fmt.Sprintf("%f,%f,%f,%f", bbox.MinLat, bbox.MinLon, bbox.MaxLat, bbox.MaxLon)

	return fmt.Sprintf("[out:json][timeout:%d];\nway%s(%s);\nout body;\n>;\nout skel qt;\n",
		int(timeout.Seconds()), filter, area)
}

// Fetch downloads all waterway ways in bbox. With tiling enabled the box is
// split and the tiles fetched in order, merging results by OSM id.
func (f *Fetcher) Fetch(ctx context.Context, bbox *config.BBox) (*osmdata.RawData, error) {
	if bbox == nil || !bbox.IsSet {
		return nil, fmt.Errorf("fetch requires a bounding box")
	}
	log := logger.Named("fetch")

	tiles := bbox.Tiles(f.opts.TileDegrees)
	merged := osmdata.New()
	for i, tile := range tiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		part, err := f.fetchTile(ctx, tile)
		if err != nil {
			return nil, err
		}
		merged.Merge(part)

		stats := part.Stats()
		log.Info("Fetched tile",
			zap.Int("tile", i+1),
			zap.Int("tiles", len(tiles)),
			zap.String("bbox", tile.String()),
			zap.Int("ways", stats.Ways),
			zap.Int("nodes", stats.Nodes))
	}
	return merged, nil
}

func (f *Fetcher) fetchTile(ctx context.Context, bbox config.BBox) (*osmdata.RawData, error) {
	log := logger.Named("fetch")
	query := BuildQuery(bbox, f.opts.Waterways, f.opts.Timeout)
	key := cache.Key(f.opts.URL, query)

	if f.opts.Cache != nil {
		body, ok, err := f.opts.Cache.Get(key)
		if err != nil {
			log.Warn("Cache read failed", zap.Error(err))
		} else if ok {
			data, err := osmdata.DecodeOverpass(bytes.NewReader(body))
			if err == nil {
				log.Debug("Using cached response", zap.String("bbox", bbox.String()))
				return data, nil
			}
			log.Warn("Ignoring unreadable cache entry", zap.Error(err))
		}
	}

	form := url.Values{"data": {query}}.Encode()
	body, err := f.retry.do(ctx, f.opts.URL, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.opts.URL, strings.NewReader(form))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	data, err := osmdata.DecodeOverpass(bytes.NewReader(body))
	if err != nil {
		return nil, &FetchError{URL: f.opts.URL, Attempts: 1, Err: err}
	}

	if f.opts.Cache != nil {
		if err := f.opts.Cache.Put(key, body); err != nil {
			log.Warn("Cache write failed", zap.Error(err))
		}
	}
	return data, nil
}
