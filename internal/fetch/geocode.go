package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/osmriver/internal/config"
	"github.com/wegman-software/osmriver/internal/logger"
)

// ErrRegionNotFound is returned when the geocoder has no match for a region
var ErrRegionNotFound = errors.New("region not found")

// Geocoder resolves region names to bounding boxes via Nominatim
type Geocoder struct {
	baseURL string
	retry   *retrier
}

// NewGeocoder creates a Geocoder for a Nominatim instance
func NewGeocoder(baseURL, userAgent string, maxRetries int, retryDelay time.Duration) *Geocoder {
	return &Geocoder{
		baseURL: strings.TrimRight(baseURL, "/"),
		retry: &retrier{
			client:     &http.Client{Timeout: 30 * time.Second},
			userAgent:  userAgent,
			maxRetries: maxRetries,
			retryDelay: retryDelay,
		},
	}
}

type nominatimPlace struct {
	DisplayName string   `json:"display_name"`
	BoundingBox []string `json:"boundingbox"` // minlat, maxlat, minlon, maxlon
}

// Lookup returns the bounding box of the best match for region
func (g *Geocoder) Lookup(ctx context.Context, region string) (*config.BBox, error) {
	q := url.Values{"q": {region}, "format": {"json"}, "limit": {"1"}}
	target := g.baseURL + "/search?" + q.Encode()

	body, err := g.retry.do(ctx, target, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("geocoding %q: %w", region, err)
	}

	var places []nominatimPlace
	if err := json.Unmarshal(body, &places); err != nil {
		return nil, fmt.Errorf("failed to decode geocoder response: %w", err)
	}
	if len(places) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRegionNotFound, region)
	}

	bbox, err := parseBoundingBox(places[0].BoundingBox)
	if err != nil {
		return nil, fmt.Errorf("geocoding %q: %w", region, err)
	}

	logger.Named("fetch").Info("Resolved region",
		zap.String("region", region),
		zap.String("match", places[0].DisplayName),
		zap.String("bbox", bbox.String()))
	return bbox, nil
}

func parseBoundingBox(v []string) (*config.BBox, error) {
	if len(v) != 4 {
		return nil, fmt.Errorf("bounding box has %d values, want 4", len(v))
	}
	var f [4]float64
	for i, s := range v {
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid bounding box value %q: %w", s, err)
		}
		f[i] = n
	}
	return &config.BBox{MinLat: f[0], MaxLat: f[1], MinLon: f[2], MaxLon: f[3], IsSet: true}, nil
}
