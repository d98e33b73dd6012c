package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wegman-software/osmriver/internal/config"
	"github.com/wegman-software/osmriver/internal/fetch"
	"github.com/wegman-software/osmriver/internal/logger"
	"github.com/wegman-software/osmriver/internal/osmdata"
)

// Source provides the raw OSM data for one run
type Source interface {
	Name() string
	Load(ctx context.Context) (*osmdata.RawData, error)
}

// Locator resolves a region name to a bounding box
type Locator interface {
	Lookup(ctx context.Context, region string) (*config.BBox, error)
}

// Downloader fetches raw data for a bounding box
type Downloader interface {
	Fetch(ctx context.Context, bbox *config.BBox) (*osmdata.RawData, error)
}

// RemoteSource fetches from Overpass. Without a bbox the region is geocoded.
type RemoteSource struct {
	Region     string
	BBox       *config.BBox
	Locator    Locator
	Downloader Downloader
}

// NewRemoteSource wires the Overpass fetcher and Nominatim geocoder from cfg
func NewRemoteSource(cfg *config.Config, waterways []string, c fetch.Cache) *RemoteSource {
	return &RemoteSource{
		Region:     cfg.Region,
		BBox:       cfg.BBox,
		Locator:    fetch.NewGeocoder(cfg.GeocodingURL, cfg.GeocodingAgent, cfg.MaxRetries, cfg.RetryDelay),
		Downloader: fetch.NewFromConfig(cfg, waterways, c),
	}
}

func (s *RemoteSource) Name() string { return "overpass" }

func (s *RemoteSource) Load(ctx context.Context) (*osmdata.RawData, error) {
	bbox := s.BBox
	if bbox == nil || !bbox.IsSet {
		if s.Locator == nil {
			return nil, fmt.Errorf("no bounding box for region %q", s.Region)
		}
		var err error
		bbox, err = s.Locator.Lookup(ctx, s.Region)
		if err != nil {
			return nil, err
		}
	}

	logger.Named("pipeline").Info("Fetching river data",
		zap.String("region", s.Region),
		zap.String("bbox", bbox.String()))
	return s.Downloader.Fetch(ctx, bbox)
}

// FileSource reads a local .osm.pbf, .osm or Overpass JSON file
type FileSource struct {
	Path string
}

func (s *FileSource) Name() string { return "file" }

func (s *FileSource) Load(ctx context.Context) (*osmdata.RawData, error) {
	logger.Named("pipeline").Info("Reading OSM file",
		zap.String("path", s.Path),
		zap.String("format", osmdata.DetectFormat(s.Path).String()))
	return osmdata.ReadFile(ctx, s.Path)
}
