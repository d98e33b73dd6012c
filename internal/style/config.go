// Package style decides which waterways count as part of the river network.
package style

import (
	"fmt"
	"os"
	"sort"

	"github.com/paulmach/osm"
	"gopkg.in/yaml.v3"
)

// Config is the YAML style file
//
//	waterways:
//	  include:
//	    waterway: [river, canal]
//	  exclude:
//	    tunnel: [culvert]
//	  require_any: [name]
type Config struct {
	Waterways *FilterConfig `yaml:"waterways,omitempty"`
}

// FilterConfig defines tag rules for a way
type FilterConfig struct {
	// Include lists accepted values per key; a way must match at least one key.
	// An empty value list or "*" accepts any value.
	Include map[string][]string `yaml:"include,omitempty"`
	// Exclude rejects ways carrying any of these key/values, applied after Include
	Exclude map[string][]string `yaml:"exclude,omitempty"`
	// RequireAny requires at least one of these keys to be present
	RequireAny []string `yaml:"require_any,omitempty"`
}

// LoadConfig loads a style configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read style file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses a style configuration from YAML bytes
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse style YAML: %w", err)
	}
	if cfg.Waterways == nil {
		return nil, fmt.Errorf("style file has no waterways section")
	}
	return &cfg, nil
}

// DefaultConfig accepts waterway=river only
func DefaultConfig() *Config {
	return &Config{
		Waterways: &FilterConfig{
			Include: map[string][]string{"waterway": {"river"}},
		},
	}
}

// Filter checks ways against a FilterConfig
type Filter struct {
	cfg *FilterConfig
}

// NewFilter creates a filter from configuration
func NewFilter(cfg *FilterConfig) *Filter {
	if cfg == nil {
		return &Filter{cfg: &FilterConfig{}}
	}
	return &Filter{cfg: cfg}
}

// Match reports whether a way with these tags belongs to the network
func (f *Filter) Match(tags osm.Tags) bool {
	if f == nil || f.cfg == nil {
		return true
	}

	if len(f.cfg.RequireAny) > 0 {
		found := false
		for _, key := range f.cfg.RequireAny {
			if tags.HasTag(key) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(f.cfg.Include) > 0 {
		matched := false
		for key, values := range f.cfg.Include {
			if tags.HasTag(key) && valueIn(tags.Find(key), values) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for key, values := range f.cfg.Exclude {
		if tags.HasTag(key) && valueIn(tags.Find(key), values) {
			return false
		}
	}

	return true
}

// valueIn treats an empty list as "any value"
func valueIn(v string, values []string) bool {
	if len(values) == 0 {
		return true
	}
	for _, want := range values {
		if want == v || want == "*" {
			return true
		}
	}
	return false
}

// Waterways returns the waterway values to ask the data source for, sorted.
// Nil means any waterway.
func (f *Filter) Waterways() []string {
	if f == nil || f.cfg == nil {
		return nil
	}
	values, ok := f.cfg.Include["waterway"]
	if !ok || len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "*" {
			return nil
		}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// HasFilter returns true if filtering is enabled
func (f *Filter) HasFilter() bool {
	if f == nil || f.cfg == nil {
		return false
	}
	return len(f.cfg.Include) > 0 || len(f.cfg.Exclude) > 0 || len(f.cfg.RequireAny) > 0
}
