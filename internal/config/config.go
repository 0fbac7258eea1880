// Package config handles configuration loading for the spotview server.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/atlasmap-sc/spotview/pkg/colormap"
)

// Config represents the server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Data     DataConfig     `yaml:"data"`
	Cache    CacheConfig    `yaml:"cache"`
	Render   RenderConfig   `yaml:"render"`
	Coloring ColoringConfig `yaml:"coloring"`
	Views    ViewsConfig    `yaml:"views"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	Title       string   `yaml:"title"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DatasetConfig locates the input files of one dataset.
type DatasetConfig struct {
	Name       string  `yaml:"name"`
	Positions  string  `yaml:"positions"`
	Expression string  `yaml:"expression"`
	Membership string  `yaml:"membership"`
	Matrix     string  `yaml:"matrix"`
	MaxSpots   int     `yaml:"max_spots"`
	Scale      float64 `yaml:"scale"`
}

// DataConfig contains data source settings. It accepts either the fields of
// a single dataset at top level, or a map of dataset id to DatasetConfig.
type DataConfig struct {
	Datasets           map[string]DatasetConfig
	DefaultDataset     string
	MaxConcurrentLoads int

	order []string
}

// dataKeys are scalar keys of the data section that are not dataset ids.
var dataKeys = map[string]bool{
	"max_concurrent_loads": true,
	"default_dataset":      true,
}

// legacyKeys mark the single-dataset layout.
var legacyKeys = map[string]bool{
	"name": true, "positions": true, "expression": true, "membership": true,
	"matrix": true, "max_spots": true, "scale": true,
}

// UnmarshalYAML keeps dataset order as written.
func (d *DataConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("data: expected a mapping, got %s", node.Tag)
	}

	legacy := false
	for i := 0; i+1 < len(node.Content); i += 2 {
		if legacyKeys[node.Content[i].Value] {
			legacy = true
			break
		}
	}

	d.Datasets = map[string]DatasetConfig{}
	d.order = nil
	if legacy {
		var ds DatasetConfig
		if err := node.Decode(&ds); err != nil {
			return fmt.Errorf("data: %w", err)
		}
		d.Datasets["default"] = ds
		d.order = []string{"default"}
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i].Value, node.Content[i+1]
		switch {
		case key == "max_concurrent_loads":
			if err := val.Decode(&d.MaxConcurrentLoads); err != nil {
				return fmt.Errorf("data.max_concurrent_loads: %w", err)
			}
		case key == "default_dataset":
			d.DefaultDataset = val.Value
		case legacy || dataKeys[key]:
			continue
		default:
			if val.Kind != yaml.MappingNode {
				return fmt.Errorf("data.%s: expected a dataset mapping", key)
			}
			var ds DatasetConfig
			if err := val.Decode(&ds); err != nil {
				return fmt.Errorf("data.%s: %w", key, err)
			}
			if _, dup := d.Datasets[key]; !dup {
				d.order = append(d.order, key)
			}
			d.Datasets[key] = ds
		}
	}
	return nil
}

// DatasetIDs returns dataset ids in configuration order.
func (d DataConfig) DatasetIDs() []string {
	return append([]string(nil), d.order...)
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	SnapshotSizeMB      int `yaml:"snapshot_size_mb"`
	SnapshotTTLMinutes  int `yaml:"snapshot_ttl_minutes"`
	ExpressionCacheSize int `yaml:"expression_cache_size"`
}

// SnapshotTTL returns the snapshot lifetime.
func (c CacheConfig) SnapshotTTL() time.Duration {
	return time.Duration(c.SnapshotTTLMinutes) * time.Minute
}

// RenderConfig contains rendering settings.
type RenderConfig struct {
	Width           int     `yaml:"width"`
	Height          int     `yaml:"height"`
	DefaultGradient string  `yaml:"default_gradient"`
	SpotOpacity     float64 `yaml:"spot_opacity"`
}

// PaletteEntry is one named color of the gene palette.
type PaletteEntry struct {
	Name string `yaml:"name"`
	Hex  string `yaml:"hex"`
}

// ColoringConfig tunes multi-gene composition.
type ColoringConfig struct {
	// ActivationThreshold is a pointer so that 0 can be configured.
	ActivationThreshold *float64       `yaml:"activation_threshold"`
	Weighting           string         `yaml:"weighting"`
	BaseColor           string         `yaml:"base_color"`
	Palette             []PaletteEntry `yaml:"palette"`
}

// ComposeOptions converts the section into composition options.
func (c ColoringConfig) ComposeOptions() (colormap.ComposeOptions, error) {
	opts := colormap.DefaultComposeOptions()
	if c.ActivationThreshold != nil {
		opts.Threshold = *c.ActivationThreshold
	}
	w, err := colormap.ParseWeighting(c.Weighting)
	if err != nil {
		return opts, fmt.Errorf("coloring.weighting: %w", err)
	}
	opts.Weighting = w
	if c.BaseColor != "" {
		base, err := colormap.ParseHex(c.BaseColor)
		if err != nil {
			return opts, fmt.Errorf("coloring.base_color: %w", err)
		}
		opts.Base = base
	}
	return opts, nil
}

// GenePalette returns the configured palette, or the built-in one.
func (c ColoringConfig) GenePalette() (colormap.Palette, error) {
	if len(c.Palette) == 0 {
		return colormap.GenePalette, nil
	}
	names := make([]string, len(c.Palette))
	hexes := make([]string, len(c.Palette))
	for i, p := range c.Palette {
		names[i], hexes[i] = p.Name, p.Hex
	}
	p, err := colormap.ParsePalette(names, hexes)
	if err != nil {
		return nil, fmt.Errorf("coloring.palette: %w", err)
	}
	return p, nil
}

// ViewsConfig locates the saved-views database.
type ViewsConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// SlogLevel maps the configured level name; unknown names mean info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			Title:       "Spatial spot viewer",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Data: DataConfig{
			Datasets: map[string]DatasetConfig{
				"default": {
					Positions:  "./data/spots.csv",
					Expression: "./data/celltype_expression.csv",
					Membership: "./data/membership.csv",
					Matrix:     "./data/matrix.mtx",
					Scale:      1,
				},
			},
			DefaultDataset:     "default",
			MaxConcurrentLoads: 2,
			order:              []string{"default"},
		},
		Cache: CacheConfig{
			SnapshotSizeMB:      256,
			SnapshotTTLMinutes:  10,
			ExpressionCacheSize: 256,
		},
		Render: RenderConfig{
			Width:           1024,
			Height:          1024,
			DefaultGradient: "spot",
			SpotOpacity:     1,
		},
		Views: ViewsConfig{
			SQLitePath: "./data/views.sqlite",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if cfg.Server.Title == "" {
		cfg.Server.Title = defaults.Server.Title
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if len(cfg.Data.Datasets) == 0 {
		cfg.Data.Datasets = defaults.Data.Datasets
		cfg.Data.order = defaults.Data.order
	}
	if cfg.Data.DefaultDataset == "" && len(cfg.Data.order) > 0 {
		cfg.Data.DefaultDataset = cfg.Data.order[0]
	}
	if cfg.Data.MaxConcurrentLoads <= 0 {
		cfg.Data.MaxConcurrentLoads = defaults.Data.MaxConcurrentLoads
	}
	for id, ds := range cfg.Data.Datasets {
		if ds.Scale == 0 {
			ds.Scale = 1
		}
		if ds.Name == "" {
			ds.Name = id
		}
		cfg.Data.Datasets[id] = ds
	}
	if cfg.Cache.SnapshotSizeMB == 0 {
		cfg.Cache.SnapshotSizeMB = defaults.Cache.SnapshotSizeMB
	}
	if cfg.Cache.SnapshotTTLMinutes == 0 {
		cfg.Cache.SnapshotTTLMinutes = defaults.Cache.SnapshotTTLMinutes
	}
	if cfg.Cache.ExpressionCacheSize == 0 {
		cfg.Cache.ExpressionCacheSize = defaults.Cache.ExpressionCacheSize
	}
	if cfg.Render.Width == 0 {
		cfg.Render.Width = defaults.Render.Width
	}
	if cfg.Render.Height == 0 {
		cfg.Render.Height = defaults.Render.Height
	}
	if cfg.Render.DefaultGradient == "" {
		cfg.Render.DefaultGradient = defaults.Render.DefaultGradient
	}
	if cfg.Render.SpotOpacity == 0 {
		cfg.Render.SpotOpacity = defaults.Render.SpotOpacity
	}
	if cfg.Views.SQLitePath == "" {
		cfg.Views.SQLitePath = defaults.Views.SQLitePath
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	if _, ok := c.Data.Datasets[c.Data.DefaultDataset]; !ok {
		return fmt.Errorf("data.default_dataset %q is not a configured dataset", c.Data.DefaultDataset)
	}
	if c.Render.SpotOpacity < 0 || c.Render.SpotOpacity > 1 {
		return fmt.Errorf("render.spot_opacity must be within [0, 1], got %v", c.Render.SpotOpacity)
	}
	if _, ok := colormap.Lookup(c.Render.DefaultGradient); !ok {
		return fmt.Errorf("render.default_gradient %q is unknown (have %s)",
			c.Render.DefaultGradient, strings.Join(colormap.Names(), ", "))
	}
	if _, err := c.Coloring.ComposeOptions(); err != nil {
		return err
	}
	if _, err := c.Coloring.GenePalette(); err != nil {
		return err
	}
	return nil
}
