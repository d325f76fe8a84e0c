// Package config loads daytrace configuration from defaults, an optional
// YAML file and DAYTRACE_* environment variables, in that order of
// precedence (later wins).
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/anupcshan/daytrace/internal/timeline"
)

// Config is the complete daytrace configuration.
type Config struct {
	Processing ProcessingConfig `koanf:"processing"`
	Geocoding  GeocodingConfig  `koanf:"geocoding"`
	Cache      CacheConfig      `koanf:"cache"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// ProcessingConfig holds the entry filter thresholds.
type ProcessingConfig struct {
	DistanceMeters  float64 `koanf:"distance_meters" validate:"gte=0"`
	Probability     float64 `koanf:"probability" validate:"gte=0,lte=1"`
	DurationSeconds float64 `koanf:"duration_seconds" validate:"gte=0"`
}

// Thresholds converts the section to timeline thresholds.
func (p ProcessingConfig) Thresholds() timeline.Thresholds {
	return timeline.Thresholds{
		DistanceMeters:  p.DistanceMeters,
		Probability:     p.Probability,
		DurationSeconds: p.DurationSeconds,
	}
}

// GeocodingConfig selects and tunes the reverse geocoding provider.
type GeocodingConfig struct {
	Provider          string        `koanf:"provider" validate:"oneof=geoapify nominatim"`
	APIKey            string        `koanf:"api_key"`
	BaseURL           string        `koanf:"base_url" validate:"omitempty,url"`
	UserAgent         string        `koanf:"user_agent"`
	BatchSize         int           `koanf:"batch_size" validate:"min=1,max=25"`
	Timeout           time.Duration `koanf:"timeout" validate:"gt=0"`
	RetryBackoff      time.Duration `koanf:"retry_backoff" validate:"gte=0"`
	BatchPause        time.Duration `koanf:"batch_pause" validate:"gte=0"`
	RequestsPerSecond float64       `koanf:"requests_per_second" validate:"gte=0"`
	WaterKeywords     []string      `koanf:"water_keywords"`
}

// Enabled reports whether lookups can be sent to the provider. Geoapify
// needs an API key; Nominatim does not.
func (g GeocodingConfig) Enabled() bool {
	return g.Provider == "nominatim" || g.APIKey != ""
}

// CacheConfig selects where geocoding results persist between runs.
type CacheConfig struct {
	Backend string `koanf:"backend" validate:"oneof=json sqlite badger"`
	// Dir holds one subdirectory per user.
	Dir string `koanf:"dir" validate:"required"`
}

// UserDir returns the cache directory for user.
func (c CacheConfig) UserDir(user string) string {
	if user == "" {
		user = "default"
	}
	return filepath.Join(c.Dir, user)
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// defaultConfig returns the values applied before the file and the
// environment are read.
func defaultConfig() *Config {
	th := timeline.DefaultThresholds()
	return &Config{
		Processing: ProcessingConfig{
			DistanceMeters:  th.DistanceMeters,
			Probability:     th.Probability,
			DurationSeconds: th.DurationSeconds,
		},
		Geocoding: GeocodingConfig{
			Provider:          "geoapify",
			BatchSize:         25,
			Timeout:           10 * time.Second,
			RetryBackoff:      time.Second,
			BatchPause:        200 * time.Millisecond,
			RequestsPerSecond: 0, // unlimited
		},
		Cache: CacheConfig{
			Backend: "json",
			Dir:     DefaultCacheDir(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Default returns the default configuration.
func Default() *Config {
	return defaultConfig()
}

// DefaultConfigPath returns the default config file path following the XDG base directory layout
func DefaultConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "daytrace", "config.yaml")
}

// DefaultCacheDir returns the default cache directory following the XDG base directory layout
func DefaultCacheDir() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "daytrace")
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	return filepath.Join(cacheDir, "daytrace")
}
