package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	DB       DBConfig       `yaml:"db"`
	Detect   DetectConfig   `yaml:"detect"`
	Trip     TripConfig     `yaml:"trip"`
	Geocoder GeocoderConfig `yaml:"geocoder"`
	Location LocationConfig `yaml:"location"`
	Ticker   TickerConfig   `yaml:"ticker"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// LogSettings holds path and level for a single log output.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server LogSettings `yaml:"server"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Path string `yaml:"path"`
}

// DetectConfig holds the trip-detection tuning thresholds.
// The defaults encode the shipping hysteresis: a strict start criterion to
// reject pedestrian movement, a lenient continuation criterion to survive
// stop-and-go traffic, and a long stop dwell to absorb red lights.
type DetectConfig struct {
	StartSpeedMph         float64  `yaml:"start_speed_mph"`
	MinStartDwell         Duration `yaml:"min_start_dwell"`
	ContinueSpeedMph      float64  `yaml:"continue_speed_mph"`
	MovementWindow        Duration `yaml:"movement_window"`
	MaxStationarySpeedMph float64  `yaml:"max_stationary_speed_mph"`
	MinStopDwell          Duration `yaml:"min_stop_dwell"`
	MinMovementMiles      float64  `yaml:"min_movement_miles"`
	RecentSpeedFloorMph   float64  `yaml:"recent_speed_floor_mph"`
	SpeedWindowSize       int      `yaml:"speed_window_size"`
}

// TripConfig holds active-trip defaults.
type TripConfig struct {
	DefaultCategory string  `yaml:"default_category"`
	MileageRate     float64 `yaml:"mileage_rate"`
}

// GeocoderConfig holds reverse-geocoding settings.
type GeocoderConfig struct {
	Enabled         bool     `yaml:"enabled"`
	BaseURL         string   `yaml:"base_url"`
	UserAgent       string   `yaml:"user_agent"`
	Timeout         Duration `yaml:"timeout"`
	CacheResolution int      `yaml:"cache_resolution"`
}

// ReplayConfig holds settings for the scripted replay location source.
type ReplayConfig struct {
	StartLat float64  `yaml:"start_lat"`
	StartLon float64  `yaml:"start_lon"`
	Interval Duration `yaml:"interval"`
}

// LocationConfig holds settings for the location source.
type LocationConfig struct {
	Provider string       `yaml:"provider"` // "replay", "udp"
	Timeout  Duration     `yaml:"timeout"`
	Replay   ReplayConfig `yaml:"replay"`
}

// TickerConfig holds the engine heartbeat settings.
type TickerConfig struct {
	DurationTick Duration `yaml:"duration_tick"`
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address: "localhost:1930",
		},
		Log: LogConfig{
			Server: LogSettings{
				Path:  "./logs/server.log",
				Level: "INFO",
			},
		},
		DB: DBConfig{
			Path: "./data/milepost.db",
		},
		Detect: DetectConfig{
			StartSpeedMph:         10,
			MinStartDwell:         Duration(30 * time.Second),
			ContinueSpeedMph:      3,
			MovementWindow:        Duration(120 * time.Second),
			MaxStationarySpeedMph: 2,
			MinStopDwell:          Duration(300 * time.Second),
			MinMovementMiles:      0.01,
			RecentSpeedFloorMph:   5,
			SpeedWindowSize:       10,
		},
		Trip: TripConfig{
			DefaultCategory: "Business",
			MileageRate:     0.67, // IRS standard rate
		},
		Geocoder: GeocoderConfig{
			Enabled:         true,
			BaseURL:         "https://nominatim.openstreetmap.org",
			UserAgent:       "milepost/1.0",
			Timeout:         Duration(5 * time.Second),
			CacheResolution: 10,
		},
		Location: LocationConfig{
			Provider: "replay",
			Timeout:  Duration(10 * time.Second),
			Replay: ReplayConfig{
				StartLat: 47.6062,
				StartLon: -122.3321,
				Interval: Duration(1 * time.Second),
			},
		},
		Ticker: TickerConfig{
			DurationTick: Duration(1 * time.Second),
		},
	}
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// If the file exists, defaults are merged with existing values but not saved
// back to disk, preserving user formatting and comments.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		if err := cfg.validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	d := &c.Detect
	if d.StartSpeedMph <= d.ContinueSpeedMph {
		return fmt.Errorf("detect: start_speed_mph (%.1f) must exceed continue_speed_mph (%.1f)", d.StartSpeedMph, d.ContinueSpeedMph)
	}
	if d.MaxStationarySpeedMph > d.ContinueSpeedMph {
		return fmt.Errorf("detect: max_stationary_speed_mph (%.1f) must not exceed continue_speed_mph (%.1f)", d.MaxStationarySpeedMph, d.ContinueSpeedMph)
	}
	if d.SpeedWindowSize < 1 {
		return fmt.Errorf("detect: speed_window_size must be at least 1, got %d", d.SpeedWindowSize)
	}
	if c.Trip.MileageRate < 0 {
		return fmt.Errorf("trip: mileage_rate must not be negative, got %v", c.Trip.MileageRate)
	}
	return nil
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Milepost Configuration
# ----------------------
# Durations accept: ns, us, ms, s, m, h, d (day), w (week)
# Speeds are statute miles per hour; distances are statute miles.

`)
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return Save(path, DefaultConfig())
}
