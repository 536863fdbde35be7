package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FeedConfig describes a single ICS event feed.
type FeedConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for logging and cache keys.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the status API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// DBPath is the SQLite database file path.
	DBPath string `yaml:"db_path" json:"db_path"`

	// Listen is the HTTP listen address for the status API (daemon mode).
	Listen string `yaml:"listen" json:"listen"`

	// LogLevel is the minimum log level: debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// RefreshCron is a cron-style schedule string (e.g. "0 */6 * * *")
	// controlling how often the ingest/detect cycle runs in daemon mode.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays is how many future days of feed occurrences to ingest.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// RetentionDays is how many days before today an event date may fall
	// before validation rejects it. Zero means dates earlier than today fail.
	RetentionDays int `yaml:"retention_days" json:"retention_days"`

	// FuzzyThreshold is the similarity score at or above which two records
	// are treated as the same real event.
	FuzzyThreshold float64 `yaml:"fuzzy_threshold" json:"fuzzy_threshold"`

	// CongestionThreshold is the number of same-building events on one date
	// above which a building-congestion conflict is reported.
	CongestionThreshold int `yaml:"congestion_threshold" json:"congestion_threshold"`

	// TitleMaxLen is the maximum accepted title length.
	TitleMaxLen int `yaml:"title_max_len" json:"title_max_len"`

	// DefaultDurationMinutes is assumed for events with a start but no end.
	DefaultDurationMinutes int `yaml:"default_duration_minutes" json:"default_duration_minutes"`

	// GridStartHour / GridEndHour bound the hourly grid searched for
	// alternative slots.
	GridStartHour int `yaml:"grid_start_hour" json:"grid_start_hour"`
	GridEndHour   int `yaml:"grid_end_hour" json:"grid_end_hour"`

	// MaxSuggestions caps the number of alternative slots per recommendation.
	MaxSuggestions int `yaml:"max_suggestions" json:"max_suggestions"`

	// BuildingPrefixes mark venue segments that name a building directly
	// (e.g. "Bldg 10, Room 203" -> "Bldg 10").
	BuildingPrefixes []string `yaml:"building_prefixes" json:"building_prefixes"`

	// BuildingKeywords map venue keywords to a building token for venues
	// that do not carry a prefix.
	BuildingKeywords map[string]string `yaml:"building_keywords" json:"building_keywords"`

	// Feeds is the list of subscribed event feeds.
	Feeds []FeedConfig `yaml:"feeds" json:"feeds"`

	// FetchAttempts / FetchBackoffSeconds bound the feed fetch retry policy.
	FetchAttempts       int `yaml:"fetch_attempts" json:"fetch_attempts"`
	FetchBackoffSeconds int `yaml:"fetch_backoff_seconds" json:"fetch_backoff_seconds"`

	// CacheDir is where per-feed HTTP cache entries are stored.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all API
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		DBPath:                 "./data/campusevents.db",
		Listen:                 "127.0.0.1:8080",
		LogLevel:               "info",
		RefreshCron:            "0 */6 * * *",
		HorizonDays:            90,
		RetentionDays:          0,
		FuzzyThreshold:         0.85,
		CongestionThreshold:    4,
		TitleMaxLen:            200,
		DefaultDurationMinutes: 60,
		GridStartHour:          8,
		GridEndHour:            19,
		MaxSuggestions:         3,
		BuildingPrefixes:       []string{"Bldg", "Building", "Hall"},
		BuildingKeywords:       map[string]string{},
		Feeds:                  []FeedConfig{},
		FetchAttempts:          3,
		FetchBackoffSeconds:    5,
		CacheDir:               "./var/feed-cache",
		BasicAuth:              nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	if c.DBPath == "" {
		c.DBPath = "./data/campusevents.db"
	}
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "0 */6 * * *"
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 90
	}
	if c.RetentionDays < 0 {
		c.RetentionDays = 0
	}
	if c.FuzzyThreshold <= 0 || c.FuzzyThreshold > 1 {
		c.FuzzyThreshold = 0.85
	}
	if c.CongestionThreshold <= 0 {
		c.CongestionThreshold = 4
	}
	if c.TitleMaxLen <= 0 {
		c.TitleMaxLen = 200
	}
	if c.DefaultDurationMinutes <= 0 {
		c.DefaultDurationMinutes = 60
	}
	if c.GridStartHour <= 0 {
		c.GridStartHour = 8
	}
	if c.GridEndHour <= c.GridStartHour {
		c.GridEndHour = 19
	}
	if c.MaxSuggestions <= 0 {
		c.MaxSuggestions = 3
	}
	if c.BuildingPrefixes == nil {
		c.BuildingPrefixes = []string{"Bldg", "Building", "Hall"}
	}
	if c.BuildingKeywords == nil {
		c.BuildingKeywords = map[string]string{}
	}
	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}
	if c.FetchAttempts <= 0 {
		c.FetchAttempts = 3
	}
	if c.FetchBackoffSeconds <= 0 {
		c.FetchBackoffSeconds = 5
	}
	if c.CacheDir == "" {
		c.CacheDir = "./var/feed-cache"
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".campusevents-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	return nil
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
