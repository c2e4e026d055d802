package materialize

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultMetadataPrefix is prepended to every extracted metadata key merged
// onto a work item, e.g. "dc:creator" becomes "extract.dc:creator".
const DefaultMetadataPrefix = "extract."

// Config holds the stage configuration and, for the docmat binary, the
// sections of the hosts that drive it.
type Config struct {
	// InputFileAttribute names the work-item attribute holding the source
	// path. Required.
	InputFileAttribute string `yaml:"input_file_attribute"`
	// OverwriteFiles replaces an existing <source>.xhtml instead of
	// treating it as already materialized.
	OverwriteFiles bool `yaml:"overwrite_files"`
	// MetadataPrefix is prepended to merged metadata keys.
	MetadataPrefix string `yaml:"metadata_prefix"`
	// ExtractTimeout bounds one extraction. 0 means no bound.
	ExtractTimeout time.Duration `yaml:"extract_timeout"`
	// MaxFileSize caps the source size in bytes (default: 100 MB).
	MaxFileSize int64 `yaml:"max_file_size"`
	// Languages restricts dc:language detection to these ISO 639-1 codes.
	Languages []string `yaml:"languages"`
	// DisableLanguageDetection skips the dc:language guess.
	DisableLanguageDetection bool `yaml:"disable_language_detection"`
	// AllowedRoots, when set, confines source paths to these absolute
	// directories.
	AllowedRoots []string `yaml:"allowed_roots"`

	Queue   QueueConfig   `yaml:"queue"`
	HTTP    HTTPConfig    `yaml:"http"`
	Metrics MetricsConfig `yaml:"metrics"`

	LogLevel string `yaml:"log_level"`

	Logger *slog.Logger `yaml:"-"`
}

// QueueConfig controls the SQLite work-item queue consumer.
type QueueConfig struct {
	DBPath       string        `yaml:"db_path"`
	Visibility   time.Duration `yaml:"visibility"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
	BatchSize    int           `yaml:"batch_size"`
	Concurrency  int           `yaml:"concurrency"`
}

// HTTPConfig controls the optional HTTP surface.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// MetricsConfig controls the SQLite metrics and event store.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// SetDefaults fills zero values with their defaults.
func (c *Config) SetDefaults() {
	if c.MetadataPrefix == "" {
		c.MetadataPrefix = DefaultMetadataPrefix
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 100 * 1024 * 1024
	}
	if c.Queue.DBPath == "" {
		c.Queue.DBPath = "docmat.db"
	}
	if c.Queue.Visibility <= 0 {
		c.Queue.Visibility = 2 * time.Minute
	}
	if c.Queue.PollInterval <= 0 {
		c.Queue.PollInterval = time.Second
	}
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = 3
	}
	if c.Queue.BatchSize <= 0 {
		c.Queue.BatchSize = 8
	}
	if c.Queue.Concurrency <= 0 {
		c.Queue.Concurrency = 4
	}
	if c.Metrics.DBPath == "" {
		c.Metrics.DBPath = "docmat-obs.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks the settings the stage cannot run without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.InputFileAttribute) == "" {
		return &ConfigurationError{Field: "input_file_attribute", Reason: "must not be empty"}
	}
	if c.ExtractTimeout < 0 {
		return &ConfigurationError{Field: "extract_timeout", Reason: "must not be negative"}
	}
	for _, root := range c.AllowedRoots {
		if !filepath.IsAbs(root) {
			return &ConfigurationError{Field: "allowed_roots", Reason: fmt.Sprintf("%q is not absolute", root)}
		}
	}
	return nil
}

// LoadConfigFile reads a YAML config file and applies defaults. Validation
// is left to Configure.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &ConfigurationError{Field: path, Reason: err.Error()}
	}
	cfg.SetDefaults()
	return cfg, nil
}

// ParseLogLevel maps a config level name onto slog.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
