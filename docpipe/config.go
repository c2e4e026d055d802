package docpipe

import "log/slog"

// Config configures the document pipeline.
type Config struct {
	// MaxFileSize is the maximum file size to process (default: 100 MB).
	MaxFileSize int64 `json:"max_file_size" yaml:"max_file_size"`

	// Languages lists the ISO 639-1 codes the language detector chooses
	// from (default: DefaultLanguages).
	Languages []string `json:"languages" yaml:"languages"`

	// DisableLanguageDetection skips the dc:language guess entirely.
	DisableLanguageDetection bool `json:"disable_language_detection" yaml:"disable_language_detection"`

	// Logger for debug/error messages.
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 100 * 1024 * 1024
	}
	if len(c.Languages) == 0 {
		c.Languages = DefaultLanguages
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
