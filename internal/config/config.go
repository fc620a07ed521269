package config

import (
	"errors"
	"time"

	"github.com/klauspost/compress/gzip"
)

var (
	ErrInvalidPort             = errors.New("port must be between 1 and 65535")
	ErrInvalidCompressionLevel = errors.New("compression level must be between -2 and 9")
	ErrInvalidErrorPolicy      = errors.New("error policy must be \"skip\" or \"abort\"")
	ErrInvalidReadTimeout      = errors.New("read timeout must be positive")
)

// ErrorPolicy decides what a server connection does after a recoverable
// per-file failure (checksum mismatch, path violation, disk error).
type ErrorPolicy string

const (
	// PolicySkip discards the offending file and keeps the connection
	// open for the remaining files in the session.
	PolicySkip ErrorPolicy = "skip"
	// PolicyAbort terminates the connection on the first per-file failure.
	PolicyAbort ErrorPolicy = "abort"
)

// Config holds all application configuration
type Config struct {
	Client ClientConfig `json:"client"`
	Server ServerConfig `json:"server"`
}

// ClientConfig holds push-client configuration
type ClientConfig struct {
	Host             string `json:"host"`
	Port             int    `json:"port"`
	SourceDir        string `json:"source_dir"`
	CompressionLevel int    `json:"compression_level"`
}

// ServerConfig holds receive-server configuration
type ServerConfig struct {
	Host        string        `json:"host"`
	Port        int           `json:"port"`
	OutputDir   string        `json:"output_dir"`
	ReadTimeout time.Duration `json:"read_timeout"`
	ErrorPolicy ErrorPolicy   `json:"error_policy"`
}

// NewDefaultConfig returns a configuration with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			Host:             "127.0.0.1",
			Port:             9845,
			SourceDir:        "data",
			CompressionLevel: gzip.DefaultCompression,
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        9845,
			OutputDir:   "server-out",
			ReadTimeout: 2 * time.Minute,
			ErrorPolicy: PolicySkip,
		},
	}
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if c.Client.Port < 1 || c.Client.Port > 65535 {
		return ErrInvalidPort
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return ErrInvalidPort
	}
	if c.Client.CompressionLevel < gzip.HuffmanOnly || c.Client.CompressionLevel > gzip.BestCompression {
		return ErrInvalidCompressionLevel
	}
	if c.Server.ErrorPolicy != PolicySkip && c.Server.ErrorPolicy != PolicyAbort {
		return ErrInvalidErrorPolicy
	}
	if c.Server.ReadTimeout <= 0 {
		return ErrInvalidReadTimeout
	}
	return nil
}
