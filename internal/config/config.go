// Package config handles fcompose configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Store backends.
const (
	StoreBackendMemory = "memory"
	StoreBackendFile   = "file"
	StoreBackendSQLite = "sqlite"
)

// Upload transports.
const (
	TransportTus = "tus"
	TransportS3  = "s3"
)

// Config is the root configuration structure for fcompose.
type Config struct {
	// Global settings
	Global GlobalConfig `yaml:"global" mapstructure:"global"`

	// Store settings for the durable key-value store backing drafts.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Drafts settings
	Drafts DraftsConfig `yaml:"drafts" mapstructure:"drafts"`

	// Uploads settings
	Uploads UploadsConfig `yaml:"uploads" mapstructure:"uploads"`

	// Streams maps channel ids to display names, e.g. {"5": "lunch-club"}.
	Streams map[string]string `yaml:"streams" mapstructure:"streams"`
}

// GlobalConfig contains global settings.
type GlobalConfig struct {
	// DataDir is where fcompose stores its data (default: ~/.local/share/fcompose).
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	// ConfigDir is where config files are stored (default: ~/.config/fcompose).
	ConfigDir string `yaml:"config_dir" mapstructure:"config_dir"`
}

// StoreConfig contains key-value store settings.
type StoreConfig struct {
	// Backend is one of memory, file, sqlite.
	Backend string `yaml:"backend" mapstructure:"backend"`

	// Path is the store file path. Defaults to DataDir/store.db or DataDir/store.json.
	Path string `yaml:"path" mapstructure:"path"`

	// BusyTimeoutMs is how long SQLite waits for a locked database (milliseconds).
	BusyTimeoutMs int `yaml:"busy_timeout_ms" mapstructure:"busy_timeout_ms"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional log file path.
	File string `yaml:"file" mapstructure:"file"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// DraftsConfig contains draft persistence settings.
type DraftsConfig struct {
	// MaxAge is how long a draft survives without edits before the startup sweep removes it.
	MaxAge time.Duration `yaml:"max_age" mapstructure:"max_age"`

	// MinContentLength is the trimmed length at or below which no draft is saved.
	MinContentLength int `yaml:"min_content_length" mapstructure:"min_content_length"`

	// AutosaveInterval is how often an open composer is checkpointed.
	AutosaveInterval time.Duration `yaml:"autosave_interval" mapstructure:"autosave_interval"`
}

// UploadsConfig contains file upload settings.
type UploadsConfig struct {
	// MaxFileUploadSizeMiB is the organization limit. Zero disables uploads.
	MaxFileUploadSizeMiB int64 `yaml:"max_file_upload_size_mib" mapstructure:"max_file_upload_size_mib"`

	// ChunkSize is the size of each transferred chunk in bytes.
	ChunkSize int64 `yaml:"chunk_size" mapstructure:"chunk_size"`

	// MaxConcurrent bounds simultaneous transfers per surface.
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`

	// BannerLinger is how long a finished progress banner stays visible.
	BannerLinger time.Duration `yaml:"banner_linger" mapstructure:"banner_linger"`

	// Transport is one of tus, s3.
	Transport string `yaml:"transport" mapstructure:"transport"`

	// Tus settings
	Tus TusConfig `yaml:"tus" mapstructure:"tus"`

	// S3 settings
	S3 S3Config `yaml:"s3" mapstructure:"s3"`
}

// TusConfig configures the tus resumable upload endpoint.
type TusConfig struct {
	// Endpoint is the creation URL, e.g. https://chat.example.com/api/v1/tus.
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`

	// Headers are sent with every request (for example Authorization).
	Headers map[string]string `yaml:"headers" mapstructure:"headers"`

	// Timeout bounds each HTTP request.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// S3Config configures multipart uploads straight to object storage.
type S3Config struct {
	Bucket        string `yaml:"bucket" mapstructure:"bucket"`
	Region        string `yaml:"region" mapstructure:"region"`
	Prefix        string `yaml:"prefix" mapstructure:"prefix"`
	Endpoint      string `yaml:"endpoint" mapstructure:"endpoint"`
	PublicBaseURL string `yaml:"public_base_url" mapstructure:"public_base_url"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Global: GlobalConfig{
			DataDir:   filepath.Join(homeDir, ".local", "share", "fcompose"),
			ConfigDir: filepath.Join(homeDir, ".config", "fcompose"),
		},
		Store: StoreConfig{
			Backend:       StoreBackendSQLite,
			Path:          "", // Will be set to DataDir/store.db
			BusyTimeoutMs: 5000,
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "console",
			EnableCaller: false,
		},
		Drafts: DraftsConfig{
			MaxAge:           30 * 24 * time.Hour,
			MinContentLength: 2,
			AutosaveInterval: 5 * time.Second,
		},
		Uploads: UploadsConfig{
			MaxFileUploadSizeMiB: 100,
			ChunkSize:            6 * 1024 * 1024,
			MaxConcurrent:        3,
			BannerLinger:         time.Second,
			Transport:            TransportTus,
			Tus: TusConfig{
				Timeout: 60 * time.Second,
			},
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreBackendMemory, StoreBackendFile, StoreBackendSQLite:
	default:
		return fmt.Errorf("store.backend must be one of memory, file, sqlite")
	}

	if c.Drafts.MaxAge < time.Hour {
		return fmt.Errorf("drafts.max_age must be at least 1h")
	}
	if c.Drafts.MinContentLength < 0 {
		return fmt.Errorf("drafts.min_content_length must not be negative")
	}
	if c.Drafts.AutosaveInterval < 100*time.Millisecond {
		return fmt.Errorf("drafts.autosave_interval must be at least 100ms")
	}

	if c.Uploads.MaxFileUploadSizeMiB < 0 {
		return fmt.Errorf("uploads.max_file_upload_size_mib must not be negative")
	}
	if c.Uploads.ChunkSize < 5*1024*1024 && c.Uploads.Transport == TransportS3 {
		// S3 rejects non-final multipart parts below 5 MiB.
		return fmt.Errorf("uploads.chunk_size must be at least 5MiB for the s3 transport")
	}
	if c.Uploads.ChunkSize < 1 {
		return fmt.Errorf("uploads.chunk_size must be positive")
	}
	if c.Uploads.MaxConcurrent < 1 {
		return fmt.Errorf("uploads.max_concurrent must be at least 1")
	}

	switch c.Uploads.Transport {
	case TransportTus:
		if strings.TrimSpace(c.Uploads.Tus.Endpoint) == "" {
			return nil // only required once an upload is attempted
		}
		if !strings.HasPrefix(c.Uploads.Tus.Endpoint, "http://") && !strings.HasPrefix(c.Uploads.Tus.Endpoint, "https://") {
			return fmt.Errorf("uploads.tus.endpoint must be an http(s) URL")
		}
	case TransportS3:
		if strings.TrimSpace(c.Uploads.S3.Bucket) == "" {
			return fmt.Errorf("uploads.s3.bucket is required for the s3 transport")
		}
	default:
		return fmt.Errorf("uploads.transport must be one of tus, s3")
	}

	return nil
}

// MaxFileUploadSizeBytes returns the organization limit in bytes.
func (c *Config) MaxFileUploadSizeBytes() int64 {
	return c.Uploads.MaxFileUploadSizeMiB * 1024 * 1024
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Global.DataDir,
		c.Global.ConfigDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// StorePath returns the full key-value store path for the configured backend.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	if c.Store.Backend == StoreBackendFile {
		return filepath.Join(c.Global.DataDir, "store.json")
	}
	return filepath.Join(c.Global.DataDir, "store.db")
}

// NarrowContextPath returns where the current narrow is persisted.
func (c *Config) NarrowContextPath() string {
	return filepath.Join(c.Global.ConfigDir, "narrow.yaml")
}
