package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
	envFile    string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// SetEnvFile sets a dotenv file to load before reading the environment.
// Defaults to ".env" in the working directory when present.
func (l *Loader) SetEnvFile(path string) {
	l.envFile = path
}

// Load loads configuration with proper precedence:
// defaults < config file < env vars < CLI flags
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := l.loadEnvFile(); err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	l.setupViper(cfg)

	if err := l.loadConfigFile(); err != nil {
		// Config file is optional, only error if explicitly specified
		if l.configFile != "" {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Viper's Unmarshal doesn't properly merge env vars for nested structs.
	l.applyEnvOverrides(cfg)

	expandPaths(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadEnvFile loads KEY=VALUE pairs into the process environment without
// overriding variables that are already set.
func (l *Loader) loadEnvFile() error {
	path := l.envFile
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// expandTilde expands ~ to the user's home directory.
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// expandPaths expands ~ in all path-related config fields.
func expandPaths(cfg *Config) {
	cfg.Global.DataDir = expandTilde(cfg.Global.DataDir)
	cfg.Global.ConfigDir = expandTilde(cfg.Global.ConfigDir)
	cfg.Store.Path = expandTilde(cfg.Store.Path)
	cfg.Logging.File = expandTilde(cfg.Logging.File)
}

// setupViper configures Viper with defaults and environment bindings.
func (l *Loader) setupViper(cfg *Config) {
	v := l.v

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		v.AddConfigPath(filepath.Join(xdgConfig, "fcompose"))
	}

	homeDir, _ := os.UserHomeDir()
	if homeDir != "" {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "fcompose"))
	}

	v.AddConfigPath(".")

	v.SetEnvPrefix("FCOMPOSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	l.setDefaults(cfg)

	bindEnvVars(v)

	v.AutomaticEnv()
}

// setDefaults sets all default values in Viper.
func (l *Loader) setDefaults(cfg *Config) {
	v := l.v

	// Global
	v.SetDefault("global.data_dir", cfg.Global.DataDir)
	v.SetDefault("global.config_dir", cfg.Global.ConfigDir)

	// Store
	v.SetDefault("store.backend", cfg.Store.Backend)
	v.SetDefault("store.path", cfg.Store.Path)
	v.SetDefault("store.busy_timeout_ms", cfg.Store.BusyTimeoutMs)

	// Logging
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.enable_caller", cfg.Logging.EnableCaller)

	// Drafts
	v.SetDefault("drafts.max_age", cfg.Drafts.MaxAge)
	v.SetDefault("drafts.min_content_length", cfg.Drafts.MinContentLength)
	v.SetDefault("drafts.autosave_interval", cfg.Drafts.AutosaveInterval)

	// Uploads
	v.SetDefault("uploads.max_file_upload_size_mib", cfg.Uploads.MaxFileUploadSizeMiB)
	v.SetDefault("uploads.chunk_size", cfg.Uploads.ChunkSize)
	v.SetDefault("uploads.max_concurrent", cfg.Uploads.MaxConcurrent)
	v.SetDefault("uploads.banner_linger", cfg.Uploads.BannerLinger)
	v.SetDefault("uploads.transport", cfg.Uploads.Transport)
	v.SetDefault("uploads.tus.endpoint", cfg.Uploads.Tus.Endpoint)
	v.SetDefault("uploads.tus.timeout", cfg.Uploads.Tus.Timeout)
	v.SetDefault("uploads.s3.bucket", cfg.Uploads.S3.Bucket)
	v.SetDefault("uploads.s3.region", cfg.Uploads.S3.Region)
	v.SetDefault("uploads.s3.prefix", cfg.Uploads.S3.Prefix)
	v.SetDefault("uploads.s3.endpoint", cfg.Uploads.S3.Endpoint)
	v.SetDefault("uploads.s3.public_base_url", cfg.Uploads.S3.PublicBaseURL)
}

// loadConfigFile attempts to load the configuration file.
func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return err
	}

	return nil
}

// ConfigFileUsed returns the config file that was loaded.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Set sets a Viper value by key.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// LoadFromFile loads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	loader := NewLoader()
	loader.SetConfigFile(path)
	return loader.Load()
}

// LoadDefault loads configuration with default search paths.
func LoadDefault() (*Config, error) {
	loader := NewLoader()
	return loader.Load()
}

// bindEnvVars binds environment variables for config keys.
// Viper's Unmarshal has issues with env vars on nested structs unless explicitly bound.
func bindEnvVars(v *viper.Viper) {
	envBindings := []string{
		// Global
		"global.data_dir",
		"global.config_dir",
		// Store
		"store.backend",
		"store.path",
		"store.busy_timeout_ms",
		// Logging
		"logging.level",
		"logging.format",
		"logging.file",
		"logging.enable_caller",
		// Drafts
		"drafts.max_age",
		"drafts.min_content_length",
		"drafts.autosave_interval",
		// Uploads
		"uploads.max_file_upload_size_mib",
		"uploads.chunk_size",
		"uploads.max_concurrent",
		"uploads.banner_linger",
		"uploads.transport",
		"uploads.tus.endpoint",
		"uploads.tus.timeout",
		"uploads.s3.bucket",
		"uploads.s3.region",
		"uploads.s3.prefix",
		"uploads.s3.endpoint",
		"uploads.s3.public_base_url",
	}

	for _, key := range envBindings {
		// database.path -> FCOMPOSE_DATABASE_PATH
		envVar := "FCOMPOSE_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, envVar)
	}
}

// applyEnvOverrides manually applies env var overrides to the config struct.
// Needed because Viper's Unmarshal doesn't properly merge env vars for nested
// struct fields when a config file is present.
func (l *Loader) applyEnvOverrides(cfg *Config) {
	v := l.v

	if dataDir := v.GetString("global.data_dir"); dataDir != "" {
		cfg.Global.DataDir = dataDir
	}
	if configDir := v.GetString("global.config_dir"); configDir != "" {
		cfg.Global.ConfigDir = configDir
	}

	if backend := v.GetString("store.backend"); backend != "" {
		cfg.Store.Backend = backend
	}
	if path := v.GetString("store.path"); path != "" {
		cfg.Store.Path = path
	}

	if level := v.GetString("logging.level"); level != "" && level != "info" { // "info" is default
		cfg.Logging.Level = level
	}
	if format := v.GetString("logging.format"); format != "" && format != "console" { // "console" is default
		cfg.Logging.Format = format
	}
	if file := v.GetString("logging.file"); file != "" {
		cfg.Logging.File = file
	}

	if v.IsSet("uploads.max_file_upload_size_mib") {
		cfg.Uploads.MaxFileUploadSizeMiB = v.GetInt64("uploads.max_file_upload_size_mib")
	}
	if transport := v.GetString("uploads.transport"); transport != "" {
		cfg.Uploads.Transport = transport
	}
	if endpoint := v.GetString("uploads.tus.endpoint"); endpoint != "" {
		cfg.Uploads.Tus.Endpoint = endpoint
	}
	if bucket := v.GetString("uploads.s3.bucket"); bucket != "" {
		cfg.Uploads.S3.Bucket = bucket
	}
}
