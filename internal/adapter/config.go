package adapter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// BackendType identifies the record store backend
type BackendType string

const (
	BackendTypeREST  BackendType = "rest"
	BackendTypeLocal BackendType = "local"
)

// Config holds all application configuration
type Config struct {
	Backend   BackendConfig   `mapstructure:"backend"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Loader    LoaderConfig    `mapstructure:"loader"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Player    PlayerConfig    `mapstructure:"player"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// BackendConfig holds backend connection settings
type BackendConfig struct {
	Type        BackendType `mapstructure:"type"`         // "rest" or "local"
	URL         string      `mapstructure:"url"`          // Project URL (rest only)
	AnonKey     string      `mapstructure:"anon_key"`     // Public API key (rest only)
	AccessToken string      `mapstructure:"access_token"` // Set by sign-in
	UserID      string      `mapstructure:"user_id"`      // Set by sign-in, or fixed for local
	Email       string      `mapstructure:"email"`        // Display only
	LocalPath   string      `mapstructure:"local_path"`   // SQLite file (local only)
}

// CacheConfig holds video cache settings
type CacheConfig struct {
	Dir       string `mapstructure:"dir"` // Empty = memory only
	MaxBytes  int64  `mapstructure:"max_bytes"`
	Namespace string `mapstructure:"namespace"`
}

// LoaderConfig holds progressive loader settings
type LoaderConfig struct {
	PartialBytes int64         `mapstructure:"partial_bytes"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// RateLimitConfig holds per-user action limits
type RateLimitConfig struct {
	PerMinute int `mapstructure:"per_minute"`
	Burst     int `mapstructure:"burst"`
}

// PlayerConfig holds media player configuration
type PlayerConfig struct {
	Command   string   `mapstructure:"command"`
	Args      []string `mapstructure:"args"`
	StartFlag string   `mapstructure:"start_flag"` // e.g., "--start=" or "--start-time="
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File       string `mapstructure:"file"`
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			Type:      BackendTypeREST,
			LocalPath: filepath.Join(defaultDataPath(), "reelcast.db"),
		},
		Cache: CacheConfig{
			Dir:      defaultCachePath(),
			MaxBytes: 512 << 20,
		},
		Loader: LoaderConfig{
			PartialBytes: 3145728,
			FetchTimeout: 30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			PerMinute: 10,
			Burst:     5,
		},
		Player: PlayerConfig{
			Command: "mpv",
			Args:    []string{},
		},
		Logging: LoggingConfig{
			File:       filepath.Join(defaultDataPath(), "reelcast.log"),
			Level:      "INFO",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// defaultDataPath returns the directory for logs and the local database
func defaultDataPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "reelcast")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "reelcast")
	}
}

// defaultConfigPath returns the default config directory for the current OS
func defaultConfigPath() string {
	if dir := os.Getenv("REELCAST_CONFIG_DIR"); dir != "" {
		return dir
	}
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "reelcast")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "reelcast")
	}
}

// defaultCachePath returns the default cache directory path for the current OS
func defaultCachePath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "reelcast", "cache")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".cache", "reelcast")
	}
}

// newViper returns a viper instance reading config.yaml from dir and REELCAST_* env vars
func newViper(dir string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.AddConfigPath(".")

	// REELCAST_BACKEND_URL overrides backend.url
	v.SetEnvPrefix("REELCAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// setDefaults registers every key so env overrides reach Unmarshal
func setDefaults(v *viper.Viper, cfg *Config) {
	for key, value := range configValues(cfg) {
		v.SetDefault(key, value)
	}
}

// configValues flattens cfg into viper keys (snake_case)
func configValues(cfg *Config) map[string]any {
	return map[string]any{
		"backend.type":         string(cfg.Backend.Type),
		"backend.url":          cfg.Backend.URL,
		"backend.anon_key":     cfg.Backend.AnonKey,
		"backend.access_token": cfg.Backend.AccessToken,
		"backend.user_id":      cfg.Backend.UserID,
		"backend.email":        cfg.Backend.Email,
		"backend.local_path":   cfg.Backend.LocalPath,

		"cache.dir":       cfg.Cache.Dir,
		"cache.max_bytes": cfg.Cache.MaxBytes,
		"cache.namespace": cfg.Cache.Namespace,

		"loader.partial_bytes": cfg.Loader.PartialBytes,
		"loader.fetch_timeout": cfg.Loader.FetchTimeout.String(),

		"ratelimit.per_minute": cfg.RateLimit.PerMinute,
		"ratelimit.burst":      cfg.RateLimit.Burst,

		"player.command":    cfg.Player.Command,
		"player.args":       cfg.Player.Args,
		"player.start_flag": cfg.Player.StartFlag,

		"logging.file":         cfg.Logging.File,
		"logging.level":        cfg.Logging.Level,
		"logging.max_size_mb":  cfg.Logging.MaxSizeMB,
		"logging.max_backups":  cfg.Logging.MaxBackups,
		"logging.max_age_days": cfg.Logging.MaxAgeDays,
		"logging.compress":     cfg.Logging.Compress,
	}
}

// LoadConfig loads configuration from file and environment
func LoadConfig() (*Config, error) {
	return loadConfigFrom(defaultConfigPath())
}

func loadConfigFrom(dir string) (*Config, error) {
	cfg := DefaultConfig()

	v := newViper(dir)
	setDefaults(v, cfg)

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to file
func SaveConfig(cfg *Config) error {
	return saveConfigTo(defaultConfigPath(), cfg)
}

func saveConfigTo(dir string, cfg *Config) error {
	v := viper.New()
	for key, value := range configValues(cfg) {
		v.Set(key, value)
	}
	return writeConfig(v, dir)
}

func writeConfig(v *viper.Viper, dir string) error {
	// Ensure config directory exists
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := filepath.Join(dir, "config.yaml")
	if err := v.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	// Holds an access token
	if err := os.Chmod(configFile, 0600); err != nil {
		return fmt.Errorf("failed to restrict config file: %w", err)
	}
	return nil
}

// SaveToken stores the signed-in session, keeping every other setting in the file
func SaveToken(token, userID, email string) error {
	return updateConfig(defaultConfigPath(), func(cfg *Config) {
		cfg.Backend.AccessToken = token
		cfg.Backend.UserID = userID
		cfg.Backend.Email = email
	})
}

// ClearSession removes the stored credentials while preserving other settings
func ClearSession() error {
	return updateConfig(defaultConfigPath(), func(cfg *Config) {
		cfg.Backend.AccessToken = ""
		cfg.Backend.UserID = ""
		cfg.Backend.Email = ""
	})
}

func updateConfig(dir string, fn func(*Config)) error {
	cfg, err := loadConfigFrom(dir)
	if err != nil {
		return err
	}
	fn(cfg)
	return saveConfigTo(dir, cfg)
}

// IsConfigured returns true if the selected backend has what it needs to connect
func (c *Config) IsConfigured() bool {
	switch c.Backend.Type {
	case BackendTypeLocal:
		return true
	case BackendTypeREST:
		return c.Backend.URL != "" && c.Backend.AnonKey != ""
	default:
		return false
	}
}

// SignedIn returns true if a session is stored
func (c *Config) SignedIn() bool {
	if c.Backend.Type == BackendTypeLocal {
		return c.Backend.UserID != ""
	}
	return c.Backend.AccessToken != "" && c.Backend.UserID != ""
}

// CacheNamespace separates caches of different backends sharing one directory
func (c *Config) CacheNamespace() string {
	if c.Cache.Namespace != "" {
		return c.Cache.Namespace
	}
	if c.Backend.Type == BackendTypeLocal {
		return string(BackendTypeLocal)
	}
	return c.Backend.URL
}
