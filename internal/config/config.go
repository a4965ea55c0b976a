// Package config loads fieldsync settings. FIELDSYNC_* environment variables override the
// YAML config file, which overrides the built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in the data and user config directories.
const FileName = "fieldsync.yaml"

// EnvPrefix prefixes every environment override, e.g. FIELDSYNC_SYNC_DRAIN_INTERVAL.
const EnvPrefix = "FIELDSYNC"

// Config is the typed view of all settings.
type Config struct {
	DataDir string        `mapstructure:"data_dir"`
	Device  DeviceConfig  `mapstructure:"device"`
	Log     LogConfig     `mapstructure:"log"`
	Remote  RemoteConfig  `mapstructure:"remote"`
	Storage StorageConfig `mapstructure:"storage"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Expense ExpenseConfig `mapstructure:"expense"`
	Time    TimeConfig    `mapstructure:"time"`
	Photo   PhotoConfig   `mapstructure:"photo"`
	Server  ServerConfig  `mapstructure:"server"`
}

// DeviceConfig identifies this device and the person using it.
type DeviceConfig struct {
	ID      string `mapstructure:"id"`
	OwnerID string `mapstructure:"owner_id"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// RemoteConfig points at the REST backend. An empty BaseURL runs against an in-memory
// backend.
type RemoteConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// StorageConfig selects the photo object store. An empty Provider keeps uploads in memory.
type StorageConfig struct {
	Provider      string `mapstructure:"provider"`
	Bucket        string `mapstructure:"bucket"`
	Region        string `mapstructure:"region"`
	Endpoint      string `mapstructure:"endpoint"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	AccountID     string `mapstructure:"account_id"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	UseSSL        bool   `mapstructure:"use_ssl"`
}

// SyncConfig controls the background drain.
type SyncConfig struct {
	AutoDrain        bool          `mapstructure:"auto_drain"`
	DrainInterval    time.Duration `mapstructure:"drain_interval"`
	PhotoInterval    time.Duration `mapstructure:"photo_interval"`
	DrainOnReconnect bool          `mapstructure:"drain_on_reconnect"`
	MaxRetries       int           `mapstructure:"max_retries"`
	BackoffBase      time.Duration `mapstructure:"backoff_base"`
	BackoffMax       time.Duration `mapstructure:"backoff_max"`
	ProbeURL         string        `mapstructure:"probe_url"`
	ProbeInterval    time.Duration `mapstructure:"probe_interval"`
}

// ExpenseConfig holds the reimbursement thresholds.
type ExpenseConfig struct {
	MileageRate              float64 `mapstructure:"mileage_rate"`
	ReceiptRequiredThreshold float64 `mapstructure:"receipt_required_threshold"`
	AutoApproveThreshold     float64 `mapstructure:"auto_approve_threshold"`
}

// TimeConfig holds time entry limits.
type TimeConfig struct {
	MaxEntryHours int `mapstructure:"max_entry_hours"`
}

// PhotoConfig holds photo capture limits.
type PhotoConfig struct {
	MaxSizeMB             int  `mapstructure:"max_size_mb"`
	RequireGPS            bool `mapstructure:"require_gps"`
	ThumbnailMaxDimension int  `mapstructure:"thumbnail_max_dimension"`
	ThumbnailQuality      int  `mapstructure:"thumbnail_quality"`
}

// ServerConfig is the daemon control API.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// secretKeys are masked by Dump.
var secretKeys = []string{"remote.api_key", "storage.access_key", "storage.secret_key"}

// DefaultDataDir returns ~/.fieldsync, or ./.fieldsync when there is no home directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fieldsync"
	}
	return filepath.Join(home, ".fieldsync")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("device.id", "")
	v.SetDefault("device.owner_id", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 28)

	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.api_key", "")
	v.SetDefault("remote.timeout", "30s")

	v.SetDefault("storage.provider", "")
	v.SetDefault("storage.bucket", "assessment-photos")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.account_id", "")
	v.SetDefault("storage.public_base_url", "")
	v.SetDefault("storage.use_ssl", true)

	v.SetDefault("sync.auto_drain", true)
	v.SetDefault("sync.drain_interval", "5m")
	v.SetDefault("sync.photo_interval", "2m")
	v.SetDefault("sync.drain_on_reconnect", true)
	v.SetDefault("sync.max_retries", 5)
	v.SetDefault("sync.backoff_base", "1m")
	v.SetDefault("sync.backoff_max", "1h")
	v.SetDefault("sync.probe_url", "")
	v.SetDefault("sync.probe_interval", "30s")

	v.SetDefault("expense.mileage_rate", 0.655)
	v.SetDefault("expense.receipt_required_threshold", 25.0)
	v.SetDefault("expense.auto_approve_threshold", 75.0)

	v.SetDefault("time.max_entry_hours", 12)

	v.SetDefault("photo.max_size_mb", 10)
	v.SetDefault("photo.require_gps", false)
	v.SetDefault("photo.thumbnail_max_dimension", 360)
	v.SetDefault("photo.thumbnail_quality", 78)

	v.SetDefault("server.addr", "127.0.0.1:8787")
}

// Loader reads and watches the configuration.
type Loader struct {
	mu sync.Mutex
	v  *viper.Viper
}

// NewLoader locates the config file and prepares env overrides.
// Precedence for the file: explicit path > <dataDir>/fieldsync.yaml > ~/.config/fieldsync/fieldsync.yaml.
// A missing explicit path is an error; missing default files are not.
func NewLoader(path, dataDir string) (*Loader, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if dataDir != "" {
		v.Set("data_dir", dataDir)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		v.SetConfigFile(path)
	} else if found := locate(v.GetString("data_dir")); found != "" {
		v.SetConfigFile(found)
	}

	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", v.ConfigFileUsed(), err)
		}
	}
	return &Loader{v: v}, nil
}

func locate(dataDir string) string {
	candidates := []string{filepath.Join(dataDir, FileName)}
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "fieldsync", FileName))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// Load builds and validates the typed configuration.
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Set overrides a key, e.g. from a command line flag.
func (l *Loader) Set(key string, value interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.v.Set(key, value)
}

// FileUsed returns the config file path, or "" when running on defaults.
func (l *Loader) FileUsed() string {
	return l.v.ConfigFileUsed()
}

// Watch calls fn with the reloaded configuration whenever the config file changes.
// Invalid edits are reported to onError and otherwise ignored. Without a config file Watch
// does nothing.
func (l *Loader) Watch(fn func(*Config), onError func(error)) {
	if l.FileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.Load()
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		fn(cfg)
	})
	l.v.WatchConfig()
}

// Dump renders the effective settings as YAML with secrets masked.
func (l *Loader) Dump() ([]byte, error) {
	l.mu.Lock()
	settings := l.v.AllSettings()
	l.mu.Unlock()

	for _, key := range secretKeys {
		parts := strings.SplitN(key, ".", 2)
		section, ok := settings[parts[0]].(map[string]interface{})
		if !ok {
			continue
		}
		if s, _ := section[parts[1]].(string); s != "" {
			section[parts[1]] = "********"
		}
	}
	return yaml.Marshal(settings)
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir must be set")
	}
	if c.Sync.DrainInterval <= 0 || c.Sync.PhotoInterval <= 0 {
		return fmt.Errorf("sync intervals must be positive")
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync.max_retries cannot be negative")
	}
	if c.Sync.BackoffBase <= 0 || c.Sync.BackoffMax < c.Sync.BackoffBase {
		return fmt.Errorf("sync.backoff_max must be at least sync.backoff_base")
	}
	if c.Photo.ThumbnailQuality < 1 || c.Photo.ThumbnailQuality > 100 {
		return fmt.Errorf("photo.thumbnail_quality must be between 1 and 100")
	}
	if c.Time.MaxEntryHours <= 0 {
		return fmt.Errorf("time.max_entry_hours must be positive")
	}
	return nil
}
