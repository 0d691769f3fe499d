package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/bassista/go_reel/internal/logger"
)

// Config is the full application configuration for both the foreground service
// and the cache worker.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Store   StoreConfig   `mapstructure:"store"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`
	Channel ChannelConfig `mapstructure:"channel"`
	Data    DataConfig    `mapstructure:"data"`
	Misc    MiscConfig    `mapstructure:"misc"`
}

// ServerConfig holds the listener settings of the two HTTP servers.
type ServerConfig struct {
	Port               int           `mapstructure:"port"`
	WorkerPort         int           `mapstructure:"worker_port"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	IdleTimeout        time.Duration `mapstructure:"idle_timeout"`
	ShutDownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	CORSAllowedOrigins string        `mapstructure:"cors_allowed_origins"`
	UIDir              string        `mapstructure:"ui_dir"`
}

// WorkerConfig describes the cache worker: its origin, the generation of the
// stores it owns and how intercepted requests are classified.
type WorkerConfig struct {
	Origin               string        `mapstructure:"origin"`
	Generation           string        `mapstructure:"generation"`
	CachePrefix          string        `mapstructure:"cache_prefix"`
	ShellURLs            []string      `mapstructure:"shell_urls"`
	EntryPoints          []string      `mapstructure:"entry_points"`
	ImageHosts           []string      `mapstructure:"image_hosts"`
	DocumentStoreHosts   []string      `mapstructure:"document_store_hosts"`
	FetchTimeout         time.Duration `mapstructure:"fetch_timeout"`
	Capabilities         string        `mapstructure:"capabilities"`
	PeriodicSyncInterval time.Duration `mapstructure:"periodic_sync_interval"`
	TaskPoll             time.Duration `mapstructure:"task_poll"`
	AutoInstall          bool          `mapstructure:"auto_install"`
}

// StoreConfig selects the asset store backend.
type StoreConfig struct {
	Backend       string `mapstructure:"backend"`
	Path          string `mapstructure:"path"`
	QuotaBytes    int64  `mapstructure:"quota_bytes"`
	MaxEntryBytes int64  `mapstructure:"max_entry_bytes"`
	HotEntries    int    `mapstructure:"hot_entries"`
}

// LedgerConfig holds the storage-economy constants of the download ledger.
type LedgerConfig struct {
	AutoDeleteThreshold float64       `mapstructure:"auto_delete_threshold"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval"`
	GoodMultiplier      float64       `mapstructure:"good_multiplier"`
	BetterMultiplier    float64       `mapstructure:"better_multiplier"`
	BestMultiplier      float64       `mapstructure:"best_multiplier"`
	FallbackSizeGB      float64       `mapstructure:"fallback_size_gb"`
}

// ChannelConfig controls delivery of commands from the foreground to the worker.
// An empty WorkerURL means the worker runs in-process.
type ChannelConfig struct {
	WorkerURL     string        `mapstructure:"worker_url"`
	MaxRetry      int           `mapstructure:"max_retry"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

// DataConfig points at the persisted foreground document.
type DataConfig struct {
	FilePath        string        `mapstructure:"file_path"`
	PersistInterval time.Duration `mapstructure:"persist_interval"`
}

// MiscConfig holds process-wide knobs.
type MiscConfig struct {
	LogLevel string `mapstructure:"log_level"`
	GinMode  string `mapstructure:"gin_mode"`
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.worker_port", 8081)
	viper.SetDefault("server.read_timeout", 10*time.Second)
	viper.SetDefault("server.write_timeout", 0)
	viper.SetDefault("server.idle_timeout", 120*time.Second)
	viper.SetDefault("server.shutdown_timeout", 5*time.Second)
	viper.SetDefault("server.request_timeout", 2*time.Second)
	viper.SetDefault("server.cors_allowed_origins", "*")
	viper.SetDefault("server.ui_dir", "./ui")

	viper.SetDefault("worker.origin", "http://localhost:8080")
	viper.SetDefault("worker.generation", "v1")
	viper.SetDefault("worker.cache_prefix", "reel")
	viper.SetDefault("worker.shell_urls", []string{"/", "/index.html"})
	viper.SetDefault("worker.entry_points", []string{"/index.html", "/"})
	viper.SetDefault("worker.image_hosts", []string{"picsum.photos"})
	viper.SetDefault("worker.document_store_hosts", []string{"firestore.googleapis.com"})
	viper.SetDefault("worker.fetch_timeout", 0)
	viper.SetDefault("worker.capabilities", "scheduler")
	viper.SetDefault("worker.periodic_sync_interval", 24*time.Hour)
	viper.SetDefault("worker.task_poll", 30*time.Second)
	viper.SetDefault("worker.auto_install", true)

	viper.SetDefault("store.backend", "bolt")
	viper.SetDefault("store.path", "./config/data/assets.db")
	viper.SetDefault("store.quota_bytes", int64(0))
	viper.SetDefault("store.max_entry_bytes", int64(0))
	viper.SetDefault("store.hot_entries", 256)

	viper.SetDefault("ledger.auto_delete_threshold", 95.0)
	viper.SetDefault("ledger.sweep_interval", time.Minute)
	viper.SetDefault("ledger.good_multiplier", 0.5)
	viper.SetDefault("ledger.better_multiplier", 1.0)
	viper.SetDefault("ledger.best_multiplier", 1.8)
	viper.SetDefault("ledger.fallback_size_gb", 0.45)

	viper.SetDefault("channel.worker_url", "")
	viper.SetDefault("channel.max_retry", 3)
	viper.SetDefault("channel.retry_interval", 500*time.Millisecond)
	viper.SetDefault("channel.check_interval", 5*time.Second)

	viper.SetDefault("data.file_path", "./config/data/reel.json")
	viper.SetDefault("data.persist_interval", 5*time.Second)

	viper.SetDefault("misc.log_level", "info")
	viper.SetDefault("misc.gin_mode", "release")
}

// LoadConfig reads .env, config.yaml and GO_REEL_* environment variables,
// in increasing order of precedence, and validates the result.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WithComponent("config").Warnf("cannot load .env file: %v", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(getEnvOrDefault("GO_REEL_CONFIG_PATH", "./config"))
	viper.AddConfigPath(".")

	setDefaults()

	// Environment variables like GO_REEL_SERVER_PORT override server.port
	viper.SetEnvPrefix("GO_REEL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config file error: %w", err)
		}
		logger.WithComponent("config").Info("no config file found, using defaults and env vars")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// PORT is honoured for container platforms that inject it.
	port, err := getEnvOrViperPort("PORT", "server.port")
	if err != nil {
		return nil, err
	}
	cfg.Server.Port = port

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if err := validatePort("server.port", c.Server.Port); err != nil {
		return err
	}
	if err := validatePort("server.worker_port", c.Server.WorkerPort); err != nil {
		return err
	}
	if c.Server.Port == c.Server.WorkerPort {
		return fmt.Errorf("server.port and server.worker_port must differ (both %d)", c.Server.Port)
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.IdleTimeout < 0 {
		return errors.New("server timeouts must not be negative")
	}
	if c.Server.ShutDownTimeout <= 0 {
		return errors.New("server.shutdown_timeout must be positive")
	}
	if c.Server.RequestTimeout <= 0 {
		return errors.New("server.request_timeout must be positive")
	}

	origin, err := url.Parse(c.Worker.Origin)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return fmt.Errorf("worker.origin must be an absolute URL, got %q", c.Worker.Origin)
	}
	if c.Worker.Generation == "" || strings.Contains(c.Worker.Generation, "-") {
		return fmt.Errorf("worker.generation must be non-empty and contain no '-', got %q", c.Worker.Generation)
	}
	if c.Worker.CachePrefix == "" {
		return errors.New("worker.cache_prefix is required")
	}
	if len(c.Worker.ShellURLs) == 0 {
		return errors.New("worker.shell_urls must list at least one URL")
	}
	switch c.Worker.Capabilities {
	case "scheduler", "none":
	default:
		return fmt.Errorf("worker.capabilities must be 'scheduler' or 'none', got %q", c.Worker.Capabilities)
	}
	if c.Worker.FetchTimeout < 0 {
		return errors.New("worker.fetch_timeout must not be negative")
	}
	if c.Worker.Capabilities == "scheduler" && (c.Worker.TaskPoll <= 0 || c.Worker.PeriodicSyncInterval <= 0) {
		return errors.New("worker.task_poll and worker.periodic_sync_interval must be positive")
	}

	switch c.Store.Backend {
	case "bolt", "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for backend %q", c.Store.Backend)
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	if c.Store.QuotaBytes < 0 || c.Store.MaxEntryBytes < 0 {
		return errors.New("store quotas must not be negative")
	}

	if c.Ledger.AutoDeleteThreshold <= 0 || c.Ledger.AutoDeleteThreshold > 100 {
		return fmt.Errorf("ledger.auto_delete_threshold must be in (0, 100], got %v", c.Ledger.AutoDeleteThreshold)
	}
	if c.Ledger.SweepInterval <= 0 {
		return errors.New("ledger.sweep_interval must be positive")
	}
	if c.Ledger.GoodMultiplier <= 0 || c.Ledger.BetterMultiplier <= 0 || c.Ledger.BestMultiplier <= 0 {
		return errors.New("ledger quality multipliers must be positive")
	}
	if c.Ledger.FallbackSizeGB < 0 {
		return errors.New("ledger.fallback_size_gb must not be negative")
	}

	if c.Channel.MaxRetry < 0 {
		return errors.New("channel.max_retry must not be negative")
	}
	if c.Channel.RetryInterval <= 0 {
		return errors.New("channel.retry_interval must be positive")
	}
	if c.Channel.WorkerURL != "" && c.Channel.CheckInterval <= 0 {
		return errors.New("channel.check_interval must be positive when channel.worker_url is set")
	}

	if c.Data.FilePath == "" {
		return errors.New("data.file_path is required")
	}
	if c.Data.PersistInterval <= 0 {
		return errors.New("data.persist_interval must be positive")
	}
	return nil
}

func validatePort(name string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%s must be in 1..65535, got %d", name, port)
	}
	return nil
}

// OriginURL returns the parsed worker origin. validate guarantees it parses.
func (c *Config) OriginURL() *url.URL {
	u, _ := url.Parse(c.Worker.Origin)
	return u
}

func getEnvOrDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvOrViperPort(envKey, viperKey string) (int, error) {
	if v := os.Getenv(envKey); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s value %q: %w", envKey, v, err)
		}
		return port, nil
	}
	return viper.GetInt(viperKey), nil
}
