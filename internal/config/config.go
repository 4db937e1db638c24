package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Disconnect policies for streaming downloads.
const (
	// OnDisconnectTerminate kills the extractor when the client goes away.
	OnDisconnectTerminate = "terminate"
	// OnDisconnectFinish keeps the extractor running until the disk copy is complete.
	OnDisconnectFinish = "finish"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Download  DownloadConfig  `yaml:"download"`
	Worker    WorkerConfig    `yaml:"worker"`
	Events    EventsConfig    `yaml:"events"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `yaml:"host" envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port         int           `yaml:"port" envconfig:"PORT" default:"5000"`
	APIKey       string        `yaml:"api_key" envconfig:"API_KEY"`
	CORSOrigins  []string      `yaml:"cors_origins" envconfig:"SERVER_CORS_ORIGINS" default:"*"`
	ReadTimeout  time.Duration `yaml:"read_timeout" envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT" default:"5m"`
}

// StorageConfig holds download storage configuration.
type StorageConfig struct {
	DownloadPath string `yaml:"download_path" envconfig:"STORAGE_PATH" default:"./downloads"`
	MinFreeBytes int64  `yaml:"min_free_bytes" envconfig:"STORAGE_MIN_FREE_BYTES" default:"0"`
}

// ExtractorConfig locates the extractor binary and its optional cookie file.
type ExtractorConfig struct {
	BaseDir        string        `yaml:"base_dir" envconfig:"EXTRACTOR_BASE_DIR" default:"."`
	Binary         string        `yaml:"binary" envconfig:"EXTRACTOR_BINARY"`
	CookiesFile    string        `yaml:"cookies_file" envconfig:"EXTRACTOR_COOKIES_FILE" default:"cookies.txt"`
	ResolveTimeout time.Duration `yaml:"resolve_timeout" envconfig:"EXTRACTOR_RESOLVE_TIMEOUT" default:"2m"`
}

// DownloadConfig controls streaming downloads.
type DownloadConfig struct {
	DefaultFormat string `yaml:"default_format" envconfig:"DOWNLOAD_DEFAULT_FORMAT" default:"best"`
	MergeFormat   string `yaml:"merge_format" envconfig:"DOWNLOAD_MERGE_FORMAT" default:"mp4"`
	OnDisconnect  string `yaml:"on_disconnect" envconfig:"DOWNLOAD_ON_DISCONNECT" default:"terminate"`

	// ClientWriteTimeout bounds a single write to a stalled client. Zero disables it.
	ClientWriteTimeout time.Duration `yaml:"client_write_timeout" envconfig:"DOWNLOAD_CLIENT_WRITE_TIMEOUT" default:"1m"`
}

// WorkerConfig bounds how many extractor processes may run at once.
type WorkerConfig struct {
	MaxProcesses   int           `yaml:"max_processes" envconfig:"WORKER_MAX_PROCESSES" default:"4"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout" envconfig:"WORKER_ACQUIRE_TIMEOUT" default:"30s"`
}

// EventsConfig holds activity log configuration.
type EventsConfig struct {
	BufferSize int           `yaml:"buffer_size" envconfig:"EVENTS_BUFFER_SIZE" default:"500"`
	SQLitePath string        `yaml:"sqlite_path" envconfig:"EVENTS_SQLITE_PATH"`
	Retention  time.Duration `yaml:"retention" envconfig:"EVENTS_RETENTION" default:"720h"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `yaml:"level" envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Storage.DownloadPath == "" {
		return fmt.Errorf("STORAGE_PATH is required")
	}
	if c.Extractor.BaseDir == "" {
		return fmt.Errorf("EXTRACTOR_BASE_DIR is required")
	}
	if c.Download.MergeFormat == "" {
		return fmt.Errorf("DOWNLOAD_MERGE_FORMAT is required")
	}
	switch c.Download.OnDisconnect {
	case OnDisconnectTerminate, OnDisconnectFinish:
	default:
		return fmt.Errorf("DOWNLOAD_ON_DISCONNECT must be %q or %q, got %q",
			OnDisconnectTerminate, OnDisconnectFinish, c.Download.OnDisconnect)
	}
	if c.Worker.MaxProcesses <= 0 {
		return fmt.Errorf("WORKER_MAX_PROCESSES must be positive")
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KeepOnDisconnect reports whether downloads outlive their client.
func (c *DownloadConfig) KeepOnDisconnect() bool {
	return c.OnDisconnect == OnDisconnectFinish
}

// SlogLevel parses the configured level name.
func (c *LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	name := strings.TrimSpace(c.Level)
	if name == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return lvl, nil
}
