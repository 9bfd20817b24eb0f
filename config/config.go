// Package config loads deck-viewer configuration from defaults, an optional YAML file, a
// .env file and DECKVIEW_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the service and the viewer client.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Worker  WorkerConfig  `yaml:"worker"`
	Cleanup CleanupConfig `yaml:"cleanup"`
	Client  ClientConfig  `yaml:"client"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig holds job persistence and file locations.
type StorageConfig struct {
	Driver      string `yaml:"driver"` // file or postgres
	DataDir     string `yaml:"data_dir"`
	UploadDir   string `yaml:"upload_dir"`
	OutputDir   string `yaml:"output_dir"`
	TempDir     string `yaml:"temp_dir"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// WorkerConfig holds conversion worker settings.
type WorkerConfig struct {
	Count          int           `yaml:"count"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	ConvertTimeout time.Duration `yaml:"convert_timeout"`
	Command        string        `yaml:"command"`
}

// CleanupConfig holds retention settings for uploads and outputs.
type CleanupConfig struct {
	Retention time.Duration `yaml:"retention"`
}

// ClientConfig holds viewer settings.
type ClientConfig struct {
	BaseURL        string        `yaml:"base_url"`
	TickInterval   time.Duration `yaml:"tick_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Scale          float64       `yaml:"scale"`
	OutputDir      string        `yaml:"output_dir"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // trace|debug|info|warn|error
	Format string `yaml:"format"` // json|console
}

// Load reads configuration. An empty path skips the YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns a configuration suitable for local use.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
			MaxUploadBytes:  100 << 20,
		},
		Storage: StorageConfig{
			Driver:    "file",
			DataDir:   ".data",
			UploadDir: "uploads",
			OutputDir: "outputs",
			TempDir:   "temp",
		},
		Worker: WorkerConfig{
			Count:          4,
			PollInterval:   5 * time.Second,
			ConvertTimeout: 2 * time.Minute,
			Command:        "soffice",
		},
		Cleanup: CleanupConfig{
			Retention: time.Hour,
		},
		Client: ClientConfig{
			BaseURL:        "http://localhost:8000",
			TickInterval:   500 * time.Millisecond,
			RequestTimeout: 5 * time.Minute,
			Scale:          1.2,
			OutputDir:      ".",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	return validation.Errors{
		"server": validation.ValidateStruct(&c.Server,
			validation.Field(&c.Server.Port, validation.Required, validation.Min(1), validation.Max(65535)),
			validation.Field(&c.Server.MaxUploadBytes, validation.Min(int64(1))),
		),
		"storage": validation.ValidateStruct(&c.Storage,
			validation.Field(&c.Storage.Driver, validation.Required, validation.In("file", "postgres")),
			validation.Field(&c.Storage.UploadDir, validation.Required),
			validation.Field(&c.Storage.OutputDir, validation.Required),
			validation.Field(&c.Storage.TempDir, validation.Required),
			validation.Field(&c.Storage.DataDir, validation.When(c.Storage.Driver == "file", validation.Required)),
			validation.Field(&c.Storage.PostgresDSN, validation.When(c.Storage.Driver == "postgres", validation.Required)),
		),
		"worker": validation.ValidateStruct(&c.Worker,
			validation.Field(&c.Worker.Count, validation.Required, validation.Min(1), validation.Max(64)),
			validation.Field(&c.Worker.PollInterval, validation.Required),
			validation.Field(&c.Worker.ConvertTimeout, validation.Required),
			validation.Field(&c.Worker.Command, validation.Required),
		),
		"client": validation.ValidateStruct(&c.Client,
			validation.Field(&c.Client.BaseURL, validation.Required),
			validation.Field(&c.Client.TickInterval, validation.Required),
			validation.Field(&c.Client.Scale, validation.Required, validation.Min(0.1), validation.Max(8.0)),
		),
		"log": validation.ValidateStruct(&c.Log,
			validation.Field(&c.Log.Level, validation.In("trace", "debug", "info", "warn", "error")),
			validation.Field(&c.Log.Format, validation.In("json", "console")),
		),
	}.Filter()
}

// applyEnvOverrides applies DECKVIEW_* environment variables.
func applyEnvOverrides(cfg *Config) {
	setString("DECKVIEW_HOST", &cfg.Server.Host)
	setInt("DECKVIEW_PORT", &cfg.Server.Port)
	if v := os.Getenv("DECKVIEW_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitList(v)
	}

	setString("DECKVIEW_STORAGE_DRIVER", &cfg.Storage.Driver)
	setString("DECKVIEW_DATA_DIR", &cfg.Storage.DataDir)
	setString("DECKVIEW_UPLOAD_DIR", &cfg.Storage.UploadDir)
	setString("DECKVIEW_OUTPUT_DIR", &cfg.Storage.OutputDir)
	setString("DECKVIEW_TEMP_DIR", &cfg.Storage.TempDir)
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.Driver = "postgres"
		cfg.Storage.PostgresDSN = v
	}

	setInt("DECKVIEW_WORKERS", &cfg.Worker.Count)
	setString("DECKVIEW_CONVERTER", &cfg.Worker.Command)
	setDuration("DECKVIEW_CONVERT_TIMEOUT", &cfg.Worker.ConvertTimeout)
	setDuration("DECKVIEW_RETENTION", &cfg.Cleanup.Retention)

	setString("DECKVIEW_API_URL", &cfg.Client.BaseURL)
	setDuration("DECKVIEW_TICK_INTERVAL", &cfg.Client.TickInterval)

	setString("DECKVIEW_LOG_LEVEL", &cfg.Log.Level)
	setString("DECKVIEW_LOG_FORMAT", &cfg.Log.Format)
}

func setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
