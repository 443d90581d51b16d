// Package config provides application configuration loaded from an optional
// YAML file and environment variables. Environment variables win.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	App       AppConfig       `yaml:"app"`
	Email     EmailConfig     `yaml:"email"`
	Queue     QueueConfig     `yaml:"queue"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Storage   StorageConfig   `yaml:"storage"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         string        `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string { return s.Host + ":" + s.Port }

// DatabaseConfig holds connection settings. URL, when set, takes precedence
// over the discrete postgres fields.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // postgres | sqlite
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Path     string `yaml:"path"` // sqlite file
	Debug    bool   `yaml:"debug"`
}

// DSN returns the driver-specific connection string.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		if d.Path == "" {
			return "invoiceflow.db"
		}
		return d.Path
	}
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// MigrateURL returns the postgres connection string in URL format.
func (d DatabaseConfig) MigrateURL() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.DBName,
		RawQuery: "sslmode=" + d.SSLMode,
	}
	return u.String()
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Dev          bool     `yaml:"dev"`
	Migrations   bool     `yaml:"migrations"`
	SecretKey    string   `yaml:"secret_key"`
	BaseURL      string   `yaml:"base_url"`
	AllowedHosts []string `yaml:"allowed_hosts"`
	LogLevel     string   `yaml:"log_level"`
	TemplatesDir string   `yaml:"templates_dir"`
}

// EmailConfig configures the transactional email provider.
type EmailConfig struct {
	APIKey      string        `yaml:"api_key"`
	FromAddress string        `yaml:"from_address"`
	FromName    string        `yaml:"from_name"`
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Enabled reports whether a real provider is configured.
func (e EmailConfig) Enabled() bool { return e.APIKey != "" }

// QueueConfig tunes the email outbox worker.
type QueueConfig struct {
	Workers      int           `yaml:"workers"`
	BatchSize    int           `yaml:"batch_size"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
	BackoffBase  time.Duration `yaml:"backoff_base"`
	BackoffMax   time.Duration `yaml:"backoff_max"`
	LockTimeout  time.Duration `yaml:"lock_timeout"`
}

// SchedulerConfig tunes periodic jobs.
type SchedulerConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// StorageConfig selects where uploaded logos live.
type StorageConfig struct {
	Driver    string `yaml:"driver"` // fs | s3
	Dir       string `yaml:"dir"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PublicURL string `yaml:"public_url"`
}

// Default returns the configuration used for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:  "postgres",
			Host:    "localhost",
			Port:    5432,
			User:    "invoiceflow",
			DBName:  "invoiceflow",
			SSLMode: "disable",
		},
		App: AppConfig{
			Dev:          true,
			BaseURL:      "http://localhost:8080",
			AllowedHosts: []string{"localhost", "127.0.0.1"},
			LogLevel:     "info",
		},
		Email: EmailConfig{
			FromAddress: "invoices@localhost",
			FromName:    "InvoiceFlow",
			BaseURL:     "https://api.sendgrid.com",
			Timeout:     15 * time.Second,
		},
		Queue: QueueConfig{
			Workers:      4,
			BatchSize:    10,
			PollInterval: 2 * time.Second,
			MaxAttempts:  6,
			BackoffBase:  30 * time.Second,
			BackoffMax:   time.Hour,
			LockTimeout:  5 * time.Minute,
		},
		Scheduler: SchedulerConfig{Interval: 15 * time.Minute},
		Storage:   StorageConfig{Driver: "fs", Dir: "uploads"},
	}
}

// Load builds the configuration: defaults, then CONFIG_FILE (YAML) if set,
// then environment variables.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnv("SERVER_PORT", getEnv("PORT", c.Server.Port))
	c.Server.ReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("SERVER_IDLE_TIMEOUT", c.Server.IdleTimeout)

	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvInt("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.DBName = getEnv("DB_NAME", c.Database.DBName)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)
	c.Database.Path = getEnv("DB_PATH", c.Database.Path)
	c.Database.Debug = getEnvBool("DB_DEBUG", c.Database.Debug)
	if strings.HasPrefix(c.Database.URL, "sqlite://") {
		c.Database.Driver = "sqlite"
		c.Database.Path = strings.TrimPrefix(c.Database.URL, "sqlite://")
		c.Database.URL = ""
	}

	c.App.Dev = getEnvBool("DEV", c.App.Dev)
	c.App.Migrations = getEnvBool("MIGRATIONS", c.App.Migrations)
	c.App.SecretKey = getEnv("SECRET_KEY", getEnv("SESSION_SECRET", c.App.SecretKey))
	c.App.BaseURL = strings.TrimRight(getEnv("BASE_URL", c.App.BaseURL), "/")
	c.App.AllowedHosts = getEnvList("ALLOWED_HOSTS", c.App.AllowedHosts)
	c.App.LogLevel = getEnv("LOG_LEVEL", c.App.LogLevel)
	c.App.TemplatesDir = getEnv("TEMPLATES_DIR", c.App.TemplatesDir)

	c.Email.APIKey = getEnv("SENDGRID_API_KEY", c.Email.APIKey)
	c.Email.FromAddress = getEnv("DEFAULT_FROM_EMAIL", c.Email.FromAddress)
	c.Email.FromName = getEnv("DEFAULT_FROM_NAME", c.Email.FromName)
	c.Email.BaseURL = getEnv("SENDGRID_BASE_URL", c.Email.BaseURL)
	c.Email.Timeout = getEnvDuration("EMAIL_TIMEOUT", c.Email.Timeout)

	c.Queue.Workers = getEnvInt("QUEUE_WORKERS", c.Queue.Workers)
	c.Queue.BatchSize = getEnvInt("QUEUE_BATCH_SIZE", c.Queue.BatchSize)
	c.Queue.PollInterval = getEnvDuration("QUEUE_POLL_INTERVAL", c.Queue.PollInterval)
	c.Queue.MaxAttempts = getEnvInt("QUEUE_MAX_ATTEMPTS", c.Queue.MaxAttempts)
	c.Queue.BackoffBase = getEnvDuration("QUEUE_BACKOFF_BASE", c.Queue.BackoffBase)
	c.Queue.BackoffMax = getEnvDuration("QUEUE_BACKOFF_MAX", c.Queue.BackoffMax)
	c.Queue.LockTimeout = getEnvDuration("QUEUE_LOCK_TIMEOUT", c.Queue.LockTimeout)

	c.Scheduler.Interval = getEnvDuration("SCHEDULER_INTERVAL", c.Scheduler.Interval)

	c.Storage.Driver = getEnv("STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.Dir = getEnv("UPLOAD_DIR", c.Storage.Dir)
	c.Storage.Bucket = getEnv("S3_BUCKET", c.Storage.Bucket)
	c.Storage.Region = getEnv("S3_REGION", c.Storage.Region)
	c.Storage.Endpoint = getEnv("S3_ENDPOINT", c.Storage.Endpoint)
	c.Storage.PublicURL = getEnv("S3_PUBLIC_URL", c.Storage.PublicURL)
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}
	if !c.App.Dev && c.App.SecretKey == "" {
		errs = append(errs, errors.New("SECRET_KEY is required outside dev mode"))
	}
	if !c.App.Dev && len(c.App.SecretKey) > 0 && len(c.App.SecretKey) < 32 {
		errs = append(errs, errors.New("SECRET_KEY must be at least 32 characters"))
	}
	if c.Email.Enabled() && c.Email.FromAddress == "" {
		errs = append(errs, errors.New("DEFAULT_FROM_EMAIL is required when SENDGRID_API_KEY is set"))
	}
	switch c.Storage.Driver {
	case "fs":
		if c.Storage.Dir == "" {
			errs = append(errs, errors.New("UPLOAD_DIR is required for fs storage"))
		}
	case "s3":
		if c.Storage.Bucket == "" || c.Storage.Region == "" {
			errs = append(errs, errors.New("S3_BUCKET and S3_REGION are required for s3 storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	if c.Queue.Workers < 1 {
		errs = append(errs, errors.New("QUEUE_WORKERS must be at least 1"))
	}
	if c.Queue.MaxAttempts < 1 {
		errs = append(errs, errors.New("QUEUE_MAX_ATTEMPTS must be at least 1"))
	}
	if c.Queue.PollInterval <= 0 || c.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("poll and scheduler intervals must be positive"))
	}
	return errors.Join(errs...)
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvBool accepts "1", "true", "yes" as true; any other non-empty value is false.
func getEnvBool(key string, defaultValue bool) bool {
	value := strings.ToLower(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value == "1" || value == "true" || value == "yes"
}

// getEnvDuration parses Go durations ("30s") or plain seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// getEnvList splits a comma separated value.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
