package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"jms/internal/logger"
)

const (
	ImportBestEffort   = "best-effort"
	ImportAllOrNothing = "all-or-nothing"
)

type Config struct {
	DataDir           string        `yaml:"data_dir"`
	DatabasePath      string        `yaml:"database_path"`
	BackupDir         string        `yaml:"backup_dir"`
	ExportDir         string        `yaml:"export_dir"`
	BusyTimeout       time.Duration `yaml:"busy_timeout"`
	BarcodeStart      int64         `yaml:"barcode_start"`
	ImportPolicy      string        `yaml:"import_policy"`
	LowStockThreshold int           `yaml:"low_stock_threshold"`

	Port           string  `yaml:"port"`
	Environment    string  `yaml:"environment"`
	AllowedOrigins string  `yaml:"allowed_origins"`
	RateLimit      float64 `yaml:"rate_limit"` // requests per second per client
	RateBurst      int     `yaml:"rate_burst"`

	MailgunDomain  string `yaml:"mailgun_domain"`
	MailgunAPIKey  string `yaml:"mailgun_api_key"`
	MailgunFrom    string `yaml:"mailgun_from"`
	AlertRecipient string `yaml:"alert_recipient"`

	Logger  logger.Config `yaml:"logger"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type MetricsConfig struct {
	Enabled   bool      `yaml:"enabled"`
	Namespace string    `yaml:"namespace"`
	Buckets   []float64 `yaml:"buckets"`
}

func defaults() *Config {
	dataDir := "data"
	return &Config{
		DataDir:           dataDir,
		DatabasePath:      filepath.Join(dataDir, "jewelry.db"),
		BackupDir:         "backups",
		ExportDir:         "exports",
		BusyTimeout:       30 * time.Second,
		BarcodeStart:      1000000,
		ImportPolicy:      ImportBestEffort,
		LowStockThreshold: 5,
		Port:              "8080",
		Environment:       "production",
		AllowedOrigins:    "http://localhost:8080",
		RateLimit:         10,
		RateBurst:         20,
		Logger: logger.Config{
			Level:    "info",
			Format:   "console",
			Output:   "both",
			FilePath: filepath.Join("logs", "database.log"),
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "jms",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	}
}

// Load reads .env, then the optional YAML file named by JMS_CONFIG, then
// environment overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if path := os.Getenv("JMS_CONFIG"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	cfg.DataDir = getEnv("JMS_DATA_DIR", cfg.DataDir)
	cfg.DatabasePath = getEnv("DATABASE_PATH", cfg.DatabasePath)
	cfg.BackupDir = getEnv("BACKUP_DIR", cfg.BackupDir)
	cfg.ExportDir = getEnv("EXPORT_DIR", cfg.ExportDir)
	cfg.BusyTimeout = getEnvDuration("BUSY_TIMEOUT", cfg.BusyTimeout)
	cfg.BarcodeStart = int64(getEnvInt("BARCODE_START", int(cfg.BarcodeStart)))
	cfg.ImportPolicy = getEnv("IMPORT_POLICY", cfg.ImportPolicy)
	cfg.LowStockThreshold = getEnvInt("LOW_STOCK_THRESHOLD", cfg.LowStockThreshold)
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)
	cfg.AllowedOrigins = getEnv("ALLOWED_ORIGINS", cfg.AllowedOrigins)
	cfg.RateBurst = getEnvInt("RATE_BURST", cfg.RateBurst)
	cfg.MailgunDomain = getEnv("MAILGUN_DOMAIN", cfg.MailgunDomain)
	cfg.MailgunAPIKey = getEnv("MAILGUN_API_KEY", cfg.MailgunAPIKey)
	cfg.MailgunFrom = getEnv("MAILGUN_FROM", cfg.MailgunFrom)
	cfg.AlertRecipient = getEnv("ALERT_RECIPIENT", cfg.AlertRecipient)
	cfg.Logger.Level = getEnv("LOG_LEVEL", cfg.Logger.Level)
	cfg.Logger.Format = getEnv("LOG_FORMAT", cfg.Logger.Format)
	cfg.Logger.Output = getEnv("LOG_OUTPUT", cfg.Logger.Output)
	cfg.Logger.FilePath = getEnv("LOG_FILE", cfg.Logger.FilePath)
	cfg.Logger.Compress = getEnvBool("LOG_COMPRESS", cfg.Logger.Compress)
	cfg.Metrics.Enabled = getEnvBool("METRICS_ENABLED", cfg.Metrics.Enabled)
	if v := os.Getenv("RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimit = f
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database path must not be empty")
	}
	if c.BusyTimeout <= 0 {
		return fmt.Errorf("busy timeout must be positive, got %s", c.BusyTimeout)
	}
	if c.BarcodeStart < 1 {
		return fmt.Errorf("barcode start must be positive, got %d", c.BarcodeStart)
	}
	switch c.ImportPolicy {
	case ImportBestEffort, ImportAllOrNothing:
	default:
		return fmt.Errorf("unknown import policy %q", c.ImportPolicy)
	}
	if c.LowStockThreshold < 0 {
		return fmt.Errorf("low stock threshold must not be negative")
	}
	return nil
}

// IsDevelopment reports whether the server runs with relaxed settings.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// EmailEnabled reports whether alert mails can be sent.
func (c *Config) EmailEnabled() bool {
	return c.MailgunDomain != "" && c.MailgunAPIKey != "" && c.AlertRecipient != ""
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := resolveEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([^}]*))?\}`)

// resolveEnv replaces ${VAR} and ${VAR:default} placeholders.
func resolveEnv(content string) string {
	return envPattern.ReplaceAllStringFunc(content, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		if value, ok := os.LookupEnv(parts[1]); ok {
			return value
		}
		return parts[2]
	})
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
