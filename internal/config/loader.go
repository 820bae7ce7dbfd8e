package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/rpattn/marketsync/internal/db"
)

// EnvPrefix namespaces environment overrides, e.g. MARKETSYNC_DATABASE_HOST.
const EnvPrefix = "MARKETSYNC"

// Config is the full runtime configuration.
type Config struct {
	Database    db.Config         `mapstructure:"-"`
	Marketplace MarketplaceConfig `mapstructure:"marketplace"`
	Reports     ReportsConfig     `mapstructure:"reports"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	Server      ServerConfig      `mapstructure:"server"`
}

// MarketplaceConfig holds seller API credentials and connector tuning.
type MarketplaceConfig struct {
	Region         string   `mapstructure:"region" validate:"required,oneof=na eu fe"`
	ClientID       string   `mapstructure:"client_id"`
	ClientSecret   string   `mapstructure:"client_secret"`
	RefreshToken   string   `mapstructure:"refresh_token"`
	AWSAccessKeyID string   `mapstructure:"aws_access_key_id"`
	AWSSecretKey   string   `mapstructure:"aws_secret_access_key"`
	MarketplaceIDs []string `mapstructure:"marketplace_ids"`
	TokenURL       string   `mapstructure:"token_url" validate:"omitempty,url"`
	BaseURL        string   `mapstructure:"base_url" validate:"omitempty,url"`
	// RequestsPerSecond and Burst limit calls without a published per-operation quota.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int     `mapstructure:"burst" validate:"gte=0"`
}

// Configured reports whether enough credentials are present to call the API.
func (m MarketplaceConfig) Configured() bool {
	return m.ClientID != "" && m.ClientSecret != "" && m.RefreshToken != "" &&
		m.AWSAccessKeyID != "" && m.AWSSecretKey != ""
}

// ReportsConfig tunes the report lifecycle and the runner.
type ReportsConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	MaxAttempts      int           `mapstructure:"max_attempts" validate:"gt=0"`
	DownloadDir      string        `mapstructure:"download_dir" validate:"required"`
	Workers          int           `mapstructure:"workers" validate:"gte=0"`
	DispatchInterval time.Duration `mapstructure:"dispatch_interval" validate:"gt=0"`
	ClaimLease       time.Duration `mapstructure:"claim_lease" validate:"gt=0"`
}

// StorageConfig points at the optional S3 archive for fetched documents.
type StorageConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
	Region string `mapstructure:"region"`
}

// NotifyConfig points at the optional SQS queue receiving ingestion results.
type NotifyConfig struct {
	QueueURL string `mapstructure:"queue_url" validate:"omitempty,url"`
	Region   string `mapstructure:"region"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr" validate:"required"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes" validate:"gt=0"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

func setDefaults(v *viper.Viper) {
	dbDefaults := db.DefaultConfig()
	v.SetDefault("database.host", dbDefaults.Host)
	v.SetDefault("database.port", dbDefaults.Port)
	v.SetDefault("database.user", dbDefaults.User)
	v.SetDefault("database.password", dbDefaults.Password)
	v.SetDefault("database.dbname", dbDefaults.DBName)
	v.SetDefault("database.sslmode", dbDefaults.SSLMode)
	v.SetDefault("database.max_conns", dbDefaults.MaxConns)

	v.SetDefault("marketplace.region", "eu")
	v.SetDefault("marketplace.client_id", "")
	v.SetDefault("marketplace.client_secret", "")
	v.SetDefault("marketplace.refresh_token", "")
	v.SetDefault("marketplace.aws_access_key_id", "")
	v.SetDefault("marketplace.aws_secret_access_key", "")
	v.SetDefault("marketplace.marketplace_ids", []string{})
	v.SetDefault("marketplace.token_url", "")
	v.SetDefault("marketplace.base_url", "")
	v.SetDefault("marketplace.requests_per_second", 1.0)
	v.SetDefault("marketplace.burst", 5)

	v.SetDefault("reports.poll_interval", time.Minute)
	v.SetDefault("reports.max_attempts", 60)
	v.SetDefault("reports.download_dir", "./downloads")
	v.SetDefault("reports.workers", 2)
	v.SetDefault("reports.dispatch_interval", 10*time.Second)
	v.SetDefault("reports.claim_lease", 2*time.Hour)

	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "reports/")
	v.SetDefault("storage.region", "")

	v.SetDefault("notify.queue_url", "")
	v.SetDefault("notify.region", "")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.max_upload_bytes", int64(64<<20))
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute)
}

// Load reads config.yaml from configPath (optional), then applies MARKETSYNC_* env overrides.
func Load(configPath string, logger *slog.Logger) (Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		logger.Info("no config.yaml found, using defaults and env vars")
	} else {
		logger.Info("loaded config", "file", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Database = db.Config{
		Host:     v.GetString("database.host"),
		Port:     v.GetInt("database.port"),
		User:     v.GetString("database.user"),
		Password: v.GetString("database.password"),
		DBName:   v.GetString("database.dbname"),
		SSLMode:  v.GetString("database.sslmode"),
		MaxConns: v.GetInt32("database.max_conns"),
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDBConfig returns only the database section.
func LoadDBConfig(configPath string) (db.Config, error) {
	cfg, err := Load(configPath, nil)
	if err != nil {
		return db.Config{}, err
	}
	return cfg.Database, nil
}

// Validate checks struct constraints across every section.
func Validate(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Database.Host == "" || cfg.Database.DBName == "" {
		return fmt.Errorf("invalid config: database host and dbname are required")
	}
	return nil
}
