// Package config contains code to set the default values and read
// config files to be used throughout the whole application
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	v "github.com/spf13/viper"
)

var (
	configPath = pflag.String("config", ".", "Directory containing config.toml")

	ErrInvalidConfig = errors.New("invalid configuration")
)

type App struct {
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error fatal"`
}

type Host struct {
	Port        int      `mapstructure:"port" validate:"min=1,max=65535"`
	CORSOrigins []string `mapstructure:"cors_origins" validate:"min=1"`
}

type Security struct {
	RateLimit int `mapstructure:"rate_limit" validate:"gte=0"`
}

type Upload struct {
	// MaxSize is given in MiB in the config file and converted to bytes by Load
	MaxSize      int64    `mapstructure:"max_size" validate:"gt=0"`
	AllowedTypes []string `mapstructure:"allowed_types" validate:"min=1,dive,required"`
	SniffContent bool     `mapstructure:"sniff_content"`
}

type Storage struct {
	Type          string        `mapstructure:"type" validate:"oneof=local s3 r2"`
	LocalDir      string        `mapstructure:"local_dir" validate:"required_if=Type local"`
	SweepSchedule string        `mapstructure:"sweep_schedule"`
	SweepGrace    time.Duration `mapstructure:"sweep_grace" validate:"gte=0"`
}

type DB struct {
	Driver string `mapstructure:"driver" validate:"oneof=sqlite postgres dynamodb memory"`
	DSN    string `mapstructure:"dsn" validate:"required_if=Driver sqlite,required_if=Driver postgres"`
	Table  string `mapstructure:"table" validate:"required_if=Driver dynamodb"`
}

type AWS struct {
	AccessKey       string `mapstructure:"access_key"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	Endpoint        string `mapstructure:"endpoint"`
}

type Turnstile struct {
	Enabled     bool   `mapstructure:"enabled"`
	SecretToken string `mapstructure:"secret_token" validate:"required_if=Enabled true"`
	VerifyURL   string `mapstructure:"verify_url" validate:"omitempty,url"`
}

type Cloudflare struct {
	AccountID       string    `mapstructure:"account_id"`
	AccessKeyID     string    `mapstructure:"access_key_id"`
	SecretAccessKey string    `mapstructure:"secret_access_key"`
	Bucket          string    `mapstructure:"bucket"`
	Turnstile       Turnstile `mapstructure:"turnstile"`
}

type Handoff struct {
	RedisAddr string `mapstructure:"redis_addr" validate:"omitempty,hostname_port"`
	Workers   int    `mapstructure:"workers" validate:"gt=0"`
	QueueSize int    `mapstructure:"queue_size" validate:"gt=0"`
}

// Config is the typed view over everything viper knows about. It's built by
// Load and passed down explicitly instead of reading viper in handlers
type Config struct {
	App        App        `mapstructure:"app"`
	Host       Host       `mapstructure:"host"`
	Security   Security   `mapstructure:"security"`
	Upload     Upload     `mapstructure:"upload"`
	Storage    Storage    `mapstructure:"storage"`
	DB         DB         `mapstructure:"db"`
	AWS        AWS        `mapstructure:"aws"`
	Cloudflare Cloudflare `mapstructure:"cloudflare"`
	Handoff    Handoff    `mapstructure:"handoff"`
}

// Setup prepares everything config-related so that the app can
// start working. Function will return an error if something
// is critically wrong and the application can't run because of
// that.
func Setup() (*Config, error) {
	pflag.Parse()
	v.BindPFlags(pflag.CommandLine)

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(*configPath)

	v.AutomaticEnv()

	bindEnvs()
	SetDefaults()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(v.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file, %w", err)
		}

		fmt.Println("[WARNING]: config.toml not found, running with defaults and environment variables")
	}

	c, err := Load()
	if err != nil {
		return nil, err
	}

	if !c.Cloudflare.Turnstile.Enabled {
		fmt.Println("[WARNING]: Cloudflare's turnstile is disabled. The upload endpoint won't be guarded against bots")
	}

	return c, nil
}

func bindEnvs() {
	v.BindEnv("app.log_level", "app_log_level")

	v.BindEnv("host.port", "host_port")
	v.BindEnv("host.cors_origins", "host_cors_origins")

	v.BindEnv("security.rate_limit", "security_rate_limit")

	v.BindEnv("upload.max_size", "upload_max_size")
	v.BindEnv("upload.allowed_types", "upload_allowed_types")
	v.BindEnv("upload.sniff_content", "upload_sniff_content")

	v.BindEnv("storage.type", "storage_type")
	v.BindEnv("storage.local_dir", "storage_local_dir")
	v.BindEnv("storage.sweep_schedule", "storage_sweep_schedule")
	v.BindEnv("storage.sweep_grace", "storage_sweep_grace")

	v.BindEnv("db.driver", "db_driver")
	v.BindEnv("db.dsn", "db_dsn")
	v.BindEnv("db.table", "db_table")

	v.BindEnv("aws.access_key", "aws_access_key")
	v.BindEnv("aws.secret_access_key", "aws_secret_access_key")
	v.BindEnv("aws.region", "aws_region")
	v.BindEnv("aws.bucket", "aws_bucket")
	v.BindEnv("aws.endpoint", "aws_endpoint")

	v.BindEnv("cloudflare.account_id", "cloudflare_account_id")
	v.BindEnv("cloudflare.access_key_id", "cloudflare_access_key_id")
	v.BindEnv("cloudflare.secret_access_key", "cloudflare_secret_access_key")
	v.BindEnv("cloudflare.bucket", "cloudflare_bucket")

	v.BindEnv("cloudflare.turnstile.enabled", "cloudflare_turnstile_enabled")
	v.BindEnv("cloudflare.turnstile.secret_token", "cloudflare_turnstile_secret_token")

	v.BindEnv("handoff.redis_addr", "handoff_redis_addr")
	v.BindEnv("handoff.workers", "handoff_workers")
}

// SetDefaults registers every default value. Exported so tests can start
// from a clean viper instance without a config file
func SetDefaults() {
	v.SetDefault("app.log_level", "info")

	v.SetDefault("host.port", 8080)
	v.SetDefault("host.cors_origins", []string{"http://localhost:3000"})

	v.SetDefault("security.rate_limit", 10)

	v.SetDefault("upload.max_size", 500)
	v.SetDefault("upload.allowed_types", []string{"video/mp4", "video/webm", "video/quicktime", "video/x-msvideo"})
	v.SetDefault("upload.sniff_content", true)

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_dir", "uploads")
	v.SetDefault("storage.sweep_schedule", "@every 1h")
	v.SetDefault("storage.sweep_grace", time.Hour)

	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "database.db")

	v.SetDefault("cloudflare.turnstile.enabled", false)
	v.SetDefault("cloudflare.turnstile.verify_url", "https://challenges.cloudflare.com/turnstile/v0/siteverify")

	v.SetDefault("handoff.workers", 2)
	v.SetDefault("handoff.queue_size", 64)
}

// Load decodes the current viper state into a Config and validates it.
// upload.max_size is converted from MiB to bytes on the way out
func Load() (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to decode config, %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	c.Upload.MaxSize <<= 20
	return &c, nil
}

// Validate runs the struct tag rules and the checks that depend on more
// than one section
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w, %w", ErrInvalidConfig, err)
	}

	needsAWS := c.Storage.Type == "s3" || c.DB.Driver == "dynamodb"
	if needsAWS {
		if c.AWS.Region == "" {
			return fmt.Errorf("%w, aws region can't be empty", ErrInvalidConfig)
		}
		if c.AWS.AccessKey == "" || c.AWS.SecretAccessKey == "" {
			return fmt.Errorf("%w, aws credentials can't be empty", ErrInvalidConfig)
		}
	}

	switch c.Storage.Type {
	case "s3":
		if c.AWS.Bucket == "" {
			return fmt.Errorf("%w, bucket can't be empty", ErrInvalidConfig)
		}
	case "r2":
		if c.Cloudflare.AccountID == "" {
			return fmt.Errorf("%w, account id can't be empty", ErrInvalidConfig)
		}
		if c.Cloudflare.AccessKeyID == "" {
			return fmt.Errorf("%w, account access id can't be empty", ErrInvalidConfig)
		}
		if c.Cloudflare.SecretAccessKey == "" {
			return fmt.Errorf("%w, secret access key can't be empty", ErrInvalidConfig)
		}
		if c.Cloudflare.Bucket == "" {
			return fmt.Errorf("%w, bucket can't be empty", ErrInvalidConfig)
		}
	}

	return nil
}
