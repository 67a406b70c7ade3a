package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type ClickConfig struct {
	ServiceID      string `yaml:"service_id"`
	MerchantID     string `yaml:"merchant_id"`
	MerchantUserID string `yaml:"merchant_user_id"`
	SecretKey      string `yaml:"secret_key"`
	ReturnURL      string `yaml:"return_url"`
	BaseURL        string `yaml:"base_url"` // merchant API, override in tests
}

type PaymeConfig struct {
	MerchantID string `yaml:"merchant_id"`
	SecretKey  string `yaml:"secret_key"`
	BaseURL    string `yaml:"base_url"` // receipts API, override in tests
}

type GooglePlayConfig struct {
	PackageName string `yaml:"package_name"`
	ClientEmail string `yaml:"client_email"`
	PrivateKey  string `yaml:"private_key"` // PEM, service account
	TokenURL    string `yaml:"token_url"`
	BaseURL     string `yaml:"base_url"` // androidpublisher API, override in tests
}

type ProvidersConfig struct {
	Click      ClickConfig      `yaml:"click"`
	Payme      PaymeConfig      `yaml:"payme"`
	GooglePlay GooglePlayConfig `yaml:"google_play"`
}

// QuotaConfig holds free-tier daily limits; paid tiers are not metered.
type QuotaConfig struct {
	FreeFullExamsPerDay    int `yaml:"free_full_exams_per_day"`
	FreePartPracticePerDay int `yaml:"free_part_practice_per_day"`
}

type ReconcilerConfig struct {
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"`
	FailAfter  time.Duration `yaml:"fail_after"`
}

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Auth       AuthConfig       `yaml:"auth"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Quota      QuotaConfig      `yaml:"quota"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout <= 0 {
		cfg.Server.RequestTimeout = 30 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)
	if cfg.Quota.FreeFullExamsPerDay <= 0 {
		cfg.Quota.FreeFullExamsPerDay = 1
	}
	if cfg.Quota.FreePartPracticePerDay <= 0 {
		cfg.Quota.FreePartPracticePerDay = 3
	}
	if cfg.Reconciler.Interval <= 0 {
		cfg.Reconciler.Interval = time.Minute
	}
	if cfg.Reconciler.StaleAfter <= 0 {
		cfg.Reconciler.StaleAfter = 10 * time.Minute
	}
	if cfg.Reconciler.FailAfter <= 0 {
		cfg.Reconciler.FailAfter = 24 * time.Hour
	}
	if cfg.Providers.GooglePlay.TokenURL == "" {
		cfg.Providers.GooglePlay.TokenURL = "https://oauth2.googleapis.com/token"
	}

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("auth.jwt_secret is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
