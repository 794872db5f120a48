package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port      string `yaml:"port" validate:"required,numeric"`
	DBPath    string `yaml:"db_path" validate:"required"`
	BaseURL   string `yaml:"base_url" validate:"omitempty,url"`
	LogLevel  string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" validate:"omitempty,oneof=text json"`

	// AdminTokenHash is a bcrypt hash of the bearer token for /api and /debug.
	AdminTokenHash string        `yaml:"admin_token_hash"`
	DebugEndpoints bool          `yaml:"debug_endpoints"`
	EventRetention time.Duration `yaml:"event_retention" validate:"gte=0"`

	Stripe   Stripe   `yaml:"stripe"`
	Postmark Postmark `yaml:"postmark"`
}

type Stripe struct {
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	APIURL        string `yaml:"api_url" validate:"omitempty,url"`
}

type Postmark struct {
	Token     string `yaml:"token"`
	FromEmail string `yaml:"from_email" validate:"omitempty,email"`
}

func Default() Config {
	return Config{
		Port:           "8090",
		DBPath:         "subsync.db",
		LogLevel:       "info",
		LogFormat:      "text",
		EventRetention: 30 * 24 * time.Hour,
	}
}

// Load builds the configuration from defaults, then the YAML file at path (if
// path is non-empty), then envFile (if it exists), then the process
// environment. Later sources win.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	dotenv := map[string]string{}
	if envFile != "" {
		m, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			dotenv = m
		case errors.Is(err, fs.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read env file %s: %w", envFile, err)
		}
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:" + cfg.Port
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"SUBSYNC_PORT":             &cfg.Port,
		"SUBSYNC_DB_PATH":          &cfg.DBPath,
		"SUBSYNC_BASE_URL":         &cfg.BaseURL,
		"SUBSYNC_LOG_LEVEL":        &cfg.LogLevel,
		"SUBSYNC_LOG_FORMAT":       &cfg.LogFormat,
		"SUBSYNC_ADMIN_TOKEN_HASH": &cfg.AdminTokenHash,
		"STRIPE_SECRET_KEY":        &cfg.Stripe.SecretKey,
		"STRIPE_WEBHOOK_SECRET":    &cfg.Stripe.WebhookSecret,
		"STRIPE_API_URL":           &cfg.Stripe.APIURL,
		"POSTMARK_TOKEN":           &cfg.Postmark.Token,
		"POSTMARK_FROM_EMAIL":      &cfg.Postmark.FromEmail,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("SUBSYNC_DEBUG_ENDPOINTS"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SUBSYNC_DEBUG_ENDPOINTS: %w", err)
		}
		cfg.DebugEndpoints = b
	}
	if v, ok := lookup("SUBSYNC_EVENT_RETENTION"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SUBSYNC_EVENT_RETENTION: %w", err)
		}
		cfg.EventRetention = d
	}
	return nil
}
