package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	TelegramBotToken string        `envconfig:"TELEGRAM_BOT_TOKEN" required:"true"`
	TelegramDebug    bool          `envconfig:"TELEGRAM_DEBUG" default:"false"`
	GrilloAPIURL     string        `envconfig:"GRILLO_API_URL" default:"https://grillo.weeeopen.it/api/v1"`
	GrilloAPIToken   string        `envconfig:"GRILLO_API_TOKEN" required:"true"`
	MappingFile      string        `envconfig:"MAPPING_FILE" default:"user_mapping.json"`
	HTTPTimeout      time.Duration `envconfig:"HTTP_TIMEOUT" default:"20s"`
	LogLevel         string        `envconfig:"LOG_LEVEL" default:"info"`
	Timezone         string        `envconfig:"TIMEZONE" default:"Local"`
	AdminAddr        string        `envconfig:"ADMIN_ADDR"`
	AdminToken       string        `envconfig:"ADMIN_TOKEN"`
}

// Load reads the given .env files (default ".env"; missing files are
// skipped) and then the environment. Variables already set in the
// environment win over .env entries.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.TelegramBotToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	if c.GrilloAPIToken == "" {
		return errors.New("GRILLO_API_TOKEN is required (get it from the grillo web UI)")
	}
	u, err := url.Parse(c.GrilloAPIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("GRILLO_API_URL must be an absolute http(s) URL, got %q", c.GrilloAPIURL)
	}
	if c.HTTPTimeout <= 0 {
		return errors.New("HTTP_TIMEOUT must be positive")
	}
	if c.AdminAddr != "" && c.AdminToken == "" {
		return errors.New("ADMIN_TOKEN is required when ADMIN_ADDR is set")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE: %w", err)
	}
	return loc, nil
}
