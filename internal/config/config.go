package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	BaseURI        string        `mapstructure:"FHIR_BASE_URI"`
	BasePath       string        `mapstructure:"FHIR_BASE_PATH"`
	Env            string        `mapstructure:"ENV"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	HTTPTimeout    time.Duration `mapstructure:"HTTP_TIMEOUT"`
	AuthToken      string        `mapstructure:"AUTH_TOKEN"`
	AuthSigningKey string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSubject    string        `mapstructure:"AUTH_SUBJECT"`
	FixturesDir    string        `mapstructure:"FIXTURES_DIR"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	SandboxPort    string        `mapstructure:"SANDBOX_PORT"`
}

var keys = []string{
	"FHIR_BASE_URI",
	"FHIR_BASE_PATH",
	"ENV",
	"LOG_LEVEL",
	"HTTP_TIMEOUT",
	"AUTH_TOKEN",
	"AUTH_SIGNING_KEY",
	"AUTH_ISSUER",
	"AUTH_AUDIENCE",
	"AUTH_SUBJECT",
	"FIXTURES_DIR",
	"DATABASE_URL",
	"DB_MAX_CONNS",
	"DB_MIN_CONNS",
	"SANDBOX_PORT",
}

// Load reads configuration from a .env file in the working directory (when
// present) and the process environment. Environment values win.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("FHIR_BASE_PATH", "/fhir")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("HTTP_TIMEOUT", "30s")
	v.SetDefault("AUTH_SUBJECT", "fhircheck")
	v.SetDefault("FIXTURES_DIR", "testdata")
	v.SetDefault("DB_MAX_CONNS", 4)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("SANDBOX_PORT", "8090")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.BaseURI = strings.TrimRight(cfg.BaseURI, "/")
	cfg.BasePath = normalizeBasePath(cfg.BasePath)

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks the settings needed to drive fixtures against a server.
// The sandbox command only needs SANDBOX_PORT and does not call it.
func (c *Config) Validate() error {
	if c.BaseURI == "" {
		return fmt.Errorf("FHIR_BASE_URI is required")
	}
	u, err := url.Parse(c.BaseURI)
	if err != nil {
		return fmt.Errorf("FHIR_BASE_URI is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("FHIR_BASE_URI must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("FHIR_BASE_URI must include a host")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive, got %s", c.HTTPTimeout)
	}
	if c.AuthToken != "" && c.AuthSigningKey != "" {
		return fmt.Errorf("AUTH_TOKEN and AUTH_SIGNING_KEY are mutually exclusive")
	}
	if c.DatabaseURL != "" && c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}

// ServerURL is the FHIR service root, i.e. base URI plus base path.
func (c *Config) ServerURL() string {
	return c.BaseURI + c.BasePath
}

func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.TrimRight(p, "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
