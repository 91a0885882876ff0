// Package config loads service settings from an optional YAML file and
// VILLAGEPAY_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
	// PGDSN selects the PostgreSQL store. Empty runs on the in-memory store.
	PGDSN string `yaml:"pg_dsn"`

	Auth       AuthConfig       `yaml:"auth"`
	Settlement SettlementConfig `yaml:"settlement"`
	HTTP       HTTPConfig       `yaml:"http"`
}

type AuthConfig struct {
	Secret   string        `yaml:"secret"`
	Issuer   string        `yaml:"issuer"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

type SettlementConfig struct {
	OpTimeout       time.Duration `yaml:"op_timeout"`
	MaxAttempts     int           `yaml:"max_attempts"`
	VillageWalletID string        `yaml:"village_wallet_id"`
}

type HTTPConfig struct {
	RateLimitPerSecond float64  `yaml:"rate_limit_per_second"`
	RateLimitBurst     int      `yaml:"rate_limit_burst"`
	MaxBodyBytes       int64    `yaml:"max_body_bytes"`
	AllowedOrigins     []string `yaml:"allowed_origins"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		HTTPAddr: ":8080",
		GRPCAddr: ":9090",
		Auth: AuthConfig{
			Issuer:   "villagepay",
			TokenTTL: time.Hour,
		},
		Settlement: SettlementConfig{
			OpTimeout:       5 * time.Second,
			MaxAttempts:     3,
			VillageWalletID: "village",
		},
		HTTP: HTTPConfig{
			RateLimitPerSecond: 50,
			RateLimitBurst:     100,
			MaxBodyBytes:       1 << 20,
		},
	}
}

// Load reads VILLAGEPAY_CONFIG (if set) and then applies environment overrides.
func Load() (Config, error) {
	return LoadFrom(os.Getenv("VILLAGEPAY_CONFIG"), os.Getenv)
}

// LoadFrom is Load with an explicit file path and environment lookup.
func LoadFrom(path string, getenv func(string) string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(getenv func(string) string) error {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	setString("VILLAGEPAY_HTTP_ADDR", &c.HTTPAddr)
	setString("VILLAGEPAY_GRPC_ADDR", &c.GRPCAddr)
	setString("VILLAGEPAY_PG_DSN", &c.PGDSN)
	setString("VILLAGEPAY_AUTH_SECRET", &c.Auth.Secret)
	setString("VILLAGEPAY_AUTH_ISSUER", &c.Auth.Issuer)
	setString("VILLAGEPAY_VILLAGE_WALLET_ID", &c.Settlement.VillageWalletID)

	if v := getenv("VILLAGEPAY_OP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: VILLAGEPAY_OP_TIMEOUT: %w", err)
		}
		c.Settlement.OpTimeout = d
	}
	if v := getenv("VILLAGEPAY_TOKEN_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: VILLAGEPAY_TOKEN_TTL: %w", err)
		}
		c.Auth.TokenTTL = d
	}
	if v := getenv("VILLAGEPAY_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: VILLAGEPAY_MAX_ATTEMPTS: %w", err)
		}
		c.Settlement.MaxAttempts = n
	}
	if v := getenv("VILLAGEPAY_ALLOWED_ORIGINS"); v != "" {
		c.HTTP.AllowedOrigins = splitCSV(v)
	}
	return nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Auth.Secret) == "" {
		errs = append(errs, errors.New("auth secret is required (VILLAGEPAY_AUTH_SECRET)"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth token ttl must be > 0"))
	}
	if c.Settlement.OpTimeout <= 0 {
		errs = append(errs, errors.New("settlement op timeout must be > 0"))
	}
	if c.Settlement.MaxAttempts < 1 {
		errs = append(errs, errors.New("settlement max attempts must be >= 1"))
	}
	if c.HTTP.RateLimitPerSecond <= 0 || c.HTTP.RateLimitBurst < 1 {
		errs = append(errs, errors.New("http rate limit must be positive"))
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("http max body bytes must be > 0"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func splitCSV(value string) []string {
	var result []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
