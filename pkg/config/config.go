// Package config provides configuration management using Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
	Timezone string `mapstructure:"timezone"` // display timezone; storage is always UTC

	API       APIConfig       `mapstructure:"api"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Storage   StorageConfig   `mapstructure:"storage"`
	CORS      CORSConfig      `mapstructure:"cors"`
	WS        WebSocketConfig `mapstructure:"ws"`
	Crawlers  CrawlerConfig   `mapstructure:"crawlers"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// APIConfig holds HTTP server configuration.
type APIConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// MongoConfig holds MongoDB configuration.
type MongoConfig struct {
	URL          string        `mapstructure:"url"`
	DatabaseName string        `mapstructure:"database_name"`
	ConnTimeout  time.Duration `mapstructure:"conn_timeout"`
}

// RedisConfig holds Redis cache configuration.
type RedisConfig struct {
	URL        string `mapstructure:"url"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// AuthConfig holds JWT issuance configuration.
type AuthConfig struct {
	SecretKey            string        `mapstructure:"secret_key"`
	Algorithm            string        `mapstructure:"algorithm"`
	AccessTokenLifetime  time.Duration `mapstructure:"access_token_lifetime"`
	RefreshTokenLifetime time.Duration `mapstructure:"refresh_token_lifetime"`
}

// StorageConfig holds on-disk storage configuration, e.g. for cloned crawler
// repositories and cached nuclei templates.
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// CORSConfig holds allowed-origin configuration for the REST API.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// WebSocketConfig holds push-fabric tuning parameters.
type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongTimeout    time.Duration `mapstructure:"pong_timeout"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBufferSize int           `mapstructure:"send_buffer_size"`
}

// CrawlerConfig holds per-source crawler overrides.
type CrawlerConfig struct {
	NucleiRepoURL         string        `mapstructure:"nuclei_repo_url"`
	EmergingThreatsFeedURL string       `mapstructure:"emerging_threats_feed_url"`
	MetasploitRepoURL     string        `mapstructure:"metasploit_repo_url"`
	FetchTimeout          time.Duration `mapstructure:"fetch_timeout"`
}

// RateLimitConfig holds per-IP request throttling configuration for the
// REST API.
type RateLimitConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	BurstSize         int           `mapstructure:"burst_size"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
}

// Address returns the API server address.
func (c *APIConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("CVEHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind env vars: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validateProduction(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// validateProduction ensures critical configuration is set for non-development environments.
func (c *Config) validateProduction() error {
	if c.Env == "development" || c.Env == "dev" || c.Env == "test" {
		return nil
	}

	var missing []string

	if strings.Contains(c.Mongo.URL, "localhost") {
		missing = append(missing, "CVEHUB_MONGO_URL (must not point at localhost)")
	}
	if c.Auth.SecretKey == "" || c.Auth.SecretKey == "dev-secret-change-me" {
		missing = append(missing, "CVEHUB_AUTH_SECRET_KEY")
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		missing = append(missing, "CVEHUB_CORS_ALLOWED_ORIGINS")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration for %s environment: %s",
			c.Env, strings.Join(missing, ", "))
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("timezone", "Asia/Seoul")

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.read_timeout", "30s")
	v.SetDefault("api.write_timeout", "30s")
	v.SetDefault("api.shutdown_timeout", "10s")

	v.SetDefault("mongo.url", "mongodb://localhost:27017")
	v.SetDefault("mongo.database_name", "cvehub")
	v.SetDefault("mongo.conn_timeout", "10s")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.max_retries", 3)

	v.SetDefault("auth.secret_key", "dev-secret-change-me")
	v.SetDefault("auth.algorithm", "HS256")
	v.SetDefault("auth.access_token_lifetime", "30m")
	v.SetDefault("auth.refresh_token_lifetime", "168h")

	v.SetDefault("storage.data_dir", "./data")

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("ws.ping_interval", "25s")
	v.SetDefault("ws.pong_timeout", "60s")
	v.SetDefault("ws.max_message_size", 1<<20)
	v.SetDefault("ws.send_buffer_size", 256)

	v.SetDefault("crawlers.nuclei_repo_url", "https://github.com/projectdiscovery/nuclei-templates.git")
	v.SetDefault("crawlers.emerging_threats_feed_url", "https://rules.emergingthreats.net/open/suricata/rules/")
	v.SetDefault("crawlers.metasploit_repo_url", "https://github.com/rapid7/metasploit-framework.git")
	v.SetDefault("crawlers.fetch_timeout", "5m")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 100)
	v.SetDefault("rate_limit.burst_size", 200)
	v.SetDefault("rate_limit.cleanup_interval", "1m")
}

func bindEnvVars(v *viper.Viper) error {
	envVars := []string{
		"env",
		"log_level",
		"timezone",
		"api.host",
		"api.port",
		"api.read_timeout",
		"api.write_timeout",
		"api.shutdown_timeout",
		"mongo.url",
		"mongo.database_name",
		"mongo.conn_timeout",
		"redis.url",
		"redis.max_retries",
		"auth.secret_key",
		"auth.algorithm",
		"auth.access_token_lifetime",
		"auth.refresh_token_lifetime",
		"storage.data_dir",
		"cors.allowed_origins",
		"ws.ping_interval",
		"ws.pong_timeout",
		"ws.max_message_size",
		"ws.send_buffer_size",
		"crawlers.nuclei_repo_url",
		"crawlers.emerging_threats_feed_url",
		"crawlers.metasploit_repo_url",
		"crawlers.fetch_timeout",
		"rate_limit.enabled",
		"rate_limit.requests_per_second",
		"rate_limit.burst_size",
		"rate_limit.cleanup_interval",
	}

	for _, key := range envVars {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development" || c.Env == "dev"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
