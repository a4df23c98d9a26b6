package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/web3-storage/carsource/internal/fetch"
	"github.com/web3-storage/carsource/internal/metrics"
	s3storage "github.com/web3-storage/carsource/internal/storage/s3"
	"github.com/web3-storage/carsource/pkg/errors"
	"github.com/web3-storage/carsource/pkg/utils"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CARSOURCE_"

// Configuration represents the complete application configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Storage    StorageConfig    `yaml:"storage"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsPort int    `yaml:"metrics_port"`
}

// StorageConfig represents S3 access and retry settings
type StorageConfig struct {
	Region              string        `yaml:"region"`
	EndpointURL         string        `yaml:"endpoint_url"`
	ForcePathStyle      bool          `yaml:"force_path_style"`
	MaxRetries          int           `yaml:"max_retries"`
	RetryDelay          time.Duration `yaml:"retry_delay"`
	KeepAlive           time.Duration `yaml:"keep_alive"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	AccessKeyID         string        `yaml:"access_key_id"`
	SecretAccessKey     string        `yaml:"secret_access_key"`
	SessionToken        string        `yaml:"session_token"`
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Path      string `yaml:"path"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:    "INFO",
			LogFormat:   "text",
			MetricsPort: 0,
		},
		Storage: StorageConfig{
			Region:              "us-west-2",
			MaxRetries:          3,
			RetryDelay:          500 * time.Millisecond,
			KeepAlive:           60 * time.Second,
			MaxIdleConnsPerHost: 64,
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:   true,
				Namespace: "carsource",
				Path:      "/metrics",
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.NewError(errors.ErrCodeConfigLoad, "failed to read config file").
			WithComponent("config").
			WithDetail("file", filename).
			WithCause(err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.NewError(errors.ErrCodeConfigLoad, "failed to parse config file").
			WithComponent("config").
			WithDetail("file", filename).
			WithCause(err)
	}

	return nil
}

// LoadFromEnv applies CARSOURCE_* environment overrides.
func (c *Configuration) LoadFromEnv() error {
	// Global settings
	if val := getenv("LOG_LEVEL"); val != "" {
		c.Global.LogLevel = strings.ToUpper(val)
	}
	if val := getenv("LOG_FORMAT"); val != "" {
		c.Global.LogFormat = strings.ToLower(val)
	}
	if val := getenv("METRICS_PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return envError("METRICS_PORT", val, err)
		}
		c.Global.MetricsPort = port
	}

	// Storage settings
	if val := getenv("REGION"); val != "" {
		c.Storage.Region = val
	}
	if val := getenv("ENDPOINT_URL"); val != "" {
		c.Storage.EndpointURL = val
	}
	if val := getenv("FORCE_PATH_STYLE"); val != "" {
		c.Storage.ForcePathStyle = strings.ToLower(val) == "true"
	}
	if val := getenv("MAX_RETRIES"); val != "" {
		retries, err := strconv.Atoi(val)
		if err != nil {
			return envError("MAX_RETRIES", val, err)
		}
		c.Storage.MaxRetries = retries
	}
	if val := getenv("RETRY_DELAY"); val != "" {
		delay, err := time.ParseDuration(val)
		if err != nil {
			return envError("RETRY_DELAY", val, err)
		}
		c.Storage.RetryDelay = delay
	}
	if val := getenv("KEEP_ALIVE"); val != "" {
		keepAlive, err := time.ParseDuration(val)
		if err != nil {
			return envError("KEEP_ALIVE", val, err)
		}
		c.Storage.KeepAlive = keepAlive
	}
	if val := getenv("ACCESS_KEY_ID"); val != "" {
		c.Storage.AccessKeyID = val
	}
	if val := getenv("SECRET_ACCESS_KEY"); val != "" {
		c.Storage.SecretAccessKey = val
	}
	if val := getenv("SESSION_TOKEN"); val != "" {
		c.Storage.SessionToken = val
	}

	// Monitoring settings
	if val := getenv("METRICS_ENABLED"); val != "" {
		c.Monitoring.Metrics.Enabled = strings.ToLower(val) == "true"
	}
	if val := getenv("METRICS_NAMESPACE"); val != "" {
		c.Monitoring.Metrics.Namespace = val
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Redacted returns a copy with credentials masked, for display.
func (c *Configuration) Redacted() *Configuration {
	out := *c
	if out.Storage.AccessKeyID != "" {
		out.Storage.AccessKeyID = "****"
	}
	if out.Storage.SecretAccessKey != "" {
		out.Storage.SecretAccessKey = "****"
	}
	if out.Storage.SessionToken != "" {
		out.Storage.SessionToken = "****"
	}
	return &out
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if _, err := utils.ParseLogLevel(c.Global.LogLevel); err != nil {
		return invalid("log_level", c.Global.LogLevel, "must be one of: DEBUG, INFO, WARN, ERROR")
	}
	if _, err := utils.ParseLogFormat(c.Global.LogFormat); err != nil {
		return invalid("log_format", c.Global.LogFormat, "must be text or json")
	}
	if c.Global.MetricsPort < 0 || c.Global.MetricsPort > 65535 {
		return invalid("metrics_port", c.Global.MetricsPort, "must be between 0 and 65535")
	}

	if c.Storage.Region == "" {
		return invalid("region", c.Storage.Region, "cannot be empty")
	}
	if c.Storage.MaxRetries <= 0 {
		return invalid("max_retries", c.Storage.MaxRetries, "must be greater than 0")
	}
	if c.Storage.RetryDelay < 0 {
		return invalid("retry_delay", c.Storage.RetryDelay, "cannot be negative")
	}
	if c.Storage.KeepAlive < 0 {
		return invalid("keep_alive", c.Storage.KeepAlive, "cannot be negative")
	}
	if c.Storage.EndpointURL != "" {
		u, err := url.Parse(c.Storage.EndpointURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return invalid("endpoint_url", c.Storage.EndpointURL, "must be an absolute URL")
		}
	}
	if (c.Storage.AccessKeyID == "") != (c.Storage.SecretAccessKey == "") {
		return invalid("access_key_id", "****", "access_key_id and secret_access_key must be set together")
	}

	if c.Monitoring.Metrics.Enabled && !strings.HasPrefix(c.Monitoring.Metrics.Path, "/") {
		return invalid("metrics.path", c.Monitoring.Metrics.Path, "must start with /")
	}

	return nil
}

// S3Config returns the connection pool settings.
func (c *Configuration) S3Config() *s3storage.Config {
	return &s3storage.Config{
		Endpoint:            c.Storage.EndpointURL,
		AccessKeyID:         c.Storage.AccessKeyID,
		SecretAccessKey:     c.Storage.SecretAccessKey,
		SessionToken:        c.Storage.SessionToken,
		ForcePathStyle:      c.Storage.ForcePathStyle,
		KeepAlive:           c.Storage.KeepAlive,
		MaxIdleConnsPerHost: c.Storage.MaxIdleConnsPerHost,
	}
}

// FetchConfig returns the fetcher's retry defaults.
func (c *Configuration) FetchConfig() fetch.Config {
	return fetch.Config{
		MaxAttempts: c.Storage.MaxRetries,
		RetryDelay:  c.Storage.RetryDelay,
	}
}

// MetricsConfig returns the collector settings.
func (c *Configuration) MetricsConfig() *metrics.Config {
	return &metrics.Config{
		Enabled:   c.Monitoring.Metrics.Enabled,
		Port:      c.Global.MetricsPort,
		Path:      c.Monitoring.Metrics.Path,
		Namespace: c.Monitoring.Metrics.Namespace,
	}
}

func getenv(name string) string {
	return strings.TrimSpace(os.Getenv(EnvPrefix + name))
}

func envError(name, value string, cause error) error {
	return errors.NewError(errors.ErrCodeInvalidConfig, fmt.Sprintf("invalid %s%s: %q", EnvPrefix, name, value)).
		WithComponent("config").
		WithCause(cause)
}

func invalid(field string, value interface{}, reason string) error {
	return errors.NewError(errors.ErrCodeInvalidConfig, fmt.Sprintf("invalid %s: %v (%s)", field, value, reason)).
		WithComponent("config").
		WithDetail("field", field)
}
