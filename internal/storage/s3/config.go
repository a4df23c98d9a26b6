package s3

import (
	"time"
)

// Config represents S3 client configuration shared by every region in a pool
type Config struct {
	// Endpoint redirects every client to a non-standard S3 deployment
	// (MinIO, localstack, a private gateway). Empty means AWS.
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`

	// ForcePathStyle is implied when Endpoint is set.
	ForcePathStyle bool `yaml:"force_path_style"`

	// KeepAlive is both the TCP keep-alive period and the idle connection timeout.
	KeepAlive           time.Duration `yaml:"keep_alive"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
}

// NewDefaultConfig returns a configuration with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		KeepAlive:           60 * time.Second,
		MaxIdleConnsPerHost: 64,
	}
}

// UsePathStyle reports whether clients must address buckets by path.
func (c *Config) UsePathStyle() bool {
	return c.ForcePathStyle || c.Endpoint != ""
}
