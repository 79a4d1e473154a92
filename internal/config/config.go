package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/tanq16/stitch/internal/utils"
	"gopkg.in/yaml.v3"
)

// Config holds the settings shared by fetch and batch runs. Flags given on
// the command line are merged over it.
type Config struct {
	Manifest      string
	Prefix        string
	Workers       int
	MaxConcurrent int
	RateLimit     int64
	MaxTargetSize int64
	Timeout       time.Duration
	KATimeout     time.Duration
	UserAgent     string
	Proxy         string
	Token         string
	AWSProfile    string
	Headers       map[string]string
	Retry         utils.RetryConfig
}

func Default() Config {
	return Config{
		Manifest:  utils.DefaultManifestPath,
		Prefix:    utils.DefaultLocationPrefix,
		Workers:   2,
		Timeout:   3 * time.Minute,
		KATimeout: 90 * time.Second,
		UserAgent: utils.ToolUserAgent,
		Retry: utils.RetryConfig{
			Attempts:   utils.DefaultRetryAttempts,
			Backoff:    utils.DefaultRetryBackoff,
			MaxBackoff: utils.DefaultRetryMaxBackoff,
		},
	}
}

type yamlConfig struct {
	Manifest      string            `yaml:"manifest"`
	Prefix        *string           `yaml:"prefix"`
	Workers       int               `yaml:"workers"`
	MaxConcurrent int               `yaml:"max_concurrent"`
	RateLimit     string            `yaml:"rate_limit"`
	MaxTargetSize string            `yaml:"max_target_size"`
	Timeout       string            `yaml:"timeout"`
	KATimeout     string            `yaml:"keep_alive_timeout"`
	UserAgent     string            `yaml:"user_agent"`
	Proxy         string            `yaml:"proxy"`
	Token         string            `yaml:"token"`
	AWSProfile    string            `yaml:"aws_profile"`
	Headers       map[string]string `yaml:"headers"`
	Retry         struct {
		Attempts   int    `yaml:"attempts"`
		Backoff    string `yaml:"backoff"`
		MaxBackoff string `yaml:"max_backoff"`
	} `yaml:"retry"`
}

func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()
	if yc.Manifest != "" {
		cfg.Manifest = yc.Manifest
	}
	// An explicit empty prefix turns the location filter off.
	if yc.Prefix != nil {
		cfg.Prefix = *yc.Prefix
	}
	if yc.Workers != 0 {
		cfg.Workers = yc.Workers
	}
	if yc.MaxConcurrent != 0 {
		cfg.MaxConcurrent = yc.MaxConcurrent
	}
	if yc.RateLimit != "" {
		rate, err := utils.ParseBytes(yc.RateLimit)
		if err != nil {
			return Config{}, fmt.Errorf("parse rate_limit: %w", err)
		}
		cfg.RateLimit = rate
	}
	if yc.MaxTargetSize != "" {
		size, err := utils.ParseBytes(yc.MaxTargetSize)
		if err != nil {
			return Config{}, fmt.Errorf("parse max_target_size: %w", err)
		}
		cfg.MaxTargetSize = size
	}
	if err := parseDuration(yc.Timeout, "timeout", &cfg.Timeout); err != nil {
		return Config{}, err
	}
	if err := parseDuration(yc.KATimeout, "keep_alive_timeout", &cfg.KATimeout); err != nil {
		return Config{}, err
	}
	if yc.UserAgent != "" {
		cfg.UserAgent = yc.UserAgent
	}
	cfg.Proxy = yc.Proxy
	cfg.Token = yc.Token
	cfg.AWSProfile = yc.AWSProfile
	cfg.Headers = yc.Headers
	if yc.Retry.Attempts != 0 {
		cfg.Retry.Attempts = yc.Retry.Attempts
	}
	if err := parseDuration(yc.Retry.Backoff, "retry.backoff", &cfg.Retry.Backoff); err != nil {
		return Config{}, err
	}
	if err := parseDuration(yc.Retry.MaxBackoff, "retry.max_backoff", &cfg.Retry.MaxBackoff); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parseDuration(value, field string, dst *time.Duration) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", field, err)
	}
	*dst = d
	return nil
}

// LoadFromEnv applies STITCH_* environment variables.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("STITCH_TOKEN"); v != "" {
		c.Token = v
	}
	if v := os.Getenv("STITCH_PROXY"); v != "" {
		c.Proxy = v
	}
	if v := os.Getenv("STITCH_AWS_PROFILE"); v != "" {
		c.AWSProfile = v
	}
	if v := os.Getenv("STITCH_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse STITCH_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v := os.Getenv("STITCH_RATE_LIMIT"); v != "" {
		rate, err := utils.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse STITCH_RATE_LIMIT: %w", err)
		}
		c.RateLimit = rate
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.MaxConcurrent < 0 {
		return errors.New("config: max_concurrent must not be negative")
	}
	if c.RateLimit < 0 {
		return errors.New("config: rate_limit must not be negative")
	}
	if c.MaxTargetSize < 0 {
		return errors.New("config: max_target_size must not be negative")
	}
	if c.Retry.Attempts <= 0 {
		return errors.New("config: retry.attempts must be positive")
	}
	return nil
}

// Merge returns c with the non-zero fields of override applied.
func (c Config) Merge(override Config) Config {
	if override.Manifest != "" {
		c.Manifest = override.Manifest
	}
	if override.Prefix != "" {
		c.Prefix = override.Prefix
	}
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.MaxConcurrent != 0 {
		c.MaxConcurrent = override.MaxConcurrent
	}
	if override.RateLimit != 0 {
		c.RateLimit = override.RateLimit
	}
	if override.MaxTargetSize != 0 {
		c.MaxTargetSize = override.MaxTargetSize
	}
	if override.Timeout != 0 {
		c.Timeout = override.Timeout
	}
	if override.KATimeout != 0 {
		c.KATimeout = override.KATimeout
	}
	if override.UserAgent != "" {
		c.UserAgent = override.UserAgent
	}
	if override.Proxy != "" {
		c.Proxy = override.Proxy
	}
	if override.Token != "" {
		c.Token = override.Token
	}
	if override.AWSProfile != "" {
		c.AWSProfile = override.AWSProfile
	}
	if len(override.Headers) > 0 {
		merged := make(map[string]string, len(c.Headers)+len(override.Headers))
		for k, v := range c.Headers {
			merged[k] = v
		}
		for k, v := range override.Headers {
			merged[k] = v
		}
		c.Headers = merged
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	if override.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = override.Retry.MaxBackoff
	}
	return c
}
