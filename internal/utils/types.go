package utils

import (
	"context"
	"time"
)

type Runner interface {
	ValidateJob(job *StitchJob) error
	BuildJob(job *StitchJob) error
	Run(ctx context.Context, job *StitchJob) error
}

type StitchJob struct {
	ID               string
	BaseURL          string
	ManifestPath     string
	OutputPath       string
	LocationPrefix   string
	MaxConcurrent    int
	RateLimit        int64
	MaxTargetSize    int64
	AWSProfile       string
	ProgressFunc     func(downloaded, total int64)
	StatusFunc       func(line string)
	HTTPClientConfig HTTPClientConfig
	Retry            RetryConfig
	Metadata         map[string]any
}

type RetryConfig struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

type BatchEntry struct {
	OutputPath    string `yaml:"op,omitempty"`
	Link          string `yaml:"link"`
	Manifest      string `yaml:"manifest,omitempty"`
	Prefix        string `yaml:"prefix,omitempty"`
	MaxConcurrent int    `yaml:"max-concurrent,omitempty"`
}
