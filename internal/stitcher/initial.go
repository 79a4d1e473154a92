package stitcher

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/tanq16/stitch/internal/utils"
)

// Stitcher runs one combine job: fetch the manifest, build every target and
// stage the results under the job's output path.
type Stitcher struct{}

func (s *Stitcher) ValidateJob(job *utils.StitchJob) error {
	parsedURL, err := url.Parse(job.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	switch parsedURL.Scheme {
	case "http", "https", "s3":
	default:
		return fmt.Errorf("%w: %s", utils.ErrUnsupportedScheme, parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("URL has no host: %s", job.BaseURL)
	}
	if job.MaxConcurrent < 0 {
		return fmt.Errorf("max concurrent must not be negative, got %d", job.MaxConcurrent)
	}
	if job.MaxTargetSize < 0 {
		return fmt.Errorf("max target size must not be negative, got %d", job.MaxTargetSize)
	}
	if job.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative, got %d", job.RateLimit)
	}
	return nil
}

func (s *Stitcher) BuildJob(job *utils.StitchJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.ManifestPath == "" {
		job.ManifestPath = utils.DefaultManifestPath
	}
	if job.OutputPath == "" {
		job.OutputPath = "."
	}
	if job.Retry.Attempts <= 0 {
		job.Retry = utils.RetryConfig{
			Attempts:   utils.DefaultRetryAttempts,
			Backoff:    utils.DefaultRetryBackoff,
			MaxBackoff: utils.DefaultRetryMaxBackoff,
		}
	}
	// Many small pieces in flight benefit from the larger socket buffers.
	job.HTTPClientConfig.HighThreadMode = job.MaxConcurrent == 0 || job.MaxConcurrent > 5
	if job.Metadata == nil {
		job.Metadata = make(map[string]any)
	}
	job.Metadata["s3"] = strings.HasPrefix(job.BaseURL, "s3://")
	return nil
}
