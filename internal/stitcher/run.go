package stitcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/stitch/internal/combine"
	"github.com/tanq16/stitch/internal/staging"
	"github.com/tanq16/stitch/internal/utils"
)

// StagerFunc opens the stager for a job. Tests replace it.
type StagerFunc func(ctx context.Context, job *utils.StitchJob) (staging.Stager, error)

// TransportFunc builds the transport for a job. Tests replace it.
type TransportFunc func(ctx context.Context, job *utils.StitchJob) (combine.Transport, error)

func (s *Stitcher) Run(ctx context.Context, job *utils.StitchJob) error {
	return s.run(ctx, job, defaultTransport, defaultStager)
}

func defaultStager(ctx context.Context, job *utils.StitchJob) (staging.Stager, error) {
	return staging.Open(ctx, job.OutputPath, job.AWSProfile)
}

func defaultTransport(ctx context.Context, job *utils.StitchJob) (combine.Transport, error) {
	client := utils.NewStitchHTTPClient(job.HTTPClientConfig)
	httpTransport := combine.NewHTTPTransport(client,
		combine.WithRetry(job.Retry),
		combine.WithRateLimit(job.RateLimit),
	)
	router := combine.NewRouter().Handle("http", httpTransport).Handle("https", httpTransport)
	if isS3, _ := job.Metadata["s3"].(bool); isS3 {
		s3Transport, err := combine.NewS3Transport(ctx, job.AWSProfile, job.RateLimit)
		if err != nil {
			return nil, err
		}
		router.Handle("s3", s3Transport)
	}
	return router, nil
}

func (s *Stitcher) run(ctx context.Context, job *utils.StitchJob, newTransport TransportFunc, newStager StagerFunc) error {
	if job.Metadata == nil {
		job.Metadata = make(map[string]any)
	}
	transport, err := newTransport(ctx, job)
	if err != nil {
		return fmt.Errorf("error creating transport: %v", err)
	}
	stager, err := newStager(ctx, job)
	if err != nil {
		return fmt.Errorf("error opening output: %v", err)
	}
	c, err := combine.New(combine.Config{
		BaseURL:        job.BaseURL,
		LocationFilter: combine.PrefixFilter(job.LocationPrefix),
		MaxConcurrent:  job.MaxConcurrent,
		MaxTargetSize:  job.MaxTargetSize,
		Transport:      transport,
	})
	if err != nil {
		return err
	}

	var (
		stageErr error
		targets  int
	)
	status := func(line string) {
		if job.StatusFunc != nil {
			job.StatusFunc(line)
		}
	}
	if job.ProgressFunc != nil {
		c.AddProgressListener(job.ProgressFunc)
	}
	c.AddCombineCompletedListener(func(name string, data []byte) {
		if err := stager.Stage(ctx, name, data); err != nil {
			stageErr = err
			c.Cleanup()
			return
		}
		targets++
		status(fmt.Sprintf("Combined %s (%s)", name, utils.FormatBytes(uint64(len(data)))))
	})
	c.AddAllTargetsBuiltListener(func() {
		status(fmt.Sprintf("Built %d targets", targets))
	})

	log.Info().Str("op", "stitcher/run").Str("job", job.ID).Msgf("Combining %s into %s", job.BaseURL, job.OutputPath)
	if err := c.Process(ctx, job.ManifestPath); err != nil {
		if errors.Is(err, combine.ErrDiscarded) && stageErr != nil {
			return fmt.Errorf("error staging output: %w", stageErr)
		}
		return err
	}
	c.Cleanup()

	outputs, err := stager.Materialize(ctx)
	if err != nil {
		return fmt.Errorf("error materializing output: %w", err)
	}
	job.Metadata["targets"] = targets
	job.Metadata["outputs"] = outputs
	log.Info().Str("op", "stitcher/run").Str("job", job.ID).Msgf("Materialized %d files", len(outputs))
	return nil
}
