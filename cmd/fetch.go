package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/tanq16/stitch/internal/output"
	"github.com/tanq16/stitch/internal/scheduler"
	"github.com/tanq16/stitch/internal/stitcher"
	"github.com/tanq16/stitch/internal/utils"
)

func newFetchCmd() *cobra.Command {
	var (
		outputPath   string
		manifestPath string
		prefix       string
		noPrefix     bool
	)

	cmd := &cobra.Command{
		Use:   "fetch [BASE_URL] [--output DIR]",
		Short: "Combine one split build into a directory or s3:// destination",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry := utils.BatchEntry{
				Link:       args[0],
				OutputPath: outputPath,
				Manifest:   manifestPath,
				Prefix:     prefix,
			}
			job := newJob(entry)
			if noPrefix {
				job.LocationPrefix = ""
			}
			return runJobs([]utils.StitchJob{job})
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output directory or s3://bucket/prefix (default \".\")")
	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "Manifest path relative to the prefix, or an absolute URL")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Path segment prepended to manifest and piece paths (default \"split\")")
	cmd.Flags().BoolVar(&noPrefix, "no-prefix", false, "Fetch manifest and pieces directly under the base URL")
	return cmd
}

// newJob fills a job from a batch entry, falling back to the global config.
func newJob(entry utils.BatchEntry) utils.StitchJob {
	job := utils.StitchJob{
		BaseURL:          entry.Link,
		OutputPath:       entry.OutputPath,
		ManifestPath:     globalConfig.Manifest,
		LocationPrefix:   globalConfig.Prefix,
		MaxConcurrent:    globalConfig.MaxConcurrent,
		RateLimit:        globalConfig.RateLimit,
		MaxTargetSize:    globalConfig.MaxTargetSize,
		AWSProfile:       globalConfig.AWSProfile,
		HTTPClientConfig: httpClientConfig(globalConfig),
		Retry:            globalConfig.Retry,
		Metadata:         make(map[string]any),
	}
	if entry.Manifest != "" {
		job.ManifestPath = entry.Manifest
	}
	if entry.Prefix != "" {
		job.LocationPrefix = entry.Prefix
	}
	if entry.MaxConcurrent > 0 {
		job.MaxConcurrent = entry.MaxConcurrent
	}
	return job
}

func runJobs(jobs []utils.StitchJob) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	display := output.NewDisplay()
	display.Start()
	_, err := scheduler.Run(ctx, jobs, globalConfig.Workers, &stitcher.Stitcher{}, display)
	display.Stop()
	return err
}
