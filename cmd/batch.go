package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tanq16/stitch/internal/utils"
	"gopkg.in/yaml.v3"
)

// BatchFile lists builds to combine:
//
//	builds:
//	  - link: https://cdn.example.com/game/Build
//	    op: ./game
//	    max-concurrent: 8
type BatchFile struct {
	Builds []utils.BatchEntry `yaml:"builds"`
}

func newBatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "batch [YAML_FILE] [OPTIONS]",
		Short: "Combine multiple builds listed in a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := readBatchFile(args[0])
			if err != nil {
				return err
			}
			return runJobs(jobs)
		},
	}
}

func readBatchFile(path string) ([]utils.StitchJob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading YAML file: %w", err)
	}
	var batchFile BatchFile
	if err := yaml.Unmarshal(data, &batchFile); err != nil {
		return nil, fmt.Errorf("error parsing YAML file: %w", err)
	}
	var jobs []utils.StitchJob
	for i, entry := range batchFile.Builds {
		if entry.Link == "" {
			log.Warn().Str("op", "cmd/batch").Msgf("Entry %d has no link, skipping", i+1)
			continue
		}
		jobs = append(jobs, newJob(entry))
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("no valid builds found in %s", path)
	}
	return jobs, nil
}
