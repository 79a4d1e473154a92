package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/stitch/internal/utils"
)

// Reporter receives per-job display updates. *output.Display implements it.
type Reporter interface {
	Register(label string) int
	SetMessage(id int, message string)
	Progress(id int, downloaded, total int64)
	Complete(id int, message string)
	ReportError(id int, err error)
}

// Result is the outcome of one job.
type Result struct {
	Job utils.StitchJob
	Err error
}

// Run executes jobs on numWorkers workers and returns one result per job in
// input order. It fails only if at least one job failed.
func Run(ctx context.Context, jobs []utils.StitchJob, numWorkers int, runner utils.Runner, reporter Reporter) ([]Result, error) {
	results := make([]Result, len(jobs))
	ids := make([]int, len(jobs))
	for i, job := range jobs {
		ids[i] = reporter.Register(job.BaseURL)
	}

	type queued struct {
		index int
		job   utils.StitchJob
	}
	jobCh := make(chan queued, len(jobs))
	for i, job := range jobs {
		jobCh <- queued{index: i, job: job}
	}
	close(jobCh)

	var wg sync.WaitGroup
	for range max(1, min(numWorkers, len(jobs))) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for q := range jobCh {
				job := q.job
				err := processJob(ctx, &job, ids[q.index], runner, reporter)
				results[q.index] = Result{Job: job, Err: err}
			}
		}()
	}
	wg.Wait()

	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return results, fmt.Errorf("%d of %d jobs failed", failed, len(jobs))
	}
	return results, nil
}

func processJob(ctx context.Context, job *utils.StitchJob, id int, runner utils.Runner, reporter Reporter) error {
	fail := func(stage string, err error) error {
		err = fmt.Errorf("%s failed: %w", stage, err)
		log.Debug().Str("op", "scheduler").Err(err).Msgf("Job %s", job.BaseURL)
		reporter.ReportError(id, err)
		return err
	}
	if err := ctx.Err(); err != nil {
		return fail("scheduling", err)
	}

	reporter.SetMessage(id, fmt.Sprintf("Validating %s", job.BaseURL))
	if err := runner.ValidateJob(job); err != nil {
		return fail("validation", err)
	}
	reporter.SetMessage(id, fmt.Sprintf("Preparing %s", job.BaseURL))
	if err := runner.BuildJob(job); err != nil {
		return fail("build", err)
	}

	reporter.SetMessage(id, fmt.Sprintf("Combining into %s", job.OutputPath))
	job.ProgressFunc = func(downloaded, total int64) {
		reporter.Progress(id, downloaded, total)
	}
	job.StatusFunc = func(line string) {
		reporter.SetMessage(id, line)
	}
	if err := runner.Run(ctx, job); err != nil {
		return fail("combine", err)
	}
	reporter.Complete(id, fmt.Sprintf("Combined %s into %s", job.BaseURL, job.OutputPath))
	return nil
}
