package runner

import (
	"context"
	"log/slog"
	"sync"
)

// sweepJob is a unit of work for the worker pool.
type sweepJob struct {
	index int
	req   Request
}

// sweepResult is the output of a single run, tagged with its request index.
type sweepResult struct {
	index   int
	outcome Outcome
}

// WorkerPool manages a fixed number of goroutines for parallel runs.
type WorkerPool struct {
	workers int
	logger  *slog.Logger
}

// NewWorkerPool creates a worker pool with the given number of workers.
func NewWorkerPool(workers int, logger *slog.Logger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{
		workers: workers,
		logger:  logger,
	}
}

// RunBatch executes every request with run and returns the outcomes in
// request order, along with success and error counts. Requests not started
// before ctx is cancelled carry ctx.Err().
func (wp *WorkerPool) RunBatch(ctx context.Context, reqs []Request, run func(context.Context, Request) Outcome) ([]Outcome, int, int) {
	if len(reqs) == 0 {
		return nil, 0, 0
	}

	jobs := make(chan sweepJob, wp.workers*2)
	results := make(chan sweepResult, wp.workers*2)

	// Start workers.
	var wg sync.WaitGroup
	for i := 0; i < wp.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				result := sweepResult{index: job.index, outcome: run(ctx, job.req)}
				select {
				case results <- result:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	// Feed jobs in a goroutine.
	go func() {
		defer close(jobs)
		for i, req := range reqs {
			select {
			case jobs <- sweepJob{index: i, req: req}:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Close results when all workers are done.
	go func() {
		wg.Wait()
		close(results)
	}()

	// Collect results.
	outcomes := make([]Outcome, len(reqs))
	done := make([]bool, len(reqs))
	var successCount, errorCount int

	for result := range results {
		outcomes[result.index] = result.outcome
		done[result.index] = true
		if result.outcome.Err != nil {
			errorCount++
			wp.logger.Warn("sweep run failed",
				"index", result.index,
				"label", result.outcome.Label,
				"error", result.outcome.Err,
			)
			continue
		}
		successCount++
	}

	for i := range outcomes {
		if done[i] {
			continue
		}
		err := ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		outcomes[i] = Outcome{Label: reqs[i].Label, Err: err, Error: err.Error()}
		errorCount++
	}

	return outcomes, successCount, errorCount
}
