package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cuongbtq/shell-executor/internal/worker/domain"
)

// runBatch executes one round of jobs on a pool bounded by concurrency and
// returns the dispatched jobs once every one of them has finished (the round
// barrier). Jobs not yet dispatched when ctx is cancelled are left untouched
// in WAITING.
func (s *Scheduler) runBatch(ctx context.Context, runID string, jobs []*domain.Job, concurrency int) []*domain.Job {
	if len(jobs) == 0 {
		return nil
	}

	jobsChan := make(chan *domain.Job)
	var wg sync.WaitGroup
	dispatched := make([]*domain.Job, 0, len(jobs))

	s.spawnWorkerPool(ctx, runID, min(concurrency, len(jobs)), jobsChan, &wg)

dispatch:
	for _, job := range jobs {
		select {
		case jobsChan <- job:
			dispatched = append(dispatched, job)
			s.logger.Debug("Job dispatched to worker pool",
				slog.String("job", job.Name),
			)
		case <-ctx.Done():
			s.logger.Info("Dispatcher stopped - context canceled")
			break dispatch
		}
	}
	close(jobsChan)

	wg.Wait()
	return dispatched
}

// spawnWorkerPool spawns N worker goroutines reading from jobsChan
func (s *Scheduler) spawnWorkerPool(ctx context.Context, runID string, n int, jobsChan <-chan *domain.Job, wg *sync.WaitGroup) {
	s.logger.Debug("Spawning worker pool",
		slog.Int("concurrency", n),
	)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go s.workerLoop(ctx, runID, i, jobsChan, wg)
	}
}

// workerLoop is the processing loop for each worker goroutine
func (s *Scheduler) workerLoop(ctx context.Context, runID string, workerNum int, jobsChan <-chan *domain.Job, wg *sync.WaitGroup) {
	defer wg.Done()

	workerName := fmt.Sprintf("worker-%d", workerNum)

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case job, ok := <-jobsChan:
			if !ok {
				return
			}

			s.logger.Debug("Worker received job",
				slog.String("worker_name", workerName),
				slog.String("job", job.Name),
			)

			s.unit.Execute(ctx, runID, job)
		}
	}
}
