package job

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Composer runs a claimed job's full render pipeline and returns its result.
type Composer interface {
	Compose(ctx context.Context, j *Job) (*Result, error)
}

// Scheduler is the single cooperative worker loop. It polls the store for the
// oldest pending job, runs it to a terminal state through the Composer, and
// only then considers the next. Loop-level errors are transient: the loop
// logs, backs off one interval, and retries indefinitely.
type Scheduler struct {
	store    *Store
	composer Composer
	interval time.Duration
	logger   *zap.Logger
	done     chan struct{}
}

func NewScheduler(store *Store, composer Composer, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		composer: composer,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start launches the worker loop on its own goroutine. The loop exits only
// when ctx is canceled; Wait blocks until it has drained.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("worker scheduler started", zap.Duration("poll_interval", s.interval))
	go s.run(ctx)
}

// Wait blocks until the loop has observed cancellation and returned.
func (s *Scheduler) Wait() {
	<-s.done
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	for {
		if ctx.Err() != nil {
			s.logger.Info("worker scheduler shutting down")
			return
		}

		jobs, err := s.store.ListPending(ctx, 1)
		if err != nil {
			s.logger.Error("polling for pending jobs failed", zap.Error(err))
			if !s.sleep(ctx) {
				return
			}
			continue
		}

		if len(jobs) == 0 {
			if !s.sleep(ctx) {
				return
			}
			continue
		}

		s.process(ctx, jobs[0])
	}
}

// process drives one job from pending to a terminal state.
func (s *Scheduler) process(ctx context.Context, j *Job) {
	logger := s.logger.With(zap.String("job_id", j.ID))

	if err := s.store.MarkProcessing(ctx, j.ID); err != nil {
		logger.Error("claiming job failed", zap.Error(err))
		return
	}
	logger.Info("processing job")

	start := time.Now()
	result, err := s.composer.Compose(ctx, j)
	if err != nil {
		logger.Error("job failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		if ferr := s.store.Fail(ctx, j.ID, err.Error()); ferr != nil {
			logger.Error("recording job failure failed", zap.Error(ferr))
		}
		return
	}

	result.ProcessingTime = time.Since(start).Seconds()
	if err := s.store.Complete(ctx, j.ID, *result); err != nil {
		logger.Error("recording job result failed", zap.Error(err))
		return
	}
	logger.Info("job completed",
		zap.Float64("duration_seconds", result.Duration),
		zap.Float64("processing_time", result.ProcessingTime))
}

// sleep idles one poll interval, returning false if ctx was canceled.
func (s *Scheduler) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		s.logger.Info("worker scheduler shutting down")
		return false
	case <-time.After(s.interval):
		return true
	}
}
