// Package worker implements the Worker Runtime: a long-running consumer
// that executes the Dispatcher for each queued run under a bounded job
// timeout (spec.md §2 item 12, §5).
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/YodaheaD/assetintel/internal/telemetry"
	"github.com/YodaheaD/assetintel/pkg/deadletter"
	"github.com/YodaheaD/assetintel/pkg/dispatch"
	"github.com/YodaheaD/assetintel/pkg/queue"
	"github.com/YodaheaD/assetintel/pkg/run"
	"github.com/YodaheaD/assetintel/pkg/usage"
)

// Config tunes the runtime's concurrency and per-job deadline.
type Config struct {
	Concurrency     int
	JobTimeout      time.Duration
	ConsumeBlockFor time.Duration
	MaxTries        int
}

// Runtime drains the Queue Adapter with a fixed-size goroutine pool,
// dispatching each job and applying the retry/dead-letter policy on failure.
type Runtime struct {
	queue      *queue.Adapter
	dispatcher *dispatch.Dispatcher
	runs       *run.Store
	deadletter *deadletter.Service
	usage      *usage.Service
	logger     *slog.Logger
	config     Config
}

// NewRuntime creates a Runtime.
func NewRuntime(q *queue.Adapter, dispatcher *dispatch.Dispatcher, runs *run.Store, dl *deadletter.Service, usageSvc *usage.Service, logger *slog.Logger, cfg Config) *Runtime {
	return &Runtime{queue: q, dispatcher: dispatcher, runs: runs, deadletter: dl, usage: usageSvc, logger: logger, config: cfg}
}

// Run starts Concurrency worker goroutines and blocks until ctx is canceled.
func (r *Runtime) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < r.config.Concurrency; i++ {
		wg.Add(1)
		go func(workerNum int) {
			defer wg.Done()
			r.loop(ctx, workerNum)
		}(i)
	}
	wg.Wait()
	return nil
}

func (r *Runtime) loop(ctx context.Context, workerNum int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		runID, jobTry, err := r.queue.Consume(ctx, r.config.ConsumeBlockFor)
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) || errors.Is(err, context.Canceled) {
				continue
			}
			r.logger.Error("consuming from queue", "worker", workerNum, "error", err)
			continue
		}
		if depth, err := r.queue.Depth(ctx); err == nil {
			telemetry.QueueDepth.Set(float64(depth))
		}

		r.process(ctx, runID, jobTry)
	}
}

func (r *Runtime) process(ctx context.Context, runID uuid.UUID, jobTry int) {
	jobCtx, cancel := context.WithTimeout(ctx, r.config.JobTimeout)
	defer cancel()

	logger := r.logger.With("run_id", runID, "job_try", jobTry)

	before, err := r.runs.GetAny(jobCtx, runID)
	if err != nil {
		logger.Error("loading run before dispatch", "error", err)
		return
	}

	dispatchErr := r.dispatcher.Dispatch(jobCtx, runID)

	telemetry.RunsDispatchedTotal.WithLabelValues(before.ProcessorName).Inc()

	after, reloadErr := r.runs.GetAny(ctx, runID)
	if reloadErr != nil {
		logger.Error("reloading run after dispatch", "error", reloadErr)
		return
	}

	telemetry.RunsCompletedTotal.WithLabelValues(before.ProcessorName, string(after.Status)).Inc()

	switch after.Status {
	case run.StatusCompleted:
		if before.Status != run.StatusCompleted {
			if err := r.usage.RecordCompletion(ctx, after.TenantID, after.ProcessorName, time.Now()); err != nil {
				logger.Error("recording usage", "error", err)
			}
		}
	case run.StatusFailed:
		if dispatchErr == nil {
			dispatchErr = errors.New(derefString(after.ErrorMessage, "unknown failure"))
		}
		if jobTry < r.config.MaxTries {
			// Below the retry ceiling: reset the run to pending so the next
			// dispatch attempt actually re-executes the handler instead of
			// Dispatch no-oping on a terminal status, then redeliver it.
			if err := r.runs.IncrementRetry(ctx, runID); err != nil {
				logger.Error("incrementing retry count", "error", err)
			}
			if err := r.runs.ResetToPending(ctx, runID); err != nil {
				logger.Error("resetting run to pending for retry", "error", err)
				return
			}
			if err := r.queue.Requeue(ctx, runID, jobTry); err != nil {
				logger.Error("requeuing after transient failure", "error", err)
			}
			return
		}
		if handleErr := r.deadletter.HandleFailure(ctx, after, before.ProcessorName, jobTry, dispatchErr); handleErr != nil {
			logger.Error("handling failure", "error", handleErr)
			return
		}
		telemetry.RunsDeadletteredTotal.WithLabelValues(before.ProcessorName).Inc()
	case run.StatusCanceled:
		// No further side-effects: cancellation never triggers usage or retry.
	}
}

func derefString(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
