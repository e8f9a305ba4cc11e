// Package queue implements the Queue Adapter: an at-least-once Redis job
// queue with a per-job try counter (spec.md §2 item 2, §4.5), grounded on
// the teacher's Redis usage patterns for list-backed work queues.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultQueueKey  = "assetintel:queue:default"
	tryCounterPrefix = "assetintel:job_try:"
	// visibilityBackoffCap bounds how long a redelivered job waits before
	// becoming visible again.
	visibilityBackoffCap = 30 * time.Second
)

// ErrEmpty is returned by Consume when no job is available within the
// caller's context deadline.
var ErrEmpty = errors.New("queue: no job available")

// Adapter implements enqueue/consume over a single Redis list, with
// job_try tracked in a companion key per run id.
type Adapter struct {
	rdb      *redis.Client
	queueKey string
}

// NewAdapter creates an Adapter using the default queue name.
func NewAdapter(rdb *redis.Client) *Adapter {
	return &Adapter{rdb: rdb, queueKey: defaultQueueKey}
}

// Enqueue pushes a run id onto the queue.
func (a *Adapter) Enqueue(ctx context.Context, runID uuid.UUID) error {
	if err := a.rdb.LPush(ctx, a.queueKey, runID.String()).Err(); err != nil {
		return fmt.Errorf("enqueuing run %s: %w", runID, err)
	}
	return nil
}

// Consume blocks (up to the context deadline) for the next run id,
// incrementing and returning its job_try counter. At-least-once: a run
// popped here and never acked (process crash) is not automatically
// redelivered by this adapter — the worker's dead-letter/retry policy
// assumes redelivery is driven by an explicit re-enqueue: Requeue below
// (the worker's retry below MAX_TRIES) or Enqueue (the dead-letter requeue
// path).
func (a *Adapter) Consume(ctx context.Context, blockFor time.Duration) (runID uuid.UUID, jobTry int, err error) {
	result, err := a.rdb.BRPop(ctx, blockFor, a.queueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return uuid.Nil, 0, ErrEmpty
		}
		return uuid.Nil, 0, fmt.Errorf("consuming from queue: %w", err)
	}
	if len(result) < 2 {
		return uuid.Nil, 0, fmt.Errorf("unexpected BRPOP result shape: %v", result)
	}

	id, err := uuid.Parse(result[1])
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("parsing run id from queue: %w", err)
	}

	try, err := a.incrementTry(ctx, id)
	if err != nil {
		return uuid.Nil, 0, err
	}
	return id, try, nil
}

func (a *Adapter) incrementTry(ctx context.Context, runID uuid.UUID) (int, error) {
	key := tryCounterPrefix + runID.String()
	n, err := a.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incrementing job_try for run %s: %w", runID, err)
	}
	// job_try counters are scoped to a single lifecycle attempt; expire them
	// well past any plausible retry window so Redis doesn't accumulate keys
	// for runs that were requeued (which resets the logical attempt anyway).
	a.rdb.Expire(ctx, key, 24*time.Hour)
	return int(n), nil
}

// ResetTry clears a run's job_try counter — called by the dead-letter
// Service's Requeue, since a requeue starts a fresh logical attempt.
func (a *Adapter) ResetTry(ctx context.Context, runID uuid.UUID) error {
	key := tryCounterPrefix + runID.String()
	if err := a.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("resetting job_try for run %s: %w", runID, err)
	}
	return nil
}

// Requeue re-enqueues a run after a backoff delay, used by the worker when
// job_try is still below MAX_TRIES. The delay itself is queue-controlled
// per spec.md §4.5 ("backoff is queue-controlled").
func (a *Adapter) Requeue(ctx context.Context, runID uuid.UUID, attempt int) error {
	delay := backoffDelay(attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	return a.Enqueue(ctx, runID)
}

func backoffDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	var delay time.Duration
	for i := 0; i <= attempt; i++ {
		delay = b.NextBackOff()
	}
	if delay > visibilityBackoffCap {
		delay = visibilityBackoffCap
	}
	return delay
}

// Depth reports the current queue length, used by the queue_depth gauge.
func (a *Adapter) Depth(ctx context.Context) (int64, error) {
	n, err := a.rdb.LLen(ctx, a.queueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("reading queue depth: %w", err)
	}
	return n, nil
}
