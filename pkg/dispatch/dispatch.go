// Package dispatch implements the Dispatcher: loads a run by id, routes to
// the registered processor handler, and guarantees a terminal status on
// every exit path (spec.md §4.2).
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/YodaheaD/assetintel/pkg/processor"
	"github.com/YodaheaD/assetintel/pkg/run"
)

// Dispatcher routes a queued run id to its processor handler.
type Dispatcher struct {
	runs     *run.Store
	registry *processor.Registry
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(runs *run.Store, registry *processor.Registry) *Dispatcher {
	return &Dispatcher{runs: runs, registry: registry}
}

// Dispatch implements dispatch(run_id). It never returns an error for a
// missing/already-terminal run (no-op); a missing processor spec is itself
// a terminal failure, not an error returned to the caller. Only handler
// errors propagate (a handler panic is recovered and returned as an
// error), so the caller (the worker) can apply the
// retry/dead-letter policy on job_try.
func (d *Dispatcher) Dispatch(ctx context.Context, runID uuid.UUID) error {
	r, err := d.runs.GetAny(ctx, runID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("loading run %s: %w", runID, err)
	}
	if r.Status.Terminal() {
		return nil
	}

	spec, err := d.registry.Get(r.ProcessorName)
	if err != nil {
		message := fmt.Sprintf("Unknown processor: %s", r.ProcessorName)
		if markErr := d.runs.MarkFailed(ctx, r.ID, message); markErr != nil {
			return fmt.Errorf("marking run failed for unknown processor: %w", markErr)
		}
		return nil
	}

	handlerErr := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("processor handler panicked: %v", p)
			}
		}()
		return spec.Handler(ctx, r.ID.String())
	}()
	if handlerErr != nil {
		// The handler is responsible for its own terminal transitions; a
		// leaked error here still needs a terminal fallback so invariant I1
		// holds even when a handler panics mid-flight without one.
		if fallbackErr := d.ensureTerminal(ctx, r.ID, handlerErr); fallbackErr != nil {
			return fmt.Errorf("applying terminal fallback: %w", fallbackErr)
		}
		return handlerErr
	}

	return nil
}

// ensureTerminal marks a run failed if the handler returned an error
// without itself having reached a terminal status — the dispatcher's
// fallback guarantee for invariant I1.
func (d *Dispatcher) ensureTerminal(ctx context.Context, runID uuid.UUID, handlerErr error) error {
	current, err := d.runs.GetAny(ctx, runID)
	if err != nil {
		return fmt.Errorf("reloading run %s for terminal fallback: %w", runID, err)
	}
	if current.Status.Terminal() {
		return nil
	}
	return d.runs.MarkFailed(ctx, runID, handlerErr.Error())
}
