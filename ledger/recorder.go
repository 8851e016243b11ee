// Package ledger records operation runs (ingests, backfills, index
// refreshes) in an append-only activity ledger so past activity can be
// inspected later.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/recall/core"
	"github.com/poiesic/recall/storage"
)

// ErrLedgerRepositoryRequired is returned when a ledger repository is not provided.
var ErrLedgerRepositoryRequired = errors.New("ledger repository required")

// Event status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Recorder wraps operations so that each run leaves a ledger event
// with its parameters, duration, and outcome.
type Recorder struct {
	ledger storage.LedgerRepository
	logger *slog.Logger
}

// NewRecorder creates a recorder over the given ledger repository.
func NewRecorder(repository storage.LedgerRepository) (*Recorder, error) {
	if repository == nil {
		return nil, ErrLedgerRepositoryRequired
	}
	return &Recorder{
		ledger: repository,
		logger: slog.Default().With("component", "ledger"),
	}, nil
}

// Record runs fn and appends one event describing the run. The event is
// written whether fn succeeds or fails; fn's error is returned
// unchanged. A failure to write the ledger is logged, never propagated,
// so bookkeeping cannot break the operation it observes.
func (r *Recorder) Record(ctx context.Context, kind string, params map[string]string, fn func(ctx context.Context) error) error {
	event := &core.LedgerEvent{
		Id:        uuid.NewString(),
		Kind:      kind,
		StartedAt: time.Now().UTC(),
		Params:    params,
	}

	err := fn(ctx)

	event.FinishedAt = time.Now().UTC()
	event.Seconds = event.FinishedAt.Sub(event.StartedAt).Seconds()
	if err != nil {
		event.Status = StatusError
		event.Error = err.Error()
	} else {
		event.Status = StatusOK
	}

	if appendErr := r.ledger.AppendEvent(ctx, event); appendErr != nil {
		r.logger.Warn("failed to append ledger event", "kind", kind, "err", appendErr)
	}
	return err
}

// Recent returns up to limit events, most recent first.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]*core.LedgerEvent, error) {
	return r.ledger.RecentEvents(ctx, limit)
}
