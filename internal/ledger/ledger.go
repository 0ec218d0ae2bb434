// Package ledger maintains the per-stream projections. Every apply is gated
// by the append-only event log, so redelivered events are true no-ops even
// across process restarts or concurrent deliveries.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"streamindexer/internal/metrics"
	"streamindexer/internal/models"
	"streamindexer/internal/storage"
)

// Ledger applies decoded stream events to persistent projections.
type Ledger struct {
	repo storage.Repository
}

func New(repo storage.Repository) *Ledger {
	return &Ledger{repo: repo}
}

// Apply applies one event idempotently. Returns true when the projection was
// mutated, false for duplicates and no-ops. Invariant violations are returned
// wrapped in ErrInvariantViolation; any other error is a store failure.
func (l *Ledger) Apply(ctx context.Context, event models.StreamEvent) (bool, error) {
	var applied bool

	start := time.Now()
	defer func() {
		metrics.StoreBatchDuration.Observe(time.Since(start).Seconds())
	}()

	err := l.repo.WithStreamLock(ctx, event.StreamID, func(repo storage.Repository) error {
		seen, err := repo.EventApplied(ctx, event.StreamID, event.Origin)
		if err != nil {
			return err
		}
		if seen {
			slog.Debug("Skipping already-applied event",
				"stream_id", event.StreamID,
				"origin", event.Origin,
				"type", event.Type,
			)
			return nil
		}

		stream, err := repo.GetStream(ctx, event.StreamID)
		if err != nil && !errors.Is(err, storage.ErrStreamNotFound) {
			return err
		}

		next, effect, err := Transition(stream, event)
		if err != nil {
			if errors.Is(err, ErrNoOp) {
				l.logNoOp(stream, event)
				return nil
			}
			return err
		}

		if effect.Kind == models.EffectCreate {
			if err := repo.InsertStream(ctx, next); err != nil {
				return err
			}
		} else {
			if err := repo.UpdateStream(ctx, next); err != nil {
				return err
			}
		}

		entry := &models.EventLogEntry{
			StreamID: event.StreamID,
			Origin:   event.Origin,
			Event:    event,
			Effect:   effect,
		}
		if err := repo.AppendEventLog(ctx, entry); err != nil {
			return err
		}

		applied = true
		return nil
	})

	if err != nil {
		return false, fmt.Errorf("applying %s to stream %d: %w", event.Type, event.StreamID, err)
	}
	return applied, nil
}

// logNoOp reports benign duplicates. A re-created stream whose fields differ
// from the stored projection is a chain anomaly worth flagging.
func (l *Ledger) logNoOp(stream *models.Stream, event models.StreamEvent) {
	if event.Type == models.EventStreamCreated && stream != nil {
		if stream.Sender != event.Sender ||
			stream.Recipient != event.Recipient ||
			stream.TokenAmount != event.Amount ||
			stream.EndTime-stream.StartTime != event.Duration {
			slog.Warn("Duplicate stream creation with differing fields (chain anomaly)",
				"stream_id", event.StreamID,
				"origin", event.Origin,
				"stored_amount", stream.TokenAmount,
				"event_amount", event.Amount,
			)
			return
		}
	}
	slog.Debug("No-op event", "stream_id", event.StreamID, "type", event.Type, "origin", event.Origin)
}
