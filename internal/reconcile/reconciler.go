// Package reconcile orchestrates one chainhook delivery: rollback of
// invalidated blocks, then decode-and-apply of confirmed blocks, preserving
// the delivered order exactly. Per-event failures never abort a delivery;
// only store failures do, forcing the caller to redeliver the whole batch
// (safe, every apply is idempotent).
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"streamindexer/internal/decoder"
	"streamindexer/internal/ledger"
	"streamindexer/internal/metrics"
	"streamindexer/internal/models"
	"streamindexer/internal/retry"
	"streamindexer/internal/storage"
)

// State tracks where a delivery ended up.
type State string

const (
	StateAcknowledged    State = "acknowledged"
	StatePartiallyFailed State = "partially_failed"
)

// EventError records one rejected or undecodable event for operator
// visibility. The chain-indexing caller still gets a 200.
type EventError struct {
	StreamID int64
	Origin   models.OriginKey
	Err      error
}

// Outcome summarizes a processed delivery.
type Outcome struct {
	DeliveryID string
	State      State

	BlocksApplied    int
	BlocksRolledBack int
	EventsApplied    int
	EventsSkipped    int
	EventsRejected   int
	DecodeFailures   int

	EventErrors []EventError
}

// Reconciler drives deliveries through decode, apply and rollback.
type Reconciler struct {
	repo    storage.Repository
	ledger  *ledger.Ledger
	decoder *decoder.Decoder
	retrier retry.Strategy
}

func New(repo storage.Repository, retrier retry.Strategy) *Reconciler {
	return &Reconciler{
		repo:    repo,
		ledger:  ledger.New(repo),
		decoder: decoder.New(),
		retrier: retrier,
	}
}

// ProcessDelivery handles one webhook payload. The returned error is non-nil
// only for store-level failures that make the batch unprocessable; everything
// else is absorbed into the outcome.
func (r *Reconciler) ProcessDelivery(ctx context.Context, payload *models.ChainhookPayload) (*Outcome, error) {
	start := time.Now()
	defer func() {
		metrics.DeliveryProcessingDuration.Observe(time.Since(start).Seconds())
	}()

	outcome := &Outcome{DeliveryID: payload.Chainhook.UUID}
	if outcome.DeliveryID == "" {
		outcome.DeliveryID = uuid.NewString()
	}

	slog.Info("Processing chainhook delivery",
		"delivery_id", outcome.DeliveryID,
		"hook", payload.Chainhook.Name,
		"apply_blocks", len(payload.Apply),
		"rollback_blocks", len(payload.Rollback),
	)

	// A reorg delivery carries both arrays: the abandoned fork must be undone
	// before the canonical fork is applied.
	rolledBack := make(map[int64]bool, len(payload.Rollback))
	for _, rb := range payload.Rollback {
		rolledBack[rb.BlockIdentifier.Index] = true
	}
	for _, rb := range payload.Rollback {
		if err := r.rollbackBlock(ctx, rb.BlockIdentifier.Index, rolledBack, outcome); err != nil {
			metrics.ErrorsTotal.WithLabelValues("reconcile").Inc()
			return outcome, fmt.Errorf("rolling back block %d: %w", rb.BlockIdentifier.Index, err)
		}
		outcome.BlocksRolledBack++
		metrics.BlocksRolledBack.Inc()
	}

	for _, block := range payload.Apply {
		if err := r.applyBlock(ctx, block, outcome); err != nil {
			metrics.ErrorsTotal.WithLabelValues("reconcile").Inc()
			return outcome, fmt.Errorf("applying block %d: %w", block.BlockIdentifier.Index, err)
		}
		outcome.BlocksApplied++
		metrics.BlocksApplied.Inc()
		metrics.LastAppliedBlock.Set(float64(block.BlockIdentifier.Index))
	}

	outcome.State = StateAcknowledged
	if len(outcome.EventErrors) > 0 {
		outcome.State = StatePartiallyFailed
		for _, ee := range outcome.EventErrors {
			slog.Error("Event rejected during delivery",
				"delivery_id", outcome.DeliveryID,
				"stream_id", ee.StreamID,
				"origin", ee.Origin,
				"error", ee.Err,
			)
		}
	}

	metrics.DeliveriesProcessed.Inc()
	slog.Info("Delivery processed",
		"delivery_id", outcome.DeliveryID,
		"state", outcome.State,
		"events_applied", outcome.EventsApplied,
		"events_skipped", outcome.EventsSkipped,
		"events_rejected", outcome.EventsRejected,
		"decode_failures", outcome.DecodeFailures,
	)
	return outcome, nil
}

// applyBlock processes one confirmed block: transactions in delivered order,
// events within each transaction in receipt order. The ordering is load-
// bearing: a resume applied before its matching pause corrupts the paused
// duration, so out-of-order events are rejected, not reordered.
func (r *Reconciler) applyBlock(ctx context.Context, block models.ChainhookBlock, outcome *Outcome) error {
	for _, tx := range block.Transactions {
		events, skipped := r.decoder.DecodeTransaction(block.BlockIdentifier, block.Timestamp, tx)
		outcome.DecodeFailures += skipped
		if skipped > 0 {
			metrics.DecodeFailures.Add(float64(skipped))
		}

		for _, event := range events {
			var applied bool
			err := r.retrier.Execute(ctx, func() error {
				var aerr error
				applied, aerr = r.ledger.Apply(ctx, event)
				return aerr
			})

			if err != nil {
				if errors.Is(err, ledger.ErrInvariantViolation) {
					outcome.EventsRejected++
					outcome.EventErrors = append(outcome.EventErrors, EventError{
						StreamID: event.StreamID,
						Origin:   event.Origin,
						Err:      err,
					})
					metrics.EventsRejected.WithLabelValues(string(event.Type)).Inc()
					continue
				}
				return err
			}

			if applied {
				outcome.EventsApplied++
				metrics.EventsApplied.WithLabelValues(string(event.Type)).Inc()
			} else {
				outcome.EventsSkipped++
				metrics.EventsSkipped.Inc()
			}
		}
	}
	return nil
}

// rollbackBlock undoes every logged event from a block, inverting recorded
// effects in reverse application order. When inversion cannot reproduce a
// consistent state the stream is rebuilt by replaying its surviving log.
func (r *Reconciler) rollbackBlock(ctx context.Context, blockHeight int64, rolledBack map[int64]bool, outcome *Outcome) error {
	entries, err := r.repo.ListEventLogByBlock(ctx, blockHeight)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		slog.Debug("No applied events for rolled-back block", "block", blockHeight)
		return nil
	}

	for _, entry := range entries {
		err := r.invertEntry(ctx, entry)
		if err == nil {
			continue
		}
		if !errors.Is(err, ledger.ErrInvariantViolation) {
			return err
		}

		slog.Warn("Inversion failed, replaying stream from event log",
			"stream_id", entry.StreamID,
			"block", blockHeight,
			"error", err,
		)
		metrics.StreamReplays.Inc()
		if err := r.replayStream(ctx, entry.StreamID, rolledBack); err != nil {
			return err
		}
	}
	return nil
}

// invertEntry undoes one applied effect and removes its log entry.
func (r *Reconciler) invertEntry(ctx context.Context, entry *models.EventLogEntry) error {
	return r.repo.WithStreamLock(ctx, entry.StreamID, func(repo storage.Repository) error {
		// The entry may already be gone if a concurrent redelivery of the
		// same rollback got here first.
		seen, err := repo.EventApplied(ctx, entry.StreamID, entry.Origin)
		if err != nil {
			return err
		}
		if !seen {
			return nil
		}

		stream, err := repo.GetStream(ctx, entry.StreamID)
		if err != nil && !errors.Is(err, storage.ErrStreamNotFound) {
			return err
		}

		next, err := ledger.Invert(stream, entry)
		if err != nil {
			return err
		}

		if next == nil {
			if err := repo.DeleteStream(ctx, entry.StreamID); err != nil {
				return err
			}
		} else {
			if err := repo.UpdateStream(ctx, next); err != nil {
				return err
			}
		}

		return repo.DeleteEventLogEntry(ctx, entry.StreamID, entry.Origin)
	})
}

// replayStream rebuilds a projection from scratch: drop the stored state,
// discard entries belonging to rolled-back blocks, fold the rest in order.
func (r *Reconciler) replayStream(ctx context.Context, streamID int64, rolledBack map[int64]bool) error {
	return r.repo.WithStreamLock(ctx, streamID, func(repo storage.Repository) error {
		if err := repo.DeleteStream(ctx, streamID); err != nil {
			return err
		}

		entries, err := repo.ListEventLogByStream(ctx, streamID)
		if err != nil {
			return err
		}

		var remaining []*models.EventLogEntry
		for _, entry := range entries {
			if rolledBack[entry.Origin.BlockHeight] {
				if err := repo.DeleteEventLogEntry(ctx, streamID, entry.Origin); err != nil {
					return err
				}
				continue
			}
			remaining = append(remaining, entry)
		}

		stream, err := ledger.Replay(remaining)
		if err != nil {
			// The surviving log itself is inconsistent; clear it so a future
			// redelivery rebuilds the stream from the chain's events.
			slog.Error("Replay failed, discarding stream history",
				"stream_id", streamID,
				"error", err,
			)
			return repo.DeleteEventLogByStream(ctx, streamID)
		}
		if stream == nil {
			// Creation was among the rolled-back blocks.
			return nil
		}

		return repo.InsertStream(ctx, stream)
	})
}
