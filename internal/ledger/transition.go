package ledger

import (
	"errors"
	"fmt"
	"time"

	"streamindexer/internal/models"
)

// ErrInvariantViolation marks an event that contradicts the projection's
// state (withdrawal past principal, resume without pause, mutation of a
// cancelled stream). Such events are rejected individually; the rest of the
// batch proceeds.
var ErrInvariantViolation = errors.New("invariant violation")

// ErrNoOp marks an event that is valid but changes nothing (e.g. a pause for
// an already-paused stream). No event-log entry is recorded for it.
var ErrNoOp = errors.New("no-op event")

// Transition applies one event to a projection and returns the next state
// plus the reversible effect. Pure: the input stream is not mutated; stream
// is nil when no projection exists yet (only valid for stream-created).
func Transition(stream *models.Stream, event models.StreamEvent) (*models.Stream, models.AppliedEffect, error) {
	switch event.Type {
	case models.EventStreamCreated:
		return transitionCreate(stream, event)
	case models.EventWithdrawal:
		return transitionWithdraw(stream, event)
	case models.EventStreamCancelled:
		return transitionCancel(stream, event)
	case models.EventStreamPaused:
		return transitionPause(stream, event)
	case models.EventStreamResumed:
		return transitionResume(stream, event)
	default:
		return nil, models.AppliedEffect{}, fmt.Errorf("%w: unknown event type %q", ErrInvariantViolation, event.Type)
	}
}

func transitionCreate(stream *models.Stream, event models.StreamEvent) (*models.Stream, models.AppliedEffect, error) {
	if stream != nil {
		// Duplicate delivery of the creation event; the caller decides
		// whether the incoming fields match the stored ones.
		return nil, models.AppliedEffect{}, ErrNoOp
	}

	next := &models.Stream{
		ID:             event.StreamID,
		Sender:         event.Sender,
		Recipient:      event.Recipient,
		TokenAmount:    event.Amount,
		StartTime:      event.Timestamp,
		EndTime:        event.Timestamp + event.Duration,
		CreatedAtBlock: event.Origin.BlockHeight,
		TokenType:      event.TokenType,
		TokenContract:  event.TokenContract,
		CreatedAt:      time.Unix(event.Timestamp, 0).UTC(),
	}
	return next, models.AppliedEffect{Kind: models.EffectCreate}, nil
}

func transitionWithdraw(stream *models.Stream, event models.StreamEvent) (*models.Stream, models.AppliedEffect, error) {
	if stream == nil {
		return nil, models.AppliedEffect{}, fmt.Errorf("%w: withdrawal for unknown stream %d", ErrInvariantViolation, event.StreamID)
	}
	if stream.IsCancelled {
		return nil, models.AppliedEffect{}, fmt.Errorf("%w: withdrawal on cancelled stream %d", ErrInvariantViolation, stream.ID)
	}
	if event.Amount > stream.TokenAmount-stream.WithdrawnAmount {
		// Never clamp financial state: an over-withdrawal signals a decoder
		// or chain-logic mismatch and must surface to operators.
		return nil, models.AppliedEffect{}, fmt.Errorf(
			"%w: withdrawal of %d exceeds remaining principal %d on stream %d",
			ErrInvariantViolation, event.Amount, stream.TokenAmount-stream.WithdrawnAmount, stream.ID,
		)
	}

	next := *stream
	next.WithdrawnAmount += event.Amount
	return &next, models.AppliedEffect{Kind: models.EffectWithdraw, Amount: event.Amount}, nil
}

func transitionCancel(stream *models.Stream, event models.StreamEvent) (*models.Stream, models.AppliedEffect, error) {
	if stream == nil {
		return nil, models.AppliedEffect{}, fmt.Errorf("%w: cancellation for unknown stream %d", ErrInvariantViolation, event.StreamID)
	}
	if stream.IsCancelled {
		return nil, models.AppliedEffect{}, fmt.Errorf("%w: stream %d already cancelled", ErrInvariantViolation, stream.ID)
	}

	// The cancellation event carries no final withdrawn/refunded split, so
	// WithdrawnAmount keeps its last observed value and may understate the
	// on-chain settlement. Known gap; needs a re-sync or a richer event.
	next := *stream
	next.IsCancelled = true
	return &next, models.AppliedEffect{Kind: models.EffectCancel}, nil
}

func transitionPause(stream *models.Stream, event models.StreamEvent) (*models.Stream, models.AppliedEffect, error) {
	if stream == nil {
		return nil, models.AppliedEffect{}, fmt.Errorf("%w: pause for unknown stream %d", ErrInvariantViolation, event.StreamID)
	}
	if stream.IsCancelled {
		return nil, models.AppliedEffect{}, fmt.Errorf("%w: pause on cancelled stream %d", ErrInvariantViolation, stream.ID)
	}
	if stream.IsPaused {
		// Redelivery is expected; an already-paused stream stays paused.
		return nil, models.AppliedEffect{}, ErrNoOp
	}

	next := *stream
	next.IsPaused = true
	next.PausedAt = event.Timestamp
	return &next, models.AppliedEffect{Kind: models.EffectPause, PausedAt: event.Timestamp}, nil
}

func transitionResume(stream *models.Stream, event models.StreamEvent) (*models.Stream, models.AppliedEffect, error) {
	if stream == nil {
		return nil, models.AppliedEffect{}, fmt.Errorf("%w: resume for unknown stream %d", ErrInvariantViolation, event.StreamID)
	}
	if stream.IsCancelled {
		return nil, models.AppliedEffect{}, fmt.Errorf("%w: resume on cancelled stream %d", ErrInvariantViolation, stream.ID)
	}
	if !stream.IsPaused {
		// A resume arriving before its matching pause corrupts the paused
		// duration if applied; reject it and let the pause land first.
		return nil, models.AppliedEffect{}, fmt.Errorf("%w: resume on stream %d that is not paused", ErrInvariantViolation, stream.ID)
	}

	elapsed := event.Timestamp - stream.PausedAt
	if elapsed < 0 {
		return nil, models.AppliedEffect{}, fmt.Errorf(
			"%w: resume at %d precedes pause at %d on stream %d",
			ErrInvariantViolation, event.Timestamp, stream.PausedAt, stream.ID,
		)
	}

	next := *stream
	next.IsPaused = false
	next.TotalPausedDuration += elapsed
	effect := models.AppliedEffect{Kind: models.EffectResume, Elapsed: elapsed, PausedAt: next.PausedAt}
	next.PausedAt = 0
	return &next, effect, nil
}

// Invert undoes a recorded effect on a projection. A nil result with nil
// error means the projection itself is gone (creation rolled back). Fails
// when the current state cannot have been produced by the effect, in which
// case the caller falls back to a full replay.
func Invert(stream *models.Stream, entry *models.EventLogEntry) (*models.Stream, error) {
	effect := entry.Effect

	if effect.Kind == models.EffectCreate {
		if stream == nil {
			return nil, fmt.Errorf("%w: creation of stream %d already rolled back", ErrInvariantViolation, entry.StreamID)
		}
		return nil, nil
	}

	if stream == nil {
		return nil, fmt.Errorf("%w: no projection for stream %d to invert %s", ErrInvariantViolation, entry.StreamID, effect.Kind)
	}

	next := *stream
	switch effect.Kind {
	case models.EffectWithdraw:
		next.WithdrawnAmount -= effect.Amount
		if next.WithdrawnAmount < 0 {
			return nil, fmt.Errorf("%w: inverting withdrawal of %d drives stream %d negative", ErrInvariantViolation, effect.Amount, stream.ID)
		}

	case models.EffectCancel:
		if !next.IsCancelled {
			return nil, fmt.Errorf("%w: stream %d is not cancelled", ErrInvariantViolation, stream.ID)
		}
		next.IsCancelled = false

	case models.EffectPause:
		if !next.IsPaused || next.PausedAt != effect.PausedAt {
			return nil, fmt.Errorf("%w: pause state of stream %d diverged", ErrInvariantViolation, stream.ID)
		}
		next.IsPaused = false
		next.PausedAt = 0

	case models.EffectResume:
		if next.IsPaused {
			return nil, fmt.Errorf("%w: stream %d paused again after resume", ErrInvariantViolation, stream.ID)
		}
		next.TotalPausedDuration -= effect.Elapsed
		if next.TotalPausedDuration < 0 {
			return nil, fmt.Errorf("%w: inverting resume drives paused duration negative on stream %d", ErrInvariantViolation, stream.ID)
		}
		next.IsPaused = true
		next.PausedAt = effect.PausedAt

	default:
		return nil, fmt.Errorf("%w: unknown effect kind %q", ErrInvariantViolation, effect.Kind)
	}

	return &next, nil
}

// Replay folds a stream's remaining event-log entries into a fresh
// projection, for when pure inversion is not possible. Entries must be in
// application order; a nil result means no creation event remains.
func Replay(entries []*models.EventLogEntry) (*models.Stream, error) {
	var stream *models.Stream
	for _, entry := range entries {
		next, _, err := Transition(stream, entry.Event)
		if err != nil {
			if errors.Is(err, ErrNoOp) {
				continue
			}
			return nil, fmt.Errorf("replaying %s: %w", entry.Origin, err)
		}
		stream = next
	}
	return stream, nil
}
