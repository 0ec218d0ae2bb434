package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamindexer/internal/models"
	"streamindexer/internal/storage"
)

const start = int64(1_700_000_000)

func createEvent(streamID int64, origin models.OriginKey) models.StreamEvent {
	return models.StreamEvent{
		Type:      models.EventStreamCreated,
		StreamID:  streamID,
		Sender:    "SP_SENDER",
		Recipient: "SP_RECIPIENT",
		Amount:    1000,
		Duration:  100,
		TokenType: models.TokenTypeNative,
		Timestamp: start,
		Origin:    origin,
	}
}

func withdrawalEvent(streamID, amount, ts int64, origin models.OriginKey) models.StreamEvent {
	return models.StreamEvent{
		Type:      models.EventWithdrawal,
		StreamID:  streamID,
		Recipient: "SP_RECIPIENT",
		Amount:    amount,
		Timestamp: ts,
		Origin:    origin,
	}
}

func lifecycleEvent(typ models.EventType, streamID, ts int64, origin models.OriginKey) models.StreamEvent {
	return models.StreamEvent{
		Type:      typ,
		StreamID:  streamID,
		Sender:    "SP_SENDER",
		Timestamp: ts,
		Origin:    origin,
	}
}

func origin(block int64, tx string, index int) models.OriginKey {
	return models.OriginKey{BlockHeight: block, TxHash: tx, EventIndex: index}
}

func TestApply_CreateThenRead(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemory()
	l := New(repo)

	applied, err := l.Apply(ctx, createEvent(1, origin(100, "0xa", 0)))
	require.NoError(t, err)
	assert.True(t, applied)

	stream, err := repo.GetStream(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), stream.TokenAmount)
	assert.Equal(t, start, stream.StartTime)
	assert.Equal(t, start+100, stream.EndTime)
	assert.Equal(t, int64(100), stream.CreatedAtBlock)
	assert.Equal(t, int64(0), stream.WithdrawnAmount)
	assert.False(t, stream.IsPaused)
	assert.False(t, stream.IsCancelled)
}

func TestApply_SameOriginIsNoOp(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemory()
	l := New(repo)

	key := origin(100, "0xa", 0)
	_, err := l.Apply(ctx, createEvent(1, key))
	require.NoError(t, err)

	wd := withdrawalEvent(1, 300, start+50, origin(101, "0xb", 0))
	applied, err := l.Apply(ctx, wd)
	require.NoError(t, err)
	assert.True(t, applied)

	// Redelivery of the identical event changes nothing.
	applied, err = l.Apply(ctx, wd)
	require.NoError(t, err)
	assert.False(t, applied)

	stream, err := repo.GetStream(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(300), stream.WithdrawnAmount)
}

func TestApply_DuplicateCreateKeepsOriginal(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemory()
	l := New(repo)

	_, err := l.Apply(ctx, createEvent(1, origin(100, "0xa", 0)))
	require.NoError(t, err)

	// Same stream id from a different origin, with different fields: the
	// stored projection must not be re-initialized.
	dup := createEvent(1, origin(105, "0xz", 0))
	dup.Amount = 9999
	applied, err := l.Apply(ctx, dup)
	require.NoError(t, err)
	assert.False(t, applied)

	stream, err := repo.GetStream(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), stream.TokenAmount)

	// And no event-log entry was recorded for the duplicate, so rolling back
	// block 105 later will not delete the stream.
	entries, err := repo.ListEventLogByBlock(ctx, 105)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestApply_WithdrawalsAccumulateAndCap(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemory()
	l := New(repo)

	_, err := l.Apply(ctx, createEvent(1, origin(100, "0xa", 0)))
	require.NoError(t, err)

	for i, amount := range []int64{300, 300} {
		applied, err := l.Apply(ctx, withdrawalEvent(1, amount, start+int64(i), origin(101+int64(i), "0xb", i)))
		require.NoError(t, err)
		assert.True(t, applied)
	}

	stream, err := repo.GetStream(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(600), stream.WithdrawnAmount)

	// 600 + 500 > 1000: rejected, never clamped.
	_, err = l.Apply(ctx, withdrawalEvent(1, 500, start+10, origin(103, "0xd", 0)))
	require.ErrorIs(t, err, ErrInvariantViolation)

	stream, err = repo.GetStream(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(600), stream.WithdrawnAmount, "rejected withdrawal left no trace")
}

func TestApply_PauseResumeAccounting(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemory()
	l := New(repo)

	_, err := l.Apply(ctx, createEvent(1, origin(100, "0xa", 0)))
	require.NoError(t, err)

	steps := []struct {
		typ models.EventType
		ts  int64
	}{
		{models.EventStreamPaused, start + 10},
		{models.EventStreamResumed, start + 30},
		{models.EventStreamPaused, start + 40},
		{models.EventStreamResumed, start + 70},
	}
	for i, step := range steps {
		applied, err := l.Apply(ctx, lifecycleEvent(step.typ, 1, step.ts, origin(101+int64(i), "0xb", i)))
		require.NoError(t, err)
		assert.True(t, applied)
	}

	stream, err := repo.GetStream(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(50), stream.TotalPausedDuration, "20s + 30s across two cycles")
	assert.False(t, stream.IsPaused)
	assert.Equal(t, int64(0), stream.PausedAt)
}

func TestApply_ResumeBeforePauseRejected(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemory()
	l := New(repo)

	_, err := l.Apply(ctx, createEvent(1, origin(100, "0xa", 0)))
	require.NoError(t, err)

	_, err = l.Apply(ctx, lifecycleEvent(models.EventStreamResumed, 1, start+30, origin(101, "0xb", 0)))
	require.ErrorIs(t, err, ErrInvariantViolation)

	stream, err := repo.GetStream(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stream.TotalPausedDuration, "out-of-order resume not silently applied")
}

func TestApply_PauseWhilePausedIsNoOp(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemory()
	l := New(repo)

	_, err := l.Apply(ctx, createEvent(1, origin(100, "0xa", 0)))
	require.NoError(t, err)
	_, err = l.Apply(ctx, lifecycleEvent(models.EventStreamPaused, 1, start+10, origin(101, "0xb", 0)))
	require.NoError(t, err)

	applied, err := l.Apply(ctx, lifecycleEvent(models.EventStreamPaused, 1, start+20, origin(102, "0xc", 0)))
	require.NoError(t, err)
	assert.False(t, applied)

	stream, err := repo.GetStream(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, start+10, stream.PausedAt, "original pause timestamp preserved")
}

func TestApply_CancelledIsTerminal(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemory()
	l := New(repo)

	_, err := l.Apply(ctx, createEvent(1, origin(100, "0xa", 0)))
	require.NoError(t, err)
	_, err = l.Apply(ctx, lifecycleEvent(models.EventStreamCancelled, 1, start+10, origin(101, "0xb", 0)))
	require.NoError(t, err)

	for _, ev := range []models.StreamEvent{
		withdrawalEvent(1, 10, start+20, origin(102, "0xc", 0)),
		lifecycleEvent(models.EventStreamPaused, 1, start+20, origin(103, "0xd", 0)),
		lifecycleEvent(models.EventStreamResumed, 1, start+20, origin(104, "0xe", 0)),
		lifecycleEvent(models.EventStreamCancelled, 1, start+20, origin(105, "0xf", 0)),
	} {
		_, err := l.Apply(ctx, ev)
		assert.ErrorIs(t, err, ErrInvariantViolation, "event %s mutated a cancelled stream", ev.Type)
	}
}

func TestApply_EventForUnknownStreamRejected(t *testing.T) {
	ctx := context.Background()
	l := New(storage.NewMemory())

	_, err := l.Apply(ctx, withdrawalEvent(42, 10, start, origin(100, "0xa", 0)))
	require.ErrorIs(t, err, ErrInvariantViolation)
}

func TestInvert_RoundTrips(t *testing.T) {
	events := []models.StreamEvent{
		createEvent(1, origin(100, "0xa", 0)),
		withdrawalEvent(1, 250, start+5, origin(101, "0xb", 0)),
		lifecycleEvent(models.EventStreamPaused, 1, start+10, origin(102, "0xc", 0)),
		lifecycleEvent(models.EventStreamResumed, 1, start+30, origin(103, "0xd", 0)),
		lifecycleEvent(models.EventStreamCancelled, 1, start+40, origin(104, "0xe", 0)),
	}

	// Fold forward, capturing each intermediate state and effect.
	var states []*models.Stream
	var entries []*models.EventLogEntry
	var stream *models.Stream
	for _, ev := range events {
		states = append(states, stream)
		next, effect, err := Transition(stream, ev)
		require.NoError(t, err)
		entries = append(entries, &models.EventLogEntry{
			StreamID: ev.StreamID,
			Origin:   ev.Origin,
			Event:    ev,
			Effect:   effect,
		})
		stream = next
	}

	// Unfold backward: each inversion must reproduce the prior state.
	for i := len(entries) - 1; i >= 0; i-- {
		prev, err := Invert(stream, entries[i])
		require.NoError(t, err, "inverting %s", entries[i].Effect.Kind)
		if states[i] == nil {
			assert.Nil(t, prev)
		} else {
			require.NotNil(t, prev)
			assert.Equal(t, *states[i], *prev)
		}
		stream = prev
	}
}

func TestInvert_DivergedStateFails(t *testing.T) {
	s := &models.Stream{ID: 1, TokenAmount: 1000, WithdrawnAmount: 100, StartTime: start, EndTime: start + 100}

	// Inverting a withdrawal larger than what was ever withdrawn.
	_, err := Invert(s, &models.EventLogEntry{
		StreamID: 1,
		Effect:   models.AppliedEffect{Kind: models.EffectWithdraw, Amount: 500},
	})
	assert.ErrorIs(t, err, ErrInvariantViolation)

	// Inverting a pause whose timestamp no longer matches.
	s.IsPaused = true
	s.PausedAt = start + 10
	_, err = Invert(s, &models.EventLogEntry{
		StreamID: 1,
		Effect:   models.AppliedEffect{Kind: models.EffectPause, PausedAt: start + 99},
	})
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestReplay_RebuildsProjection(t *testing.T) {
	events := []models.StreamEvent{
		createEvent(1, origin(100, "0xa", 0)),
		withdrawalEvent(1, 250, start+5, origin(101, "0xb", 0)),
		lifecycleEvent(models.EventStreamPaused, 1, start+10, origin(102, "0xc", 0)),
		lifecycleEvent(models.EventStreamResumed, 1, start+30, origin(103, "0xd", 0)),
	}

	var entries []*models.EventLogEntry
	var want *models.Stream
	for _, ev := range events {
		next, effect, err := Transition(want, ev)
		require.NoError(t, err)
		entries = append(entries, &models.EventLogEntry{StreamID: 1, Origin: ev.Origin, Event: ev, Effect: effect})
		want = next
	}

	got, err := Replay(entries)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, *want, *got)

	// Without the creation entry there is nothing to rebuild.
	got, err = Replay(entries[1:])
	require.ErrorIs(t, err, ErrInvariantViolation)
	assert.Nil(t, got)
}
