package vesting

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamindexer/internal/models"
)

const start = int64(1_700_000_000)

func baseStream() *models.Stream {
	return &models.Stream{
		ID:          1,
		Sender:      "SP_SENDER",
		Recipient:   "SP_RECIPIENT",
		TokenAmount: 1000,
		StartTime:   start,
		EndTime:     start + 100,
		TokenType:   models.TokenTypeNative,
	}
}

func TestAvailable_Lifecycle(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*models.Stream)
		now        int64
		wantAmount int64
		wantStatus models.StreamStatus
	}{
		{
			name:       "before start",
			now:        start - 10,
			wantAmount: 0,
			wantStatus: models.StatusScheduled,
		},
		{
			name:       "halfway vests half",
			now:        start + 50,
			wantAmount: 500,
			wantStatus: models.StatusActive,
		},
		{
			name:       "at exact end",
			now:        start + 100,
			wantAmount: 1000,
			wantStatus: models.StatusCompleted,
		},
		{
			name:       "long after end",
			now:        start + 10_000,
			wantAmount: 1000,
			wantStatus: models.StatusCompleted,
		},
		{
			name: "completed minus withdrawn",
			mutate: func(s *models.Stream) {
				s.WithdrawnAmount = 400
			},
			now:        start + 200,
			wantAmount: 600,
			wantStatus: models.StatusCompleted,
		},
		{
			name: "active minus withdrawn",
			mutate: func(s *models.Stream) {
				s.WithdrawnAmount = 300
			},
			now:        start + 50,
			wantAmount: 200,
			wantStatus: models.StatusActive,
		},
		{
			name: "withdrawn ahead of vested floors at zero",
			mutate: func(s *models.Stream) {
				s.WithdrawnAmount = 900
			},
			now:        start + 50,
			wantAmount: 0,
			wantStatus: models.StatusActive,
		},
		{
			name: "paused releases nothing",
			mutate: func(s *models.Stream) {
				s.IsPaused = true
				s.PausedAt = start + 25
			},
			now:        start + 50,
			wantAmount: 0,
			wantStatus: models.StatusPaused,
		},
		{
			name: "cancelled beats everything",
			mutate: func(s *models.Stream) {
				s.IsCancelled = true
				s.IsPaused = true
			},
			now:        start + 50,
			wantAmount: 0,
			wantStatus: models.StatusCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := baseStream()
			if tt.mutate != nil {
				tt.mutate(s)
			}
			amount, status := Available(s, tt.now)
			assert.Equal(t, tt.wantAmount, amount)
			assert.Equal(t, tt.wantStatus, status)
		})
	}
}

// A 50s pause shifts the schedule right by 50s: at resume time the vested
// share is exactly what it was when the pause began.
func TestAvailable_PauseShiftsSchedule(t *testing.T) {
	s := baseStream()
	s.TotalPausedDuration = 50 // paused at start+25, resumed at start+75

	amount, status := Available(s, start+75)
	assert.Equal(t, int64(250), amount)
	assert.Equal(t, models.StatusActive, status)

	// Completion moves out to start+150.
	amount, status = Available(s, start+149)
	assert.Equal(t, models.StatusActive, status)
	assert.Equal(t, int64(990), amount)

	amount, status = Available(s, start+150)
	assert.Equal(t, models.StatusCompleted, status)
	assert.Equal(t, int64(1000), amount)
}

func TestAvailable_Monotonic(t *testing.T) {
	s := baseStream()
	s.TokenAmount = 997 // non-divisible principal exercises flooring

	prev := int64(-1)
	for now := start - 5; now <= start+110; now++ {
		amount, _ := Available(s, now)
		require.GreaterOrEqual(t, amount, prev, "available decreased at now=%d", now)
		require.LessOrEqual(t, amount, s.TokenAmount)
		prev = amount
	}
}

func TestAvailable_FloorsFractionalVesting(t *testing.T) {
	s := baseStream()
	s.TokenAmount = 10
	// 7 of 100 seconds elapsed: 10*7/100 = 0.7, floors to 0.
	amount, _ := Available(s, start+7)
	assert.Equal(t, int64(0), amount)

	// 17 seconds: 1.7 floors to 1.
	amount, _ = Available(s, start+17)
	assert.Equal(t, int64(1), amount)
}

// Principals near int64 max must not wrap when multiplied by elapsed time.
func TestAvailable_LargePrincipal(t *testing.T) {
	s := baseStream()
	s.TokenAmount = math.MaxInt64 / 2
	s.EndTime = s.StartTime + 1_000_000

	amount, status := Available(s, s.StartTime+500_000)
	assert.Equal(t, models.StatusActive, status)
	assert.Equal(t, s.TokenAmount/2, amount)
}

func TestVested_FrozenWhilePaused(t *testing.T) {
	s := baseStream()
	s.IsPaused = true
	s.PausedAt = start + 25

	// The clock froze at the pause; later reads report the same snapshot.
	assert.Equal(t, int64(250), Vested(s, start+25))
	assert.Equal(t, int64(250), Vested(s, start+90))
	assert.Equal(t, int64(25), VestedPercentage(s, start+90))
}

func TestRemainingTime(t *testing.T) {
	s := baseStream()
	assert.Equal(t, int64(100), RemainingTime(s, start))
	assert.Equal(t, int64(0), RemainingTime(s, start+100))
	assert.Equal(t, int64(0), RemainingTime(s, start+500))

	s.TotalPausedDuration = 30
	assert.Equal(t, int64(130), RemainingTime(s, start))

	s.IsCancelled = true
	assert.Equal(t, int64(0), RemainingTime(s, start))
}
