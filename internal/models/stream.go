package models

import "time"

// TokenTypeNative is the token type for plain STX streams.
// Fungible-token streams carry the token's contract identifier instead.
const TokenTypeNative = "STX"

// Stream is the materialized projection of one on-chain vesting stream.
// It is derived by folding all applied events for the stream id in chain order.
type Stream struct {
	ID        int64  `json:"id"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`

	// TokenAmount is the total principal in the smallest token unit.
	// Immutable after creation.
	TokenAmount int64 `json:"token_amount"`

	// StartTime and EndTime are unix seconds; EndTime > StartTime.
	StartTime int64 `json:"start_time"`
	EndTime   int64 `json:"end_time"`

	// WithdrawnAmount is monotonically non-decreasing and never exceeds
	// TokenAmount.
	WithdrawnAmount int64 `json:"withdrawn_amount"`

	IsCancelled bool `json:"is_cancelled"`

	// IsPaused/PausedAt track the current pause; PausedAt is 0 when not
	// paused. TotalPausedDuration accumulates across pause/resume cycles.
	IsPaused            bool  `json:"is_paused"`
	PausedAt            int64 `json:"paused_at"`
	TotalPausedDuration int64 `json:"total_paused_duration"`

	CreatedAtBlock int64  `json:"created_at_block"`
	TokenType      string `json:"token_type"`

	// TokenContract is empty for native streams.
	TokenContract string `json:"token_contract,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// StreamStatus is the lifecycle status derived from the projection and a
// point in time. Values match the contract's status strings.
type StreamStatus string

const (
	StatusScheduled StreamStatus = "scheduled"
	StatusActive    StreamStatus = "active"
	StatusPaused    StreamStatus = "paused"
	StatusCompleted StreamStatus = "completed"
	StatusCancelled StreamStatus = "cancelled"
)

// StreamRole selects which side of a stream an address query matches.
type StreamRole string

const (
	RoleSender    StreamRole = "sender"
	RoleRecipient StreamRole = "recipient"
	RoleBoth      StreamRole = "both"
)

// StreamFilter narrows a stream listing by derived status.
type StreamFilter string

const (
	FilterAll       StreamFilter = "all"
	FilterActive    StreamFilter = "active"
	FilterPaused    StreamFilter = "paused"
	FilterCompleted StreamFilter = "completed"
	FilterCancelled StreamFilter = "cancelled"
)
