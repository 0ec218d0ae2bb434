package models

import "fmt"

// EventType identifies one of the contract's print events. Values match the
// discriminant the contract emits in its event payloads.
type EventType string

const (
	EventStreamCreated   EventType = "stream-created"
	EventWithdrawal      EventType = "withdrawal"
	EventStreamCancelled EventType = "stream-cancelled"
	EventStreamPaused    EventType = "stream-paused"
	EventStreamResumed   EventType = "stream-resumed"
)

// OriginKey identifies exactly where an event came from in the chain. It is
// synthesized by the decoder from the event's position in the delivery (the
// raw payload does not carry it) and used for deduplication and rollback
// addressing.
type OriginKey struct {
	BlockHeight int64  `json:"block_height"`
	TxHash      string `json:"tx_hash"`
	EventIndex  int    `json:"event_index"`
}

func (k OriginKey) String() string {
	return fmt.Sprintf("%d/%s/%d", k.BlockHeight, k.TxHash, k.EventIndex)
}

// StreamEvent is a decoded contract event. Type discriminates which of the
// other fields are meaningful:
//
//	stream-created:   Sender, Recipient, Amount, Duration, TokenType, TokenContract
//	withdrawal:       Recipient, Amount
//	stream-cancelled: Sender
//	stream-paused:    Sender
//	stream-resumed:   Sender
//
// Timestamp is the block timestamp in unix seconds and is set on every event.
type StreamEvent struct {
	Type      EventType `json:"type"`
	StreamID  int64     `json:"stream_id"`
	Sender    string    `json:"sender,omitempty"`
	Recipient string    `json:"recipient,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	Duration  int64     `json:"duration,omitempty"`

	TokenType     string `json:"token_type,omitempty"`
	TokenContract string `json:"token_contract,omitempty"`

	Timestamp int64     `json:"timestamp"`
	Origin    OriginKey `json:"origin"`
}

// EffectKind names the reversible delta a ledger apply produced.
type EffectKind string

const (
	EffectCreate   EffectKind = "create"
	EffectWithdraw EffectKind = "withdraw"
	EffectCancel   EffectKind = "cancel"
	EffectPause    EffectKind = "pause"
	EffectResume   EffectKind = "resume"
)

// AppliedEffect records the delta actually applied to a projection so a
// rollback can invert it without recomputation.
type AppliedEffect struct {
	Kind EffectKind `json:"kind"`

	// Amount is the withdrawn delta for withdraw effects.
	Amount int64 `json:"amount,omitempty"`

	// PausedAt is the timestamp set by a pause effect, or the timestamp a
	// resume effect cleared (needed to restore the paused state on undo).
	PausedAt int64 `json:"paused_at,omitempty"`

	// Elapsed is the pause duration a resume effect added to the stream's
	// TotalPausedDuration.
	Elapsed int64 `json:"elapsed,omitempty"`
}

// EventLogEntry is one record of the append-only per-stream event log. Seq is
// assigned by the store in application order; rollback scans a block's entries
// in reverse Seq order to undo compounding effects correctly.
type EventLogEntry struct {
	Seq      int64         `json:"seq"`
	StreamID int64         `json:"stream_id"`
	Origin   OriginKey     `json:"origin"`
	Event    StreamEvent   `json:"event"`
	Effect   AppliedEffect `json:"effect"`
}
