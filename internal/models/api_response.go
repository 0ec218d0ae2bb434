package models

import "time"

// StreamResponse represents a stream with derived state for API responses
type StreamResponse struct {
	ID        int64  `json:"id"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`

	// Financials (raw micro-units plus formatted for UI)
	TokenAmount        int64  `json:"token_amount"`
	TokenAmountSTX     string `json:"token_amount_stx"`
	WithdrawnAmount    int64  `json:"withdrawn_amount"`
	WithdrawnAmountSTX string `json:"withdrawn_amount_stx"`
	AvailableBalance   int64  `json:"available_balance"`
	AvailableSTX       string `json:"available_stx"`
	VestedAmount       int64  `json:"vested_amount"`
	VestedPercentage   int64  `json:"vested_percentage"`

	// Schedule
	StartTime           int64 `json:"start_time"`
	EndTime             int64 `json:"end_time"`
	TotalPausedDuration int64 `json:"total_paused_duration"`
	RemainingTime       int64 `json:"remaining_time"`

	// Status
	Status      StreamStatus `json:"status"`
	IsPaused    bool         `json:"is_paused"`
	IsCancelled bool         `json:"is_cancelled"`

	// Token info
	TokenType     string `json:"token_type"`
	TokenContract string `json:"token_contract,omitempty"`

	// Metadata
	CreatedAtBlock int64     `json:"created_at_block"`
	CreatedAt      time.Time `json:"created_at"`
}

// StreamListResponse wraps a stream listing with pagination-style metadata
type StreamListResponse struct {
	Streams []StreamResponse `json:"streams"`
	Total   int              `json:"total"`
	Address string           `json:"address,omitempty"`
	Role    string           `json:"role,omitempty"`
}

// ChainhookResponse is the acknowledgement body for a webhook delivery
type ChainhookResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the standard error body
type ErrorResponse struct {
	Error string `json:"error"`
}
