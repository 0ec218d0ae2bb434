package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"streamindexer/internal/models"
	"streamindexer/internal/vesting"
)

var (
	errMissingAuth = errors.New("Missing authorization header")
	errInvalidAuth = errors.New("Invalid authorization")
)

// authorizeDelivery gates all webhook processing behind the shared secret the
// chainhook was registered with. Accepted forms:
//
//	Authorization: <secret>
//	Authorization: Bearer <secret>
//	Authorization: sha256=<hex hmac-sha256 of the raw body>
//
// Comparisons are constant-time.
func (s *Server) authorizeDelivery(header string, body []byte) error {
	if header == "" {
		return errMissingAuth
	}

	if digest, ok := strings.CutPrefix(header, "sha256="); ok {
		mac := hmac.New(sha256.New, []byte(s.secret))
		mac.Write(body)
		expected := hex.EncodeToString(mac.Sum(nil))
		if hmac.Equal([]byte(strings.ToLower(digest)), []byte(expected)) {
			return nil
		}
		return errInvalidAuth
	}

	token := strings.TrimPrefix(header, "Bearer ")
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.secret)) == 1 {
		return nil
	}
	return errInvalidAuth
}

// microUnitsPerToken converts the chain's smallest unit to whole tokens.
// 1 STX = 1,000,000 microSTX.
var microUnitsPerToken = decimal.NewFromInt(1_000_000)

// MicroToToken formats an amount in micro-units as a whole-token decimal
// string for UI display.
func MicroToToken(amount int64) string {
	return decimal.NewFromInt(amount).DivRound(microUnitsPerToken, 6).StringFixed(6)
}

// buildStreamResponse enriches a stored projection with the vesting state
// derived at now (unix seconds).
func buildStreamResponse(stream *models.Stream, now int64) models.StreamResponse {
	available, status := vesting.Available(stream, now)

	return models.StreamResponse{
		ID:        stream.ID,
		Sender:    stream.Sender,
		Recipient: stream.Recipient,

		TokenAmount:        stream.TokenAmount,
		TokenAmountSTX:     MicroToToken(stream.TokenAmount),
		WithdrawnAmount:    stream.WithdrawnAmount,
		WithdrawnAmountSTX: MicroToToken(stream.WithdrawnAmount),
		AvailableBalance:   available,
		AvailableSTX:       MicroToToken(available),
		VestedAmount:       vesting.Vested(stream, now),
		VestedPercentage:   vesting.VestedPercentage(stream, now),

		StartTime:           stream.StartTime,
		EndTime:             stream.EndTime,
		TotalPausedDuration: stream.TotalPausedDuration,
		RemainingTime:       vesting.RemainingTime(stream, now),

		Status:      status,
		IsPaused:    stream.IsPaused,
		IsCancelled: stream.IsCancelled,

		TokenType:     stream.TokenType,
		TokenContract: stream.TokenContract,

		CreatedAtBlock: stream.CreatedAtBlock,
		CreatedAt:      stream.CreatedAt,
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (s *Server) sendError(w http.ResponseWriter, message string, status int) {
	s.sendJSON(w, status, models.ErrorResponse{Error: message})
}
