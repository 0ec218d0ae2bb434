// Package decoder turns raw chainhook receipt events into typed stream
// events. It is deliberately forgiving: a malformed entry is logged and
// skipped, never aborting the rest of the transaction or the batch.
package decoder

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"streamindexer/internal/models"
)

// Decoder extracts stream events from transaction receipts.
type Decoder struct{}

func New() *Decoder {
	return &Decoder{}
}

// DecodeTransaction decodes all stream events from one transaction of a
// delivered block. Only successful transactions are considered; events are
// filtered to the contract-print kind and matched against the five stream
// event schemas. Returns the decoded events in receipt order plus the number
// of entries skipped as malformed.
func (d *Decoder) DecodeTransaction(block models.BlockIdentifier, blockTime int64, tx models.ChainhookTransaction) ([]models.StreamEvent, int) {
	if tx.Metadata.Receipt.Status != models.ReceiptStatusSuccess {
		return nil, 0
	}

	var events []models.StreamEvent
	skipped := 0

	for i, raw := range tx.Metadata.Receipt.Events {
		if raw.Type != models.SmartContractEventType {
			continue
		}

		origin := models.OriginKey{
			BlockHeight: block.Index,
			TxHash:      tx.TransactionIdentifier.Hash,
			EventIndex:  i,
		}

		event, err := d.decodeValue(raw.Data.Value, blockTime, origin)
		if err != nil {
			skipped++
			slog.Warn("Skipping malformed contract event",
				"origin", origin,
				"error", err,
			)
			continue
		}
		if event == nil {
			// Print event from the contract that is not a stream event.
			continue
		}

		events = append(events, *event)
	}

	return events, skipped
}

// decodeValue parses one print payload. Returns (nil, nil) for payloads that
// are valid JSON but not stream events.
func (d *Decoder) decodeValue(value json.RawMessage, blockTime int64, origin models.OriginKey) (*models.StreamEvent, error) {
	if len(value) == 0 {
		return nil, fmt.Errorf("empty event value")
	}

	// UseNumber keeps amounts as decimal strings; float64 silently loses
	// precision past 2^53, which is real money at micro-unit scale.
	dec := json.NewDecoder(strings.NewReader(string(value)))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("invalid event value: %w", err)
	}

	// Contracts print arbitrary payloads; only those carrying one of the five
	// stream discriminants are ours.
	discriminant, _ := fields["event"].(string)
	eventType := models.EventType(discriminant)
	switch eventType {
	case models.EventStreamCreated, models.EventWithdrawal,
		models.EventStreamCancelled, models.EventStreamPaused,
		models.EventStreamResumed:
	default:
		return nil, nil
	}

	streamID, err := intField(fields, "stream-id")
	if err != nil {
		return nil, err
	}
	if streamID <= 0 {
		return nil, fmt.Errorf("invalid stream-id %d", streamID)
	}

	event := &models.StreamEvent{
		Type:      eventType,
		StreamID:  streamID,
		Timestamp: blockTime,
		Origin:    origin,
	}

	// The contract stamps its own timestamp on each event; prefer it over the
	// block timestamp when present.
	if ts, err := intField(fields, "timestamp"); err == nil && ts > 0 {
		event.Timestamp = ts
	}

	switch eventType {
	case models.EventStreamCreated:
		if event.Sender, err = stringField(fields, "sender"); err != nil {
			return nil, err
		}
		if event.Recipient, err = stringField(fields, "recipient"); err != nil {
			return nil, err
		}
		if event.Amount, err = intField(fields, "amount"); err != nil {
			return nil, err
		}
		if event.Amount <= 0 {
			return nil, fmt.Errorf("invalid amount %d", event.Amount)
		}
		if event.Duration, err = intField(fields, "duration"); err != nil {
			return nil, err
		}
		if event.Duration <= 0 {
			return nil, fmt.Errorf("invalid duration %d", event.Duration)
		}
		if event.TokenType, err = stringField(fields, "token-type"); err != nil {
			return nil, err
		}
		if event.TokenType != models.TokenTypeNative {
			// Fungible token streams carry the token contract identifier.
			if event.TokenContract, err = stringField(fields, "token-contract"); err != nil {
				return nil, err
			}
		}

	case models.EventWithdrawal:
		if event.Recipient, err = stringField(fields, "recipient"); err != nil {
			return nil, err
		}
		if event.Amount, err = intField(fields, "amount"); err != nil {
			return nil, err
		}
		if event.Amount <= 0 {
			return nil, fmt.Errorf("invalid amount %d", event.Amount)
		}

	case models.EventStreamCancelled, models.EventStreamPaused, models.EventStreamResumed:
		if event.Sender, err = stringField(fields, "sender"); err != nil {
			return nil, err
		}
	}

	return event, nil
}

func stringField(fields map[string]any, key string) (string, error) {
	value, ok := fields[key].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("missing field %q", key)
	}
	return value, nil
}

// intField coerces a numeric field to int64. Accepts JSON numbers and
// decimal strings (Clarity uints serialize either way depending on the
// chainhook predicate); rejects anything outside int64 range instead of
// truncating.
func intField(fields map[string]any, key string) (int64, error) {
	switch value := fields[key].(type) {
	case json.Number:
		n, err := value.Int64()
		if err != nil {
			return 0, fmt.Errorf("field %q out of range: %w", key, err)
		}
		return n, nil
	case string:
		n, err := json.Number(value).Int64()
		if err != nil {
			return 0, fmt.Errorf("field %q is not an integer: %w", key, err)
		}
		return n, nil
	case nil:
		return 0, fmt.Errorf("missing field %q", key)
	default:
		return 0, fmt.Errorf("field %q has unexpected type %T", key, value)
	}
}
