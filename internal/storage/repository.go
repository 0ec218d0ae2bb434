package storage

import (
	"context"
	"errors"

	"streamindexer/internal/models"
)

// ErrStreamNotFound is returned by point reads for unknown stream ids.
var ErrStreamNotFound = errors.New("stream not found")

// Repository defines the interface for all storage operations
type Repository interface {
	// Stream projections
	GetStream(ctx context.Context, id int64) (*models.Stream, error)
	InsertStream(ctx context.Context, stream *models.Stream) error
	UpdateStream(ctx context.Context, stream *models.Stream) error
	DeleteStream(ctx context.Context, id int64) error
	// ListStreams returns projections matching address under the given role,
	// ordered by creation time descending. An empty address returns all.
	ListStreams(ctx context.Context, address string, role models.StreamRole) ([]*models.Stream, error)

	// Event log (append-only, keyed by stream id + origin key)
	EventApplied(ctx context.Context, streamID int64, origin models.OriginKey) (bool, error)
	AppendEventLog(ctx context.Context, entry *models.EventLogEntry) error
	// ListEventLogByBlock returns entries for a block height in reverse
	// application order, for rollback.
	ListEventLogByBlock(ctx context.Context, blockHeight int64) ([]*models.EventLogEntry, error)
	// ListEventLogByStream returns a stream's entries in application order,
	// for replay.
	ListEventLogByStream(ctx context.Context, streamID int64) ([]*models.EventLogEntry, error)
	DeleteEventLogEntry(ctx context.Context, streamID int64, origin models.OriginKey) error
	DeleteEventLogByStream(ctx context.Context, streamID int64) error

	// WithStreamLock runs fn with exclusive write access to the stream id.
	// All mutations inside fn are applied atomically: if fn returns an error
	// none of them persist. Deliveries touching disjoint streams proceed
	// concurrently.
	WithStreamLock(ctx context.Context, streamID int64, fn func(Repository) error) error

	// Health & Maintenance
	Ping(ctx context.Context) error
	Close() error
}
