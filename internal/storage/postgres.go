package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"streamindexer/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, so the
// same query methods serve both pooled and in-transaction repositories.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository implements the Repository interface using PostgreSQL
type PostgresRepository struct {
	db   querier
	pool *pgxpool.Pool // nil inside a stream-lock transaction
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{db: pool, pool: pool}, nil
}

// Migrate creates the schema if it does not exist yet
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

const streamColumns = `
	id, sender, recipient, token_amount, start_time, end_time,
	withdrawn_amount, is_cancelled, is_paused, paused_at,
	total_paused_duration, created_at_block, token_type, token_contract,
	created_at
`

// GetStream retrieves a stream projection by id
func (r *PostgresRepository) GetStream(ctx context.Context, id int64) (*models.Stream, error) {
	query := `SELECT ` + streamColumns + ` FROM streams WHERE id = $1`

	stream, err := scanStream(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStreamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %d: %w", id, err)
	}
	return stream, nil
}

// InsertStream inserts a new stream projection
func (r *PostgresRepository) InsertStream(ctx context.Context, stream *models.Stream) error {
	query := `
		INSERT INTO streams (
			id, sender, recipient, token_amount, start_time, end_time,
			withdrawn_amount, is_cancelled, is_paused, paused_at,
			total_paused_duration, created_at_block, token_type, token_contract,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := r.db.Exec(ctx, query,
		stream.ID,
		stream.Sender,
		stream.Recipient,
		stream.TokenAmount,
		stream.StartTime,
		stream.EndTime,
		stream.WithdrawnAmount,
		stream.IsCancelled,
		stream.IsPaused,
		stream.PausedAt,
		stream.TotalPausedDuration,
		stream.CreatedAtBlock,
		stream.TokenType,
		nullable(stream.TokenContract),
		stream.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert stream %d: %w", stream.ID, err)
	}
	return nil
}

// UpdateStream overwrites the mutable fields of a stream projection
func (r *PostgresRepository) UpdateStream(ctx context.Context, stream *models.Stream) error {
	query := `
		UPDATE streams SET
			withdrawn_amount = $2,
			is_cancelled = $3,
			is_paused = $4,
			paused_at = $5,
			total_paused_duration = $6
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query,
		stream.ID,
		stream.WithdrawnAmount,
		stream.IsCancelled,
		stream.IsPaused,
		stream.PausedAt,
		stream.TotalPausedDuration,
	)

	if err != nil {
		return fmt.Errorf("failed to update stream %d: %w", stream.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStreamNotFound
	}
	return nil
}

// DeleteStream removes a stream projection (rollback of its creation)
func (r *PostgresRepository) DeleteStream(ctx context.Context, id int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM streams WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete stream %d: %w", id, err)
	}
	return nil
}

// ListStreams lists projections for an address and role, newest first
func (r *PostgresRepository) ListStreams(ctx context.Context, address string, role models.StreamRole) ([]*models.Stream, error) {
	query := `SELECT ` + streamColumns + ` FROM streams`
	var args []any

	if address != "" {
		switch role {
		case models.RoleSender:
			query += ` WHERE sender = $1`
		case models.RoleRecipient:
			query += ` WHERE recipient = $1`
		default:
			query += ` WHERE sender = $1 OR recipient = $1`
		}
		args = append(args, address)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list streams: %w", err)
	}
	defer rows.Close()

	var streams []*models.Stream
	for rows.Next() {
		stream, err := scanStream(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stream: %w", err)
		}
		streams = append(streams, stream)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating streams: %w", err)
	}
	return streams, nil
}

// EventApplied reports whether an origin key was already applied to a stream
func (r *PostgresRepository) EventApplied(ctx context.Context, streamID int64, origin models.OriginKey) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM stream_event_log
			WHERE stream_id = $1 AND block_height = $2 AND tx_hash = $3 AND event_index = $4
		)
	`

	var exists bool
	err := r.db.QueryRow(ctx, query, streamID, origin.BlockHeight, origin.TxHash, origin.EventIndex).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check event log for %s: %w", origin, err)
	}
	return exists, nil
}

// AppendEventLog records an applied event and its reversible effect
func (r *PostgresRepository) AppendEventLog(ctx context.Context, entry *models.EventLogEntry) error {
	eventJSON, err := json.Marshal(entry.Event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	effectJSON, err := json.Marshal(entry.Effect)
	if err != nil {
		return fmt.Errorf("failed to marshal effect: %w", err)
	}

	query := `
		INSERT INTO stream_event_log (
			stream_id, block_height, tx_hash, event_index, event, effect
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq
	`

	err = r.db.QueryRow(ctx, query,
		entry.StreamID,
		entry.Origin.BlockHeight,
		entry.Origin.TxHash,
		entry.Origin.EventIndex,
		eventJSON,
		effectJSON,
	).Scan(&entry.Seq)

	if err != nil {
		return fmt.Errorf("failed to append event log entry %s: %w", entry.Origin, err)
	}
	return nil
}

// ListEventLogByBlock returns a block's entries in reverse application order
func (r *PostgresRepository) ListEventLogByBlock(ctx context.Context, blockHeight int64) ([]*models.EventLogEntry, error) {
	query := `
		SELECT seq, stream_id, block_height, tx_hash, event_index, event, effect
		FROM stream_event_log
		WHERE block_height = $1
		ORDER BY seq DESC
	`
	return r.listEventLog(ctx, query, blockHeight)
}

// ListEventLogByStream returns a stream's entries in application order
func (r *PostgresRepository) ListEventLogByStream(ctx context.Context, streamID int64) ([]*models.EventLogEntry, error) {
	query := `
		SELECT seq, stream_id, block_height, tx_hash, event_index, event, effect
		FROM stream_event_log
		WHERE stream_id = $1
		ORDER BY seq ASC
	`
	return r.listEventLog(ctx, query, streamID)
}

func (r *PostgresRepository) listEventLog(ctx context.Context, query string, arg any) ([]*models.EventLogEntry, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list event log: %w", err)
	}
	defer rows.Close()

	var entries []*models.EventLogEntry
	for rows.Next() {
		var entry models.EventLogEntry
		var eventJSON, effectJSON []byte

		err := rows.Scan(
			&entry.Seq,
			&entry.StreamID,
			&entry.Origin.BlockHeight,
			&entry.Origin.TxHash,
			&entry.Origin.EventIndex,
			&eventJSON,
			&effectJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event log entry: %w", err)
		}

		if err := json.Unmarshal(eventJSON, &entry.Event); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		if err := json.Unmarshal(effectJSON, &entry.Effect); err != nil {
			return nil, fmt.Errorf("failed to unmarshal effect: %w", err)
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event log: %w", err)
	}
	return entries, nil
}

// DeleteEventLogEntry removes one entry (rollback of its apply)
func (r *PostgresRepository) DeleteEventLogEntry(ctx context.Context, streamID int64, origin models.OriginKey) error {
	query := `
		DELETE FROM stream_event_log
		WHERE stream_id = $1 AND block_height = $2 AND tx_hash = $3 AND event_index = $4
	`
	_, err := r.db.Exec(ctx, query, streamID, origin.BlockHeight, origin.TxHash, origin.EventIndex)
	if err != nil {
		return fmt.Errorf("failed to delete event log entry %s: %w", origin, err)
	}
	return nil
}

// DeleteEventLogByStream removes all of a stream's entries (replay reset)
func (r *PostgresRepository) DeleteEventLogByStream(ctx context.Context, streamID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM stream_event_log WHERE stream_id = $1`, streamID)
	if err != nil {
		return fmt.Errorf("failed to delete event log for stream %d: %w", streamID, err)
	}
	return nil
}

// WithStreamLock serializes mutations per stream id via a transaction-scoped
// advisory lock. The lock covers creation too, where no row exists to lock.
func (r *PostgresRepository) WithStreamLock(ctx context.Context, streamID int64, fn func(Repository) error) error {
	if r.pool == nil {
		// Already inside a locked transaction for this delivery.
		return fn(r)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("Failed to roll back transaction", "stream_id", streamID, "error", err)
		}
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, streamID); err != nil {
		return fmt.Errorf("failed to acquire stream lock %d: %w", streamID, err)
	}

	if err := fn(&PostgresRepository{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ping checks if the database connection is alive
func (r *PostgresRepository) Ping(ctx context.Context) error {
	if r.pool == nil {
		return nil
	}
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	if r.pool != nil {
		r.pool.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStream(row rowScanner) (*models.Stream, error) {
	var stream models.Stream
	var tokenContract *string

	err := row.Scan(
		&stream.ID,
		&stream.Sender,
		&stream.Recipient,
		&stream.TokenAmount,
		&stream.StartTime,
		&stream.EndTime,
		&stream.WithdrawnAmount,
		&stream.IsCancelled,
		&stream.IsPaused,
		&stream.PausedAt,
		&stream.TotalPausedDuration,
		&stream.CreatedAtBlock,
		&stream.TokenType,
		&tokenContract,
		&stream.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if tokenContract != nil {
		stream.TokenContract = *tokenContract
	}
	return &stream, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
