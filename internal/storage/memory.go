package storage

import (
	"context"
	"sort"
	"sync"

	"streamindexer/internal/models"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements Repository with in-process maps. Mutations are serialized
// by a single mutex, which trivially satisfies the per-stream locking
// contract. WithStreamLock snapshots state so a failed apply leaves nothing
// behind, matching the transactional Postgres behavior.
type Memory struct {
	mu    sync.Mutex
	state memoryState
}

type memoryState struct {
	streams map[int64]*models.Stream
	log     []*models.EventLogEntry
	seq     int64
}

func NewMemory() *Memory {
	return &Memory{
		state: memoryState{streams: make(map[int64]*models.Stream)},
	}
}

func (m *Memory) GetStream(ctx context.Context, id int64) (*models.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.getStream(id)
}

func (m *Memory) InsertStream(ctx context.Context, stream *models.Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.insertStream(stream)
}

func (m *Memory) UpdateStream(ctx context.Context, stream *models.Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.updateStream(stream)
}

func (m *Memory) DeleteStream(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.deleteStream(id)
}

func (m *Memory) ListStreams(ctx context.Context, address string, role models.StreamRole) ([]*models.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.listStreams(address, role)
}

func (m *Memory) EventApplied(ctx context.Context, streamID int64, origin models.OriginKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.eventApplied(streamID, origin)
}

func (m *Memory) AppendEventLog(ctx context.Context, entry *models.EventLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.appendEventLog(entry)
}

func (m *Memory) ListEventLogByBlock(ctx context.Context, blockHeight int64) ([]*models.EventLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.listEventLogByBlock(blockHeight)
}

func (m *Memory) ListEventLogByStream(ctx context.Context, streamID int64) ([]*models.EventLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.listEventLogByStream(streamID)
}

func (m *Memory) DeleteEventLogEntry(ctx context.Context, streamID int64, origin models.OriginKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.deleteEventLogEntry(streamID, origin)
}

func (m *Memory) DeleteEventLogByStream(ctx context.Context, streamID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.deleteEventLogByStream(streamID)
}

// WithStreamLock runs fn under the store mutex against a snapshot-protected
// view: if fn fails, the pre-call state is restored.
func (m *Memory) WithStreamLock(ctx context.Context, streamID int64, fn func(Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&memoryTx{state: &m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

// memoryTx is the view handed to WithStreamLock callbacks. The mutex is
// already held, so it delegates straight to the state.
type memoryTx struct {
	state *memoryState
}

func (t *memoryTx) GetStream(ctx context.Context, id int64) (*models.Stream, error) {
	return t.state.getStream(id)
}

func (t *memoryTx) InsertStream(ctx context.Context, stream *models.Stream) error {
	return t.state.insertStream(stream)
}

func (t *memoryTx) UpdateStream(ctx context.Context, stream *models.Stream) error {
	return t.state.updateStream(stream)
}

func (t *memoryTx) DeleteStream(ctx context.Context, id int64) error {
	return t.state.deleteStream(id)
}

func (t *memoryTx) ListStreams(ctx context.Context, address string, role models.StreamRole) ([]*models.Stream, error) {
	return t.state.listStreams(address, role)
}

func (t *memoryTx) EventApplied(ctx context.Context, streamID int64, origin models.OriginKey) (bool, error) {
	return t.state.eventApplied(streamID, origin)
}

func (t *memoryTx) AppendEventLog(ctx context.Context, entry *models.EventLogEntry) error {
	return t.state.appendEventLog(entry)
}

func (t *memoryTx) ListEventLogByBlock(ctx context.Context, blockHeight int64) ([]*models.EventLogEntry, error) {
	return t.state.listEventLogByBlock(blockHeight)
}

func (t *memoryTx) ListEventLogByStream(ctx context.Context, streamID int64) ([]*models.EventLogEntry, error) {
	return t.state.listEventLogByStream(streamID)
}

func (t *memoryTx) DeleteEventLogEntry(ctx context.Context, streamID int64, origin models.OriginKey) error {
	return t.state.deleteEventLogEntry(streamID, origin)
}

func (t *memoryTx) DeleteEventLogByStream(ctx context.Context, streamID int64) error {
	return t.state.deleteEventLogByStream(streamID)
}

func (t *memoryTx) WithStreamLock(ctx context.Context, streamID int64, fn func(Repository) error) error {
	return fn(t)
}

func (t *memoryTx) Ping(ctx context.Context) error { return nil }

func (t *memoryTx) Close() error { return nil }

// --- state operations (mutex held by callers) ---

func (s *memoryState) getStream(id int64) (*models.Stream, error) {
	stream, ok := s.streams[id]
	if !ok {
		return nil, ErrStreamNotFound
	}
	copied := *stream
	return &copied, nil
}

func (s *memoryState) insertStream(stream *models.Stream) error {
	copied := *stream
	s.streams[stream.ID] = &copied
	return nil
}

func (s *memoryState) updateStream(stream *models.Stream) error {
	if _, ok := s.streams[stream.ID]; !ok {
		return ErrStreamNotFound
	}
	copied := *stream
	s.streams[stream.ID] = &copied
	return nil
}

func (s *memoryState) deleteStream(id int64) error {
	delete(s.streams, id)
	return nil
}

func (s *memoryState) listStreams(address string, role models.StreamRole) ([]*models.Stream, error) {
	var streams []*models.Stream
	for _, stream := range s.streams {
		if address != "" && !matchesRole(stream, address, role) {
			continue
		}
		copied := *stream
		streams = append(streams, &copied)
	}

	// Newest first, matching the Postgres ordering.
	sort.Slice(streams, func(i, j int) bool {
		if !streams[i].CreatedAt.Equal(streams[j].CreatedAt) {
			return streams[i].CreatedAt.After(streams[j].CreatedAt)
		}
		return streams[i].ID > streams[j].ID
	})
	return streams, nil
}

func matchesRole(stream *models.Stream, address string, role models.StreamRole) bool {
	switch role {
	case models.RoleSender:
		return stream.Sender == address
	case models.RoleRecipient:
		return stream.Recipient == address
	default:
		return stream.Sender == address || stream.Recipient == address
	}
}

func (s *memoryState) eventApplied(streamID int64, origin models.OriginKey) (bool, error) {
	for _, entry := range s.log {
		if entry.StreamID == streamID && entry.Origin == origin {
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryState) appendEventLog(entry *models.EventLogEntry) error {
	s.seq++
	copied := *entry
	copied.Seq = s.seq
	entry.Seq = s.seq
	s.log = append(s.log, &copied)
	return nil
}

func (s *memoryState) listEventLogByBlock(blockHeight int64) ([]*models.EventLogEntry, error) {
	var entries []*models.EventLogEntry
	for i := len(s.log) - 1; i >= 0; i-- {
		if s.log[i].Origin.BlockHeight == blockHeight {
			copied := *s.log[i]
			entries = append(entries, &copied)
		}
	}
	return entries, nil
}

func (s *memoryState) listEventLogByStream(streamID int64) ([]*models.EventLogEntry, error) {
	var entries []*models.EventLogEntry
	for _, entry := range s.log {
		if entry.StreamID == streamID {
			copied := *entry
			entries = append(entries, &copied)
		}
	}
	return entries, nil
}

func (s *memoryState) deleteEventLogEntry(streamID int64, origin models.OriginKey) error {
	kept := s.log[:0]
	for _, entry := range s.log {
		if entry.StreamID == streamID && entry.Origin == origin {
			continue
		}
		kept = append(kept, entry)
	}
	s.log = kept
	return nil
}

func (s *memoryState) deleteEventLogByStream(streamID int64) error {
	kept := s.log[:0]
	for _, entry := range s.log {
		if entry.StreamID == streamID {
			continue
		}
		kept = append(kept, entry)
	}
	s.log = kept
	return nil
}

func (s *memoryState) clone() memoryState {
	streams := make(map[int64]*models.Stream, len(s.streams))
	for id, stream := range s.streams {
		copied := *stream
		streams[id] = &copied
	}
	log := make([]*models.EventLogEntry, len(s.log))
	for i, entry := range s.log {
		copied := *entry
		log[i] = &copied
	}
	return memoryState{streams: streams, log: log, seq: s.seq}
}
