package store

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"sync"

	"kidstream-ingress/internal/models"
)

// MemoryRepository is an in-process Repository backed by maps under a
// single mutex. Suitable for local development and tests; not safe across
// processes.
type MemoryRepository struct {
	mu       sync.Mutex
	channels map[string]models.Channel // keyed by childID
	sessions map[string]models.Session // keyed by session ID
	audit    []models.AuditEntry
}

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		channels: make(map[string]models.Channel),
		sessions: make(map[string]models.Session),
	}
}

func (m *MemoryRepository) GetChannelByChildID(ctx context.Context, childID string) (models.Channel, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.channels[childID]
	return c, ok, nil
}

func (m *MemoryRepository) UpsertChannel(ctx context.Context, channel models.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[channel.ChildID] = channel
	return nil
}

func (m *MemoryRepository) GetInProgressSession(ctx context.Context, channelID string) (models.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.ChannelID == channelID && s.Status == models.SessionInProgress {
			return s, true, nil
		}
	}
	return models.Session{}, false, nil
}

func (m *MemoryRepository) GetSession(ctx context.Context, sessionID string) (models.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return s, ok, nil
}

func (m *MemoryRepository) CreateSession(ctx context.Context, session models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[session.ID]; exists {
		return fmt.Errorf("session %s already exists", session.ID)
	}
	m.sessions[session.ID] = session
	return nil
}

func (m *MemoryRepository) UpdateSessionStatus(ctx context.Context, sessionID string, fromStatus, toStatus models.SessionStatus, fields SessionStatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.Status != fromStatus {
		return ErrConflict
	}
	s.Status = toStatus
	if fields.EndedAt != nil {
		s.EndedAt = fields.EndedAt
	}
	if fields.ErrorMessage != "" {
		s.ErrorMessage = fields.ErrorMessage
	}
	m.sessions[sessionID] = s
	return nil
}

// ListSessionsByChannel returns sessions for channelID ordered by
// StartedAt descending, most-recent first, with a cursor that base64-
// encodes the offset into that ordering. This is a supplemented feature
// not present in the teacher or any reference repo; see encodeCursor and
// decodeCursor below.
func (m *MemoryRepository) ListSessionsByChannel(ctx context.Context, channelID string, limit int, cursor string) ([]models.Session, string, bool, error) {
	m.mu.Lock()
	var all []models.Session
	for _, s := range m.sessions {
		if s.ChannelID == channelID {
			all = append(all, s)
		}
	}
	m.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].StartedAt.Equal(all[j].StartedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].StartedAt.After(all[j].StartedAt)
	})

	offset := 0
	if cursor != "" {
		decoded, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", false, err
		}
		offset = decoded
	}
	if offset > len(all) {
		offset = len(all)
	}

	end := offset + limit
	hasMore := end < len(all)
	if end > len(all) {
		end = len(all)
	}

	page := all[offset:end]
	var nextCursor string
	if hasMore {
		nextCursor = encodeCursor(end)
	}
	return page, nextCursor, hasMore, nil
}

func (m *MemoryRepository) AppendAudit(ctx context.Context, entry models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

// AuditEntries returns a snapshot of the audit log, for tests.
func (m *MemoryRepository) AuditEntries() []models.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AuditEntry, len(m.audit))
	copy(out, m.audit)
	return out
}

func encodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf("%d", offset)))
}

func decodeCursor(cursor string) (int, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor: %w", err)
	}
	var offset int
	if _, err := fmt.Sscanf(string(raw), "%d", &offset); err != nil {
		return 0, fmt.Errorf("invalid cursor: %w", err)
	}
	return offset, nil
}
