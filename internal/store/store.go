// Package store defines the durable repository the ingress provisioning
// core depends on for Channel, Session, and AuditLog rows, plus two
// implementations: an in-memory map-backed store (nothing persists across
// restarts) for local development and tests, and a Postgres-backed store
// for production, grounded on the
// teacher's internal/auth/postgres_store.go connection and conditional-
// update idiom.
package store

import (
	"context"
	"errors"
	"time"

	"kidstream-ingress/internal/models"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned by conditional updates when the row's current
// state does not match the expected source state (a lost race).
var ErrConflict = errors.New("store: conditional update lost a race")

// Repository is the durable persistence surface the session manager and
// stage pool depend on. Session status transitions go through
// UpdateSessionStatus, which is conditional on the row's current status so
// that concurrent writers racing on the same channel resolve linearizably
// without an in-process lock.
type Repository interface {
	GetChannelByChildID(ctx context.Context, childID string) (models.Channel, bool, error)
	UpsertChannel(ctx context.Context, channel models.Channel) error

	GetInProgressSession(ctx context.Context, channelID string) (models.Session, bool, error)
	GetSession(ctx context.Context, sessionID string) (models.Session, bool, error)
	CreateSession(ctx context.Context, session models.Session) error

	// UpdateSessionStatus transitions a session's status, conditioned on its
	// current status matching fromStatus. Returns ErrConflict if the row's
	// status had already changed.
	UpdateSessionStatus(ctx context.Context, sessionID string, fromStatus, toStatus models.SessionStatus, fields SessionStatusUpdate) error

	ListSessionsByChannel(ctx context.Context, channelID string, limit int, cursor string) ([]models.Session, string, bool, error)

	AppendAudit(ctx context.Context, entry models.AuditEntry) error
}

// SessionStatusUpdate carries the optional fields that accompany a status
// transition (endedAt, errorMessage).
type SessionStatusUpdate struct {
	EndedAt      *time.Time
	ErrorMessage string
}
