package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"kidstream-ingress/internal/models"
)

// PostgresRepository persists Channel, Session, and AuditLog rows to
// Postgres, allowing multiple ingress API replicas to share session state.
// Grounded on the teacher's internal/auth/postgres_store.go: a pgxpool
// connection opened from a DSN, a configurable per-operation timeout, and
// conditional updates driven by a WHERE clause rather than an in-process
// lock.
type PostgresRepository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

type postgresOptions struct {
	timeout time.Duration
}

// PostgresOption configures PostgresRepository behavior.
type PostgresOption func(*postgresOptions)

const defaultPostgresTimeout = 5 * time.Second

// WithTimeout bounds how long each Postgres operation may take.
func WithTimeout(timeout time.Duration) PostgresOption {
	return func(o *postgresOptions) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// NewPostgresRepository opens a pgxpool-backed Repository using dsn.
func NewPostgresRepository(ctx context.Context, dsn string, opts ...PostgresOption) (*PostgresRepository, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	options := postgresOptions{timeout: defaultPostgresTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return &PostgresRepository{pool: pool, timeout: options.timeout}, nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	if r != nil && r.pool != nil {
		r.pool.Close()
	}
}

// Ping checks connectivity to Postgres.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	ctx, cancel := r.operationContext(ctx)
	defer cancel()
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) operationContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if r.timeout > 0 {
		return context.WithTimeout(parent, r.timeout)
	}
	return parent, func() {}
}

func (r *PostgresRepository) GetChannelByChildID(ctx context.Context, childID string) (models.Channel, bool, error) {
	ctx, cancel := r.operationContext(ctx)
	defer cancel()

	row := r.pool.QueryRow(ctx, `
SELECT id, child_id, stage_arn, legacy_channel_arn, legacy_ingest_endpoint, legacy_stream_key_ciphertext,
       status, last_live_at, created_at, updated_at
FROM channels WHERE child_id = $1`, childID)

	var c models.Channel
	err := row.Scan(&c.ID, &c.ChildID, &c.StageArn, &c.LegacyChannelArn, &c.LegacyIngestEndpoint,
		&c.LegacyStreamKeyCiphertext, &c.Status, &c.LastLiveAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return models.Channel{}, false, nil
		}
		return models.Channel{}, false, err
	}
	return c, true, nil
}

func (r *PostgresRepository) UpsertChannel(ctx context.Context, channel models.Channel) error {
	ctx, cancel := r.operationContext(ctx)
	defer cancel()

	_, err := r.pool.Exec(ctx, `
INSERT INTO channels (id, child_id, stage_arn, legacy_channel_arn, legacy_ingest_endpoint,
                       legacy_stream_key_ciphertext, status, last_live_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (child_id) DO UPDATE SET
  stage_arn = EXCLUDED.stage_arn,
  legacy_channel_arn = EXCLUDED.legacy_channel_arn,
  legacy_ingest_endpoint = EXCLUDED.legacy_ingest_endpoint,
  legacy_stream_key_ciphertext = EXCLUDED.legacy_stream_key_ciphertext,
  status = EXCLUDED.status,
  last_live_at = EXCLUDED.last_live_at,
  updated_at = EXCLUDED.updated_at
`, channel.ID, channel.ChildID, channel.StageArn, channel.LegacyChannelArn, channel.LegacyIngestEndpoint,
		channel.LegacyStreamKeyCiphertext, channel.Status, channel.LastLiveAt, channel.CreatedAt.UTC(), channel.UpdatedAt.UTC())
	return err
}

func (r *PostgresRepository) GetInProgressSession(ctx context.Context, channelID string) (models.Session, bool, error) {
	ctx, cancel := r.operationContext(ctx)
	defer cancel()

	row := r.pool.QueryRow(ctx, `
SELECT id, channel_id, child_id, status, started_at, ended_at, error_message, job_ids
FROM sessions WHERE channel_id = $1 AND status = $2`, channelID, models.SessionInProgress)
	return scanSession(row)
}

func (r *PostgresRepository) GetSession(ctx context.Context, sessionID string) (models.Session, bool, error) {
	ctx, cancel := r.operationContext(ctx)
	defer cancel()

	row := r.pool.QueryRow(ctx, `
SELECT id, channel_id, child_id, status, started_at, ended_at, error_message, job_ids
FROM sessions WHERE id = $1`, sessionID)
	return scanSession(row)
}

func scanSession(row pgx.Row) (models.Session, bool, error) {
	var s models.Session
	var jobIDs []byte
	err := row.Scan(&s.ID, &s.ChannelID, &s.ChildID, &s.Status, &s.StartedAt, &s.EndedAt, &s.ErrorMessage, &jobIDs)
	if err != nil {
		if isNoRows(err) {
			return models.Session{}, false, nil
		}
		return models.Session{}, false, err
	}
	if len(jobIDs) > 0 {
		if err := json.Unmarshal(jobIDs, &s.JobIDs); err != nil {
			return models.Session{}, false, fmt.Errorf("decode job_ids: %w", err)
		}
	}
	return s, true, nil
}

func (r *PostgresRepository) CreateSession(ctx context.Context, session models.Session) error {
	ctx, cancel := r.operationContext(ctx)
	defer cancel()

	jobIDs, err := json.Marshal(session.JobIDs)
	if err != nil {
		return fmt.Errorf("encode job_ids: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
INSERT INTO sessions (id, channel_id, child_id, status, started_at, ended_at, error_message, job_ids)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		session.ID, session.ChannelID, session.ChildID, session.Status, session.StartedAt, session.EndedAt, session.ErrorMessage, jobIDs)
	return err
}

// UpdateSessionStatus performs a row-conditional update: the WHERE clause
// includes both the session id and the expected source status, so a lost
// race (another writer already transitioned the row) is observable via
// RowsAffected() rather than requiring a separate lock.
func (r *PostgresRepository) UpdateSessionStatus(ctx context.Context, sessionID string, fromStatus, toStatus models.SessionStatus, fields SessionStatusUpdate) error {
	ctx, cancel := r.operationContext(ctx)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `
UPDATE sessions SET status = $1, ended_at = COALESCE($2, ended_at), error_message = COALESCE(NULLIF($3, ''), error_message)
WHERE id = $4 AND status = $5`,
		toStatus, fields.EndedAt, fields.ErrorMessage, sessionID, fromStatus)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, found, getErr := r.GetSession(ctx, sessionID); getErr == nil && !found {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

func (r *PostgresRepository) ListSessionsByChannel(ctx context.Context, channelID string, limit int, cursor string) ([]models.Session, string, bool, error) {
	ctx, cancel := r.operationContext(ctx)
	defer cancel()

	offset := 0
	if cursor != "" {
		decoded, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", false, err
		}
		offset = decoded
	}

	rows, err := r.pool.Query(ctx, `
SELECT id, channel_id, child_id, status, started_at, ended_at, error_message, job_ids
FROM sessions WHERE channel_id = $1
ORDER BY started_at DESC, id ASC
LIMIT $2 OFFSET $3`, channelID, limit+1, offset)
	if err != nil {
		return nil, "", false, err
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		s, _, err := scanSession(rows)
		if err != nil {
			return nil, "", false, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, "", false, err
	}

	hasMore := len(sessions) > limit
	if hasMore {
		sessions = sessions[:limit]
	}
	var nextCursor string
	if hasMore {
		nextCursor = encodeCursor(offset + limit)
	}
	return sessions, nextCursor, hasMore, nil
}

func (r *PostgresRepository) AppendAudit(ctx context.Context, entry models.AuditEntry) error {
	ctx, cancel := r.operationContext(ctx)
	defer cancel()

	_, err := r.pool.Exec(ctx, `
INSERT INTO audit_log (action, resource_type, resource_id, user_id, details, timestamp)
VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.Action, entry.ResourceType, entry.ResourceID, entry.UserID, entry.Details, entry.Timestamp.UTC())
	return err
}

func isNoRows(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, pgx.ErrNoRows)
}
