// Package session implements the session lifecycle manager: child/stage
// binding, session row transitions, reconcile-on-conflict against the
// upstream "actively streaming" signal, and audit logging. The WHIP and
// legacy-RTMPS paths share this manager and differ only in their
// ProvisionStrategy (see strategy.go), per the polymorphism design note.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"kidstream-ingress/internal/clock"
	"kidstream-ingress/internal/credentials"
	"kidstream-ingress/internal/cryptostore"
	"kidstream-ingress/internal/models"
	"kidstream-ingress/internal/store"
	"kidstream-ingress/internal/upstream"
)

const subscribeTokenTTL = credentials.SubscribeTokenTTL

// MediaConstraints returned verbatim with the WHIP start response.
var MediaConstraints = models.DefaultMediaConstraints()

// Config configures a Manager.
type Config struct {
	DefaultStageArn string
	StorageArn      string
	ChannelArn      string
	Environment     string
	Region          string
}

// Manager gates provisioning on authorization, enforces single-in-progress-
// session-per-channel, reconciles local session state with the upstream
// activity signal, and appends audit entries.
type Manager struct {
	cfg        Config
	repo       store.Repository
	upstream   upstream.API
	strategies map[Mode]ProvisionStrategy
	childAuth  ChildAuthorizer
	parentAuth ParentAuthorizer
	clock      clock.Clock
	logger     *slog.Logger
	crypto     *cryptostore.Store
}

// New constructs a Manager. strategies must contain at least ModeWebrtc;
// ModeRtmps is optional if the legacy path is not configured. crypto may be
// nil, in which case ResetStreamKey (and therefore the legacy RTMPS path)
// is unavailable.
func New(cfg Config, repo store.Repository, api upstream.API, strategies map[Mode]ProvisionStrategy, childAuth ChildAuthorizer, parentAuth ParentAuthorizer, clk clock.Clock, logger *slog.Logger, crypto *cryptostore.Store) *Manager {
	if clk == nil {
		clk = clock.NewReal()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:        cfg,
		repo:       repo,
		upstream:   api,
		strategies: strategies,
		childAuth:  childAuth,
		parentAuth: parentAuth,
		clock:      clk,
		logger:     logger,
		crypto:     crypto,
	}
}

// ProvisionIngestRealtime authorizes the caller, ensures a channel exists
// for childID, and mints a publisher token against its stage. Used by the
// WHIP-start path before a session row exists (status() / pre-flight).
func (m *Manager) ProvisionIngestRealtime(ctx context.Context, childID, callerUserID string) (IngestResult, string, error) {
	if err := m.authorizeChild(ctx, callerUserID, childID); err != nil {
		return IngestResult{}, "", err
	}
	if _, _, err := m.ensureChannelForChild(ctx, childID); err != nil {
		return IngestResult{}, "", err
	}
	channel, found, err := m.repo.GetChannelByChildID(ctx, childID)
	if err != nil {
		return IngestResult{}, "", err
	}
	if !found {
		return IngestResult{}, "", store.ErrNotFound
	}
	streamID := uuid.NewString()
	strategy := m.strategies[ModeWebrtc]
	result, err := strategy.ProvisionIngest(ctx, streamID, callerUserID, childID, channel)
	if err != nil {
		return IngestResult{}, "", err
	}
	if err := m.bindAllocatedStage(ctx, &channel, result.StageArn); err != nil {
		return IngestResult{}, "", err
	}
	return result, streamID, nil
}

// bindAllocatedStage persists the stage ARN a ProvisionStrategy actually
// allocated back onto channel. WebrtcStrategy pulls stages from the shared
// pool, which is free to hand back any idle entry rather than the one
// ensureChannelForChild bound beforehand; without this, reconcileStaleSession
// and GetPlayback would keep checking upstream liveness on an ARN the
// publisher never streams to.
func (m *Manager) bindAllocatedStage(ctx context.Context, channel *models.Channel, allocatedArn string) error {
	if allocatedArn == "" || channel.StageArn == allocatedArn {
		return nil
	}
	channel.StageArn = allocatedArn
	channel.UpdatedAt = m.clock.Now()
	return m.repo.UpsertChannel(ctx, *channel)
}

// ensureChannelForChild implements §4.3's three-step channel resolution:
// reuse an existing upstream-valid binding, else bind to a configured
// default stage, else create a dedicated stage for this child.
func (m *Manager) ensureChannelForChild(ctx context.Context, childID string) (channelID, stageArn string, err error) {
	channel, found, err := m.repo.GetChannelByChildID(ctx, childID)
	if err != nil {
		return "", "", err
	}
	if found && channel.StageArn != "" {
		if _, exists, getErr := m.upstream.GetStage(ctx, channel.StageArn); getErr == nil && exists {
			return channel.ID, channel.StageArn, nil
		}
	}

	if m.cfg.DefaultStageArn != "" {
		if _, exists, getErr := m.upstream.GetStage(ctx, m.cfg.DefaultStageArn); getErr == nil && exists {
			return m.bindChannel(ctx, childID, channel, found, m.cfg.DefaultStageArn)
		}
	}

	name := fmt.Sprintf("child-%s-%d", childID, m.clock.Now().UnixMilli())
	tags := map[string]string{"childId": childID, "environment": m.cfg.Environment}
	stage, err := m.upstream.CreateStage(ctx, upstream.CreateStageParams{Name: name, Tags: tags})
	if err != nil {
		return "", "", fmt.Errorf("create dedicated stage: %w", err)
	}

	channelID, stageArn, err = m.bindChannel(ctx, childID, channel, found, stage.Arn)
	if err != nil {
		return "", "", err
	}
	m.audit(ctx, models.ActionStageCreated, "stage", stage.Arn, "", "")
	return channelID, stageArn, nil
}

func (m *Manager) bindChannel(ctx context.Context, childID string, existing models.Channel, existingFound bool, stageArn string) (string, string, error) {
	now := m.clock.Now()
	channel := existing
	isNew := !existingFound
	if isNew {
		channel = models.Channel{
			ID:        uuid.NewString(),
			ChildID:   childID,
			Status:    models.ChannelInactive,
			CreatedAt: now,
		}
	}
	channel.StageArn = stageArn
	channel.UpdatedAt = now
	if err := m.repo.UpsertChannel(ctx, channel); err != nil {
		return "", "", err
	}
	if isNew {
		m.audit(ctx, models.ActionChannelCreated, "channel", channel.ID, "", "")
	}
	return channel.ID, stageArn, nil
}

// CreateSession implements §4.3 createSession: authorize, reconcile any
// stale IN_PROGRESS session against upstream, then provision and persist a
// new one.
func (m *Manager) CreateSession(ctx context.Context, childID, callerUserID string, mode Mode) (models.Session, IngestResult, error) {
	if err := m.authorizeChild(ctx, callerUserID, childID); err != nil {
		return models.Session{}, IngestResult{}, err
	}

	channelID, _, err := m.ensureChannelForChild(ctx, childID)
	if err != nil {
		return models.Session{}, IngestResult{}, err
	}
	channel, found, err := m.repo.GetChannelByChildID(ctx, childID)
	if err != nil || !found {
		return models.Session{}, IngestResult{}, store.ErrNotFound
	}

	if err := m.reconcileStaleSession(ctx, channel); err != nil {
		return models.Session{}, IngestResult{}, err
	}

	strategy, ok := m.strategies[mode]
	if !ok {
		return models.Session{}, IngestResult{}, fmt.Errorf("unsupported session mode %q", mode)
	}

	streamID := uuid.NewString()
	ingest, err := strategy.ProvisionIngest(ctx, streamID, callerUserID, childID, channel)
	if err != nil {
		return models.Session{}, IngestResult{}, err
	}

	now := m.clock.Now()
	newSession := models.Session{
		ID:        uuid.NewString(),
		ChannelID: channelID,
		ChildID:   childID,
		Status:    models.SessionInProgress,
		StartedAt: now,
	}
	if err := m.repo.CreateSession(ctx, newSession); err != nil {
		return models.Session{}, IngestResult{}, err
	}

	channel.Status = models.ChannelLive
	channel.LastLiveAt = &now
	channel.UpdatedAt = now
	// WebrtcStrategy allocates from the shared pool, which may hand back a
	// different stage than the one ensureChannelForChild bound above; track
	// whichever ARN the publisher is actually given so reconcile/playback
	// liveness checks look at the right stage.
	if ingest.StageArn != "" {
		channel.StageArn = ingest.StageArn
	}
	if err := m.repo.UpsertChannel(ctx, channel); err != nil {
		return models.Session{}, IngestResult{}, err
	}

	if m.cfg.StorageArn != "" && channel.StageArn != "" {
		if _, compErr := m.upstream.StartComposition(ctx, newSession.ID, channel.StageArn); compErr != nil {
			m.logger.Warn("start composition failed, continuing without recording", "sessionId", newSession.ID, "error", compErr)
		}
	}

	m.audit(ctx, models.ActionSessionStarted, "session", newSession.ID, callerUserID, "")
	return newSession, ingest, nil
}

// reconcileStaleSession checks whether an existing IN_PROGRESS session for
// channel is still actively streaming upstream. If upstream reports it
// idle, the session is marked COMPLETED and the caller may proceed; if
// upstream still reports it live, ErrSessionAlreadyActive is returned.
func (m *Manager) reconcileStaleSession(ctx context.Context, channel models.Channel) error {
	existing, found, err := m.repo.GetInProgressSession(ctx, channel.ID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	active := false
	if channel.StageArn != "" {
		stage, exists, getErr := m.upstream.GetStage(ctx, channel.StageArn)
		if getErr == nil && exists {
			active = stage.ActiveSessionID != ""
		}
	}
	if active {
		return ErrSessionAlreadyActive
	}

	now := m.clock.Now()
	err = m.repo.UpdateSessionStatus(ctx, existing.ID, models.SessionInProgress, models.SessionCompleted, store.SessionStatusUpdate{EndedAt: &now})
	if err != nil {
		if err == store.ErrConflict {
			return ErrSessionAlreadyActive
		}
		return err
	}
	m.audit(ctx, models.ActionSessionForceReconciled, "session", existing.ID, "", "stale upstream session reconciled")
	return nil
}

// EndSession stops any active composition, marks the session COMPLETED and
// the channel INACTIVE.
func (m *Manager) EndSession(ctx context.Context, sessionID, callerUserID string) error {
	sess, found, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	if sess.ChildID != callerUserID {
		return ErrForbidden
	}

	channel, found, err := m.repo.GetChannelByChildID(ctx, sess.ChildID)
	if err != nil || !found {
		return store.ErrNotFound
	}

	if channel.StageArn != "" {
		if comps, listErr := m.upstream.ListCompositions(ctx, channel.StageArn); listErr == nil {
			for _, comp := range comps {
				if stopErr := m.upstream.StopComposition(ctx, comp.ID); stopErr != nil {
					m.logger.Warn("stop composition failed", "compositionId", comp.ID, "error", stopErr)
				}
			}
		}
	}

	now := m.clock.Now()
	if err := m.repo.UpdateSessionStatus(ctx, sessionID, models.SessionInProgress, models.SessionCompleted, store.SessionStatusUpdate{EndedAt: &now}); err != nil {
		return err
	}

	channel.Status = models.ChannelInactive
	channel.LastLiveAt = &now
	channel.UpdatedAt = now
	if err := m.repo.UpsertChannel(ctx, channel); err != nil {
		return err
	}

	m.audit(ctx, models.ActionSessionEnded, "session", sessionID, callerUserID, "")
	return nil
}

// ForceStop is a supplemented admin operation producing the
// stream.force_stopped audit action the data model names but the original
// operation list never defines explicitly.
func (m *Manager) ForceStop(ctx context.Context, sessionID, operatorID, reason string) error {
	sess, found, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}

	channel, found, err := m.repo.GetChannelByChildID(ctx, sess.ChildID)
	if err != nil || !found {
		return store.ErrNotFound
	}

	now := m.clock.Now()
	err = m.repo.UpdateSessionStatus(ctx, sessionID, models.SessionInProgress, models.SessionFailed, store.SessionStatusUpdate{EndedAt: &now, ErrorMessage: reason})
	if err != nil {
		return err
	}

	channel.Status = models.ChannelInactive
	channel.LastLiveAt = &now
	channel.UpdatedAt = now
	if err := m.repo.UpsertChannel(ctx, channel); err != nil {
		return err
	}

	m.audit(ctx, models.ActionStreamForceStopped, "session", sessionID, operatorID, reason)
	return nil
}

// PlaybackStatus is the status sub-object returned alongside a playback
// token.
type PlaybackStatus struct {
	IsLive           bool
	CurrentSessionID string
	LastLiveAt       *time.Time
	ParticipantCount int
}

// GetPlayback authorizes the parent relation, determines liveness from the
// upstream signal, and mints a subscribe token or signed playback JWT
// depending on mode.
func (m *Manager) GetPlayback(ctx context.Context, parentUserID, childID string, mode Mode) (PlaybackResult, PlaybackStatus, error) {
	canWatch, err := m.parentAuth.CanWatch(ctx, parentUserID, childID)
	if err != nil {
		return PlaybackResult{}, PlaybackStatus{}, err
	}
	if !canWatch {
		return PlaybackResult{}, PlaybackStatus{}, ErrForbidden
	}

	if _, _, err := m.ensureChannelForChild(ctx, childID); err != nil {
		return PlaybackResult{}, PlaybackStatus{}, err
	}
	channel, found, err := m.repo.GetChannelByChildID(ctx, childID)
	if err != nil || !found {
		return PlaybackResult{}, PlaybackStatus{}, store.ErrNotFound
	}

	status := PlaybackStatus{LastLiveAt: channel.LastLiveAt, ParticipantCount: 0}
	if channel.StageArn != "" {
		if stage, exists, getErr := m.upstream.GetStage(ctx, channel.StageArn); getErr == nil && exists {
			status.IsLive = stage.ActiveSessionID != ""
			status.CurrentSessionID = stage.ActiveSessionID
		}
	}

	strategy, ok := m.strategies[mode]
	if !ok {
		return PlaybackResult{}, PlaybackStatus{}, fmt.Errorf("unsupported playback mode %q", mode)
	}
	playback, err := strategy.ProvisionPlayback(ctx, parentUserID, channel, status.IsLive)
	if err != nil {
		return PlaybackResult{}, PlaybackStatus{}, err
	}
	return playback, status, nil
}

// VODPage is one page of a channel's sessions, of every status, newest first.
type VODPage struct {
	Sessions   []models.Session
	NextCursor string
	HasMore    bool
}

// ListVODs authorizes the parent relation and returns a page of the
// child's sessions, delegating ordering and cursoring to the repository. A
// child with no channel yet has an empty page.
func (m *Manager) ListVODs(ctx context.Context, parentUserID, childID string, limit int, cursor string) (VODPage, error) {
	canWatch, err := m.parentAuth.CanWatch(ctx, parentUserID, childID)
	if err != nil {
		return VODPage{}, err
	}
	if !canWatch {
		return VODPage{}, ErrForbidden
	}

	channel, found, err := m.repo.GetChannelByChildID(ctx, childID)
	if err != nil {
		return VODPage{}, err
	}
	if !found {
		return VODPage{}, nil
	}

	sessions, nextCursor, hasMore, err := m.repo.ListSessionsByChannel(ctx, channel.ID, limit, cursor)
	if err != nil {
		return VODPage{}, err
	}
	return VODPage{Sessions: sessions, NextCursor: nextCursor, HasMore: hasMore}, nil
}

func (m *Manager) authorizeChild(ctx context.Context, callerUserID, childID string) error {
	streamingEnabled, owns, err := m.childAuth.OwnsChild(ctx, callerUserID, childID)
	if err != nil {
		return err
	}
	if !owns || !streamingEnabled {
		return ErrForbidden
	}
	return nil
}

func (m *Manager) audit(ctx context.Context, action, resourceType, resourceID, userID, details string) {
	entry := models.AuditEntry{
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		UserID:       userID,
		Details:      details,
		Timestamp:    m.clock.Now(),
	}
	if err := m.repo.AppendAudit(ctx, entry); err != nil {
		m.logger.Warn("audit append failed", "action", action, "resourceId", resourceID, "error", err)
	}
}
