package api

import (
	"time"

	"kidstream-ingress/internal/models"
	"kidstream-ingress/internal/session"
	"kidstream-ingress/internal/stagepool"
)

type poolStatusResponse struct {
	Available int `json:"available"`
	InUse     int `json:"inUse"`
	Total     int `json:"total"`
}

func newPoolStatusResponse(s stagepool.Status) poolStatusResponse {
	return poolStatusResponse{Available: s.Available, InUse: s.InUse, Total: s.Total}
}

type statusResponse struct {
	Enabled          bool                     `json:"enabled"`
	PoolStatus       poolStatusResponse       `json:"poolStatus"`
	WhipEndpoint     string                   `json:"whipEndpoint"`
	Region           string                   `json:"region"`
	MediaConstraints models.MediaConstraints  `json:"mediaConstraints"`
}

type whipStartResponse struct {
	StreamID         string                  `json:"streamId"`
	StageArn         string                  `json:"stageArn"`
	WhipURL          string                  `json:"whipUrl"`
	PublishToken     string                  `json:"publishToken"`
	ParticipantID    string                  `json:"participantId"`
	ExpiresAt        time.Time               `json:"expiresAt"`
	Region           string                  `json:"region"`
	MediaConstraints models.MediaConstraints `json:"mediaConstraints"`
}

func newWhipStartResponse(streamID string, ingest session.IngestResult) whipStartResponse {
	return whipStartResponse{
		StreamID:         streamID,
		StageArn:         ingest.StageArn,
		WhipURL:          ingest.WhipURL,
		PublishToken:     ingest.PublishToken,
		ParticipantID:    ingest.ParticipantID,
		ExpiresAt:        ingest.ExpiresAt,
		Region:           ingest.Region,
		MediaConstraints: session.MediaConstraints,
	}
}

type whipStopResponse struct {
	Success  bool   `json:"success"`
	StreamID string `json:"streamId"`
}

type createSessionResponse struct {
	SessionID string    `json:"sessionId"`
	ChannelID string    `json:"channelId"`
	Mode      string    `json:"mode"`
	StartedAt time.Time `json:"startedAt"`

	// WebRTC-mode fields.
	StageArn      string    `json:"stageArn,omitempty"`
	WhipURL       string    `json:"whipUrl,omitempty"`
	PublishToken  string    `json:"publishToken,omitempty"`
	ParticipantID string    `json:"participantId,omitempty"`
	ExpiresAt     time.Time `json:"expiresAt,omitempty"`
	Region        string    `json:"region,omitempty"`

	// RTMPS-mode fields.
	IngestEndpoint string `json:"ingestEndpoint,omitempty"`
	StreamKey      string `json:"streamKey,omitempty"`

	MediaConstraints models.MediaConstraints `json:"mediaConstraints"`
}

func newCreateSessionResponse(sess models.Session, mode session.Mode, ingest session.IngestResult) createSessionResponse {
	resp := createSessionResponse{
		SessionID:        sess.ID,
		ChannelID:        sess.ChannelID,
		Mode:             string(mode),
		StartedAt:        sess.StartedAt,
		StageArn:         ingest.StageArn,
		WhipURL:          ingest.WhipURL,
		PublishToken:     ingest.PublishToken,
		ParticipantID:    ingest.ParticipantID,
		Region:           ingest.Region,
		IngestEndpoint:   ingest.IngestEndpoint,
		StreamKey:        ingest.StreamKey,
		MediaConstraints: session.MediaConstraints,
	}
	if !ingest.ExpiresAt.IsZero() {
		resp.ExpiresAt = ingest.ExpiresAt
	}
	return resp
}

type playbackStatusResponse struct {
	IsLive           bool       `json:"isLive"`
	CurrentSessionID string     `json:"currentSessionId,omitempty"`
	LastLiveAt       *time.Time `json:"lastLiveAt,omitempty"`
	ParticipantCount int        `json:"participantCount"`
}

type playbackResponse struct {
	ChildID             string                 `json:"childId"`
	Mode                string                 `json:"mode"`
	HLSURL              string                 `json:"hlsUrl,omitempty"`
	ViewerToken         string                 `json:"viewerToken,omitempty"`
	ViewerParticipantID string                 `json:"viewerParticipantId,omitempty"`
	ExpiresAt           time.Time              `json:"expiresAt,omitempty"`
	Status              playbackStatusResponse `json:"status"`
}

func newPlaybackResponse(childID string, mode session.Mode, playback session.PlaybackResult, status session.PlaybackStatus) playbackResponse {
	resp := playbackResponse{
		ChildID:             childID,
		Mode:                string(mode),
		HLSURL:              playback.HLSURL,
		ViewerToken:         playback.ViewerToken,
		ViewerParticipantID: playback.ViewerParticipantID,
		Status: playbackStatusResponse{
			IsLive:           status.IsLive,
			CurrentSessionID: status.CurrentSessionID,
			LastLiveAt:       status.LastLiveAt,
			ParticipantCount: status.ParticipantCount,
		},
	}
	if !playback.ExpiresAt.IsZero() {
		resp.ExpiresAt = playback.ExpiresAt
	}
	return resp
}

type sessionSummaryResponse struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"startedAt"`
	EndedAt      *time.Time `json:"endedAt,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

func newSessionSummaryResponse(sess models.Session) sessionSummaryResponse {
	return sessionSummaryResponse{
		ID:           sess.ID,
		Status:       string(sess.Status),
		StartedAt:    sess.StartedAt,
		EndedAt:      sess.EndedAt,
		ErrorMessage: sess.ErrorMessage,
	}
}

type paginationResponse struct {
	NextCursor string `json:"nextCursor,omitempty"`
	HasMore    bool   `json:"hasMore"`
}

type vodsResponse struct {
	Sessions   []sessionSummaryResponse `json:"sessions"`
	Pagination paginationResponse       `json:"pagination"`
}
