package session

import (
	"context"
	"fmt"
	"time"

	"kidstream-ingress/internal/cryptostore"
	"kidstream-ingress/internal/models"
)

// Mode selects which ProvisionStrategy handles a session.
type Mode string

const (
	ModeWebrtc Mode = "webrtc"
	ModeRtmps  Mode = "rtmps"
)

// IngestResult carries whatever a ProvisionStrategy produced for a caller
// to start publishing. Fields are mode-specific; zero value means "not
// applicable to this mode".
type IngestResult struct {
	StageArn      string
	PublishToken  string
	ParticipantID string
	ExpiresAt     time.Time
	WhipURL       string
	Region        string

	IngestEndpoint string
	StreamKey      string
}

// PlaybackResult is what a ProvisionStrategy produces for a parent-facing
// playback request.
type PlaybackResult struct {
	ViewerToken         string
	ViewerParticipantID string
	HLSURL              string
	ExpiresAt           time.Time
}

// ProvisionStrategy is the per-mode capability set the design notes call
// for: "a single SessionManager with two thin strategies...; keep the pool
// and credential issuer common." Each strategy closes over the collaborator
// it actually needs instead of the manager handing out its whole surface.
type ProvisionStrategy interface {
	ProvisionIngest(ctx context.Context, streamID, userID, childID string, channel models.Channel) (IngestResult, error)
	ProvisionPlayback(ctx context.Context, viewerID string, channel models.Channel, isLive bool) (PlaybackResult, error)
}

// WebrtcStrategy provisions ingest/playback against the stage pool — the
// primary WHIP path.
type WebrtcStrategy struct {
	Pool   Allocator
	Region string
}

// ProvisionIngest allocates from the shared pool rather than channel's
// currently-bound stage: pool entries are fungible, and the pool is free to
// hand back whichever idle stage it has warm. The caller (Manager) is
// responsible for persisting the returned StageArn back onto the channel
// row, since that's the ARN the publisher will actually stream to.
func (s *WebrtcStrategy) ProvisionIngest(ctx context.Context, streamID, userID, childID string, channel models.Channel) (IngestResult, error) {
	alloc, err := s.Pool.Allocate(ctx, streamID, userID, childID)
	if err != nil {
		return IngestResult{}, err
	}
	return IngestResult{
		StageArn:      alloc.StageArn,
		PublishToken:  alloc.PublishToken,
		ParticipantID: alloc.ParticipantID,
		ExpiresAt:     alloc.ExpiresAt,
		WhipURL:       alloc.WhipURL,
		Region:        alloc.Region,
	}, nil
}

func (s *WebrtcStrategy) ProvisionPlayback(ctx context.Context, viewerID string, channel models.Channel, isLive bool) (PlaybackResult, error) {
	if channel.StageArn == "" {
		return PlaybackResult{}, fmt.Errorf("channel has no bound stage")
	}
	sub, err := s.Pool.CreateSubscribeToken(ctx, channel.StageArn, viewerID, "", subscribeTokenTTL)
	if err != nil {
		return PlaybackResult{}, err
	}
	return PlaybackResult{
		ViewerToken:         sub.Token,
		ViewerParticipantID: sub.ParticipantID,
		ExpiresAt:           sub.ExpiresAt,
	}, nil
}

// RtmpsStrategy provisions ingest/playback against the legacy RTMPS +
// private-HLS path: a fixed ingest endpoint and an encrypted stream key on
// the channel row, plus an ES384-signed playback JWT.
type RtmpsStrategy struct {
	Crypto     *cryptostore.Store
	JWTSigner  PlaybackSigner
	ChannelArn string
}

// PlaybackSigner is the narrow capability RtmpsStrategy needs from
// credentials.CredentialIssuer.
type PlaybackSigner interface {
	SignPlaybackJWT(viewerID, channelArn string, ttl time.Duration) (string, error)
}

func (s *RtmpsStrategy) ProvisionIngest(ctx context.Context, streamID, userID, childID string, channel models.Channel) (IngestResult, error) {
	if channel.LegacyIngestEndpoint == "" || channel.LegacyStreamKeyCiphertext == "" {
		return IngestResult{}, fmt.Errorf("channel has no legacy RTMPS ingest configured")
	}
	streamKey := channel.LegacyStreamKeyCiphertext
	if cryptostore.IsCiphertext(streamKey) {
		plain, err := s.Crypto.Decrypt(streamKey)
		if err != nil {
			return IngestResult{}, fmt.Errorf("decrypt legacy stream key: %w", err)
		}
		streamKey = plain
	}
	return IngestResult{
		IngestEndpoint: channel.LegacyIngestEndpoint,
		StreamKey:      streamKey,
	}, nil
}

func (s *RtmpsStrategy) ProvisionPlayback(ctx context.Context, viewerID string, channel models.Channel, isLive bool) (PlaybackResult, error) {
	if s.JWTSigner == nil {
		return PlaybackResult{}, fmt.Errorf("no playback signer configured")
	}
	channelArn := channel.LegacyChannelArn
	if channelArn == "" {
		channelArn = s.ChannelArn
	}
	token, err := s.JWTSigner.SignPlaybackJWT(viewerID, channelArn, subscribeTokenTTL)
	if err != nil {
		return PlaybackResult{}, err
	}
	result := PlaybackResult{ViewerToken: token, ExpiresAt: time.Now().Add(subscribeTokenTTL)}
	if isLive {
		result.HLSURL = fmt.Sprintf("https://%s.hls.live-video.net/playlist.m3u8", channelArn)
	}
	return result, nil
}
