// Package credentials mints short-lived participant tokens against an
// upstream stage and signs legacy HLS playback JWTs. Tokens are never
// persisted; this package holds no durable state.
package credentials

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"kidstream-ingress/internal/upstream"
)

const whipEndpoint = "https://global.whip.live-video.net"

// PublishTokenTTL and SubscribeTokenTTL resolve the source's ambiguous
// 60-minute-vs-12-hour TTL split: the allocator's publisher tokens use the
// shorter duration, parent-facing playback/subscribe tokens use the longer
// one.
const (
	PublishTokenTTL   = 60 * time.Minute
	SubscribeTokenTTL = 12 * time.Hour
)

// Config configures a CredentialIssuer.
type Config struct {
	Region             string
	PlaybackKeyPairID  string
	PlaybackSigningKey []byte // PEM-encoded EC private key, SEC1 or PKCS8
}

// CredentialIssuer mints participant tokens via upstream.API and signs
// legacy HLS playback JWTs with a configured ES384 key pair.
type CredentialIssuer struct {
	upstream   upstream.API
	region     string
	keyPairID  string
	signingKey *ecdsa.PrivateKey
}

// New constructs a CredentialIssuer. The playback signing key is optional;
// SignPlaybackJWT fails clearly if it was not configured.
func New(api upstream.API, cfg Config) (*CredentialIssuer, error) {
	issuer := &CredentialIssuer{upstream: api, region: cfg.Region, keyPairID: cfg.PlaybackKeyPairID}
	if len(cfg.PlaybackSigningKey) > 0 {
		key, err := parseECPrivateKeyPEM(cfg.PlaybackSigningKey)
		if err != nil {
			return nil, fmt.Errorf("load playback signing key: %w", err)
		}
		issuer.signingKey = key
	}
	return issuer, nil
}

// PublishToken mints a participant token carrying the PUBLISH capability.
// Its signature matches stagepool.TokenIssuer so a *CredentialIssuer can be
// passed directly to stagepool.New.
func (c *CredentialIssuer) PublishToken(ctx context.Context, stageArn, userID string, attributes map[string]string, duration time.Duration) (token, participantID string, expiresAt time.Time, err error) {
	return c.mint(ctx, stageArn, userID, []upstream.Capability{upstream.CapabilityPublish}, attributes, duration)
}

// SubscribeToken mints a participant token carrying the SUBSCRIBE
// capability for parent/viewer playback.
func (c *CredentialIssuer) SubscribeToken(ctx context.Context, stageArn, userID string, attributes map[string]string, duration time.Duration) (token, participantID string, expiresAt time.Time, err error) {
	return c.mint(ctx, stageArn, userID, []upstream.Capability{upstream.CapabilitySubscribe}, attributes, duration)
}

func (c *CredentialIssuer) mint(ctx context.Context, stageArn, userID string, capabilities []upstream.Capability, attributes map[string]string, duration time.Duration) (string, string, time.Time, error) {
	resp, err := c.upstream.CreateParticipantToken(ctx, upstream.CreateParticipantTokenParams{
		StageArn:     stageArn,
		UserID:       userID,
		Capabilities: capabilities,
		Duration:     duration,
		Attributes:   attributes,
	})
	if err != nil {
		return "", "", time.Time{}, err
	}
	return resp.Token, resp.ParticipantID, resp.ExpirationTime, nil
}

// WhipEndpoint returns the fixed global WHIP ingestion endpoint. The
// upstream 307-redirects initial POSTs to a regional endpoint; clients must
// preserve the bearer token across that redirect.
func (c *CredentialIssuer) WhipEndpoint() string {
	return whipEndpoint
}

// RealtimeURL derives the regional WebRTC signaling URL for the legacy
// realtime path.
func RealtimeURL(region string) string {
	return fmt.Sprintf("wss://global.realtime.ivs.%s.amazonaws.com", region)
}

type playbackClaims struct {
	ChannelArn string `json:"aws:channel-arn"`
	jwt.RegisteredClaims
}

// SignPlaybackJWT signs an ES384 JWT authorizing viewerID to watch
// channelArn over the legacy private-HLS path, stamped with
// kid=<keyPairId>.
func (c *CredentialIssuer) SignPlaybackJWT(viewerID, channelArn string, ttl time.Duration) (string, error) {
	if c.signingKey == nil {
		return "", fmt.Errorf("no playback signing key configured")
	}
	now := time.Now()
	claims := playbackClaims{
		ChannelArn: channelArn,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   viewerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES384, claims)
	token.Header["kid"] = c.keyPairID
	return token.SignedString(c.signingKey)
}
