package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"kidstream-ingress/internal/models"
	"kidstream-ingress/internal/store"
)

// ResetStreamKey (re)provisions the legacy RTMPS ingest material for a
// child's channel: a region-scoped ingest endpoint plus a freshly generated
// stream key, persisted encrypted via cryptostore. This is the producing
// operation for the channel.key_reset audit action — without it,
// RtmpsStrategy.ProvisionIngest can never succeed for a channel that wasn't
// hand-seeded outside the API. Like ForceStop, this is a supplemented admin/
// parent-facing operation with no dedicated HTTP route of its own.
func (m *Manager) ResetStreamKey(ctx context.Context, childID, callerUserID string) (ingestEndpoint, streamKey string, err error) {
	if m.crypto == nil {
		return "", "", fmt.Errorf("legacy stream key encryption is not configured")
	}
	if err := m.authorizeChild(ctx, callerUserID, childID); err != nil {
		return "", "", err
	}

	channelID, _, err := m.ensureChannelForChild(ctx, childID)
	if err != nil {
		return "", "", err
	}
	channel, found, err := m.repo.GetChannelByChildID(ctx, childID)
	if err != nil || !found {
		return "", "", store.ErrNotFound
	}

	streamKey, err = generateStreamKey()
	if err != nil {
		return "", "", fmt.Errorf("generate stream key: %w", err)
	}
	ciphertext, err := m.crypto.Encrypt(streamKey)
	if err != nil {
		return "", "", fmt.Errorf("encrypt stream key: %w", err)
	}

	ingestEndpoint = legacyIngestEndpoint(m.cfg.Region)
	channel.LegacyIngestEndpoint = ingestEndpoint
	channel.LegacyStreamKeyCiphertext = ciphertext
	channel.UpdatedAt = m.clock.Now()
	if err := m.repo.UpsertChannel(ctx, channel); err != nil {
		return "", "", err
	}

	m.audit(ctx, models.ActionChannelKeyReset, "channel", channelID, callerUserID, "")
	return ingestEndpoint, streamKey, nil
}

func generateStreamKey() (string, error) {
	raw := make([]byte, 20)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return "sk_" + hex.EncodeToString(raw), nil
}

func legacyIngestEndpoint(region string) string {
	if region == "" {
		region = "us-east-1"
	}
	return fmt.Sprintf("rtmps://%s.ingest.live-video.net/app", region)
}
