package credentials

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"kidstream-ingress/internal/upstream"
)

type fakeUpstream struct {
	token upstream.ParticipantToken
	err   error
	calls []upstream.CreateParticipantTokenParams
}

func (f *fakeUpstream) CreateStage(ctx context.Context, params upstream.CreateStageParams) (upstream.Stage, error) {
	return upstream.Stage{}, nil
}
func (f *fakeUpstream) GetStage(ctx context.Context, arn string) (upstream.Stage, bool, error) {
	return upstream.Stage{}, false, nil
}
func (f *fakeUpstream) ListStages(ctx context.Context) ([]upstream.Stage, error) { return nil, nil }
func (f *fakeUpstream) DeleteStage(ctx context.Context, arn string) error        { return nil }
func (f *fakeUpstream) CreateParticipantToken(ctx context.Context, params upstream.CreateParticipantTokenParams) (upstream.ParticipantToken, error) {
	f.calls = append(f.calls, params)
	if f.err != nil {
		return upstream.ParticipantToken{}, f.err
	}
	return f.token, nil
}
func (f *fakeUpstream) StartComposition(ctx context.Context, idempotencyToken, stageArn string) (upstream.Composition, error) {
	return upstream.Composition{}, nil
}
func (f *fakeUpstream) StopComposition(ctx context.Context, compositionID string) error { return nil }
func (f *fakeUpstream) ListCompositions(ctx context.Context, stageArn string) ([]upstream.Composition, error) {
	return nil, nil
}

func TestPublishTokenCarriesPublishCapability(t *testing.T) {
	up := &fakeUpstream{token: upstream.ParticipantToken{Token: "tok", ParticipantID: "p1", ExpirationTime: time.Now().Add(time.Hour)}}
	issuer, err := New(up, Config{Region: "us-east-1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	token, participantID, _, err := issuer.PublishToken(context.Background(), "arn:stage:1", "user1", map[string]string{"role": "publisher"}, PublishTokenTTL)
	if err != nil {
		t.Fatalf("PublishToken: %v", err)
	}
	if token != "tok" || participantID != "p1" {
		t.Errorf("got (%q, %q)", token, participantID)
	}
	if len(up.calls) != 1 || up.calls[0].Capabilities[0] != upstream.CapabilityPublish {
		t.Errorf("expected a single PUBLISH capability request, got %+v", up.calls)
	}
}

func TestSubscribeTokenCarriesSubscribeCapability(t *testing.T) {
	up := &fakeUpstream{token: upstream.ParticipantToken{Token: "tok2", ParticipantID: "p2"}}
	issuer, err := New(up, Config{Region: "us-east-1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, _, _, err = issuer.SubscribeToken(context.Background(), "arn:stage:1", "parent1", nil, SubscribeTokenTTL)
	if err != nil {
		t.Fatalf("SubscribeToken: %v", err)
	}
	if up.calls[0].Capabilities[0] != upstream.CapabilitySubscribe {
		t.Errorf("expected SUBSCRIBE capability, got %+v", up.calls[0].Capabilities)
	}
}

func TestRealtimeURL(t *testing.T) {
	got := RealtimeURL("us-west-2")
	want := "wss://global.realtime.ivs.us-west-2.amazonaws.com"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func generateTestECKeyPEM(t *testing.T, sec1 bool) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var der []byte
	blockType := "EC PRIVATE KEY"
	if sec1 {
		der, err = x509.MarshalECPrivateKey(key)
	} else {
		blockType = "PRIVATE KEY"
		der, err = x509.MarshalPKCS8PrivateKey(key)
	}
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
}

func TestSignPlaybackJWTAcceptsSEC1Key(t *testing.T) {
	keyPEM := generateTestECKeyPEM(t, true)
	issuer, err := New(&fakeUpstream{}, Config{Region: "us-east-1", PlaybackKeyPairID: "key-1", PlaybackSigningKey: keyPEM})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	signed, err := issuer.SignPlaybackJWT("viewer1", "arn:channel:1", time.Hour)
	if err != nil {
		t.Fatalf("SignPlaybackJWT: %v", err)
	}

	parsed, err := jwt.ParseWithClaims(signed, &playbackClaims{}, func(token *jwt.Token) (interface{}, error) {
		return &issuer.signingKey.PublicKey, nil
	})
	if err != nil || !parsed.Valid {
		t.Fatalf("parse signed token: %v", err)
	}
	if parsed.Method.Alg() != "ES384" {
		t.Errorf("got alg %q, want ES384", parsed.Method.Alg())
	}
	if kid, _ := parsed.Header["kid"].(string); kid != "key-1" {
		t.Errorf("got kid %q, want key-1", kid)
	}
	claims := parsed.Claims.(*playbackClaims)
	if claims.ChannelArn != "arn:channel:1" || claims.Subject != "viewer1" {
		t.Errorf("got claims %+v", claims)
	}
}

func TestSignPlaybackJWTAcceptsPKCS8Key(t *testing.T) {
	keyPEM := generateTestECKeyPEM(t, false)
	issuer, err := New(&fakeUpstream{}, Config{Region: "us-east-1", PlaybackKeyPairID: "key-2", PlaybackSigningKey: keyPEM})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := issuer.SignPlaybackJWT("viewer2", "arn:channel:2", time.Hour); err != nil {
		t.Fatalf("SignPlaybackJWT: %v", err)
	}
}

func TestSignPlaybackJWTFailsWithoutConfiguredKey(t *testing.T) {
	issuer, err := New(&fakeUpstream{}, Config{Region: "us-east-1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := issuer.SignPlaybackJWT("viewer1", "arn:channel:1", time.Hour); err == nil {
		t.Fatal("expected error when no signing key configured")
	}
}
