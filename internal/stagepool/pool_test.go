package stagepool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"kidstream-ingress/internal/clock"
	"kidstream-ingress/internal/upstream"
)

type fakeUpstream struct {
	mu             sync.Mutex
	stages         map[string]upstream.Stage
	nextID         int
	createErr      error
	deleteErr      error
	createCalls    int
	deleteCalls    int
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{stages: make(map[string]upstream.Stage)}
}

func (f *fakeUpstream) CreateStage(ctx context.Context, params upstream.CreateStageParams) (upstream.Stage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return upstream.Stage{}, f.createErr
	}
	f.nextID++
	arn := fmt.Sprintf("arn:stage:%d", f.nextID)
	s := upstream.Stage{Arn: arn, Name: params.Name, Tags: params.Tags}
	f.stages[arn] = s
	return s, nil
}

func (f *fakeUpstream) GetStage(ctx context.Context, arn string) (upstream.Stage, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stages[arn]
	return s, ok, nil
}

func (f *fakeUpstream) ListStages(ctx context.Context) ([]upstream.Stage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]upstream.Stage, 0, len(f.stages))
	for _, s := range f.stages {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeUpstream) DeleteStage(ctx context.Context, arn string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.stages, arn)
	return nil
}

func (f *fakeUpstream) CreateParticipantToken(ctx context.Context, params upstream.CreateParticipantTokenParams) (upstream.ParticipantToken, error) {
	return upstream.ParticipantToken{}, nil
}

func (f *fakeUpstream) StartComposition(ctx context.Context, idempotencyToken, stageArn string) (upstream.Composition, error) {
	return upstream.Composition{}, nil
}

func (f *fakeUpstream) StopComposition(ctx context.Context, compositionID string) error { return nil }

func (f *fakeUpstream) ListCompositions(ctx context.Context, stageArn string) ([]upstream.Composition, error) {
	return nil, nil
}

type fakeIssuer struct {
	mu      sync.Mutex
	err     error
	calls   int
	failOn  int // if > 0, fail only on this call number
}

func (f *fakeIssuer) PublishToken(ctx context.Context, stageArn, userID string, attributes map[string]string, duration time.Duration) (string, string, time.Time, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.failOn > 0 && call == f.failOn {
		return "", "", time.Time{}, errors.New("mint failed")
	}
	if f.err != nil {
		return "", "", time.Time{}, f.err
	}
	return "token-" + stageArn, "participant-" + stageArn, time.Now().Add(duration), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStagePoolColdStartAndAllocate(t *testing.T) {
	up := newFakeUpstream()
	issuer := &fakeIssuer{}
	fc := clock.NewFake(time.Now())
	cfg := Config{TargetPoolSize: 2, MaxPoolSize: 2, StagePrefix: "kid-stream", Region: "us-east-1", CreateSpacing: 250 * time.Millisecond, ReplenishInterval: time.Hour}
	pool := New(cfg, up, issuer, fc, testLogger())

	if err := pool.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	fc.Advance(time.Second)

	status := pool.Status()
	if status.Total != 2 {
		t.Fatalf("got total=%d, want 2", status.Total)
	}

	alloc, err := pool.Allocate(context.Background(), "S1", "U1", "C1")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if alloc.WhipURL != whipEndpoint {
		t.Errorf("got whip url %q", alloc.WhipURL)
	}
	if alloc.Region != "us-east-1" {
		t.Errorf("got region %q", alloc.Region)
	}
	if alloc.PublishToken == "" {
		t.Error("expected non-empty publish token")
	}
}

func TestStagePoolOnDemandCreateWhenEmpty(t *testing.T) {
	up := newFakeUpstream()
	issuer := &fakeIssuer{}
	fc := clock.NewFake(time.Now())
	cfg := Config{TargetPoolSize: 0, MaxPoolSize: 10, StagePrefix: "kid-stream", Region: "us-east-1", ReplenishInterval: time.Hour}
	pool := New(cfg, up, issuer, fc, testLogger())
	if err := pool.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	_, err := pool.Allocate(context.Background(), "S2", "U1", "C1")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if up.createCalls != 1 {
		t.Errorf("got %d createStage calls, want 1", up.createCalls)
	}
	status := pool.Status()
	if status.Available != 0 || status.InUse != 1 || status.Total != 1 {
		t.Errorf("got status %+v, want {0 1 1}", status)
	}
}

func TestStagePoolTokenMintRollback(t *testing.T) {
	up := newFakeUpstream()
	issuer := &fakeIssuer{failOn: 1}
	fc := clock.NewFake(time.Now())
	cfg := Config{TargetPoolSize: 1, MaxPoolSize: 1, StagePrefix: "kid-stream", Region: "us-east-1", ReplenishInterval: time.Hour}
	pool := New(cfg, up, issuer, fc, testLogger())
	if err := pool.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	fc.Advance(time.Second)

	before := pool.Status()

	_, err := pool.Allocate(context.Background(), "S5", "U1", "C1")
	if err == nil {
		t.Fatal("expected error from token mint failure")
	}

	after := pool.Status()
	if after.Available != before.Available {
		t.Errorf("got available=%d, want unchanged %d", after.Available, before.Available)
	}

	alloc, err := pool.Allocate(context.Background(), "S5b", "U1", "C1")
	if err != nil {
		t.Fatalf("second Allocate should succeed using rolled-back entry: %v", err)
	}
	if alloc.StageArn == "" {
		t.Error("expected a stage arn on successful second allocate")
	}
}

func TestStagePoolReleaseWithDeleteFailure(t *testing.T) {
	up := newFakeUpstream()
	issuer := &fakeIssuer{}
	fc := clock.NewFake(time.Now())
	cfg := Config{TargetPoolSize: 1, MaxPoolSize: 1, StagePrefix: "kid-stream", Region: "us-east-1", ReplenishInterval: time.Hour}
	pool := New(cfg, up, issuer, fc, testLogger())
	if err := pool.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	fc.Advance(time.Second)

	alloc, err := pool.Allocate(context.Background(), "S6", "U1", "C1")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	up.deleteErr = errors.New("delete failed")
	before := pool.Status()
	pool.Release(context.Background(), alloc.StageArn)

	after := pool.Status()
	if after.Total != before.Total {
		t.Errorf("got total=%d, want unchanged %d", after.Total, before.Total)
	}
	if after.InUse != 0 {
		t.Errorf("got inUse=%d, want 0 (entry should be idle after failed delete)", after.InUse)
	}
}

func TestStagePoolReleaseUnknownArnIsNoop(t *testing.T) {
	up := newFakeUpstream()
	issuer := &fakeIssuer{}
	fc := clock.NewFake(time.Now())
	pool := New(Config{Region: "us-east-1", ReplenishInterval: time.Hour}, up, issuer, fc, testLogger())
	if err := pool.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	pool.Release(context.Background(), "arn:does-not-exist")
}

func TestStagePoolFindByStreamID(t *testing.T) {
	up := newFakeUpstream()
	issuer := &fakeIssuer{}
	fc := clock.NewFake(time.Now())
	cfg := Config{TargetPoolSize: 1, MaxPoolSize: 1, ReplenishInterval: time.Hour, Region: "us-east-1"}
	pool := New(cfg, up, issuer, fc, testLogger())
	if err := pool.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	fc.Advance(time.Second)

	alloc, err := pool.Allocate(context.Background(), "streamX", "U1", "C1")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	arn, found := pool.FindByStreamID("streamX")
	if !found || arn != alloc.StageArn {
		t.Errorf("got (%q, %v), want (%q, true)", arn, found, alloc.StageArn)
	}

	_, found = pool.FindByStreamID("does-not-exist")
	if found {
		t.Error("expected not found for unknown stream id")
	}
}
