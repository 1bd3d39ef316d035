package stagepool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"kidstream-ingress/internal/clock"
	"kidstream-ingress/internal/upstream"
)

// TokenIssuer is the minimal credential-minting capability the pool needs.
// Implemented by credentials.CredentialIssuer; kept as a narrow interface
// here to avoid a package-level dependency in either direction.
type TokenIssuer interface {
	PublishToken(ctx context.Context, stageArn, userID string, attributes map[string]string, duration time.Duration) (token, participantID string, expiresAt time.Time, err error)
}

// Allocation is the result of a successful Allocate call.
type Allocation struct {
	StageArn      string
	StageName     string
	PublishToken  string
	ParticipantID string
	ExpiresAt     time.Time
	WhipURL       string
	Region        string
}

// SubscribeAllocation is the result of createSubscribeToken: a pure
// credential mint that never touches pool state.
type SubscribeAllocation struct {
	Token         string
	ParticipantID string
	ExpiresAt     time.Time
}

// Status is a snapshot of pool occupancy.
type Status struct {
	Available int
	InUse     int
	Total     int
}

const whipEndpoint = "https://global.whip.live-video.net"

const allocateTokenDuration = 60 * time.Minute

// StagePool is a process-wide, mutable pool of pre-created upstream stages.
// Modeled per the teacher's background-worker pattern in
// cmd/server/session_purger.go, generalized with an allocate/release
// surface and a singleflight-guarded replenishment pass.
type StagePool struct {
	cfg       Config
	upstream  upstream.API
	issuer    TokenIssuer
	clock     clock.Clock
	logger    *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry

	replenishing atomic.Bool
	sf           singleflight.Group

	ticker   clock.Ticker
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup

	initOnce sync.Once
	initErr  error
}

type entry struct {
	arn         string
	name        string
	createdAt   time.Time
	inUse       bool
	streamID    string
	allocatedAt *time.Time
}

// New constructs a StagePool. Call Initialize before Allocate.
func New(cfg Config, api upstream.API, issuer TokenIssuer, clk clock.Clock, logger *slog.Logger) *StagePool {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.NewReal()
	}
	return &StagePool{
		cfg:      cfg.withDefaults(),
		upstream: api,
		issuer:   issuer,
		clock:    clk,
		logger:   logger,
		entries:  make(map[string]*entry),
		stopCh:   make(chan struct{}),
	}
}

// Initialize loads all upstream stages whose name carries the configured
// prefix and starts the replenishment loop. Idempotent; safe to call more
// than once (subsequent calls are no-ops returning the first result).
func (p *StagePool) Initialize(ctx context.Context) error {
	p.initOnce.Do(func() {
		p.initErr = p.load(ctx)
		if p.initErr != nil {
			return
		}
		p.startReplenishLoop()
		p.triggerReplenish(context.Background())
	})
	return p.initErr
}

func (p *StagePool) load(ctx context.Context) error {
	stages, err := p.upstream.ListStages(ctx)
	if err != nil {
		return fmt.Errorf("list upstream stages: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range stages {
		if !hasPrefix(s.Name, p.cfg.StagePrefix) {
			continue
		}
		e := &entry{arn: s.Arn, name: s.Name, createdAt: p.clock.Now()}
		if s.ActiveSessionID != "" {
			e.inUse = true
			e.streamID = s.ActiveSessionID
			now := p.clock.Now()
			e.allocatedAt = &now
		}
		p.entries[s.Arn] = e
	}
	return nil
}

func hasPrefix(name, prefix string) bool {
	return len(name) >= len(prefix) && name[:len(prefix)] == prefix
}

func (p *StagePool) startReplenishLoop() {
	p.ticker = p.clock.NewTicker(p.cfg.ReplenishInterval)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-p.stopCh:
				p.ticker.Stop()
				return
			case <-p.ticker.C():
				p.triggerReplenish(context.Background())
			}
		}
	}()
}

// triggerReplenish runs a replenishment pass, collapsing concurrent callers
// (ticker tick, post-release nudge) via singleflight so only one pass is
// ever in flight.
func (p *StagePool) triggerReplenish(ctx context.Context) {
	_, _, _ = p.sf.Do("replenish", func() (interface{}, error) {
		p.replenish(ctx)
		return nil, nil
	})
}

func (p *StagePool) replenish(ctx context.Context) {
	if !p.replenishing.CompareAndSwap(false, true) {
		return
	}
	defer p.replenishing.Store(false)

	p.cleanupOldStages(ctx)

	available, total := p.counts()
	toCreate := min3(p.cfg.TargetPoolSize-available, p.cfg.MaxPoolSize-total, p.cfg.CreateBatchLimit)
	if toCreate <= 0 {
		return
	}

	for i := 0; i < toCreate; i++ {
		if _, err := p.createAndStore(ctx); err != nil {
			var rateLimited *upstream.RateLimitedError
			if errors.As(err, &rateLimited) {
				p.logger.Warn("stage pool replenishment stopped: upstream create rate limit hit", "error", err, "created", i)
			} else {
				p.logger.Warn("stage pool replenishment stopped early", "error", err, "created", i)
			}
			break
		}
		if i < toCreate-1 {
			p.clock.Sleep(p.cfg.CreateSpacing)
		}
	}
}

func (p *StagePool) cleanupOldStages(ctx context.Context) {
	cutoff := p.clock.Now().Add(-p.cfg.StageMaxAge)

	p.mu.Lock()
	var stale []*entry
	for _, e := range p.entries {
		if !e.inUse && e.createdAt.Before(cutoff) {
			stale = append(stale, e)
			if len(stale) >= p.cfg.CleanupBatchLimit {
				break
			}
		}
	}
	p.mu.Unlock()

	for _, e := range stale {
		if err := p.upstream.DeleteStage(ctx, e.arn); err != nil {
			p.logger.Warn("cleanup delete stage failed, will retry later", "arn", e.arn, "error", err)
			continue
		}
		p.mu.Lock()
		delete(p.entries, e.arn)
		p.mu.Unlock()
	}
}

func (p *StagePool) createAndStore(ctx context.Context) (*entry, error) {
	name := stageName(p.cfg.StagePrefix, p.clock.Now().UnixMilli())
	tags := map[string]string{
		"pool":      "true",
		"createdAt": p.clock.Now().Format(time.RFC3339),
	}
	stage, err := p.upstream.CreateStage(ctx, upstream.CreateStageParams{Name: name, Tags: tags})
	if err != nil {
		return nil, err
	}
	e := &entry{arn: stage.Arn, name: stage.Name, createdAt: p.clock.Now()}
	p.mu.Lock()
	p.entries[stage.Arn] = e
	p.mu.Unlock()
	return e, nil
}

func (p *StagePool) counts() (available, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		total++
		if !e.inUse {
			available++
		}
	}
	return available, total
}

// Allocate selects (or on-demand creates) an idle stage, marks it in-use for
// streamID, mints a publish token, and rolls the entry back on mint failure.
func (p *StagePool) Allocate(ctx context.Context, streamID, userID, childID string) (Allocation, error) {
	e, created, err := p.selectOrCreate(ctx)
	if err != nil {
		return Allocation{}, &ResourceExhaustedError{Cause: err}
	}
	_ = created

	now := p.clock.Now()
	p.mu.Lock()
	e.inUse = true
	e.streamID = streamID
	e.allocatedAt = &now
	p.mu.Unlock()

	attrs := map[string]string{"childId": childID, "streamId": streamID, "role": "publisher"}
	token, participantID, expiresAt, err := p.issuer.PublishToken(ctx, e.arn, userID, attrs, allocateTokenDuration)
	if err != nil {
		p.mu.Lock()
		e.inUse = false
		e.streamID = ""
		e.allocatedAt = nil
		p.mu.Unlock()
		return Allocation{}, fmt.Errorf("mint publish token: %w", err)
	}

	return Allocation{
		StageArn:      e.arn,
		StageName:     e.name,
		PublishToken:  token,
		ParticipantID: participantID,
		ExpiresAt:     expiresAt,
		WhipURL:       whipEndpoint,
		Region:        p.cfg.Region,
	}, nil
}

func (p *StagePool) selectOrCreate(ctx context.Context) (*entry, bool, error) {
	p.mu.Lock()
	for _, e := range p.entries {
		if !e.inUse {
			p.mu.Unlock()
			return e, false, nil
		}
	}
	p.mu.Unlock()

	e, err := p.createAndStore(ctx)
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

// CreateSubscribeToken is a pure credential mint against an existing stage;
// it never mutates pool state. Issuers that also have a SubscribeToken
// method (credentials.CredentialIssuer does) mint with it; any other
// TokenIssuer mints through PublishToken.
func (p *StagePool) CreateSubscribeToken(ctx context.Context, stageArn, userID, streamID string, duration time.Duration) (SubscribeAllocation, error) {
	attrs := map[string]string{"streamId": streamID, "role": "subscriber"}
	mint := p.issuer.PublishToken
	if subscriber, ok := p.issuer.(interface {
		SubscribeToken(ctx context.Context, stageArn, userID string, attributes map[string]string, duration time.Duration) (string, string, time.Time, error)
	}); ok {
		mint = subscriber.SubscribeToken
	}
	token, participantID, expiresAt, err := mint(ctx, stageArn, userID, attrs, duration)
	if err != nil {
		return SubscribeAllocation{}, fmt.Errorf("mint subscribe token: %w", err)
	}
	return SubscribeAllocation{Token: token, ParticipantID: participantID, ExpiresAt: expiresAt}, nil
}

// Release is idempotent: unknown arns are logged and ignored. A delete
// failure retains the entry as idle rather than retrying inline.
func (p *StagePool) Release(ctx context.Context, stageArn string) {
	p.mu.Lock()
	e, ok := p.entries[stageArn]
	p.mu.Unlock()
	if !ok {
		p.logger.Info("release of unknown stage arn, ignoring", "arn", stageArn)
		return
	}

	if err := p.upstream.DeleteStage(ctx, stageArn); err != nil {
		p.logger.Warn("release delete stage failed, marking idle for later cleanup", "arn", stageArn, "error", err)
		p.mu.Lock()
		e.inUse = false
		e.streamID = ""
		e.allocatedAt = nil
		p.mu.Unlock()
	} else {
		p.mu.Lock()
		delete(p.entries, stageArn)
		p.mu.Unlock()
	}

	p.triggerReplenish(ctx)
}

// FindByStreamID linear-scans entries for a matching in-use streamID.
func (p *StagePool) FindByStreamID(streamID string) (arn string, found bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.inUse && e.streamID == streamID {
			return e.arn, true
		}
	}
	return "", false
}

// Status reports current pool occupancy.
func (p *StagePool) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	var s Status
	for _, e := range p.entries {
		s.Total++
		if e.inUse {
			s.InUse++
		} else {
			s.Available++
		}
	}
	return s
}

// Shutdown stops the replenishment loop. In-use stages are left untouched.
func (p *StagePool) Shutdown() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	p.wg.Wait()
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
