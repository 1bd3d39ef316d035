// Package upstream defines the contract the ingress provisioning core uses
// to talk to the managed cloud live-video platform (stage create/get/list/
// delete, participant token minting, and HLS composition control), along
// with an HTTP implementation of that contract.
//
// The HTTP implementation's retry semantics are ported from the teacher's
// internal/ingest adapter layer: retry on network errors, 5xx, and 429;
// treat any other 4xx as permanent.
package upstream

import (
	"context"
	"time"
)

// Stage is the upstream "room" resource. ActiveSessionID is non-empty while
// a publisher is actively streaming into it.
type Stage struct {
	Arn             string
	Name            string
	ActiveSessionID string
	Tags            map[string]string
}

// CreateStageParams describes a new upstream stage request.
type CreateStageParams struct {
	Name string
	Tags map[string]string
}

// Capability mirrors models.Capability without importing the models package,
// keeping this collaborator boundary free of domain-specific types.
type Capability string

const (
	CapabilityPublish   Capability = "PUBLISH"
	CapabilitySubscribe Capability = "SUBSCRIBE"
)

// CreateParticipantTokenParams describes a token mint request.
type CreateParticipantTokenParams struct {
	StageArn     string
	UserID       string
	Capabilities []Capability
	Duration     time.Duration
	Attributes   map[string]string
}

// ParticipantToken is the upstream's response to a token mint request.
type ParticipantToken struct {
	Token          string
	ParticipantID  string
	ExpirationTime time.Time
}

// Composition represents an upstream HLS/recording composition bound to a
// stage.
type Composition struct {
	ID       string
	StageArn string
	State    string
}

// API is the set of upstream operations the ingress provisioning core
// consumes. Implementations must be safe for concurrent use.
type API interface {
	CreateStage(ctx context.Context, params CreateStageParams) (Stage, error)
	// GetStage returns (Stage{}, false, nil) when the stage does not exist.
	GetStage(ctx context.Context, arn string) (Stage, bool, error)
	ListStages(ctx context.Context) ([]Stage, error)
	DeleteStage(ctx context.Context, arn string) error

	CreateParticipantToken(ctx context.Context, params CreateParticipantTokenParams) (ParticipantToken, error)

	StartComposition(ctx context.Context, idempotencyToken, stageArn string) (Composition, error)
	StopComposition(ctx context.Context, compositionID string) error
	ListCompositions(ctx context.Context, stageArn string) ([]Composition, error)
}
