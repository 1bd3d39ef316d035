package session

import (
	"context"
	"time"

	"kidstream-ingress/internal/stagepool"
)

// Allocator is the subset of stagepool.StagePool the session manager
// depends on, kept narrow so tests can substitute a fake pool.
type Allocator interface {
	Allocate(ctx context.Context, streamID, userID, childID string) (stagepool.Allocation, error)
	CreateSubscribeToken(ctx context.Context, stageArn, userID, streamID string, duration time.Duration) (stagepool.SubscribeAllocation, error)
	Release(ctx context.Context, stageArn string)
	FindByStreamID(streamID string) (arn string, found bool)
}
