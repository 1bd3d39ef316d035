// Package stagepool maintains a pre-warmed pool of upstream WebRTC stages
// sized to absorb request bursts against a rate-limited upstream create
// call. This generalizes the teacher's session-purge background worker
// (cmd/server/session_purger.go) into an allocate/release pool with its own
// replenishment ticker.
package stagepool

import "time"

// Config is the immutable tuning for a StagePool, with the defaults named
// in the data model.
type Config struct {
	TargetPoolSize    int
	MaxPoolSize       int
	StagePrefix       string
	Region            string
	ReplenishInterval time.Duration
	StageMaxAge       time.Duration
	CreateBatchLimit  int
	CreateSpacing     time.Duration
	CleanupBatchLimit int
}

// DefaultConfig returns the pool configuration defaults.
func DefaultConfig(region string) Config {
	return Config{
		TargetPoolSize:    50,
		MaxPoolSize:       200,
		StagePrefix:       "kid-stream",
		Region:            region,
		ReplenishInterval: 30 * time.Second,
		StageMaxAge:       time.Hour,
		CreateBatchLimit:  5,
		CreateSpacing:     250 * time.Millisecond,
		CleanupBatchLimit: 3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig(c.Region)
	// A zero target is kept as given: it means no pre-warm.
	d.TargetPoolSize = c.TargetPoolSize
	if c.MaxPoolSize != 0 {
		d.MaxPoolSize = c.MaxPoolSize
	}
	if c.StagePrefix != "" {
		d.StagePrefix = c.StagePrefix
	}
	if c.ReplenishInterval != 0 {
		d.ReplenishInterval = c.ReplenishInterval
	}
	if c.StageMaxAge != 0 {
		d.StageMaxAge = c.StageMaxAge
	}
	if c.CreateBatchLimit != 0 {
		d.CreateBatchLimit = c.CreateBatchLimit
	}
	if c.CreateSpacing != 0 {
		d.CreateSpacing = c.CreateSpacing
	}
	if c.CleanupBatchLimit != 0 {
		d.CleanupBatchLimit = c.CleanupBatchLimit
	}
	return d
}
