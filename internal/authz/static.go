// Package authz is a minimal, config-seeded implementation of the child-
// ownership and parent-watch relations the session manager authorizes
// against. spec.md §1 places the relational store that actually holds
// child profiles and parent/child relations out of scope as an external
// collaborator; this package is a stand-in a deployment can swap for a
// real adapter over that store without touching internal/session, which
// only depends on the narrow ChildAuthorizer/ParentAuthorizer interfaces.
package authz

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ChildRecord describes one child profile's ownership and streaming flag.
type ChildRecord struct {
	ChildID          string `json:"childId"`
	OwnerUserID      string `json:"ownerUserId"`
	StreamingEnabled bool   `json:"streamingEnabled"`
}

// RelationRecord describes one parent/child watch relation.
type RelationRecord struct {
	ParentUserID string `json:"parentUserId"`
	ChildID      string `json:"childId"`
	CanWatch     bool   `json:"canWatch"`
}

// Seed is the JSON shape loaded from a config source: a flat list of child
// records and watch relations.
type Seed struct {
	Children  []ChildRecord    `json:"children"`
	Relations []RelationRecord `json:"relations"`
}

// StaticAuthorizer implements session.ChildAuthorizer and
// session.ParentAuthorizer over an in-memory seed, safe for concurrent
// reads/writes.
type StaticAuthorizer struct {
	mu        sync.RWMutex
	children  map[string]ChildRecord
	relations map[string]bool // key: parentUserID + "|" + childID
}

// NewStaticAuthorizer builds an authorizer from seed, ignoring a nil seed
// (an empty authorizer denies everything, matching the safe default).
func NewStaticAuthorizer(seed Seed) *StaticAuthorizer {
	a := &StaticAuthorizer{
		children:  make(map[string]ChildRecord),
		relations: make(map[string]bool),
	}
	for _, c := range seed.Children {
		a.children[c.ChildID] = c
	}
	for _, r := range seed.Relations {
		a.relations[relationKey(r.ParentUserID, r.ChildID)] = r.CanWatch
	}
	return a
}

func relationKey(parentUserID, childID string) string {
	return parentUserID + "|" + childID
}

// OwnsChild implements session.ChildAuthorizer.
func (a *StaticAuthorizer) OwnsChild(ctx context.Context, callerUserID, childID string) (streamingEnabled bool, owns bool, err error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	record, ok := a.children[childID]
	if !ok || record.OwnerUserID != callerUserID {
		return false, false, nil
	}
	return record.StreamingEnabled, true, nil
}

// CanWatch implements session.ParentAuthorizer.
func (a *StaticAuthorizer) CanWatch(ctx context.Context, parentUserID, childID string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.relations[relationKey(parentUserID, childID)], nil
}

// PutChild upserts a child record, for operator tooling and tests that seed
// data after construction.
func (a *StaticAuthorizer) PutChild(record ChildRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.children[record.ChildID] = record
}

// PutRelation upserts a parent/child watch relation.
func (a *StaticAuthorizer) PutRelation(record RelationRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.relations[relationKey(record.ParentUserID, record.ChildID)] = record.CanWatch
}

// ParseSeed decodes a JSON payload into a Seed, mirroring the
// object-or-array tolerance the teacher's oauth provider config loader
// uses: a bare object with "children"/"relations" keys.
func ParseSeed(data []byte) (Seed, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return Seed{}, nil
	}
	var seed Seed
	if err := json.Unmarshal([]byte(trimmed), &seed); err != nil {
		return Seed{}, fmt.Errorf("decode authz seed: %w", err)
	}
	return seed, nil
}

// LoadSeed loads a Seed from a JSON string or a file path, matching
// internal/auth/oauth's config-source convention: a value starting with
// "{" is treated as inline JSON, otherwise it is read as a file path.
func LoadSeed(source string) (Seed, error) {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return Seed{}, nil
	}
	if strings.HasPrefix(trimmed, "{") {
		return ParseSeed([]byte(trimmed))
	}
	content, err := os.ReadFile(trimmed)
	if err != nil {
		return Seed{}, fmt.Errorf("read authz seed file %s: %w", trimmed, err)
	}
	return ParseSeed(content)
}
