package authz

import (
	"context"
	"testing"
)

func TestStaticAuthorizerOwnsChild(t *testing.T) {
	a := NewStaticAuthorizer(Seed{
		Children: []ChildRecord{
			{ChildID: "c1", OwnerUserID: "u1", StreamingEnabled: true},
			{ChildID: "c2", OwnerUserID: "u1", StreamingEnabled: false},
		},
	})

	streamingEnabled, owns, err := a.OwnsChild(context.Background(), "u1", "c1")
	if err != nil || !owns || !streamingEnabled {
		t.Fatalf("expected owns+enabled, got owns=%v enabled=%v err=%v", owns, streamingEnabled, err)
	}

	_, owns, err = a.OwnsChild(context.Background(), "u2", "c1")
	if err != nil || owns {
		t.Fatalf("expected not owns for wrong caller, got owns=%v err=%v", owns, err)
	}

	streamingEnabled, owns, err = a.OwnsChild(context.Background(), "u1", "c2")
	if err != nil || !owns || streamingEnabled {
		t.Fatalf("expected owns but disabled, got owns=%v enabled=%v err=%v", owns, streamingEnabled, err)
	}

	_, owns, err = a.OwnsChild(context.Background(), "u1", "unknown")
	if err != nil || owns {
		t.Fatalf("expected unknown child to not be owned, got owns=%v err=%v", owns, err)
	}
}

func TestStaticAuthorizerCanWatch(t *testing.T) {
	a := NewStaticAuthorizer(Seed{
		Relations: []RelationRecord{
			{ParentUserID: "p1", ChildID: "c1", CanWatch: true},
			{ParentUserID: "p1", ChildID: "c2", CanWatch: false},
		},
	})

	ok, err := a.CanWatch(context.Background(), "p1", "c1")
	if err != nil || !ok {
		t.Fatalf("expected can watch, got %v err=%v", ok, err)
	}

	ok, err = a.CanWatch(context.Background(), "p1", "c2")
	if err != nil || ok {
		t.Fatalf("expected cannot watch, got %v err=%v", ok, err)
	}

	ok, err = a.CanWatch(context.Background(), "p2", "c1")
	if err != nil || ok {
		t.Fatalf("expected unrelated parent denied, got %v err=%v", ok, err)
	}
}

func TestStaticAuthorizerPutMutations(t *testing.T) {
	a := NewStaticAuthorizer(Seed{})
	a.PutChild(ChildRecord{ChildID: "c1", OwnerUserID: "u1", StreamingEnabled: true})
	a.PutRelation(RelationRecord{ParentUserID: "p1", ChildID: "c1", CanWatch: true})

	streamingEnabled, owns, err := a.OwnsChild(context.Background(), "u1", "c1")
	if err != nil || !owns || !streamingEnabled {
		t.Fatalf("expected runtime-added child to be owned+enabled, got owns=%v enabled=%v err=%v", owns, streamingEnabled, err)
	}

	ok, err := a.CanWatch(context.Background(), "p1", "c1")
	if err != nil || !ok {
		t.Fatalf("expected runtime-added relation to allow watch, got %v err=%v", ok, err)
	}
}

func TestParseSeedEmpty(t *testing.T) {
	seed, err := ParseSeed(nil)
	if err != nil {
		t.Fatalf("ParseSeed(nil) returned error: %v", err)
	}
	if len(seed.Children) != 0 || len(seed.Relations) != 0 {
		t.Fatalf("expected empty seed, got %+v", seed)
	}
}

func TestLoadSeedInlineJSON(t *testing.T) {
	seed, err := LoadSeed(`{"children":[{"childId":"c1","ownerUserId":"u1","streamingEnabled":true}]}`)
	if err != nil {
		t.Fatalf("LoadSeed returned error: %v", err)
	}
	if len(seed.Children) != 1 || seed.Children[0].ChildID != "c1" {
		t.Fatalf("unexpected seed: %+v", seed)
	}
}

func TestLoadSeedMissingFile(t *testing.T) {
	if _, err := LoadSeed("/nonexistent/path/seed.json"); err == nil {
		t.Fatal("expected error loading missing seed file")
	}
}
