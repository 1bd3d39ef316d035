package store

import (
	"context"
	"testing"
	"time"

	"kidstream-ingress/internal/models"
)

func TestMemoryRepositoryChannelRoundTrip(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	if _, found, err := repo.GetChannelByChildID(ctx, "child-1"); err != nil || found {
		t.Fatalf("expected not found, got found=%v err=%v", found, err)
	}

	channel := models.Channel{ID: "chan-1", ChildID: "child-1", Status: models.ChannelInactive}
	if err := repo.UpsertChannel(ctx, channel); err != nil {
		t.Fatalf("UpsertChannel: %v", err)
	}

	got, found, err := repo.GetChannelByChildID(ctx, "child-1")
	if err != nil || !found {
		t.Fatalf("expected found, got found=%v err=%v", found, err)
	}
	if got.ID != "chan-1" {
		t.Errorf("got channel id %q, want chan-1", got.ID)
	}
}

func TestMemoryRepositoryConditionalSessionUpdate(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	session := models.Session{ID: "sess-1", ChannelID: "chan-1", Status: models.SessionInProgress, StartedAt: time.Now()}
	if err := repo.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	now := time.Now()
	err := repo.UpdateSessionStatus(ctx, "sess-1", models.SessionInProgress, models.SessionCompleted, SessionStatusUpdate{EndedAt: &now})
	if err != nil {
		t.Fatalf("UpdateSessionStatus: %v", err)
	}

	got, _, _ := repo.GetSession(ctx, "sess-1")
	if got.Status != models.SessionCompleted {
		t.Errorf("got status %q, want COMPLETED", got.Status)
	}

	err = repo.UpdateSessionStatus(ctx, "sess-1", models.SessionInProgress, models.SessionFailed, SessionStatusUpdate{})
	if err != ErrConflict {
		t.Errorf("got err %v, want ErrConflict (session already transitioned)", err)
	}
}

func TestMemoryRepositoryGetInProgressSession(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	if _, found, _ := repo.GetInProgressSession(ctx, "chan-1"); found {
		t.Fatal("expected no in-progress session initially")
	}

	_ = repo.CreateSession(ctx, models.Session{ID: "a", ChannelID: "chan-1", Status: models.SessionCompleted, StartedAt: time.Now()})
	_ = repo.CreateSession(ctx, models.Session{ID: "b", ChannelID: "chan-1", Status: models.SessionInProgress, StartedAt: time.Now()})

	got, found, err := repo.GetInProgressSession(ctx, "chan-1")
	if err != nil || !found || got.ID != "b" {
		t.Errorf("got (%+v, %v, %v), want session b", got, found, err)
	}
}

func TestMemoryRepositoryListSessionsByChannelPagination(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 5; i++ {
		_ = repo.CreateSession(ctx, models.Session{
			ID:        string(rune('a' + i)),
			ChannelID: "chan-1",
			Status:    models.SessionCompleted,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	page1, cursor1, hasMore1, err := repo.ListSessionsByChannel(ctx, "chan-1", 2, "")
	if err != nil {
		t.Fatalf("ListSessionsByChannel: %v", err)
	}
	if len(page1) != 2 || !hasMore1 || cursor1 == "" {
		t.Fatalf("got page len=%d hasMore=%v cursor=%q", len(page1), hasMore1, cursor1)
	}
	// Most recent (highest StartedAt) first.
	if page1[0].ID != "e" || page1[1].ID != "d" {
		t.Errorf("got page1 ids [%s %s], want [e d]", page1[0].ID, page1[1].ID)
	}

	page2, cursor2, hasMore2, err := repo.ListSessionsByChannel(ctx, "chan-1", 2, cursor1)
	if err != nil {
		t.Fatalf("ListSessionsByChannel page2: %v", err)
	}
	if len(page2) != 2 || !hasMore2 {
		t.Fatalf("got page2 len=%d hasMore=%v", len(page2), hasMore2)
	}
	if page2[0].ID != "c" || page2[1].ID != "b" {
		t.Errorf("got page2 ids [%s %s], want [c b]", page2[0].ID, page2[1].ID)
	}

	page3, _, hasMore3, err := repo.ListSessionsByChannel(ctx, "chan-1", 2, cursor2)
	if err != nil {
		t.Fatalf("ListSessionsByChannel page3: %v", err)
	}
	if len(page3) != 1 || hasMore3 {
		t.Fatalf("got page3 len=%d hasMore=%v, want 1 false", len(page3), hasMore3)
	}
	if page3[0].ID != "a" {
		t.Errorf("got page3 id %s, want a", page3[0].ID)
	}
}

func TestMemoryRepositoryAuditAppend(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	_ = repo.AppendAudit(ctx, models.AuditEntry{Action: models.ActionSessionStarted, ResourceID: "sess-1", Timestamp: time.Now()})
	_ = repo.AppendAudit(ctx, models.AuditEntry{Action: models.ActionSessionEnded, ResourceID: "sess-1", Timestamp: time.Now()})

	entries := repo.AuditEntries()
	if len(entries) != 2 {
		t.Fatalf("got %d audit entries, want 2", len(entries))
	}
	if entries[0].Action != models.ActionSessionStarted || entries[1].Action != models.ActionSessionEnded {
		t.Errorf("got actions [%s %s]", entries[0].Action, entries[1].Action)
	}
}
