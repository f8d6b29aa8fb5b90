package repo_test

import (
	"context"
	"testing"
	"time"

	"meetline/internal/db"
	"meetline/internal/domain"
	"meetline/internal/migrate"
	"meetline/internal/repo"
)

func newTestRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func applyDelta(t *testing.T, r repo.Repo, d repo.StatDelta) {
	t.Helper()
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if err := r.ApplyStatDelta(ctx, tx, d, time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("apply delta: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestStatDeltaAccumulates(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	base := repo.StatDelta{OwnerID: "o1", GroupID: "g1", Email: "p@example.com"}

	d := base
	d.Accept = 1
	d.LastResponse = "accepted"
	applyDelta(t, r, d)

	d = base
	d.Decline = 1
	d.LastResponse = "declined"
	applyDelta(t, r, d)

	d = base
	d.NoResponse = 1
	d.LastResponse = "no_response"
	uid := "user-p"
	d.UserID = &uid
	applyDelta(t, r, d)

	stat, err := r.GetMemberStat(ctx, "o1", "g1", "p@example.com")
	if err != nil {
		t.Fatalf("get stat: %v", err)
	}
	if stat.AcceptCount != 1 || stat.DeclineCount != 1 || stat.NoResponseCount != 1 {
		t.Fatalf("counts = %d/%d/%d, want 1/1/1", stat.AcceptCount, stat.DeclineCount, stat.NoResponseCount)
	}
	if stat.LastResponse != "no_response" {
		t.Fatalf("last response = %q", stat.LastResponse)
	}
	if stat.UserID != "user-p" {
		t.Fatalf("user id = %q, want linked after third delta", stat.UserID)
	}

	// A later delta without a link must not erase the stored one.
	d = base
	d.Accept = 1
	d.LastResponse = "accepted"
	applyDelta(t, r, d)
	stat, _ = r.GetMemberStat(ctx, "o1", "g1", "p@example.com")
	if stat.UserID != "user-p" || stat.AcceptCount != 2 {
		t.Fatalf("stat = %+v, want link kept and accept 2", stat)
	}
}

func TestListPendingRunsOrderedByDeadline(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	if err := r.InsertUser(ctx, domain.User{ID: "o1", Email: "o@example.com", CreatedAt: now}); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	if err := r.InsertGroup(ctx, domain.Group{ID: "g1", OwnerID: "o1", Name: "g", CreatedAt: now}); err != nil {
		t.Fatalf("insert group: %v", err)
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	mkPlan := func(id string, status domain.PlanStatus) {
		p := domain.Plan{
			ID: id, OwnerID: "o1", GroupID: "g1", Title: id,
			DurationMinutes: 60, MinAccepted: 2, ResponseWindowHours: 24,
			SlotIntervalMinutes: 30, MaxAttempts: 3,
			WindowStart: now, WindowEnd: now.Add(48 * time.Hour),
			CalendarID: "primary", Status: status, CreatedAt: now, UpdatedAt: now,
		}
		if err := r.InsertPlan(ctx, tx, p); err != nil {
			t.Fatalf("insert plan %s: %v", id, err)
		}
	}
	mkRun := func(id, planID string, status domain.RunStatus, respondBy time.Time) {
		run := domain.Run{
			ID: id, PlanID: planID, Attempt: 1,
			StartsAt: now.Add(24 * time.Hour), EndsAt: now.Add(25 * time.Hour),
			RespondBy: respondBy, Invited: []string{"a@example.com"},
			ParticipantCount: 1, PendingCount: 1,
			Status: status, CreatedAt: now, UpdatedAt: now,
		}
		if err := r.InsertRun(ctx, tx, run); err != nil {
			t.Fatalf("insert run %s: %v", id, err)
		}
	}
	mkPlan("p-late", domain.PlanActive)
	mkRun("r-late", "p-late", domain.RunPending, now.Add(20*time.Hour))
	mkPlan("p-soon", domain.PlanActive)
	mkRun("r-soon", "p-soon", domain.RunPending, now.Add(2*time.Hour))
	mkPlan("p-paused", domain.PlanPaused)
	mkRun("r-paused", "p-paused", domain.RunPending, now.Add(time.Hour))
	mkPlan("p-done", domain.PlanActive)
	mkRun("r-done", "p-done", domain.RunSecured, now.Add(time.Hour))
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	pending, err := r.ListPendingRunsForOwner(ctx, "o1")
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2 (paused and secured filtered)", len(pending))
	}
	if pending[0].Run.ID != "r-soon" || pending[1].Run.ID != "r-late" {
		t.Fatalf("order = %s, %s, want nearest deadline first", pending[0].Run.ID, pending[1].Run.ID)
	}
	if pending[0].Plan.ID != "p-soon" {
		t.Fatalf("joined plan = %s", pending[0].Plan.ID)
	}
}
