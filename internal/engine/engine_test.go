package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"meetline/internal/calendar"
	"meetline/internal/config"
	"meetline/internal/db"
	"meetline/internal/domain"
	"meetline/internal/engine"
	"meetline/internal/migrate"
	"meetline/internal/repo"
)

type testEnv struct {
	Engine  engine.Engine
	Fake    *calendar.Fake
	Ctx     context.Context
	Base    time.Time
	OwnerID string
	GroupID string
	Emails  []string
}

func newTestEnv(t *testing.T, memberCount int) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	fake := calendar.NewFake()
	eng := engine.New(conn, config.Default(), fake)
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return base }

	env := &testEnv{Engine: eng, Fake: fake, Ctx: context.Background(), Base: base}
	env.OwnerID, env.GroupID, env.Emails = seedGroup(t, env, memberCount)
	return env
}

func seedGroup(t *testing.T, env *testEnv, memberCount int) (string, string, []string) {
	t.Helper()
	r := env.Engine.Repo
	now := env.Base
	owner := domain.User{ID: "owner-1", Email: "owner@example.com", DisplayName: "Owner", CreatedAt: now}
	if err := r.InsertUser(env.Ctx, owner); err != nil {
		t.Fatalf("insert owner: %v", err)
	}
	group := domain.Group{ID: "grp-1", OwnerID: owner.ID, Name: "weekly crew", CreatedAt: now}
	if err := r.InsertGroup(env.Ctx, group); err != nil {
		t.Fatalf("insert group: %v", err)
	}
	if err := r.AddGroupMember(env.Ctx, group.ID, owner.ID, now.Format(time.RFC3339)); err != nil {
		t.Fatalf("add owner member: %v", err)
	}
	var emails []string
	for i := 1; i <= memberCount; i++ {
		u := domain.User{
			ID:        fmt.Sprintf("user-%d", i),
			Email:     fmt.Sprintf("member%d@example.com", i),
			CreatedAt: now,
		}
		if err := r.InsertUser(env.Ctx, u); err != nil {
			t.Fatalf("insert member: %v", err)
		}
		if err := r.AddGroupMember(env.Ctx, group.ID, u.ID, now.Format(time.RFC3339)); err != nil {
			t.Fatalf("add member: %v", err)
		}
		emails = append(emails, u.Email)
	}
	return owner.ID, group.ID, emails
}

func (env *testEnv) createPlan(t *testing.T, maxAttempts int) engine.PlanCreateResult {
	t.Helper()
	res, err := env.Engine.CreatePlanWithInitialRun(env.Ctx, engine.PlanCreateOptions{
		OwnerID:             env.OwnerID,
		GroupID:             env.GroupID,
		Title:               "sprint planning",
		DurationMinutes:     60,
		MinAccepted:         2,
		ResponseWindowHours: 24,
		SlotIntervalMinutes: 30,
		MaxAttempts:         maxAttempts,
		WindowStart:         env.Base.Add(24 * time.Hour),
		WindowEnd:           env.Base.Add(72 * time.Hour),
	})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	return res
}

func (env *testEnv) respond(status string, emails ...string) {
	for _, e := range emails {
		env.Fake.Responses[e] = status
	}
}

func TestCreatePlanBooksFirstRun(t *testing.T) {
	env := newTestEnv(t, 3)
	res := env.createPlan(t, 3)

	if res.ExpectedParticipants != 3 {
		t.Fatalf("expected participants = %d, want 3", res.ExpectedParticipants)
	}
	plan, err := env.Engine.Repo.GetPlan(env.Ctx, res.PlanID)
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if plan.Status != domain.PlanActive {
		t.Fatalf("plan status = %s, want active", plan.Status)
	}
	run, err := env.Engine.Repo.GetRun(env.Ctx, res.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != domain.RunPending || run.Attempt != 1 {
		t.Fatalf("run = %s attempt %d, want pending attempt 1", run.Status, run.Attempt)
	}
	if len(run.Invited) != 3 || run.PendingCount != 3 {
		t.Fatalf("invited = %v pending = %d", run.Invited, run.PendingCount)
	}
	if !run.RespondBy.After(env.Base) || !run.RespondBy.Before(run.StartsAt) {
		t.Fatalf("respond by %v not between now and start %v", run.RespondBy, run.StartsAt)
	}
	if len(env.Fake.Bookings) != 1 {
		t.Fatalf("bookings = %d, want 1", len(env.Fake.Bookings))
	}
}

func TestQuorumSecuresPlan(t *testing.T) {
	env := newTestEnv(t, 3)
	res := env.createPlan(t, 3)
	env.respond(calendar.ResponseAccepted, env.Emails[0], env.Emails[1])

	sync, err := env.Engine.SyncForUser(env.Ctx, env.OwnerID)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if sync.Checked != 1 || sync.Secured != 1 {
		t.Fatalf("sync = %+v, want checked 1 secured 1", sync)
	}
	plan, _ := env.Engine.Repo.GetPlan(env.Ctx, res.PlanID)
	if plan.Status != domain.PlanSecured {
		t.Fatalf("plan status = %s, want secured", plan.Status)
	}
	run, _ := env.Engine.Repo.GetRun(env.Ctx, res.RunID)
	if run.Status != domain.RunSecured || run.AcceptedCount != 2 {
		t.Fatalf("run = %s accepted %d", run.Status, run.AcceptedCount)
	}

	// Learning recorded for all invitees.
	stat, err := env.Engine.Repo.GetMemberStat(env.Ctx, env.OwnerID, env.GroupID, env.Emails[0])
	if err != nil || stat.AcceptCount != 1 {
		t.Fatalf("accept stat = %+v err %v", stat, err)
	}
	stat, err = env.Engine.Repo.GetMemberStat(env.Ctx, env.OwnerID, env.GroupID, env.Emails[2])
	if err != nil || stat.NoResponseCount != 1 {
		t.Fatalf("no-response stat = %+v err %v", stat, err)
	}

	// A secured plan never produces another run.
	sync, err = env.Engine.SyncForUser(env.Ctx, env.OwnerID)
	if err != nil || sync.Checked != 0 {
		t.Fatalf("post-secure sync = %+v err %v", sync, err)
	}
}

func TestEveryoneDeclinedExpiresImmediately(t *testing.T) {
	env := newTestEnv(t, 3)
	res := env.createPlan(t, 3)
	firstRun, _ := env.Engine.Repo.GetRun(env.Ctx, res.RunID)
	env.respond(calendar.ResponseDeclined, env.Emails...)

	sync, err := env.Engine.SyncForUser(env.Ctx, env.OwnerID)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if sync.Expired != 1 || sync.Rescheduled != 1 {
		t.Fatalf("sync = %+v, want expired 1 rescheduled 1", sync)
	}
	run, _ := env.Engine.Repo.GetRun(env.Ctx, res.RunID)
	if run.Status != domain.RunExpired || run.StatusReason != "everyone declined" {
		t.Fatalf("run = %s (%s)", run.Status, run.StatusReason)
	}
	if len(env.Fake.Removed) != 1 {
		t.Fatalf("removed = %v, want the first booking cleaned up", env.Fake.Removed)
	}

	plan, _ := env.Engine.Repo.GetPlan(env.Ctx, res.PlanID)
	if plan.Status != domain.PlanActive || plan.LatestRunID == nil {
		t.Fatalf("plan = %s latest %v", plan.Status, plan.LatestRunID)
	}
	next, err := env.Engine.Repo.GetRun(env.Ctx, *plan.LatestRunID)
	if err != nil {
		t.Fatalf("get next run: %v", err)
	}
	if next.Attempt != 2 || next.Status != domain.RunPending {
		t.Fatalf("next = attempt %d %s", next.Attempt, next.Status)
	}
	if next.StartsAt.Equal(firstRun.StartsAt) {
		t.Fatalf("reschedule reused start %v", next.StartsAt)
	}
}

func TestEmptyGroupRejectsPlanCreation(t *testing.T) {
	env := newTestEnv(t, 0)
	_, err := env.Engine.CreatePlanWithInitialRun(env.Ctx, engine.PlanCreateOptions{
		OwnerID:     env.OwnerID,
		GroupID:     env.GroupID,
		Title:       "lonely meeting",
		WindowStart: env.Base.Add(24 * time.Hour),
		WindowEnd:   env.Base.Add(72 * time.Hour),
	})
	if !engine.IsValidation(err) {
		t.Fatalf("err = %v, want validation error", err)
	}
	plans, err := env.Engine.Repo.ListPlansForOwner(env.Ctx, env.OwnerID)
	if err != nil || len(plans) != 0 {
		t.Fatalf("plans = %v err %v, want none persisted", plans, err)
	}
}

func TestAttemptExhaustion(t *testing.T) {
	env := newTestEnv(t, 3)
	res := env.createPlan(t, 2)
	env.respond(calendar.ResponseDeclined, env.Emails...)

	sync, err := env.Engine.SyncForUser(env.Ctx, env.OwnerID)
	if err != nil || sync.Rescheduled != 1 {
		t.Fatalf("first sync = %+v err %v", sync, err)
	}
	sync, err = env.Engine.SyncForUser(env.Ctx, env.OwnerID)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if sync.Expired != 1 || sync.Exhausted != 1 || sync.Rescheduled != 0 {
		t.Fatalf("second sync = %+v, want expired 1 exhausted 1", sync)
	}
	plan, _ := env.Engine.Repo.GetPlan(env.Ctx, res.PlanID)
	if plan.Status != domain.PlanExhausted {
		t.Fatalf("plan status = %s, want exhausted", plan.Status)
	}
	if _, err := env.Engine.Repo.GetPendingRunForPlan(env.Ctx, res.PlanID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("pending run err = %v, want not found", err)
	}
	sync, _ = env.Engine.SyncForUser(env.Ctx, env.OwnerID)
	if sync.Checked != 0 {
		t.Fatalf("exhausted plan still checked: %+v", sync)
	}
}

func TestSyncIdempotentWithoutNewResponses(t *testing.T) {
	env := newTestEnv(t, 3)
	res := env.createPlan(t, 3)
	env.respond(calendar.ResponseAccepted, env.Emails[0])

	first, err := env.Engine.SyncForUser(env.Ctx, env.OwnerID)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	second, err := env.Engine.SyncForUser(env.Ctx, env.OwnerID)
	if err != nil {
		t.Fatalf("sync again: %v", err)
	}
	if first != second {
		t.Fatalf("sync results differ: %+v vs %+v", first, second)
	}
	run, _ := env.Engine.Repo.GetRun(env.Ctx, res.RunID)
	if run.Status != domain.RunPending || run.AcceptedCount != 1 || run.PendingCount != 2 {
		t.Fatalf("run = %s accepted %d pending %d", run.Status, run.AcceptedCount, run.PendingCount)
	}
}

func TestAllUnknownDoesNotFastPathExpire(t *testing.T) {
	env := newTestEnv(t, 3)
	res := env.createPlan(t, 3)
	env.Fake.PollErr = errors.New("provider down")

	sync, err := env.Engine.SyncForUser(env.Ctx, env.OwnerID)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if sync.Expired != 0 || sync.Secured != 0 {
		t.Fatalf("sync = %+v, want still waiting", sync)
	}
	run, _ := env.Engine.Repo.GetRun(env.Ctx, res.RunID)
	if run.Status != domain.RunPending || run.PendingCount != 3 {
		t.Fatalf("run = %s pending %d, want pending 3", run.Status, run.PendingCount)
	}
}

func TestDeadlineMissedExpiresAndLearnsNoResponse(t *testing.T) {
	env := newTestEnv(t, 3)
	res := env.createPlan(t, 3)
	env.respond(calendar.ResponseAccepted, env.Emails[0])
	run, _ := env.Engine.Repo.GetRun(env.Ctx, res.RunID)

	env.Engine.Now = func() time.Time { return run.RespondBy.Add(time.Minute) }
	sync, err := env.Engine.SyncForUser(env.Ctx, env.OwnerID)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if sync.Expired != 1 || sync.Rescheduled != 1 {
		t.Fatalf("sync = %+v, want expired and rescheduled", sync)
	}
	expired, _ := env.Engine.Repo.GetRun(env.Ctx, res.RunID)
	if expired.StatusReason != "deadline missed" {
		t.Fatalf("reason = %q, want deadline missed", expired.StatusReason)
	}
	stat, err := env.Engine.Repo.GetMemberStat(env.Ctx, env.OwnerID, env.GroupID, env.Emails[1])
	if err != nil || stat.NoResponseCount != 1 {
		t.Fatalf("stat = %+v err %v, want one no_response", stat, err)
	}
}

func TestBookingFailureRollsBackPlan(t *testing.T) {
	env := newTestEnv(t, 3)
	env.Fake.InsertErr = errors.New("no writable calendar")
	_, err := env.Engine.CreatePlanWithInitialRun(env.Ctx, engine.PlanCreateOptions{
		OwnerID:     env.OwnerID,
		GroupID:     env.GroupID,
		Title:       "doomed",
		WindowStart: env.Base.Add(24 * time.Hour),
		WindowEnd:   env.Base.Add(72 * time.Hour),
	})
	if !engine.IsValidation(err) {
		t.Fatalf("err = %v, want validation error", err)
	}
	plans, _ := env.Engine.Repo.ListPlansForOwner(env.Ctx, env.OwnerID)
	if len(plans) != 0 {
		t.Fatalf("plans = %d, want full rollback", len(plans))
	}
}

func TestPauseAndResume(t *testing.T) {
	env := newTestEnv(t, 3)
	res := env.createPlan(t, 3)

	if err := env.Engine.PausePlan(env.Ctx, env.OwnerID, res.PlanID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	plan, _ := env.Engine.Repo.GetPlan(env.Ctx, res.PlanID)
	if plan.Status != domain.PlanPaused {
		t.Fatalf("plan status = %s, want paused", plan.Status)
	}
	run, _ := env.Engine.Repo.GetRun(env.Ctx, res.RunID)
	if run.Status != domain.RunCancelled || run.StatusReason != "plan paused" {
		t.Fatalf("run = %s (%s)", run.Status, run.StatusReason)
	}
	if len(env.Fake.Removed) != 1 {
		t.Fatalf("removed = %v, want cancelled booking cleaned up", env.Fake.Removed)
	}
	sync, _ := env.Engine.SyncForUser(env.Ctx, env.OwnerID)
	if sync.Checked != 0 {
		t.Fatalf("paused plan still synced: %+v", sync)
	}

	resumed, err := env.Engine.ResumePlan(env.Ctx, env.OwnerID, res.PlanID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.PlanStatus != domain.PlanActive || resumed.RunID == "" {
		t.Fatalf("resume = %+v, want active with a new run", resumed)
	}
	next, _ := env.Engine.Repo.GetRun(env.Ctx, resumed.RunID)
	if next.Attempt != 2 || next.Status != domain.RunPending {
		t.Fatalf("next = attempt %d %s", next.Attempt, next.Status)
	}
}

func TestParticipantsDeduplicateContacts(t *testing.T) {
	env := newTestEnv(t, 2)
	r := env.Engine.Repo
	now := env.Base
	// Contact duplicating a member email plus one outside contact.
	uid := "user-1"
	if err := r.InsertContact(env.Ctx, domain.Contact{
		ID: "c-1", OwnerID: env.OwnerID, GroupID: env.GroupID,
		Email: " Member1@Example.com ", UserID: &uid, CreatedAt: now,
	}); err != nil {
		t.Fatalf("insert contact: %v", err)
	}
	if err := r.InsertContact(env.Ctx, domain.Contact{
		ID: "c-2", OwnerID: env.OwnerID, GroupID: env.GroupID,
		Email: "guest@example.com", DisplayName: "Guest", CreatedAt: now,
	}); err != nil {
		t.Fatalf("insert contact: %v", err)
	}

	parts, err := env.Engine.ResolveParticipants(env.Ctx, env.OwnerID, env.GroupID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(parts) != 3 {
		t.Fatalf("participants = %d, want 3 (2 members + 1 guest)", len(parts))
	}
	for _, p := range parts {
		if p.Email == "owner@example.com" {
			t.Fatal("owner must never be invited")
		}
	}
}
