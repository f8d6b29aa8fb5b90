package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"meetline/internal/calendar"
	"meetline/internal/config"
	"meetline/internal/domain"
	"meetline/internal/events"
	"meetline/internal/repo"
)

// Engine owns the plan/run lifecycle: slot selection, booking, response
// evaluation, rescheduling and learning.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Calendar calendar.Provider
	Config   *config.Config
	Log      *slog.Logger
	Now      func() time.Time
}

// New wires an Engine over an open database and calendar provider.
func New(conn *sql.DB, cfg *config.Config, provider calendar.Provider) Engine {
	return Engine{
		DB:       conn,
		Repo:     repo.Repo{DB: conn},
		Events:   events.Writer{DB: conn},
		Calendar: provider,
		Config:   cfg,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) logger() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

func (e Engine) cfg() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

// ValidationError marks a rejected precondition. Nothing is persisted when
// one is returned.
type ValidationError struct {
	Reason string
}

func (v ValidationError) Error() string { return v.Reason }

func IsValidation(err error) bool {
	var v ValidationError
	return errors.As(err, &v)
}

func ensurePlanTransition(old, next domain.PlanStatus) error {
	switch old {
	case domain.PlanActive:
		switch next {
		case domain.PlanSecured, domain.PlanExhausted, domain.PlanPaused:
			return nil
		}
	case domain.PlanPaused:
		if next == domain.PlanActive {
			return nil
		}
	}
	return ValidationError{Reason: fmt.Sprintf("plan cannot move from %s to %s", old, next)}
}

func ensureRunTransition(old, next domain.RunStatus) error {
	if old == domain.RunPending {
		switch next {
		case domain.RunSecured, domain.RunExpired, domain.RunCancelled:
			return nil
		}
	}
	return ValidationError{Reason: fmt.Sprintf("run cannot move from %s to %s", old, next)}
}

func clampInt(v, def, lo, hi int) int {
	if v == 0 {
		v = def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// PlanCreateOptions carries the caller's plan request. Zero numeric fields
// fall back to the configured scheduling defaults before clamping.
type PlanCreateOptions struct {
	OwnerID             string
	GroupID             string
	Title               string
	Description         string
	Location            string
	Tags                []string
	DurationMinutes     int
	MinAccepted         int
	ResponseWindowHours int
	SlotIntervalMinutes int
	MaxAttempts         int
	WindowStart         time.Time
	WindowEnd           time.Time
	CalendarID          string
}

type PlanCreateResult struct {
	PlanID               string
	RunID                string
	StartsAt             time.Time
	EndsAt               time.Time
	ExpectedParticipants int
}

// CreatePlanWithInitialRun validates, persists the plan and immediately
// books attempt #1. The whole operation is all-or-nothing: any failure,
// including calendar booking, leaves no rows behind.
func (e Engine) CreatePlanWithInitialRun(ctx context.Context, opts PlanCreateOptions) (PlanCreateResult, error) {
	now := e.now()
	opts.Title = strings.TrimSpace(opts.Title)
	if opts.Title == "" {
		return PlanCreateResult{}, ValidationError{Reason: "title is required"}
	}
	if !opts.WindowEnd.After(opts.WindowStart) {
		return PlanCreateResult{}, ValidationError{Reason: "search window end must be after its start"}
	}

	defaults := e.cfg().Scheduling
	plan := domain.Plan{
		ID:                  uuid.NewString(),
		OwnerID:             opts.OwnerID,
		GroupID:             opts.GroupID,
		Title:               opts.Title,
		Description:         opts.Description,
		Location:            opts.Location,
		Tags:                opts.Tags,
		DurationMinutes:     clampInt(opts.DurationMinutes, defaults.DurationMinutes, 15, 1440),
		MinAccepted:         clampInt(opts.MinAccepted, defaults.MinAccepted, 1, 50),
		ResponseWindowHours: clampInt(opts.ResponseWindowHours, defaults.ResponseWindowHours, 1, 336),
		SlotIntervalMinutes: clampInt(opts.SlotIntervalMinutes, defaults.SlotIntervalMinutes, 15, 180),
		MaxAttempts:         clampInt(opts.MaxAttempts, defaults.MaxAttempts, 1, 10),
		WindowStart:         opts.WindowStart.UTC(),
		WindowEnd:           opts.WindowEnd.UTC(),
		CalendarID:          opts.CalendarID,
		Status:              domain.PlanActive,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if plan.CalendarID == "" {
		plan.CalendarID = e.cfg().Calendar.DefaultID
	}
	if plan.CalendarID == "" {
		plan.CalendarID = "primary"
	}

	group, err := e.Repo.GetGroup(ctx, plan.GroupID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return PlanCreateResult{}, ValidationError{Reason: "unknown group"}
		}
		return PlanCreateResult{}, err
	}
	if group.OwnerID != plan.OwnerID {
		member, err := e.Repo.IsGroupMember(ctx, plan.GroupID, plan.OwnerID)
		if err != nil {
			return PlanCreateResult{}, err
		}
		if !member {
			return PlanCreateResult{}, ValidationError{Reason: "caller is not a member of the group"}
		}
	}

	participants, err := e.ResolveParticipants(ctx, plan.OwnerID, plan.GroupID)
	if err != nil {
		return PlanCreateResult{}, err
	}
	if len(participants) == 0 {
		return PlanCreateResult{}, ValidationError{Reason: "group has no participants to invite"}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return PlanCreateResult{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertPlan(ctx, tx, plan); err != nil {
		return PlanCreateResult{}, err
	}
	run, expected, err := e.scheduleAttempt(ctx, tx, plan, 1, nil, participants, now)
	if err != nil {
		return PlanCreateResult{}, err
	}
	err = e.Events.Append(ctx, tx, "plan.created", plan.OwnerID, "plan", plan.ID, events.EventPayload{
		"title":        plan.Title,
		"group_id":     plan.GroupID,
		"min_accepted": plan.MinAccepted,
		"max_attempts": plan.MaxAttempts,
	})
	if err != nil {
		return PlanCreateResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return PlanCreateResult{}, err
	}
	e.logger().Info("plan created", "plan", plan.ID, "run", run.ID, "starts_at", run.StartsAt, "expected_accepted", expected)
	return PlanCreateResult{
		PlanID:               plan.ID,
		RunID:                run.ID,
		StartsAt:             run.StartsAt,
		EndsAt:               run.EndsAt,
		ExpectedParticipants: len(participants),
	}, nil
}

// responseDeadline clamps now+window into [now+10min, slotStart-30min].
func responseDeadline(now time.Time, windowHours int, slotStart time.Time) time.Time {
	d := now.Add(time.Duration(windowHours) * time.Hour)
	if floor := now.Add(10 * time.Minute); d.Before(floor) {
		d = floor
	}
	if ceil := slotStart.Add(-30 * time.Minute); d.After(ceil) {
		d = ceil
	}
	return d
}

// scheduleAttempt picks the best remaining slot, mirrors it internally,
// books it externally and persists the pending run. Runs inside the
// caller's transaction; on booking failure the mirrored event is removed
// and a validation error returned so the caller decides between rollback
// and exhaustion.
func (e Engine) scheduleAttempt(ctx context.Context, tx *sql.Tx, plan domain.Plan, attempt int, exclude map[int64]struct{}, participants []domain.Participant, now time.Time) (domain.Run, float64, error) {
	duration := time.Duration(plan.DurationMinutes) * time.Minute
	interval := time.Duration(plan.SlotIntervalMinutes) * time.Minute
	candidates := GenerateCandidates(now, plan.WindowStart, plan.WindowEnd, duration, interval, exclude)
	if len(candidates) == 0 {
		return domain.Run{}, 0, ValidationError{Reason: "no viable slot in search window"}
	}
	signals, err := e.gatherSignals(ctx, plan, participants, plan.WindowStart, plan.WindowEnd)
	if err != nil {
		return domain.Run{}, 0, err
	}
	best, expected, ok := pickSlot(candidates, signals, plan.Tags, plan.OwnerID)
	if !ok {
		return domain.Run{}, 0, ValidationError{Reason: "no viable slot in search window"}
	}

	meetingEventID := uuid.NewString()
	err = e.Repo.InsertMeetingEvent(ctx, tx, domain.MeetingEvent{
		ID:        meetingEventID,
		OwnerID:   plan.OwnerID,
		PlanID:    plan.ID,
		Title:     plan.Title,
		StartsAt:  best.Start,
		EndsAt:    best.End,
		Location:  plan.Location,
		CreatedAt: now,
	})
	if err != nil {
		return domain.Run{}, 0, err
	}

	emails := make([]string, len(participants))
	for i, p := range participants {
		emails[i] = p.Email
	}
	ref, err := e.Calendar.InsertMeeting(ctx, plan.OwnerID, calendar.Booking{
		CalendarID:  plan.CalendarID,
		Title:       plan.Title,
		Description: plan.Description,
		Location:    plan.Location,
		StartsAt:    best.Start,
		EndsAt:      best.End,
		Attendees:   emails,
	})
	if err != nil {
		_ = e.Repo.DeleteMeetingEvent(ctx, tx, meetingEventID)
		return domain.Run{}, 0, ValidationError{Reason: fmt.Sprintf("calendar booking failed: %v", err)}
	}

	run := domain.Run{
		ID:               uuid.NewString(),
		PlanID:           plan.ID,
		Attempt:          attempt,
		StartsAt:         best.Start,
		EndsAt:           best.End,
		RespondBy:        responseDeadline(now, plan.ResponseWindowHours, best.Start),
		CalendarEventRef: &ref,
		MeetingEventID:   &meetingEventID,
		Invited:          emails,
		ParticipantCount: len(emails),
		PendingCount:     len(emails),
		Status:           domain.RunPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.Repo.InsertRun(ctx, tx, run); err != nil {
		return domain.Run{}, 0, err
	}
	if err := e.Repo.SetLatestRun(ctx, tx, plan.ID, run.ID, now); err != nil {
		return domain.Run{}, 0, err
	}
	err = e.Events.Append(ctx, tx, "run.created", plan.OwnerID, "run", run.ID, events.EventPayload{
		"plan_id":           plan.ID,
		"attempt":           attempt,
		"starts_at":         run.StartsAt.Format(time.RFC3339),
		"expected_accepted": expected,
	})
	if err != nil {
		return domain.Run{}, 0, err
	}
	return run, expected, nil
}

// SyncResult aggregates what one sync pass did.
type SyncResult struct {
	Checked     int `json:"checked"`
	Secured     int `json:"secured"`
	Expired     int `json:"expired"`
	Rescheduled int `json:"rescheduled"`
	Exhausted   int `json:"exhausted"`
}

// SyncForUser evaluates every pending run under the user's active plans,
// nearest deadline first. One plan's failure never blocks the rest.
// Callers must not run two syncs for the same user concurrently.
func (e Engine) SyncForUser(ctx context.Context, userID string) (SyncResult, error) {
	var res SyncResult
	pending, err := e.Repo.ListPendingRunsForOwner(ctx, userID)
	if err != nil {
		return res, err
	}
	res.Checked = len(pending)
	for _, pr := range pending {
		if err := e.syncRun(ctx, &res, pr); err != nil {
			e.logger().Error("plan sync failed", "plan", pr.Plan.ID, "run", pr.Run.ID, "err", err)
		}
	}
	return res, nil
}

func (e Engine) syncRun(ctx context.Context, res *SyncResult, pr repo.PendingRun) error {
	now := e.now()
	plan, run := pr.Plan, pr.Run

	participants, err := e.ResolveParticipants(ctx, plan.OwnerID, plan.GroupID)
	if err != nil {
		return err
	}

	// A failed or empty poll reads as all-unknown, never as declines.
	statuses := map[string]string{}
	if run.CalendarEventRef != nil {
		responses, err := e.Calendar.AttendeeResponses(ctx, plan.OwnerID, plan.CalendarID, *run.CalendarEventRef, run.Invited)
		if err != nil {
			e.logger().Warn("response poll failed", "run", run.ID, "err", err)
		}
		for _, r := range responses {
			statuses[normalizeEmail(r.Email)] = r.Status
		}
	}

	var accepted, declined, waiting int
	for _, email := range run.Invited {
		switch statuses[email] {
		case calendar.ResponseAccepted:
			accepted++
		case calendar.ResponseDeclined:
			declined++
		default:
			waiting++
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	switch {
	case accepted >= plan.MinAccepted:
		if err := e.secureRun(ctx, tx, plan, run, accepted, declined, waiting, participants, statuses, now); err != nil {
			return err
		}
		res.Secured++

	case now.Before(run.RespondBy) && !(declined > 0 && declined == len(run.Invited)):
		if err := e.Repo.UpdateRunCounts(ctx, tx, run.ID, accepted, declined, waiting, now); err != nil {
			return err
		}

	default:
		if err := e.expireAndReschedule(ctx, tx, res, plan, run, accepted, declined, waiting, participants, statuses, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (e Engine) secureRun(ctx context.Context, tx *sql.Tx, plan domain.Plan, run domain.Run, accepted, declined, waiting int, participants []domain.Participant, statuses map[string]string, now time.Time) error {
	if err := ensureRunTransition(run.Status, domain.RunSecured); err != nil {
		return err
	}
	if err := e.Repo.FinalizeRun(ctx, tx, run.ID, domain.RunSecured, "quorum reached", accepted, declined, waiting, now); err != nil {
		return err
	}
	if err := ensurePlanTransition(plan.Status, domain.PlanSecured); err != nil {
		return err
	}
	if err := e.Repo.UpdatePlanStatus(ctx, tx, plan.ID, domain.PlanSecured, now); err != nil {
		return err
	}
	if err := e.recordLearning(ctx, tx, plan, run.Invited, statuses, participants, now); err != nil {
		return err
	}
	err := e.Events.Append(ctx, tx, "run.secured", plan.OwnerID, "run", run.ID, events.EventPayload{
		"plan_id":  plan.ID,
		"accepted": accepted,
	})
	if err != nil {
		return err
	}
	return e.Events.Append(ctx, tx, "plan.secured", plan.OwnerID, "plan", plan.ID, events.EventPayload{
		"run_id":    run.ID,
		"starts_at": run.StartsAt.Format(time.RFC3339),
	})
}

func (e Engine) expireAndReschedule(ctx context.Context, tx *sql.Tx, res *SyncResult, plan domain.Plan, run domain.Run, accepted, declined, waiting int, participants []domain.Participant, statuses map[string]string, now time.Time) error {
	reason := "deadline missed"
	if declined > 0 && declined == len(run.Invited) {
		reason = "everyone declined"
	}
	if err := ensureRunTransition(run.Status, domain.RunExpired); err != nil {
		return err
	}
	if err := e.Repo.FinalizeRun(ctx, tx, run.ID, domain.RunExpired, reason, accepted, declined, waiting, now); err != nil {
		return err
	}
	e.cleanupBooking(ctx, tx, plan, run)
	if err := e.recordLearning(ctx, tx, plan, run.Invited, statuses, participants, now); err != nil {
		return err
	}
	err := e.Events.Append(ctx, tx, "run.expired", plan.OwnerID, "run", run.ID, events.EventPayload{
		"plan_id": plan.ID,
		"reason":  reason,
	})
	if err != nil {
		return err
	}
	res.Expired++

	attempt := run.Attempt + 1
	if attempt > plan.MaxAttempts {
		if err := e.exhaustPlan(ctx, tx, plan, "attempts exhausted", now); err != nil {
			return err
		}
		res.Exhausted++
		return nil
	}
	starts, err := e.Repo.ListRunStarts(ctx, plan.ID)
	if err != nil {
		return err
	}
	exclude := make(map[int64]struct{}, len(starts))
	for _, s := range starts {
		exclude[s.Unix()] = struct{}{}
	}
	newRun, _, err := e.scheduleAttempt(ctx, tx, plan, attempt, exclude, participants, now)
	if err != nil {
		if IsValidation(err) {
			if err := e.exhaustPlan(ctx, tx, plan, "no viable slot remaining", now); err != nil {
				return err
			}
			res.Exhausted++
			return nil
		}
		return err
	}
	err = e.Events.Append(ctx, tx, "run.rescheduled", plan.OwnerID, "run", newRun.ID, events.EventPayload{
		"plan_id":     plan.ID,
		"expired_run": run.ID,
		"attempt":     attempt,
		"starts_at":   newRun.StartsAt.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	res.Rescheduled++
	return nil
}

// cleanupBooking removes the external event and the mirrored row.
// Best-effort: failures are logged and never block the state machine.
func (e Engine) cleanupBooking(ctx context.Context, tx *sql.Tx, plan domain.Plan, run domain.Run) {
	if run.CalendarEventRef != nil {
		if err := e.Calendar.RemoveEvent(ctx, plan.OwnerID, plan.CalendarID, *run.CalendarEventRef); err != nil {
			e.logger().Warn("calendar cleanup failed", "run", run.ID, "err", err)
		}
	}
	if run.MeetingEventID != nil {
		if err := e.Repo.DeleteMeetingEvent(ctx, tx, *run.MeetingEventID); err != nil {
			e.logger().Warn("mirrored event cleanup failed", "run", run.ID, "err", err)
		}
	}
}

func (e Engine) exhaustPlan(ctx context.Context, tx *sql.Tx, plan domain.Plan, reason string, now time.Time) error {
	if err := ensurePlanTransition(plan.Status, domain.PlanExhausted); err != nil {
		return err
	}
	if err := e.Repo.UpdatePlanStatus(ctx, tx, plan.ID, domain.PlanExhausted, now); err != nil {
		return err
	}
	return e.Events.Append(ctx, tx, "plan.exhausted", plan.OwnerID, "plan", plan.ID, events.EventPayload{
		"reason": reason,
	})
}

// PausePlan suspends an active plan. A pending run is cancelled and its
// booking cleaned up; sync skips paused plans entirely.
func (e Engine) PausePlan(ctx context.Context, ownerID, planID string) error {
	now := e.now()
	plan, err := e.ownedPlan(ctx, ownerID, planID)
	if err != nil {
		return err
	}
	if err := ensurePlanTransition(plan.Status, domain.PlanPaused); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	run, err := e.Repo.GetPendingRunForPlan(ctx, plan.ID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	if err == nil {
		if err := ensureRunTransition(run.Status, domain.RunCancelled); err != nil {
			return err
		}
		if err := e.Repo.FinalizeRun(ctx, tx, run.ID, domain.RunCancelled, "plan paused", run.AcceptedCount, run.DeclinedCount, run.PendingCount, now); err != nil {
			return err
		}
		e.cleanupBooking(ctx, tx, plan, run)
		err = e.Events.Append(ctx, tx, "run.cancelled", plan.OwnerID, "run", run.ID, events.EventPayload{
			"plan_id": plan.ID,
			"reason":  "plan paused",
		})
		if err != nil {
			return err
		}
	}
	if err := e.Repo.UpdatePlanStatus(ctx, tx, plan.ID, domain.PlanPaused, now); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "plan.paused", plan.OwnerID, "plan", plan.ID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

type ResumeResult struct {
	PlanStatus domain.PlanStatus
	RunID      string
	StartsAt   time.Time
	EndsAt     time.Time
}

// ResumePlan reactivates a paused plan and immediately books the next
// attempt. When no attempts or slots remain the plan moves straight
// to exhausted.
func (e Engine) ResumePlan(ctx context.Context, ownerID, planID string) (ResumeResult, error) {
	now := e.now()
	plan, err := e.ownedPlan(ctx, ownerID, planID)
	if err != nil {
		return ResumeResult{}, err
	}
	if err := ensurePlanTransition(plan.Status, domain.PlanActive); err != nil {
		return ResumeResult{}, err
	}
	participants, err := e.ResolveParticipants(ctx, plan.OwnerID, plan.GroupID)
	if err != nil {
		return ResumeResult{}, err
	}
	if len(participants) == 0 {
		return ResumeResult{}, ValidationError{Reason: "group has no participants to invite"}
	}
	lastAttempt, err := e.Repo.MaxAttemptForPlan(ctx, plan.ID)
	if err != nil {
		return ResumeResult{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ResumeResult{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdatePlanStatus(ctx, tx, plan.ID, domain.PlanActive, now); err != nil {
		return ResumeResult{}, err
	}
	if err := e.Events.Append(ctx, tx, "plan.resumed", plan.OwnerID, "plan", plan.ID, nil); err != nil {
		return ResumeResult{}, err
	}
	plan.Status = domain.PlanActive

	attempt := lastAttempt + 1
	if attempt > plan.MaxAttempts {
		if err := e.exhaustPlan(ctx, tx, plan, "attempts exhausted", now); err != nil {
			return ResumeResult{}, err
		}
		if err := tx.Commit(); err != nil {
			return ResumeResult{}, err
		}
		return ResumeResult{PlanStatus: domain.PlanExhausted}, nil
	}
	starts, err := e.Repo.ListRunStarts(ctx, plan.ID)
	if err != nil {
		return ResumeResult{}, err
	}
	exclude := make(map[int64]struct{}, len(starts))
	for _, s := range starts {
		exclude[s.Unix()] = struct{}{}
	}
	run, _, err := e.scheduleAttempt(ctx, tx, plan, attempt, exclude, participants, now)
	if err != nil {
		if !IsValidation(err) {
			return ResumeResult{}, err
		}
		if err := e.exhaustPlan(ctx, tx, plan, "no viable slot remaining", now); err != nil {
			return ResumeResult{}, err
		}
		if err := tx.Commit(); err != nil {
			return ResumeResult{}, err
		}
		return ResumeResult{PlanStatus: domain.PlanExhausted}, nil
	}
	if err := tx.Commit(); err != nil {
		return ResumeResult{}, err
	}
	return ResumeResult{PlanStatus: domain.PlanActive, RunID: run.ID, StartsAt: run.StartsAt, EndsAt: run.EndsAt}, nil
}

// ListPlans is the read projection for display: each plan with its latest run.
func (e Engine) ListPlans(ctx context.Context, ownerID string) ([]domain.PlanSummary, error) {
	return e.Repo.ListPlanSummaries(ctx, ownerID)
}

func (e Engine) ownedPlan(ctx context.Context, ownerID, planID string) (domain.Plan, error) {
	plan, err := e.Repo.GetPlan(ctx, planID)
	if err != nil {
		return domain.Plan{}, err
	}
	if plan.OwnerID != ownerID {
		return domain.Plan{}, ValidationError{Reason: "caller does not own this plan"}
	}
	return plan, nil
}
