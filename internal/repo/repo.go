package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"meetline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func marshalStrings(in []string) (*string, error) {
	if len(in) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func unmarshalStrings(raw sql.NullString) []string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(raw.String), &out)
	return out
}

const planColumns = `id,owner_id,group_id,title,description,location,tags_json,duration_minutes,min_accepted,response_window_hours,slot_interval_minutes,max_attempts,window_start,window_end,calendar_id,status,latest_run_id,created_at,updated_at`

func (r Repo) InsertPlan(ctx context.Context, tx *sql.Tx, p domain.Plan) error {
	tags, err := marshalStrings(p.Tags)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO plans(`+planColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.OwnerID, p.GroupID, p.Title, nullable(p.Description), nullable(p.Location), nullableStringPtr(tags),
		p.DurationMinutes, p.MinAccepted, p.ResponseWindowHours, p.SlotIntervalMinutes, p.MaxAttempts,
		formatTime(p.WindowStart), formatTime(p.WindowEnd), p.CalendarID, string(p.Status), nullableStringPtr(p.LatestRunID),
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	return err
}

func scanPlan(scan func(dest ...any) error) (domain.Plan, error) {
	var p domain.Plan
	var desc, loc, tags, latestRun sql.NullString
	var windowStart, windowEnd, createdAt, updatedAt, status string
	err := scan(&p.ID, &p.OwnerID, &p.GroupID, &p.Title, &desc, &loc, &tags,
		&p.DurationMinutes, &p.MinAccepted, &p.ResponseWindowHours, &p.SlotIntervalMinutes, &p.MaxAttempts,
		&windowStart, &windowEnd, &p.CalendarID, &status, &latestRun, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if desc.Valid {
		p.Description = desc.String
	}
	if loc.Valid {
		p.Location = loc.String
	}
	p.Tags = unmarshalStrings(tags)
	if latestRun.Valid {
		p.LatestRunID = &latestRun.String
	}
	p.WindowStart = parseTime(windowStart)
	p.WindowEnd = parseTime(windowEnd)
	p.Status = domain.PlanStatus(status)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

func (r Repo) GetPlan(ctx context.Context, id string) (domain.Plan, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE id=?`, id)
	return scanPlan(row.Scan)
}

func (r Repo) ListPlansForOwner(ctx context.Context, ownerID string) ([]domain.Plan, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+planColumns+` FROM plans WHERE owner_id=? ORDER BY created_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Plan
	for rows.Next() {
		p, err := scanPlan(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpdatePlanStatus(ctx context.Context, tx *sql.Tx, id string, status domain.PlanStatus, updatedAt time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE plans SET status=?, updated_at=? WHERE id=?`, string(status), formatTime(updatedAt), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetLatestRun(ctx context.Context, tx *sql.Tx, planID, runID string, updatedAt time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE plans SET latest_run_id=?, updated_at=? WHERE id=?`, runID, formatTime(updatedAt), planID)
	return err
}

const runColumns = `id,plan_id,attempt,starts_at,ends_at,respond_by,calendar_event_ref,meeting_event_id,invited_json,participant_count,accepted_count,declined_count,pending_count,status,status_reason,created_at,updated_at`

func (r Repo) InsertRun(ctx context.Context, tx *sql.Tx, run domain.Run) error {
	invited, err := marshalStrings(run.Invited)
	if err != nil {
		return err
	}
	if invited == nil {
		empty := "[]"
		invited = &empty
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO runs(`+runColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		run.ID, run.PlanID, run.Attempt, formatTime(run.StartsAt), formatTime(run.EndsAt), formatTime(run.RespondBy),
		nullableStringPtr(run.CalendarEventRef), nullableStringPtr(run.MeetingEventID), *invited,
		run.ParticipantCount, run.AcceptedCount, run.DeclinedCount, run.PendingCount,
		string(run.Status), nullable(run.StatusReason), formatTime(run.CreatedAt), formatTime(run.UpdatedAt))
	return err
}

func scanRun(scan func(dest ...any) error) (domain.Run, error) {
	var run domain.Run
	var calRef, meetingEvent, reason sql.NullString
	var invited sql.NullString
	var startsAt, endsAt, respondBy, createdAt, updatedAt, status string
	err := scan(&run.ID, &run.PlanID, &run.Attempt, &startsAt, &endsAt, &respondBy,
		&calRef, &meetingEvent, &invited,
		&run.ParticipantCount, &run.AcceptedCount, &run.DeclinedCount, &run.PendingCount,
		&status, &reason, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	if err != nil {
		return run, err
	}
	if calRef.Valid {
		run.CalendarEventRef = &calRef.String
	}
	if meetingEvent.Valid {
		run.MeetingEventID = &meetingEvent.String
	}
	if reason.Valid {
		run.StatusReason = reason.String
	}
	run.Invited = unmarshalStrings(invited)
	run.StartsAt = parseTime(startsAt)
	run.EndsAt = parseTime(endsAt)
	run.RespondBy = parseTime(respondBy)
	run.Status = domain.RunStatus(status)
	run.CreatedAt = parseTime(createdAt)
	run.UpdatedAt = parseTime(updatedAt)
	return run, nil
}

func (r Repo) GetRun(ctx context.Context, id string) (domain.Run, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=?`, id)
	return scanRun(row.Scan)
}

// UpdateRunCounts refreshes observed response tallies on a still-pending run.
// Counts are always recomputed from the latest poll, never incremented, so
// repeated syncs with unchanged data are idempotent.
func (r Repo) UpdateRunCounts(ctx context.Context, tx *sql.Tx, id string, accepted, declined, pending int, updatedAt time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE runs SET accepted_count=?, declined_count=?, pending_count=?, updated_at=? WHERE id=?`,
		accepted, declined, pending, formatTime(updatedAt), id)
	return err
}

// FinalizeRun moves a run into a terminal state with its final counts.
func (r Repo) FinalizeRun(ctx context.Context, tx *sql.Tx, id string, status domain.RunStatus, reason string, accepted, declined, pending int, updatedAt time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE runs SET status=?, status_reason=?, accepted_count=?, declined_count=?, pending_count=?, updated_at=? WHERE id=?`,
		string(status), nullable(reason), accepted, declined, pending, formatTime(updatedAt), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PendingRun pairs a pending run with its owning plan for sync processing.
type PendingRun struct {
	Plan domain.Plan
	Run  domain.Run
}

// ListPendingRunsForOwner returns every pending run under the owner's active
// plans, nearest response deadline first.
func (r Repo) ListPendingRunsForOwner(ctx context.Context, ownerID string) ([]PendingRun, error) {
	planCols := "p." + strings.ReplaceAll(planColumns, ",", ",p.")
	runCols := "r." + strings.ReplaceAll(runColumns, ",", ",r.")
	query := `SELECT ` + planCols + `,` + runCols + ` FROM runs r
JOIN plans p ON p.id = r.plan_id
WHERE p.owner_id=? AND p.status=? AND r.status=?
ORDER BY r.respond_by ASC, r.id ASC`
	rows, err := r.DB.QueryContext(ctx, query, ownerID, string(domain.PlanActive), string(domain.RunPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []PendingRun
	for rows.Next() {
		var pr PendingRun
		var pDesc, pLoc, pTags, pLatest sql.NullString
		var pWindowStart, pWindowEnd, pCreated, pUpdated, pStatus string
		var calRef, meetingEvent, reason, invited sql.NullString
		var rStarts, rEnds, rRespond, rCreated, rUpdated, rStatus string
		err := rows.Scan(
			&pr.Plan.ID, &pr.Plan.OwnerID, &pr.Plan.GroupID, &pr.Plan.Title, &pDesc, &pLoc, &pTags,
			&pr.Plan.DurationMinutes, &pr.Plan.MinAccepted, &pr.Plan.ResponseWindowHours, &pr.Plan.SlotIntervalMinutes, &pr.Plan.MaxAttempts,
			&pWindowStart, &pWindowEnd, &pr.Plan.CalendarID, &pStatus, &pLatest, &pCreated, &pUpdated,
			&pr.Run.ID, &pr.Run.PlanID, &pr.Run.Attempt, &rStarts, &rEnds, &rRespond,
			&calRef, &meetingEvent, &invited,
			&pr.Run.ParticipantCount, &pr.Run.AcceptedCount, &pr.Run.DeclinedCount, &pr.Run.PendingCount,
			&rStatus, &reason, &rCreated, &rUpdated)
		if err != nil {
			return nil, err
		}
		if pDesc.Valid {
			pr.Plan.Description = pDesc.String
		}
		if pLoc.Valid {
			pr.Plan.Location = pLoc.String
		}
		pr.Plan.Tags = unmarshalStrings(pTags)
		if pLatest.Valid {
			pr.Plan.LatestRunID = &pLatest.String
		}
		pr.Plan.WindowStart = parseTime(pWindowStart)
		pr.Plan.WindowEnd = parseTime(pWindowEnd)
		pr.Plan.Status = domain.PlanStatus(pStatus)
		pr.Plan.CreatedAt = parseTime(pCreated)
		pr.Plan.UpdatedAt = parseTime(pUpdated)
		if calRef.Valid {
			pr.Run.CalendarEventRef = &calRef.String
		}
		if meetingEvent.Valid {
			pr.Run.MeetingEventID = &meetingEvent.String
		}
		if reason.Valid {
			pr.Run.StatusReason = reason.String
		}
		pr.Run.Invited = unmarshalStrings(invited)
		pr.Run.StartsAt = parseTime(rStarts)
		pr.Run.EndsAt = parseTime(rEnds)
		pr.Run.RespondBy = parseTime(rRespond)
		pr.Run.Status = domain.RunStatus(rStatus)
		pr.Run.CreatedAt = parseTime(rCreated)
		pr.Run.UpdatedAt = parseTime(rUpdated)
		res = append(res, pr)
	}
	return res, rows.Err()
}

// ListRunStarts returns every start instant ever proposed for a plan, across
// all of its runs, for candidate exclusion on reschedule.
func (r Repo) ListRunStarts(ctx context.Context, planID string) ([]time.Time, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT starts_at FROM runs WHERE plan_id=?`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []time.Time
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		res = append(res, parseTime(s))
	}
	return res, rows.Err()
}

func (r Repo) GetPendingRunForPlan(ctx context.Context, planID string) (domain.Run, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE plan_id=? AND status=? LIMIT 1`, planID, string(domain.RunPending))
	return scanRun(row.Scan)
}

// MaxAttemptForPlan returns the highest attempt number used so far (0 if none).
func (r Repo) MaxAttemptForPlan(ctx context.Context, planID string) (int, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(attempt),0) FROM runs WHERE plan_id=?`, planID)
	var n int
	err := row.Scan(&n)
	return n, err
}

// ListPlanSummaries returns each of the owner's plans joined with its latest run.
func (r Repo) ListPlanSummaries(ctx context.Context, ownerID string) ([]domain.PlanSummary, error) {
	plans, err := r.ListPlansForOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	res := make([]domain.PlanSummary, 0, len(plans))
	for _, p := range plans {
		s := domain.PlanSummary{Plan: p}
		if p.LatestRunID != nil {
			run, err := r.GetRun(ctx, *p.LatestRunID)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return nil, err
			}
			if err == nil {
				s.LatestRun = &run
			}
		}
		res = append(res, s)
	}
	return res, nil
}

func (r Repo) InsertMeetingEvent(ctx context.Context, tx *sql.Tx, ev domain.MeetingEvent) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO meeting_events(id,owner_id,plan_id,title,starts_at,ends_at,location,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		ev.ID, ev.OwnerID, ev.PlanID, ev.Title, formatTime(ev.StartsAt), formatTime(ev.EndsAt), nullable(ev.Location), formatTime(ev.CreatedAt))
	return err
}

// DeleteMeetingEvent removes a mirrored event row; used during expiry
// cleanup where failures are tolerated by the caller.
func (r Repo) DeleteMeetingEvent(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM meeting_events WHERE id=?`, id)
	return err
}

func (r Repo) ListMeetingEventsForOwner(ctx context.Context, ownerID string) ([]domain.MeetingEvent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,owner_id,plan_id,title,starts_at,ends_at,location,created_at FROM meeting_events WHERE owner_id=? ORDER BY starts_at ASC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.MeetingEvent
	for rows.Next() {
		var ev domain.MeetingEvent
		var loc sql.NullString
		var startsAt, endsAt, createdAt string
		if err := rows.Scan(&ev.ID, &ev.OwnerID, &ev.PlanID, &ev.Title, &startsAt, &endsAt, &loc, &createdAt); err != nil {
			return nil, err
		}
		if loc.Valid {
			ev.Location = loc.String
		}
		ev.StartsAt = parseTime(startsAt)
		ev.EndsAt = parseTime(endsAt)
		ev.CreatedAt = parseTime(createdAt)
		res = append(res, ev)
	}
	return res, rows.Err()
}

// GetTagPreferences returns the user's preference weights keyed by tag.
// The map is read-only input to scoring; a separate subsystem writes it.
func (r Repo) GetTagPreferences(ctx context.Context, userID string) (map[string]float64, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT tag, weight FROM tag_preferences WHERE user_id=?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]float64{}
	for rows.Next() {
		var tag string
		var weight float64
		if err := rows.Scan(&tag, &weight); err != nil {
			return nil, err
		}
		res[tag] = weight
	}
	return res, rows.Err()
}

func (r Repo) UpsertTagPreference(ctx context.Context, userID, tag string, weight float64) error {
	now := formatTime(time.Now())
	_, err := r.DB.ExecContext(ctx, `INSERT INTO tag_preferences(user_id,tag,weight,updated_at) VALUES (?,?,?,?)
ON CONFLICT(user_id,tag) DO UPDATE SET weight=excluded.weight, updated_at=excluded.updated_at`, userID, tag, weight, now)
	return err
}

func (r Repo) LatestEvents(ctx context.Context, limit int, ownerID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if ownerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, ownerID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,owner_id,entity_kind,entity_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var ownerCol, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &ownerCol, &e.EntityKind, &entityID, &payload); err != nil {
			return nil, err
		}
		if ownerCol.Valid {
			e.OwnerID = ownerCol.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
