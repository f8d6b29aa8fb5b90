package domain

import "time"

// PlanStatus is the closed set of plan lifecycle states.
type PlanStatus string

const (
	PlanActive    PlanStatus = "active"
	PlanSecured   PlanStatus = "secured"
	PlanExhausted PlanStatus = "exhausted"
	PlanPaused    PlanStatus = "paused"
)

// RunStatus is the closed set of run lifecycle states.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunSecured   RunStatus = "secured"
	RunExpired   RunStatus = "expired"
	RunCancelled RunStatus = "cancelled"
)

// Plan is a standing intent to schedule one group meeting, spanning
// possibly several run attempts.
type Plan struct {
	ID                  string     `json:"id"`
	OwnerID             string     `json:"owner_id"`
	GroupID             string     `json:"group_id"`
	Title               string     `json:"title"`
	Description         string     `json:"description,omitempty"`
	Location            string     `json:"location,omitempty"`
	Tags                []string   `json:"tags,omitempty"`
	DurationMinutes     int        `json:"duration_minutes"`
	MinAccepted         int        `json:"min_accepted"`
	ResponseWindowHours int        `json:"response_window_hours"`
	SlotIntervalMinutes int        `json:"slot_interval_minutes"`
	MaxAttempts         int        `json:"max_attempts"`
	WindowStart         time.Time  `json:"window_start" format:"date-time"`
	WindowEnd           time.Time  `json:"window_end" format:"date-time"`
	CalendarID          string     `json:"calendar_id"`
	Status              PlanStatus `json:"status" enum:"active,secured,exhausted,paused"`
	LatestRunID         *string    `json:"latest_run_id,omitempty"`
	CreatedAt           time.Time  `json:"created_at" format:"date-time"`
	UpdatedAt           time.Time  `json:"updated_at" format:"date-time"`
}

// Run is one concrete proposed time slot and its invite/response lifecycle.
// Invited is frozen at booking time; participant resolution on later syncs
// never changes it.
type Run struct {
	ID               string    `json:"id"`
	PlanID           string    `json:"plan_id"`
	Attempt          int       `json:"attempt"`
	StartsAt         time.Time `json:"starts_at" format:"date-time"`
	EndsAt           time.Time `json:"ends_at" format:"date-time"`
	RespondBy        time.Time `json:"respond_by" format:"date-time"`
	CalendarEventRef *string   `json:"calendar_event_ref,omitempty"`
	MeetingEventID   *string   `json:"meeting_event_id,omitempty"`
	Invited          []string  `json:"invited"`
	ParticipantCount int       `json:"participant_count"`
	AcceptedCount    int       `json:"accepted_count"`
	DeclinedCount    int       `json:"declined_count"`
	PendingCount     int       `json:"pending_count"`
	Status           RunStatus `json:"status" enum:"pending,secured,expired,cancelled"`
	StatusReason     string    `json:"status_reason,omitempty"`
	CreatedAt        time.Time `json:"created_at" format:"date-time"`
	UpdatedAt        time.Time `json:"updated_at" format:"date-time"`
}

// PlanSummary is the read projection of a plan plus its latest run.
type PlanSummary struct {
	Plan      Plan `json:"plan"`
	LatestRun *Run `json:"latest_run,omitempty"`
}

// Participant is a transient invitee identity, recomputed on every
// scheduling attempt from current group membership and contacts.
type Participant struct {
	Email  string `json:"email"`
	UserID string `json:"user_id,omitempty"`
	Label  string `json:"label,omitempty"`
}

// MemberStat is the durable response history for one participant under a
// given owner and group.
type MemberStat struct {
	OwnerID         string    `json:"owner_id"`
	GroupID         string    `json:"group_id"`
	Email           string    `json:"email"`
	AcceptCount     int       `json:"accept_count"`
	DeclineCount    int       `json:"decline_count"`
	NoResponseCount int       `json:"no_response_count"`
	LastResponse    string    `json:"last_response,omitempty"`
	UserID          string    `json:"user_id,omitempty"`
	UpdatedAt       time.Time `json:"updated_at" format:"date-time"`
}

type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at" format:"date-time"`
}

type Group struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}

type Contact struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	GroupID     string    `json:"group_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name,omitempty"`
	UserID      *string   `json:"user_id,omitempty"`
	CreatedAt   time.Time `json:"created_at" format:"date-time"`
}

// MeetingEvent mirrors a booked calendar slot inside our own store so the
// rest of the app can show it without talking to the provider.
type MeetingEvent struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	PlanID    string    `json:"plan_id"`
	Title     string    `json:"title"`
	StartsAt  time.Time `json:"starts_at" format:"date-time"`
	EndsAt    time.Time `json:"ends_at" format:"date-time"`
	Location  string    `json:"location,omitempty"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}

// Event is one append-only audit log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	OwnerID    string `json:"owner_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
