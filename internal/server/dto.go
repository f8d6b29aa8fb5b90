package server

import (
	"time"

	"meetline/internal/domain"
)

type RegisterUserRequest struct {
	Email       string `json:"email" example:"alex@example.com"`
	DisplayName string `json:"display_name,omitempty"`
}

type UserResponse struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func userResponse(u domain.User) UserResponse {
	return UserResponse{ID: u.ID, Email: u.Email, DisplayName: u.DisplayName, CreatedAt: u.CreatedAt}
}

type CreateGroupRequest struct {
	Name string `json:"name" example:"weekly crew"`
}

type GroupResponse struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func groupResponse(g domain.Group) GroupResponse {
	return GroupResponse{ID: g.ID, OwnerID: g.OwnerID, Name: g.Name, CreatedAt: g.CreatedAt}
}

type AddMemberRequest struct {
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
}

type AddContactRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
}

type ContactResponse struct {
	ID          string  `json:"id"`
	Email       string  `json:"email"`
	DisplayName string  `json:"display_name,omitempty"`
	UserID      *string `json:"user_id,omitempty"`
}

func contactResponse(c domain.Contact) ContactResponse {
	return ContactResponse{ID: c.ID, Email: c.Email, DisplayName: c.DisplayName, UserID: c.UserID}
}

type SetPreferenceRequest struct {
	Tag    string  `json:"tag" example:"standup"`
	Weight float64 `json:"weight" example:"0.8"`
}

type CreatePlanRequest struct {
	GroupID             string    `json:"group_id"`
	Title               string    `json:"title"`
	Description         string    `json:"description,omitempty"`
	Location            string    `json:"location,omitempty"`
	Tags                []string  `json:"tags,omitempty"`
	DurationMinutes     int       `json:"duration_minutes,omitempty"`
	MinAccepted         int       `json:"min_accepted,omitempty"`
	ResponseWindowHours int       `json:"response_window_hours,omitempty"`
	SlotIntervalMinutes int       `json:"slot_interval_minutes,omitempty"`
	MaxAttempts         int       `json:"max_attempts,omitempty"`
	WindowStart         time.Time `json:"window_start" format:"date-time"`
	WindowEnd           time.Time `json:"window_end" format:"date-time"`
	CalendarID          string    `json:"calendar_id,omitempty"`
}

type PlanCreateResponse struct {
	PlanID               string    `json:"plan_id"`
	RunID                string    `json:"run_id"`
	StartsAt             time.Time `json:"starts_at"`
	EndsAt               time.Time `json:"ends_at"`
	ExpectedParticipants int       `json:"expected_participants"`
}

type RunResponse struct {
	ID            string    `json:"id"`
	Attempt       int       `json:"attempt"`
	StartsAt      time.Time `json:"starts_at"`
	EndsAt        time.Time `json:"ends_at"`
	RespondBy     time.Time `json:"respond_by"`
	Invited       []string  `json:"invited"`
	AcceptedCount int       `json:"accepted_count"`
	DeclinedCount int       `json:"declined_count"`
	PendingCount  int       `json:"pending_count"`
	Status        string    `json:"status"`
	StatusReason  string    `json:"status_reason,omitempty"`
}

func runResponse(r domain.Run) RunResponse {
	return RunResponse{
		ID:            r.ID,
		Attempt:       r.Attempt,
		StartsAt:      r.StartsAt,
		EndsAt:        r.EndsAt,
		RespondBy:     r.RespondBy,
		Invited:       r.Invited,
		AcceptedCount: r.AcceptedCount,
		DeclinedCount: r.DeclinedCount,
		PendingCount:  r.PendingCount,
		Status:        string(r.Status),
		StatusReason:  r.StatusReason,
	}
}

type PlanResponse struct {
	ID                  string    `json:"id"`
	GroupID             string    `json:"group_id"`
	Title               string    `json:"title"`
	Description         string    `json:"description,omitempty"`
	Location            string    `json:"location,omitempty"`
	Tags                []string  `json:"tags,omitempty"`
	DurationMinutes     int       `json:"duration_minutes"`
	MinAccepted         int       `json:"min_accepted"`
	ResponseWindowHours int       `json:"response_window_hours"`
	SlotIntervalMinutes int       `json:"slot_interval_minutes"`
	MaxAttempts         int       `json:"max_attempts"`
	WindowStart         time.Time `json:"window_start"`
	WindowEnd           time.Time `json:"window_end"`
	Status              string    `json:"status"`
	CreatedAt           time.Time `json:"created_at"`
}

func planResponse(p domain.Plan) PlanResponse {
	return PlanResponse{
		ID:                  p.ID,
		GroupID:             p.GroupID,
		Title:               p.Title,
		Description:         p.Description,
		Location:            p.Location,
		Tags:                p.Tags,
		DurationMinutes:     p.DurationMinutes,
		MinAccepted:         p.MinAccepted,
		ResponseWindowHours: p.ResponseWindowHours,
		SlotIntervalMinutes: p.SlotIntervalMinutes,
		MaxAttempts:         p.MaxAttempts,
		WindowStart:         p.WindowStart,
		WindowEnd:           p.WindowEnd,
		Status:              string(p.Status),
		CreatedAt:           p.CreatedAt,
	}
}

type PlanSummaryResponse struct {
	Plan      PlanResponse `json:"plan"`
	LatestRun *RunResponse `json:"latest_run,omitempty"`
}

func planSummaryResponse(s domain.PlanSummary) PlanSummaryResponse {
	out := PlanSummaryResponse{Plan: planResponse(s.Plan)}
	if s.LatestRun != nil {
		r := runResponse(*s.LatestRun)
		out.LatestRun = &r
	}
	return out
}

type MemberStatResponse struct {
	Email           string `json:"email"`
	AcceptCount     int    `json:"accept_count"`
	DeclineCount    int    `json:"decline_count"`
	NoResponseCount int    `json:"no_response_count"`
	LastResponse    string `json:"last_response,omitempty"`
}

func memberStatResponse(m domain.MemberStat) MemberStatResponse {
	return MemberStatResponse{
		Email:           m.Email,
		AcceptCount:     m.AcceptCount,
		DeclineCount:    m.DeclineCount,
		NoResponseCount: m.NoResponseCount,
		LastResponse:    m.LastResponse,
	}
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{ID: e.ID, TS: e.TS, Type: e.Type, EntityKind: e.EntityKind, EntityID: e.EntityID, Payload: e.Payload}
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type APIKeyResponse struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Key  string `json:"key"`
}

// APIKeySummaryResponse lists a key without its secret, which is only
// returned once at creation time.
type APIKeySummaryResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at"`
}

type DevLoginRequest struct {
	Email string `json:"email"`
}

type DevLoginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}
