package meetlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Meetline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Plan represents the API plan model (partial).
type Plan struct {
	ID          string    `json:"id"`
	GroupID     string    `json:"group_id"`
	Title       string    `json:"title"`
	Status      string    `json:"status"`
	MinAccepted int       `json:"min_accepted"`
	MaxAttempts int       `json:"max_attempts"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
}

// Run represents one scheduling attempt.
type Run struct {
	ID            string    `json:"id"`
	Attempt       int       `json:"attempt"`
	StartsAt      time.Time `json:"starts_at"`
	EndsAt        time.Time `json:"ends_at"`
	RespondBy     time.Time `json:"respond_by"`
	AcceptedCount int       `json:"accepted_count"`
	DeclinedCount int       `json:"declined_count"`
	PendingCount  int       `json:"pending_count"`
	Status        string    `json:"status"`
	StatusReason  string    `json:"status_reason,omitempty"`
}

// PlanSummary pairs a plan with its latest run.
type PlanSummary struct {
	Plan      Plan `json:"plan"`
	LatestRun *Run `json:"latest_run,omitempty"`
}

// PlanCreated is the booking receipt for a new plan.
type PlanCreated struct {
	PlanID               string    `json:"plan_id"`
	RunID                string    `json:"run_id"`
	StartsAt             time.Time `json:"starts_at"`
	EndsAt               time.Time `json:"ends_at"`
	ExpectedParticipants int       `json:"expected_participants"`
}

// SyncResult summarizes one sync pass.
type SyncResult struct {
	Checked     int `json:"checked"`
	Secured     int `json:"secured"`
	Expired     int `json:"expired"`
	Rescheduled int `json:"rescheduled"`
	Exhausted   int `json:"exhausted"`
}

// MemberStat is the response history for one invitee.
type MemberStat struct {
	Email           string `json:"email"`
	AcceptCount     int    `json:"accept_count"`
	DeclineCount    int    `json:"decline_count"`
	NoResponseCount int    `json:"no_response_count"`
	LastResponse    string `json:"last_response,omitempty"`
}

// CreatePlanRequest is the payload for CreatePlan.
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
	WindowStart         time.Time `json:"window_start"`
	WindowEnd           time.Time `json:"window_end"`
	CalendarID          string    `json:"calendar_id,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreatePlan creates a plan and books its first run.
func (c *Client) CreatePlan(ctx context.Context, req CreatePlanRequest) (PlanCreated, error) {
	var resp PlanCreated
	err := c.do(ctx, http.MethodPost, "v0/plans", req, &resp)
	return resp, err
}

// Plans lists all plans for the authenticated user.
func (c *Client) Plans(ctx context.Context) ([]PlanSummary, error) {
	var resp []PlanSummary
	err := c.do(ctx, http.MethodGet, "v0/plans", nil, &resp)
	return resp, err
}

// Plan fetches one plan by id.
func (c *Client) Plan(ctx context.Context, id string) (PlanSummary, error) {
	var resp PlanSummary
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/plans/%s", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// PausePlan pauses an active plan.
func (c *Client) PausePlan(ctx context.Context, id string) (Plan, error) {
	var resp Plan
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/plans/%s/pause", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// ResumePlan resumes a paused plan.
func (c *Client) ResumePlan(ctx context.Context, id string) (PlanSummary, error) {
	var resp PlanSummary
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/plans/%s/resume", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// Sync polls responses and advances all pending runs.
func (c *Client) Sync(ctx context.Context) (SyncResult, error) {
	var resp SyncResult
	err := c.do(ctx, http.MethodPost, "v0/sync", nil, &resp)
	return resp, err
}

// GroupStats returns the response history for one group.
func (c *Client) GroupStats(ctx context.Context, groupID string) ([]MemberStat, error) {
	var resp []MemberStat
	endpoint := fmt.Sprintf("v0/groups/%s/stats", url.PathEscape(groupID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
