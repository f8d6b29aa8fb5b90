package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"meetline/internal/domain"
	"meetline/internal/engine"
	"meetline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"validation_failed"`
	Message string         `json:"message" example:"no viable slot in search window"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Meetline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Meetline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	locks := &userLocks{}

	registerDocs(router, basePath)
	registerHealth(group)
	registerAuth(group, cfg.Engine, cfg.Auth)
	registerUsers(group, cfg.Engine)
	registerGroups(group, cfg.Engine)
	registerPreferences(group, cfg.Engine)
	registerPlans(group, cfg.Engine)
	registerSync(group, cfg.Engine, locks)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

// userLocks serializes sync per user so the same expired run can never be
// rescheduled twice by concurrent requests.
type userLocks struct {
	m sync.Map
}

func (l *userLocks) forUser(userID string) *sync.Mutex {
	mu, _ := l.m.LoadOrStore(userID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if engine.IsValidation(err) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerAuth(api huma.API, e engine.Engine, auth AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "Issue a development token for a registered user",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if !auth.EnableDevLogin {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "dev login disabled", nil)
		}
		if input.Body.Email == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "email is required", nil)
		}
		u, err := e.Repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(input.Body.Email)))
		if err != nil {
			return nil, handleError(err)
		}
		token, err := issueToken(auth.JWTSecret, u.ID, 24*time.Hour)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token, UserID: u.ID}}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Register user",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body RegisterUserRequest `json:"body"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		email := strings.ToLower(strings.TrimSpace(input.Body.Email))
		if email == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "email is required", nil)
		}
		u := domain.User{
			ID:          uuid.NewString(),
			Email:       email,
			DisplayName: input.Body.DisplayName,
			CreatedAt:   time.Now().UTC(),
		}
		if err := e.Repo.InsertUser(ctx, u); err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "unique") {
				return nil, newAPIError(http.StatusConflict, "conflict", "email already registered", nil)
			}
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.Repo.GetUser(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})
}

func registerGroups(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-group",
		Method:        http.MethodPost,
		Path:          "/groups",
		Summary:       "Create group",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateGroupRequest `json:"body"`
	}) (*struct {
		Body GroupResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if strings.TrimSpace(input.Body.Name) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		g := domain.Group{
			ID:        uuid.NewString(),
			OwnerID:   userID,
			Name:      strings.TrimSpace(input.Body.Name),
			CreatedAt: time.Now().UTC(),
		}
		if err := e.Repo.InsertGroup(ctx, g); err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.AddGroupMember(ctx, g.ID, userID, g.CreatedAt.Format(time.RFC3339)); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GroupResponse `json:"body"`
		}{Body: groupResponse(g)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-groups",
		Method:      http.MethodGet,
		Path:        "/groups",
		Summary:     "List groups",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []GroupResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		groups, err := e.Repo.ListGroupsForOwner(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]GroupResponse, 0, len(groups))
		for _, g := range groups {
			out = append(out, groupResponse(g))
		}
		return &struct {
			Body []GroupResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-group-member",
		Method:        http.MethodPost,
		Path:          "/groups/{group_id}/members",
		Summary:       "Add group member",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		GroupID string           `path:"group_id"`
		Body    AddMemberRequest `json:"body"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		group, err := e.Repo.GetGroup(ctx, input.GroupID)
		if err != nil {
			return nil, handleError(err)
		}
		if group.OwnerID != userID {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "only the group owner can add members", nil)
		}
		var member domain.User
		switch {
		case input.Body.UserID != "":
			member, err = e.Repo.GetUser(ctx, input.Body.UserID)
		case input.Body.Email != "":
			member, err = e.Repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(input.Body.Email)))
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id or email is required", nil)
		}
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.AddGroupMember(ctx, group.ID, member.ID, time.Now().UTC().Format(time.RFC3339)); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(member)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-group-members",
		Method:      http.MethodGet,
		Path:        "/groups/{group_id}/members",
		Summary:     "List group members",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GroupID string `path:"group_id"`
	}) (*struct {
		Body []UserResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetGroup(ctx, input.GroupID); err != nil {
			return nil, handleError(err)
		}
		members, err := e.Repo.ListGroupMemberUsers(ctx, input.GroupID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]UserResponse, 0, len(members))
		for _, m := range members {
			out = append(out, userResponse(m))
		}
		return &struct {
			Body []UserResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-group-contact",
		Method:        http.MethodPost,
		Path:          "/groups/{group_id}/contacts",
		Summary:       "Add outside contact to group",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		GroupID string            `path:"group_id"`
		Body    AddContactRequest `json:"body"`
	}) (*struct {
		Body ContactResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		group, err := e.Repo.GetGroup(ctx, input.GroupID)
		if err != nil {
			return nil, handleError(err)
		}
		if group.OwnerID != userID {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "only the group owner can add contacts", nil)
		}
		email := strings.ToLower(strings.TrimSpace(input.Body.Email))
		if email == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "email is required", nil)
		}
		c := domain.Contact{
			ID:          uuid.NewString(),
			OwnerID:     userID,
			GroupID:     group.ID,
			Email:       email,
			DisplayName: input.Body.DisplayName,
			CreatedAt:   time.Now().UTC(),
		}
		// Link to a registered account when the email matches one.
		if u, err := e.Repo.GetUserByEmail(ctx, email); err == nil {
			c.UserID = &u.ID
		} else if !errors.Is(err, repo.ErrNotFound) {
			return nil, handleError(err)
		}
		if err := e.Repo.InsertContact(ctx, c); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ContactResponse `json:"body"`
		}{Body: contactResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-group-contacts",
		Method:      http.MethodGet,
		Path:        "/groups/{group_id}/contacts",
		Summary:     "List outside contacts of a group",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GroupID string `path:"group_id"`
	}) (*struct {
		Body []ContactResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		group, err := e.Repo.GetGroup(ctx, input.GroupID)
		if err != nil {
			return nil, handleError(err)
		}
		contacts, err := e.Repo.ListContactsForGroup(ctx, group.OwnerID, group.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]ContactResponse, 0, len(contacts))
		for _, c := range contacts {
			out = append(out, contactResponse(c))
		}
		return &struct {
			Body []ContactResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-group-stats",
		Method:      http.MethodGet,
		Path:        "/groups/{group_id}/stats",
		Summary:     "Response history per group member",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GroupID string `path:"group_id"`
	}) (*struct {
		Body []MemberStatResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetGroup(ctx, input.GroupID); err != nil {
			return nil, handleError(err)
		}
		stats, err := e.Repo.ListMemberStats(ctx, userID, input.GroupID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]MemberStatResponse, 0, len(stats))
		for _, m := range stats {
			out = append(out, memberStatResponse(m))
		}
		return &struct {
			Body []MemberStatResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerPreferences(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "set-preference",
		Method:      http.MethodPut,
		Path:        "/preferences",
		Summary:     "Set a tag preference weight",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body SetPreferenceRequest `json:"body"`
	}) (*struct {
		Body SetPreferenceRequest `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tag := strings.TrimSpace(input.Body.Tag)
		if tag == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "tag is required", nil)
		}
		if err := e.Repo.UpsertTagPreference(ctx, userID, tag, input.Body.Weight); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SetPreferenceRequest `json:"body"`
		}{Body: SetPreferenceRequest{Tag: tag, Weight: input.Body.Weight}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-preferences",
		Method:      http.MethodGet,
		Path:        "/preferences",
		Summary:     "List tag preference weights",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]float64 `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		prefs, err := e.Repo.GetTagPreferences(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]float64 `json:"body"`
		}{Body: prefs}, nil
	})
}

func registerPlans(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-plan",
		Method:        http.MethodPost,
		Path:          "/plans",
		Summary:       "Create plan and book its first run",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreatePlanRequest `json:"body"`
	}) (*struct {
		Body PlanCreateResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.GroupID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "group_id is required", nil)
		}
		res, err := e.CreatePlanWithInitialRun(ctx, engine.PlanCreateOptions{
			OwnerID:             userID,
			GroupID:             input.Body.GroupID,
			Title:               input.Body.Title,
			Description:         input.Body.Description,
			Location:            input.Body.Location,
			Tags:                input.Body.Tags,
			DurationMinutes:     input.Body.DurationMinutes,
			MinAccepted:         input.Body.MinAccepted,
			ResponseWindowHours: input.Body.ResponseWindowHours,
			SlotIntervalMinutes: input.Body.SlotIntervalMinutes,
			MaxAttempts:         input.Body.MaxAttempts,
			WindowStart:         input.Body.WindowStart,
			WindowEnd:           input.Body.WindowEnd,
			CalendarID:          input.Body.CalendarID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlanCreateResponse `json:"body"`
		}{Body: PlanCreateResponse{
			PlanID:               res.PlanID,
			RunID:                res.RunID,
			StartsAt:             res.StartsAt,
			EndsAt:               res.EndsAt,
			ExpectedParticipants: res.ExpectedParticipants,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-plans",
		Method:      http.MethodGet,
		Path:        "/plans",
		Summary:     "List plans with their latest run",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []PlanSummaryResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		summaries, err := e.ListPlans(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]PlanSummaryResponse, 0, len(summaries))
		for _, s := range summaries {
			out = append(out, planSummaryResponse(s))
		}
		return &struct {
			Body []PlanSummaryResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-plan",
		Method:      http.MethodGet,
		Path:        "/plans/{id}",
		Summary:     "Get plan",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body PlanSummaryResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		plan, err := e.Repo.GetPlan(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if plan.OwnerID != userID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "plan not found", nil)
		}
		summary := domain.PlanSummary{Plan: plan}
		if plan.LatestRunID != nil {
			run, err := e.Repo.GetRun(ctx, *plan.LatestRunID)
			if err != nil && !errors.Is(err, repo.ErrNotFound) {
				return nil, handleError(err)
			}
			if err == nil {
				summary.LatestRun = &run
			}
		}
		return &struct {
			Body PlanSummaryResponse `json:"body"`
		}{Body: planSummaryResponse(summary)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pause-plan",
		Method:      http.MethodPost,
		Path:        "/plans/{id}/pause",
		Summary:     "Pause an active plan",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body PlanResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.PausePlan(ctx, userID, input.ID); err != nil {
			return nil, handleError(err)
		}
		plan, err := e.Repo.GetPlan(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlanResponse `json:"body"`
		}{Body: planResponse(plan)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resume-plan",
		Method:      http.MethodPost,
		Path:        "/plans/{id}/resume",
		Summary:     "Resume a paused plan and book the next attempt",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body PlanSummaryResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.ResumePlan(ctx, userID, input.ID); err != nil {
			return nil, handleError(err)
		}
		plan, err := e.Repo.GetPlan(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		summary := domain.PlanSummary{Plan: plan}
		if plan.LatestRunID != nil {
			if run, err := e.Repo.GetRun(ctx, *plan.LatestRunID); err == nil {
				summary.LatestRun = &run
			}
		}
		return &struct {
			Body PlanSummaryResponse `json:"body"`
		}{Body: planSummaryResponse(summary)}, nil
	})
}

func registerSync(api huma.API, e engine.Engine, locks *userLocks) {
	huma.Register(api, huma.Operation{
		OperationID: "sync",
		Method:      http.MethodPost,
		Path:        "/sync",
		Summary:     "Evaluate all pending runs for the current user",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.SyncResult `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		mu := locks.forUser(userID)
		mu.Lock()
		defer mu.Unlock()
		res, err := e.SyncForUser(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.SyncResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit log tail",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" default:"50"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := input.Limit
		if limit <= 0 || limit > 500 {
			limit = 50
		}
		items, err := e.Repo.LatestEvents(ctx, limit, userID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]EventResponse, 0, len(items))
		for _, ev := range items {
			out = append(out, eventResponse(ev))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		raw := uuid.NewString() + uuid.NewString()
		k := domain.APIKey{
			ID:        uuid.NewString(),
			UserID:    userID,
			Name:      input.Body.Name,
			KeyHash:   repo.HashAPIKey(raw),
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err := e.Repo.InsertAPIKey(ctx, k); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{ID: k.ID, Name: k.Name, Key: raw}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List API keys",
	}, func(ctx context.Context, input *struct{}) (*struct {
		Body []APIKeySummaryResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := e.Repo.ListAPIKeys(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]APIKeySummaryResponse, 0, len(keys))
		for _, k := range keys {
			out = append(out, APIKeySummaryResponse{ID: k.ID, Name: k.Name, CreatedAt: k.CreatedAt})
		}
		return &struct {
			Body []APIKeySummaryResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	open := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if open[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Meetline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}
