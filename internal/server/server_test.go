package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"meetline/internal/calendar"
	"meetline/internal/config"
	"meetline/internal/db"
	"meetline/internal/domain"
	"meetline/internal/engine"
	"meetline/internal/migrate"
	"meetline/internal/server"
)

type testAPI struct {
	Server *httptest.Server
	Engine engine.Engine
	Fake   *calendar.Fake
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	fake := calendar.NewFake()
	e := engine.New(conn, config.Default(), fake)
	handler, err := server.New(server.Config{
		Engine: e,
		Auth: server.AuthConfig{
			JWTSecret:      "test-secret",
			EnableDevLogin: true,
		},
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return &testAPI{Server: ts, Engine: e, Fake: fake}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, a.Server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	if _, err := out.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, out.Bytes()
}

func (a *testAPI) seedUser(t *testing.T, id, email string) {
	t.Helper()
	err := a.Engine.Repo.InsertUser(context.Background(), domain.User{
		ID:        id,
		Email:     email,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed user %s: %v", email, err)
	}
}

func (a *testAPI) login(t *testing.T, email string) string {
	t.Helper()
	resp, body := a.do(t, http.MethodPost, "/v0/auth/dev/login", "", map[string]string{"email": email})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dev login status = %d, body %s", resp.StatusCode, body)
	}
	var out server.DevLoginResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if out.Token == "" {
		t.Fatal("login returned empty token")
	}
	return out.Token
}

func TestHealthNeedsNoAuth(t *testing.T) {
	api := newTestAPI(t)
	resp, body := api.do(t, http.MethodGet, "/v0/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, body %s", resp.StatusCode, body)
	}
}

func TestMissingAuthRejected(t *testing.T) {
	api := newTestAPI(t)
	resp, body := api.do(t, http.MethodGet, "/v0/plans", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401, body %s", resp.StatusCode, body)
	}
	var envelope struct {
		Body struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if envelope.Body.Code != "unauthorized" {
		t.Fatalf("error code = %q, want unauthorized", envelope.Body.Code)
	}
}

func TestDevLoginAndMe(t *testing.T) {
	api := newTestAPI(t)
	api.seedUser(t, "u-1", "alex@example.com")
	token := api.login(t, "alex@example.com")

	resp, body := api.do(t, http.MethodGet, "/v0/me", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me status = %d, body %s", resp.StatusCode, body)
	}
	var me server.UserResponse
	if err := json.Unmarshal(body, &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.ID != "u-1" || me.Email != "alex@example.com" {
		t.Fatalf("me = %+v", me)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	api := newTestAPI(t)
	api.seedUser(t, "u-1", "alex@example.com")
	token := api.login(t, "alex@example.com")

	resp, body := api.do(t, http.MethodPost, "/v0/api-keys", token, map[string]string{"name": "ci"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create key status = %d, body %s", resp.StatusCode, body)
	}
	var key server.APIKeyResponse
	if err := json.Unmarshal(body, &key); err != nil {
		t.Fatalf("decode key: %v", err)
	}
	if key.Key == "" {
		t.Fatal("raw key not returned")
	}

	req, _ := http.NewRequest(http.MethodGet, api.Server.URL+"/v0/me", nil)
	req.Header.Set("X-Api-Key", key.Key)
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("me via api key: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("me via api key status = %d", resp2.StatusCode)
	}
}

func TestPlanLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	api.seedUser(t, "owner-1", "owner@example.com")
	token := api.login(t, "owner@example.com")

	resp, body := api.do(t, http.MethodPost, "/v0/groups", token, map[string]string{"name": "crew"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create group status = %d, body %s", resp.StatusCode, body)
	}
	var group server.GroupResponse
	if err := json.Unmarshal(body, &group); err != nil {
		t.Fatalf("decode group: %v", err)
	}

	for i := 1; i <= 2; i++ {
		id := fmt.Sprintf("member-%d", i)
		email := fmt.Sprintf("member%d@example.com", i)
		api.seedUser(t, id, email)
		resp, body := api.do(t, http.MethodPost, "/v0/groups/"+group.ID+"/members", token, map[string]string{"email": email})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("add member status = %d, body %s", resp.StatusCode, body)
		}
	}

	now := time.Now().UTC()
	resp, body = api.do(t, http.MethodPost, "/v0/plans", token, map[string]any{
		"group_id":     group.ID,
		"title":        "retro",
		"min_accepted": 2,
		"window_start": now.Add(24 * time.Hour).Format(time.RFC3339),
		"window_end":   now.Add(72 * time.Hour).Format(time.RFC3339),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create plan status = %d, body %s", resp.StatusCode, body)
	}
	var created server.PlanCreateResponse
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode plan: %v", err)
	}
	if created.PlanID == "" || created.RunID == "" {
		t.Fatalf("plan response = %+v", created)
	}
	if created.ExpectedParticipants != 2 {
		t.Fatalf("expected participants = %d, want 2", created.ExpectedParticipants)
	}

	resp, body = api.do(t, http.MethodGet, "/v0/plans", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list plans status = %d, body %s", resp.StatusCode, body)
	}
	var summaries []server.PlanSummaryResponse
	if err := json.Unmarshal(body, &summaries); err != nil {
		t.Fatalf("decode summaries: %v", err)
	}
	if len(summaries) != 1 || summaries[0].Plan.Status != "active" {
		t.Fatalf("summaries = %+v", summaries)
	}
	if summaries[0].LatestRun == nil || summaries[0].LatestRun.Status != "pending" {
		t.Fatalf("latest run = %+v", summaries[0].LatestRun)
	}

	resp, body = api.do(t, http.MethodPost, "/v0/sync", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sync status = %d, body %s", resp.StatusCode, body)
	}
	var sync engine.SyncResult
	if err := json.Unmarshal(body, &sync); err != nil {
		t.Fatalf("decode sync: %v", err)
	}
	if sync.Checked != 1 || sync.Secured != 0 || sync.Expired != 0 {
		t.Fatalf("sync = %+v, want one still-pending run checked", sync)
	}

	resp, body = api.do(t, http.MethodPost, "/v0/plans/"+created.PlanID+"/pause", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pause status = %d, body %s", resp.StatusCode, body)
	}
	var paused server.PlanResponse
	if err := json.Unmarshal(body, &paused); err != nil {
		t.Fatalf("decode paused plan: %v", err)
	}
	if paused.Status != "paused" {
		t.Fatalf("plan status = %s, want paused", paused.Status)
	}

	resp, body = api.do(t, http.MethodPost, "/v0/plans/"+created.PlanID+"/resume", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resume status = %d, body %s", resp.StatusCode, body)
	}
	var resumed server.PlanSummaryResponse
	if err := json.Unmarshal(body, &resumed); err != nil {
		t.Fatalf("decode resumed plan: %v", err)
	}
	if resumed.Plan.Status != "active" {
		t.Fatalf("plan status = %s, want active after resume", resumed.Plan.Status)
	}
	if resumed.LatestRun == nil || resumed.LatestRun.Attempt != 2 {
		t.Fatalf("latest run = %+v, want attempt 2", resumed.LatestRun)
	}
}

func TestCreatePlanValidationErrors(t *testing.T) {
	api := newTestAPI(t)
	api.seedUser(t, "owner-1", "owner@example.com")
	token := api.login(t, "owner@example.com")

	resp, body := api.do(t, http.MethodPost, "/v0/groups", token, map[string]string{"name": "solo"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create group status = %d, body %s", resp.StatusCode, body)
	}
	var group server.GroupResponse
	if err := json.Unmarshal(body, &group); err != nil {
		t.Fatalf("decode group: %v", err)
	}

	now := time.Now().UTC()
	resp, body = api.do(t, http.MethodPost, "/v0/plans", token, map[string]any{
		"group_id":     group.ID,
		"title":        "lonely",
		"window_start": now.Add(24 * time.Hour).Format(time.RFC3339),
		"window_end":   now.Add(48 * time.Hour).Format(time.RFC3339),
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422 for empty group, body %s", resp.StatusCode, body)
	}
	var envelope struct {
		Body struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Body.Code != "validation_failed" {
		t.Fatalf("error code = %q, want validation_failed", envelope.Body.Code)
	}
}
