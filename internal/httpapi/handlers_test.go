package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"yescholars.org/internal/auth"
	"yescholars.org/internal/lifecycle"
	"yescholars.org/internal/notify"
)

type testServer struct {
	t      *testing.T
	srv    *httptest.Server
	client *http.Client
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	t.Setenv("YES_AUTH_SECRET", "test-secret-0123456789abcdef0123456789")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	store := lifecycle.NewMemory()
	svc := lifecycle.NewService(store, notify.Discard{})
	api := New(svc, ReadyProbe{}, "test", Options{})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &testServer{t: t, srv: srv, client: srv.Client()}
}

func (ts *testServer) token(user string, roles ...string) string {
	ts.t.Helper()
	tok, err := auth.GenerateToken(user, roles, time.Hour)
	require.NoError(ts.t, err)
	return tok
}

func (ts *testServer) do(method, path, token string, body any) (*http.Response, map[string]any) {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	require.NoError(ts.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.client.Do(req)
	require.NoError(ts.t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (ts *testServer) createPublished(staffToken string) string {
	ts.t.Helper()
	resp, body := ts.do(http.MethodPost, "/v1/opportunities/", staffToken, map[string]any{
		"kind":                 "mentorship",
		"title":                "Wetlands Mentorship",
		"positions_available":  5,
		"application_start":    time.Now().Add(-time.Hour).Format(time.RFC3339),
		"application_deadline": time.Now().Add(24 * time.Hour).Format(time.RFC3339),
	})
	require.Equal(ts.t, http.StatusCreated, resp.StatusCode)
	id := body["id"].(string)
	resp, _ = ts.do(http.MethodPost, "/v1/opportunities/"+id+"/publish", staffToken, nil)
	require.Equal(ts.t, http.StatusOK, resp.StatusCode)
	return id
}

func TestHealthAndInfoArePublic(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])

	resp, _ = ts.do(http.MethodGet, "/v1/info", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(http.MethodGet, "/v1/opportunities/some-id", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Contains(t, body["error"], "bearer token")

	resp, _ = ts.do(http.MethodGet, "/v1/opportunities/some-id", "garbage-token", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTokenEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(http.MethodPost, "/v1/auth/token", "", map[string]any{
		"user":  "u1",
		"roles": []string{"member"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, body["token"])

	resp, _ = ts.do(http.MethodPost, "/v1/auth/token", "", map[string]any{
		"user":  "u1",
		"roles": []string{"superuser"},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStaffTokenPassphraseGate(t *testing.T) {
	ts := newTestServer(t)

	hash, err := auth.HashPassphrase("green-thumb-2025")
	require.NoError(t, err)
	t.Setenv("YES_STAFF_PASSPHRASE_HASH", hash)

	resp, _ := ts.do(http.MethodPost, "/v1/auth/token", "", map[string]any{
		"user":  "coordinator",
		"roles": []string{"staff"},
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := ts.do(http.MethodPost, "/v1/auth/token", "", map[string]any{
		"user":       "coordinator",
		"roles":      []string{"staff"},
		"passphrase": "green-thumb-2025",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, body["token"])

	// Member tokens stay self-serve even with the gate configured.
	resp, _ = ts.do(http.MethodPost, "/v1/auth/token", "", map[string]any{
		"user":  "u2",
		"roles": []string{"member"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestApplicationFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	staffTok := ts.token("staff-1", "staff")
	memberTok := ts.token("u1", "member")

	oppID := ts.createPublished(staffTok)

	resp, app := ts.do(http.MethodPost, "/v1/opportunities/"+oppID+"/applications", memberTok, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "submitted", app["status"])
	appID := app["id"].(string)

	// Duplicate application conflicts.
	resp, _ = ts.do(http.MethodPost, "/v1/opportunities/"+oppID+"/applications", memberTok, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = ts.do(http.MethodPost, "/v1/applications/"+appID+"/review", staffTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = ts.do(http.MethodPost, "/v1/applications/"+appID+"/shortlist", staffTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Member cannot decide.
	resp, _ = ts.do(http.MethodPost, "/v1/applications/"+appID+"/decide", memberTok,
		map[string]any{"accept": true})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, decided := ts.do(http.MethodPost, "/v1/applications/"+appID+"/decide", staffTok,
		map[string]any{"accept": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "accepted", decided["status"])

	// Withdrawing an accepted application surfaces the guard message.
	resp, body := ts.do(http.MethodPost, "/v1/applications/"+appID+"/withdraw", memberTok, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "Cannot withdraw application in Accepted status", body["error"])
}

func TestMatchAndSessionFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	staffTok := ts.token("staff-1", "staff")
	menteeTok := ts.token("mentee", "member")
	mentorTok := ts.token("mentor", "member")

	oppID := ts.createPublished(staffTok)

	resp, app := ts.do(http.MethodPost, "/v1/opportunities/"+oppID+"/applications", menteeTok, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	appID := app["id"].(string)
	ts.do(http.MethodPost, "/v1/applications/"+appID+"/review", staffTok, nil)
	ts.do(http.MethodPost, "/v1/applications/"+appID+"/shortlist", staffTok, nil)
	ts.do(http.MethodPost, "/v1/applications/"+appID+"/decide", staffTok, map[string]any{"accept": true})

	resp, match := ts.do(http.MethodPost, "/v1/matches/", staffTok, map[string]any{
		"application_id": appID,
		"mentor_id":      "mentor",
		"match_score":    75,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	matchID := match["id"].(string)

	resp, _ = ts.do(http.MethodPost, "/v1/matches/"+matchID+"/propose", staffTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Mentor cannot accept on the mentee's behalf.
	resp, body := ts.do(http.MethodPost, "/v1/matches/"+matchID+"/accept", mentorTok, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "Only mentee can accept the match", body["error"])

	resp, _ = ts.do(http.MethodPost, "/v1/matches/"+matchID+"/accept", menteeTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = ts.do(http.MethodPost, "/v1/matches/"+matchID+"/start", mentorTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, sess := ts.do(http.MethodPost, "/v1/sessions/", mentorTok, map[string]any{
		"match_id":        matchID,
		"title":           "Kickoff",
		"scheduled_start": time.Now().Add(time.Hour).Format(time.RFC3339),
		"scheduled_end":   time.Now().Add(2 * time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sessID := sess["id"].(string)

	resp, done := ts.do(http.MethodPost, "/v1/sessions/"+sessID+"/complete", mentorTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "completed", done["status"])

	resp, got := ts.do(http.MethodGet, "/v1/matches/"+matchID, mentorTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(1), got["meetings_held"])
}

func TestValidationErrorsOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	staffTok := ts.token("staff-1", "staff")

	resp, _ := ts.do(http.MethodPost, "/v1/opportunities/", staffTok, map[string]any{
		"kind":  "mentorship",
		"title": "No positions",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(http.MethodPost, "/v1/opportunities/", staffTok, map[string]any{
		"kind":                 "starship",
		"title":                "Bad kind",
		"positions_available":  1,
		"application_start":    time.Now().Format(time.RFC3339),
		"application_deadline": time.Now().Add(time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNotFoundMapping(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token("u1", "member")

	resp, body := ts.do(http.MethodGet, "/v1/applications/does-not-exist", tok, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "resource not found", body["error"])
}

func TestCapacityConflictOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	staffTok := ts.token("staff-1", "staff")

	resp, body := ts.do(http.MethodPost, "/v1/opportunities/", staffTok, map[string]any{
		"kind":                 "volunteer",
		"title":                "Single Slot",
		"positions_available":  1,
		"application_start":    time.Now().Add(-time.Hour).Format(time.RFC3339),
		"application_deadline": time.Now().Add(24 * time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	oppID := body["id"].(string)
	resp, _ = ts.do(http.MethodPost, "/v1/opportunities/"+oppID+"/publish", staffTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	accept := func(user string) *http.Response {
		userTok := ts.token(user, "member")
		_, app := ts.do(http.MethodPost, "/v1/opportunities/"+oppID+"/applications", userTok, nil)
		appID := app["id"].(string)
		ts.do(http.MethodPost, "/v1/applications/"+appID+"/review", staffTok, nil)
		ts.do(http.MethodPost, "/v1/applications/"+appID+"/shortlist", staffTok, nil)
		resp, _ := ts.do(http.MethodPost, "/v1/applications/"+appID+"/decide", staffTok,
			map[string]any{"accept": true})
		return resp
	}

	require.Equal(t, http.StatusOK, accept("u1").StatusCode)
	full := accept("u2")
	require.Equal(t, http.StatusConflict, full.StatusCode)
}

func TestRequestIDEchoed(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-Id", "req-abc")
	resp, err := ts.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "req-abc", resp.Header.Get("X-Request-Id"))
}

func TestRateLimitKicksIn(t *testing.T) {
	t.Setenv("YES_AUTH_SECRET", "test-secret-0123456789abcdef0123456789")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	store := lifecycle.NewMemory()
	svc := lifecycle.NewService(store, notify.Discard{})
	api := New(svc, ReadyProbe{}, "test", Options{RateLimitRPS: 1, RateLimitBurst: 2})
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	var limited bool
	for i := 0; i < 5; i++ {
		resp, err := srv.Client().Get(fmt.Sprintf("%s/healthz", srv.URL))
		require.NoError(t, err)
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
		}
	}
	require.True(t, limited, "expected at least one 429")
}
