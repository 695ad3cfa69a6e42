package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/insight-digest/internal/domain"
	"github.com/ignite/insight-digest/internal/google"
	"github.com/ignite/insight-digest/internal/service/subscriber"
	"github.com/ignite/insight-digest/internal/worker"
)

const testOpsToken = "ops-secret"

type fakeTicks struct {
	summary   worker.TickSummary
	runs      []domain.JobRun
	lastLimit int
	ticks     int
}

func (f *fakeTicks) RunTick(_ context.Context) worker.TickSummary {
	f.ticks++
	return f.summary
}

func (f *fakeTicks) LatestJobRuns(_ context.Context, limit int) ([]domain.JobRun, error) {
	f.lastLimit = limit
	return f.runs, nil
}

type fakeRunner struct {
	result   worker.ProcessResult
	lastUser string
	lastOpts worker.ProcessOptions
}

func (f *fakeRunner) Process(_ context.Context, userID string, opts worker.ProcessOptions) worker.ProcessResult {
	f.lastUser = userID
	f.lastOpts = opts
	r := f.result
	r.UserID = userID
	return r
}

type fakeOAuth struct {
	handoffs    map[string]domain.Token
	exchangeErr error
	exchanged   domain.Token
}

func newFakeOAuth() *fakeOAuth {
	return &fakeOAuth{
		handoffs:  map[string]domain.Token{},
		exchanged: domain.Token{AccessToken: "ya29.new", RefreshToken: "1//new", ExpiresAt: time.Now().Add(time.Hour)},
	}
}

func (f *fakeOAuth) AuthCodeURL(state string) string {
	return "https://accounts.example.com/o/oauth2/auth?state=" + url.QueryEscape(state)
}

func (f *fakeOAuth) Exchange(_ context.Context, code string) (domain.Token, error) {
	if code == "" {
		return domain.Token{}, google.ErrMissingCode
	}
	return f.exchanged, f.exchangeErr
}

func (f *fakeOAuth) StashHandoff(tok domain.Token) (string, error) {
	key := fmt.Sprintf("h%d", len(f.handoffs)+1)
	f.handoffs[key] = tok
	return key, nil
}

func (f *fakeOAuth) ClaimHandoff(key string) (domain.Token, error) {
	tok, ok := f.handoffs[key]
	if !ok {
		return domain.Token{}, google.ErrHandoffUnknown
	}
	delete(f.handoffs, key)
	return tok, nil
}

type fakeLinker struct {
	err    error
	linked []string
}

func (f *fakeLinker) Link(_ context.Context, userID, propertyID string, tok domain.Token) (*domain.Connection, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.linked = append(f.linked, userID+"/"+propertyID)
	return &domain.Connection{ID: "c1", UserID: userID, PropertyID: propertyID, AccessToken: tok.AccessToken, IsActive: true}, nil
}

type testAPI struct {
	ticks  *fakeTicks
	runner *fakeRunner
	oauth  *fakeOAuth
	linker *fakeLinker
	router http.Handler
}

func setupTestAPI(t *testing.T, appURL string) *testAPI {
	t.Helper()
	a := &testAPI{
		ticks:  &fakeTicks{summary: worker.TickSummary{JobRunID: "run-1", Status: domain.JobRunSuccess, Total: 2, Successful: 2}},
		runner: &fakeRunner{result: worker.ProcessResult{Success: true, Reason: worker.ReasonSent, EmailsSent: 1}},
		oauth:  newFakeOAuth(),
		linker: &fakeLinker{},
	}
	h := NewHandlers(a.ticks, a.runner, a.oauth, a.linker, appURL)
	a.router = NewRouter(h, NewHealthChecker(nil, nil, nil), RouterOptions{
		AllowedOrigins: []string{"https://app.example.com"},
		OpsToken:       testOpsToken,
	})
	return a
}

func (a *testAPI) do(method, target, body string, authed bool) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+testOpsToken)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func TestOpsRoutesRequireToken(t *testing.T) {
	a := setupTestAPI(t, "")

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/job-runs"},
		{http.MethodPost, "/ticks"},
		{http.MethodPost, "/subscribers/u1/run"},
	} {
		rec := a.do(tc.method, tc.path, "", false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, tc.path)
	}

	req := httptest.NewRequest(http.MethodPost, "/ticks", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, a.ticks.ticks)
}

func TestHealthzIsOpen(t *testing.T) {
	a := setupTestAPI(t, "")

	rec := a.do(http.MethodGet, "/healthz", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"alive"`)
}

func TestTriggerTick(t *testing.T) {
	a := setupTestAPI(t, "")

	rec := a.do(http.MethodPost, "/ticks", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary worker.TickSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, "run-1", summary.JobRunID)
	assert.Equal(t, 2, summary.Successful)
	assert.Equal(t, 1, a.ticks.ticks)

	a.ticks.summary = worker.TickSummary{JobRunID: "run-2", Status: domain.JobRunFailed}
	rec = a.do(http.MethodPost, "/ticks", "", true)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListJobRuns(t *testing.T) {
	a := setupTestAPI(t, "")
	a.ticks.runs = []domain.JobRun{{ID: "run-1", Status: domain.JobRunSuccess}}

	rec := a.do(http.MethodGet, "/job-runs", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultJobRunLimit, a.ticks.lastLimit)
	assert.Contains(t, rec.Body.String(), `"run-1"`)

	rec = a.do(http.MethodGet, "/job-runs?limit=5000", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxJobRunLimit, a.ticks.lastLimit)

	rec = a.do(http.MethodGet, "/job-runs?limit=abc", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListJobRunsEmpty(t *testing.T) {
	a := setupTestAPI(t, "")

	rec := a.do(http.MethodGet, "/job-runs", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"job_runs":[]}`, rec.Body.String())
}

func TestRunSubscriber(t *testing.T) {
	a := setupTestAPI(t, "")

	rec := a.do(http.MethodPost, "/subscribers/u42/run", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u42", a.runner.lastUser)
	assert.True(t, a.runner.lastOpts.Force)

	var res worker.ProcessResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, worker.ReasonSent, res.Reason)

	a.runner.result = worker.ProcessResult{Skipped: true, Reason: worker.ReasonInFlight}
	rec = a.do(http.MethodPost, "/subscribers/u42/run", "", true)
	assert.Equal(t, http.StatusConflict, rec.Code)

	a.runner.result = worker.ProcessResult{Reason: worker.ReasonProfileNotFound}
	rec = a.do(http.MethodPost, "/subscribers/ghost/run", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGoogleConnectFlow(t *testing.T) {
	a := setupTestAPI(t, "")

	start := a.do(http.MethodGet, "/oauth/google/start", "", false)
	require.Equal(t, http.StatusTemporaryRedirect, start.Code)

	var state *http.Cookie
	for _, c := range start.Result().Cookies() {
		if c.Name == oauthStateCookie {
			state = c
		}
	}
	require.NotNil(t, state)
	loc, err := url.Parse(start.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, state.Value, loc.Query().Get("state"))

	req := httptest.NewRequest(http.MethodGet, "/oauth/google/callback?code=abc&state="+url.QueryEscape(state.Value), nil)
	req.AddCookie(state)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	key := body["handoff"]
	require.NotEmpty(t, key)

	link := a.do(http.MethodPost, "/subscribers/u1/connections", `{"handoff":"`+key+`","property_id":"properties/123"}`, true)
	require.Equal(t, http.StatusCreated, link.Code)
	assert.Equal(t, []string{"u1/properties/123"}, a.linker.linked)
	assert.NotContains(t, link.Body.String(), "ya29.new")

	// A hand-off is single use.
	again := a.do(http.MethodPost, "/subscribers/u1/connections", `{"handoff":"`+key+`","property_id":"properties/123"}`, true)
	assert.Equal(t, http.StatusGone, again.Code)
}

func TestGoogleCallbackRejectsBadState(t *testing.T) {
	a := setupTestAPI(t, "")

	req := httptest.NewRequest(http.MethodGet, "/oauth/google/callback?code=abc&state=forged", nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "expected"})
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_state")
	assert.Empty(t, a.oauth.handoffs)
}

func TestGoogleCallbackRedirectsToApp(t *testing.T) {
	a := setupTestAPI(t, "https://app.example.com")

	req := httptest.NewRequest(http.MethodGet, "/oauth/google/callback?code=abc&state=s1", nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "s1"})
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "app.example.com", loc.Host)
	assert.Equal(t, "/settings/analytics", loc.Path)
	assert.NotEmpty(t, loc.Query().Get("handoff"))
}

func TestGoogleCallbackWithoutRefreshToken(t *testing.T) {
	a := setupTestAPI(t, "")
	a.oauth.exchanged = domain.Token{AccessToken: "ya29.only"}

	req := httptest.NewRequest(http.MethodGet, "/oauth/google/callback?code=abc&state=s1", nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "s1"})
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing_refresh_token")
}

func TestLinkConnectionErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		linkErr    error
		wantCode   int
		stashFirst bool
	}{
		{name: "malformed body", body: `{`, wantCode: http.StatusBadRequest},
		{name: "missing property", body: `{"handoff":"h1"}`, wantCode: http.StatusBadRequest},
		{name: "unknown handoff", body: `{"handoff":"nope","property_id":"p"}`, wantCode: http.StatusGone},
		{name: "unknown subscriber", body: `{"handoff":"h1","property_id":"p"}`, linkErr: fmt.Errorf("get profile: %w", subscriber.ErrNotFound), wantCode: http.StatusNotFound, stashFirst: true},
		{name: "storage failure", body: `{"handoff":"h1","property_id":"p"}`, linkErr: errors.New("tx aborted"), wantCode: http.StatusInternalServerError, stashFirst: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := setupTestAPI(t, "")
			a.linker.err = tt.linkErr
			if tt.stashFirst {
				_, err := a.oauth.StashHandoff(domain.Token{RefreshToken: "1//x"})
				require.NoError(t, err)
			}

			rec := a.do(http.MethodPost, "/subscribers/u1/connections", tt.body, true)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	a := setupTestAPI(t, "")

	req := httptest.NewRequest(http.MethodOptions, "/job-runs", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
