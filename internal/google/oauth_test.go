package google

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/ignite/insight-digest/internal/domain"
)

func newTokenServer(t *testing.T, body string, status int, seen *url.Values) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if seen != nil {
			*seen = r.PostForm
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestOAuth(srv *httptest.Server) *OAuth {
	o := NewOAuth(Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "https://app.example.com/oauth/google/callback",
		Endpoint: &oauth2.Endpoint{
			AuthURL:   srv.URL + "/auth",
			TokenURL:  srv.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	})
	o.SetHTTPClient(srv.Client())
	return o
}

func TestRefresh_KeepsRefreshTokenWhenNotRotated(t *testing.T) {
	var form url.Values
	srv := newTokenServer(t, `{"access_token":"ya29.new","token_type":"Bearer","expires_in":3600}`, http.StatusOK, &form)
	o := newTestOAuth(srv)

	before := time.Now()
	tok, err := o.Refresh(context.Background(), "1//refresh")
	require.NoError(t, err)

	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "1//refresh", form.Get("refresh_token"))
	assert.Equal(t, "ya29.new", tok.AccessToken)
	assert.Empty(t, tok.RefreshToken)
	assert.True(t, tok.ExpiresAt.After(before.Add(50*time.Minute)))
}

func TestRefresh_ReportsRotatedRefreshToken(t *testing.T) {
	srv := newTokenServer(t, `{"access_token":"ya29.new","refresh_token":"1//rotated","token_type":"Bearer","expires_in":3600}`, http.StatusOK, nil)
	o := newTestOAuth(srv)

	tok, err := o.Refresh(context.Background(), "1//refresh")
	require.NoError(t, err)
	assert.Equal(t, "1//rotated", tok.RefreshToken)
}

func TestRefresh_Error(t *testing.T) {
	srv := newTokenServer(t, `{"error":"invalid_grant"}`, http.StatusBadRequest, nil)
	o := newTestOAuth(srv)

	_, err := o.Refresh(context.Background(), "1//revoked")
	assert.Error(t, err)
}

func TestExchange(t *testing.T) {
	var form url.Values
	srv := newTokenServer(t, `{"access_token":"ya29.a","refresh_token":"1//r","token_type":"Bearer","expires_in":3600}`, http.StatusOK, &form)
	o := newTestOAuth(srv)

	_, err := o.Exchange(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingCode)

	tok, err := o.Exchange(context.Background(), "4/code")
	require.NoError(t, err)
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "ya29.a", tok.AccessToken)
	assert.Equal(t, "1//r", tok.RefreshToken)
}

func TestAuthCodeURL(t *testing.T) {
	o := NewOAuth(Config{ClientID: "client-id", RedirectURL: "https://app.example.com/cb"})
	u, err := url.Parse(o.AuthCodeURL("state-123"))
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "state-123", q.Get("state"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, AnalyticsReadonlyScope, q.Get("scope"))
}

func TestHandoff_ClaimOnce(t *testing.T) {
	o := NewOAuth(Config{})
	key, err := o.StashHandoff(domain.Token{AccessToken: "ya29.a", RefreshToken: "1//r"})
	require.NoError(t, err)
	assert.NotEmpty(t, key)

	tok, err := o.ClaimHandoff(key)
	require.NoError(t, err)
	assert.Equal(t, "ya29.a", tok.AccessToken)

	_, err = o.ClaimHandoff(key)
	assert.ErrorIs(t, err, ErrHandoffUnknown)
}

func TestHandoff_Expires(t *testing.T) {
	o := NewOAuth(Config{HandoffTTL: 20 * time.Millisecond})
	key, err := o.StashHandoff(domain.Token{RefreshToken: "1//r"})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	_, err = o.ClaimHandoff(key)
	assert.ErrorIs(t, err, ErrHandoffUnknown)
}

func TestHandoff_CapacityEvictsOldest(t *testing.T) {
	o := NewOAuth(Config{HandoffCapacity: 2})
	first, err := o.StashHandoff(domain.Token{RefreshToken: "1//a"})
	require.NoError(t, err)
	_, err = o.StashHandoff(domain.Token{RefreshToken: "1//b"})
	require.NoError(t, err)
	third, err := o.StashHandoff(domain.Token{RefreshToken: "1//c"})
	require.NoError(t, err)

	assert.Equal(t, 2, o.PendingHandoffs())
	_, err = o.ClaimHandoff(first)
	assert.ErrorIs(t, err, ErrHandoffUnknown)
	tok, err := o.ClaimHandoff(third)
	require.NoError(t, err)
	assert.Equal(t, "1//c", tok.RefreshToken)
}

func TestHandoff_SweeperStopsWithContext(t *testing.T) {
	o := NewOAuth(Config{HandoffTTL: 10 * time.Millisecond})
	_, err := o.StashHandoff(domain.Token{RefreshToken: "1//r"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		o.RunSweeper(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return o.PendingHandoffs() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
