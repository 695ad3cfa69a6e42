package api

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/url"

	"github.com/ignite/insight-digest/internal/pkg/httputil"
)

const oauthStateCookie = "ga_oauth_state"

// generateState creates a random state string for OAuth
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// StartGoogleConnect redirects the browser to Google's consent screen.
//
//	GET /oauth/google/start
func (h *Handlers) StartGoogleConnect(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		httputil.InternalError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/oauth/google",
		MaxAge:   300,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.oauth.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// GoogleCallback exchanges the authorization code and parks the token under
// a short-lived hand-off key. The web app claims it once the subscriber has
// picked a property.
//
//	GET /oauth/google/callback
func (h *Handlers) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || r.URL.Query().Get("state") != stateCookie.Value {
		h.log.Warn("oauth state mismatch", "request_id", requestID(r))
		h.finishConnect(w, r, url.Values{"error": {"invalid_state"}})
		return
	}

	// Clear state cookie
	http.SetCookie(w, &http.Cookie{
		Name:   oauthStateCookie,
		Value:  "",
		Path:   "/oauth/google",
		MaxAge: -1,
	})

	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		h.log.Warn("google returned oauth error", "error", errMsg)
		h.finishConnect(w, r, url.Values{"error": {errMsg}})
		return
	}

	tok, err := h.oauth.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		h.log.Error("oauth code exchange failed", "error", err)
		h.finishConnect(w, r, url.Values{"error": {"exchange_failed"}})
		return
	}
	if tok.RefreshToken == "" {
		h.finishConnect(w, r, url.Values{"error": {"missing_refresh_token"}})
		return
	}

	key, err := h.oauth.StashHandoff(tok)
	if err != nil {
		httputil.InternalError(w, r, err)
		return
	}
	h.finishConnect(w, r, url.Values{"handoff": {key}})
}

// finishConnect hands the outcome back to the web app, or as JSON when no
// app URL is configured.
func (h *Handlers) finishConnect(w http.ResponseWriter, r *http.Request, q url.Values) {
	if h.appURL == "" {
		status := http.StatusOK
		if q.Has("error") {
			status = http.StatusBadRequest
		}
		body := map[string]string{}
		for k := range q {
			body[k] = q.Get(k)
		}
		httputil.JSON(w, status, body)
		return
	}
	http.Redirect(w, r, h.appURL+"/settings/analytics?"+q.Encode(), http.StatusTemporaryRedirect)
}
