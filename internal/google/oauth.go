// Package google owns the Google OAuth client used to link analytics
// properties and to refresh their access tokens.
package google

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/ignite/insight-digest/internal/domain"
)

// AnalyticsReadonlyScope is the only scope requested from subscribers.
const AnalyticsReadonlyScope = "https://www.googleapis.com/auth/analytics.readonly"

// Handoff defaults. A stashed token only has to survive the redirect back
// to the property picker.
const (
	DefaultHandoffTTL      = 10 * time.Minute
	DefaultHandoffCapacity = 1024
)

var (
	ErrMissingCode    = errors.New("google: missing authorization code")
	ErrHandoffUnknown = errors.New("google: handoff key unknown or expired")
)

// Config holds the OAuth client settings.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Endpoint overrides google.Endpoint (tests).
	Endpoint        *oauth2.Endpoint
	HandoffTTL      time.Duration
	HandoffCapacity int
}

// OAuth exchanges authorization codes, refreshes access tokens and keeps
// freshly exchanged tokens until the subscriber picks a property.
type OAuth struct {
	cfg        *oauth2.Config
	httpClient *http.Client
	handoffs   *ttlcache.Cache[string, domain.Token]
}

// NewOAuth creates the OAuth client.
func NewOAuth(cfg Config) *OAuth {
	endpoint := google.Endpoint
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}
	if cfg.HandoffTTL <= 0 {
		cfg.HandoffTTL = DefaultHandoffTTL
	}
	if cfg.HandoffCapacity <= 0 {
		cfg.HandoffCapacity = DefaultHandoffCapacity
	}
	return &OAuth{
		cfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{AnalyticsReadonlyScope},
			Endpoint:     endpoint,
		},
		handoffs: ttlcache.New[string, domain.Token](
			ttlcache.WithTTL[string, domain.Token](cfg.HandoffTTL),
			ttlcache.WithCapacity[string, domain.Token](uint64(cfg.HandoffCapacity)),
			ttlcache.WithDisableTouchOnHit[string, domain.Token](),
		),
	}
}

// SetHTTPClient sets the client used for token endpoint calls.
func (o *OAuth) SetHTTPClient(c *http.Client) { o.httpClient = c }

func (o *OAuth) context(ctx context.Context) context.Context {
	if o.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
}

// AuthCodeURL returns the consent URL. Offline access with a forced prompt
// makes Google issue a refresh token on every link.
func (o *OAuth) AuthCodeURL(state string) string {
	return o.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token.
func (o *OAuth) Exchange(ctx context.Context, code string) (domain.Token, error) {
	if code == "" {
		return domain.Token{}, ErrMissingCode
	}
	tok, err := o.cfg.Exchange(o.context(ctx), code)
	if err != nil {
		return domain.Token{}, fmt.Errorf("google: exchange code: %w", err)
	}
	return domain.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}, nil
}

// Refresh implements credential.Refresher. The returned RefreshToken is set
// only when Google rotated it.
func (o *OAuth) Refresh(ctx context.Context, refreshToken string) (domain.Token, error) {
	src := o.cfg.TokenSource(o.context(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return domain.Token{}, fmt.Errorf("google: refresh token: %w", err)
	}
	out := domain.Token{AccessToken: tok.AccessToken, ExpiresAt: tok.Expiry}
	if tok.RefreshToken != "" && tok.RefreshToken != refreshToken {
		out.RefreshToken = tok.RefreshToken
	}
	return out, nil
}

// StashHandoff parks tok under a new random key and returns the key.
func (o *OAuth) StashHandoff(tok domain.Token) (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("google: handoff key: %w", err)
	}
	key := base64.RawURLEncoding.EncodeToString(b)
	o.handoffs.Set(key, tok, ttlcache.DefaultTTL)
	return key, nil
}

// ClaimHandoff returns and forgets the token stashed under key.
func (o *OAuth) ClaimHandoff(key string) (domain.Token, error) {
	item, ok := o.handoffs.GetAndDelete(key)
	if !ok || item.IsExpired() {
		return domain.Token{}, ErrHandoffUnknown
	}
	return item.Value(), nil
}

// PendingHandoffs counts stashed tokens, including expired ones the
// sweeper has not dropped yet.
func (o *OAuth) PendingHandoffs() int { return o.handoffs.Len() }

// RunSweeper drops expired handoffs until ctx is done. It blocks.
func (o *OAuth) RunSweeper(ctx context.Context) {
	go func() {
		<-ctx.Done()
		o.handoffs.Stop()
	}()
	o.handoffs.Start()
}
