package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/insight-digest/internal/pkg/httputil"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// AllowedOrigins lists the web app origins allowed to call the API.
	AllowedOrigins []string
	// OpsToken guards the ops routes with a bearer token. Empty disables
	// the check (local development).
	OpsToken string
}

// NewRouter builds the ops and OAuth routes.
func NewRouter(h *Handlers, health *HealthChecker, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// Health checks (no auth required)
	if health != nil {
		r.Get("/healthz", health.HandleLiveness)
		r.Get("/readyz", health.HandleReadiness)
		r.Get("/health", health.HandleHealth)
	}

	// Google connect flow (browser-facing, no ops token)
	if h.oauth != nil {
		r.Get("/oauth/google/start", h.StartGoogleConnect)
		r.Get("/oauth/google/callback", h.GoogleCallback)
	}

	r.Group(func(r chi.Router) {
		r.Use(requireOpsToken(opts.OpsToken))

		r.Get("/job-runs", h.ListJobRuns)
		r.Post("/ticks", h.TriggerTick)
		r.Post("/subscribers/{userID}/run", h.RunSubscriber)
		if h.oauth != nil && h.linker != nil {
			r.Post("/subscribers/{userID}/connections", h.LinkConnection)
		}
	})

	return r
}

func requireOpsToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			got, ok := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				httputil.Unauthorized(w)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}
