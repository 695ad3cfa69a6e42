package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ignite/insight-digest/internal/domain"
	"github.com/ignite/insight-digest/internal/google"
	"github.com/ignite/insight-digest/internal/pkg/httputil"
	"github.com/ignite/insight-digest/internal/pkg/logger"
	"github.com/ignite/insight-digest/internal/service/subscriber"
	"github.com/ignite/insight-digest/internal/worker"
)

const (
	defaultJobRunLimit = 20
	maxJobRunLimit     = 200
)

// TickRunner runs and reports scheduler ticks.
type TickRunner interface {
	RunTick(ctx context.Context) worker.TickSummary
	LatestJobRuns(ctx context.Context, limit int) ([]domain.JobRun, error)
}

// OAuthFlow is the Google authorization-code flow.
type OAuthFlow interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (domain.Token, error)
	StashHandoff(tok domain.Token) (string, error)
	ClaimHandoff(key string) (domain.Token, error)
}

// ConnectionLinker stores a subscriber's new analytics connection.
type ConnectionLinker interface {
	Link(ctx context.Context, userID, propertyID string, tok domain.Token) (*domain.Connection, error)
}

// Handlers holds the HTTP handlers and their dependencies.
type Handlers struct {
	ticks  TickRunner
	runner worker.SubscriberRunner
	oauth  OAuthFlow
	linker ConnectionLinker
	appURL string
	log    *logger.Logger
}

// NewHandlers creates the handler set. oauth and linker may be nil when
// Google credentials are not configured.
func NewHandlers(ticks TickRunner, runner worker.SubscriberRunner, oauth OAuthFlow, linker ConnectionLinker, appURL string) *Handlers {
	return &Handlers{
		ticks:  ticks,
		runner: runner,
		oauth:  oauth,
		linker: linker,
		appURL: appURL,
		log:    logger.Default().With("component", "api"),
	}
}

// ListJobRuns returns recent ticks, newest first.
//
//	GET /job-runs?limit=20
func (h *Handlers) ListJobRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultJobRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httputil.BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxJobRunLimit)
	}

	runs, err := h.ticks.LatestJobRuns(r.Context(), limit)
	if err != nil {
		httputil.InternalError(w, r, err)
		return
	}
	if runs == nil {
		runs = []domain.JobRun{}
	}
	httputil.OK(w, map[string]any{"job_runs": runs})
}

// TriggerTick runs one tick synchronously and returns its summary.
//
//	POST /ticks
func (h *Handlers) TriggerTick(w http.ResponseWriter, r *http.Request) {
	h.log.Info("manual tick requested", "request_id", requestID(r))
	summary := h.ticks.RunTick(r.Context())
	status := http.StatusOK
	if summary.Status == domain.JobRunFailed {
		status = http.StatusInternalServerError
	}
	httputil.JSON(w, status, summary)
}

// RunSubscriber processes one subscriber immediately, bypassing the gate.
//
//	POST /subscribers/{userID}/run
func (h *Handlers) RunSubscriber(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	h.log.Info("manual subscriber run requested", "user_id", userID, "request_id", requestID(r))

	res := h.runner.Process(r.Context(), userID, worker.ProcessOptions{Force: true})
	switch {
	case res.Reason == worker.ReasonProfileNotFound:
		httputil.NotFound(w, "subscriber not found")
	case res.Reason == worker.ReasonInFlight:
		httputil.JSON(w, http.StatusConflict, res)
	default:
		httputil.OK(w, res)
	}
}

type linkRequest struct {
	Handoff    string `json:"handoff"`
	PropertyID string `json:"property_id"`
}

// LinkConnection claims an OAuth hand-off and stores it as the subscriber's
// active connection.
//
//	POST /subscribers/{userID}/connections
func (h *Handlers) LinkConnection(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req linkRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Handoff == "" || req.PropertyID == "" {
		httputil.BadRequest(w, "handoff and property_id are required")
		return
	}

	tok, err := h.oauth.ClaimHandoff(req.Handoff)
	if err != nil {
		if errors.Is(err, google.ErrHandoffUnknown) {
			httputil.Gone(w, "handoff expired, reconnect Google Analytics")
			return
		}
		httputil.InternalError(w, r, err)
		return
	}

	conn, err := h.linker.Link(r.Context(), userID, req.PropertyID, tok)
	switch {
	case errors.Is(err, subscriber.ErrNotFound):
		httputil.NotFound(w, "subscriber not found")
	case errors.Is(err, subscriber.ErrMissingField):
		httputil.BadRequest(w, err.Error())
	case err != nil:
		httputil.InternalError(w, r, err)
	default:
		h.log.Info("analytics connection linked", "user_id", userID, "property_id", conn.PropertyID)
		httputil.Created(w, conn)
	}
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}
