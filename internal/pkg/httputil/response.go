package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/ignite/insight-digest/internal/pkg/logger"
)

// MaxBodyBytes caps request bodies accepted by Decode.
const MaxBodyBytes = 1 << 20

// ErrorResponse is the error envelope for every API error.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// JSON writes data with the given status code. Encoding failures are logged;
// the status line has already been sent by then.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("json encode failed", "error", err)
	}
}

// OK writes a 200 response.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Created writes a 201 response.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, data)
}

// Error writes a client error.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, message)
}

func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, message)
}

func Unauthorized(w http.ResponseWriter) {
	Error(w, http.StatusUnauthorized, "unauthorized")
}

func Gone(w http.ResponseWriter, message string) {
	Error(w, http.StatusGone, message)
}

// InternalError logs err with the route and request ID and writes a generic
// 500 carrying only the request ID, so operators can find the log line.
func InternalError(w http.ResponseWriter, r *http.Request, err error) {
	reqID := middleware.GetReqID(r.Context())
	logger.Error("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", reqID,
		"error", err,
	)
	JSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:     "internal server error",
		RequestID: reqID,
	})
}

// Decode reads a single JSON object from the body into dst. Unknown fields
// and bodies over MaxBodyBytes are rejected. On failure it writes a 400 or
// 413 and returns false.
func Decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		BadRequest(w, "invalid JSON: "+err.Error())
		return false
	}
	return true
}
