package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/fedcheck/internal/checker"
	"github.com/MrSnakeDoc/fedcheck/internal/coordinator"
	"github.com/MrSnakeDoc/fedcheck/internal/domain"
	"github.com/MrSnakeDoc/fedcheck/internal/httpserver/deps"
	"github.com/MrSnakeDoc/fedcheck/internal/logger"
	"github.com/MrSnakeDoc/fedcheck/internal/membership"
	"github.com/MrSnakeDoc/fedcheck/internal/predicate"
	"github.com/MrSnakeDoc/fedcheck/internal/software"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// outcomeView is an outcome as the API shows it.
type outcomeView struct {
	Server    string          `json:"server"`
	Status    domain.Status   `json:"status"`
	Family    software.Family `json:"family,omitempty"`
	Software  string          `json:"software,omitempty"`
	Version   string          `json:"version,omitempty"`
	Detail    string          `json:"detail,omitempty"`
	CheckedAt time.Time       `json:"checked_at"`
}

func viewOf(o domain.Outcome) outcomeView {
	rec := domain.ToRecord(o)
	return outcomeView{
		Server:    o.Server,
		Status:    rec.Status,
		Family:    rec.Family,
		Software:  rec.Software,
		Version:   rec.RawVersion,
		Detail:    rec.Detail,
		CheckedAt: rec.CheckedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps service errors onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, d deps.Deps, err error) {
	status, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		d.Logger.Warn("request failed",
			logger.String("path", r.URL.Path),
			logger.Int("status", status),
			logger.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

func classifyError(err error) (int, string) {
	var matrixErr *membership.MatrixError
	switch {
	case errors.Is(err, checker.ErrInvalidRoom),
		errors.Is(err, checker.ErrNoRoomVersion),
		errors.Is(err, coordinator.ErrNoServers),
		errors.Is(err, coordinator.ErrEmptyServer),
		errors.Is(err, predicate.ErrNoSoftware),
		errors.Is(err, predicate.ErrUnknownOperator),
		errors.Is(err, membership.ErrInvalidUserID):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, checker.ErrMembershipUnavailable):
		return http.StatusBadRequest, "servers_required"
	case errors.Is(err, checker.ErrNoCachedResults):
		return http.StatusNotFound, "not_tested"
	case errors.Is(err, checker.ErrServerNotInRoom):
		return http.StatusNotFound, "not_in_room"
	case errors.Is(err, checker.ErrRetestInProgress):
		return http.StatusConflict, "retest_in_progress"
	case errors.As(err, &matrixErr):
		return http.StatusBadGateway, matrixErr.Code
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "canceled"
	}
	return http.StatusInternalServerError, "internal"
}

// pathParam reads a URL parameter, undoing percent-encoding chi may leave
// when the request path was escaped.
func pathParam(r *http.Request, key string) string {
	raw := chi.URLParam(r, key)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}
