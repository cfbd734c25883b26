package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/fedcheck/internal/httpserver/deps"
)

type readyzResponse struct {
	Ready  bool   `json:"ready"`
	Reason string `json:"reason,omitempty"`
}

// Readyz reports ready once a room-version table is loaded and, when
// persistence is enabled, Redis answers.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Tables == nil || d.Tables.Current() == nil {
			writeJSON(w, http.StatusServiceUnavailable, readyzResponse{Reason: "room versions table not loaded"})
			return
		}
		if d.Store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := d.Store.Ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, readyzResponse{Reason: "redis unreachable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, readyzResponse{Ready: true})
	}
}
