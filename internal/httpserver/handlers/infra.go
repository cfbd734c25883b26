package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/fedcheck/internal/httpserver/deps"
)

type componentStatus struct {
	OK          bool   `json:"ok"`
	RoomsLoaded *int   `json:"rooms_loaded,omitempty"`
	Source      string `json:"source,omitempty"`
	Updated     string `json:"updated,omitempty"`
	LastReload  string `json:"last_reload,omitempty"`
	Mode        string `json:"mode,omitempty"`
	Impact      string `json:"impact,omitempty"`
	Error       string `json:"error,omitempty"`
}

type infraResponse struct {
	Mode       string                     `json:"mode"`
	Components map[string]componentStatus `json:"components"`
}

func Infra(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms := d.Checker.Rooms()

		components := map[string]componentStatus{
			"rooms": {
				OK:          true,
				RoomsLoaded: &rooms,
			},
			"room_versions": checkTable(d),
			"redis":         checkRedis(r.Context(), d),
			"membership":    checkMembership(d),
		}

		writeJSON(w, http.StatusOK, infraResponse{
			Mode:       determineMode(components),
			Components: components,
		})
	}
}

func determineMode(components map[string]componentStatus) string {
	// Without a table upgrade questions cannot be answered
	if table, exists := components["room_versions"]; exists && !table.OK {
		return "critical"
	}

	// Redis down: results survive only until restart
	if redis, exists := components["redis"]; exists && !redis.OK && redis.Mode != "disabled" {
		return "degraded"
	}

	return "operational"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format("2006-01-02 15:04:05")
}

func checkTable(d deps.Deps) componentStatus {
	if d.Tables == nil || d.Tables.Current() == nil {
		return componentStatus{OK: false, Error: "not loaded"}
	}
	table := d.Tables.Current()
	return componentStatus{
		OK:         true,
		Source:     d.Tables.Source(),
		Updated:    table.Updated,
		LastReload: formatTime(d.Tables.LastReload()),
	}
}

func checkMembership(d deps.Deps) componentStatus {
	if !d.Membership {
		return componentStatus{OK: true, Mode: "disabled", Impact: "servers-must-be-listed"}
	}
	return componentStatus{OK: true, Mode: "homeserver"}
}

func checkRedis(ctx context.Context, d deps.Deps) componentStatus {
	if d.Store == nil {
		return componentStatus{
			OK:     false,
			Mode:   "disabled",
			Impact: "results-lost-on-restart",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := d.Store.Ping(ctx); err != nil {
		return componentStatus{
			OK:     false,
			Mode:   "degraded",
			Impact: "results-lost-on-restart",
			Error:  err.Error(),
		}
	}

	return componentStatus{
		OK:     true,
		Mode:   "optimal",
		Impact: "results-persisted",
	}
}
