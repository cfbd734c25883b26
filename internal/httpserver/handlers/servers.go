package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/fedcheck/internal/httpserver/deps"
)

// CheckServer probes one server outside of any room.
func CheckServer(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		o, err := d.Checker.Check(r.Context(), pathParam(r, "server"))
		if err != nil {
			writeError(w, r, d, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(o))
	}
}
