package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/samber/lo"

	"github.com/MrSnakeDoc/fedcheck/internal/checker"
	"github.com/MrSnakeDoc/fedcheck/internal/domain"
	"github.com/MrSnakeDoc/fedcheck/internal/httpserver/deps"
	"github.com/MrSnakeDoc/fedcheck/internal/logger"
)

const maxBodyBytes = 1 << 20

type testRequest struct {
	Servers []string `json:"servers"`
}

type testResponse struct {
	checker.RoomResult
	Outcomes []outcomeView `json:"outcomes"`
}

type retestResponse struct {
	checker.RetestResult
	Previous *outcomeView `json:"previous"`
	Current  outcomeView  `json:"current"`
}

type exportResponse struct {
	Room    string          `json:"room"`
	Servers domain.Snapshot `json:"servers"`
}

// TestRoom probes every server of a room. The body may list the servers;
// without it they come from room membership.
func TestRoom(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room := pathParam(r, "roomID")

		var req testRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error(), Code: "invalid_request"})
			return
		}

		res, err := d.Checker.TestRoom(r.Context(), room, req.Servers)
		if err != nil {
			writeError(w, r, d, err)
			return
		}

		d.Logger.Info("room tested",
			logger.String("room", room),
			logger.Int("servers", res.Summary.Total),
			logger.Int("reachable", res.Summary.Reachable),
			logger.Bool("shared", res.Shared))

		writeJSON(w, http.StatusOK, testResponse{
			RoomResult: res,
			Outcomes:   lo.Map(res.Outcomes, func(o domain.Outcome, _ int) outcomeView { return viewOf(o) }),
		})
	}
}

// Report returns the cached summary of a room, testing it first if needed.
func Report(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := d.Checker.Report(r.Context(), pathParam(r, "roomID"))
		if err != nil {
			writeError(w, r, d, err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}

func Retest(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := d.Checker.Retest(r.Context(), pathParam(r, "roomID"), pathParam(r, "server"))
		if err != nil {
			writeError(w, r, d, err)
			return
		}

		resp := retestResponse{RetestResult: res, Current: viewOf(res.Current)}
		if res.Previous != nil {
			prev := viewOf(*res.Previous)
			resp.Previous = &prev
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// Match lists the servers of a room matching ?software=&op=&version=.
func Match(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		res, err := d.Checker.Match(r.Context(), pathParam(r, "roomID"), q.Get("software"), q.Get("op"), q.Get("version"))
		if err != nil {
			writeError(w, r, d, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func Upgrade(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		impact, err := d.Checker.Upgrade(r.Context(), pathParam(r, "roomID"), pathParam(r, "roomVersion"))
		if err != nil {
			writeError(w, r, d, err)
			return
		}
		writeJSON(w, http.StatusOK, impact)
	}
}

// Export returns the flat snapshot of a room's cache. It never starts a test.
func Export(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room := pathParam(r, "roomID")
		snap, err := d.Checker.Export(room)
		if err != nil {
			writeError(w, r, d, err)
			return
		}
		writeJSON(w, http.StatusOK, exportResponse{Room: room, Servers: snap})
	}
}
