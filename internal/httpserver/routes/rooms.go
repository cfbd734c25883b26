package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/fedcheck/internal/httpserver/deps"
	"github.com/MrSnakeDoc/fedcheck/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/fedcheck/internal/httpserver/mw"
)

func init() { Register(registerRooms) }

// registerRooms mounts the room and server operations. Every route that
// may start network probes shares one rate limiter.
func registerRooms(r chi.Router, d deps.Deps) {
	probing := mw.RateLimit(mw.RateLimitConfig{
		Burst:             d.RateLimitBurst,
		RefillPerIPPerMin: d.RateLimitPerMin,
		MaxEntries:        10000,
		TrustProxy:        d.TrustProxy,
	})

	r.Group(func(r chi.Router) {
		r.Use(mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger), mw.EnforceHost(d.AllowedHosts, d.Logger))

		r.Route("/rooms/{roomID}", func(r chi.Router) {
			r.Get("/export", handlers.Export(d))

			r.With(probing).Post("/test", handlers.TestRoom(d))
			r.With(probing).Get("/report", handlers.Report(d))
			r.With(probing).Post("/retest/{server}", handlers.Retest(d))
			r.With(probing).Get("/match", handlers.Match(d))
			r.With(probing).Get("/upgrade/{roomVersion}", handlers.Upgrade(d))
		})

		r.With(probing).Get("/servers/{server}", handlers.CheckServer(d))
	})
}
