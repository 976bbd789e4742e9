package server

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/swaggest/swgui/v5emb"
)

func addRoutes(r chi.Router, logger *slog.Logger, deps Deps) {
	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", v5emb.New("QuestTrail Client API", "/openapi.json", "/docs"))
	r.Get("/healthz", handleHealth(logger, deps.DB))

	r.Route("/api", func(r chi.Router) {
		r.Post("/session/start", handleStartSession(deps.Manager, deps.Broker))
		r.Get("/session/state", handleState(deps.Manager))
		r.Post("/object/arrive", handleArrive(deps.Manager, deps.Broker))
		r.Post("/location", handleLocation(deps.Tracker))
		r.Get("/events", handleEvents(deps.Broker))
	})
}
