package handlers

import (
	"github.com/go-chi/chi"
	"github.com/go-chi/jwtauth"
)

func (h *Handler) SetRoutes(r *chi.Mux) {
	r.Route("/v1", func(r chi.Router) {
		// The socket carries its credential as a query parameter, browsers
		// cannot set headers on an upgrade request.
		r.Get("/ws", h.HandleWebSocket)
		r.Get("/health", h.HealthHandler)

		// Secure routes
		r.Group(func(r chi.Router) {
			r.Use(jwtauth.Verifier(h.verifier.TokenAuth()))
			r.Use(jwtauth.Authenticator)

			r.Post("/games", h.CreateGame)
			r.Get("/games/{gameId}/state", h.GetGameState)
			r.Get("/games/{gameId}/life-changes", h.GetLifeChanges)
			r.Post("/games/{gameId}/join", h.JoinGame)
			r.Post("/games/{gameId}/leave", h.LeaveGame)
			r.Put("/games/{gameId}/update-life", h.UpdateLife)
			r.Put("/games/{gameId}/end", h.EndGame)
			r.Put("/games/{gameId}/commander-damage", h.UpdateCommanderDamage)
			r.Post("/games/{gameId}/players/{playerId}/partner", h.TogglePartner)
		})
	})
}
