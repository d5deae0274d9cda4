package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// RegisterRoutes registers all admin API routes using chi router
func RegisterRoutes(mux *http.ServeMux, handlers *Handlers) {
	r := chi.NewRouter()
	r.Use(AuthMiddleware)

	r.Route("/subscribers", func(r chi.Router) {
		r.Post("/", handlers.handleSubscribe)
		r.Get("/", handlers.handleListSubscribers)
		r.Get("/{id}", handlers.handleGetSubscriber)
		r.Delete("/{id}", handlers.handleUnsubscribe)
		r.Post("/{id}/restart", handlers.handleRestartSubscriber)
		r.Post("/{id}/disable", handlers.handleDisableSubscriber)
		r.Post("/{id}/enable", handlers.handleEnableSubscriber)
		r.Get("/{id}/events", handlers.handleSubscriberEvents)
	})
	r.Get("/events", handlers.handleAllEvents)
	r.Post("/flushes", handlers.handleFlush)

	mux.Handle("/push", http.RedirectHandler("/push/", http.StatusMovedPermanently))
	mux.Handle("/push/", http.StripPrefix("/push", r))

	log.Info().Msg("Admin endpoints enabled at /push/subscribers")
}
