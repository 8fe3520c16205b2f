package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/DS-Industry/sensor-terminal-front-end/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware локального API киоска.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api/kiosk", func(r chi.Router) {
		// Поток состояния работает поверх websocket и не сжимается.
		r.Get("/ws", h.StateFeed)

		r.Group(func(r chi.Router) {
			r.Use(custommiddleware.GzipMiddleware)

			r.Get("/state", h.GetState)
			r.Get("/health", h.Health)

			r.Post("/order", h.CreateOrder)
			r.Get("/loyalty", h.LoyaltyStatus)
			r.Post("/loyalty", h.PayWithLoyalty)
			r.Post("/back", h.Back)
			r.Post("/retry", h.Retry)
			r.Post("/robot/start", h.StartRobot)

			r.With(h.authMiddleware.Middleware).Get("/journal", h.GetJournal)
		})
	})

	r.With(custommiddleware.GzipMiddleware).Get("/api/programs", h.GetPrograms)

	if h.devMode {
		r.Route("/api/dev", func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)
			r.Post("/push", h.SimulatePush)
		})
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
