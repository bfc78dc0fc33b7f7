package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RouterConfig struct {
	HTTP    *HTTPHandler
	WS      *WSHandler
	Metrics http.Handler
}

func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", headerIdempotencyKey, headerUserID},
		ExposedHeaders: []string{headerReplayed},
		MaxAge:         300,
	}))

	r.Route("/health", func(r chi.Router) {
		r.Get("/", cfg.HTTP.HealthCheck)
		r.Get("/live", cfg.HTTP.Live)
		r.Get("/ready", cfg.HTTP.Ready)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/tickets", cfg.HTTP.ListTickets)
		r.Post("/orders", cfg.HTTP.CreateOrder)
		r.Get("/orders/{id}", cfg.HTTP.GetOrder)
	})

	if cfg.WS != nil {
		r.Get("/ws", cfg.WS.Serve)
	}
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	return r
}
