// Package main is the entry point of the application
package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
)

func (app *application) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(app.requestLogger)
	r.Use(middleware.Recoverer)

	c := cors.New(cors.Options{
		AllowedOrigins: app.Config.Origins(),
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Api-Key"},
		MaxAge:         300,
	})
	r.Use(c.Handler)

	r.Get("/health", app.handleHealth)
	r.Get("/ws", app.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Use(app.authenticate)
		r.Use(middleware.Timeout(10 * time.Second))

		r.Get("/games/{id}", app.handleGetGame)
		r.Get("/players/{id}/games", app.handleListPlayerGames)
		r.Get("/players/{id}/rating", app.handleGetRating)
	})

	return r
}
