// Package main is the entry point of the application
package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tecu23/arena-server/pkg/repository"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// handleGetGame returns the live view of a game, falling back to the archive
func (app *application) handleGetGame(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if view, ok := app.Manager.GetGame(id); ok {
		writeJSON(w, http.StatusOK, view)
		return
	}

	view, err := app.Archive.GetFinishedGame(r.Context(), id)
	switch {
	case errors.Is(err, repository.ErrGameNotFound):
		writeError(w, http.StatusNotFound, "game not found")
	case err != nil:
		app.Logger.Error("archive lookup failed", zap.String("session_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "archive unavailable")
	default:
		writeJSON(w, http.StatusOK, view)
	}
}

// handleListPlayerGames lists a player's finished games, newest first
func (app *application) handleListPlayerGames(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	views, err := app.Archive.ListByPlayer(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		app.Logger.Error("archive list failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "archive unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"games": views})
}

// handleGetRating returns a player's current rating
func (app *application) handleGetRating(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rating, err := app.Ratings.Rating(r.Context(), id)
	if err != nil {
		app.Logger.Error("rating lookup failed", zap.String("player_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "ratings unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"playerId": id, "rating": rating})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
