package repository

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/tecu23/arena-server/pkg/game"
)

// InMemoryGameRepository is an in-memory implementation of GameArchive and
// RatingStore
type InMemoryGameRepository struct {
	games    map[string]game.View
	byPlayer map[string][]string
	ratings  map[string]int
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewInMemoryRepository creates a new in-memory repository
func NewInMemoryRepository(logger *zap.Logger) *InMemoryGameRepository {
	return &InMemoryGameRepository{
		games:    make(map[string]game.View),
		byPlayer: make(map[string][]string),
		ratings:  make(map[string]int),
		logger:   logger,
	}
}

// SaveFinishedGame saves a game to the repository
func (r *InMemoryGameRepository) SaveFinishedGame(_ context.Context, view game.View) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.games[view.ID]; !exists {
		for _, id := range participantIDs(view) {
			r.byPlayer[id] = append(r.byPlayer[id], view.ID)
		}
	}
	r.games[view.ID] = view

	r.logger.Debug("Game archived", zap.String("game_id", view.ID))
	return nil
}

// GetFinishedGame retrieves a game by ID
func (r *InMemoryGameRepository) GetFinishedGame(_ context.Context, id string) (game.View, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	view, ok := r.games[id]
	if !ok {
		return game.View{}, ErrGameNotFound
	}

	return view, nil
}

// ListByPlayer returns the player's games, most recent first
func (r *InMemoryGameRepository) ListByPlayer(_ context.Context, playerID string, limit int) ([]game.View, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byPlayer[playerID]
	var out []game.View
	for i := len(ids) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, r.games[ids[i]])
	}

	return out, nil
}

// Rating returns the player's rating or DefaultRating
func (r *InMemoryGameRepository) Rating(_ context.Context, playerID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rating, ok := r.ratings[playerID]; ok {
		return rating, nil
	}
	return DefaultRating, nil
}

// SetRating stores the player's rating
func (r *InMemoryGameRepository) SetRating(_ context.Context, playerID string, rating int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ratings[playerID] = rating
	return nil
}
