// Package repository stores finished games and player ratings. Active
// sessions live only in the registry; this package sees them once they end.
package repository

import (
	"context"
	"errors"

	"github.com/tecu23/arena-server/pkg/game"
)

// DefaultRating is assumed for players with no stored rating
const DefaultRating = 1200

// ErrGameNotFound is returned when no archived game has the requested id
var ErrGameNotFound = errors.New("game not found")

// GameArchive stores finished games as their final view
type GameArchive interface {
	SaveFinishedGame(ctx context.Context, view game.View) error
	GetFinishedGame(ctx context.Context, id string) (game.View, error)
	ListByPlayer(ctx context.Context, playerID string, limit int) ([]game.View, error)
}

// RatingStore stores one rating per player
type RatingStore interface {
	Rating(ctx context.Context, playerID string) (int, error)
	SetRating(ctx context.Context, playerID string, rating int) error
}

func participantIDs(view game.View) []string {
	var ids []string
	if view.Players.White != nil && view.Players.White.ID != "" {
		ids = append(ids, view.Players.White.ID)
	}
	if view.Players.Black != nil && view.Players.Black.ID != "" {
		ids = append(ids, view.Players.Black.ID)
	}
	return ids
}
