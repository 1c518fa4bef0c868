package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tecu23/arena-server/pkg/chess"
	"github.com/tecu23/arena-server/pkg/game"
)

func finishedView(id, white, black string) game.View {
	now := time.Now().UTC()
	winner := chess.White
	return game.View{
		Version: game.ViewVersion,
		ID:      id,
		Players: game.Players{
			White: &game.PlayerRef{ID: white, Color: chess.White},
			Black: &game.PlayerRef{ID: black, Color: chess.Black},
		},
		Status:     game.StatusFinished,
		Result:     &game.Result{Winner: &winner, Reason: game.ReasonResignation},
		FinishedAt: &now,
	}
}

func TestInMemory_Archive(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository(zap.NewNop())

	require.NoError(t, repo.SaveFinishedGame(ctx, finishedView("g1", "alice", "bob")))
	require.NoError(t, repo.SaveFinishedGame(ctx, finishedView("g2", "carol", "alice")))
	// saving twice does not duplicate the index
	require.NoError(t, repo.SaveFinishedGame(ctx, finishedView("g1", "alice", "bob")))

	got, err := repo.GetFinishedGame(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Players.White.ID)

	_, err = repo.GetFinishedGame(ctx, "missing")
	assert.ErrorIs(t, err, ErrGameNotFound)

	games, err := repo.ListByPlayer(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, games, 2)
	assert.Equal(t, "g2", games[0].ID)
	assert.Equal(t, "g1", games[1].ID)

	games, err = repo.ListByPlayer(ctx, "alice", 1)
	require.NoError(t, err)
	require.Len(t, games, 1)
	assert.Equal(t, "g2", games[0].ID)

	games, err = repo.ListByPlayer(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, games)
}

func TestInMemory_Ratings(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository(zap.NewNop())

	rating, err := repo.Rating(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, DefaultRating, rating)

	require.NoError(t, repo.SetRating(ctx, "alice", 1416))
	rating, err = repo.Rating(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1416, rating)
}

func TestParticipantIDs(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, participantIDs(finishedView("g", "a", "b")))
	assert.Nil(t, participantIDs(game.View{}))
}

var (
	_ GameArchive = (*InMemoryGameRepository)(nil)
	_ RatingStore = (*InMemoryGameRepository)(nil)
	_ GameArchive = (*RedisRepository)(nil)
	_ RatingStore = (*RedisRepository)(nil)
	_ GameArchive = (*PostgresRepository)(nil)
	_ RatingStore = (*PostgresRepository)(nil)
)
