package manager

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tecu23/arena-server/pkg/chess"
	"github.com/tecu23/arena-server/pkg/events"
	"github.com/tecu23/arena-server/pkg/game"
	"github.com/tecu23/arena-server/pkg/repository"
)

// KFactor is the Elo K-factor applied to rated games
const KFactor = 32.0

// CalculateElo returns the new rating for player A.
// score is 1.0 for a win, 0.5 for a draw, and 0.0 for a loss.
func CalculateElo(ratingA, ratingB int, score float64) int {
	expectedScoreA := 1.0 / (1.0 + math.Pow(10.0, float64(ratingB-ratingA)/400.0))
	newRating := float64(ratingA) + KFactor*(score-expectedScoreA)

	if newRating < 0 {
		return 0
	}
	return int(math.Round(newRating))
}

// ResultRecorder archives finished games and updates ratings after rated ones
type ResultRecorder struct {
	archive repository.GameArchive
	ratings repository.RatingStore
	logger  *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewResultRecorder creates a recorder. Either store may be nil.
func NewResultRecorder(archive repository.GameArchive, ratings repository.RatingStore, logger *zap.Logger) *ResultRecorder {
	return &ResultRecorder{
		archive: archive,
		ratings: ratings,
		logger:  logger,
		timeout: 10 * time.Second,
	}
}

// Attach subscribes the recorder to finished games
func (r *ResultRecorder) Attach(p *events.Publisher) {
	p.Subscribe(events.EventGameFinished, func(e events.Event) {
		view, ok := e.Payload.(game.View)
		if !ok {
			return
		}

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.Record(view)
		}()
	})
}

// Wait blocks until pending writes are done
func (r *ResultRecorder) Wait() {
	r.wg.Wait()
}

// Record stores view and applies rating changes
func (r *ResultRecorder) Record(view game.View) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	logger := r.logger.With(zap.String("session_id", view.ID))

	if r.archive != nil {
		if err := r.archive.SaveFinishedGame(ctx, view); err != nil {
			logger.Error("Error archiving game", zap.Error(err))
		}
	}

	if r.ratings == nil || !view.Settings.Rated || view.Result == nil {
		return
	}

	white, black := view.Players.White, view.Players.Black
	if white == nil || black == nil || white.Bot != "" || black.Bot != "" {
		return
	}

	whiteRating, err := r.ratings.Rating(ctx, white.ID)
	if err != nil {
		logger.Error("Error loading rating", zap.String("player_id", white.ID), zap.Error(err))
		return
	}
	blackRating, err := r.ratings.Rating(ctx, black.ID)
	if err != nil {
		logger.Error("Error loading rating", zap.String("player_id", black.ID), zap.Error(err))
		return
	}

	whiteScore := score(view.Result, chess.White)
	newWhite := CalculateElo(whiteRating, blackRating, whiteScore)
	newBlack := CalculateElo(blackRating, whiteRating, 1-whiteScore)

	if err := r.ratings.SetRating(ctx, white.ID, newWhite); err != nil {
		logger.Error("Error saving rating", zap.String("player_id", white.ID), zap.Error(err))
	}
	if err := r.ratings.SetRating(ctx, black.ID, newBlack); err != nil {
		logger.Error("Error saving rating", zap.String("player_id", black.ID), zap.Error(err))
	}

	logger.Info("Ratings updated",
		zap.Int("white", newWhite),
		zap.Int("black", newBlack))
}

func score(result *game.Result, c chess.Color) float64 {
	switch {
	case result.Winner == nil:
		return 0.5
	case *result.Winner == c:
		return 1
	default:
		return 0
	}
}
