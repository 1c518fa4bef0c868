package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver
	"go.uber.org/zap"

	"github.com/tecu23/arena-server/pkg/game"
)

const schema = `
CREATE TABLE IF NOT EXISTS finished_games (
	game_id      TEXT PRIMARY KEY,
	white_id     TEXT NOT NULL,
	black_id     TEXT NOT NULL,
	winner       TEXT,
	reason       TEXT NOT NULL,
	total_moves  INTEGER NOT NULL,
	rated        BOOLEAN NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	finished_at  TIMESTAMPTZ NOT NULL,
	view         JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS finished_games_white_idx ON finished_games (white_id, finished_at DESC);
CREATE INDEX IF NOT EXISTS finished_games_black_idx ON finished_games (black_id, finished_at DESC);

CREATE TABLE IF NOT EXISTS ratings (
	player_id  TEXT PRIMARY KEY,
	rating     INTEGER NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// OpenPostgres opens and pings the database at url, then applies the schema
func OpenPostgres(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, err
	}

	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctxPing); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

// PostgresRepository archives finished games and ratings in Postgres
type PostgresRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresRepository wraps db
func NewPostgresRepository(db *sql.DB, logger *zap.Logger) *PostgresRepository {
	return &PostgresRepository{db: db, logger: logger}
}

// SaveFinishedGame upserts the final view of a game
func (r *PostgresRepository) SaveFinishedGame(ctx context.Context, view game.View) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("marshal game %s: %w", view.ID, err)
	}

	var whiteID, blackID string
	if view.Players.White != nil {
		whiteID = view.Players.White.ID
	}
	if view.Players.Black != nil {
		blackID = view.Players.Black.ID
	}

	var winner sql.NullString
	reason := ""
	if view.Result != nil {
		reason = string(view.Result.Reason)
		if view.Result.Winner != nil {
			winner = sql.NullString{String: string(*view.Result.Winner), Valid: true}
		}
	}

	finishedAt := time.Now().UTC()
	if view.FinishedAt != nil {
		finishedAt = *view.FinishedAt
	}

	query := `
	INSERT INTO finished_games (game_id, white_id, black_id, winner, reason, total_moves, rated, created_at, finished_at, view)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (game_id) DO UPDATE SET
		winner = EXCLUDED.winner,
		reason = EXCLUDED.reason,
		total_moves = EXCLUDED.total_moves,
		finished_at = EXCLUDED.finished_at,
		view = EXCLUDED.view;
	`

	_, err = r.db.ExecContext(ctx, query,
		view.ID, whiteID, blackID, winner, reason, len(view.Moves),
		view.Settings.Rated, view.CreatedAt, finishedAt, data)
	if err != nil {
		return fmt.Errorf("failed to upsert game %s: %w", view.ID, err)
	}
	return nil
}

// GetFinishedGame loads a game by id
func (r *PostgresRepository) GetFinishedGame(ctx context.Context, id string) (game.View, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx, `SELECT view FROM finished_games WHERE game_id = $1`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return game.View{}, ErrGameNotFound
	}
	if err != nil {
		return game.View{}, fmt.Errorf("get game %s: %w", id, err)
	}

	var view game.View
	if err := json.Unmarshal(data, &view); err != nil {
		return game.View{}, fmt.Errorf("decode game %s: %w", id, err)
	}
	return view, nil
}

// ListByPlayer returns up to limit games, most recent first
func (r *PostgresRepository) ListByPlayer(ctx context.Context, playerID string, limit int) ([]game.View, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
	SELECT view FROM finished_games
	WHERE white_id = $1 OR black_id = $1
	ORDER BY finished_at DESC
	LIMIT $2`, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list games for %s: %w", playerID, err)
	}
	defer rows.Close()

	var out []game.View
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var view game.View
		if err := json.Unmarshal(data, &view); err != nil {
			r.logger.Warn("Skipping undecodable game", zap.Error(err))
			continue
		}
		out = append(out, view)
	}
	return out, rows.Err()
}

// Rating returns the player's rating or DefaultRating
func (r *PostgresRepository) Rating(ctx context.Context, playerID string) (int, error) {
	var rating int
	err := r.db.QueryRowContext(ctx, `SELECT rating FROM ratings WHERE player_id = $1`, playerID).Scan(&rating)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultRating, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get rating for %s: %w", playerID, err)
	}
	return rating, nil
}

// SetRating stores the player's rating
func (r *PostgresRepository) SetRating(ctx context.Context, playerID string, rating int) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO ratings (player_id, rating, updated_at) VALUES ($1, $2, NOW())
	ON CONFLICT (player_id) DO UPDATE SET rating = EXCLUDED.rating, updated_at = NOW()`,
		playerID, rating)
	if err != nil {
		return fmt.Errorf("set rating for %s: %w", playerID, err)
	}
	return nil
}
