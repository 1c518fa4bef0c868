package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tecu23/arena-server/pkg/game"
)

const (
	redisGameKey    = "arena:game:"
	redisPlayerKey  = "arena:player:"
	redisRatingKey  = "arena:rating:"
	redisOpTimeout  = 5 * time.Second
	redisHistoryCap = 500
)

// NewRedisClient connects to the Redis server at url. url may be a
// redis:// URL or a bare host:port.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		opts = &redis.Options{Addr: url}
	}

	client := redis.NewClient(opts)

	ctxPing, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	if err := client.Ping(ctxPing).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return client, nil
}

// RedisRepository stores finished games and ratings in Redis. Games are JSON
// values; each player has a capped list of game ids, newest first.
type RedisRepository struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisRepository wraps client. A zero ttl keeps games forever.
func NewRedisRepository(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisRepository {
	return &RedisRepository{client: client, ttl: ttl, logger: logger}
}

// SaveFinishedGame stores the view and indexes it under both players
func (r *RedisRepository) SaveFinishedGame(ctx context.Context, view game.View) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("marshal game %s: %w", view.ID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, redisGameKey+view.ID, data, r.ttl)
	for _, id := range participantIDs(view) {
		key := redisPlayerKey + id + ":games"
		pipe.LRem(ctx, key, 0, view.ID)
		pipe.LPush(ctx, key, view.ID)
		pipe.LTrim(ctx, key, 0, redisHistoryCap-1)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save game %s: %w", view.ID, err)
	}
	return nil
}

// GetFinishedGame loads a game by id
func (r *RedisRepository) GetFinishedGame(ctx context.Context, id string) (game.View, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	data, err := r.client.Get(ctx, redisGameKey+id).Bytes()
	if errors.Is(err, redis.Nil) {
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

// ListByPlayer returns up to limit games, most recent first. Expired games
// are skipped.
func (r *RedisRepository) ListByPlayer(ctx context.Context, playerID string, limit int) ([]game.View, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	ids, err := r.client.LRange(ctx, redisPlayerKey+playerID+":games", 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list games for %s: %w", playerID, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisGameKey + id
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load games for %s: %w", playerID, err)
	}

	out := make([]game.View, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var view game.View
		if err := json.Unmarshal([]byte(s), &view); err != nil {
			r.logger.Warn("Skipping undecodable game", zap.String("game_id", ids[i]), zap.Error(err))
			continue
		}
		out = append(out, view)
	}
	return out, nil
}

// Rating returns the player's rating or DefaultRating
func (r *RedisRepository) Rating(ctx context.Context, playerID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	v, err := r.client.Get(ctx, redisRatingKey+playerID).Result()
	if errors.Is(err, redis.Nil) {
		return DefaultRating, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get rating for %s: %w", playerID, err)
	}

	rating, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse rating for %s: %w", playerID, err)
	}
	return rating, nil
}

// SetRating stores the player's rating
func (r *RedisRepository) SetRating(ctx context.Context, playerID string, rating int) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	if err := r.client.Set(ctx, redisRatingKey+playerID, rating, 0).Err(); err != nil {
		return fmt.Errorf("set rating for %s: %w", playerID, err)
	}
	return nil
}
