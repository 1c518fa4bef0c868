// Package matchmaking pairs waiting players. Matching is first-fit over
// insertion order: the oldest compatible entry wins, not the closest rating.
package matchmaking

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/tecu23/arena-server/pkg/chess"
	"github.com/tecu23/arena-server/pkg/game"
)

// Defaults applied when Config leaves a field empty
const (
	DefaultRatingWindow = 200
	DefaultRating       = 1200
)

// DefaultTimeControl is used when neither player asks for one
var DefaultTimeControl = chess.TimeControl{Initial: 600, Increment: 5}

// ErrNoPlayerID is returned for an entry without a player id
var ErrNoPlayerID = errors.New("player id is required")

// Player is a player looking for a game
type Player struct {
	ID       string
	Username string
	Rating   int
}

// EffectiveRating returns the rating used for matching
func (p Player) EffectiveRating() int {
	if p.Rating <= 0 {
		return DefaultRating
	}
	return p.Rating
}

// Preferences constrain who a player can be paired with
type Preferences struct {
	TimeControl *chess.TimeControl `json:"timeControl,omitempty"`
	Rated       bool               `json:"rated"`
	MinRating   *int               `json:"minRating,omitempty"`
	MaxRating   *int               `json:"maxRating,omitempty"`
}

func (p Preferences) accepts(rating int) bool {
	if p.MinRating != nil && rating < *p.MinRating {
		return false
	}
	if p.MaxRating != nil && rating > *p.MaxRating {
		return false
	}
	return true
}

// Entry is a waiting player. C is the caller's connection handle.
type Entry[C any] struct {
	Player      Player
	Conn        C
	Preferences Preferences
	EnqueuedAt  time.Time
}

// Match is a pair taken off the queue and the game created for them
type Match[C any] struct {
	SessionID string
	Waiting   Entry[C]
	Joining   Entry[C]
}

// GameCreator creates the game for a matched pair
type GameCreator interface {
	CreateGame(a, b game.Participant, settings game.Settings) (string, error)
}

// Config tunes a Queue
type Config struct {
	RatingWindow       int
	DefaultTimeControl *chess.TimeControl
	Clock              clockwork.Clock
}

// Queue holds players waiting for an opponent. One mutex covers the scan,
// the removal of the partner and the game creation, so a waiting entry can
// be claimed by one enqueue only.
type Queue[C any] struct {
	mu      sync.Mutex
	order   []string
	entries map[string]*Entry[C]

	creator   GameCreator
	window    int
	defaultTC chess.TimeControl
	clock     clockwork.Clock
	logger    *zap.Logger
}

// NewQueue creates an empty queue
func NewQueue[C any](creator GameCreator, cfg Config, logger *zap.Logger) *Queue[C] {
	q := &Queue[C]{
		entries:   make(map[string]*Entry[C]),
		creator:   creator,
		window:    cfg.RatingWindow,
		defaultTC: DefaultTimeControl,
		clock:     cfg.Clock,
		logger:    logger,
	}

	if q.window <= 0 {
		q.window = DefaultRatingWindow
	}
	if cfg.DefaultTimeControl != nil {
		q.defaultTC = *cfg.DefaultTimeControl
	}
	if q.clock == nil {
		q.clock = clockwork.NewRealClock()
	}

	return q
}

// Enqueue pairs player with the first compatible waiting entry, creating
// their game. With no compatible entry the player waits; enqueueing again
// replaces the preferences but keeps the place in line.
func (q *Queue[C]) Enqueue(player Player, conn C, prefs Preferences) (*Match[C], error) {
	if player.ID == "" {
		return nil, ErrNoPlayerID
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	joining := Entry[C]{
		Player:      player,
		Conn:        conn,
		Preferences: prefs,
		EnqueuedAt:  q.clock.Now(),
	}

	for i, id := range q.order {
		if id == player.ID {
			continue
		}

		waiting := q.entries[id]
		if !q.compatible(*waiting, joining) {
			continue
		}

		q.removeAt(i)
		sessionID, err := q.creator.CreateGame(participant(waiting.Player), participant(player), q.settings(*waiting, joining))
		if err != nil {
			q.insertAt(i, waiting)
			return nil, fmt.Errorf("create game: %w", err)
		}

		if _, ok := q.entries[player.ID]; ok {
			q.remove(player.ID)
		}

		q.logger.Info("Players matched",
			zap.String("session_id", sessionID),
			zap.String("waiting", waiting.Player.ID),
			zap.String("joining", player.ID))

		return &Match[C]{SessionID: sessionID, Waiting: *waiting, Joining: joining}, nil
	}

	if existing, ok := q.entries[player.ID]; ok {
		existing.Player = player
		existing.Conn = conn
		existing.Preferences = prefs
		return nil, nil
	}

	q.order = append(q.order, player.ID)
	q.entries[player.ID] = &joining

	q.logger.Debug("Player queued", zap.String("player_id", player.ID), zap.Int("waiting", len(q.order)))
	return nil, nil
}

// Cancel removes the player's entry. It reports whether one existed.
func (q *Queue[C]) Cancel(playerID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.entries[playerID]; !ok {
		return false
	}
	q.remove(playerID)
	return true
}

// Len returns the number of waiting players
func (q *Queue[C]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Contains reports whether playerID is waiting
func (q *Queue[C]) Contains(playerID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.entries[playerID]
	return ok
}

// compatible reports whether a and b can be paired: same rated flag, each
// inside the other's bounds and within the rating window
func (q *Queue[C]) compatible(a, b Entry[C]) bool {
	if a.Player.ID == b.Player.ID {
		return false
	}
	if a.Preferences.Rated != b.Preferences.Rated {
		return false
	}

	ra, rb := a.Player.EffectiveRating(), b.Player.EffectiveRating()
	if !a.Preferences.accepts(rb) || !b.Preferences.accepts(ra) {
		return false
	}

	diff := ra - rb
	if diff < 0 {
		diff = -diff
	}
	return diff <= q.window
}

func (q *Queue[C]) settings(waiting, joining Entry[C]) game.Settings {
	tc := q.defaultTC
	switch {
	case joining.Preferences.TimeControl != nil:
		tc = *joining.Preferences.TimeControl
	case waiting.Preferences.TimeControl != nil:
		tc = *waiting.Preferences.TimeControl
	}

	return game.Settings{
		TimeControl:     &tc,
		Rated:           joining.Preferences.Rated,
		AllowTakebacks:  false,
		AllowDrawOffers: true,
	}
}

func participant(p Player) game.Participant {
	return game.Participant{ID: p.ID, Username: p.Username}
}

func (q *Queue[C]) remove(playerID string) {
	if i := slices.Index(q.order, playerID); i >= 0 {
		q.removeAt(i)
	}
}

func (q *Queue[C]) removeAt(i int) {
	id := q.order[i]
	q.order = slices.Delete(q.order, i, i+1)
	delete(q.entries, id)
}

func (q *Queue[C]) insertAt(i int, e *Entry[C]) {
	q.order = slices.Insert(q.order, i, e.Player.ID)
	q.entries[e.Player.ID] = e
}
