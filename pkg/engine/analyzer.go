// Package engine drives external UCI analysis engines. Engines are pooled
// subprocesses; callers ask for a single best move under a deadline.
package engine

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrEngineUnavailable is returned when no engine process can serve a request
	ErrEngineUnavailable = errors.New("engine unavailable")
	// ErrEngineTimeout is returned when a search does not finish before its deadline
	ErrEngineTimeout = errors.New("engine timeout")
	// ErrNoMove is returned when the engine reports no legal move
	ErrNoMove = errors.New("engine returned no move")
)

// Settings is the search budget for one request
type Settings struct {
	Depth    int
	MoveTime time.Duration
	Skill    int
}

// minTimeout is the floor applied to every search deadline
const minTimeout = 10 * time.Second

// Timeout is the deadline after which a search is abandoned
func (s Settings) Timeout() time.Duration {
	return max(s.MoveTime+time.Second, minTimeout)
}

// Analyzer finds the best move for a position given as FEN
type Analyzer interface {
	BestMove(ctx context.Context, fen string, s Settings) (string, error)
}

// Difficulty names a preset search budget
type Difficulty string

// Available difficulties
const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
	Expert Difficulty = "expert"
)

var presets = map[Difficulty]Settings{
	Easy:   {Depth: 5, MoveTime: 1000 * time.Millisecond, Skill: 5},
	Medium: {Depth: 10, MoveTime: 2000 * time.Millisecond, Skill: 10},
	Hard:   {Depth: 15, MoveTime: 3000 * time.Millisecond, Skill: 15},
	Expert: {Depth: 20, MoveTime: 5000 * time.Millisecond, Skill: 20},
}

// ParseDifficulty normalises d, defaulting to Medium for unknown names
func ParseDifficulty(d string) Difficulty {
	diff := Difficulty(strings.ToLower(strings.TrimSpace(d)))
	if _, ok := presets[diff]; ok {
		return diff
	}
	return Medium
}

// SettingsFor returns the search budget for d
func SettingsFor(d Difficulty) Settings {
	if s, ok := presets[d]; ok {
		return s
	}
	return presets[Medium]
}
