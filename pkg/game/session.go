package game

import (
	"sync"
	"time"

	"github.com/tecu23/arena-server/pkg/chess"
	"github.com/tecu23/arena-server/pkg/rules"
)

// GameSession is the authoritative state of one game. Every field is read and
// written under mu; callers outside this package go through Lock/Unlock.
type GameSession struct {
	ID       string
	Players  Players
	Settings Settings
	Position *rules.Position
	Status   Status
	Result   *Result

	PendingDrawOffer *chess.Color
	PendingTakeback  *Takeback

	Timer *chess.TimerState

	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time

	mu sync.Mutex
}

// NewGameSession seats white and black and starts the game at now
func NewGameSession(
	id string,
	white, black Participant,
	settings Settings,
	pos *rules.Position,
	now time.Time,
) *GameSession {
	started := now
	s := &GameSession{
		ID: id,
		Players: Players{
			White: seat(white, chess.White),
			Black: seat(black, chess.Black),
		},
		Settings:  settings,
		Position:  pos,
		Status:    StatusPlaying,
		CreatedAt: now,
		StartedAt: &started,
	}

	if settings.TimeControl != nil {
		s.Timer = chess.NewTimerState(*settings.TimeControl)
	}

	return s
}

func seat(p Participant, c chess.Color) *PlayerRef {
	return &PlayerRef{
		ID:        p.ID,
		Username:  p.Username,
		Color:     c,
		Connected: true,
		Bot:       p.Bot,
	}
}

// Lock acquires the session lock
func (s *GameSession) Lock() { s.mu.Lock() }

// Unlock releases the session lock
func (s *GameSession) Unlock() { s.mu.Unlock() }

// IsPlaying reports whether moves and offers are still accepted
func (s *GameSession) IsPlaying() bool {
	return s.Status == StatusPlaying
}

// Increment returns the per-move increment in seconds
func (s *GameSession) Increment() int64 {
	if s.Settings.TimeControl == nil {
		return 0
	}
	return s.Settings.TimeControl.Increment
}

// Finish moves the session to StatusFinished. It returns false, changing
// nothing, when the session has already finished.
func (s *GameSession) Finish(result *Result, now time.Time) bool {
	if s.Status == StatusFinished {
		return false
	}

	finished := now
	s.Status = StatusFinished
	s.Result = result
	s.FinishedAt = &finished
	s.PendingDrawOffer = nil
	s.PendingTakeback = nil

	if s.Timer != nil {
		s.Timer.Stop()
	}

	return true
}
