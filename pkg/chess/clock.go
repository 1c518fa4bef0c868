// Package chess defines the game entities shared by the session engine
package chess

import (
	"fmt"
	"time"
)

// TimeControl defines the time settings for a game, in seconds
type TimeControl struct {
	Initial   int64 `json:"initial"`
	Increment int64 `json:"increment"`
}

// TimerState holds both clocks of a game. Clocks are only evaluated at move
// boundaries, there is no ticking goroutine behind them.
type TimerState struct {
	WhiteTime    int64      `json:"whiteTime"` // seconds
	BlackTime    int64      `json:"blackTime"`
	IsRunning    bool       `json:"isRunning"`
	LastMoveTime *time.Time `json:"lastMoveTime,omitempty"`
}

// NewTimerState creates a running timer for the given time control. The first
// move of the game starts the count, so LastMoveTime is left unset.
func NewTimerState(tc TimeControl) *TimerState {
	return &TimerState{
		WhiteTime: tc.Initial,
		BlackTime: tc.Initial,
		IsRunning: true,
	}
}

// Time returns the stored remaining time for a color
func (t *TimerState) Time(c Color) int64 {
	if c == White {
		return t.WhiteTime
	}
	return t.BlackTime
}

func (t *TimerState) setTime(c Color, v int64) {
	if v < 0 {
		v = 0
	}
	if c == White {
		t.WhiteTime = v
	} else {
		t.BlackTime = v
	}
}

// Stop freezes both clocks
func (t *TimerState) Stop() {
	t.IsRunning = false
}

// Clone returns a deep copy safe to hand out of the session lock
func (t *TimerState) Clone() *TimerState {
	if t == nil {
		return nil
	}
	c := *t
	if t.LastMoveTime != nil {
		last := *t.LastMoveTime
		c.LastMoveTime = &last
	}
	return &c
}

// elapsedSeconds is the whole number of seconds since the last move
func (t *TimerState) elapsedSeconds(now time.Time) int64 {
	if t.LastMoveTime == nil {
		return 0
	}
	d := now.Sub(*t.LastMoveTime)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

// ApplyMove debits the clock of the side that just moved by the whole seconds
// spent on the move and credits the increment, clamping the result at zero.
//
// It returns the color whose clock is expired after the update, if any.
func (t *TimerState) ApplyMove(mover Color, increment int64, now time.Time) (expired *Color) {
	if !t.IsRunning {
		return nil
	}

	if t.LastMoveTime != nil {
		t.setTime(mover, t.Time(mover)-t.elapsedSeconds(now)+increment)
	}

	last := now
	t.LastMoveTime = &last

	return t.Expired()
}

// Expired returns the first color whose stored clock is at zero
func (t *TimerState) Expired() *Color {
	for _, c := range []Color{White, Black} {
		if t.Time(c) <= 0 {
			expired := c
			return &expired
		}
	}
	return nil
}

// Remaining evaluates the clock of a side as of now. Only the side to move
// loses time between moves.
func (t *TimerState) Remaining(c, toMove Color, now time.Time) int64 {
	left := t.Time(c)
	if t.IsRunning && c == toMove {
		left -= t.elapsedSeconds(now)
	}
	if left < 0 {
		return 0
	}
	return left
}

// Flag zeroes the clock of c once a timeout has been detected lazily
func (t *TimerState) Flag(c Color) {
	t.setTime(c, 0)
}

// ResetTurn restarts the count for the side to move without touching the
// stored times. Used when the position is rewound.
func (t *TimerState) ResetTurn(now time.Time) {
	if t.LastMoveTime == nil {
		return
	}
	last := now
	t.LastMoveTime = &last
}

// FormatClockTime formats a number of seconds as "m:ss"
func FormatClockTime(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}

	minutes := seconds / 60
	secs := seconds % 60

	if minutes >= 60 {
		return fmt.Sprintf("%d:%02d:%02d", minutes/60, minutes%60, secs)
	}

	return fmt.Sprintf("%d:%02d", minutes, secs)
}
