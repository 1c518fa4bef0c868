// Package game holds the session data model: the authoritative state of one
// game and the read-only views handed to the network layer.
package game

import (
	"github.com/tecu23/arena-server/pkg/chess"
)

// Status is the lifecycle state of a session
type Status string

// Sessions are created directly into StatusPlaying. StatusWaiting and
// StatusPaused are part of the wire vocabulary but no operation enters them.
const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusPaused   Status = "paused"
	StatusFinished Status = "finished"
)

// Reason explains how a game ended
type Reason string

// Possible end reasons
const (
	ReasonCheckmate   Reason = "checkmate"
	ReasonResignation Reason = "resignation"
	ReasonTimeout     Reason = "timeout"
	ReasonDraw        Reason = "draw"
	ReasonStalemate   Reason = "stalemate"
)

// Settings are fixed when the session is created
type Settings struct {
	TimeControl     *chess.TimeControl `json:"timeControl,omitempty"`
	Rated           bool               `json:"rated"`
	AllowTakebacks  bool               `json:"allowTakebacks"`
	AllowDrawOffers bool               `json:"allowDrawOffers"`
	StartFEN        string             `json:"startFen,omitempty"`
}

// Result is set once, when the session finishes
type Result struct {
	Winner      *chess.Color `json:"winner,omitempty"`
	Reason      Reason       `json:"reason"`
	Description string       `json:"description"`
}

// Takeback is a pending request to undo MoveCount plies
type Takeback struct {
	RequestedBy chess.Color `json:"requestedBy"`
	MoveCount   int         `json:"moveCount"`
}

// Participant is a player joining a new session
type Participant struct {
	ID       string
	Username string
	// Bot is the difficulty preset of an engine-controlled side, empty for humans
	Bot string
}

// PlayerRef is a seated player. Connected is advisory only.
type PlayerRef struct {
	ID        string      `json:"id"`
	Username  string      `json:"username,omitempty"`
	Color     chess.Color `json:"color"`
	Connected bool        `json:"connected"`
	Bot       string      `json:"bot,omitempty"`
}

// Players are the two color slots of a session
type Players struct {
	White *PlayerRef `json:"white,omitempty"`
	Black *PlayerRef `json:"black,omitempty"`
}

// Get returns the player seated on c
func (p Players) Get(c chess.Color) *PlayerRef {
	if c == chess.White {
		return p.White
	}
	return p.Black
}

// ColorOf returns the color seated by playerID
func (p Players) ColorOf(playerID string) (chess.Color, bool) {
	if p.White != nil && p.White.ID == playerID {
		return chess.White, true
	}
	if p.Black != nil && p.Black.ID == playerID {
		return chess.Black, true
	}
	return "", false
}

func winnerPtr(c chess.Color) *chess.Color {
	return &c
}

// WinBy builds a decisive result
func WinBy(winner chess.Color, reason Reason, description string) *Result {
	return &Result{Winner: winnerPtr(winner), Reason: reason, Description: description}
}

// DrawBy builds a drawn result
func DrawBy(reason Reason, description string) *Result {
	return &Result{Reason: reason, Description: description}
}
