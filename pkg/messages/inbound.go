package messages

import (
	"encoding/json"

	"github.com/tecu23/arena-server/pkg/chess"
	"github.com/tecu23/arena-server/pkg/matchmaking"
)

// InboundMessage is the generic wrapper for messages coming from the client.
// The "type" field tells us the action; "payload" is the data we parse further.
type InboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound message types
const (
	MakeMove        = "make-move"
	OfferDraw       = "offer-draw"
	AcceptDraw      = "accept-draw"
	DeclineDraw     = "decline-draw"
	Resign          = "resign"
	RequestTakeback = "request-takeback"
	AcceptTakeback  = "accept-takeback"
	DeclineTakeback = "decline-takeback"
	ClaimTimeout    = "claim-timeout"
	FindMatch       = "find-match"
	CancelFindMatch = "cancel-find-match"
	PlayEngine      = "play-engine"
	SpectateGame    = "spectate-game"
	JoinRoom        = "join-room"
	LeaveRoom       = "leave-room"
)

// SessionPayload addresses a game
type SessionPayload struct {
	SessionID string `json:"sessionId"`
}

// MakeMovePayload represents the payload for making a move during a game
type MakeMovePayload struct {
	SessionID string `json:"sessionId"`
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// FindMatchPayload asks to be paired with another player
type FindMatchPayload struct {
	Preferences matchmaking.Preferences `json:"preferences"`
}

// PlayEnginePayload starts a game against the engine
type PlayEnginePayload struct {
	Difficulty  string             `json:"difficulty"`
	TimeControl *chess.TimeControl `json:"timeControl,omitempty"`
}
