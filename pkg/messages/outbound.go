package messages

import (
	"github.com/tecu23/arena-server/pkg/chess"
	"github.com/tecu23/arena-server/pkg/game"
	"github.com/tecu23/arena-server/pkg/matchmaking"
	"github.com/tecu23/arena-server/pkg/rules"
)

// OutboundMessage is how we wrap responses before sending
// them to the client
type OutboundMessage struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// Outbound events
const (
	Connected            = "connected"
	MoveMade             = "move-made"
	GameEnded            = "game-ended"
	GameState            = "game-state"
	DrawOffered          = "draw-offered"
	DrawDeclined         = "draw-declined"
	TakebackRequested    = "takeback-requested"
	TakebackAccepted     = "takeback-accepted"
	TakebackDeclined     = "takeback-declined"
	MatchFound           = "match-found"
	QueueJoined          = "queue-joined"
	QueueLeft            = "queue-left"
	RoomLeft             = "room-left"
	OpponentDisconnected = "opponent-disconnected"
	OpponentReconnected  = "opponent-reconnected"
	Error                = "error"
)

// Error codes
const (
	CodeAuth       = "AuthError"
	CodeNotFound   = "NotFound"
	CodeBadRequest = "BadRequest"
	CodeRejected   = "Rejected"
)

// ConnectedPayload greets a new connection
type ConnectedPayload struct {
	ConnectionID  string `json:"connectionId"`
	PlayerID      string `json:"playerId,omitempty"`
	Authenticated bool   `json:"authenticated"`
}

// MoveMadePayload is broadcast after every accepted move
type MoveMadePayload struct {
	Move        rules.Move `json:"move"`
	SessionView game.View  `json:"sessionView"`
}

// GameEndedPayload is broadcast once per game
type GameEndedPayload struct {
	Result      *game.Result `json:"result"`
	SessionView game.View    `json:"sessionView"`
}

// SessionViewPayload carries a full snapshot
type SessionViewPayload struct {
	SessionView game.View `json:"sessionView"`
}

// ByPayload names the color behind an offer or decline
type ByPayload struct {
	SessionID string      `json:"sessionId"`
	By        chess.Color `json:"by"`
}

// TakebackRequestedPayload announces a pending takeback
type TakebackRequestedPayload struct {
	SessionID string      `json:"sessionId"`
	By        chess.Color `json:"by"`
	MoveCount int         `json:"moveCount"`
}

// MatchFoundPayload tells both matched players their game
type MatchFoundPayload struct {
	SessionID   string    `json:"sessionId"`
	SessionView game.View `json:"sessionView"`
}

// SessionPresencePayload reports an opponent leaving or returning
type SessionPresencePayload struct {
	SessionID string `json:"sessionId"`
}

// ErrorPayload is sent only to the connection whose request failed
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// QueueJoinedPayload confirms a player is waiting for an opponent
type QueueJoinedPayload struct {
	Preferences matchmaking.Preferences `json:"preferences"`
}

// QueueLeftPayload reports whether a waiting entry was removed
type QueueLeftPayload struct {
	Removed bool `json:"removed"`
}
