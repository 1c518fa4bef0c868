// Package manager is the authoritative registry of game sessions. Every
// mutation of a session goes through a Manager method, under that session's
// lock, and the events of one session are published in the order their
// mutations were applied.
package manager

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/tecu23/arena-server/pkg/chess"
	"github.com/tecu23/arena-server/pkg/events"
	"github.com/tecu23/arena-server/pkg/game"
	"github.com/tecu23/arena-server/pkg/rules"
)

// errStaleMove is returned when a move was computed for an earlier position
var errStaleMove = errors.New("position changed since the move was computed")

// MoveOutcome is the result of an accepted move
type MoveOutcome struct {
	Move rules.Move `json:"move"`
	View game.View  `json:"sessionView"`
}

// Notice is the payload of offer, decline and presence events
type Notice struct {
	PlayerID string         `json:"playerId"`
	Color    chess.Color    `json:"color"`
	Takeback *game.Takeback `json:"takeback,omitempty"`
}

// Option configures a Manager
type Option func(*Manager)

// WithClock sets the time source
func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithCoinFlip sets the color assignment function. It returns true when the
// first player passed to CreateGame takes white.
func WithCoinFlip(f func() bool) Option {
	return func(m *Manager) { m.coinFlip = f }
}

// Manager owns all game sessions
type Manager struct {
	sessions map[string]*game.GameSession
	outboxes map[string]*outbox
	byPlayer map[string][]string
	mu       sync.RWMutex

	rules     rules.Engine
	clock     clockwork.Clock
	coinFlip  func() bool
	publisher *events.Publisher
	logger    *zap.Logger
}

// NewManager creates a new manager with in-memory storage
func NewManager(eng rules.Engine, publisher *events.Publisher, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		sessions:  make(map[string]*game.GameSession),
		outboxes:  make(map[string]*outbox),
		byPlayer:  make(map[string][]string),
		rules:     eng,
		clock:     clockwork.NewRealClock(),
		coinFlip:  func() bool { return rand.IntN(2) == 0 },
		publisher: publisher,
		logger:    logger,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Rules returns the rules engine used by the manager
func (m *Manager) Rules() rules.Engine {
	return m.rules
}

// CreateGame seats a and b on colors chosen by coin flip and starts the game
func (m *Manager) CreateGame(a, b game.Participant, settings game.Settings) (string, error) {
	if a.ID == "" || b.ID == "" {
		return "", errors.New("both players need an id")
	}
	if a.ID == b.ID {
		return "", errors.New("a player cannot play themselves")
	}

	pos, err := m.rules.PositionFromFEN(settings.StartFEN)
	if err != nil {
		return "", err
	}

	white, black := a, b
	if !m.coinFlip() {
		white, black = b, a
	}

	id := uuid.New().String()
	session := game.NewGameSession(id, white, black, settings, pos, m.clock.Now())

	m.mu.Lock()
	m.sessions[id] = session
	m.outboxes[id] = &outbox{}
	m.byPlayer[white.ID] = append(m.byPlayer[white.ID], id)
	m.byPlayer[black.ID] = append(m.byPlayer[black.ID], id)
	m.mu.Unlock()

	m.logger.Info("created new game session",
		zap.String("session_id", id),
		zap.String("white", white.ID),
		zap.String("black", black.ID))

	session.Lock()
	m.stage(events.EventGameCreated, id, game.NewView(session, m.rules))
	session.Unlock()
	m.flush(id)

	return id, nil
}

func (m *Manager) get(id string) (*game.GameSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", game.ErrNotFound, id)
	}
	return session, nil
}

// playing locks the session and checks that it is playing and that playerID
// sits at the board. On success the session is returned locked.
func (m *Manager) playing(id, playerID string) (*game.GameSession, chess.Color, error) {
	session, err := m.get(id)
	if err != nil {
		return nil, "", err
	}

	session.Lock()
	if !session.IsPlaying() {
		session.Unlock()
		return nil, "", game.ErrNotPlaying
	}

	color, ok := session.Players.ColorOf(playerID)
	if !ok {
		session.Unlock()
		return nil, "", game.ErrNotAParticipant
	}

	return session, color, nil
}

// MakeMove validates and applies a move by playerID
func (m *Manager) MakeMove(id, playerID, from, to, promotion string) (MoveOutcome, error) {
	return m.makeMove(id, playerID, from, to, promotion, "")
}

// makeMove applies a move. When expectedFEN is set the move is only applied
// if the board is still in that position.
func (m *Manager) makeMove(id, playerID, from, to, promotion, expectedFEN string) (MoveOutcome, error) {
	session, color, err := m.playing(id, playerID)
	if err != nil {
		return MoveOutcome{}, err
	}

	if expectedFEN != "" && m.rules.Serialize(session.Position) != expectedFEN {
		session.Unlock()
		return MoveOutcome{}, errStaleMove
	}

	if m.rules.SideToMove(session.Position) != color {
		session.Unlock()
		return MoveOutcome{}, game.ErrNotYourTurn
	}

	applied, err := m.rules.ApplyMove(session.Position, from, to, promotion)
	if err != nil {
		session.Unlock()
		return MoveOutcome{}, fmt.Errorf("%w: %s%s%s", game.ErrInvalidMove, from, to, promotion)
	}

	now := m.clock.Now()
	session.PendingTakeback = nil

	var result *game.Result
	if session.Timer != nil {
		if flagged := session.Timer.ApplyMove(color, session.Increment(), now); flagged != nil {
			result = game.WinBy(flagged.Opp(), game.ReasonTimeout,
				fmt.Sprintf("%s ran out of time", *flagged))
		}
	}
	if result == nil {
		result = terminalResult(applied)
	}

	finished := result != nil && session.Finish(result, now)
	outcome := MoveOutcome{Move: applied.Move, View: game.NewView(session, m.rules)}
	m.stage(events.EventMoveMade, id, outcome)
	if session.Players.Get(color).Bot != "" {
		m.stage(events.EventEngineMoved, id, outcome)
	}
	if finished {
		m.finished(outcome.View)
	}
	session.Unlock()
	m.flush(id)

	m.logger.Debug("move applied",
		zap.String("session_id", id),
		zap.String("move", applied.Move.UCI),
		zap.String("color", string(color)))

	return outcome, nil
}

// terminalResult maps the rules engine flags to a game result
func terminalResult(a rules.Applied) *game.Result {
	switch {
	case a.IsCheckmate:
		return game.WinBy(a.Move.Color, game.ReasonCheckmate,
			fmt.Sprintf("%s wins by checkmate", a.Move.Color))
	case a.IsStalemate:
		return game.DrawBy(game.ReasonStalemate, "Draw by stalemate")
	case a.IsThreefoldRepetition:
		return game.DrawBy(game.ReasonDraw, "Draw by threefold repetition")
	case a.IsInsufficientMaterial:
		return game.DrawBy(game.ReasonDraw, "Draw by insufficient material")
	case a.IsFiftyMoveRule:
		return game.DrawBy(game.ReasonDraw, "Draw by fifty-move rule")
	}
	return nil
}

// OfferDraw records a draw offer from playerID
func (m *Manager) OfferDraw(id, playerID string) bool {
	session, color, err := m.playing(id, playerID)
	if err != nil {
		return false
	}

	if !session.Settings.AllowDrawOffers {
		session.Unlock()
		return false
	}

	offer := color
	session.PendingDrawOffer = &offer
	m.stage(events.EventDrawOffered, id, Notice{PlayerID: playerID, Color: color})
	session.Unlock()
	m.flush(id)

	return true
}

// AcceptDraw finishes the game as a draw if the opponent of playerID offered one
func (m *Manager) AcceptDraw(id, playerID string) (game.View, error) {
	session, color, err := m.playing(id, playerID)
	if err != nil {
		return game.View{}, err
	}

	switch {
	case session.PendingDrawOffer == nil:
		session.Unlock()
		return game.View{}, game.ErrNoDrawOffer
	case *session.PendingDrawOffer == color:
		session.Unlock()
		return game.View{}, game.ErrOwnOffer
	}

	finished := session.Finish(game.DrawBy(game.ReasonDraw, "Draw by agreement"), m.clock.Now())
	view := game.NewView(session, m.rules)
	if finished {
		m.finished(view)
	}
	session.Unlock()
	m.flush(id)

	return view, nil
}

// DeclineDraw clears a pending draw offer. It reports whether one was pending.
func (m *Manager) DeclineDraw(id, playerID string) (bool, error) {
	session, color, err := m.playing(id, playerID)
	if err != nil {
		return false, err
	}

	declined := session.PendingDrawOffer != nil
	session.PendingDrawOffer = nil
	if declined {
		m.stage(events.EventDrawDeclined, id, Notice{PlayerID: playerID, Color: color})
	}
	session.Unlock()
	m.flush(id)

	return declined, nil
}

// RequestTakeback asks the opponent to undo the requester's last move
func (m *Manager) RequestTakeback(id, playerID string) (game.Takeback, error) {
	session, color, err := m.playing(id, playerID)
	if err != nil {
		return game.Takeback{}, err
	}

	tb, err := requestTakeback(session, color)
	if err != nil {
		session.Unlock()
		return game.Takeback{}, err
	}
	m.stage(events.EventTakebackRequested, id, Notice{PlayerID: playerID, Color: color, Takeback: &tb})
	session.Unlock()
	m.flush(id)

	return tb, nil
}

func requestTakeback(session *game.GameSession, color chess.Color) (game.Takeback, error) {
	if !session.Settings.AllowTakebacks {
		return game.Takeback{}, game.ErrTakebackNotAllowed
	}
	if session.PendingTakeback != nil {
		return game.Takeback{}, game.ErrTakebackPending
	}

	moves := session.Position.Moves()
	if len(moves) == 0 {
		return game.Takeback{}, game.ErrNothingToTakeBack
	}

	count := 2
	if moves[len(moves)-1].Color == color {
		count = 1
	}
	if len(moves) < count {
		return game.Takeback{}, game.ErrNothingToTakeBack
	}

	tb := game.Takeback{RequestedBy: color, MoveCount: count}
	session.PendingTakeback = &tb
	return tb, nil
}

// AcceptTakeback undoes the plies of the opponent's pending request
func (m *Manager) AcceptTakeback(id, playerID string) (game.View, error) {
	session, color, err := m.playing(id, playerID)
	if err != nil {
		return game.View{}, err
	}

	tb := session.PendingTakeback
	switch {
	case tb == nil:
		session.Unlock()
		return game.View{}, game.ErrNoTakeback
	case tb.RequestedBy == color:
		session.Unlock()
		return game.View{}, game.ErrOwnOffer
	}

	if err := m.rules.Rewind(session.Position, tb.MoveCount); err != nil {
		session.PendingTakeback = nil
		session.Unlock()
		return game.View{}, fmt.Errorf("%w: %v", game.ErrNothingToTakeBack, err)
	}

	session.PendingTakeback = nil
	if session.Timer != nil {
		session.Timer.ResetTurn(m.clock.Now())
	}
	view := game.NewView(session, m.rules)
	m.stage(events.EventTakebackAccepted, id, view)
	session.Unlock()
	m.flush(id)

	return view, nil
}

// DeclineTakeback clears a pending takeback. It reports whether one was pending.
func (m *Manager) DeclineTakeback(id, playerID string) (bool, error) {
	session, color, err := m.playing(id, playerID)
	if err != nil {
		return false, err
	}

	declined := session.PendingTakeback != nil
	session.PendingTakeback = nil
	if declined {
		m.stage(events.EventTakebackDeclined, id, Notice{PlayerID: playerID, Color: color})
	}
	session.Unlock()
	m.flush(id)

	return declined, nil
}

// Resign finishes the game with the opponent of playerID as the winner
func (m *Manager) Resign(id, playerID string) (game.View, error) {
	session, color, err := m.playing(id, playerID)
	if err != nil {
		return game.View{}, err
	}

	result := game.WinBy(color.Opp(), game.ReasonResignation, fmt.Sprintf("%s resigned", color))
	finished := session.Finish(result, m.clock.Now())
	view := game.NewView(session, m.rules)
	if finished {
		m.finished(view)
	}
	session.Unlock()
	m.flush(id)

	return view, nil
}

// ClaimTimeout finishes the game if the side to move has run out of time.
// Clocks are otherwise only checked when a move is made.
func (m *Manager) ClaimTimeout(id, playerID string) (game.View, error) {
	session, _, err := m.playing(id, playerID)
	if err != nil {
		return game.View{}, err
	}

	if session.Timer == nil {
		session.Unlock()
		return game.View{}, game.ErrNoClock
	}

	now := m.clock.Now()
	toMove := m.rules.SideToMove(session.Position)
	if session.Timer.Remaining(toMove, toMove, now) > 0 {
		session.Unlock()
		return game.View{}, game.ErrClockRunning
	}

	session.Timer.Flag(toMove)
	result := game.WinBy(toMove.Opp(), game.ReasonTimeout, fmt.Sprintf("%s ran out of time", toMove))
	finished := session.Finish(result, now)
	view := game.NewView(session, m.rules)
	if finished {
		m.finished(view)
	}
	session.Unlock()
	m.flush(id)

	return view, nil
}

// HandlePlayerDisconnect marks playerID as disconnected in every game still
// being played and returns those game ids. Games keep running.
func (m *Manager) HandlePlayerDisconnect(playerID string) []string {
	return m.setConnected(playerID, false, events.EventPlayerDisconnected)
}

// HandlePlayerReconnect marks playerID as connected again in every game still
// being played and returns those game ids
func (m *Manager) HandlePlayerReconnect(playerID string) []string {
	return m.setConnected(playerID, true, events.EventPlayerReconnected)
}

func (m *Manager) setConnected(playerID string, connected bool, evt events.EventType) []string {
	var affected []string

	for _, id := range m.SessionsFor(playerID) {
		session, err := m.get(id)
		if err != nil {
			continue
		}

		session.Lock()
		if session.IsPlaying() {
			if color, ok := session.Players.ColorOf(playerID); ok {
				session.Players.Get(color).Connected = connected
				affected = append(affected, id)
				m.stage(evt, id, Notice{PlayerID: playerID, Color: color})
			}
		}
		session.Unlock()
		m.flush(id)
	}

	return affected
}

// GetGame returns a snapshot of the game
func (m *Manager) GetGame(id string) (game.View, bool) {
	session, err := m.get(id)
	if err != nil {
		return game.View{}, false
	}

	session.Lock()
	defer session.Unlock()

	return game.NewView(session, m.rules), true
}

// SessionsFor returns the ids of every game playerID sits in
func (m *Manager) SessionsFor(playerID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]string(nil), m.byPlayer[playerID]...)
}

// Opponent returns the player facing playerID in a game
func (m *Manager) Opponent(id, playerID string) (game.PlayerRef, bool) {
	session, err := m.get(id)
	if err != nil {
		return game.PlayerRef{}, false
	}

	session.Lock()
	defer session.Unlock()

	color, ok := session.Players.ColorOf(playerID)
	if !ok {
		return game.PlayerRef{}, false
	}
	opp := session.Players.Get(color.Opp())
	if opp == nil {
		return game.PlayerRef{}, false
	}
	return *opp, true
}

// Count returns the number of games being played and the number held
func (m *Manager) Count() (active, total int) {
	m.mu.RLock()
	sessions := make([]*game.GameSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		s.Lock()
		if s.IsPlaying() {
			active++
		}
		s.Unlock()
	}
	return active, len(sessions)
}

// finished stages GAME_FINISHED. The session lock must be held.
func (m *Manager) finished(view game.View) {
	reason := ""
	if view.Result != nil {
		reason = string(view.Result.Reason)
	}
	m.logger.Info("game finished", zap.String("session_id", view.ID), zap.String("reason", reason))

	m.stage(events.EventGameFinished, view.ID, view)
}

// stage queues an event for the session. The session lock must be held so
// the queue order is the order the mutations were applied in.
func (m *Manager) stage(t events.EventType, id string, payload interface{}) {
	if box := m.outbox(id); box != nil {
		box.push(events.NewEvent(t, id, payload))
	}
}

// flush publishes the staged events of a session. It must be called without
// the session lock, since subscribers may call back into the manager.
func (m *Manager) flush(id string) {
	if box := m.outbox(id); box != nil {
		box.flush(m.publisher)
	}
}

func (m *Manager) outbox(id string) *outbox {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.outboxes[id]
}
