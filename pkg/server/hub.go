// Package server is the realtime gateway: it turns client messages into
// registry and queue calls and fans registry events out to game rooms.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tecu23/arena-server/pkg/engine"
	"github.com/tecu23/arena-server/pkg/events"
	"github.com/tecu23/arena-server/pkg/game"
	"github.com/tecu23/arena-server/pkg/manager"
	"github.com/tecu23/arena-server/pkg/matchmaking"
	"github.com/tecu23/arena-server/pkg/messages"
	"github.com/tecu23/arena-server/pkg/repository"
)

const (
	notifyBuffer  = 1024
	ratingTimeout = 2 * time.Second
)

var (
	errBadPayload        = errors.New("invalid payload")
	errDrawOfferRejected = errors.New("a draw cannot be offered in this game now")
)

// roomRequest subscribes a connection to a game room or removes it
type roomRequest struct {
	conn      *Connection
	sessionID string
	join      bool
	reply     string // game-state or match-found, sent with the view once joined
}

type handler struct {
	fn     func(*Connection, json.RawMessage) error
	public bool // allowed for anonymous connections
}

// Hub keeps track of all active connections and the game rooms they watch.
// The Run goroutine is the only writer of its maps; registry events reach it
// through notify, in publish order.
type Hub struct {
	mu          sync.RWMutex                    // guards the maps for readers outside Run
	connections map[*Connection]bool            // Registered connections
	rooms       map[string]map[*Connection]bool // session id -> watchers
	players     map[string]map[*Connection]bool // player id -> connections

	register   chan *Connection                    // Incoming registration
	unregister chan *Connection                    // Incoming unregistration
	membership chan roomRequest                    // Room joins and leaves
	matches    chan matchmaking.Match[*Connection] // Pairs to announce
	notify     chan events.Event                   // Registry events to fan out

	done     chan struct{}
	stopped  chan struct{}
	running  atomic.Bool
	stopOnce sync.Once
	wg       sync.WaitGroup

	// presence is the connected state last reported to the registry per player
	presenceMu sync.Mutex
	presence   map[string]bool

	// seats holds the connection waiting for each player's next engine game
	engineMu sync.Mutex
	seatMu   sync.Mutex
	seats    map[string]*Connection

	handlers map[string]handler

	manager *manager.Manager
	queue   *matchmaking.Queue[*Connection]
	ratings repository.RatingStore
	logger  *zap.Logger
}

// NewHub creates a hub and subscribes it to the registry events it
// broadcasts. ratings may be nil, in which case token ratings are used as is.
func NewHub(
	m *manager.Manager,
	queue *matchmaking.Queue[*Connection],
	publisher *events.Publisher,
	ratings repository.RatingStore,
	logger *zap.Logger,
) *Hub {
	h := &Hub{
		connections: make(map[*Connection]bool),
		rooms:       make(map[string]map[*Connection]bool),
		players:     make(map[string]map[*Connection]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		membership:  make(chan roomRequest),
		matches:     make(chan matchmaking.Match[*Connection]),
		notify:      make(chan events.Event, notifyBuffer),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
		presence:    make(map[string]bool),
		seats:       make(map[string]*Connection),
		manager:     m,
		queue:       queue,
		ratings:     ratings,
		logger:      logger,
	}

	h.handlers = map[string]handler{
		messages.SpectateGame:    {fn: h.handleSpectate, public: true},
		messages.JoinRoom:        {fn: h.handleSpectate, public: true},
		messages.LeaveRoom:       {fn: h.handleLeaveRoom, public: true},
		messages.MakeMove:        {fn: h.handleMakeMove},
		messages.OfferDraw:       {fn: h.handleOfferDraw},
		messages.AcceptDraw:      {fn: sessionCall(m.AcceptDraw)},
		messages.DeclineDraw:     {fn: sessionCall(m.DeclineDraw)},
		messages.Resign:          {fn: sessionCall(m.Resign)},
		messages.RequestTakeback: {fn: sessionCall(m.RequestTakeback)},
		messages.AcceptTakeback:  {fn: sessionCall(m.AcceptTakeback)},
		messages.DeclineTakeback: {fn: sessionCall(m.DeclineTakeback)},
		messages.ClaimTimeout:    {fn: sessionCall(m.ClaimTimeout)},
		messages.FindMatch:       {fn: h.handleFindMatch},
		messages.CancelFindMatch: {fn: h.handleCancelFindMatch},
		messages.PlayEngine:      {fn: h.handlePlayEngine},
	}

	for _, t := range []events.EventType{
		events.EventGameCreated,
		events.EventMoveMade,
		events.EventGameFinished,
		events.EventDrawOffered,
		events.EventDrawDeclined,
		events.EventTakebackRequested,
		events.EventTakebackAccepted,
		events.EventTakebackDeclined,
		events.EventPlayerDisconnected,
		events.EventPlayerReconnected,
	} {
		publisher.Subscribe(t, h.enqueue)
	}

	return h
}

// Run is the main execution of the hub
func (h *Hub) Run() {
	h.running.Store(true)
	defer close(h.stopped)

	for {
		select {
		case conn := <-h.register:
			h.registerConnection(conn)

		case conn := <-h.unregister:
			h.unregisterConnection(conn)

		case req := <-h.membership:
			h.applyMembership(req)

		case match := <-h.matches:
			h.announce(match)

		case e := <-h.notify:
			h.handleEvent(e)

		case <-h.done:
			h.closeAll()
			return
		}
	}
}

// Register adds a connection. It must be called before the connection's pumps start.
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
		conn.close()
	}
}

// Unregister removes a connection and closes its send channel
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Shutdown stops the hub and closes every connection
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() {
		close(h.done)
		if h.running.Load() {
			<-h.stopped
		}
		h.wg.Wait()
		h.logger.Info("hub stopped")
	})
}

// ConnectionCount returns the number of open connections
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// RoomSize returns the number of connections watching a game
func (h *Hub) RoomSize(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

func (h *Hub) online(playerID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.players[playerID]) > 0
}

func (h *Hub) enqueue(e events.Event) {
	select {
	case h.notify <- e:
	case <-h.done:
	}
}

func (h *Hub) registerConnection(conn *Connection) {
	h.mu.Lock()
	h.connections[conn] = true
	playerID := conn.Identity.PlayerID
	if playerID != "" {
		if h.players[playerID] == nil {
			h.players[playerID] = make(map[*Connection]bool)
		}
		h.players[playerID][conn] = true
	}
	total := len(h.connections)
	h.mu.Unlock()

	conn.logger.Debug("connection registered", zap.Int("connections", total))

	conn.Send(messages.Connected, messages.ConnectedPayload{
		ConnectionID:  conn.ID.String(),
		PlayerID:      playerID,
		Authenticated: conn.Authenticated(),
	})

	if playerID == "" {
		return
	}

	// A returning player picks up every game still in progress
	for _, id := range h.manager.SessionsFor(playerID) {
		view, ok := h.manager.GetGame(id)
		if !ok || view.Status != game.StatusPlaying {
			continue
		}
		h.joinRoom(conn, id)
		conn.Send(messages.GameState, messages.SessionViewPayload{SessionView: view})
	}

	h.background(func() { h.syncPresence(playerID) })
}

func (h *Hub) unregisterConnection(conn *Connection) {
	h.mu.Lock()
	if _, ok := h.connections[conn]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.connections, conn)
	for id := range conn.rooms {
		h.removeFromRoom(conn, id)
	}
	playerID := conn.Identity.PlayerID
	if conns, ok := h.players[playerID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.players, playerID)
		}
	}
	total := len(h.connections)
	h.mu.Unlock()

	conn.close()
	conn.logger.Debug("connection unregistered", zap.Int("connections", total))

	if playerID != "" {
		h.background(func() { h.syncPresence(playerID) })
	}
}

// syncPresence reports a player's connected state to the registry when it
// differs from what was last reported. Players start out connected.
func (h *Hub) syncPresence(playerID string) {
	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()

	online := h.online(playerID)
	reported, known := h.presence[playerID]
	if !known {
		reported = true
	}
	if reported == online {
		return
	}

	if online {
		delete(h.presence, playerID)
		h.manager.HandlePlayerReconnect(playerID)
		return
	}

	h.presence[playerID] = false
	if h.queue.Cancel(playerID) {
		h.logger.Debug("removed disconnected player from queue", zap.String("player_id", playerID))
	}
	h.manager.HandlePlayerDisconnect(playerID)
}

func (h *Hub) background(fn func()) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		fn()
	}()
}

func (h *Hub) requestMembership(req roomRequest) {
	select {
	case h.membership <- req:
	case <-h.done:
	}
}

func (h *Hub) applyMembership(req roomRequest) {
	h.mu.RLock()
	_, ok := h.connections[req.conn]
	h.mu.RUnlock()
	if !ok {
		return
	}

	if !req.join {
		h.leaveRoom(req.conn, req.sessionID)
		req.conn.Send(messages.RoomLeft, messages.SessionPresencePayload{SessionID: req.sessionID})
		return
	}

	h.joinRoom(req.conn, req.sessionID)
	if req.reply == "" {
		return
	}

	view, ok := h.manager.GetGame(req.sessionID)
	if !ok {
		return
	}
	if req.reply == messages.MatchFound {
		req.conn.Send(messages.MatchFound, messages.MatchFoundPayload{SessionID: view.ID, SessionView: view})
		return
	}
	req.conn.Send(messages.GameState, messages.SessionViewPayload{SessionView: view})
}

// announce subscribes both matched connections to the new room and tells
// them their game. Nobody knows the session id before this, so no event of
// the game can have been broadcast yet.
func (h *Hub) announce(match matchmaking.Match[*Connection]) {
	view, ok := h.manager.GetGame(match.SessionID)
	if !ok {
		return
	}

	for _, conn := range []*Connection{match.Waiting.Conn, match.Joining.Conn} {
		if conn == nil || !h.connections[conn] {
			continue
		}
		h.joinRoom(conn, view.ID)
		conn.Send(messages.MatchFound, messages.MatchFoundPayload{SessionID: view.ID, SessionView: view})
	}
}

func (h *Hub) seat(playerID string, conn *Connection) {
	h.seatMu.Lock()
	defer h.seatMu.Unlock()
	if conn == nil {
		delete(h.seats, playerID)
		return
	}
	h.seats[playerID] = conn
}

func (h *Hub) takeSeat(playerID string) *Connection {
	h.seatMu.Lock()
	defer h.seatMu.Unlock()
	conn := h.seats[playerID]
	delete(h.seats, playerID)
	return conn
}

func (h *Hub) joinRoom(conn *Connection, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[sessionID] == nil {
		h.rooms[sessionID] = make(map[*Connection]bool)
	}
	h.rooms[sessionID][conn] = true
	conn.rooms[sessionID] = true
}

func (h *Hub) leaveRoom(conn *Connection, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeFromRoom(conn, sessionID)
}

// removeFromRoom expects h.mu to be held
func (h *Hub) removeFromRoom(conn *Connection, sessionID string) {
	delete(conn.rooms, sessionID)
	if room, ok := h.rooms[sessionID]; ok {
		delete(room, conn)
		if len(room) == 0 {
			delete(h.rooms, sessionID)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.connections {
		conn.close()
	}
	h.connections = make(map[*Connection]bool)
	h.rooms = make(map[string]map[*Connection]bool)
	h.players = make(map[string]map[*Connection]bool)
}

// handleEvent turns a registry event into outbound messages. Runs on the hub goroutine.
func (h *Hub) handleEvent(e events.Event) {
	switch e.Type {
	case events.EventGameCreated:
		view, ok := e.Payload.(game.View)
		if !ok {
			return
		}
		// queue matches are announced by announce; an engine game goes to
		// the connection seated for it
		human := engineOpponent(view)
		if human == nil {
			return
		}
		if conn := h.takeSeat(human.ID); conn != nil && h.connections[conn] {
			h.joinRoom(conn, view.ID)
			conn.Send(messages.MatchFound, messages.MatchFoundPayload{SessionID: view.ID, SessionView: view})
		}

	case events.EventMoveMade:
		if outcome, ok := e.Payload.(manager.MoveOutcome); ok {
			h.broadcast(e.GameID, "", messages.MoveMade, messages.MoveMadePayload{
				Move:        outcome.Move,
				SessionView: outcome.View,
			})
		}

	case events.EventGameFinished:
		if view, ok := e.Payload.(game.View); ok {
			h.broadcast(e.GameID, "", messages.GameEnded, messages.GameEndedPayload{
				Result:      view.Result,
				SessionView: view,
			})
		}

	case events.EventTakebackAccepted:
		if view, ok := e.Payload.(game.View); ok {
			h.broadcast(e.GameID, "", messages.TakebackAccepted, messages.SessionViewPayload{SessionView: view})
		}

	case events.EventDrawOffered, events.EventDrawDeclined, events.EventTakebackDeclined:
		notice, ok := e.Payload.(manager.Notice)
		if !ok {
			return
		}
		payload := messages.ByPayload{SessionID: e.GameID, By: notice.Color}
		switch e.Type {
		case events.EventDrawOffered:
			h.broadcast(e.GameID, notice.PlayerID, messages.DrawOffered, payload)
		case events.EventDrawDeclined:
			h.broadcast(e.GameID, "", messages.DrawDeclined, payload)
		default:
			h.broadcast(e.GameID, "", messages.TakebackDeclined, payload)
		}

	case events.EventTakebackRequested:
		notice, ok := e.Payload.(manager.Notice)
		if !ok || notice.Takeback == nil {
			return
		}
		h.broadcast(e.GameID, notice.PlayerID, messages.TakebackRequested, messages.TakebackRequestedPayload{
			SessionID: e.GameID,
			By:        notice.Color,
			MoveCount: notice.Takeback.MoveCount,
		})

	case events.EventPlayerDisconnected, events.EventPlayerReconnected:
		notice, ok := e.Payload.(manager.Notice)
		if !ok {
			return
		}
		opp, ok := h.manager.Opponent(e.GameID, notice.PlayerID)
		if !ok {
			return
		}
		event := messages.OpponentDisconnected
		if e.Type == events.EventPlayerReconnected {
			event = messages.OpponentReconnected
		}
		for conn := range h.players[opp.ID] {
			conn.Send(event, messages.SessionPresencePayload{SessionID: e.GameID})
		}
	}
}

// engineOpponent returns the human of a game against the engine, nil otherwise
func engineOpponent(view game.View) *game.PlayerRef {
	white, black := view.Players.White, view.Players.Black
	switch {
	case white == nil || black == nil:
		return nil
	case white.Bot != "" && black.Bot == "":
		return black
	case white.Bot == "" && black.Bot != "":
		return white
	}
	return nil
}

// broadcast sends to every connection in the room except those of skipPlayer
func (h *Hub) broadcast(sessionID, skipPlayer, event string, payload interface{}) {
	room := h.rooms[sessionID]
	if len(room) == 0 {
		return
	}

	data, err := json.Marshal(messages.OutboundMessage{Event: event, Payload: payload})
	if err != nil {
		h.logger.Error("error marshaling broadcast", zap.String("event", event), zap.Error(err))
		return
	}

	for conn := range room {
		if skipPlayer != "" && conn.Identity.PlayerID == skipPlayer {
			continue
		}
		conn.sendRaw(data)
	}
}

// Dispatch handles one inbound message. It runs on the sender's read
// goroutine; broadcasts follow from the registry events the call publishes.
func (h *Hub) Dispatch(conn *Connection, msg messages.InboundMessage) {
	hd, ok := h.handlers[msg.Type]
	if !ok {
		conn.SendError(fmt.Sprintf("unknown message type %q", msg.Type), messages.CodeBadRequest)
		return
	}

	if !hd.public && !conn.Authenticated() {
		conn.SendError("authentication required", messages.CodeAuth)
		return
	}

	if err := hd.fn(conn, msg.Payload); err != nil {
		conn.logger.Debug("request failed", zap.String("type", msg.Type), zap.Error(err))
		conn.SendError(err.Error(), errorCode(err))
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, errBadPayload), errors.Is(err, matchmaking.ErrNoPlayerID):
		return messages.CodeBadRequest
	case errors.Is(err, game.ErrNotFound):
		return messages.CodeNotFound
	default:
		return messages.CodeRejected
	}
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, fmt.Errorf("%w: missing payload", errBadPayload)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: %v", errBadPayload, err)
	}
	return v, nil
}

func decodeSession(raw json.RawMessage) (string, error) {
	p, err := decode[messages.SessionPayload](raw)
	if err != nil {
		return "", err
	}
	if p.SessionID == "" {
		return "", fmt.Errorf("%w: sessionId is required", errBadPayload)
	}
	return p.SessionID, nil
}

func (h *Hub) handleSpectate(conn *Connection, raw json.RawMessage) error {
	id, err := decodeSession(raw)
	if err != nil {
		return err
	}
	if _, ok := h.manager.GetGame(id); !ok {
		return game.ErrNotFound
	}

	h.requestMembership(roomRequest{conn: conn, sessionID: id, join: true, reply: messages.GameState})
	return nil
}

func (h *Hub) handleLeaveRoom(conn *Connection, raw json.RawMessage) error {
	id, err := decodeSession(raw)
	if err != nil {
		return err
	}

	h.requestMembership(roomRequest{conn: conn, sessionID: id})
	return nil
}

func (h *Hub) handleMakeMove(conn *Connection, raw json.RawMessage) error {
	p, err := decode[messages.MakeMovePayload](raw)
	if err != nil {
		return err
	}
	if p.SessionID == "" || p.From == "" || p.To == "" {
		return fmt.Errorf("%w: sessionId, from and to are required", errBadPayload)
	}

	_, err = h.manager.MakeMove(p.SessionID, conn.Identity.PlayerID, p.From, p.To, p.Promotion)
	return err
}

func (h *Hub) handleOfferDraw(conn *Connection, raw json.RawMessage) error {
	id, err := decodeSession(raw)
	if err != nil {
		return err
	}
	if _, ok := h.manager.GetGame(id); !ok {
		return game.ErrNotFound
	}

	if !h.manager.OfferDraw(id, conn.Identity.PlayerID) {
		return errDrawOfferRejected
	}
	return nil
}

// sessionCall adapts a registry call that only needs the session and the
// caller into a handler
func sessionCall[T any](call func(id, playerID string) (T, error)) func(*Connection, json.RawMessage) error {
	return func(conn *Connection, raw json.RawMessage) error {
		id, err := decodeSession(raw)
		if err != nil {
			return err
		}
		_, err = call(id, conn.Identity.PlayerID)
		return err
	}
}

// handleFindMatch queues the caller. On a match both queued connections are
// handed to the hub goroutine, which subscribes them and sends match-found.
func (h *Hub) handleFindMatch(conn *Connection, raw json.RawMessage) error {
	p := messages.FindMatchPayload{}
	if len(raw) > 0 {
		var err error
		if p, err = decode[messages.FindMatchPayload](raw); err != nil {
			return err
		}
	}
	if tc := p.Preferences.TimeControl; tc != nil && (tc.Initial <= 0 || tc.Increment < 0) {
		return fmt.Errorf("%w: invalid time control", errBadPayload)
	}

	match, err := h.queue.Enqueue(h.player(conn), conn, p.Preferences)
	if err != nil {
		return err
	}
	if match == nil {
		conn.Send(messages.QueueJoined, messages.QueueJoinedPayload{Preferences: p.Preferences})
		return nil
	}

	select {
	case h.matches <- *match:
	case <-h.done:
	}
	return nil
}

func (h *Hub) handleCancelFindMatch(conn *Connection, _ json.RawMessage) error {
	removed := h.queue.Cancel(conn.Identity.PlayerID)
	conn.Send(messages.QueueLeft, messages.QueueLeftPayload{Removed: removed})
	return nil
}

func (h *Hub) handlePlayEngine(conn *Connection, raw json.RawMessage) error {
	p := messages.PlayEnginePayload{}
	if len(raw) > 0 {
		var err error
		if p, err = decode[messages.PlayEnginePayload](raw); err != nil {
			return err
		}
	}
	if tc := p.TimeControl; tc != nil && (tc.Initial <= 0 || tc.Increment < 0) {
		return fmt.Errorf("%w: invalid time control", errBadPayload)
	}

	human := game.Participant{ID: conn.Identity.PlayerID, Username: conn.Identity.Username}
	bot := manager.NewBotParticipant(engine.ParseDifficulty(p.Difficulty))

	// one engine game per player at a time, so the seat goes to the right game
	h.engineMu.Lock()
	defer h.engineMu.Unlock()

	h.seat(human.ID, conn)
	_, err := h.manager.CreateGame(human, bot, game.Settings{
		TimeControl:     p.TimeControl,
		Rated:           false,
		AllowTakebacks:  true,
		AllowDrawOffers: false,
	})
	if err != nil {
		h.seat(human.ID, nil)
	}
	return err
}

// player builds the queue entry for a connection, reading the stored rating
// when the token carries none
func (h *Hub) player(conn *Connection) matchmaking.Player {
	p := matchmaking.Player{
		ID:       conn.Identity.PlayerID,
		Username: conn.Identity.Username,
		Rating:   conn.Identity.Rating,
	}
	if p.Rating > 0 || h.ratings == nil {
		return p
	}

	ctx, cancel := context.WithTimeout(context.Background(), ratingTimeout)
	defer cancel()

	rating, err := h.ratings.Rating(ctx, p.ID)
	if err != nil {
		h.logger.Warn("rating lookup failed", zap.String("player_id", p.ID), zap.Error(err))
		return p
	}
	p.Rating = rating
	return p
}
