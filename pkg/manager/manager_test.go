package manager

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tecu23/arena-server/pkg/chess"
	"github.com/tecu23/arena-server/pkg/events"
	"github.com/tecu23/arena-server/pkg/game"
	"github.com/tecu23/arena-server/pkg/rules"
)

var (
	alice = game.Participant{ID: "alice", Username: "Alice"}
	bob   = game.Participant{ID: "bob", Username: "Bob"}
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) handle(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recorder) count(t events.EventType) int {
	n := 0
	for _, got := range r.types() {
		if got == t {
			n++
		}
	}
	return n
}

type fixture struct {
	m      *Manager
	clock  *clockwork.FakeClock
	pub    *events.Publisher
	events *recorder
}

// newFixture builds a manager whose first participant always plays white
func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	pub := events.NewPublisher()
	rec := &recorder{}
	pub.SubscribeAll(rec.handle)

	m := NewManager(rules.NewStandard(), pub, zap.NewNop(),
		WithClock(clock),
		WithCoinFlip(func() bool { return true }))

	return &fixture{m: m, clock: clock, pub: pub, events: rec}
}

func (f *fixture) create(t *testing.T, settings game.Settings) string {
	t.Helper()
	id, err := f.m.CreateGame(alice, bob, settings)
	require.NoError(t, err)
	return id
}

func (f *fixture) play(t *testing.T, id string, moves ...string) MoveOutcome {
	t.Helper()
	var out MoveOutcome
	for i, mv := range moves {
		player := alice.ID
		if i%2 == 1 {
			player = bob.ID
		}
		var err error
		out, err = f.m.MakeMove(id, player, mv[0:2], mv[2:4], mv[4:])
		require.NoError(t, err, "move %d %s", i, mv)
	}
	return out
}

func timed(initial, increment int64) game.Settings {
	return game.Settings{
		TimeControl:     &chess.TimeControl{Initial: initial, Increment: increment},
		AllowDrawOffers: true,
		AllowTakebacks:  true,
	}
}

func TestCreateGame(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, timed(600, 5))

	view, ok := f.m.GetGame(id)
	require.True(t, ok)
	assert.Equal(t, game.StatusPlaying, view.Status)
	assert.Equal(t, "alice", view.Players.White.ID)
	assert.Equal(t, "bob", view.Players.Black.ID)
	assert.Equal(t, chess.White, view.Turn)
	assert.Equal(t, f.clock.Now(), view.CreatedAt)
	require.NotNil(t, view.StartedAt)
	require.NotNil(t, view.Timer)
	assert.True(t, view.Timer.IsRunning)
	assert.Nil(t, view.Timer.LastMoveTime)

	assert.Equal(t, []string{id}, f.m.SessionsFor("alice"))
	assert.Equal(t, []string{id}, f.m.SessionsFor("bob"))
	assert.Equal(t, []events.EventType{events.EventGameCreated}, f.events.types())
}

func TestCreateGame_CoinFlipAssignsColors(t *testing.T) {
	m := NewManager(rules.NewStandard(), events.NewPublisher(), zap.NewNop(),
		WithCoinFlip(func() bool { return false }))

	id, err := m.CreateGame(alice, bob, game.Settings{})
	require.NoError(t, err)

	view, _ := m.GetGame(id)
	assert.Equal(t, "bob", view.Players.White.ID)
	assert.Equal(t, "alice", view.Players.Black.ID)
	assert.Nil(t, view.Timer)
}

func TestCreateGame_Rejects(t *testing.T) {
	f := newFixture(t)

	_, err := f.m.CreateGame(alice, alice, game.Settings{})
	assert.Error(t, err)

	_, err = f.m.CreateGame(alice, bob, game.Settings{StartFEN: "not a fen"})
	assert.Error(t, err)
}

func TestMakeMove_Errors(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, timed(600, 5))

	_, err := f.m.MakeMove("missing", "alice", "e2", "e4", "")
	assert.ErrorIs(t, err, game.ErrNotFound)

	_, err = f.m.MakeMove(id, "mallory", "e2", "e4", "")
	assert.ErrorIs(t, err, game.ErrNotAParticipant)

	_, err = f.m.MakeMove(id, "bob", "e7", "e5", "")
	assert.ErrorIs(t, err, game.ErrNotYourTurn)

	_, err = f.m.MakeMove(id, "alice", "e2", "e5", "")
	assert.ErrorIs(t, err, game.ErrInvalidMove)

	view, _ := f.m.GetGame(id)
	assert.Empty(t, view.Moves)
	assert.Equal(t, chess.White, view.Turn)
	assert.Equal(t, 0, f.events.count(events.EventMoveMade))
}

func TestMakeMove_SideAlternates(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, game.Settings{})

	moves := []string{"e2e4", "e7e5", "g1f3", "b8c6", "f1b5", "a7a6"}
	turn := chess.White
	for i, mv := range moves {
		player := "alice"
		if i%2 == 1 {
			player = "bob"
		}
		out, err := f.m.MakeMove(id, player, mv[0:2], mv[2:4], "")
		require.NoError(t, err)
		assert.Equal(t, turn, out.Move.Color)
		assert.Equal(t, turn.Opp(), out.View.Turn)
		turn = turn.Opp()
	}

	assert.Equal(t, len(moves), f.events.count(events.EventMoveMade))
}

// first move: no previous move time, so nothing is debited
func TestMakeMove_FirstMoveStartsClock(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, timed(600, 5))

	f.clock.Advance(10 * time.Second)
	out := f.play(t, id, "e2e4")

	require.NotNil(t, out.View.Timer)
	assert.Equal(t, int64(600), out.View.Timer.WhiteTime)
	assert.Equal(t, int64(600), out.View.Timer.BlackTime)
	require.NotNil(t, out.View.Timer.LastMoveTime)
	assert.Equal(t, f.clock.Now(), *out.View.Timer.LastMoveTime)
}

func TestMakeMove_DebitsAndIncrements(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, timed(600, 5))

	f.play(t, id, "e2e4")
	f.clock.Advance(12*time.Second + 900*time.Millisecond)

	out, err := f.m.MakeMove(id, "bob", "e7", "e5", "")
	require.NoError(t, err)
	assert.Equal(t, int64(600-12+5), out.View.Timer.BlackTime)
	assert.Equal(t, int64(600), out.View.Timer.WhiteTime)
}

func TestMakeMove_FlagFinishesByTimeout(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, timed(600, 0))

	session, err := f.m.get(id)
	require.NoError(t, err)
	session.Lock()
	session.Timer.BlackTime = 1
	session.Unlock()

	f.play(t, id, "e2e4")
	f.clock.Advance(2 * time.Second)

	out, err := f.m.MakeMove(id, "bob", "e7", "e5", "")
	require.NoError(t, err)

	assert.Equal(t, game.StatusFinished, out.View.Status)
	require.NotNil(t, out.View.Result)
	assert.Equal(t, game.ReasonTimeout, out.View.Result.Reason)
	require.NotNil(t, out.View.Result.Winner)
	assert.Equal(t, chess.White, *out.View.Result.Winner)
	assert.Equal(t, int64(0), out.View.Timer.BlackTime)
	assert.False(t, out.View.Timer.IsRunning)

	assert.Equal(t, []events.EventType{
		events.EventGameCreated,
		events.EventMoveMade,
		events.EventMoveMade,
		events.EventGameFinished,
	}, f.events.types())

	_, err = f.m.MakeMove(id, "alice", "g1", "f3", "")
	assert.ErrorIs(t, err, game.ErrNotPlaying)
}

func TestClaimTimeout(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, timed(600, 0))

	_, err := f.m.ClaimTimeout(id, "alice")
	assert.ErrorIs(t, err, game.ErrClockRunning)

	session, err := f.m.get(id)
	require.NoError(t, err)
	session.Lock()
	session.Timer.BlackTime = 1
	session.Unlock()

	f.play(t, id, "e2e4")

	_, err = f.m.ClaimTimeout(id, "alice")
	assert.ErrorIs(t, err, game.ErrClockRunning)

	f.clock.Advance(2 * time.Second)
	view, err := f.m.ClaimTimeout(id, "alice")
	require.NoError(t, err)
	assert.Equal(t, game.StatusFinished, view.Status)
	assert.Equal(t, game.ReasonTimeout, view.Result.Reason)
	assert.Equal(t, chess.White, *view.Result.Winner)
	assert.Equal(t, int64(0), view.Timer.BlackTime)

	_, err = f.m.ClaimTimeout(id, "alice")
	assert.ErrorIs(t, err, game.ErrNotPlaying)
}

func TestClaimTimeout_Untimed(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, game.Settings{})

	_, err := f.m.ClaimTimeout(id, "alice")
	assert.ErrorIs(t, err, game.ErrNoClock)
}

func TestMakeMove_CheckmateWinnerIsMover(t *testing.T) {
	tests := []struct {
		name   string
		moves  []string
		winner chess.Color
	}{
		{"scholars mate", []string{"e2e4", "e7e5", "f1c4", "b8c6", "d1h5", "g8f6", "h5f7"}, chess.White},
		{"fools mate", []string{"f2f3", "e7e5", "g2g4", "d8h4"}, chess.Black},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			id := f.create(t, timed(600, 5))

			out := f.play(t, id, tt.moves...)

			assert.Equal(t, game.StatusFinished, out.View.Status)
			require.NotNil(t, out.View.Result)
			assert.Equal(t, game.ReasonCheckmate, out.View.Result.Reason)
			require.NotNil(t, out.View.Result.Winner)
			assert.Equal(t, tt.winner, *out.View.Result.Winner)
			assert.True(t, out.View.IsCheckmate)
			assert.Equal(t, 1, f.events.count(events.EventGameFinished))
		})
	}
}

func TestMakeMove_Stalemate(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, game.Settings{StartFEN: "k7/8/1Q6/8/8/8/8/7K w - - 0 1"})

	out, err := f.m.MakeMove(id, "alice", "b6", "c7", "")
	require.NoError(t, err)
	assert.Equal(t, game.StatusFinished, out.View.Status)
	assert.Equal(t, game.ReasonStalemate, out.View.Result.Reason)
	assert.Nil(t, out.View.Result.Winner)
}

func TestMakeMove_InsufficientMaterial(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, game.Settings{StartFEN: "8/8/8/8/8/8/1r6/K5k1 w - - 0 1"})

	out, err := f.m.MakeMove(id, "alice", "a1", "b2", "")
	require.NoError(t, err)
	assert.Equal(t, game.StatusFinished, out.View.Status)
	assert.Equal(t, game.ReasonDraw, out.View.Result.Reason)
	assert.Equal(t, "Draw by insufficient material", out.View.Result.Description)
}

func TestDrawOffer(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, timed(600, 5))

	assert.False(t, f.m.OfferDraw(id, "mallory"))
	assert.True(t, f.m.OfferDraw(id, "alice"))

	_, err := f.m.AcceptDraw(id, "alice")
	assert.ErrorIs(t, err, game.ErrOwnOffer)

	view, ok := f.m.GetGame(id)
	require.True(t, ok)
	assert.Equal(t, game.StatusPlaying, view.Status)
	require.NotNil(t, view.PendingDrawOffer)
	assert.Equal(t, chess.White, *view.PendingDrawOffer)

	view, err = f.m.AcceptDraw(id, "bob")
	require.NoError(t, err)
	assert.Equal(t, game.StatusFinished, view.Status)
	assert.Equal(t, game.ReasonDraw, view.Result.Reason)
	assert.Nil(t, view.Result.Winner)
	assert.Nil(t, view.PendingDrawOffer)
	assert.False(t, view.Timer.IsRunning)

	assert.False(t, f.m.OfferDraw(id, "alice"))
}

func TestDrawOffer_DisabledAndDeclined(t *testing.T) {
	f := newFixture(t)

	noDraws := f.create(t, game.Settings{})
	assert.False(t, f.m.OfferDraw(noDraws, "alice"))

	id := f.create(t, timed(600, 5))

	_, err := f.m.AcceptDraw(id, "bob")
	assert.ErrorIs(t, err, game.ErrNoDrawOffer)

	declined, err := f.m.DeclineDraw(id, "bob")
	require.NoError(t, err)
	assert.False(t, declined)

	require.True(t, f.m.OfferDraw(id, "alice"))
	declined, err = f.m.DeclineDraw(id, "bob")
	require.NoError(t, err)
	assert.True(t, declined)

	view, _ := f.m.GetGame(id)
	assert.Nil(t, view.PendingDrawOffer)
	assert.Equal(t, 1, f.events.count(events.EventDrawDeclined))
}

func TestResign(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, timed(600, 5))

	view, err := f.m.Resign(id, "bob")
	require.NoError(t, err)
	assert.Equal(t, game.StatusFinished, view.Status)
	assert.Equal(t, game.ReasonResignation, view.Result.Reason)
	assert.Equal(t, chess.White, *view.Result.Winner)
	assert.False(t, view.Timer.IsRunning)
	require.NotNil(t, view.FinishedAt)

	_, err = f.m.Resign(id, "bob")
	assert.ErrorIs(t, err, game.ErrNotPlaying)
	_, err = f.m.Resign(id, "alice")
	assert.ErrorIs(t, err, game.ErrNotPlaying)

	assert.Equal(t, 1, f.events.count(events.EventGameFinished))
}

func TestTakeback(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, timed(600, 5))

	_, err := f.m.RequestTakeback(id, "alice")
	assert.ErrorIs(t, err, game.ErrNothingToTakeBack)

	f.play(t, id, "e2e4", "e7e5", "g1f3")

	// white made the last move, one ply is undone
	tb, err := f.m.RequestTakeback(id, "alice")
	require.NoError(t, err)
	assert.Equal(t, game.Takeback{RequestedBy: chess.White, MoveCount: 1}, tb)

	_, err = f.m.RequestTakeback(id, "alice")
	assert.ErrorIs(t, err, game.ErrTakebackPending)

	_, err = f.m.AcceptTakeback(id, "alice")
	assert.ErrorIs(t, err, game.ErrOwnOffer)

	f.clock.Advance(3 * time.Second)
	view, err := f.m.AcceptTakeback(id, "bob")
	require.NoError(t, err)
	assert.Len(t, view.Moves, 2)
	assert.Equal(t, chess.White, view.Turn)
	assert.Nil(t, view.PendingTakeback)
	assert.Equal(t, f.clock.Now(), *view.Timer.LastMoveTime)

	// white asks while on move: black's reply and white's move both go
	tb, err = f.m.RequestTakeback(id, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, tb.MoveCount)

	view, err = f.m.AcceptTakeback(id, "bob")
	require.NoError(t, err)
	assert.Empty(t, view.Moves)
}

func TestTakeback_ClearedByMoveAndDecline(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, timed(600, 5))
	f.play(t, id, "e2e4")

	_, err := f.m.RequestTakeback(id, "alice")
	require.NoError(t, err)

	// a move by the opponent cancels the request
	_, err = f.m.MakeMove(id, "bob", "e7", "e5", "")
	require.NoError(t, err)
	_, err = f.m.AcceptTakeback(id, "bob")
	assert.ErrorIs(t, err, game.ErrNoTakeback)

	_, err = f.m.RequestTakeback(id, "bob")
	require.NoError(t, err)
	declined, err := f.m.DeclineTakeback(id, "alice")
	require.NoError(t, err)
	assert.True(t, declined)

	declined, err = f.m.DeclineTakeback(id, "alice")
	require.NoError(t, err)
	assert.False(t, declined)
}

func TestTakeback_NotAllowed(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, game.Settings{})
	f.play(t, id, "e2e4")

	_, err := f.m.RequestTakeback(id, "alice")
	assert.ErrorIs(t, err, game.ErrTakebackNotAllowed)
}

func TestDisconnectAndReconnect(t *testing.T) {
	f := newFixture(t)
	active := f.create(t, timed(600, 5))
	done := f.create(t, timed(600, 5))
	_, err := f.m.Resign(done, "alice")
	require.NoError(t, err)

	affected := f.m.HandlePlayerDisconnect("bob")
	assert.Equal(t, []string{active}, affected)

	view, _ := f.m.GetGame(active)
	assert.False(t, view.Players.Black.Connected)
	assert.True(t, view.Players.White.Connected)
	assert.Equal(t, game.StatusPlaying, view.Status)

	// disconnected players can still move
	f.play(t, active, "e2e4")
	_, err = f.m.MakeMove(active, "bob", "e7", "e5", "")
	require.NoError(t, err)

	assert.Equal(t, []string{active}, f.m.HandlePlayerReconnect("bob"))
	view, _ = f.m.GetGame(active)
	assert.True(t, view.Players.Black.Connected)

	assert.Empty(t, f.m.HandlePlayerDisconnect("nobody"))
	assert.Equal(t, 1, f.events.count(events.EventPlayerDisconnected))
	assert.Equal(t, 1, f.events.count(events.EventPlayerReconnected))
}

func TestOpponentAndCount(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, game.Settings{})
	f.create(t, game.Settings{})

	opp, ok := f.m.Opponent(id, "alice")
	require.True(t, ok)
	assert.Equal(t, "bob", opp.ID)
	assert.Equal(t, chess.Black, opp.Color)

	_, ok = f.m.Opponent(id, "mallory")
	assert.False(t, ok)

	_, err := f.m.Resign(id, "alice")
	require.NoError(t, err)

	active, total := f.m.Count()
	assert.Equal(t, 1, active)
	assert.Equal(t, 2, total)
}

func TestGetGame_ViewIsSnapshot(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, timed(600, 5))

	before, _ := f.m.GetGame(id)
	f.play(t, id, "e2e4")
	after, _ := f.m.GetGame(id)

	assert.Empty(t, before.Moves)
	assert.Len(t, after.Moves, 1)
	assert.Equal(t, "e4", after.Moves[0].SAN)

	_, ok := f.m.GetGame("missing")
	assert.False(t, ok)
}

func TestMakeMove_StaleMoveRejected(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, game.Settings{})
	start, _ := f.m.GetGame(id)
	f.play(t, id, "e2e4")

	_, err := f.m.makeMove(id, "bob", "e7", "e5", "", start.FEN)
	assert.ErrorIs(t, err, errStaleMove)

	current, _ := f.m.GetGame(id)
	_, err = f.m.makeMove(id, "bob", "e7", "e5", "", current.FEN)
	assert.NoError(t, err)
}

func TestMakeMove_StaleAfterTakebackAtSamePly(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, game.Settings{AllowTakebacks: true})
	f.play(t, id, "e2e4")
	searched, _ := f.m.GetGame(id)

	_, err := f.m.RequestTakeback(id, "alice")
	require.NoError(t, err)
	_, err = f.m.AcceptTakeback(id, "bob")
	require.NoError(t, err)
	f.play(t, id, "d2d4")

	replayed, _ := f.m.GetGame(id)
	require.Len(t, replayed.Moves, len(searched.Moves))

	_, err = f.m.makeMove(id, "bob", "e7", "e5", "", searched.FEN)
	assert.ErrorIs(t, err, errStaleMove)

	view, _ := f.m.GetGame(id)
	assert.Len(t, view.Moves, 1)
	assert.Equal(t, "d4", view.Moves[0].SAN)
}

func TestEventsFollowApplyOrder(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFixture(t)
		id := f.create(t, game.Settings{})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.m.MakeMove(id, "alice", "e2", "e4", "")
		}()
		go func() {
			defer wg.Done()
			_, _ = f.m.Resign(id, "bob")
		}()
		wg.Wait()

		types := f.events.types()
		require.NotEmpty(t, types)
		assert.Equal(t, events.EventGameFinished, types[len(types)-1], "round %d: %v", i, types)
	}
}

func TestSubscriberMayCallBack(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, timed(600, 0))

	f.pub.Subscribe(events.EventDrawOffered, func(e events.Event) {
		_, err := f.m.DeclineDraw(e.GameID, "bob")
		assert.NoError(t, err)
	})

	assert.True(t, f.m.OfferDraw(id, "alice"))

	assert.Equal(t, []events.EventType{
		events.EventGameCreated,
		events.EventDrawOffered,
		events.EventDrawDeclined,
	}, f.events.types())

	view, _ := f.m.GetGame(id)
	assert.Nil(t, view.PendingDrawOffer)
}

func TestConcurrentMovesApplyOnce(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, timed(600, 5))

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.m.MakeMove(id, "alice", "e2", "e4", "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
		}
	}
	assert.Equal(t, 1, ok)

	view, _ := f.m.GetGame(id)
	assert.Len(t, view.Moves, 1)
}
