package manager

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tecu23/arena-server/pkg/engine"
	"github.com/tecu23/arena-server/pkg/events"
	"github.com/tecu23/arena-server/pkg/game"
	"github.com/tecu23/arena-server/pkg/rules"
)

type fakeAnalyzer struct {
	move  string
	err   error
	calls atomic.Int32
	fens  chan string
}

func (f *fakeAnalyzer) BestMove(ctx context.Context, fen string, s engine.Settings) (string, error) {
	f.calls.Add(1)
	if f.fens != nil {
		f.fens <- fen
	}
	return f.move, f.err
}

func newBotFixture(t *testing.T, analyzer engine.Analyzer, humanWhite bool) (*fixture, *BotDriver) {
	t.Helper()

	f := newFixture(t)
	f.m = NewManager(rules.NewStandard(), f.pub, zap.NewNop(),
		WithClock(f.clock),
		WithCoinFlip(func() bool { return humanWhite }))

	driver := NewBotDriver(f.m, analyzer, f.pub, zap.NewNop())
	driver.pick = func(int) int { return 0 }
	driver.Attach()

	return f, driver
}

func TestBot_RepliesWithEngineMove(t *testing.T) {
	analyzer := &fakeAnalyzer{move: "e7e5", fens: make(chan string, 1)}
	f, driver := newBotFixture(t, analyzer, true)

	id, err := f.m.CreateGame(alice, NewBotParticipant(engine.Easy), game.Settings{})
	require.NoError(t, err)
	driver.Wait()
	assert.Equal(t, int32(0), analyzer.calls.Load())

	_, err = f.m.MakeMove(id, "alice", "e2", "e4", "")
	require.NoError(t, err)
	driver.Wait()

	assert.Contains(t, <-analyzer.fens, "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq")

	view, _ := f.m.GetGame(id)
	require.Len(t, view.Moves, 2)
	assert.Equal(t, "e7e5", view.Moves[1].UCI)
	assert.Equal(t, 1, f.events.count(events.EventEngineMoved))
}

func TestBot_MovesFirstAsWhite(t *testing.T) {
	analyzer := &fakeAnalyzer{move: "d2d4"}
	f, driver := newBotFixture(t, analyzer, false)

	id, err := f.m.CreateGame(alice, NewBotParticipant(engine.Hard), game.Settings{})
	require.NoError(t, err)
	driver.Wait()

	view, _ := f.m.GetGame(id)
	require.Len(t, view.Moves, 1)
	assert.Equal(t, "d4", view.Moves[0].SAN)
	assert.Equal(t, "alice", view.Players.Black.ID)
}

func TestBot_FallsBackToRandomMove(t *testing.T) {
	tests := []struct {
		name     string
		analyzer engine.Analyzer
	}{
		{"engine unavailable", &fakeAnalyzer{err: engine.ErrEngineUnavailable}},
		{"engine timeout", &fakeAnalyzer{err: engine.ErrEngineTimeout}},
		{"illegal engine move", &fakeAnalyzer{move: "e2e4"}},
		{"no engine", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, driver := newBotFixture(t, tt.analyzer, true)

			id, err := f.m.CreateGame(alice, NewBotParticipant(engine.Medium), game.Settings{})
			require.NoError(t, err)

			_, err = f.m.MakeMove(id, "alice", "e2", "e4", "")
			require.NoError(t, err)
			driver.Wait()

			view, _ := f.m.GetGame(id)
			require.Len(t, view.Moves, 2)
			assert.Equal(t, "alice", view.Players.White.ID)
			assert.Equal(t, view.Players.White.Color, view.Turn)
		})
	}
}

func TestBot_GrantsTakeback(t *testing.T) {
	analyzer := &fakeAnalyzer{move: "e7e5"}
	f, driver := newBotFixture(t, analyzer, true)

	id, err := f.m.CreateGame(alice, NewBotParticipant(engine.Easy), game.Settings{AllowTakebacks: true})
	require.NoError(t, err)

	_, err = f.m.MakeMove(id, "alice", "e2", "e4", "")
	require.NoError(t, err)
	driver.Wait()

	tb, err := f.m.RequestTakeback(id, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, tb.MoveCount)
	driver.Wait()

	view, _ := f.m.GetGame(id)
	assert.Empty(t, view.Moves)
	assert.Nil(t, view.PendingTakeback)
	assert.Equal(t, int32(1), analyzer.calls.Load())
}

func TestBot_IgnoresFinishedGames(t *testing.T) {
	analyzer := &fakeAnalyzer{move: "e7e5"}
	f, driver := newBotFixture(t, analyzer, true)

	id, err := f.m.CreateGame(alice, NewBotParticipant(engine.Easy), game.Settings{})
	require.NoError(t, err)
	_, err = f.m.Resign(id, "alice")
	require.NoError(t, err)
	driver.Wait()

	assert.Equal(t, int32(0), analyzer.calls.Load())
}

func TestSplitUCI(t *testing.T) {
	from, to, promo, ok := splitUCI("e7e8q")
	require.True(t, ok)
	assert.Equal(t, "e7", from)
	assert.Equal(t, "e8", to)
	assert.Equal(t, "q", promo)

	_, _, promo, ok = splitUCI("g1f3")
	assert.True(t, ok)
	assert.Empty(t, promo)

	_, _, _, ok = splitUCI("bad")
	assert.False(t, ok)
}
