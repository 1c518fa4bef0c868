package manager

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tecu23/arena-server/pkg/engine"
	"github.com/tecu23/arena-server/pkg/events"
	"github.com/tecu23/arena-server/pkg/game"
)

// BotDriver plays the engine-controlled side of games. Searches run on their
// own goroutines; the chosen move re-enters the registry like any other move.
type BotDriver struct {
	manager   *Manager
	analyzer  engine.Analyzer
	publisher *events.Publisher
	logger    *zap.Logger

	pick func(n int) int
	wg   sync.WaitGroup
}

// NewBotDriver creates a driver. A nil analyzer makes every bot play random
// legal moves.
func NewBotDriver(m *Manager, analyzer engine.Analyzer, publisher *events.Publisher, logger *zap.Logger) *BotDriver {
	return &BotDriver{
		manager:   m,
		analyzer:  analyzer,
		publisher: publisher,
		logger:    logger,
		pick:      rand.IntN,
	}
}

// NewBotParticipant returns a participant played by the engine at difficulty d
func NewBotParticipant(d engine.Difficulty) game.Participant {
	return game.Participant{
		ID:       "engine-" + uuid.NewString(),
		Username: "Engine (" + string(d) + ")",
		Bot:      string(d),
	}
}

// Attach subscribes the driver to the events after which a bot may be on
// move. It listens as a catch-all subscriber, so every typed subscriber has
// seen an event before a bot reacts to it.
func (b *BotDriver) Attach() {
	b.publisher.SubscribeAll(func(e events.Event) {
		switch e.Type {
		case events.EventGameCreated, events.EventTakebackAccepted:
			if view, ok := e.Payload.(game.View); ok {
				b.consider(view)
			}
		case events.EventMoveMade:
			if outcome, ok := e.Payload.(MoveOutcome); ok {
				b.consider(outcome.View)
			}
		case events.EventTakebackRequested:
			b.onTakebackRequested(e)
		}
	})
}

// Wait blocks until every running search has finished
func (b *BotDriver) Wait() {
	b.wg.Wait()
}

func (b *BotDriver) consider(view game.View) {
	if view.Status != game.StatusPlaying {
		return
	}

	player := view.Players.Get(view.Turn)
	if player == nil || player.Bot == "" {
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.play(view, *player)
	}()
}

// Bots always grant takebacks
func (b *BotDriver) onTakebackRequested(e events.Event) {
	notice, ok := e.Payload.(Notice)
	if !ok || notice.Takeback == nil {
		return
	}

	opp, ok := b.manager.Opponent(e.GameID, notice.PlayerID)
	if !ok || opp.Bot == "" {
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if _, err := b.manager.AcceptTakeback(e.GameID, opp.ID); err != nil {
			b.logger.Debug("bot could not accept takeback", zap.String("session_id", e.GameID), zap.Error(err))
		}
	}()
}

func (b *BotDriver) play(view game.View, bot game.PlayerRef) {
	logger := b.logger.With(zap.String("session_id", view.ID), zap.String("bot", bot.ID))

	move := b.search(view, engine.ParseDifficulty(bot.Bot), logger)
	if move == "" {
		move = b.randomMove(view.FEN)
	}
	if move == "" {
		logger.Warn("no legal move for bot")
		return
	}

	outcome, err := b.submit(view, bot, move)
	if errors.Is(err, game.ErrInvalidMove) {
		logger.Warn("engine move rejected, playing a random move", zap.String("move", move))
		if fallback := b.randomMove(view.FEN); fallback != "" {
			outcome, err = b.submit(view, bot, fallback)
		}
	}
	if err != nil {
		// the game ended or moved on while the engine was thinking
		logger.Debug("bot move dropped", zap.Error(err))
		return
	}

	logger.Debug("bot moved", zap.String("move", outcome.Move.UCI))
}

func (b *BotDriver) search(view game.View, d engine.Difficulty, logger *zap.Logger) string {
	if b.analyzer == nil {
		return ""
	}

	settings := engine.SettingsFor(d)
	ctx, cancel := context.WithTimeout(context.Background(), settings.Timeout())
	defer cancel()

	move, err := b.analyzer.BestMove(ctx, view.FEN, settings)
	if err != nil {
		logger.Warn("engine search failed, falling back to a random move", zap.Error(err))
		return ""
	}
	return move
}

func (b *BotDriver) submit(view game.View, bot game.PlayerRef, uci string) (MoveOutcome, error) {
	from, to, promotion, ok := splitUCI(uci)
	if !ok {
		return MoveOutcome{}, game.ErrInvalidMove
	}
	return b.manager.makeMove(view.ID, bot.ID, from, to, promotion, view.FEN)
}

func (b *BotDriver) randomMove(fen string) string {
	rulesEngine := b.manager.Rules()
	pos, err := rulesEngine.PositionFromFEN(fen)
	if err != nil {
		return ""
	}

	moves := rulesEngine.LegalMoves(pos)
	if len(moves) == 0 {
		return ""
	}
	return moves[b.pick(len(moves))]
}

// splitUCI splits "e7e8q" into its squares and promotion piece
func splitUCI(uci string) (from, to, promotion string, ok bool) {
	if len(uci) != 4 && len(uci) != 5 {
		return "", "", "", false
	}
	return uci[0:2], uci[2:4], uci[4:], true
}
