// Package rules adapts github.com/corentings/chess/v2 to the contract the
// session engine consumes: legality, move application and terminal detection.
package rules

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/tecu23/arena-server/pkg/chess"
)

// ErrIllegalMove is returned when a candidate move is not legal in the position
var ErrIllegalMove = errors.New("illegal move")

// StartFEN is the standard starting position
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Engine is the rules collaborator used by the session registry
type Engine interface {
	InitialPosition() *Position
	PositionFromFEN(fen string) (*Position, error)
	LegalDestinations(pos *Position, square string) []string
	LegalMoves(pos *Position) []string
	ApplyMove(pos *Position, from, to, promotion string) (Applied, error)
	Rewind(pos *Position, plies int) error
	Serialize(pos *Position) string
	SideToMove(pos *Position) chess.Color
	Status(pos *Position) (isCheck, isCheckmate, isDraw bool)
}

// Move describes an applied move
type Move struct {
	From      string      `json:"from"`
	To        string      `json:"to"`
	Promotion string      `json:"promotion,omitempty"`
	SAN       string      `json:"san"`
	UCI       string      `json:"uci"`
	Color     chess.Color `json:"color"`
	Ply       int         `json:"ply"`
}

// Applied is the outcome of a legal move
type Applied struct {
	Move                   Move
	IsCheck                bool
	IsCheckmate            bool
	IsStalemate            bool
	IsThreefoldRepetition  bool
	IsInsufficientMaterial bool
	IsFiftyMoveRule        bool
	SideToMove             chess.Color
}

// IsDraw reports whether any drawing condition holds
func (a Applied) IsDraw() bool {
	return a.IsStalemate || a.IsThreefoldRepetition || a.IsInsufficientMaterial || a.IsFiftyMoveRule
}

// Position is an opaque game position. It is owned by a single session and
// must only be used under that session's lock.
type Position struct {
	startFEN string
	game     *nchess.Game
	history  []Move
}

// Moves returns a copy of the moves played from the starting position
func (p *Position) Moves() []Move {
	out := make([]Move, len(p.history))
	copy(out, p.history)
	return out
}

// Ply returns the number of half-moves played
func (p *Position) Ply() int {
	return len(p.history)
}

// Standard implements Engine for orthodox chess
type Standard struct{}

// NewStandard creates the standard chess rules engine
func NewStandard() *Standard {
	return &Standard{}
}

// InitialPosition returns the standard starting position
func (s *Standard) InitialPosition() *Position {
	return &Position{startFEN: StartFEN, game: nchess.NewGame()}
}

// PositionFromFEN creates a position from a FEN string. An empty string or
// "startpos" yields the standard starting position.
func (s *Standard) PositionFromFEN(fen string) (*Position, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" {
		return s.InitialPosition(), nil
	}

	game, err := newGame(fen)
	if err != nil {
		return nil, err
	}

	return &Position{startFEN: fen, game: game}, nil
}

func newGame(fen string) (*nchess.Game, error) {
	if fen == StartFEN {
		return nchess.NewGame(), nil
	}

	option, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("invalid fen %q: %w", fen, err)
	}
	return nchess.NewGame(option), nil
}

// LegalDestinations lists the squares the piece on square may move to
func (s *Standard) LegalDestinations(pos *Position, square string) []string {
	square = strings.ToLower(square)
	seen := make(map[string]bool)
	var out []string

	for _, m := range pos.game.ValidMoves() {
		if m.S1().String() != square {
			continue
		}
		to := m.S2().String()
		if !seen[to] {
			seen[to] = true
			out = append(out, to)
		}
	}

	return out
}

// LegalMoves lists every legal move in UCI notation
func (s *Standard) LegalMoves(pos *Position) []string {
	valid := pos.game.ValidMoves()
	out := make([]string, 0, len(valid))
	for _, m := range valid {
		out = append(out, m.S1().String()+m.S2().String()+promoLetter(m.Promo()))
	}
	return out
}

// ApplyMove plays from-to on the position. When promotion is empty and the
// move promotes, a queen is chosen. Illegal moves leave pos untouched.
func (s *Standard) ApplyMove(pos *Position, from, to, promotion string) (Applied, error) {
	from, to = strings.ToLower(from), strings.ToLower(to)
	promotion = strings.ToLower(strings.TrimSpace(promotion))

	uci, ok := s.match(pos, from, to, promotion)
	if !ok {
		return Applied{}, fmt.Errorf("%w: %s%s%s", ErrIllegalMove, from, to, promotion)
	}

	mover := s.SideToMove(pos)
	before := pos.game.Position()

	if err := pos.game.PushNotationMove(uci, nchess.UCINotation{}, nil); err != nil {
		return Applied{}, fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}

	played := lastMove(pos.game)
	san := uci
	if played != nil {
		san = nchess.AlgebraicNotation{}.Encode(before, played)
	}

	move := Move{
		From:      from,
		To:        to,
		Promotion: strings.TrimPrefix(uci, from+to),
		SAN:       san,
		UCI:       uci,
		Color:     mover,
		Ply:       len(pos.history) + 1,
	}
	pos.history = append(pos.history, move)

	return s.evaluate(pos, move, played), nil
}

func (s *Standard) match(pos *Position, from, to, promotion string) (string, bool) {
	wanted := promotion
	if wanted == "" {
		wanted = "q"
	}

	for _, m := range pos.game.ValidMoves() {
		if m.S1().String() != from || m.S2().String() != to {
			continue
		}

		promo := promoLetter(m.Promo())
		if promo == "" || promo == wanted {
			return from + to + promo, true
		}
	}

	return "", false
}

func (s *Standard) evaluate(pos *Position, move Move, played *nchess.Move) Applied {
	game := pos.game
	applied := Applied{
		Move:       move,
		SideToMove: s.SideToMove(pos),
	}

	if played != nil {
		applied.IsCheck = played.HasTag(nchess.Check)
	}

	if game.Outcome() != nchess.NoOutcome {
		switch game.Method() {
		case nchess.Checkmate:
			applied.IsCheckmate = true
		case nchess.Stalemate:
			applied.IsStalemate = true
		case nchess.InsufficientMaterial:
			applied.IsInsufficientMaterial = true
		case nchess.FivefoldRepetition:
			applied.IsThreefoldRepetition = true
		case nchess.SeventyFiveMoveRule:
			applied.IsFiftyMoveRule = true
		}
	}

	for _, method := range game.EligibleDraws() {
		switch method {
		case nchess.ThreefoldRepetition:
			applied.IsThreefoldRepetition = true
		case nchess.FiftyMoveRule:
			applied.IsFiftyMoveRule = true
		}
	}

	return applied
}

// Rewind takes back the last plies half-moves by replaying the game from its
// starting position.
func (s *Standard) Rewind(pos *Position, plies int) error {
	if plies < 0 || plies > len(pos.history) {
		return fmt.Errorf("cannot rewind %d plies from %d", plies, len(pos.history))
	}

	game, err := newGame(pos.startFEN)
	if err != nil {
		return err
	}

	kept := pos.history[:len(pos.history)-plies]
	for _, m := range kept {
		if err := game.PushNotationMove(m.UCI, nchess.UCINotation{}, nil); err != nil {
			return fmt.Errorf("replay %s: %w", m.UCI, err)
		}
	}

	pos.game = game
	pos.history = append([]Move(nil), kept...)
	return nil
}

// Serialize returns the canonical FEN of the position
func (s *Standard) Serialize(pos *Position) string {
	return pos.game.FEN()
}

// SideToMove returns the color to move
func (s *Standard) SideToMove(pos *Position) chess.Color {
	if pos.game.Position().Turn() == nchess.White {
		return chess.White
	}
	return chess.Black
}

// Status reports check and draw flags for the current position
func (s *Standard) Status(pos *Position) (isCheck, isCheckmate, isDraw bool) {
	if played := lastMove(pos.game); played != nil {
		isCheck = played.HasTag(nchess.Check)
	}

	switch pos.game.Outcome() {
	case nchess.NoOutcome:
		isDraw = len(pos.game.EligibleDraws()) > 1
	case nchess.Draw:
		isDraw = true
	default:
		isCheckmate = pos.game.Method() == nchess.Checkmate
	}

	return isCheck, isCheckmate, isDraw
}

func lastMove(game *nchess.Game) *nchess.Move {
	moves := game.Moves()
	if len(moves) == 0 {
		return nil
	}
	return moves[len(moves)-1]
}

func promoLetter(pt nchess.PieceType) string {
	switch pt {
	case nchess.Queen:
		return "q"
	case nchess.Rook:
		return "r"
	case nchess.Bishop:
		return "b"
	case nchess.Knight:
		return "n"
	default:
		return ""
	}
}
