package game

import (
	"time"

	"github.com/tecu23/arena-server/pkg/chess"
	"github.com/tecu23/arena-server/pkg/rules"
)

// ViewVersion is bumped whenever View changes shape
const ViewVersion = 1

// View is a read-only snapshot of a session sent to clients. It shares no
// memory with the session it was built from.
type View struct {
	Version          int               `json:"v"`
	ID               string            `json:"id"`
	Players          Players           `json:"players"`
	Settings         Settings          `json:"settings"`
	FEN              string            `json:"fen"`
	Moves            []rules.Move      `json:"moves"`
	Status           Status            `json:"status"`
	Result           *Result           `json:"result,omitempty"`
	PendingDrawOffer *chess.Color      `json:"pendingDrawOffer,omitempty"`
	PendingTakeback  *Takeback         `json:"pendingTakeback,omitempty"`
	Timer            *chess.TimerState `json:"timer,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	StartedAt        *time.Time        `json:"startedAt,omitempty"`
	FinishedAt       *time.Time        `json:"finishedAt,omitempty"`
	Turn             chess.Color       `json:"turn"`
	IsCheck          bool              `json:"isCheck"`
	IsCheckmate      bool              `json:"isCheckmate"`
	IsDraw           bool              `json:"isDraw"`
}

// NewView snapshots s. The caller must hold the session lock.
func NewView(s *GameSession, eng rules.Engine) View {
	isCheck, isCheckmate, isDraw := eng.Status(s.Position)

	v := View{
		Version:     ViewVersion,
		ID:          s.ID,
		Players:     clonePlayers(s.Players),
		Settings:    cloneSettings(s.Settings),
		FEN:         eng.Serialize(s.Position),
		Moves:       s.Position.Moves(),
		Status:      s.Status,
		Timer:       s.Timer.Clone(),
		CreatedAt:   s.CreatedAt,
		StartedAt:   cloneTime(s.StartedAt),
		FinishedAt:  cloneTime(s.FinishedAt),
		Turn:        eng.SideToMove(s.Position),
		IsCheck:     isCheck,
		IsCheckmate: isCheckmate,
		IsDraw:      isDraw,
	}

	if s.Result != nil {
		r := *s.Result
		if s.Result.Winner != nil {
			r.Winner = winnerPtr(*s.Result.Winner)
		}
		v.Result = &r
	}
	if s.PendingDrawOffer != nil {
		c := *s.PendingDrawOffer
		v.PendingDrawOffer = &c
	}
	if s.PendingTakeback != nil {
		tb := *s.PendingTakeback
		v.PendingTakeback = &tb
	}

	return v
}

func clonePlayers(p Players) Players {
	out := Players{}
	if p.White != nil {
		w := *p.White
		out.White = &w
	}
	if p.Black != nil {
		b := *p.Black
		out.Black = &b
	}
	return out
}

func cloneSettings(s Settings) Settings {
	if s.TimeControl != nil {
		tc := *s.TimeControl
		s.TimeControl = &tc
	}
	return s
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
