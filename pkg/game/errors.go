package game

import "errors"

// Errors returned by session operations. All of them are per-request failures
// that leave the session untouched.
var (
	ErrNotFound           = errors.New("game not found")
	ErrNotPlaying         = errors.New("game is not in progress")
	ErrNotAParticipant    = errors.New("player not in this game")
	ErrNotYourTurn        = errors.New("not your turn")
	ErrInvalidMove        = errors.New("invalid move")
	ErrDrawNotAllowed     = errors.New("draw offers are disabled for this game")
	ErrNoDrawOffer        = errors.New("no draw offer to accept")
	ErrOwnOffer           = errors.New("cannot accept your own offer")
	ErrTakebackNotAllowed = errors.New("takebacks are disabled for this game")
	ErrTakebackPending    = errors.New("a takeback is already pending")
	ErrNoTakeback         = errors.New("no takeback request to accept")
	ErrNothingToTakeBack  = errors.New("no moves to take back")
	ErrNoClock            = errors.New("game has no clock")
	ErrClockRunning       = errors.New("opponent still has time")
)
