package room

import "errors"

var (
	ErrEmptyIdentity   = errors.New("player identity must not be empty")
	ErrSessionFull     = errors.New("session is full")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
	ErrNotParticipant  = errors.New("player is not a participant")

	ErrInvalidState = errors.New("game is not in progress")
	ErrOutOfRange   = errors.New("cell index out of range")
	ErrCellOccupied = errors.New("cell is already occupied")
	ErrNotYourTurn  = errors.New("not your turn")
)

// IsInvalidMove reports whether err is one of the move rejections. They are
// answered to the sender only and never affect the session.
func IsInvalidMove(err error) bool {
	return errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrOutOfRange) ||
		errors.Is(err, ErrCellOccupied) ||
		errors.Is(err, ErrNotYourTurn) ||
		errors.Is(err, ErrNotParticipant)
}
