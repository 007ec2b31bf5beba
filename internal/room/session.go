// Package room owns live tic-tac-toe sessions: the per-session state machine
// and the registry that maps session ids to sessions.
package room

import (
	"fmt"
	"sync"

	"github.com/Pranay-ai/tic-tac-toe-be/internal/conn"
	"github.com/Pranay-ai/tic-tac-toe-be/internal/game"
)

// Status of a session.
//
//	Ready -> InProgress -> Finished
//	           ^______________|  (Reset)
type Status string

const (
	StatusReady      Status = "ready"
	StatusInProgress Status = "in_progress"
	StatusFinished   Status = "finished"
)

// RematchPolicy decides who opens the next board after a reset.
type RematchPolicy string

const (
	// RematchKeep keeps symbol assignment; X opens again.
	RematchKeep RematchPolicy = "keep"
	// RematchSwap exchanges symbols between the participants; X still opens,
	// so the previous O player moves first.
	RematchSwap RematchPolicy = "swap"
)

func (p RematchPolicy) Valid() bool {
	return p == RematchKeep || p == RematchSwap
}

const maxParticipants = 2

type Participant struct {
	Identity string
	Symbol   game.Symbol
	Handle   conn.Handle
}

// Seat is the broadcastable part of a Participant.
type Seat struct {
	Identity string      `json:"identity"`
	Symbol   game.Symbol `json:"symbol"`
}

// State is an immutable snapshot of a session.
type State struct {
	ID      string
	Board   game.Board
	Turn    game.Symbol
	Status  Status
	Outcome game.Outcome
	Seats   []Seat
	// Game numbers each board started in this session, starting at 1.
	Game int
}

// SymbolOf returns the symbol held by identity.
func (s State) SymbolOf(identity string) (game.Symbol, bool) {
	for _, seat := range s.Seats {
		if seat.Identity == identity {
			return seat.Symbol, true
		}
	}
	return game.Empty, false
}

// Opponent returns the identity seated against identity, or "".
func (s State) Opponent(identity string) string {
	for _, seat := range s.Seats {
		if seat.Identity != identity {
			return seat.Identity
		}
	}
	return ""
}

type JoinResult struct {
	State  State
	Symbol game.Symbol
	// Started is set when this join seated the second participant and opened
	// a fresh board.
	Started bool
	// Replaced holds the previous handle when identity was already seated and
	// has been rebound to a new connection.
	Replaced conn.Handle
}

type LeaveResult struct {
	State State
	// Peer is the participant still seated, if any.
	Peer      *Participant
	Remaining int
	// Evicted is set by the registry when the session was removed.
	Evicted bool
}

// Session is one match between at most two participants. All methods are
// safe for concurrent use; mutations are linearized by mu.
type Session struct {
	id     string
	policy RematchPolicy

	// delivery is held across a mutation and its broadcast; never taken
	// while holding mu.
	delivery sync.Mutex

	mu           sync.Mutex
	participants []*Participant
	board        game.Board
	turn         game.Symbol
	status       Status
	outcome      game.Outcome
	game         int
}

type Option func(*Session)

func WithRematchPolicy(p RematchPolicy) Option {
	return func(s *Session) {
		if p.Valid() {
			s.policy = p
		}
	}
}

func NewSession(id string, opts ...Option) *Session {
	s := &Session{
		id:      id,
		policy:  RematchKeep,
		turn:    game.X,
		status:  StatusReady,
		outcome: game.None(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) ID() string { return s.id }

// Join seats identity. The first participant plays X, the second O; a slot
// freed by a departure is refilled with the free symbol.
func (s *Session) Join(identity string, handle conn.Handle) (JoinResult, error) {
	if identity == "" {
		return JoinResult{}, ErrEmptyIdentity
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if p := s.find(identity); p != nil {
		prev := p.Handle
		p.Handle = handle
		var replaced conn.Handle
		if prev != nil && prev.ID() != handle.ID() {
			replaced = prev
		}
		return JoinResult{State: s.snapshot(), Symbol: p.Symbol, Replaced: replaced}, nil
	}
	if len(s.participants) >= maxParticipants {
		return JoinResult{}, fmt.Errorf("join %s: %w", s.id, ErrSessionFull)
	}

	symbol := game.X
	if len(s.participants) == 1 {
		symbol = s.participants[0].Symbol.Other()
	}
	p := &Participant{Identity: identity, Symbol: symbol, Handle: handle}
	s.participants = append(s.participants, p)
	s.order()

	started := false
	if len(s.participants) == maxParticipants {
		s.startBoard()
		started = true
	}
	return JoinResult{State: s.snapshot(), Symbol: symbol, Started: started}, nil
}

// ApplyMove places the caller's symbol on index. A rejected move leaves the
// session untouched.
func (s *Session) ApplyMove(identity string, index int) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusInProgress {
		return State{}, ErrInvalidState
	}
	if !game.InRange(index) {
		return State{}, fmt.Errorf("cell %d: %w", index, ErrOutOfRange)
	}
	if s.board[index] != game.Empty {
		return State{}, fmt.Errorf("cell %d: %w", index, ErrCellOccupied)
	}
	p := s.find(identity)
	if p == nil {
		return State{}, ErrNotParticipant
	}
	if p.Symbol != s.turn {
		return State{}, ErrNotYourTurn
	}

	s.board[index] = p.Symbol
	s.outcome = s.board.Evaluate()
	if s.outcome.Decided() {
		s.status = StatusFinished
	} else {
		s.turn = s.turn.Other()
	}
	return s.snapshot(), nil
}

// Reset clears the board for a rematch.
func (s *Session) Reset() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.participants) == maxParticipants {
		if s.policy == RematchSwap {
			for _, p := range s.participants {
				p.Symbol = p.Symbol.Other()
			}
			s.order()
		}
		s.startBoard()
	} else {
		s.clearBoard()
		s.status = StatusReady
	}
	return s.snapshot()
}

// Leave removes identity from the session.
func (s *Session) Leave(identity string) (LeaveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leave(identity, nil)
}

// leave removes identity. A non-nil bound must accept the participant's
// current handle, otherwise ErrNotParticipant is returned. Callers hold mu.
func (s *Session) leave(identity string, bound func(conn.Handle) bool) (LeaveResult, error) {
	idx := -1
	for i, p := range s.participants {
		if p.Identity == identity {
			idx = i
			break
		}
	}
	if idx < 0 {
		return LeaveResult{}, ErrNotParticipant
	}
	if bound != nil && !bound(s.participants[idx].Handle) {
		return LeaveResult{}, ErrNotParticipant
	}
	s.participants = append(s.participants[:idx], s.participants[idx+1:]...)
	if len(s.participants) < maxParticipants {
		s.status = StatusReady
	}

	res := LeaveResult{Remaining: len(s.participants), State: s.snapshot()}
	if len(s.participants) == 1 {
		peer := *s.participants[0]
		res.Peer = &peer
	}
	return res, nil
}

// detach unbinds identity's handle while keeping the seat, provided the seat
// is still bound to handleID. It returns how many seats are left without a
// connection. Callers hold mu.
func (s *Session) detach(identity, handleID string) (int, error) {
	p := s.find(identity)
	if p == nil || p.Handle == nil || p.Handle.ID() != handleID {
		return 0, ErrNotParticipant
	}
	p.Handle = nil
	detached := 0
	for _, q := range s.participants {
		if q.Handle == nil {
			detached++
		}
	}
	return detached, nil
}

// Serialize runs fn while holding the session's delivery lock. Mutating and
// broadcasting inside fn delivers snapshots in the order they were taken.
func (s *Session) Serialize(fn func()) {
	s.delivery.Lock()
	defer s.delivery.Unlock()
	fn()
}

func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Participants returns copies of the seated participants, X first.
func (s *Session) Participants() []Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, *p)
	}
	return out
}

// Handles returns the live handle of every participant. Detached seats
// are skipped.
func (s *Session) Handles() []conn.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]conn.Handle, 0, len(s.participants))
	for _, p := range s.participants {
		if p.Handle != nil {
			out = append(out, p.Handle)
		}
	}
	return out
}

func (s *Session) find(identity string) *Participant {
	for _, p := range s.participants {
		if p.Identity == identity {
			return p
		}
	}
	return nil
}

// order keeps X ahead of O.
func (s *Session) order() {
	if len(s.participants) == maxParticipants && s.participants[0].Symbol != game.X {
		s.participants[0], s.participants[1] = s.participants[1], s.participants[0]
	}
}

func (s *Session) clearBoard() {
	s.board = game.Board{}
	s.outcome = game.None()
	s.turn = game.X
}

func (s *Session) startBoard() {
	s.clearBoard()
	s.status = StatusInProgress
	s.game++
}

func (s *Session) snapshot() State {
	seats := make([]Seat, 0, len(s.participants))
	for _, p := range s.participants {
		seats = append(seats, Seat{Identity: p.Identity, Symbol: p.Symbol})
	}
	return State{
		ID:      s.id,
		Board:   s.board,
		Turn:    s.turn,
		Status:  s.status,
		Outcome: s.outcome,
		Seats:   seats,
		Game:    s.game,
	}
}
