package hub

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Pranay-ai/tic-tac-toe-be/internal/game"
	"github.com/Pranay-ai/tic-tac-toe-be/internal/matchmaking"
	"github.com/Pranay-ai/tic-tac-toe-be/internal/room"
	"github.com/Pranay-ai/tic-tac-toe-be/internal/stats"
)

// ErrProtocol marks inbound frames that cannot be decoded into a known
// message. They are logged and dropped; the connection stays open.
var ErrProtocol = errors.New("protocol error")

const (
	typeMove           = "move"
	typeReset          = "reset"
	typeGetLeaderboard = "get_leaderboard"
	typeGetStats       = "get_stats"

	typeWaiting      = "waiting"
	typeMatchFound   = "match_found"
	typeStart        = "start"
	typeGameState    = "game_state"
	typeOpponentLeft = "opponent_left"
	typeError        = "error"
	typeLeaderboard  = "leaderboard_update"
	typePlayerStats  = "player_stats"
)

// Inbound is the closed set of client requests.
type Inbound interface {
	inbound()
}

type MoveRequest struct {
	Index int
}

type ResetRequest struct{}

type LeaderboardRequest struct {
	Limit int
}

// StatsRequest asks for a player's tally; an empty Username means the
// requesting player.
type StatsRequest struct {
	Username string
}

func (MoveRequest) inbound()        {}
func (ResetRequest) inbound()       {}
func (LeaderboardRequest) inbound() {}
func (StatsRequest) inbound()       {}

type envelope struct {
	Type     string          `json:"type"`
	Index    *int            `json:"index"`
	Limit    int             `json:"limit"`
	Username string          `json:"username"`
	Payload  json.RawMessage `json:"payload"`
}

// DecodeInbound parses one client frame. The index of a move may sit at the
// top level or inside "payload".
func DecodeInbound(raw []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	switch env.Type {
	case typeMove:
		if env.Index == nil && len(env.Payload) > 0 {
			var p struct {
				Index *int `json:"index"`
			}
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				return nil, fmt.Errorf("%w: move payload: %v", ErrProtocol, err)
			}
			env.Index = p.Index
		}
		if env.Index == nil {
			return nil, fmt.Errorf("%w: move without index", ErrProtocol)
		}
		return MoveRequest{Index: *env.Index}, nil
	case typeReset:
		return ResetRequest{}, nil
	case typeGetLeaderboard:
		return LeaderboardRequest{Limit: env.Limit}, nil
	case typeGetStats:
		return StatsRequest{Username: env.Username}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrProtocol)
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", ErrProtocol, env.Type)
	}
}

// Outbound is the closed set of server messages.
type Outbound interface {
	outbound()
}

type Waiting struct {
	Type string `json:"type"`
}

type MatchFound struct {
	Type     string `json:"type"`
	Room     string `json:"room"`
	Opponent string `json:"opponent"`
}

type Start struct {
	Type     string      `json:"type"`
	Room     string      `json:"room"`
	Symbol   game.Symbol `json:"symbol"`
	Opponent string      `json:"opponent"`
}

// GameState carries the full board. Type is "move" after an accepted move
// and "game_state" for snapshots (game start, reset, reconnect).
type GameState struct {
	Type        string           `json:"type"`
	Room        string           `json:"room"`
	Board       game.Board       `json:"board"`
	CurrentTurn game.Symbol      `json:"currentTurn"`
	Winner      *string          `json:"winner"`
	Outcome     game.OutcomeKind `json:"outcome"`
	Status      room.Status      `json:"status"`
	Game        int              `json:"game"`
	Players     []room.Seat      `json:"players"`
}

type Reset struct {
	Type string `json:"type"`
}

type OpponentLeft struct {
	Type string `json:"type"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type LeaderboardUpdate struct {
	Type    string                   `json:"type"`
	Entries []stats.LeaderboardEntry `json:"entries"`
}

// PlayerStats answers a StatsRequest.
type PlayerStats struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	stats.Record
}

func (Waiting) outbound()           {}
func (MatchFound) outbound()        {}
func (Start) outbound()             {}
func (GameState) outbound()         {}
func (Reset) outbound()             {}
func (OpponentLeft) outbound()      {}
func (ErrorMessage) outbound()      {}
func (LeaderboardUpdate) outbound() {}
func (PlayerStats) outbound()       {}

func newWaiting() Waiting { return Waiting{Type: typeWaiting} }

func newMatchFound(roomID, opponent string) MatchFound {
	return MatchFound{Type: typeMatchFound, Room: roomID, Opponent: opponent}
}

func newStart(roomID string, symbol game.Symbol, opponent string) Start {
	return Start{Type: typeStart, Room: roomID, Symbol: symbol, Opponent: opponent}
}

func newGameState(msgType string, st room.State) GameState {
	return GameState{
		Type:        msgType,
		Room:        st.ID,
		Board:       st.Board,
		CurrentTurn: st.Turn,
		Winner:      st.Outcome.Marker(),
		Outcome:     st.Outcome.Kind,
		Status:      st.Status,
		Game:        st.Game,
		Players:     st.Seats,
	}
}

func newReset() Reset { return Reset{Type: typeReset} }

func newOpponentLeft() OpponentLeft { return OpponentLeft{Type: typeOpponentLeft} }

func newLeaderboardUpdate(entries []stats.LeaderboardEntry) LeaderboardUpdate {
	if entries == nil {
		entries = []stats.LeaderboardEntry{}
	}
	return LeaderboardUpdate{Type: typeLeaderboard, Entries: entries}
}

func newPlayerStats(username string, rec stats.Record) PlayerStats {
	return PlayerStats{Type: typePlayerStats, Username: username, Record: rec}
}

// newError maps a domain error onto the wire error codes.
func newError(err error) ErrorMessage {
	return ErrorMessage{Type: typeError, Code: errorCode(err), Message: err.Error()}
}

var errUnavailable = errors.New("stats backend is not available")

func errorCode(err error) string {
	switch {
	case errors.Is(err, room.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, room.ErrOutOfRange):
		return "out_of_range"
	case errors.Is(err, room.ErrCellOccupied):
		return "cell_occupied"
	case errors.Is(err, room.ErrNotYourTurn):
		return "not_your_turn"
	case errors.Is(err, room.ErrNotParticipant):
		return "not_participant"
	case errors.Is(err, room.ErrSessionFull):
		return "session_full"
	case errors.Is(err, room.ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, matchmaking.ErrDuplicateEntry):
		return "duplicate_entry"
	case errors.Is(err, ErrAlreadyInGame):
		return "already_in_game"
	case errors.Is(err, errShuttingDown):
		return "shutting_down"
	case errors.Is(err, room.ErrEmptyIdentity), errors.Is(err, matchmaking.ErrEmptyIdentity):
		return "empty_identity"
	case errors.Is(err, errUnavailable):
		return "unavailable"
	}
	return "internal"
}

// Encode serializes an outbound message.
func Encode(msg Outbound) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("error marshalling %T: %w", msg, err)
	}
	return data, nil
}
