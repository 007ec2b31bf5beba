// Package hub connects websocket clients to the matchmaking queue and the
// session registry, and fans game state out to the participants.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Pranay-ai/tic-tac-toe-be/internal/conn"
	"github.com/Pranay-ai/tic-tac-toe-be/internal/matchmaking"
	"github.com/Pranay-ai/tic-tac-toe-be/internal/room"
	"github.com/Pranay-ai/tic-tac-toe-be/internal/stats"
)

// ErrAlreadyInGame is returned when a player seated in a live session asks
// to be matched again.
var ErrAlreadyInGame = errors.New("player is already in a game")

var errShuttingDown = errors.New("server is shutting down")

// ResultSink accepts finished-game reports without blocking.
type ResultSink interface {
	Submit(r stats.Report) bool
}

// RecordReader looks up a player's lifetime tally.
type RecordReader interface {
	Record(ctx context.Context, username string) (stats.Record, error)
}

const defaultReconnectGrace = 10 * time.Second

type Options struct {
	// AllowRoomCreate lets the game channel open rooms that do not exist yet.
	AllowRoomCreate bool
	// RematchPolicy is announced to clients on reset; a swap re-sends start.
	RematchPolicy room.RematchPolicy
	// ReconnectGrace is how long a seat opened by matchmaking stays reserved
	// after its matchmaking connection closes.
	ReconnectGrace time.Duration
	Results        ResultSink
	Leaderboard    stats.Leaderboard
	Records        RecordReader
	// LeaderboardSize is used when a request does not carry a limit.
	LeaderboardSize int
}

type channel int

const (
	channelMatchmaking channel = iota
	channelRoom
)

// binding records where a connection currently lives.
type binding struct {
	handle    conn.Handle
	identity  string
	sessionID string
	queued    bool
	channel   channel
}

type seatKey struct {
	sessionID string
	identity  string
}

// reservation holds a detached seat until its player reconnects or the
// grace period ends. gen tells a stale timer from the current one.
type reservation struct {
	timer *time.Timer
	gen   uint64
}

// Controller drives a connection through its lifecycle: connect (queue or
// join), inbound message dispatch, and disconnect.
type Controller struct {
	queue       *matchmaking.Queue
	registry    *room.Registry
	broadcaster *Broadcaster
	opts        Options
	logger      *zap.Logger

	// mu serializes pairing with connect/disconnect bookkeeping. Lock order
	// is mu, then the queue or the registry.
	mu           sync.Mutex
	bindings     map[string]*binding
	seats        map[string]string
	reservations map[seatKey]reservation
	gen          uint64
	closing      bool
}

func NewController(queue *matchmaking.Queue, registry *room.Registry, logger *zap.Logger, opts Options) *Controller {
	if opts.LeaderboardSize <= 0 {
		opts.LeaderboardSize = 10
	}
	if opts.ReconnectGrace <= 0 {
		opts.ReconnectGrace = defaultReconnectGrace
	}
	if !opts.RematchPolicy.Valid() {
		opts.RematchPolicy = room.RematchKeep
	}
	logger = logger.Named("hub")
	return &Controller{
		queue:        queue,
		registry:     registry,
		broadcaster:  NewBroadcaster(registry, logger),
		opts:         opts,
		logger:       logger,
		bindings:     make(map[string]*binding),
		seats:        make(map[string]string),
		reservations: make(map[seatKey]reservation),
	}
}

// ConnectMatchmaking queues identity, pairing it with the oldest waiting
// player when there is one. The paired session is played on the same
// connections; clients may also move to the game channel for the announced
// room and will be rebound there.
func (c *Controller) ConnectMatchmaking(ctx context.Context, identity string, h conn.Handle) error {
	if err := ctx.Err(); err != nil {
		err = fmt.Errorf("%w: %w", errShuttingDown, err)
		c.reject(h, err)
		return err
	}

	c.mu.Lock()
	if roomID, seated := c.seats[identity]; seated {
		c.mu.Unlock()
		err := fmt.Errorf("%s in %s: %w", identity, roomID, ErrAlreadyInGame)
		c.reject(h, err)
		return err
	}
	displaced, err := c.queue.Enqueue(identity, h)
	if err != nil {
		c.mu.Unlock()
		c.reject(h, err)
		return err
	}
	c.bindings[h.ID()] = &binding{handle: h, identity: identity, queued: true, channel: channelMatchmaking}
	if displaced != nil {
		delete(c.bindings, displaced.ID())
	}

	pair, paired := c.queue.TryPair()
	var (
		sess *room.Session
		seat [2]room.JoinResult
	)
	if paired {
		sess, seat, err = c.openMatch(pair)
	}
	c.mu.Unlock()

	if displaced != nil {
		c.logger.Info("player re-queued from a new connection",
			zap.String("player_id", identity),
			zap.String("conn_id", h.ID()),
		)
		_ = displaced.Close()
	}
	if err != nil {
		c.logger.Error("error opening match", zap.Error(err))
		_ = pair.First.Handle.Close()
		_ = pair.Second.Handle.Close()
		return err
	}
	if !paired {
		c.logger.Info("player added to matchmaking queue",
			zap.String("player_id", identity),
			zap.Int("queue_len", c.queue.Len()),
		)
		_ = c.broadcaster.SendTo(h, newWaiting())
		return nil
	}

	roomID := sess.ID()
	c.logger.Info("match found",
		zap.String("room_id", roomID),
		zap.String("player_x", pair.First.Identity),
		zap.String("player_o", pair.Second.Identity),
	)
	entries := [2]matchmaking.Entry{pair.First, pair.Second}
	sess.Serialize(func() {
		for i, e := range entries {
			opponent := entries[1-i].Identity
			_ = c.broadcaster.SendTo(e.Handle, newMatchFound(roomID, opponent))
			_ = c.broadcaster.SendTo(e.Handle, newStart(roomID, seat[i].Symbol, opponent))
		}
		c.broadcaster.Broadcast(roomID, newGameState(typeGameState, sess.Snapshot()))
	})
	return nil
}

// openMatch creates the session for a pair and seats both entries. Callers
// hold mu.
func (c *Controller) openMatch(pair matchmaking.Pair) (*room.Session, [2]room.JoinResult, error) {
	var seat [2]room.JoinResult
	sess, err := c.registry.Create("room_" + uuid.NewString())
	if err != nil {
		return nil, seat, err
	}
	for i, e := range []matchmaking.Entry{pair.First, pair.Second} {
		res, err := sess.Join(e.Identity, e.Handle)
		if err != nil {
			c.registry.Remove(sess.ID())
			return nil, seat, err
		}
		seat[i] = res
		if b, ok := c.bindings[e.Handle.ID()]; ok {
			b.queued = false
			b.sessionID = sess.ID()
		}
	}
	c.seats[pair.First.Identity] = sess.ID()
	c.seats[pair.Second.Identity] = sess.ID()
	return sess, seat, nil
}

// ConnectRoom seats identity in the named room.
func (c *Controller) ConnectRoom(ctx context.Context, roomID, identity string, h conn.Handle) error {
	if err := ctx.Err(); err != nil {
		err = fmt.Errorf("%w: %w", errShuttingDown, err)
		c.reject(h, err)
		return err
	}
	if roomID == "" {
		err := room.ErrSessionNotFound
		c.reject(h, err)
		return err
	}

	c.mu.Lock()
	sess, res, err := c.registry.JoinOrCreate(roomID, identity, h, c.opts.AllowRoomCreate)
	if err != nil {
		c.mu.Unlock()
		c.reject(h, err)
		return err
	}
	c.bindings[h.ID()] = &binding{handle: h, identity: identity, sessionID: roomID, channel: channelRoom}
	if res.Replaced != nil {
		delete(c.bindings, res.Replaced.ID())
	}
	c.seats[identity] = roomID
	c.cancelReservation(seatKey{sessionID: roomID, identity: identity})
	c.mu.Unlock()

	if res.Replaced != nil {
		_ = res.Replaced.Close()
	}
	c.logger.Info("player joined room",
		zap.String("room_id", roomID),
		zap.String("player_id", identity),
		zap.String("symbol", string(res.Symbol)),
		zap.Bool("started", res.Started),
	)

	sess.Serialize(func() {
		st := sess.Snapshot()
		switch {
		case res.Started:
			for _, p := range sess.Participants() {
				if p.Handle != nil {
					_ = c.broadcaster.SendTo(p.Handle, newStart(roomID, p.Symbol, st.Opponent(p.Identity)))
				}
			}
			c.broadcaster.Broadcast(roomID, newGameState(typeGameState, st))
		case len(st.Seats) == 2:
			// Rebound to a seat in a running session.
			_ = c.broadcaster.SendTo(h, newStart(roomID, res.Symbol, st.Opponent(identity)))
			_ = c.broadcaster.SendTo(h, newGameState(typeGameState, st))
		default:
			_ = c.broadcaster.SendTo(h, newWaiting())
		}
	})
	return nil
}

// HandleMessage dispatches one inbound frame from h.
func (c *Controller) HandleMessage(ctx context.Context, h conn.Handle, raw []byte) {
	msg, err := DecodeInbound(raw)
	if err != nil {
		c.logger.Debug("ignoring inbound message", zap.String("conn_id", h.ID()), zap.Error(err))
		return
	}

	switch m := msg.(type) {
	case MoveRequest:
		c.handleMove(h, m)
	case ResetRequest:
		c.handleReset(h)
	case LeaderboardRequest:
		c.handleLeaderboard(ctx, h, m)
	case StatsRequest:
		c.handleStats(ctx, h, m)
	}
}

func (c *Controller) handleMove(h conn.Handle, m MoveRequest) {
	b, sess, err := c.seated(h)
	if err != nil {
		_ = c.broadcaster.SendTo(h, newError(err))
		return
	}

	var st room.State
	sess.Serialize(func() {
		st, err = sess.ApplyMove(b.identity, m.Index)
		if err == nil {
			c.broadcaster.Broadcast(sess.ID(), newGameState(typeMove, st))
		}
	})
	if err != nil {
		level := zap.WarnLevel
		if room.IsInvalidMove(err) {
			level = zap.DebugLevel
		}
		c.logger.Log(level, "move rejected",
			zap.String("room_id", sess.ID()),
			zap.String("player_id", b.identity),
			zap.Int("index", m.Index),
			zap.Error(err),
		)
		_ = c.broadcaster.SendTo(h, newError(err))
		return
	}

	if st.Outcome.Decided() {
		c.logger.Info("game finished",
			zap.String("room_id", st.ID),
			zap.String("outcome", string(st.Outcome.Kind)),
			zap.String("winner", string(st.Outcome.Winner)),
		)
		c.reportResults(st)
	}
}

func (c *Controller) handleReset(h conn.Handle) {
	b, sess, err := c.seated(h)
	if err != nil {
		_ = c.broadcaster.SendTo(h, newError(err))
		return
	}
	if _, ok := sess.Snapshot().SymbolOf(b.identity); !ok {
		_ = c.broadcaster.SendTo(h, newError(room.ErrNotParticipant))
		return
	}

	sess.Serialize(func() {
		st := sess.Reset()
		c.logger.Info("board reset",
			zap.String("room_id", st.ID),
			zap.String("player_id", b.identity),
			zap.Int("game", st.Game),
		)
		c.broadcaster.Broadcast(st.ID, newReset())
		if c.opts.RematchPolicy == room.RematchSwap && len(st.Seats) == 2 {
			for _, p := range sess.Participants() {
				if p.Handle != nil {
					_ = c.broadcaster.SendTo(p.Handle, newStart(st.ID, p.Symbol, st.Opponent(p.Identity)))
				}
			}
		}
		c.broadcaster.Broadcast(st.ID, newGameState(typeGameState, st))
	})
}

func (c *Controller) handleLeaderboard(ctx context.Context, h conn.Handle, m LeaderboardRequest) {
	if c.opts.Leaderboard == nil {
		_ = c.broadcaster.SendTo(h, newError(errUnavailable))
		return
	}
	limit := m.Limit
	if limit <= 0 {
		limit = c.opts.LeaderboardSize
	}
	entries, err := c.opts.Leaderboard.Top(ctx, limit)
	if err != nil {
		c.logger.Error("error getting leaderboard", zap.Error(err))
		_ = c.broadcaster.SendTo(h, newError(errUnavailable))
		return
	}
	_ = c.broadcaster.SendTo(h, newLeaderboardUpdate(entries))
}

// handleStats answers with the tally of the requested player, or of the
// connection's own player when none is named.
func (c *Controller) handleStats(ctx context.Context, h conn.Handle, m StatsRequest) {
	if c.opts.Records == nil {
		_ = c.broadcaster.SendTo(h, newError(errUnavailable))
		return
	}
	username := m.Username
	if username == "" {
		c.mu.Lock()
		if b, ok := c.bindings[h.ID()]; ok {
			username = b.identity
		}
		c.mu.Unlock()
	}
	if username == "" {
		_ = c.broadcaster.SendTo(h, newError(room.ErrEmptyIdentity))
		return
	}
	rec, err := c.opts.Records.Record(ctx, username)
	if err != nil {
		c.logger.Error("error getting player stats", zap.String("player_id", username), zap.Error(err))
		_ = c.broadcaster.SendTo(h, newError(errUnavailable))
		return
	}
	_ = c.broadcaster.SendTo(h, newPlayerStats(username, rec))
}

// PushLeaderboard sends entries to every live connection.
func (c *Controller) PushLeaderboard(entries []stats.LeaderboardEntry) {
	msg := newLeaderboardUpdate(entries)
	for _, h := range c.handles() {
		_ = c.broadcaster.SendTo(h, msg)
	}
}

func (c *Controller) reportResults(st room.State) {
	if c.opts.Results == nil {
		return
	}
	for _, seat := range st.Seats {
		result, ok := st.Outcome.ResultFor(seat.Symbol)
		if !ok {
			continue
		}
		c.opts.Results.Submit(stats.Report{Username: seat.Identity, Result: result, RoomID: st.ID})
	}
}

// Disconnect releases whatever h holds. A queued entry is cancelled. A seat
// taken on the game channel is vacated and the remaining participant told
// once. A seat opened through matchmaking is only detached: the player keeps
// it for the reconnect grace period, typically while moving to the game
// channel.
func (c *Controller) Disconnect(_ context.Context, h conn.Handle) {
	c.mu.Lock()
	b, ok := c.bindings[h.ID()]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.bindings, h.ID())

	switch {
	case b.queued:
		cancelled := c.queue.CancelHandle(b.identity, h.ID())
		c.mu.Unlock()
		if cancelled {
			c.logger.Info("player removed from matchmaking queue due to disconnect",
				zap.String("player_id", b.identity),
			)
		}
		return
	case b.sessionID == "":
		c.mu.Unlock()
		return
	case b.channel == channelMatchmaking && !c.closing:
		detached, err := c.registry.Detach(b.sessionID, b.identity, h.ID())
		if err == nil {
			c.reserve(seatKey{sessionID: b.sessionID, identity: b.identity})
		}
		c.mu.Unlock()
		if err == nil {
			c.logger.Info("player detached from room",
				zap.String("room_id", b.sessionID),
				zap.String("player_id", b.identity),
				zap.Int("detached", detached),
				zap.Duration("grace", c.opts.ReconnectGrace),
			)
		}
		return
	}

	res, err := c.registry.Leave(b.sessionID, b.identity, h.ID())
	if err == nil {
		c.release(seatKey{sessionID: b.sessionID, identity: b.identity})
	}
	c.mu.Unlock()
	c.afterLeave(b.sessionID, b.identity, res, err)
}

// reserve starts the grace timer of a detached seat. Callers hold mu.
func (c *Controller) reserve(key seatKey) {
	c.cancelReservation(key)
	c.gen++
	gen := c.gen
	c.reservations[key] = reservation{
		timer: time.AfterFunc(c.opts.ReconnectGrace, func() { c.expire(key, gen) }),
		gen:   gen,
	}
}

// cancelReservation stops a pending grace timer. Callers hold mu.
func (c *Controller) cancelReservation(key seatKey) {
	if r, ok := c.reservations[key]; ok {
		r.timer.Stop()
		delete(c.reservations, key)
	}
}

// release forgets a vacated seat. Callers hold mu.
func (c *Controller) release(key seatKey) {
	c.cancelReservation(key)
	if c.seats[key.identity] == key.sessionID {
		delete(c.seats, key.identity)
	}
}

// expire vacates a detached seat whose player did not come back in time.
func (c *Controller) expire(key seatKey, gen uint64) {
	c.mu.Lock()
	if r, ok := c.reservations[key]; !ok || r.gen != gen {
		c.mu.Unlock()
		return
	}
	delete(c.reservations, key)
	res, err := c.registry.LeaveDetached(key.sessionID, key.identity)
	if err == nil {
		c.release(key)
	}
	c.mu.Unlock()
	c.afterLeave(key.sessionID, key.identity, res, err)
}

func (c *Controller) afterLeave(sessionID, identity string, res room.LeaveResult, err error) {
	if err != nil {
		if !errors.Is(err, room.ErrNotParticipant) && !errors.Is(err, room.ErrSessionNotFound) {
			c.logger.Error("error leaving session", zap.String("room_id", sessionID), zap.Error(err))
		}
		return
	}
	c.logger.Info("player left room",
		zap.String("room_id", sessionID),
		zap.String("player_id", identity),
		zap.Int("remaining", res.Remaining),
		zap.Bool("evicted", res.Evicted),
	)
	if res.Peer != nil && res.Peer.Handle != nil {
		_ = c.broadcaster.SendTo(res.Peer.Handle, newOpponentLeft())
	}
}

// Shutdown closes every live connection. From here on a closing
// connection vacates its seat right away.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	c.closing = true
	for key := range c.reservations {
		c.cancelReservation(key)
	}
	c.mu.Unlock()

	handles := c.handles()
	for _, h := range handles {
		_ = h.Close()
	}
	c.logger.Info("hub stopped", zap.Int("closed", len(handles)))
}

// Stats reports live counts for health checks.
func (c *Controller) Stats() (sessions, queued, connections int) {
	c.mu.Lock()
	connections = len(c.bindings)
	c.mu.Unlock()
	return c.registry.Len(), c.queue.Len(), connections
}

func (c *Controller) handles() []conn.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	handles := make([]conn.Handle, 0, len(c.bindings))
	for _, b := range c.bindings {
		handles = append(handles, b.handle)
	}
	return handles
}

func (c *Controller) seated(h conn.Handle) (binding, *room.Session, error) {
	c.mu.Lock()
	b, ok := c.bindings[h.ID()]
	var snapshot binding
	if ok {
		snapshot = *b
	}
	c.mu.Unlock()

	if !ok || snapshot.sessionID == "" {
		return binding{}, nil, room.ErrNotParticipant
	}
	sess, err := c.registry.Get(snapshot.sessionID)
	if err != nil {
		return binding{}, nil, err
	}
	return snapshot, sess, nil
}

// reject answers a refused connect with an error message and closes it.
func (c *Controller) reject(h conn.Handle, err error) {
	c.logger.Info("connection rejected", zap.String("conn_id", h.ID()), zap.Error(err))
	_ = c.broadcaster.SendTo(h, newError(err))
	_ = h.Close()
}
