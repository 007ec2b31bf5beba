package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Identities and room names share the character set the browser client
// builds room names from.
var namePattern = regexp.MustCompile(`^[\w-]{1,64}$`)

// Server exposes the matchmaking and game channels over websockets.
type Server struct {
	ctrl     *Controller
	upgrader websocket.Upgrader
	pump     PumpConfig
	logger   *zap.Logger
	// ctx is handed to every connection and cancelled on shutdown.
	ctx context.Context
}

func NewServer(ctx context.Context, ctrl *Controller, pump PumpConfig, logger *zap.Logger) *Server {
	return &Server{
		ctrl: ctrl,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origins are enforced by the CORS layer in front of the mux.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		pump:   pump,
		logger: logger.Named("ws"),
		ctx:    ctx,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	// Browser clients address both channels with a trailing slash.
	mux.HandleFunc("GET /ws/matchmaking/{username}", s.serveMatchmaking)
	mux.HandleFunc("GET /ws/matchmaking/{username}/{$}", s.serveMatchmaking)
	mux.HandleFunc("GET /ws/tictactoe/{room}", s.serveGame)
	mux.HandleFunc("GET /ws/tictactoe/{room}/{$}", s.serveGame)
	mux.HandleFunc("GET /healthz", s.serveHealth)
	return mux
}

func (s *Server) serveMatchmaking(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	if !namePattern.MatchString(username) {
		http.Error(w, "invalid username", http.StatusBadRequest)
		return
	}
	s.serve(w, r, username, func(c *Client) error {
		return s.ctrl.ConnectMatchmaking(s.ctx, username, c)
	})
}

// serveGame joins the room named in the path. The player comes from the
// "player" query parameter; without one the connection plays as a guest.
func (s *Server) serveGame(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room")
	if !namePattern.MatchString(roomID) {
		http.Error(w, "invalid room", http.StatusBadRequest)
		return
	}
	player := r.URL.Query().Get("player")
	if player == "" {
		player = "guest-" + uuid.NewString()[:8]
	} else if !namePattern.MatchString(player) {
		http.Error(w, "invalid player", http.StatusBadRequest)
		return
	}
	s.serve(w, r, player, func(c *Client) error {
		return s.ctrl.ConnectRoom(s.ctx, roomID, player, c)
	})
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, player string, connect func(*Client) error) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := newClient(ws, player, s.pump, s.logger)
	go client.writePump()

	// A rejected connect has queued its error and closed the client; the
	// write pump flushes it and tears the socket down.
	if err := connect(client); err != nil {
		return
	}
	go client.readPump(s.ctx, s.ctrl)
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	sessions, queued, connections := s.ctrl.Stats()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"sessions":    sessions,
		"queued":      queued,
		"connections": connections,
	})
}
