package hub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Pranay-ai/tic-tac-toe-be/internal/conn"
)

// PumpConfig tunes the per-connection read and write loops.
type PumpConfig struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

func DefaultPumpConfig() PumpConfig {
	return PumpConfig{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     256,
	}
}

// dispatcher is the part of Controller a client talks to.
type dispatcher interface {
	HandleMessage(ctx context.Context, h conn.Handle, raw []byte)
	Disconnect(ctx context.Context, h conn.Handle)
}

// Client is one websocket connection. It implements conn.Handle.
type Client struct {
	id string

	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	cfg    PumpConfig
	logger *zap.Logger
}

var _ conn.Handle = (*Client)(nil)

func newClient(ws *websocket.Conn, playerID string, cfg PumpConfig, logger *zap.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:     id,
		conn:   ws,
		send:   make(chan []byte, cfg.SendBuffer),
		done:   make(chan struct{}),
		cfg:    cfg,
		logger: logger.With(zap.String("conn_id", id), zap.String("player_id", playerID)),
	}
}

func (c *Client) ID() string { return c.id }

// Send queues message for the write pump without blocking.
func (c *Client) Send(message []byte) error {
	select {
	case <-c.done:
		return conn.ErrClosed
	default:
	}
	select {
	case c.send <- message:
		return nil
	case <-c.done:
		return conn.ErrClosed
	default:
		return conn.ErrBufferFull
	}
}

// Close stops the write pump, which sends a close frame and tears the socket
// down; the read pump then fails and reports the disconnect.
func (c *Client) Close() error {
	c.once.Do(func() {
		close(c.done)
	})
	return nil
}

func (c *Client) readPump(ctx context.Context, d dispatcher) {
	defer func() {
		d.Disconnect(ctx, c)
		_ = c.Close()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
		c.logger.Error("error setting read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		messageType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("unexpected websocket close", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		d.HandleMessage(ctx, c, raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.write(websocket.TextMessage, message); err != nil {
				c.logger.Debug("error writing message", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.flush()
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever is still queued, e.g. the error explaining a
// rejected connect.
func (c *Client) flush() {
	for {
		select {
		case message := <-c.send:
			if err := c.write(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}
