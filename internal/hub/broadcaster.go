package hub

import (
	"go.uber.org/zap"

	"github.com/Pranay-ai/tic-tac-toe-be/internal/conn"
	"github.com/Pranay-ai/tic-tac-toe-be/internal/room"
)

// Broadcaster delivers messages to one handle or to every participant of a
// session. Delivery is best-effort: a failed send closes that handle, which
// runs the regular disconnect path for its participant.
type Broadcaster struct {
	registry *room.Registry
	logger   *zap.Logger
}

func NewBroadcaster(registry *room.Registry, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{registry: registry, logger: logger}
}

// SendTo delivers msg to exactly one handle.
func (b *Broadcaster) SendTo(h conn.Handle, msg Outbound) error {
	data, err := Encode(msg)
	if err != nil {
		b.logger.Error("dropping unencodable message", zap.Error(err))
		return err
	}
	if err := h.Send(data); err != nil {
		b.fail(h, "", err)
		return err
	}
	return nil
}

// Broadcast delivers msg to every participant currently seated in the
// session. It never fails as a whole.
func (b *Broadcaster) Broadcast(sessionID string, msg Outbound) {
	sess, err := b.registry.Get(sessionID)
	if err != nil {
		b.logger.Debug("broadcast to missing session", zap.String("room_id", sessionID))
		return
	}
	b.send(sessionID, sess.Handles(), msg)
}

func (b *Broadcaster) send(sessionID string, handles []conn.Handle, msg Outbound) {
	data, err := Encode(msg)
	if err != nil {
		b.logger.Error("dropping unencodable message", zap.Error(err))
		return
	}
	for _, h := range handles {
		if err := h.Send(data); err != nil {
			b.fail(h, sessionID, err)
		}
	}
}

func (b *Broadcaster) fail(h conn.Handle, sessionID string, err error) {
	b.logger.Warn("delivery failed, dropping connection",
		zap.String("conn_id", h.ID()),
		zap.String("room_id", sessionID),
		zap.Error(err),
	)
	_ = h.Close()
}
