// Package conntest provides an in-memory conn.Handle for tests.
package conntest

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/Pranay-ai/tic-tac-toe-be/internal/conn"
)

// Recorder captures every message sent to it.
type Recorder struct {
	id string

	mu       sync.Mutex
	messages [][]byte
	closed   bool
	failSend bool
	onClose  func()
}

func NewRecorder() *Recorder {
	return &Recorder{id: uuid.NewString()}
}

// NewNamed returns a recorder with a fixed id, handy for assertions.
func NewNamed(id string) *Recorder {
	return &Recorder{id: id}
}

func (r *Recorder) ID() string { return r.id }

func (r *Recorder) Send(message []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return conn.ErrClosed
	}
	if r.failSend {
		return conn.ErrBufferFull
	}
	r.messages = append(r.messages, append([]byte(nil), message...))
	return nil
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	fn := r.onClose
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

// FailSends makes every following Send return conn.ErrBufferFull.
func (r *Recorder) FailSends() {
	r.mu.Lock()
	r.failSend = true
	r.mu.Unlock()
}

// OnClose registers fn to run the first time Close is called.
func (r *Recorder) OnClose(fn func()) {
	r.mu.Lock()
	r.onClose = fn
	r.mu.Unlock()
}

func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Recorder) Messages() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.messages))
	copy(out, r.messages)
	return out
}

// Types returns the "type" field of every captured message, in order.
func (r *Recorder) Types() []string {
	var types []string
	for _, m := range r.Messages() {
		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(m, &env); err == nil {
			types = append(types, env.Type)
		}
	}
	return types
}

// Last decodes the most recent message of the given type into v and reports
// whether one was found.
func (r *Recorder) Last(msgType string, v any) bool {
	msgs := r.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msgs[i], &env); err != nil || env.Type != msgType {
			continue
		}
		return json.Unmarshal(msgs[i], v) == nil
	}
	return false
}

// Count returns how many messages of the given type were captured.
func (r *Recorder) Count(msgType string) int {
	n := 0
	for _, t := range r.Types() {
		if t == msgType {
			n++
		}
	}
	return n
}
