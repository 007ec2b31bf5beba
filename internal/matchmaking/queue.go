// Package matchmaking pairs waiting players in arrival order.
package matchmaking

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Pranay-ai/tic-tac-toe-be/internal/conn"
)

var (
	ErrEmptyIdentity  = errors.New("player identity must not be empty")
	ErrDuplicateEntry = errors.New("player is already in the matchmaking queue")
)

// DuplicatePolicy decides what happens when an identity that is already
// waiting enqueues again.
type DuplicatePolicy string

const (
	// DuplicateReject refuses the second entry.
	DuplicateReject DuplicatePolicy = "reject"
	// DuplicateReplace treats the second entry as a reconnection: the waiting
	// entry keeps its place and takes over the new handle.
	DuplicateReplace DuplicatePolicy = "replace"
)

func (p DuplicatePolicy) Valid() bool {
	return p == DuplicateReject || p == DuplicateReplace
}

// Entry is a player waiting for an opponent.
type Entry struct {
	Identity string
	Handle   conn.Handle
	// Seq is the arrival order.
	Seq uint64
}

// Pair is two entries matched together; First arrived earlier.
type Pair struct {
	First  Entry
	Second Entry
}

// Queue is a FIFO of waiting entries. Every method is one atomic step with
// respect to the others, so an entry is handed out by TryPair at most once.
type Queue struct {
	policy DuplicatePolicy

	mu      sync.Mutex
	entries []Entry
	seq     uint64
}

func NewQueue(policy DuplicatePolicy) *Queue {
	if !policy.Valid() {
		policy = DuplicateReject
	}
	return &Queue{policy: policy}
}

func (q *Queue) Policy() DuplicatePolicy { return q.policy }

// Enqueue adds identity to the back of the queue. Under DuplicateReplace a
// second enqueue for a waiting identity rebinds the entry and returns the
// handle it displaced.
func (q *Queue) Enqueue(identity string, handle conn.Handle) (conn.Handle, error) {
	if identity == "" {
		return nil, ErrEmptyIdentity
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if i := q.indexOf(identity); i >= 0 {
		if q.policy != DuplicateReplace {
			return nil, fmt.Errorf("enqueue %s: %w", identity, ErrDuplicateEntry)
		}
		displaced := q.entries[i].Handle
		q.entries[i].Handle = handle
		return displaced, nil
	}

	q.seq++
	q.entries = append(q.entries, Entry{Identity: identity, Handle: handle, Seq: q.seq})
	return nil, nil
}

// TryPair removes and returns the two oldest entries.
func (q *Queue) TryPair() (Pair, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) < 2 {
		return Pair{}, false
	}
	p := Pair{First: q.entries[0], Second: q.entries[1]}
	q.entries[0], q.entries[1] = Entry{}, Entry{}
	q.entries = q.entries[2:]
	return p, true
}

// CancelHandle removes identity's entry only while it is still bound to
// handleID, so a replaced connection cannot cancel its successor. An empty
// handleID removes the entry whatever it is bound to. It reports whether an
// entry was removed.
func (q *Queue) CancelHandle(identity, handleID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.remove(identity, handleID)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *Queue) remove(identity, handleID string) bool {
	i := q.indexOf(identity)
	if i < 0 {
		return false
	}
	if handleID != "" {
		if h := q.entries[i].Handle; h == nil || h.ID() != handleID {
			return false
		}
	}
	q.entries = append(q.entries[:i], q.entries[i+1:]...)
	return true
}

func (q *Queue) indexOf(identity string) int {
	for i, e := range q.entries {
		if e.Identity == identity {
			return i
		}
	}
	return -1
}
