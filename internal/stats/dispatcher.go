package stats

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Dispatcher delivers reports from a buffered queue on its own goroutine so
// game handling never waits on the statistics collaborators.
type Dispatcher struct {
	reporter Reporter
	timeout  time.Duration
	logger   *zap.Logger

	// mu guards closed so Submit never sends on a closed queue.
	mu     sync.RWMutex
	closed bool
	queue  chan Report
	wg     sync.WaitGroup
}

func NewDispatcher(reporter Reporter, buffer int, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	return &Dispatcher{
		reporter: reporter,
		timeout:  timeout,
		logger:   logger.Named("stats"),
		queue:    make(chan Report, buffer),
	}
}

// Start launches the delivery goroutine.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.run()
}

// Submit enqueues r. It never blocks: when the buffer is full or the
// dispatcher is stopped the report is dropped and Submit returns false.
func (d *Dispatcher) Submit(r Report) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("stats dispatcher stopped, dropping report",
			zap.String("username", r.Username),
			zap.String("room_id", r.RoomID),
		)
		return false
	}
	select {
	case d.queue <- r:
		return true
	default:
		d.logger.Warn("stats buffer full, dropping report",
			zap.String("username", r.Username),
			zap.String("room_id", r.RoomID),
		)
		return false
	}
}

// Stop delivers what is already queued and waits for the goroutine to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for r := range d.queue {
		d.deliver(r)
	}
}

func (d *Dispatcher) deliver(r Report) {
	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	if err := d.reporter.Report(ctx, r); err != nil {
		d.logger.Error("error reporting game result",
			zap.String("username", r.Username),
			zap.String("result", string(r.Result)),
			zap.String("room_id", r.RoomID),
			zap.Error(err),
		)
		return
	}
	d.logger.Debug("game result reported",
		zap.String("username", r.Username),
		zap.String("result", string(r.Result)),
		zap.String("room_id", r.RoomID),
	)
}
