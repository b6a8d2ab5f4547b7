package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrQueueFull is returned when the delivery queue has no free slot.
var ErrQueueFull = errors.New("notification queue is full")

// DefaultQueueSize bounds pending notifications when config leaves it unset.
const DefaultQueueSize = 256

// Queue hands notifications to a background worker so producers never wait on sinks.
// Params: downstream notifier, queue capacity and logger.
// Returns: non-blocking Notifier drained by Run.
type Queue struct {
	next   Notifier
	jobs   chan Notification
	logger *slog.Logger

	mu      sync.Mutex
	dropped int
}

// NewQueue creates a bounded delivery queue.
// Params: downstream notifier, capacity (DefaultQueueSize when <= 0) and logger.
// Returns: queue; nothing is delivered until Run is called.
func NewQueue(next Notifier, size int, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		next:   next,
		jobs:   make(chan Notification, size),
		logger: logger,
	}
}

// Notify enqueues notification without blocking.
// Params: context (unused) and notification.
// Returns: ErrQueueFull when the queue is saturated.
func (q *Queue) Notify(_ context.Context, notification Notification) error {
	select {
	case q.jobs <- notification:
		return nil
	default:
		q.mu.Lock()
		q.dropped++
		q.mu.Unlock()
		return ErrQueueFull
	}
}

// Run delivers queued notifications until ctx is done.
// Params: service lifetime context; sink retries stop when it is cancelled.
// Returns: none.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			if pending := len(q.jobs); pending > 0 {
				q.logger.Warn("notification queue stopped with pending items", "pending", pending)
			}
			return
		case notification := <-q.jobs:
			if err := q.next.Notify(ctx, notification); err != nil {
				q.logger.Warn("queued notification failed", "title", notification.Title, "error", err.Error())
			}
		}
	}
}

// Pending returns queued notification count.
func (q *Queue) Pending() int {
	return len(q.jobs)
}

// Dropped returns how many notifications were rejected by a full queue.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
