package notify

import (
	"context"
	"errors"
	"testing"
	"time"
)

// blockingNotifier holds every delivery until release is closed or ctx ends.
type blockingNotifier struct {
	release   chan struct{}
	delivered chan Notification
}

func (n *blockingNotifier) Notify(ctx context.Context, notification Notification) error {
	select {
	case <-n.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	n.delivered <- notification
	return nil
}

func TestQueueNotifyDoesNotWaitForDelivery(t *testing.T) {
	t.Parallel()

	next := &blockingNotifier{release: make(chan struct{}), delivered: make(chan Notification, 4)}
	queue := NewQueue(next, 2, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go queue.Run(ctx)

	start := time.Now()
	for _, title := range []string{"first", "second"} {
		if err := queue.Notify(context.Background(), Notification{Title: title}); err != nil {
			t.Fatalf("enqueue %s: %v", title, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("enqueue must not wait on sinks, took %s", elapsed)
	}

	close(next.release)
	for _, want := range []string{"first", "second"} {
		select {
		case got := <-next.delivered:
			if got.Title != want {
				t.Fatalf("expected %s delivered in order, got %s", want, got.Title)
			}
		case <-time.After(time.Second):
			t.Fatalf("notification %s not delivered", want)
		}
	}
}

func TestQueueRejectsWhenFull(t *testing.T) {
	t.Parallel()

	queue := NewQueue(&blockingNotifier{release: make(chan struct{}), delivered: make(chan Notification, 1)}, 1, discardLogger())
	if err := queue.Notify(context.Background(), Notification{Title: "kept"}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := queue.Notify(context.Background(), Notification{Title: "dropped"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if queue.Pending() != 1 || queue.Dropped() != 1 {
		t.Fatalf("unexpected pending=%d dropped=%d", queue.Pending(), queue.Dropped())
	}
}

func TestQueueRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	next := &blockingNotifier{release: make(chan struct{}), delivered: make(chan Notification, 1)}
	queue := NewQueue(next, 4, discardLogger())
	if err := queue.Notify(context.Background(), Notification{Title: "stuck"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		queue.Run(ctx)
		close(stopped)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatalf("worker must stop when its context is cancelled")
	}
}
