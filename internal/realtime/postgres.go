package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"fleetpulse/internal/domain"

	"github.com/lib/pq"
)

// listener is the subset of *pq.Listener used by PGFeed.
type listener interface {
	Listen(channel string) error
	Unlisten(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Close() error
}

// PGFeed receives change notifications from PostgreSQL LISTEN/NOTIFY channels `<prefix>_<table>`.
// Params: listener, channel prefix, logger and resync hook.
// Returns: feed for deployments where the database is the only broker.
type PGFeed struct {
	listener listener
	prefix   string
	logger   *slog.Logger

	mu       sync.Mutex
	nextID   int
	handlers map[string]map[int]Handler
	onResync func()
	done     chan struct{}
}

// NewPGFeed opens a reconnecting listener on dsn.
// Params: connection string, channel prefix, logger and connectivity callback.
// Returns: running feed.
func NewPGFeed(dsn, prefix string, logger *slog.Logger, onState func(online bool)) *PGFeed {
	l := pq.NewListener(dsn, 10*time.Second, time.Minute, func(event pq.ListenerEventType, err error) {
		if onState == nil {
			return
		}
		switch event {
		case pq.ListenerEventConnected, pq.ListenerEventReconnected:
			onState(true)
		case pq.ListenerEventDisconnected, pq.ListenerEventConnectionAttemptFailed:
			onState(false)
		}
	})
	return newPGFeed(l, prefix, logger)
}

func newPGFeed(l listener, prefix string, logger *slog.Logger) *PGFeed {
	if logger == nil {
		logger = slog.Default()
	}
	feed := &PGFeed{
		listener: l,
		prefix:   strings.TrimSuffix(prefix, "_"),
		logger:   logger,
		handlers: make(map[string]map[int]Handler),
		done:     make(chan struct{}),
	}
	go feed.loop()
	return feed
}

// OnResync sets the hook fired after the listener reconnects.
// Notifications sent while disconnected are lost, so callers refetch.
func (f *PGFeed) OnResync(fn func()) {
	f.mu.Lock()
	f.onResync = fn
	f.mu.Unlock()
}

// Channel returns the NOTIFY channel carrying changes of table.
func (f *PGFeed) Channel(table domain.Table) string {
	return f.prefix + "_" + string(table)
}

// Subscribe listens to the table channel; the first handler issues LISTEN.
// Params: table and handler.
// Returns: subscription issuing UNLISTEN when the last handler closes.
func (f *PGFeed) Subscribe(table domain.Table, handler Handler) (Subscription, error) {
	channel := f.Channel(table)
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.handlers[channel]) == 0 {
		if err := f.listener.Listen(channel); err != nil && !errors.Is(err, pq.ErrChannelAlreadyOpen) {
			return nil, fmt.Errorf("listen %s: %w", channel, err)
		}
		f.handlers[channel] = make(map[int]Handler)
	}
	f.nextID++
	id := f.nextID
	f.handlers[channel][id] = handler
	return &pgSubscription{feed: f, channel: channel, id: id}, nil
}

// Close stops the listener and waits for the dispatch loop.
func (f *PGFeed) Close() error {
	err := f.listener.Close()
	<-f.done
	return err
}

func (f *PGFeed) loop() {
	defer close(f.done)
	for notification := range f.listener.NotificationChannel() {
		if notification == nil {
			f.mu.Lock()
			resync := f.onResync
			f.mu.Unlock()
			f.logger.Info("postgres listener reconnected")
			if resync != nil {
				resync()
			}
			continue
		}
		change, err := DecodeChange([]byte(notification.Extra))
		if err != nil {
			f.logger.Warn("drop malformed change", "channel", notification.Channel, "error", err.Error())
			continue
		}
		f.mu.Lock()
		handlers := make([]Handler, 0, len(f.handlers[notification.Channel]))
		for _, handler := range f.handlers[notification.Channel] {
			handlers = append(handlers, handler)
		}
		f.mu.Unlock()
		for _, handler := range handlers {
			handler(context.Background(), change)
		}
	}
}

func (f *PGFeed) unsubscribe(channel string, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	handlers, ok := f.handlers[channel]
	if !ok {
		return nil
	}
	delete(handlers, id)
	if len(handlers) > 0 {
		return nil
	}
	delete(f.handlers, channel)
	if err := f.listener.Unlisten(channel); err != nil && !errors.Is(err, pq.ErrChannelNotOpen) {
		return fmt.Errorf("unlisten %s: %w", channel, err)
	}
	return nil
}

type pgSubscription struct {
	feed    *PGFeed
	channel string
	id      int
	once    sync.Once
	err     error
}

func (s *pgSubscription) Close() error {
	s.once.Do(func() {
		s.err = s.feed.unsubscribe(s.channel, s.id)
	})
	return s.err
}
