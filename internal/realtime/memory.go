package realtime

import (
	"context"
	"sync"

	"fleetpulse/internal/domain"
)

// MemoryFeed is an in-process change broker for single-instance mode.
// Params: none.
// Returns: feed fed by MemoryStore change hooks.
type MemoryFeed struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[domain.Table]map[int]Handler
}

// NewMemoryFeed creates an empty broker.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{handlers: make(map[domain.Table]map[int]Handler)}
}

// Subscribe registers handler for one table.
// Params: table and handler.
// Returns: subscription removing the handler on Close.
func (f *MemoryFeed) Subscribe(table domain.Table, handler Handler) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	if f.handlers[table] == nil {
		f.handlers[table] = make(map[int]Handler)
	}
	f.handlers[table][id] = handler
	return &memorySubscription{feed: f, table: table, id: id}, nil
}

// Publish delivers change synchronously to every subscriber of its table.
// Params: change notification.
// Returns: none.
func (f *MemoryFeed) Publish(change domain.Change) {
	f.mu.RLock()
	handlers := make([]Handler, 0, len(f.handlers[change.Table]))
	for _, handler := range f.handlers[change.Table] {
		handlers = append(handlers, handler)
	}
	f.mu.RUnlock()

	for _, handler := range handlers {
		handler(context.Background(), change)
	}
}

// Subscribers returns live subscription count for table.
func (f *MemoryFeed) Subscribers(table domain.Table) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.handlers[table])
}

type memorySubscription struct {
	feed  *MemoryFeed
	table domain.Table
	id    int
	once  sync.Once
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.feed.mu.Lock()
		delete(s.feed.handlers[s.table], s.id)
		if len(s.feed.handlers[s.table]) == 0 {
			delete(s.feed.handlers, s.table)
		}
		s.feed.mu.Unlock()
	})
	return nil
}
