package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"fleetpulse/internal/cache"
	"fleetpulse/internal/domain"
	"fleetpulse/internal/notify"
	"fleetpulse/internal/sla"
)

// InvalidateHook is called after cached query sets for tables were dropped.
type InvalidateHook func(ctx context.Context, tables []domain.Table)

// ManagerOptions wires the subscription manager.
// Params: feed, cache, notifier, SLA policy for messages and logger.
// Returns: manager dependencies.
type ManagerOptions struct {
	Feed     Feed
	Cache    cache.Cache
	Notifier notify.Notifier
	Policy   sla.Policy
	Logger   *slog.Logger
}

// Manager owns exactly one subscription per watched table.
// Params: options passed to NewManager.
// Returns: lifecycle handle translating changes into invalidation and notifications.
type Manager struct {
	feed     Feed
	cache    cache.Cache
	notifier notify.Notifier
	policy   sla.Policy
	logger   *slog.Logger

	mu    sync.Mutex
	subs  map[domain.Table]Subscription
	hooks []InvalidateHook
}

// NewManager creates a stopped manager.
func NewManager(opts ManagerOptions) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		feed:     opts.Feed,
		cache:    opts.Cache,
		notifier: opts.Notifier,
		policy:   opts.Policy,
		logger:   logger,
		subs:     make(map[domain.Table]Subscription),
	}
}

// OnInvalidate registers hook fired after every invalidation.
func (m *Manager) OnInvalidate(hook InvalidateHook) {
	m.mu.Lock()
	m.hooks = append(m.hooks, hook)
	m.mu.Unlock()
}

// Start subscribes to tables.
// Params: context (unused by subscribe) and table set.
// Returns: first subscription error; nothing stays subscribed from a failed call.
func (m *Manager) Start(_ context.Context, tables []domain.Table) error {
	return m.Watch(tables)
}

// Watch reconciles live subscriptions with tables.
// Params: desired table set.
// Returns: subscribe error; an identical set is a no-op.
func (m *Manager) Watch(tables []domain.Table) error {
	desired := make(map[domain.Table]struct{}, len(tables))
	for _, table := range tables {
		if !table.Valid() {
			return fmt.Errorf("table %q is not watched", table)
		}
		desired[table] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	added := make([]domain.Table, 0)
	for _, table := range sortedTables(desired) {
		if _, ok := m.subs[table]; ok {
			continue
		}
		sub, err := m.feed.Subscribe(table, m.Handle)
		if err != nil {
			for _, rollback := range added {
				_ = m.subs[rollback].Close()
				delete(m.subs, rollback)
			}
			return fmt.Errorf("subscribe %s: %w", table, err)
		}
		m.subs[table] = sub
		added = append(added, table)
	}

	var errs []error
	for _, table := range m.sortedSubscribed() {
		if _, keep := desired[table]; keep {
			continue
		}
		if err := m.subs[table].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", table, err))
		}
		delete(m.subs, table)
	}
	if len(added) > 0 {
		m.logger.Info("realtime subscriptions updated", "added", len(added), "watched", len(m.subs))
	}
	return errors.Join(errs...)
}

// Stop closes every subscription in table order.
// Returns: joined close errors.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for _, table := range m.sortedSubscribed() {
		if err := m.subs[table].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", table, err))
		}
		delete(m.subs, table)
	}
	return errors.Join(errs...)
}

// Watched returns subscribed tables in sorted order.
func (m *Manager) Watched() []domain.Table {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedSubscribed()
}

// Handle processes one change: invalidate, fire hooks, notify.
// Params: context and change.
// Returns: none; failures are logged.
func (m *Manager) Handle(ctx context.Context, change domain.Change) {
	m.invalidate(ctx, Dependents(change.Table))

	if m.notifier == nil {
		return
	}
	notification, ok, err := Classify(change, m.policy)
	if err != nil {
		m.logger.Warn("classify change failed", "table", string(change.Table), "type", string(change.Type), "error", err.Error())
		return
	}
	if !ok {
		return
	}
	if err := m.notifier.Notify(ctx, notification); err != nil {
		m.logger.Warn("notify change failed", "table", string(change.Table), "error", err.Error())
	}
}

// Resync drops every watched query set, used after the feed lost messages.
func (m *Manager) Resync(ctx context.Context) {
	m.invalidate(ctx, m.Watched())
}

func (m *Manager) invalidate(ctx context.Context, tables []domain.Table) {
	if len(tables) == 0 {
		return
	}
	if m.cache != nil {
		if err := m.cache.Invalidate(ctx, tables...); err != nil {
			m.logger.Warn("cache invalidate failed", "tables", fmt.Sprint(tables), "error", err.Error())
		}
	}
	m.mu.Lock()
	hooks := append([]InvalidateHook(nil), m.hooks...)
	m.mu.Unlock()
	for _, hook := range hooks {
		hook(ctx, tables)
	}
}

func (m *Manager) sortedSubscribed() []domain.Table {
	set := make(map[domain.Table]struct{}, len(m.subs))
	for table := range m.subs {
		set[table] = struct{}{}
	}
	return sortedTables(set)
}

func sortedTables(set map[domain.Table]struct{}) []domain.Table {
	out := make([]domain.Table, 0, len(set))
	for table := range set {
		out = append(out, table)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
