package optimistic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"fleetpulse/internal/clock"
	"fleetpulse/internal/domain"
	"fleetpulse/internal/failure"
	"fleetpulse/internal/lifecycle"
	"fleetpulse/internal/store"
)

// ErrEmptyDescription rejects occurrences without text.
var ErrEmptyDescription = errors.New("occurrence description is required")

// Settler schedules the background re-fetch that follows every mutation.
type Settler interface {
	Trigger()
}

// Coordinator owns the local alert collection and applies mutations optimistically.
// Params: store of record, settle trigger, clock and logger.
// Returns: single owner of alert rows shown to operators.
type Coordinator struct {
	store   store.Store
	settler Settler
	clock   clock.Clock
	logger  *slog.Logger

	mu       sync.Mutex
	rows     []domain.Alert
	index    map[string]int
	inflight map[string]int

	locksMu sync.Mutex
	locks   map[string]*alertLock
}

type alertLock struct {
	mu   sync.Mutex
	refs int
}

// NewCoordinator creates coordinator with an empty collection.
// Params: store, settler (may be nil), clock and logger.
// Returns: coordinator.
func NewCoordinator(st store.Store, settler Settler, clk clock.Clock, logger *slog.Logger) *Coordinator {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:    st,
		settler:  settler,
		clock:    clk,
		logger:   logger,
		index:    make(map[string]int),
		inflight: make(map[string]int),
		locks:    make(map[string]*alertLock),
	}
}

// SetSettler replaces the settle trigger; used when refresher is built after coordinator.
func (c *Coordinator) SetSettler(settler Settler) {
	c.mu.Lock()
	c.settler = settler
	c.mu.Unlock()
}

// Snapshot returns a deep copy of the collection in load order.
func (c *Coordinator) Snapshot() []domain.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.CloneAlerts(c.rows)
}

// Get returns one alert from the collection.
func (c *Coordinator) Get(id string) (domain.Alert, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	alert, ok := c.getLocked(id)
	return alert, ok
}

// Replace reconciles the collection with an authoritative fetch.
// Params: fetched alerts.
// Returns: none; rows with an in-flight mutation keep their speculative state.
func (c *Coordinator) Replace(alerts []domain.Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows := make([]domain.Alert, 0, len(alerts))
	index := make(map[string]int, len(alerts))
	for _, alert := range alerts {
		if c.inflight[alert.ID] > 0 {
			if local, ok := c.getLocked(alert.ID); ok {
				alert = local
			}
		}
		index[alert.ID] = len(rows)
		rows = append(rows, alert.Clone())
	}
	c.rows = rows
	c.index = index
}

// Acknowledge marks alert seen by actor.
func (c *Coordinator) Acknowledge(ctx context.Context, id, actor string) (domain.Alert, error) {
	return c.mutate(ctx, id, lifecycle.Transition{Action: lifecycle.ActionAcknowledge, Actor: actor})
}

// Assign sets acknowledged_by to assignee and advances to acknowledged.
func (c *Coordinator) Assign(ctx context.Context, id, actor, assignee string) (domain.Alert, error) {
	return c.mutate(ctx, id, lifecycle.Transition{Action: lifecycle.ActionAssign, Actor: actor, Assignee: assignee})
}

// Start moves alert to in_progress.
func (c *Coordinator) Start(ctx context.Context, id, actor string) (domain.Alert, error) {
	return c.mutate(ctx, id, lifecycle.Transition{Action: lifecycle.ActionStart, Actor: actor})
}

// Resolve closes alert with a resolution note.
func (c *Coordinator) Resolve(ctx context.Context, id, actor, note string) (domain.Alert, error) {
	return c.mutate(ctx, id, lifecycle.Transition{Action: lifecycle.ActionResolve, Actor: actor, Note: note})
}

// Apply runs an already parsed transition.
func (c *Coordinator) Apply(ctx context.Context, id string, t lifecycle.Transition) (domain.Alert, error) {
	return c.mutate(ctx, id, t)
}

// mutate runs begin, apply, server call, then commit or rollback, then settle.
// Params: alert id and transition.
// Returns: confirmed alert or classified failure.
func (c *Coordinator) mutate(ctx context.Context, id string, t lifecycle.Transition) (domain.Alert, error) {
	op := string(t.Action)
	unlock := c.lockAlert(id)
	defer unlock()

	before, err := c.begin(ctx, id)
	if err != nil {
		return domain.Alert{}, classify(op, err)
	}
	next, changed, err := lifecycle.Apply(before, t)
	if err != nil {
		return before, failure.Rejected(op, err)
	}
	if !changed {
		return before, nil
	}

	c.mu.Lock()
	c.setLocked(next)
	c.inflight[id]++
	c.mu.Unlock()

	saved, err := c.store.UpdateAlert(ctx, store.AlertPatch{
		ID:             id,
		ExpectedStatus: before.Status,
		Status:         next.Status,
		AcknowledgedBy: next.AcknowledgedBy,
		Reason:         next.Reason,
	})

	c.mu.Lock()
	c.inflight[id]--
	if c.inflight[id] <= 0 {
		delete(c.inflight, id)
	}
	if err != nil {
		c.setLocked(before)
	} else {
		c.setLocked(saved)
	}
	c.mu.Unlock()
	defer c.settle()

	if err != nil {
		c.logger.Warn("alert mutation rolled back", "alert_id", id, "action", op, "error", err.Error())
		return before, classify(op, err)
	}

	entry := lifecycle.NewActivityEntry(id, op, t.Actor, activityNote(t), c.clock.Now())
	if err := c.store.AppendActivity(ctx, entry); err != nil {
		c.logger.Warn("append activity failed", "alert_id", id, "action", op, "error", err.Error())
	}
	return saved, nil
}

// CreateOccurrence spawns an open occurrence from alert; alert status is untouched.
// Params: alert id, creating actor and description.
// Returns: stored occurrence or classified failure.
func (c *Coordinator) CreateOccurrence(ctx context.Context, alertID, actor, description string) (domain.Occurrence, error) {
	const op = "create_occurrence"
	if strings.TrimSpace(description) == "" {
		return domain.Occurrence{}, failure.Rejected(op, ErrEmptyDescription)
	}
	unlock := c.lockAlert(alertID)
	defer unlock()

	alert, err := c.begin(ctx, alertID)
	if err != nil {
		return domain.Occurrence{}, classify(op, err)
	}
	occurrence := lifecycle.NewOccurrence(alert, actor, description, c.clock.Now())
	defer c.settle()
	saved, err := c.store.InsertOccurrence(ctx, occurrence)
	if err != nil {
		return domain.Occurrence{}, classify(op, err)
	}
	entry := lifecycle.NewActivityEntry(alertID, op, actor, saved.ID, c.clock.Now())
	if err := c.store.AppendActivity(ctx, entry); err != nil {
		c.logger.Warn("append activity failed", "alert_id", alertID, "action", op, "error", err.Error())
	}
	return saved, nil
}

// begin snapshots the alert, loading it from the store when not yet in the collection.
func (c *Coordinator) begin(ctx context.Context, id string) (domain.Alert, error) {
	c.mu.Lock()
	alert, ok := c.getLocked(id)
	c.mu.Unlock()
	if ok {
		return alert, nil
	}
	loaded, err := c.store.GetAlert(ctx, id)
	if err != nil {
		return domain.Alert{}, err
	}
	c.mu.Lock()
	if current, exists := c.getLocked(id); exists {
		c.mu.Unlock()
		return current, nil
	}
	c.setLocked(loaded)
	c.mu.Unlock()
	return loaded.Clone(), nil
}

func (c *Coordinator) settle() {
	c.mu.Lock()
	settler := c.settler
	c.mu.Unlock()
	if settler != nil {
		settler.Trigger()
	}
}

func (c *Coordinator) getLocked(id string) (domain.Alert, bool) {
	pos, ok := c.index[id]
	if !ok {
		return domain.Alert{}, false
	}
	return c.rows[pos].Clone(), true
}

func (c *Coordinator) setLocked(alert domain.Alert) {
	if pos, ok := c.index[alert.ID]; ok {
		c.rows[pos] = alert.Clone()
		return
	}
	c.index[alert.ID] = len(c.rows)
	c.rows = append(c.rows, alert.Clone())
}

// lockAlert serializes mutations of one alert id.
// Returns: unlock callback releasing the lock and its refcount.
func (c *Coordinator) lockAlert(id string) func() {
	c.locksMu.Lock()
	lock, ok := c.locks[id]
	if !ok {
		lock = &alertLock{}
		c.locks[id] = lock
	}
	lock.refs++
	c.locksMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		c.locksMu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(c.locks, id)
		}
		c.locksMu.Unlock()
	}
}

func activityNote(t lifecycle.Transition) string {
	switch t.Action {
	case lifecycle.ActionAssign:
		return t.Assignee
	case lifecycle.ActionResolve:
		return t.Note
	default:
		return ""
	}
}

// classify maps store and lifecycle errors to failure kinds.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrNotFound),
		errors.Is(err, lifecycle.ErrInvalidTransition), errors.Is(err, lifecycle.ErrUnknownAction):
		return failure.Rejected(op, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return failure.Transport(op, fmt.Errorf("request aborted: %w", err))
	default:
		return failure.Transport(op, err)
	}
}
