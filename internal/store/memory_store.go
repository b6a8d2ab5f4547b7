package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"fleetpulse/internal/domain"
)

// ChangeFunc receives row-level changes applied to a memory store.
type ChangeFunc func(change domain.Change)

// MemoryStore keeps fleet rows in process memory for single-instance mode.
// Params: in-memory tables, injected clock and optional change hook.
// Returns: store implementation without external dependencies.
type MemoryStore struct {
	mu          sync.RWMutex
	now         func() time.Time
	onChange    ChangeFunc
	alerts      map[string]domain.Alert
	occurrences map[string]domain.Occurrence
	telemetry   map[string]domain.TelemetryReading
	tires       map[string]domain.Tire
	machines    map[string]domain.Machine
	activity    map[string][]domain.ActivityEntry
}

// NewMemoryStore creates in-memory store.
// Params: now function (defaults to time.Now when nil).
// Returns: initialized in-memory store.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:         now,
		alerts:      make(map[string]domain.Alert),
		occurrences: make(map[string]domain.Occurrence),
		telemetry:   make(map[string]domain.TelemetryReading),
		tires:       make(map[string]domain.Tire),
		machines:    make(map[string]domain.Machine),
		activity:    make(map[string][]domain.ActivityEntry),
	}
}

// OnChange installs hook invoked after every committed row change.
// Params: change callback (nil disables publishing).
// Returns: none.
func (s *MemoryStore) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// PutAlert inserts or replaces alert row.
// Params: alert row.
// Returns: validation error.
func (s *MemoryStore) PutAlert(alert domain.Alert) error {
	if err := alert.Validate(); err != nil {
		return err
	}
	if alert.UpdatedAt.IsZero() {
		alert.UpdatedAt = alert.OpenedAt
	}
	alert.MachineName = ""
	s.mu.Lock()
	old, existed := s.alerts[alert.ID]
	s.alerts[alert.ID] = alert.Clone()
	hook := s.onChange
	s.mu.Unlock()
	s.publish(hook, domain.TableAlerts, upsertType(existed), optionalRow(old, existed), alert)
	return nil
}

// DeleteAlert removes alert row.
func (s *MemoryStore) DeleteAlert(id string) {
	s.mu.Lock()
	old, existed := s.alerts[id]
	delete(s.alerts, id)
	hook := s.onChange
	s.mu.Unlock()
	if existed {
		s.publish(hook, domain.TableAlerts, domain.ChangeDelete, old, nil)
	}
}

// PutOccurrence inserts or replaces occurrence row.
func (s *MemoryStore) PutOccurrence(occurrence domain.Occurrence) error {
	if err := occurrence.Validate(); err != nil {
		return err
	}
	if occurrence.UpdatedAt.IsZero() {
		occurrence.UpdatedAt = occurrence.CreatedAt
	}
	s.mu.Lock()
	old, existed := s.occurrences[occurrence.ID]
	s.occurrences[occurrence.ID] = occurrence.Clone()
	hook := s.onChange
	s.mu.Unlock()
	s.publish(hook, domain.TableOccurrences, upsertType(existed), optionalRow(old, existed), occurrence)
	return nil
}

// PutTelemetry inserts telemetry reading.
func (s *MemoryStore) PutTelemetry(reading domain.TelemetryReading) {
	s.mu.Lock()
	old, existed := s.telemetry[reading.ID]
	s.telemetry[reading.ID] = reading
	hook := s.onChange
	s.mu.Unlock()
	s.publish(hook, domain.TableTelemetry, upsertType(existed), optionalRow(old, existed), reading)
}

// PutTire inserts or replaces tire row.
func (s *MemoryStore) PutTire(tire domain.Tire) {
	s.mu.Lock()
	s.tires[tire.ID] = tire
	s.mu.Unlock()
}

// PutMachine inserts or replaces machine row.
func (s *MemoryStore) PutMachine(machine domain.Machine) {
	s.mu.Lock()
	old, existed := s.machines[machine.ID]
	s.machines[machine.ID] = machine
	hook := s.onChange
	s.mu.Unlock()
	s.publish(hook, domain.TableMachines, upsertType(existed), optionalRow(old, existed), machine)
}

// ListAlerts returns alerts opened inside query window, newest first.
// Params: alert query.
// Returns: matching alerts with joined machine names.
func (s *MemoryStore) ListAlerts(_ context.Context, query AlertQuery) ([]domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Alert, 0)
	for _, alert := range s.alerts {
		if !query.Window.Contains(alert.OpenedAt) {
			continue
		}
		if query.MachineID != "" && alert.MachineID != query.MachineID {
			continue
		}
		if query.TireID != "" && (alert.TireID == nil || *alert.TireID != query.TireID) {
			continue
		}
		if len(query.Statuses) > 0 && !containsValue(query.Statuses, alert.Status) {
			continue
		}
		out = append(out, s.withMachineName(alert))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.After(out[j].OpenedAt)
	})
	return limit(out, query.Limit), nil
}

// GetAlert returns one alert.
// Params: alert id.
// Returns: alert or ErrNotFound.
func (s *MemoryStore) GetAlert(_ context.Context, id string) (domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alert, ok := s.alerts[id]
	if !ok {
		return domain.Alert{}, ErrNotFound
	}
	return s.withMachineName(alert), nil
}

// UpdateAlert applies patch while stored status equals expected status.
// Params: alert patch.
// Returns: updated alert, ErrNotFound or ErrConflict.
func (s *MemoryStore) UpdateAlert(_ context.Context, patch AlertPatch) (domain.Alert, error) {
	s.mu.Lock()
	current, ok := s.alerts[patch.ID]
	if !ok {
		s.mu.Unlock()
		return domain.Alert{}, ErrNotFound
	}
	if current.Status != patch.ExpectedStatus {
		s.mu.Unlock()
		return domain.Alert{}, ErrConflict
	}
	next := current.Clone()
	next.Status = patch.Status
	next.AcknowledgedBy = cloneString(patch.AcknowledgedBy)
	next.Reason = cloneString(patch.Reason)
	next.UpdatedAt = s.now().UTC()
	s.alerts[patch.ID] = next
	result := s.withMachineName(next)
	hook := s.onChange
	s.mu.Unlock()
	s.publish(hook, domain.TableAlerts, domain.ChangeUpdate, current, next)
	return result, nil
}

// ListOccurrences returns occurrences created inside query window, newest first.
func (s *MemoryStore) ListOccurrences(_ context.Context, query OccurrenceQuery) ([]domain.Occurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Occurrence, 0)
	for _, occurrence := range s.occurrences {
		if !query.Window.Contains(occurrence.CreatedAt) {
			continue
		}
		if query.MachineID != "" && occurrence.MachineID != query.MachineID {
			continue
		}
		if query.TireID != "" && (occurrence.TireID == nil || *occurrence.TireID != query.TireID) {
			continue
		}
		if query.AlertID != "" && (occurrence.AlertID == nil || *occurrence.AlertID != query.AlertID) {
			continue
		}
		if len(query.Statuses) > 0 && !containsValue(query.Statuses, occurrence.Status) {
			continue
		}
		out = append(out, occurrence.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return limit(out, query.Limit), nil
}

// InsertOccurrence stores new occurrence.
// Params: occurrence row.
// Returns: stored occurrence or conflict when id exists.
func (s *MemoryStore) InsertOccurrence(_ context.Context, occurrence domain.Occurrence) (domain.Occurrence, error) {
	if err := occurrence.Validate(); err != nil {
		return domain.Occurrence{}, err
	}
	s.mu.Lock()
	if _, exists := s.occurrences[occurrence.ID]; exists {
		s.mu.Unlock()
		return domain.Occurrence{}, fmt.Errorf("occurrence %s: %w", occurrence.ID, ErrConflict)
	}
	if occurrence.UpdatedAt.IsZero() {
		occurrence.UpdatedAt = occurrence.CreatedAt
	}
	s.occurrences[occurrence.ID] = occurrence.Clone()
	hook := s.onChange
	s.mu.Unlock()
	s.publish(hook, domain.TableOccurrences, domain.ChangeInsert, nil, occurrence)
	return occurrence.Clone(), nil
}

// UpdateOccurrenceStatus changes occurrence status.
// Params: occurrence id and target status.
// Returns: updated occurrence or ErrNotFound.
func (s *MemoryStore) UpdateOccurrenceStatus(_ context.Context, id string, status domain.OccurrenceStatus) (domain.Occurrence, error) {
	s.mu.Lock()
	current, ok := s.occurrences[id]
	if !ok {
		s.mu.Unlock()
		return domain.Occurrence{}, ErrNotFound
	}
	next := current.Clone()
	next.Status = status
	next.UpdatedAt = s.now().UTC()
	s.occurrences[id] = next
	hook := s.onChange
	s.mu.Unlock()
	s.publish(hook, domain.TableOccurrences, domain.ChangeUpdate, current, next)
	return next.Clone(), nil
}

// ListTelemetry returns readings inside query window, newest first.
func (s *MemoryStore) ListTelemetry(_ context.Context, query TelemetryQuery) ([]domain.TelemetryReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.TelemetryReading, 0)
	for _, reading := range s.telemetry {
		if !query.Window.Contains(reading.Timestamp) {
			continue
		}
		if query.MachineID != "" && reading.MachineID != query.MachineID {
			continue
		}
		if query.TireID != "" && (reading.TireID == nil || *reading.TireID != query.TireID) {
			continue
		}
		out = append(out, reading)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Seq > out[j].Seq
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return limit(out, query.Limit), nil
}

// GetTire returns one tire.
func (s *MemoryStore) GetTire(_ context.Context, id string) (domain.Tire, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tire, ok := s.tires[id]
	if !ok {
		return domain.Tire{}, ErrNotFound
	}
	return tire, nil
}

// ListMachines returns machines ordered by name.
func (s *MemoryStore) ListMachines(_ context.Context) ([]domain.Machine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Machine, 0, len(s.machines))
	for _, machine := range s.machines {
		out = append(out, machine)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// AppendActivity appends activity entry for alert.
func (s *MemoryStore) AppendActivity(_ context.Context, entry domain.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity[entry.AlertID] = append(s.activity[entry.AlertID], entry)
	return nil
}

// ListActivity returns alert activity, oldest first.
func (s *MemoryStore) ListActivity(_ context.Context, alertID string) ([]domain.ActivityEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.activity[alertID]
	out := make([]domain.ActivityEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// Ping always succeeds for memory store.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Close releases memory store resources.
// Params: none.
// Returns: nil.
func (s *MemoryStore) Close() error {
	return nil
}

// withMachineName joins machine name; caller holds read lock.
func (s *MemoryStore) withMachineName(alert domain.Alert) domain.Alert {
	out := alert.Clone()
	if machine, ok := s.machines[alert.MachineID]; ok {
		out.MachineName = machine.Name
	}
	return out
}

// publish encodes rows and calls change hook outside store lock.
func (s *MemoryStore) publish(hook ChangeFunc, table domain.Table, changeType domain.ChangeType, oldRow, newRow any) {
	if hook == nil {
		return
	}
	change := domain.Change{Table: table, Type: changeType, CommitAt: s.now().UTC()}
	if oldRow != nil {
		if raw, err := sonic.Marshal(oldRow); err == nil {
			change.Old = raw
		}
	}
	if newRow != nil {
		if raw, err := sonic.Marshal(newRow); err == nil {
			change.New = raw
		}
	}
	hook(change)
}

func upsertType(existed bool) domain.ChangeType {
	if existed {
		return domain.ChangeUpdate
	}
	return domain.ChangeInsert
}

func optionalRow[T any](row T, ok bool) any {
	if !ok {
		return nil
	}
	return row
}

func containsValue[T comparable](set []T, value T) bool {
	for _, item := range set {
		if item == value {
			return true
		}
	}
	return false
}

func limit[T any](rows []T, max int) []T {
	if max > 0 && len(rows) > max {
		return rows[:max]
	}
	return rows
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
