package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fleetpulse/internal/domain"
	"fleetpulse/internal/timewindow"
)

func TestMemoryStoreAlertLifecycle(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 24, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(func() time.Time { return now })
	store.PutMachine(domain.Machine{ID: "m1", Name: "Haul Truck 07", Status: domain.MachineStatusOK})
	if err := store.PutAlert(domain.Alert{ID: "a1", MachineID: "m1", Severity: domain.SeverityCritical, Status: domain.AlertStatusOpen, OpenedAt: now.Add(-time.Hour), Message: "Low pressure"}); err != nil {
		t.Fatalf("put alert: %v", err)
	}

	alert, err := store.GetAlert(context.Background(), "a1")
	if err != nil {
		t.Fatalf("get alert: %v", err)
	}
	if alert.MachineName != "Haul Truck 07" {
		t.Fatalf("machine name must be joined, got %q", alert.MachineName)
	}

	updated, err := store.UpdateAlert(context.Background(), AlertPatch{
		ID:             "a1",
		ExpectedStatus: domain.AlertStatusOpen,
		Status:         domain.AlertStatusAcknowledged,
		AcknowledgedBy: domain.StringPtr("u1"),
	})
	if err != nil {
		t.Fatalf("update alert: %v", err)
	}
	if updated.Status != domain.AlertStatusAcknowledged || !updated.UpdatedAt.Equal(now) {
		t.Fatalf("unexpected updated alert %+v", updated)
	}

	if _, err := store.UpdateAlert(context.Background(), AlertPatch{ID: "a1", ExpectedStatus: domain.AlertStatusOpen, Status: domain.AlertStatusResolved}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := store.UpdateAlert(context.Background(), AlertPatch{ID: "missing", ExpectedStatus: domain.AlertStatusOpen}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreListAlertsWindowAndOrder(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 24, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(func() time.Time { return now })
	for _, alert := range []domain.Alert{
		{ID: "old", MachineID: "m1", Severity: domain.SeverityLow, Status: domain.AlertStatusOpen, OpenedAt: now.Add(-48 * time.Hour)},
		{ID: "mid", MachineID: "m1", Severity: domain.SeverityLow, Status: domain.AlertStatusResolved, OpenedAt: now.Add(-2 * time.Hour)},
		{ID: "new", MachineID: "m2", Severity: domain.SeverityHigh, Status: domain.AlertStatusOpen, OpenedAt: now.Add(-time.Hour)},
		{ID: "edge", MachineID: "m1", Severity: domain.SeverityHigh, Status: domain.AlertStatusOpen, OpenedAt: now},
	} {
		if err := store.PutAlert(alert); err != nil {
			t.Fatalf("put alert %s: %v", alert.ID, err)
		}
	}

	window, _ := timewindow.Resolve(timewindow.Period24h, nil, now)
	alerts, err := store.ListAlerts(context.Background(), AlertQuery{Window: window})
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 2 || alerts[0].ID != "new" || alerts[1].ID != "mid" {
		t.Fatalf("unexpected alerts %+v", alerts)
	}

	alerts, _ = store.ListAlerts(context.Background(), AlertQuery{Window: window, Statuses: []domain.AlertStatus{domain.AlertStatusOpen}, MachineID: "m2"})
	if len(alerts) != 1 || alerts[0].ID != "new" {
		t.Fatalf("unexpected filtered alerts %+v", alerts)
	}
}

func TestMemoryStorePublishesChanges(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 24, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(func() time.Time { return now })

	var mu sync.Mutex
	changes := make([]domain.Change, 0)
	store.OnChange(func(change domain.Change) {
		mu.Lock()
		changes = append(changes, change)
		mu.Unlock()
	})

	store.PutMachine(domain.Machine{ID: "m1", Name: "Loader", Status: domain.MachineStatusOK})
	occurrence := domain.Occurrence{ID: "o1", MachineID: "m1", Status: domain.OccurrenceStatusOpen, CreatedAt: now}
	if _, err := store.InsertOccurrence(context.Background(), occurrence); err != nil {
		t.Fatalf("insert occurrence: %v", err)
	}
	if _, err := store.InsertOccurrence(context.Background(), occurrence); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate insert must conflict, got %v", err)
	}
	if _, err := store.UpdateOccurrenceStatus(context.Background(), "o1", domain.OccurrenceStatusClosed); err != nil {
		t.Fatalf("update occurrence: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 3 {
		t.Fatalf("expected 3 changes, got %d", len(changes))
	}
	if changes[0].Table != domain.TableMachines || changes[0].Type != domain.ChangeInsert {
		t.Fatalf("unexpected first change %+v", changes[0])
	}
	last := changes[2]
	if last.Table != domain.TableOccurrences || last.Type != domain.ChangeUpdate || len(last.Old) == 0 || len(last.New) == 0 {
		t.Fatalf("unexpected update change %+v", last)
	}
	for _, change := range changes {
		if err := change.Validate(); err != nil {
			t.Fatalf("published change must be valid: %v", err)
		}
	}
}

func TestMemoryStoreTelemetryAndActivity(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 24, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(func() time.Time { return now })
	tire := "t1"
	store.PutTire(domain.Tire{ID: tire, MachineID: "m1", RecommendedPressure: 30})
	store.PutTelemetry(domain.TelemetryReading{ID: "r1", MachineID: "m1", TireID: &tire, Pressure: 24, Timestamp: now.Add(-time.Minute), Seq: 1})
	store.PutTelemetry(domain.TelemetryReading{ID: "r2", MachineID: "m1", TireID: &tire, Pressure: 29, Timestamp: now.Add(-time.Minute), Seq: 2})
	store.PutTelemetry(domain.TelemetryReading{ID: "other", MachineID: "m1", Pressure: 10, Timestamp: now.Add(-time.Minute)})

	window, _ := timewindow.Resolve(timewindow.Period1h, nil, now)
	readings, err := store.ListTelemetry(context.Background(), TelemetryQuery{Window: window, TireID: tire})
	if err != nil {
		t.Fatalf("list telemetry: %v", err)
	}
	if len(readings) != 2 || readings[0].ID != "r2" {
		t.Fatalf("unexpected readings %+v", readings)
	}
	if _, err := store.GetTire(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found tire, got %v", err)
	}

	entry := domain.ActivityEntry{ID: "e1", AlertID: "a1", Action: "acknowledge", Actor: "u1", At: now}
	if err := store.AppendActivity(context.Background(), entry); err != nil {
		t.Fatalf("append activity: %v", err)
	}
	entries, _ := store.ListActivity(context.Background(), "a1")
	if len(entries) != 1 || entries[0] != entry {
		t.Fatalf("unexpected activity %+v", entries)
	}
}
