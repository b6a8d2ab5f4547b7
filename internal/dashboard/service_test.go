package dashboard

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"fleetpulse/internal/cache"
	"fleetpulse/internal/clock"
	"fleetpulse/internal/domain"
	"fleetpulse/internal/failure"
	"fleetpulse/internal/sla"
	"fleetpulse/internal/store"
	"fleetpulse/internal/timeline"
	"fleetpulse/internal/timewindow"
	"fleetpulse/internal/triage"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// flakyStore fails selected list calls and counts alert queries.
type flakyStore struct {
	store.Store
	failAlerts      bool
	failOccurrences bool
	failTelemetry   bool
	alertCalls      atomic.Int32
}

func (s *flakyStore) ListAlerts(ctx context.Context, query store.AlertQuery) ([]domain.Alert, error) {
	s.alertCalls.Add(1)
	if s.failAlerts {
		return nil, errors.New("alerts down")
	}
	return s.Store.ListAlerts(ctx, query)
}

func (s *flakyStore) ListOccurrences(ctx context.Context, query store.OccurrenceQuery) ([]domain.Occurrence, error) {
	if s.failOccurrences {
		return nil, errors.New("occurrences down")
	}
	return s.Store.ListOccurrences(ctx, query)
}

func (s *flakyStore) ListTelemetry(ctx context.Context, query store.TelemetryQuery) ([]domain.TelemetryReading, error) {
	if s.failTelemetry {
		return nil, errors.New("telemetry down")
	}
	return s.Store.ListTelemetry(ctx, query)
}

// racingStore commits a resolve and invalidates the cache while the first alert read is in flight.
type racingStore struct {
	*store.MemoryStore
	cache cache.Cache
	raced atomic.Bool
}

func (s *racingStore) ListAlerts(ctx context.Context, query store.AlertQuery) ([]domain.Alert, error) {
	rows, err := s.MemoryStore.ListAlerts(ctx, query)
	if err != nil || !s.raced.CompareAndSwap(false, true) {
		return rows, err
	}
	if _, err := s.MemoryStore.UpdateAlert(ctx, store.AlertPatch{
		ID:             "a1",
		ExpectedStatus: domain.AlertStatusOpen,
		Status:         domain.AlertStatusResolved,
		Reason:         domain.StringPtr("fixed"),
	}); err != nil {
		return nil, err
	}
	if err := s.cache.Invalidate(ctx, domain.TableAlerts); err != nil {
		return nil, err
	}
	return rows, nil
}

type mapOverlay struct {
	rows     map[string]domain.Alert
	replaced []domain.Alert
}

func (o *mapOverlay) Get(id string) (domain.Alert, bool) {
	alert, ok := o.rows[id]
	return alert, ok
}

func (o *mapOverlay) Replace(alerts []domain.Alert) {
	o.replaced = alerts
}

func seededStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	st := store.NewMemoryStore(func() time.Time { return testNow })
	st.PutMachine(domain.Machine{ID: "m1", Name: "Haul Truck 07", Status: domain.MachineStatusOK})
	st.PutTire(domain.Tire{ID: "t1", MachineID: "m1", Position: "FL", RecommendedPressure: 100})

	alerts := []domain.Alert{
		{ID: "a1", MachineID: "m1", TireID: domain.StringPtr("t1"), Severity: domain.SeverityCritical, Status: domain.AlertStatusOpen, OpenedAt: testNow.Add(-30 * time.Minute), Message: "Pressure low"},
		{ID: "a2", MachineID: "m1", Severity: domain.SeverityLow, Status: domain.AlertStatusAcknowledged, AcknowledgedBy: domain.StringPtr("u1"), OpenedAt: testNow.Add(-2 * time.Hour), Message: "Speed spike"},
		{ID: "a3", MachineID: "m1", Severity: domain.SeverityHigh, Status: domain.AlertStatusResolved, OpenedAt: testNow.Add(-3 * time.Hour), Message: "Temperature"},
		{ID: "old", MachineID: "m1", Severity: domain.SeverityHigh, Status: domain.AlertStatusOpen, OpenedAt: testNow.Add(-72 * time.Hour), Message: "Outside"},
	}
	for _, alert := range alerts {
		if err := st.PutAlert(alert); err != nil {
			t.Fatalf("put alert: %v", err)
		}
	}
	occurrence := domain.Occurrence{
		ID:          "o1",
		AlertID:     domain.StringPtr("a1"),
		MachineID:   "m1",
		TireID:      domain.StringPtr("t1"),
		Status:      domain.OccurrenceStatusOpen,
		Description: "Calibrated",
		CreatedAt:   testNow.Add(-20 * time.Minute),
	}
	if err := st.PutOccurrence(occurrence); err != nil {
		t.Fatalf("put occurrence: %v", err)
	}
	st.PutTelemetry(domain.TelemetryReading{ID: "r1", MachineID: "m1", TireID: domain.StringPtr("t1"), Pressure: 70, Timestamp: testNow.Add(-10 * time.Minute), Seq: 1})
	st.PutTelemetry(domain.TelemetryReading{ID: "r2", MachineID: "m1", TireID: domain.StringPtr("t1"), Pressure: 98, Timestamp: testNow.Add(-5 * time.Minute), Seq: 2})
	return st
}

func newService(st store.Store, c cache.Cache, overlay Overlay) *Service {
	clk := clock.NewManual(testNow)
	return New(Options{
		Store:         st,
		Cache:         c,
		Overlay:       overlay,
		SLA:           sla.NewEvaluator(sla.DefaultPolicy(), clk, time.Second),
		Clock:         clk,
		DefaultPeriod: timewindow.Period24h,
	})
}

func TestTimelineMergesSourcesNewestFirst(t *testing.T) {
	t.Parallel()

	svc := newService(seededStore(t), nil, nil)
	result, err := svc.Timeline(context.Background(), TimelineQuery{MachineID: "m1", TireID: "t1", Period: timewindow.Period24h})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected source errors %v", result.Errors)
	}
	ids := eventIDs(result.Events)
	want := []string{"telemetry-r1", "occurrence-o1", "alert-a1"}
	if len(ids) != len(want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ids)
		}
	}
	if !result.Window.To.Equal(testNow) || !result.Window.From.Equal(testNow.Add(-24*time.Hour)) {
		t.Fatalf("unexpected window %+v", result.Window)
	}
}

func TestTimelineToleratesPartialFailure(t *testing.T) {
	t.Parallel()

	st := &flakyStore{Store: seededStore(t), failTelemetry: true}
	svc := newService(st, nil, nil)
	result, err := svc.Timeline(context.Background(), TimelineQuery{MachineID: "m1", TireID: "t1"})
	if err != nil {
		t.Fatalf("partial failure must not fail timeline: %v", err)
	}
	if _, ok := result.Errors[SourceTelemetry]; !ok {
		t.Fatalf("telemetry error must be reported, got %v", result.Errors)
	}
	if len(result.Events) != 2 {
		t.Fatalf("alerts and occurrences must survive, got %v", eventIDs(result.Events))
	}
}

func TestTimelineFailsWhenEverySourceFails(t *testing.T) {
	t.Parallel()

	st := &flakyStore{Store: seededStore(t), failAlerts: true, failOccurrences: true}
	svc := newService(st, nil, nil)
	result, err := svc.Timeline(context.Background(), TimelineQuery{MachineID: "m1"})
	if err == nil {
		t.Fatalf("expected error when every source fails")
	}
	if !failure.Is(err, failure.KindTransport) {
		t.Fatalf("expected transport kind, got %v", err)
	}
	if len(result.Errors) != 2 {
		t.Fatalf("expected both source errors, got %v", result.Errors)
	}
}

func TestTimelineSkipsTelemetryWithoutTire(t *testing.T) {
	t.Parallel()

	st := &flakyStore{Store: seededStore(t), failTelemetry: true}
	svc := newService(st, nil, nil)
	result, err := svc.Timeline(context.Background(), TimelineQuery{MachineID: "m1"})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("telemetry must not be queried, got %v", result.Errors)
	}
}

func TestTimelineAppliesEventFilterAndRejectsUnknownPeriod(t *testing.T) {
	t.Parallel()

	svc := newService(seededStore(t), nil, nil)
	result, err := svc.Timeline(context.Background(), TimelineQuery{
		MachineID: "m1",
		TireID:    "t1",
		Filter:    timeline.EventFilter{Severities: []domain.Severity{domain.SeverityCritical}},
	})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	for _, event := range result.Events {
		if event.Severity == nil || *event.Severity != domain.SeverityCritical {
			t.Fatalf("unexpected event %+v", event)
		}
	}
	if len(result.Events) != 2 {
		t.Fatalf("expected alert and telemetry events, got %v", eventIDs(result.Events))
	}

	if _, err := svc.Timeline(context.Background(), TimelineQuery{Period: "90d"}); !errors.Is(err, timewindow.ErrUnknownPeriod) {
		t.Fatalf("expected ErrUnknownPeriod, got %v", err)
	}
}

func TestTimelineUsesCacheUntilInvalidated(t *testing.T) {
	t.Parallel()

	st := &flakyStore{Store: seededStore(t)}
	c := cache.NewMemoryCache(time.Minute, func() time.Time { return testNow })
	svc := newService(st, c, nil)
	query := TimelineQuery{MachineID: "m1"}

	for i := 0; i < 2; i++ {
		if _, err := svc.Timeline(context.Background(), query); err != nil {
			t.Fatalf("timeline: %v", err)
		}
	}
	if got := st.alertCalls.Load(); got != 1 {
		t.Fatalf("second call must hit cache, store calls=%d", got)
	}
	if err := c.Invalidate(context.Background(), domain.TableAlerts); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := svc.Timeline(context.Background(), query); err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if got := st.alertCalls.Load(); got != 2 {
		t.Fatalf("invalidated query must reach store, store calls=%d", got)
	}
}

func TestTriageSortsCountsAndOverlays(t *testing.T) {
	t.Parallel()

	speculative := domain.Alert{ID: "a1", MachineID: "m1", MachineName: "Haul Truck 07", TireID: domain.StringPtr("t1"), Severity: domain.SeverityCritical, Status: domain.AlertStatusAcknowledged, AcknowledgedBy: domain.StringPtr("u2"), OpenedAt: testNow.Add(-30 * time.Minute), Message: "Pressure low"}
	overlay := &mapOverlay{rows: map[string]domain.Alert{"a1": speculative}}
	svc := newService(seededStore(t), nil, overlay)

	result, err := svc.Triage(context.Background(), triage.Filters{})
	if err != nil {
		t.Fatalf("triage: %v", err)
	}
	if len(result.Alerts) != 3 {
		t.Fatalf("expected 3 alerts in 24h window, got %d", len(result.Alerts))
	}
	if result.Alerts[0].ID != "a1" || result.Alerts[0].Status != domain.AlertStatusAcknowledged {
		t.Fatalf("speculative a1 must lead, got %+v", result.Alerts[0])
	}
	if result.Counts.Total != 3 || result.Counts.Unassigned != 0 {
		t.Fatalf("unexpected counts %+v", result.Counts)
	}
	if result.Counts.Occurrences[domain.OccurrenceStatusOpen] != 1 {
		t.Fatalf("unexpected occurrence counts %+v", result.Counts.Occurrences)
	}

	filtered, err := svc.Triage(context.Background(), triage.Filters{Assignee: "u1"})
	if err != nil {
		t.Fatalf("triage: %v", err)
	}
	if len(filtered.Alerts) != 1 || filtered.Alerts[0].ID != "a2" {
		t.Fatalf("assignee filter mismatch: %+v", filtered.Alerts)
	}
}

func TestTriageKeepsAlertsWhenOccurrencesFail(t *testing.T) {
	t.Parallel()

	svc := newService(&flakyStore{Store: seededStore(t), failOccurrences: true}, nil, nil)
	result, err := svc.Triage(context.Background(), triage.Filters{})
	if err != nil {
		t.Fatalf("occurrence failure must not fail triage: %v", err)
	}
	if len(result.Alerts) != 3 {
		t.Fatalf("expected alerts despite occurrence failure, got %d", len(result.Alerts))
	}
	if _, ok := result.Errors[SourceOccurrences]; !ok {
		t.Fatalf("occurrence failure must be reported, got %v", result.Errors)
	}
	if result.Counts.Occurrences != nil {
		t.Fatalf("occurrence counts must be unavailable, got %+v", result.Counts.Occurrences)
	}

	failing := newService(&flakyStore{Store: seededStore(t), failAlerts: true}, nil, nil)
	if _, err := failing.Triage(context.Background(), triage.Filters{}); !failure.Is(err, failure.KindTransport) {
		t.Fatalf("alert failure must fail triage, got %v", err)
	}
}

func TestReadOvertakenByInvalidationIsNotCached(t *testing.T) {
	t.Parallel()

	c := cache.NewMemoryCache(time.Minute, func() time.Time { return testNow })
	st := &racingStore{MemoryStore: seededStore(t), cache: c}
	svc := newService(st, c, nil)

	first, err := svc.Triage(context.Background(), triage.Filters{})
	if err != nil {
		t.Fatalf("triage: %v", err)
	}
	if status := alertStatus(first.Alerts, "a1"); status != domain.AlertStatusOpen {
		t.Fatalf("first read returns the rows it fetched, got %s", status)
	}
	if c.Len(domain.TableAlerts) != 0 {
		t.Fatalf("rows read before the invalidation must not be cached")
	}

	second, err := svc.Triage(context.Background(), triage.Filters{})
	if err != nil {
		t.Fatalf("triage: %v", err)
	}
	if status := alertStatus(second.Alerts, "a1"); status != domain.AlertStatusResolved {
		t.Fatalf("reread after invalidation must see the commit, got %s", status)
	}
	if c.Len(domain.TableAlerts) != 1 {
		t.Fatalf("fresh read must be cached")
	}
}

func TestTimelineShowsSpeculativeReason(t *testing.T) {
	t.Parallel()

	speculative := domain.Alert{ID: "a1", MachineID: "m1", TireID: domain.StringPtr("t1"), Severity: domain.SeverityCritical, Status: domain.AlertStatusResolved, OpenedAt: testNow.Add(-30 * time.Minute), Message: "Pressure low", Reason: domain.StringPtr("Pneu calibrado")}
	svc := newService(seededStore(t), nil, &mapOverlay{rows: map[string]domain.Alert{"a1": speculative}})

	result, err := svc.Timeline(context.Background(), TimelineQuery{MachineID: "m1"})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	for _, event := range result.Events {
		if event.ID == "alert-a1" {
			if event.Description != "Pneu calibrado" {
				t.Fatalf("timeline must show the local resolve note, got %q", event.Description)
			}
			return
		}
	}
	t.Fatalf("alert-a1 missing from %v", eventIDs(result.Events))
}

func TestOccurrencesFiltersByStatus(t *testing.T) {
	t.Parallel()

	svc := newService(seededStore(t), nil, nil)
	result, err := svc.Occurrences(context.Background(), triage.Filters{OccurrenceStatuses: []domain.OccurrenceStatus{domain.OccurrenceStatusClosed}})
	if err != nil {
		t.Fatalf("occurrences: %v", err)
	}
	if len(result.Occurrences) != 0 {
		t.Fatalf("expected no closed occurrences, got %+v", result.Occurrences)
	}
}

func TestLoadReplacesOverlay(t *testing.T) {
	t.Parallel()

	overlay := &mapOverlay{}
	svc := newService(seededStore(t), nil, overlay)
	if err := svc.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(overlay.replaced) != 3 {
		t.Fatalf("expected default period alerts, got %d", len(overlay.replaced))
	}

	failing := newService(&flakyStore{Store: seededStore(t), failAlerts: true}, nil, overlay)
	if err := failing.Load(context.Background()); !failure.Is(err, failure.KindTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestActivityUnknownAlertIsRejected(t *testing.T) {
	t.Parallel()

	svc := newService(seededStore(t), nil, nil)
	if _, err := svc.Activity(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) || !failure.IsPermanent(err) {
		t.Fatalf("expected rejected not found, got %v", err)
	}
}

func eventIDs(events []domain.TimelineEvent) []string {
	out := make([]string, 0, len(events))
	for _, event := range events {
		out = append(out, event.ID)
	}
	return out
}

func alertStatus(alerts []domain.Alert, id string) domain.AlertStatus {
	for _, alert := range alerts {
		if alert.ID == id {
			return alert.Status
		}
	}
	return ""
}
