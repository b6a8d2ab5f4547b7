package triage

import (
	"reflect"
	"testing"
	"time"

	"fleetpulse/internal/domain"
	"fleetpulse/internal/sla"
)

var base = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func TestCriticalExpiredSortsAheadOfHighOK(t *testing.T) {
	t.Parallel()

	snapshot := sla.At(sla.DefaultPolicy(), base.Add(61*time.Minute))
	critical := domain.Alert{ID: "crit", Severity: domain.SeverityCritical, Status: domain.AlertStatusOpen, OpenedAt: base}
	high := domain.Alert{ID: "high", Severity: domain.SeverityHigh, Status: domain.AlertStatusOpen, OpenedAt: base.Add(time.Hour)}

	if got := snapshot.ClassOf(critical); got != sla.ClassExpired {
		t.Fatalf("expected expired critical alert, got %s", got)
	}
	if got := snapshot.ClassOf(high); got != sla.ClassOK {
		t.Fatalf("expected ok high alert, got %s", got)
	}
	alerts := []domain.Alert{high, critical}
	Sort(alerts, snapshot)
	if alerts[0].ID != "crit" {
		t.Fatalf("critical alert must sort first, got %s", alerts[0].ID)
	}
}

func TestSortTieBreakChain(t *testing.T) {
	t.Parallel()

	now := base.Add(3*time.Hour + 45*time.Minute)
	snapshot := sla.At(sla.DefaultPolicy(), now)
	alerts := []domain.Alert{
		{ID: "low-ok", Severity: domain.SeverityLow, Status: domain.AlertStatusOpen, OpenedAt: now.Add(-time.Hour)},
		{ID: "medium-warning", Severity: domain.SeverityMedium, Status: domain.AlertStatusOpen, OpenedAt: base},
		{ID: "high-ok-old", Severity: domain.SeverityHigh, Status: domain.AlertStatusOpen, OpenedAt: now.Add(-2 * time.Hour)},
		{ID: "high-ok-new", Severity: domain.SeverityHigh, Status: domain.AlertStatusOpen, OpenedAt: now.Add(-time.Hour)},
		{ID: "critical-assigned", Severity: domain.SeverityCritical, Status: domain.AlertStatusAcknowledged, OpenedAt: now.Add(-10 * time.Minute), AcknowledgedBy: domain.StringPtr("u1")},
		{ID: "critical-unassigned", Severity: domain.SeverityCritical, Status: domain.AlertStatusOpen, OpenedAt: now.Add(-5 * time.Minute)},
		{ID: "medium-expired", Severity: domain.SeverityMedium, Status: domain.AlertStatusOpen, OpenedAt: base.Add(-time.Hour)},
	}
	Sort(alerts, snapshot)

	want := []string{
		"critical-unassigned",
		"medium-expired",
		"medium-warning",
		"critical-assigned",
		"high-ok-new",
		"high-ok-old",
		"low-ok",
	}
	if got := ids(alerts); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected order\n got %v\nwant %v", got, want)
	}
}

func TestResolvedAlertsHaveNoSLAClass(t *testing.T) {
	t.Parallel()

	now := base.Add(5 * time.Hour)
	snapshot := sla.At(sla.DefaultPolicy(), now)
	alerts := []domain.Alert{
		{ID: "resolved-high", Severity: domain.SeverityHigh, Status: domain.AlertStatusResolved, OpenedAt: now.Add(-5 * time.Hour)},
		{ID: "resolved-critical", Severity: domain.SeverityCritical, Status: domain.AlertStatusResolved, OpenedAt: now.Add(-3 * time.Hour)},
		{ID: "open-high", Severity: domain.SeverityHigh, Status: domain.AlertStatusOpen, OpenedAt: now.Add(-time.Hour)},
	}
	if got := snapshot.ClassOf(alerts[0]); got != sla.ClassNone {
		t.Fatalf("resolved alert must have no sla class, got %s", got)
	}

	Sort(alerts, snapshot)
	if got := ids(alerts); !reflect.DeepEqual(got, []string{"open-high", "resolved-critical", "resolved-high"}) {
		t.Fatalf("live work must lead resolved alerts, got %v", got)
	}

	for _, class := range []sla.Class{sla.ClassExpired, sla.ClassWarning, sla.ClassOK} {
		for _, alert := range Filter(alerts, Filters{SLA: string(class)}, snapshot) {
			if alert.Resolved() {
				t.Fatalf("sla=%s must not select resolved alert %s", class, alert.ID)
			}
		}
	}
}

func TestSortIsStableAndIdempotent(t *testing.T) {
	t.Parallel()

	snapshot := sla.At(sla.DefaultPolicy(), base.Add(time.Minute))
	alerts := []domain.Alert{
		{ID: "b", Severity: domain.SeverityLow, OpenedAt: base},
		{ID: "a", Severity: domain.SeverityLow, OpenedAt: base},
		{ID: "c", Severity: domain.SeverityLow, OpenedAt: base},
	}
	Sort(alerts, snapshot)
	first := ids(alerts)
	if !reflect.DeepEqual(first, []string{"b", "a", "c"}) {
		t.Fatalf("equal-rank alerts must keep input order, got %v", first)
	}
	Sort(alerts, snapshot)
	if !reflect.DeepEqual(ids(alerts), first) {
		t.Fatalf("second sort changed order")
	}
}

func TestFilterPredicates(t *testing.T) {
	t.Parallel()

	snapshot := sla.At(sla.DefaultPolicy(), base.Add(2*time.Hour))
	alerts := []domain.Alert{
		{ID: "a1", MachineID: "m1", MachineName: "Haul Truck 07", Severity: domain.SeverityCritical, Status: domain.AlertStatusOpen, OpenedAt: base, Message: "Pressure drop"},
		{ID: "a2", MachineID: "m2", MachineName: "Loader 3", Severity: domain.SeverityHigh, Status: domain.AlertStatusAcknowledged, OpenedAt: base, Message: "Overspeed", AcknowledgedBy: domain.StringPtr("u1")},
		{ID: "a3", MachineID: "m1", MachineName: "Haul Truck 07", Severity: domain.SeverityLow, Status: domain.AlertStatusResolved, OpenedAt: base.Add(time.Hour), Message: "Sensor"},
	}

	tests := []struct {
		name    string
		filters Filters
		want    []string
	}{
		{name: "empty sets match all", filters: Filters{}, want: []string{"a1", "a2", "a3"}},
		{name: "severity", filters: Filters{Severities: []domain.Severity{domain.SeverityHigh, domain.SeverityLow}}, want: []string{"a2", "a3"}},
		{name: "status", filters: Filters{AlertStatuses: []domain.AlertStatus{domain.AlertStatusOpen}}, want: []string{"a1"}},
		{name: "unassigned", filters: Filters{Assignee: AssigneeUnassigned}, want: []string{"a1", "a3"}},
		{name: "assignee id", filters: Filters{Assignee: "u1"}, want: []string{"a2"}},
		{name: "assignee all", filters: Filters{Assignee: AssigneeAll}, want: []string{"a1", "a2", "a3"}},
		{name: "sla expired", filters: Filters{SLA: string(sla.ClassExpired)}, want: []string{"a1"}},
		{name: "sla all", filters: Filters{SLA: SLAAll}, want: []string{"a1", "a2", "a3"}},
		{name: "machine", filters: Filters{MachineID: "m2"}, want: []string{"a2"}},
		{name: "search message", filters: Filters{Search: "PRESSURE"}, want: []string{"a1"}},
		{name: "search machine name", filters: Filters{Search: "truck"}, want: []string{"a1", "a3"}},
		{name: "conjunction", filters: Filters{MachineID: "m1", Severities: []domain.Severity{domain.SeverityLow}}, want: []string{"a3"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ids(Filter(alerts, tt.filters, snapshot))
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("unexpected ids %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolvedCountsAsClosed(t *testing.T) {
	t.Parallel()

	occurrences := []domain.Occurrence{
		{ID: "o1", Status: domain.OccurrenceStatusResolved},
		{ID: "o2", Status: domain.OccurrenceStatusClosed},
		{ID: "o3", Status: domain.OccurrenceStatusOpen},
	}
	counts := Count(nil, occurrences, sla.At(sla.DefaultPolicy(), base))
	if counts.Occurrences[domain.OccurrenceStatusClosed] != 2 {
		t.Fatalf("resolved must be counted as closed, got %+v", counts.Occurrences)
	}
	if _, ok := counts.Occurrences[domain.OccurrenceStatusResolved]; ok {
		t.Fatalf("resolved bucket must not exist")
	}

	filtered := FilterOccurrences(occurrences, Filters{OccurrenceStatuses: []domain.OccurrenceStatus{domain.OccurrenceStatusClosed}})
	if len(filtered) != 2 {
		t.Fatalf("closed filter must match resolved too, got %d", len(filtered))
	}
	filtered = FilterOccurrences(occurrences, Filters{OccurrenceStatuses: []domain.OccurrenceStatus{domain.OccurrenceStatusResolved}})
	if len(filtered) != 2 {
		t.Fatalf("resolved filter must match closed too, got %d", len(filtered))
	}
}

func TestCountAlerts(t *testing.T) {
	t.Parallel()

	snapshot := sla.At(sla.DefaultPolicy(), base.Add(2*time.Hour))
	alerts := []domain.Alert{
		{ID: "a1", Severity: domain.SeverityCritical, Status: domain.AlertStatusOpen, OpenedAt: base},
		{ID: "a2", Severity: domain.SeverityHigh, Status: domain.AlertStatusAcknowledged, OpenedAt: base, AcknowledgedBy: domain.StringPtr("u1")},
		{ID: "a3", Severity: domain.SeverityCritical, Status: domain.AlertStatusResolved, OpenedAt: base},
	}
	counts := Count(alerts, nil, snapshot)
	if counts.Total != 3 || counts.BySeverity[domain.SeverityCritical] != 2 {
		t.Fatalf("unexpected severity counts %+v", counts)
	}
	if counts.ByStatus[domain.AlertStatusResolved] != 1 {
		t.Fatalf("unexpected status counts %+v", counts.ByStatus)
	}
	if counts.BySLA[sla.ClassExpired] != 1 || counts.BySLA[sla.ClassOK] != 1 {
		t.Fatalf("resolved alerts must not count toward sla, got %+v", counts.BySLA)
	}
	if counts.Unassigned != 1 {
		t.Fatalf("expected one unassigned open alert, got %d", counts.Unassigned)
	}
}

func ids(alerts []domain.Alert) []string {
	out := make([]string, 0, len(alerts))
	for _, alert := range alerts {
		out = append(out, alert.ID)
	}
	return out
}
