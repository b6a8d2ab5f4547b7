package triage

import (
	"sort"

	"fleetpulse/internal/domain"
	"fleetpulse/internal/sla"
)

// Filter returns alerts matching filters, preserving input order.
// Params: alerts, filter state and SLA snapshot.
// Returns: new slice of matching alerts.
func Filter(alerts []domain.Alert, filters Filters, snapshot sla.Snapshot) []domain.Alert {
	out := make([]domain.Alert, 0, len(alerts))
	for _, alert := range alerts {
		if filters.Match(alert, snapshot) {
			out = append(out, alert)
		}
	}
	return out
}

// FilterOccurrences returns occurrences matching filters, preserving input order.
func FilterOccurrences(occurrences []domain.Occurrence, filters Filters) []domain.Occurrence {
	out := make([]domain.Occurrence, 0, len(occurrences))
	for _, occurrence := range occurrences {
		if filters.MatchOccurrence(occurrence) {
			out = append(out, occurrence)
		}
	}
	return out
}

// Sort orders alerts by triage priority in place.
// Params: alerts and SLA snapshot.
// Returns: none; equal-rank alerts keep their relative order.
//
// Order: unassigned critical first, then SLA class, then severity, then newest open time.
func Sort(alerts []domain.Alert, snapshot sla.Snapshot) {
	sort.SliceStable(alerts, func(i, j int) bool {
		return Less(alerts[i], alerts[j], snapshot)
	})
}

// Less reports whether a sorts strictly before b.
func Less(a, b domain.Alert, snapshot sla.Snapshot) bool {
	aUrgent := urgent(a)
	bUrgent := urgent(b)
	if aUrgent != bUrgent {
		return aUrgent
	}
	if ra, rb := snapshot.ClassOf(a).Rank(), snapshot.ClassOf(b).Rank(); ra != rb {
		return ra < rb
	}
	if ra, rb := a.Severity.Rank(), b.Severity.Rank(); ra != rb {
		return ra < rb
	}
	return a.OpenedAt.After(b.OpenedAt)
}

func urgent(alert domain.Alert) bool {
	return !alert.Resolved() && alert.Unassigned() && alert.Severity == domain.SeverityCritical
}

// Counts is the derived aggregate used by triage badges.
type Counts struct {
	Total       int                             `json:"total"`
	BySeverity  map[domain.Severity]int         `json:"by_severity"`
	ByStatus    map[domain.AlertStatus]int      `json:"by_status"`
	BySLA       map[sla.Class]int               `json:"by_sla"`
	Unassigned  int                             `json:"unassigned"`
	Occurrences map[domain.OccurrenceStatus]int `json:"occurrences"`
}

// Count derives counts over alerts and occurrences.
// Params: alerts, occurrences and SLA snapshot.
// Returns: counts; SLA and unassigned cover unresolved alerts, occurrence statuses are canonical.
func Count(alerts []domain.Alert, occurrences []domain.Occurrence, snapshot sla.Snapshot) Counts {
	counts := Counts{
		Total:       len(alerts),
		BySeverity:  make(map[domain.Severity]int),
		ByStatus:    make(map[domain.AlertStatus]int),
		BySLA:       make(map[sla.Class]int),
		Occurrences: make(map[domain.OccurrenceStatus]int),
	}
	for _, alert := range alerts {
		counts.BySeverity[alert.Severity]++
		counts.ByStatus[alert.Status]++
		if alert.Resolved() {
			continue
		}
		counts.BySLA[snapshot.ClassOf(alert)]++
		if alert.Unassigned() {
			counts.Unassigned++
		}
	}
	for _, occurrence := range occurrences {
		counts.Occurrences[occurrence.Status.Canonical()]++
	}
	return counts
}
