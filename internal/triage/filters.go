package triage

import (
	"strings"
	"time"

	"fleetpulse/internal/domain"
	"fleetpulse/internal/sla"
	"fleetpulse/internal/timewindow"
)

// Assignee selector values besides a concrete user id.
const (
	AssigneeAll        = "all"
	AssigneeUnassigned = "unassigned"
)

// SLAAll disables SLA class filtering.
const SLAAll = "all"

// Filters is the operator-held triage filter state.
// Empty sets and empty selectors do not constrain.
type Filters struct {
	Severities         []domain.Severity
	AlertStatuses      []domain.AlertStatus
	OccurrenceStatuses []domain.OccurrenceStatus
	Period             timewindow.Period
	Custom             *timewindow.Window
	Assignee           string
	SLA                string
	MachineID          string
	Search             string
}

// Window resolves the filter period at now.
// Params: snapshot time.
// Returns: resolved window or timewindow.ErrUnknownPeriod.
func (f Filters) Window(now time.Time) (timewindow.Window, error) {
	period := f.Period
	if period == "" {
		period = timewindow.FallbackPeriod
	}
	return timewindow.Resolve(period, f.Custom, now)
}

// Match reports whether alert satisfies every filter predicate.
// Params: alert and SLA snapshot.
// Returns: conjunction of all predicates.
func (f Filters) Match(alert domain.Alert, snapshot sla.Snapshot) bool {
	if len(f.Severities) > 0 && !contains(f.Severities, alert.Severity) {
		return false
	}
	if len(f.AlertStatuses) > 0 && !contains(f.AlertStatuses, alert.Status) {
		return false
	}
	if !f.matchAssignee(alert) {
		return false
	}
	if f.SLA != "" && f.SLA != SLAAll && string(snapshot.ClassOf(alert)) != f.SLA {
		return false
	}
	if f.MachineID != "" && alert.MachineID != f.MachineID {
		return false
	}
	return matchText(f.Search, alert.Message, alert.MachineName)
}

// MatchOccurrence reports whether occurrence satisfies status, machine and text predicates.
// resolved and closed match each other.
func (f Filters) MatchOccurrence(occurrence domain.Occurrence) bool {
	if len(f.OccurrenceStatuses) > 0 {
		status := occurrence.Status.Canonical()
		found := false
		for _, want := range f.OccurrenceStatuses {
			if want.Canonical() == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.MachineID != "" && occurrence.MachineID != f.MachineID {
		return false
	}
	return matchText(f.Search, occurrence.Description)
}

func (f Filters) matchAssignee(alert domain.Alert) bool {
	switch f.Assignee {
	case "", AssigneeAll:
		return true
	case AssigneeUnassigned:
		return alert.Unassigned()
	default:
		return alert.AcknowledgedBy != nil && *alert.AcknowledgedBy == f.Assignee
	}
}

func matchText(query string, fields ...string) bool {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return true
	}
	for _, field := range fields {
		if strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	return false
}

func contains[T comparable](set []T, value T) bool {
	for _, item := range set {
		if item == value {
			return true
		}
	}
	return false
}
