package timeline

import (
	"fmt"
	"sort"

	"fleetpulse/internal/domain"
)

const (
	defaultAlertDescription = "Alerta gerado pelo sistema"
	occurrenceTitle         = "Ocorrência registrada"
	criticalPressureTitle   = "Pressão crítica detectada"
)

// DefaultCriticalRatio is the pressure fraction below which a reading is critical.
const DefaultCriticalRatio = 0.85

// Sources groups the three raw result sets of one refresh window.
// Nil slices stand for unavailable sources.
type Sources struct {
	Alerts      []domain.Alert
	Occurrences []domain.Occurrence
	Critical    []domain.TelemetryReading
}

// Len returns total number of source records.
func (s Sources) Len() int {
	return len(s.Alerts) + len(s.Occurrences) + len(s.Critical)
}

// Normalize converts source records into timeline events.
// Params: alerts, occurrences and already-critical telemetry readings.
// Returns: events in insertion order (alerts, occurrences, telemetry).
func Normalize(src Sources) []domain.TimelineEvent {
	events := make([]domain.TimelineEvent, 0, src.Len())
	for _, alert := range src.Alerts {
		events = append(events, FromAlert(alert))
	}
	for _, occurrence := range src.Occurrences {
		events = append(events, FromOccurrence(occurrence))
	}
	for _, reading := range src.Critical {
		events = append(events, FromCriticalReading(reading))
	}
	return events
}

// FromAlert builds alert-shaped event.
// Params: alert row.
// Returns: event titled with the alert message.
func FromAlert(alert domain.Alert) domain.TimelineEvent {
	ref := domain.EventRef{Kind: domain.EventKindAlert, ID: alert.ID}
	description := defaultAlertDescription
	if alert.Reason != nil {
		description = *alert.Reason
	}
	severity := alert.Severity
	return domain.TimelineEvent{
		ID:          ref.String(),
		Ref:         ref,
		Type:        domain.EventTypeAlert,
		Title:       alert.Message,
		Description: description,
		Timestamp:   alert.OpenedAt,
		Severity:    &severity,
		MachineID:   alert.MachineID,
		TireID:      copyString(alert.TireID),
	}
}

// FromOccurrence builds occurrence event.
func FromOccurrence(occurrence domain.Occurrence) domain.TimelineEvent {
	ref := domain.EventRef{Kind: domain.EventKindOccurrence, ID: occurrence.ID}
	return domain.TimelineEvent{
		ID:          ref.String(),
		Ref:         ref,
		Type:        domain.EventTypeOccurrence,
		Title:       occurrenceTitle,
		Description: occurrence.Description,
		Timestamp:   occurrence.CreatedAt,
		MachineID:   occurrence.MachineID,
		TireID:      copyString(occurrence.TireID),
	}
}

// FromCriticalReading builds critical pressure event.
// Params: telemetry reading already known to be critical.
// Returns: alert-typed event with forced critical severity.
func FromCriticalReading(reading domain.TelemetryReading) domain.TimelineEvent {
	ref := domain.EventRef{Kind: domain.EventKindTelemetryCritical, ID: reading.ID}
	severity := domain.SeverityCritical
	return domain.TimelineEvent{
		ID:          ref.String(),
		Ref:         ref,
		Type:        domain.EventTypeAlert,
		Title:       criticalPressureTitle,
		Description: fmt.Sprintf("Pressão de %.1f PSI abaixo do limite recomendado", reading.Pressure),
		Timestamp:   reading.Timestamp,
		Severity:    &severity,
		MachineID:   reading.MachineID,
		TireID:      copyString(reading.TireID),
	}
}

// IsCritical reports whether pressure is below ratio of recommended pressure.
// Params: observed pressure, recommended pressure and ratio.
// Returns: false when recommended pressure is unknown (<= 0).
func IsCritical(pressure, recommended, ratio float64) bool {
	if recommended <= 0 {
		return false
	}
	return pressure < recommended*ratio
}

// CriticalReadings selects readings under the critical threshold.
// Params: tire readings, tire recommended pressure and ratio (default when <= 0).
// Returns: critical readings in input order.
func CriticalReadings(readings []domain.TelemetryReading, recommended, ratio float64) []domain.TelemetryReading {
	if ratio <= 0 {
		ratio = DefaultCriticalRatio
	}
	out := make([]domain.TelemetryReading, 0)
	for _, reading := range readings {
		if IsCritical(reading.Pressure, recommended, ratio) {
			out = append(out, reading)
		}
	}
	return out
}

// SortChronological orders events newest first, keeping input order for ties.
func SortChronological(events []domain.TimelineEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
}

// EventFilter narrows timeline events by type and severity.
// Empty sets do not constrain.
type EventFilter struct {
	Types      []domain.EventType
	Severities []domain.Severity
}

// Apply returns events matching filter.
// Params: events to filter.
// Returns: new slice with matching events in input order.
func (f EventFilter) Apply(events []domain.TimelineEvent) []domain.TimelineEvent {
	out := make([]domain.TimelineEvent, 0, len(events))
	for _, event := range events {
		if len(f.Types) > 0 && !containsType(f.Types, event.Type) {
			continue
		}
		if len(f.Severities) > 0 && (event.Severity == nil || !containsSeverity(f.Severities, *event.Severity)) {
			continue
		}
		out = append(out, event)
	}
	return out
}

func containsType(set []domain.EventType, value domain.EventType) bool {
	for _, item := range set {
		if item == value {
			return true
		}
	}
	return false
}

func containsSeverity(set []domain.Severity, value domain.Severity) bool {
	for _, item := range set {
		if item == value {
			return true
		}
	}
	return false
}

func copyString(value *string) *string {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
