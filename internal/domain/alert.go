package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Severity is the alert severity scale shared by alerts and timeline events.
// Params: low/medium/high/critical constants.
// Returns: ordered severity level.
type Severity string

const (
	// SeverityLow is the least urgent level.
	SeverityLow Severity = "low"
	// SeverityMedium is the default level for threshold alerts.
	SeverityMedium Severity = "medium"
	// SeverityHigh needs attention within the working shift.
	SeverityHigh Severity = "high"
	// SeverityCritical needs immediate attention.
	SeverityCritical Severity = "critical"
)

// Rank orders severities from most to least urgent.
// Params: none.
// Returns: 0 for critical up to 3 for low; unknown values sort last.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	default:
		return 4
	}
}

// Valid reports whether severity belongs to the known scale.
func (s Severity) Valid() bool {
	return s.Rank() < 4
}

// ParseSeverity normalizes a user supplied severity.
// Params: raw severity text.
// Returns: severity or error for unknown values.
func ParseSeverity(raw string) (Severity, error) {
	severity := Severity(strings.ToLower(strings.TrimSpace(raw)))
	if !severity.Valid() {
		return "", fmt.Errorf("unsupported severity %q", raw)
	}
	return severity, nil
}

// AlertStatus is the alert handling lifecycle state.
// Params: open/acknowledged/in_progress/resolved constants.
// Returns: forward-only status value.
type AlertStatus string

const (
	// AlertStatusOpen is a freshly raised alert nobody has looked at.
	AlertStatusOpen AlertStatus = "open"
	// AlertStatusAcknowledged marks an alert seen or assigned by an operator.
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	// AlertStatusInProgress marks an alert being worked on.
	AlertStatusInProgress AlertStatus = "in_progress"
	// AlertStatusResolved is terminal.
	AlertStatusResolved AlertStatus = "resolved"
)

// Stage returns position of status along the forward-only lifecycle.
// Params: none.
// Returns: 0..3 for known statuses, -1 otherwise.
func (s AlertStatus) Stage() int {
	switch s {
	case AlertStatusOpen:
		return 0
	case AlertStatusAcknowledged:
		return 1
	case AlertStatusInProgress:
		return 2
	case AlertStatusResolved:
		return 3
	default:
		return -1
	}
}

// Valid reports whether status is part of the lifecycle.
func (s AlertStatus) Valid() bool {
	return s.Stage() >= 0
}

// ParseAlertStatus normalizes a user supplied alert status.
// Params: raw status text.
// Returns: status or error for unknown values.
func ParseAlertStatus(raw string) (AlertStatus, error) {
	status := AlertStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", fmt.Errorf("unsupported alert status %q", raw)
	}
	return status, nil
}

// Alert is one persisted alert row with the joined machine name.
// Params: identity, severity, lifecycle fields and display text.
// Returns: alert used by triage, timeline and mutations.
type Alert struct {
	ID             string      `json:"id"`
	MachineID      string      `json:"machine_id"`
	MachineName    string      `json:"machine_name,omitempty"`
	TireID         *string     `json:"tire_id,omitempty"`
	Severity       Severity    `json:"severity"`
	Status         AlertStatus `json:"status"`
	OpenedAt       time.Time   `json:"opened_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	AcknowledgedBy *string     `json:"acknowledged_by,omitempty"`
	Message        string      `json:"message"`
	Reason         *string     `json:"reason,omitempty"`
}

// Unassigned reports whether no operator owns the alert.
// Params: none.
// Returns: true when acknowledged_by is empty.
func (a Alert) Unassigned() bool {
	return a.AcknowledgedBy == nil || strings.TrimSpace(*a.AcknowledgedBy) == ""
}

// Resolved reports whether alert reached its terminal state.
func (a Alert) Resolved() bool {
	return a.Status == AlertStatusResolved
}

// Clone returns a deep copy so callers never share pointer fields.
// Params: none.
// Returns: independent alert value.
func (a Alert) Clone() Alert {
	out := a
	out.TireID = cloneString(a.TireID)
	out.AcknowledgedBy = cloneString(a.AcknowledgedBy)
	out.Reason = cloneString(a.Reason)
	return out
}

// Validate checks mandatory alert fields.
// Params: alert row.
// Returns: validation error.
func (a Alert) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("alert id is required")
	}
	if strings.TrimSpace(a.MachineID) == "" {
		return errors.New("alert machine_id is required")
	}
	if !a.Severity.Valid() {
		return fmt.Errorf("alert severity %q is not supported", a.Severity)
	}
	if !a.Status.Valid() {
		return fmt.Errorf("alert status %q is not supported", a.Status)
	}
	if a.OpenedAt.IsZero() {
		return errors.New("alert opened_at is required")
	}
	return nil
}

// CloneAlerts deep-copies an alert slice.
// Params: source slice (nil stays nil).
// Returns: independent copy.
func CloneAlerts(alerts []Alert) []Alert {
	if alerts == nil {
		return nil
	}
	out := make([]Alert, len(alerts))
	for i := range alerts {
		out[i] = alerts[i].Clone()
	}
	return out
}

// StringPtr returns pointer to a copy of value.
func StringPtr(value string) *string {
	return &value
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
