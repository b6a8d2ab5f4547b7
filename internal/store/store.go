package store

import (
	"context"
	"errors"

	"fleetpulse/internal/domain"
	"fleetpulse/internal/timewindow"
)

var (
	// ErrNotFound indicates absent row.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates the row changed since the caller read it.
	ErrConflict = errors.New("status conflict")
)

// AlertQuery selects alerts opened inside window.
// Empty fields do not constrain; Limit <= 0 means unlimited.
type AlertQuery struct {
	Window    timewindow.Window
	MachineID string
	TireID    string
	Statuses  []domain.AlertStatus
	Limit     int
}

// OccurrenceQuery selects occurrences created inside window.
type OccurrenceQuery struct {
	Window    timewindow.Window
	MachineID string
	TireID    string
	AlertID   string
	Statuses  []domain.OccurrenceStatus
	Limit     int
}

// TelemetryQuery selects readings taken inside window.
type TelemetryQuery struct {
	Window    timewindow.Window
	MachineID string
	TireID    string
	Limit     int
}

// AlertPatch is a guarded alert update.
// Params: alert id, status the caller last saw, and replacement lifecycle fields.
// Returns: patch applied only while the stored status still equals ExpectedStatus.
type AlertPatch struct {
	ID             string
	ExpectedStatus domain.AlertStatus
	Status         domain.AlertStatus
	AcknowledgedBy *string
	Reason         *string
}

// Store is the query and mutation surface of the server of record.
// Params: query structs and patches per table.
// Returns: backend persistence behavior; lists are newest first.
type Store interface {
	ListAlerts(ctx context.Context, query AlertQuery) ([]domain.Alert, error)
	GetAlert(ctx context.Context, id string) (domain.Alert, error)
	UpdateAlert(ctx context.Context, patch AlertPatch) (domain.Alert, error)
	ListOccurrences(ctx context.Context, query OccurrenceQuery) ([]domain.Occurrence, error)
	InsertOccurrence(ctx context.Context, occurrence domain.Occurrence) (domain.Occurrence, error)
	UpdateOccurrenceStatus(ctx context.Context, id string, status domain.OccurrenceStatus) (domain.Occurrence, error)
	ListTelemetry(ctx context.Context, query TelemetryQuery) ([]domain.TelemetryReading, error)
	GetTire(ctx context.Context, id string) (domain.Tire, error)
	ListMachines(ctx context.Context) ([]domain.Machine, error)
	AppendActivity(ctx context.Context, entry domain.ActivityEntry) error
	ListActivity(ctx context.Context, alertID string) ([]domain.ActivityEntry, error)
	Ping(ctx context.Context) error
	Close() error
}
