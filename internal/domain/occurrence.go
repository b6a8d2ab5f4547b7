package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// OccurrenceStatus is the field occurrence workflow state.
// Params: upload and handling status constants.
// Returns: occurrence status value.
type OccurrenceStatus string

const (
	// OccurrenceStatusPendingUpload waits for the field device to upload media.
	OccurrenceStatusPendingUpload OccurrenceStatus = "pending_upload"
	// OccurrenceStatusUploading is receiving media.
	OccurrenceStatusUploading OccurrenceStatus = "uploading"
	// OccurrenceStatusOpen is ready for handling.
	OccurrenceStatusOpen OccurrenceStatus = "open"
	// OccurrenceStatusInProgress is being handled.
	OccurrenceStatusInProgress OccurrenceStatus = "in_progress"
	// OccurrenceStatusResolved is an alias of closed for counting and filtering.
	OccurrenceStatusResolved OccurrenceStatus = "resolved"
	// OccurrenceStatusClosed is terminal.
	OccurrenceStatusClosed OccurrenceStatus = "closed"
)

// Canonical folds alias statuses into their canonical value.
// Params: none.
// Returns: closed for resolved, same value otherwise.
func (s OccurrenceStatus) Canonical() OccurrenceStatus {
	if s == OccurrenceStatusResolved {
		return OccurrenceStatusClosed
	}
	return s
}

// Valid reports whether status is known.
func (s OccurrenceStatus) Valid() bool {
	switch s {
	case OccurrenceStatusPendingUpload, OccurrenceStatusUploading, OccurrenceStatusOpen,
		OccurrenceStatusInProgress, OccurrenceStatusResolved, OccurrenceStatusClosed:
		return true
	default:
		return false
	}
}

// ParseOccurrenceStatus normalizes a user supplied occurrence status.
// Params: raw status text.
// Returns: status or error for unknown values.
func ParseOccurrenceStatus(raw string) (OccurrenceStatus, error) {
	status := OccurrenceStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", fmt.Errorf("unsupported occurrence status %q", raw)
	}
	return status, nil
}

// Occurrence is one field report, optionally spawned from an alert.
// Params: identity, asset references, workflow status and description.
// Returns: occurrence row.
type Occurrence struct {
	ID          string           `json:"id"`
	AlertID     *string          `json:"alert_id,omitempty"`
	MachineID   string           `json:"machine_id"`
	TireID      *string          `json:"tire_id,omitempty"`
	Status      OccurrenceStatus `json:"status"`
	Description string           `json:"description"`
	CreatedBy   string           `json:"created_by,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Clone returns a deep copy of occurrence.
func (o Occurrence) Clone() Occurrence {
	out := o
	out.AlertID = cloneString(o.AlertID)
	out.TireID = cloneString(o.TireID)
	return out
}

// Validate checks mandatory occurrence fields.
// Params: occurrence row.
// Returns: validation error.
func (o Occurrence) Validate() error {
	if strings.TrimSpace(o.ID) == "" {
		return errors.New("occurrence id is required")
	}
	if strings.TrimSpace(o.MachineID) == "" {
		return errors.New("occurrence machine_id is required")
	}
	if !o.Status.Valid() {
		return fmt.Errorf("occurrence status %q is not supported", o.Status)
	}
	if o.CreatedAt.IsZero() {
		return errors.New("occurrence created_at is required")
	}
	return nil
}
