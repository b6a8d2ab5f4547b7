package domain

import (
	"fmt"
	"strings"
	"time"
)

// EventKind is the source discriminant of a timeline event.
type EventKind string

const (
	// EventKindAlert marks events built from alert rows.
	EventKindAlert EventKind = "alert"
	// EventKindOccurrence marks events built from occurrence rows.
	EventKindOccurrence EventKind = "occurrence"
	// EventKindTelemetryCritical marks events derived from critical telemetry readings.
	EventKindTelemetryCritical EventKind = "telemetry_critical"
)

// EventRef identifies the source record behind a timeline event.
// Params: source kind and source record id.
// Returns: tagged reference used for detail lookups.
type EventRef struct {
	Kind EventKind `json:"kind"`
	ID   string    `json:"id"`
}

// String renders the namespaced legacy id.
// Params: none.
// Returns: "alert-<id>", "occurrence-<id>" or "telemetry-<id>".
func (r EventRef) String() string {
	return r.prefix() + "-" + r.ID
}

func (r EventRef) prefix() string {
	switch r.Kind {
	case EventKindAlert:
		return "alert"
	case EventKindOccurrence:
		return "occurrence"
	case EventKindTelemetryCritical:
		return "telemetry"
	default:
		return string(r.Kind)
	}
}

// ParseEventRef parses namespaced event id back into tagged reference.
// Params: id in "<prefix>-<source id>" form.
// Returns: reference or error for unknown prefix/empty id.
func ParseEventRef(raw string) (EventRef, error) {
	prefix, id, ok := strings.Cut(raw, "-")
	if !ok || id == "" {
		return EventRef{}, fmt.Errorf("event id %q has no source prefix", raw)
	}
	switch prefix {
	case "alert":
		return EventRef{Kind: EventKindAlert, ID: id}, nil
	case "occurrence":
		return EventRef{Kind: EventKindOccurrence, ID: id}, nil
	case "telemetry":
		return EventRef{Kind: EventKindTelemetryCritical, ID: id}, nil
	default:
		return EventRef{}, fmt.Errorf("event id %q has unknown source prefix %q", raw, prefix)
	}
}

// EventType is the display category of a timeline event.
type EventType string

const (
	EventTypeAlert        EventType = "alert"
	EventTypeOccurrence   EventType = "occurrence"
	EventTypeMaintenance  EventType = "maintenance"
	EventTypeInstallation EventType = "installation"
	EventTypeRemoval      EventType = "removal"
)

// ParseEventType normalizes a user supplied event type.
// Params: raw type text.
// Returns: event type or error for unknown values.
func ParseEventType(raw string) (EventType, error) {
	value := EventType(strings.ToLower(strings.TrimSpace(raw)))
	switch value {
	case EventTypeAlert, EventTypeOccurrence, EventTypeMaintenance, EventTypeInstallation, EventTypeRemoval:
		return value, nil
	default:
		return "", fmt.Errorf("unsupported event type %q", raw)
	}
}

// TimelineEvent is the unified source-agnostic event shape.
// Params: tagged source ref, display fields, anchor time and asset references.
// Returns: transient event, rebuilt on every fetch.
type TimelineEvent struct {
	ID          string    `json:"id"`
	Ref         EventRef  `json:"ref"`
	Type        EventType `json:"type"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
	Severity    *Severity `json:"severity,omitempty"`
	MachineID   string    `json:"machine_id"`
	TireID      *string   `json:"tire_id,omitempty"`
}
