package domain

import "time"

// TelemetryReading is one pressure/speed sample from a machine.
// Params: asset references, measured values, timestamp and sequence number.
// Returns: raw telemetry row.
type TelemetryReading struct {
	ID        string    `json:"id"`
	MachineID string    `json:"machine_id"`
	TireID    *string   `json:"tire_id,omitempty"`
	Pressure  float64   `json:"pressure"`
	Speed     float64   `json:"speed"`
	Timestamp time.Time `json:"timestamp"`
	Seq       int64     `json:"seq"`
}

// Tire is one mounted tire with its recommended pressure.
type Tire struct {
	ID                  string  `json:"id"`
	MachineID           string  `json:"machine_id"`
	Position            string  `json:"position,omitempty"`
	RecommendedPressure float64 `json:"recommended_pressure"`
}

// MachineStatus is the coarse health status reported for a machine.
type MachineStatus string

const (
	// MachineStatusOK is normal operation.
	MachineStatusOK MachineStatus = "ok"
	// MachineStatusWarning flags degraded operation.
	MachineStatusWarning MachineStatus = "warning"
	// MachineStatusCritical flags unsafe operation.
	MachineStatusCritical MachineStatus = "critical"
	// MachineStatusOffline means telemetry stopped.
	MachineStatusOffline MachineStatus = "offline"
)

// Machine is one fleet asset.
type Machine struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Status MachineStatus `json:"status"`
}

// ActivityEntry records one confirmed operator action on an alert.
// Params: entry id, alert id, action name, actor id, optional note and time.
// Returns: append-only activity log row.
type ActivityEntry struct {
	ID      string    `json:"id"`
	AlertID string    `json:"alert_id"`
	Action  string    `json:"action"`
	Actor   string    `json:"actor"`
	Note    string    `json:"note,omitempty"`
	At      time.Time `json:"at"`
}
