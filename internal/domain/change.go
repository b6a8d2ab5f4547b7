package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Table names a watched relation of the server of record.
type Table string

const (
	TableAlerts      Table = "alerts"
	TableMachines    Table = "machines"
	TableOccurrences Table = "occurrences"
	TableTelemetry   Table = "telemetry"
)

// WatchedTables lists every table the change feed carries.
var WatchedTables = []Table{TableAlerts, TableMachines, TableOccurrences, TableTelemetry}

// Valid reports whether table is one of the watched tables.
func (t Table) Valid() bool {
	for _, table := range WatchedTables {
		if t == table {
			return true
		}
	}
	return false
}

// ChangeType is the row operation carried by a change notification.
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// Change is one row-level notification from the change feed.
// Params: table, operation, raw old/new rows and commit time.
// Returns: change consumed by the realtime manager.
type Change struct {
	Table    Table           `json:"table"`
	Type     ChangeType      `json:"type"`
	Old      json.RawMessage `json:"old,omitempty"`
	New      json.RawMessage `json:"new,omitempty"`
	CommitAt time.Time       `json:"commit_at"`
}

// Validate checks change envelope consistency.
// Params: change notification.
// Returns: validation error.
func (c Change) Validate() error {
	if !c.Table.Valid() {
		return fmt.Errorf("change table %q is not watched", c.Table)
	}
	switch c.Type {
	case ChangeInsert:
		if len(c.New) == 0 {
			return errors.New("insert change requires new row")
		}
	case ChangeUpdate:
		if len(c.New) == 0 {
			return errors.New("update change requires new row")
		}
	case ChangeDelete:
	default:
		return fmt.Errorf("change type %q is not supported", c.Type)
	}
	return nil
}
