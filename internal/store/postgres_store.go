package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"fleetpulse/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

// DefaultChannelPrefix is the NOTIFY channel prefix baked into schema.sql.
const DefaultChannelPrefix = "fleetpulse"

// PostgresOptions configures relational connection pool.
type PostgresOptions struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// OpenPostgres opens and pings PostgreSQL pool.
// Params: context for ping and pool options.
// Returns: ready *sql.DB or connection error.
func OpenPostgres(ctx context.Context, opts PostgresOptions) (*sql.DB, error) {
	db, err := sql.Open("postgres", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// PostgresStore implements Store over lib/pq.
// Params: database handle and clock.
// Returns: relational store.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStore wraps opened database handle.
// Params: database handle and now function (defaults to time.Now when nil).
// Returns: relational store.
func NewPostgresStore(db *sql.DB, now func() time.Time) *PostgresStore {
	if now == nil {
		now = time.Now
	}
	return &PostgresStore{db: db, now: now}
}

// Migrate applies embedded schema, notify triggers included.
// Params: context and NOTIFY channel prefix (DefaultChannelPrefix when empty).
// Returns: schema error.
func (s *PostgresStore) Migrate(ctx context.Context, channelPrefix string) error {
	schema := schemaSQL
	if prefix := strings.TrimSpace(channelPrefix); prefix != "" && prefix != DefaultChannelPrefix {
		schema = strings.ReplaceAll(schema, "'"+DefaultChannelPrefix+"_", "'"+prefix+"_")
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const alertColumns = `a.id, a.machine_id, COALESCE(m.name, ''), a.tire_id, a.severity, a.status,
	a.opened_at, a.updated_at, a.acknowledged_by, a.message, a.reason`

const listAlertsSQL = `SELECT ` + alertColumns + `
FROM alerts a
LEFT JOIN machines m ON m.id = a.machine_id
WHERE a.opened_at >= $1 AND a.opened_at < $2
	AND ($3 = '' OR a.machine_id = $3)
	AND ($4 = '' OR a.tire_id = $4)
	AND (cardinality($5::text[]) = 0 OR a.status = ANY($5))
ORDER BY a.opened_at DESC, a.id
LIMIT NULLIF($6, 0)`

const getAlertSQL = `SELECT ` + alertColumns + `
FROM alerts a
LEFT JOIN machines m ON m.id = a.machine_id
WHERE a.id = $1`

const updateAlertSQL = `WITH a AS (
	UPDATE alerts
	SET status = $2, acknowledged_by = $3, reason = $4, updated_at = $5
	WHERE id = $1 AND status = $6
	RETURNING *
)
SELECT ` + alertColumns + `
FROM a
LEFT JOIN machines m ON m.id = a.machine_id`

const alertStatusSQL = `SELECT status FROM alerts WHERE id = $1`

const occurrenceColumns = `id, alert_id, machine_id, tire_id, status, description, created_by, created_at, updated_at`

const listOccurrencesSQL = `SELECT ` + occurrenceColumns + `
FROM occurrences
WHERE created_at >= $1 AND created_at < $2
	AND ($3 = '' OR machine_id = $3)
	AND ($4 = '' OR tire_id = $4)
	AND ($5 = '' OR alert_id = $5)
	AND (cardinality($6::text[]) = 0 OR status = ANY($6))
ORDER BY created_at DESC, id
LIMIT NULLIF($7, 0)`

const insertOccurrenceSQL = `INSERT INTO occurrences (` + occurrenceColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + occurrenceColumns

const updateOccurrenceStatusSQL = `UPDATE occurrences SET status = $2, updated_at = $3
WHERE id = $1
RETURNING ` + occurrenceColumns

const listTelemetrySQL = `SELECT id, machine_id, tire_id, pressure, speed, recorded_at, seq
FROM telemetry
WHERE recorded_at >= $1 AND recorded_at < $2
	AND ($3 = '' OR machine_id = $3)
	AND ($4 = '' OR tire_id = $4)
ORDER BY recorded_at DESC, seq DESC
LIMIT NULLIF($5, 0)`

const getTireSQL = `SELECT id, machine_id, position, recommended_pressure FROM tires WHERE id = $1`

const listMachinesSQL = `SELECT id, name, status FROM machines ORDER BY name, id`

const appendActivitySQL = `INSERT INTO alert_activity (id, alert_id, action, actor, note, at)
VALUES ($1, $2, $3, $4, $5, $6)`

const listActivitySQL = `SELECT id, alert_id, action, actor, note, at
FROM alert_activity
WHERE alert_id = $1
ORDER BY at, id`

type rowScanner interface {
	Scan(dest ...any) error
}

// ListAlerts returns alerts opened inside query window, newest first.
// Params: alert query.
// Returns: matching alerts with joined machine names.
func (s *PostgresStore) ListAlerts(ctx context.Context, query AlertQuery) ([]domain.Alert, error) {
	statuses := make([]string, 0, len(query.Statuses))
	for _, status := range query.Statuses {
		statuses = append(statuses, string(status))
	}
	rows, err := s.db.QueryContext(ctx, listAlertsSQL,
		query.Window.From, query.Window.To, query.MachineID, query.TireID, pq.Array(statuses), query.Limit)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Alert, 0)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return out, nil
}

// GetAlert returns one alert.
// Params: alert id.
// Returns: alert or ErrNotFound.
func (s *PostgresStore) GetAlert(ctx context.Context, id string) (domain.Alert, error) {
	alert, err := scanAlert(s.db.QueryRowContext(ctx, getAlertSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Alert{}, ErrNotFound
	}
	return alert, err
}

// UpdateAlert applies guarded patch in one statement.
// Params: alert patch.
// Returns: updated alert, ErrNotFound or ErrConflict.
func (s *PostgresStore) UpdateAlert(ctx context.Context, patch AlertPatch) (domain.Alert, error) {
	alert, err := scanAlert(s.db.QueryRowContext(ctx, updateAlertSQL,
		patch.ID,
		string(patch.Status),
		nullString(patch.AcknowledgedBy),
		nullString(patch.Reason),
		s.now().UTC(),
		string(patch.ExpectedStatus),
	))
	if err == nil {
		return alert, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Alert{}, err
	}

	var status string
	if err := s.db.QueryRowContext(ctx, alertStatusSQL, patch.ID).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Alert{}, ErrNotFound
		}
		return domain.Alert{}, fmt.Errorf("read alert status: %w", err)
	}
	return domain.Alert{}, fmt.Errorf("alert %s is %s, expected %s: %w", patch.ID, status, patch.ExpectedStatus, ErrConflict)
}

// ListOccurrences returns occurrences created inside query window, newest first.
func (s *PostgresStore) ListOccurrences(ctx context.Context, query OccurrenceQuery) ([]domain.Occurrence, error) {
	statuses := make([]string, 0, len(query.Statuses))
	for _, status := range query.Statuses {
		statuses = append(statuses, string(status))
	}
	rows, err := s.db.QueryContext(ctx, listOccurrencesSQL,
		query.Window.From, query.Window.To, query.MachineID, query.TireID, query.AlertID, pq.Array(statuses), query.Limit)
	if err != nil {
		return nil, fmt.Errorf("query occurrences: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Occurrence, 0)
	for rows.Next() {
		occurrence, err := scanOccurrence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, occurrence)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate occurrences: %w", err)
	}
	return out, nil
}

// InsertOccurrence stores new occurrence.
// Params: occurrence row.
// Returns: stored occurrence; duplicate ids map to ErrConflict.
func (s *PostgresStore) InsertOccurrence(ctx context.Context, occurrence domain.Occurrence) (domain.Occurrence, error) {
	if err := occurrence.Validate(); err != nil {
		return domain.Occurrence{}, err
	}
	updatedAt := occurrence.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = occurrence.CreatedAt
	}
	stored, err := scanOccurrence(s.db.QueryRowContext(ctx, insertOccurrenceSQL,
		occurrence.ID,
		nullString(occurrence.AlertID),
		occurrence.MachineID,
		nullString(occurrence.TireID),
		string(occurrence.Status),
		occurrence.Description,
		occurrence.CreatedBy,
		occurrence.CreatedAt,
		updatedAt,
	))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return domain.Occurrence{}, fmt.Errorf("occurrence %s: %w", occurrence.ID, ErrConflict)
		}
		return domain.Occurrence{}, err
	}
	return stored, nil
}

// UpdateOccurrenceStatus changes occurrence status.
func (s *PostgresStore) UpdateOccurrenceStatus(ctx context.Context, id string, status domain.OccurrenceStatus) (domain.Occurrence, error) {
	occurrence, err := scanOccurrence(s.db.QueryRowContext(ctx, updateOccurrenceStatusSQL, id, string(status), s.now().UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Occurrence{}, ErrNotFound
	}
	return occurrence, err
}

// ListTelemetry returns readings inside query window, newest first.
func (s *PostgresStore) ListTelemetry(ctx context.Context, query TelemetryQuery) ([]domain.TelemetryReading, error) {
	rows, err := s.db.QueryContext(ctx, listTelemetrySQL,
		query.Window.From, query.Window.To, query.MachineID, query.TireID, query.Limit)
	if err != nil {
		return nil, fmt.Errorf("query telemetry: %w", err)
	}
	defer rows.Close()

	out := make([]domain.TelemetryReading, 0)
	for rows.Next() {
		var (
			reading domain.TelemetryReading
			tireID  sql.NullString
		)
		if err := rows.Scan(&reading.ID, &reading.MachineID, &tireID, &reading.Pressure, &reading.Speed, &reading.Timestamp, &reading.Seq); err != nil {
			return nil, fmt.Errorf("scan telemetry: %w", err)
		}
		reading.TireID = fromNullString(tireID)
		out = append(out, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate telemetry: %w", err)
	}
	return out, nil
}

// GetTire returns one tire.
func (s *PostgresStore) GetTire(ctx context.Context, id string) (domain.Tire, error) {
	var tire domain.Tire
	err := s.db.QueryRowContext(ctx, getTireSQL, id).Scan(&tire.ID, &tire.MachineID, &tire.Position, &tire.RecommendedPressure)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Tire{}, ErrNotFound
	}
	if err != nil {
		return domain.Tire{}, fmt.Errorf("scan tire: %w", err)
	}
	return tire, nil
}

// ListMachines returns machines ordered by name.
func (s *PostgresStore) ListMachines(ctx context.Context) ([]domain.Machine, error) {
	rows, err := s.db.QueryContext(ctx, listMachinesSQL)
	if err != nil {
		return nil, fmt.Errorf("query machines: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Machine, 0)
	for rows.Next() {
		var machine domain.Machine
		var status string
		if err := rows.Scan(&machine.ID, &machine.Name, &status); err != nil {
			return nil, fmt.Errorf("scan machine: %w", err)
		}
		machine.Status = domain.MachineStatus(status)
		out = append(out, machine)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate machines: %w", err)
	}
	return out, nil
}

// AppendActivity appends activity entry.
func (s *PostgresStore) AppendActivity(ctx context.Context, entry domain.ActivityEntry) error {
	if _, err := s.db.ExecContext(ctx, appendActivitySQL,
		entry.ID, entry.AlertID, entry.Action, entry.Actor, entry.Note, entry.At); err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// ListActivity returns alert activity, oldest first.
func (s *PostgresStore) ListActivity(ctx context.Context, alertID string) ([]domain.ActivityEntry, error) {
	rows, err := s.db.QueryContext(ctx, listActivitySQL, alertID)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ActivityEntry, 0)
	for rows.Next() {
		var entry domain.ActivityEntry
		if err := rows.Scan(&entry.ID, &entry.AlertID, &entry.Action, &entry.Actor, &entry.Note, &entry.At); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity: %w", err)
	}
	return out, nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes database pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func scanAlert(row rowScanner) (domain.Alert, error) {
	var (
		alert          domain.Alert
		tireID         sql.NullString
		severity       string
		status         string
		acknowledgedBy sql.NullString
		reason         sql.NullString
	)
	err := row.Scan(
		&alert.ID,
		&alert.MachineID,
		&alert.MachineName,
		&tireID,
		&severity,
		&status,
		&alert.OpenedAt,
		&alert.UpdatedAt,
		&acknowledgedBy,
		&alert.Message,
		&reason,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Alert{}, err
	}
	if err != nil {
		return domain.Alert{}, fmt.Errorf("scan alert: %w", err)
	}
	alert.Severity = domain.Severity(severity)
	alert.Status = domain.AlertStatus(status)
	alert.TireID = fromNullString(tireID)
	alert.AcknowledgedBy = fromNullString(acknowledgedBy)
	alert.Reason = fromNullString(reason)
	return alert, nil
}

func scanOccurrence(row rowScanner) (domain.Occurrence, error) {
	var (
		occurrence domain.Occurrence
		alertID    sql.NullString
		tireID     sql.NullString
		status     string
	)
	err := row.Scan(
		&occurrence.ID,
		&alertID,
		&occurrence.MachineID,
		&tireID,
		&status,
		&occurrence.Description,
		&occurrence.CreatedBy,
		&occurrence.CreatedAt,
		&occurrence.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Occurrence{}, err
	}
	if err != nil {
		return domain.Occurrence{}, fmt.Errorf("scan occurrence: %w", err)
	}
	occurrence.AlertID = fromNullString(alertID)
	occurrence.TireID = fromNullString(tireID)
	occurrence.Status = domain.OccurrenceStatus(status)
	return occurrence, nil
}

func nullString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

func fromNullString(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	out := value.String
	return &out
}
