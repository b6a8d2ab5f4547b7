package realtime

import (
	"errors"
	"fmt"

	"fleetpulse/internal/domain"
	"fleetpulse/internal/notify"
	"fleetpulse/internal/sla"
	"fleetpulse/internal/templatefmt"

	"github.com/bytedance/sonic"
)

// occurrencePreviewRunes bounds the occurrence description carried by notifications.
const occurrencePreviewRunes = 50

// Dependents returns cached query sets that must be dropped when table changes.
// Alert rows carry the joined machine name, so machine changes also drop alerts.
func Dependents(table domain.Table) []domain.Table {
	if table == domain.TableMachines {
		return []domain.Table{domain.TableMachines, domain.TableAlerts}
	}
	return []domain.Table{table}
}

// Classify derives the user-facing notification for one change.
// Params: change and SLA policy used to show the response deadline.
// Returns: notification, whether one applies, and row decode error.
func Classify(change domain.Change, policy sla.Policy) (notify.Notification, bool, error) {
	if change.Type == domain.ChangeDelete {
		return notify.Notification{}, false, nil
	}
	switch change.Table {
	case domain.TableAlerts:
		return classifyAlert(change, policy)
	case domain.TableOccurrences:
		return classifyOccurrence(change)
	case domain.TableMachines:
		return classifyMachine(change)
	default:
		return notify.Notification{}, false, nil
	}
}

func classifyAlert(change domain.Change, policy sla.Policy) (notify.Notification, bool, error) {
	var row domain.Alert
	if err := decodeRow(change.New, &row); err != nil {
		return notify.Notification{}, false, err
	}

	switch change.Type {
	case domain.ChangeInsert:
		deadline := policy.DueAt(row.OpenedAt, row.Severity).Sub(row.OpenedAt)
		return notify.Notification{
			Level:    alertLevel(row.Severity),
			Title:    fmt.Sprintf("Novo alerta %s", row.Severity),
			Message:  fmt.Sprintf("%s (prazo de resposta %s)", row.Message, templatefmt.FormatDeadline(deadline)),
			Table:    change.Table,
			RecordID: row.ID,
		}, true, nil
	case domain.ChangeUpdate:
		if row.Status != domain.AlertStatusResolved {
			return notify.Notification{}, false, nil
		}
		var old domain.Alert
		if len(change.Old) > 0 {
			if err := decodeRow(change.Old, &old); err != nil {
				return notify.Notification{}, false, err
			}
			if old.Status == domain.AlertStatusResolved {
				return notify.Notification{}, false, nil
			}
		}
		return notify.Notification{
			Level:    notify.LevelSuccess,
			Title:    "Alerta resolvido",
			Message:  row.Message,
			Table:    change.Table,
			RecordID: row.ID,
		}, true, nil
	}
	return notify.Notification{}, false, nil
}

func classifyOccurrence(change domain.Change) (notify.Notification, bool, error) {
	var row domain.Occurrence
	if err := decodeRow(change.New, &row); err != nil {
		return notify.Notification{}, false, err
	}

	switch change.Type {
	case domain.ChangeInsert:
		return notify.Notification{
			Level:    notify.LevelInfo,
			Title:    "Nova ocorrência",
			Message:  templatefmt.Truncate(row.Description, occurrencePreviewRunes),
			Table:    change.Table,
			RecordID: row.ID,
		}, true, nil
	case domain.ChangeUpdate:
		if row.Status.Canonical() != domain.OccurrenceStatusClosed {
			return notify.Notification{}, false, nil
		}
		var old domain.Occurrence
		if len(change.Old) > 0 {
			if err := decodeRow(change.Old, &old); err != nil {
				return notify.Notification{}, false, err
			}
			if old.Status.Canonical() == domain.OccurrenceStatusClosed {
				return notify.Notification{}, false, nil
			}
		}
		return notify.Notification{
			Level:    notify.LevelSuccess,
			Title:    "Ocorrência encerrada",
			Message:  templatefmt.Truncate(row.Description, occurrencePreviewRunes),
			Table:    change.Table,
			RecordID: row.ID,
		}, true, nil
	}
	return notify.Notification{}, false, nil
}

func classifyMachine(change domain.Change) (notify.Notification, bool, error) {
	if change.Type != domain.ChangeUpdate || len(change.Old) == 0 {
		return notify.Notification{}, false, nil
	}
	var row, old domain.Machine
	if err := decodeRow(change.New, &row); err != nil {
		return notify.Notification{}, false, err
	}
	if err := decodeRow(change.Old, &old); err != nil {
		return notify.Notification{}, false, err
	}
	if row.Status == old.Status {
		return notify.Notification{}, false, nil
	}
	return notify.Notification{
		Level:    machineLevel(row.Status),
		Title:    fmt.Sprintf("Máquina %s", displayName(row)),
		Message:  fmt.Sprintf("Status alterado de %s para %s", old.Status, row.Status),
		Table:    change.Table,
		RecordID: row.ID,
	}, true, nil
}

func alertLevel(severity domain.Severity) notify.Level {
	switch severity {
	case domain.SeverityCritical:
		return notify.LevelError
	case domain.SeverityHigh:
		return notify.LevelWarning
	default:
		return notify.LevelInfo
	}
}

func machineLevel(status domain.MachineStatus) notify.Level {
	switch status {
	case domain.MachineStatusCritical:
		return notify.LevelError
	case domain.MachineStatusWarning:
		return notify.LevelWarning
	default:
		return notify.LevelInfo
	}
}

func displayName(machine domain.Machine) string {
	if machine.Name != "" {
		return machine.Name
	}
	return machine.ID
}

func decodeRow(raw []byte, dst any) error {
	if len(raw) == 0 {
		return errors.New("change row is empty")
	}
	if err := sonic.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode change row: %w", err)
	}
	return nil
}
