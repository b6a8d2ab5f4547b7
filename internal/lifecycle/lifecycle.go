package lifecycle

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"fleetpulse/internal/domain"
)

var (
	// ErrInvalidTransition is returned when action is not allowed from current status.
	ErrInvalidTransition = errors.New("invalid alert transition")
	// ErrUnknownAction is returned for actions outside the transition table.
	ErrUnknownAction = errors.New("unknown alert action")
)

// Action names an operator action on an alert.
type Action string

const (
	ActionAssign      Action = "assign"
	ActionAcknowledge Action = "acknowledge"
	ActionStart       Action = "start"
	ActionResolve     Action = "resolve"
)

// ParseAction normalizes action name.
// Params: raw action text.
// Returns: action or ErrUnknownAction.
func ParseAction(raw string) (Action, error) {
	action := Action(strings.ToLower(strings.TrimSpace(raw)))
	switch action {
	case ActionAssign, ActionAcknowledge, ActionStart, ActionResolve:
		return action, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, raw)
	}
}

// Transition is one requested state change.
// Params: action, acting user id, assignee user id (assign only), note (resolve only).
// Returns: transition value consumed by Apply.
type Transition struct {
	Action   Action
	Actor    string
	Assignee string
	Note     string
}

// Apply evaluates transition against alert.
// Params: current alert and transition.
// Returns: next alert, changed=false for idempotent no-ops, or ErrInvalidTransition/ErrUnknownAction.
func Apply(alert domain.Alert, t Transition) (domain.Alert, bool, error) {
	next := alert.Clone()
	switch t.Action {
	case ActionAssign:
		assignee := strings.TrimSpace(t.Assignee)
		if assignee == "" {
			return alert, false, fmt.Errorf("%w: assign requires assignee", ErrInvalidTransition)
		}
		switch alert.Status {
		case domain.AlertStatusOpen:
			next.Status = domain.AlertStatusAcknowledged
			next.AcknowledgedBy = domain.StringPtr(assignee)
			return next, true, nil
		case domain.AlertStatusAcknowledged, domain.AlertStatusInProgress:
			if alert.AcknowledgedBy != nil && *alert.AcknowledgedBy == assignee {
				return alert, false, nil
			}
		}
		return alert, false, invalid(alert, t.Action)
	case ActionAcknowledge:
		switch alert.Status {
		case domain.AlertStatusOpen:
			next.Status = domain.AlertStatusAcknowledged
			if next.Unassigned() && strings.TrimSpace(t.Actor) != "" {
				next.AcknowledgedBy = domain.StringPtr(strings.TrimSpace(t.Actor))
			}
			return next, true, nil
		case domain.AlertStatusAcknowledged, domain.AlertStatusInProgress, domain.AlertStatusResolved:
			return alert, false, nil
		}
		return alert, false, invalid(alert, t.Action)
	case ActionStart:
		switch alert.Status {
		case domain.AlertStatusOpen, domain.AlertStatusAcknowledged:
			next.Status = domain.AlertStatusInProgress
			return next, true, nil
		case domain.AlertStatusInProgress:
			return alert, false, nil
		}
		return alert, false, invalid(alert, t.Action)
	case ActionResolve:
		switch alert.Status {
		case domain.AlertStatusResolved:
			return alert, false, nil
		case domain.AlertStatusOpen, domain.AlertStatusAcknowledged, domain.AlertStatusInProgress:
			next.Status = domain.AlertStatusResolved
			next.Reason = domain.StringPtr(t.Note)
			return next, true, nil
		}
		return alert, false, invalid(alert, t.Action)
	default:
		return alert, false, fmt.Errorf("%w: %q", ErrUnknownAction, t.Action)
	}
}

func invalid(alert domain.Alert, action Action) error {
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, action, alert.Status)
}

// NewOccurrence spawns open occurrence referencing alert.
// Params: source alert, creating actor, description and creation time.
// Returns: new occurrence with random id; alert is not modified.
func NewOccurrence(alert domain.Alert, actor, description string, now time.Time) domain.Occurrence {
	alertID := alert.ID
	var tireID *string
	if alert.TireID != nil {
		tireID = domain.StringPtr(*alert.TireID)
	}
	return domain.Occurrence{
		ID:          uuid.NewString(),
		AlertID:     &alertID,
		MachineID:   alert.MachineID,
		TireID:      tireID,
		Status:      domain.OccurrenceStatusOpen,
		Description: strings.TrimSpace(description),
		CreatedBy:   actor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NewActivityEntry builds activity log entry for a confirmed action.
// Params: alert id, action name, actor, note and time.
// Returns: entry with random id.
func NewActivityEntry(alertID, action, actor, note string, now time.Time) domain.ActivityEntry {
	return domain.ActivityEntry{
		ID:      uuid.NewString(),
		AlertID: alertID,
		Action:  action,
		Actor:   actor,
		Note:    note,
		At:      now,
	}
}
