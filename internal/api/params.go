package api

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"fleetpulse/internal/dashboard"
	"fleetpulse/internal/domain"
	"fleetpulse/internal/sla"
	"fleetpulse/internal/timeline"
	"fleetpulse/internal/timewindow"
	"fleetpulse/internal/triage"
)

// requestError marks malformed query or body input.
type requestError struct {
	msg string
}

func (e *requestError) Error() string {
	return e.msg
}

func badRequest(msg string) error {
	return &requestError{msg: msg}
}

// parseTimelineQuery reads timeline selectors.
// Params: query values machine_id, tire_id, period, from, to, type and severity.
// Returns: dashboard query or request error.
func parseTimelineQuery(values url.Values) (dashboard.TimelineQuery, error) {
	period, custom, err := parsePeriod(values)
	if err != nil {
		return dashboard.TimelineQuery{}, err
	}
	types, err := parseList(values, "type", domain.ParseEventType)
	if err != nil {
		return dashboard.TimelineQuery{}, err
	}
	severities, err := parseList(values, "severity", domain.ParseSeverity)
	if err != nil {
		return dashboard.TimelineQuery{}, err
	}
	return dashboard.TimelineQuery{
		MachineID: strings.TrimSpace(values.Get("machine_id")),
		TireID:    strings.TrimSpace(values.Get("tire_id")),
		Period:    period,
		Custom:    custom,
		Filter:    timeline.EventFilter{Types: types, Severities: severities},
	}, nil
}

// parseFilters reads triage filter state shared by alerts and occurrences.
// Params: query values severity, status, sla, assignee, machine_id, q, period, from and to.
// Returns: filters; status values apply to both alert and occurrence sets where valid.
func parseFilters(values url.Values) (triage.Filters, error) {
	period, custom, err := parsePeriod(values)
	if err != nil {
		return triage.Filters{}, err
	}
	severities, err := parseList(values, "severity", domain.ParseSeverity)
	if err != nil {
		return triage.Filters{}, err
	}

	filters := triage.Filters{
		Severities: severities,
		Period:     period,
		Custom:     custom,
		Assignee:   strings.TrimSpace(values.Get("assignee")),
		MachineID:  strings.TrimSpace(values.Get("machine_id")),
		Search:     strings.TrimSpace(values.Get("q")),
	}

	for _, raw := range splitValues(values, "status") {
		alertStatus, alertErr := domain.ParseAlertStatus(raw)
		occurrenceStatus, occurrenceErr := domain.ParseOccurrenceStatus(raw)
		if alertErr != nil && occurrenceErr != nil {
			return triage.Filters{}, badRequest(fmt.Sprintf("unsupported status %q", raw))
		}
		if alertErr == nil {
			filters.AlertStatuses = append(filters.AlertStatuses, alertStatus)
		}
		if occurrenceErr == nil {
			filters.OccurrenceStatuses = append(filters.OccurrenceStatuses, occurrenceStatus)
		}
	}

	if raw := strings.TrimSpace(values.Get("sla")); raw != "" && !strings.EqualFold(raw, triage.SLAAll) {
		class, err := sla.ParseClass(raw)
		if err != nil {
			return triage.Filters{}, badRequest(err.Error())
		}
		filters.SLA = string(class)
	}
	return filters, nil
}

// parsePeriod reads period plus optional custom range.
// A from/to pair without period selects the custom range.
func parsePeriod(values url.Values) (timewindow.Period, *timewindow.Window, error) {
	rawPeriod := strings.TrimSpace(values.Get("period"))
	rawFrom := strings.TrimSpace(values.Get("from"))
	rawTo := strings.TrimSpace(values.Get("to"))

	var custom *timewindow.Window
	if rawFrom != "" || rawTo != "" {
		if rawFrom == "" || rawTo == "" {
			return "", nil, badRequest("from and to must be given together")
		}
		from, err := time.Parse(time.RFC3339, rawFrom)
		if err != nil {
			return "", nil, badRequest("from must be RFC3339")
		}
		to, err := time.Parse(time.RFC3339, rawTo)
		if err != nil {
			return "", nil, badRequest("to must be RFC3339")
		}
		if !from.Before(to) {
			return "", nil, badRequest("from must be before to")
		}
		custom = &timewindow.Window{From: from.UTC(), To: to.UTC()}
		if rawPeriod == "" {
			rawPeriod = string(timewindow.PeriodCustom)
		}
	}
	if rawPeriod == "" {
		return "", custom, nil
	}
	period, err := timewindow.ParsePeriod(rawPeriod)
	if err != nil {
		return "", nil, err
	}
	return period, custom, nil
}

// parseList parses repeated or comma separated values.
func parseList[T any](values url.Values, key string, parse func(string) (T, error)) ([]T, error) {
	raw := splitValues(values, key)
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]T, 0, len(raw))
	for _, item := range raw {
		value, err := parse(item)
		if err != nil {
			return nil, badRequest(err.Error())
		}
		out = append(out, value)
	}
	return out, nil
}

func splitValues(values url.Values, key string) []string {
	out := make([]string, 0)
	for _, entry := range values[key] {
		for _, part := range strings.Split(entry, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
