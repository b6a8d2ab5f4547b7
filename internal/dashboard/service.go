package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"fleetpulse/internal/cache"
	"fleetpulse/internal/clock"
	"fleetpulse/internal/domain"
	"fleetpulse/internal/failure"
	"fleetpulse/internal/sla"
	"fleetpulse/internal/store"
	"fleetpulse/internal/timeline"
	"fleetpulse/internal/timewindow"
	"fleetpulse/internal/triage"

	"golang.org/x/sync/errgroup"
)

// Source names used in partial error maps.
const (
	SourceAlerts      = "alerts"
	SourceOccurrences = "occurrences"
	SourceTelemetry   = "telemetry"
)

// Overlay exposes locally held alert rows that may be ahead of the store.
type Overlay interface {
	Get(id string) (domain.Alert, bool)
	Replace(alerts []domain.Alert)
}

// Options wires the read model.
// Params: store, optional cache and overlay, SLA evaluator, clock, telemetry ratio,
// default period and logger.
// Returns: dependencies for New.
type Options struct {
	Store         store.Store
	Cache         cache.Cache
	Overlay       Overlay
	SLA           *sla.Evaluator
	Clock         clock.Clock
	CriticalRatio float64
	DefaultPeriod timewindow.Period
	Logger        *slog.Logger
}

// Service builds the timeline, triage list and counts from one snapshotted window.
type Service struct {
	store         store.Store
	cache         cache.Cache
	overlay       Overlay
	sla           *sla.Evaluator
	clock         clock.Clock
	ratio         float64
	defaultPeriod timewindow.Period
	logger        *slog.Logger
}

// New creates the read model.
func New(opts Options) *Service {
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	evaluator := opts.SLA
	if evaluator == nil {
		evaluator = sla.NewEvaluator(sla.DefaultPolicy(), clk, sla.DefaultStep)
	}
	ratio := opts.CriticalRatio
	if ratio <= 0 {
		ratio = timeline.DefaultCriticalRatio
	}
	period := opts.DefaultPeriod
	if period == "" {
		period = timewindow.Period24h
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:         opts.Store,
		cache:         opts.Cache,
		overlay:       opts.Overlay,
		sla:           evaluator,
		clock:         clk,
		ratio:         ratio,
		defaultPeriod: period,
		logger:        logger,
	}
}

// TimelineQuery selects one machine or tire timeline.
type TimelineQuery struct {
	MachineID string
	TireID    string
	Period    timewindow.Period
	Custom    *timewindow.Window
	Filter    timeline.EventFilter
}

// TimelineResult is the merged, newest-first event list.
// Errors holds one message per failed source; the other sources are still merged.
type TimelineResult struct {
	Window timewindow.Window      `json:"window"`
	Events []domain.TimelineEvent `json:"events"`
	Errors map[string]string      `json:"errors,omitempty"`
}

// Timeline fetches alerts, occurrences and critical telemetry concurrently.
// Params: context and query; telemetry is only consulted for tire-scoped queries.
// Returns: result with per-source errors, ErrUnknownPeriod, or the joined error when every source failed.
func (s *Service) Timeline(ctx context.Context, query TimelineQuery) (TimelineResult, error) {
	window, err := timewindow.Resolve(s.period(query.Period), query.Custom, s.clock.Now())
	if err != nil {
		return TimelineResult{}, err
	}

	var (
		src  timeline.Sources
		mu   sync.Mutex
		errs = make(map[string]error)
	)
	record := func(source string, err error) {
		mu.Lock()
		errs[source] = err
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		alerts, err := s.alerts(gctx, store.AlertQuery{Window: window, MachineID: query.MachineID, TireID: query.TireID})
		if err != nil {
			record(SourceAlerts, err)
			return nil
		}
		src.Alerts = s.overlayAlerts(alerts)
		return nil
	})
	g.Go(func() error {
		occurrences, err := s.occurrences(gctx, store.OccurrenceQuery{Window: window, MachineID: query.MachineID, TireID: query.TireID})
		if err != nil {
			record(SourceOccurrences, err)
			return nil
		}
		src.Occurrences = occurrences
		return nil
	})
	if query.TireID != "" {
		g.Go(func() error {
			critical, err := s.critical(gctx, window, query.MachineID, query.TireID)
			if err != nil {
				record(SourceTelemetry, err)
				return nil
			}
			src.Critical = critical
			return nil
		})
	}
	_ = g.Wait()

	attempted := 2
	if query.TireID != "" {
		attempted = 3
	}
	result := TimelineResult{Window: window}
	if len(errs) > 0 {
		result.Errors = make(map[string]string, len(errs))
		joined := make([]error, 0, len(errs))
		for _, source := range sortedSources(errs) {
			result.Errors[source] = errs[source].Error()
			joined = append(joined, fmt.Errorf("%s: %w", source, errs[source]))
			s.logger.Warn("timeline source failed", "source", source, "error", errs[source].Error())
		}
		if len(errs) == attempted {
			return result, errors.Join(joined...)
		}
	}

	events := timeline.Normalize(src)
	timeline.SortChronological(events)
	result.Events = query.Filter.Apply(events)
	return result, nil
}

// TriageResult is the filtered, prioritized alert list with badge counts.
// Errors names sources that failed; when occurrences fail their counts are omitted.
type TriageResult struct {
	Window timewindow.Window `json:"window"`
	Alerts []domain.Alert    `json:"alerts"`
	Counts triage.Counts     `json:"counts"`
	Errors map[string]string `json:"errors,omitempty"`
}

// Triage lists alerts matching filters in priority order.
// Params: context and operator filters.
// Returns: sorted alerts plus counts over the whole window; an error only when alerts cannot be read.
func (s *Service) Triage(ctx context.Context, filters triage.Filters) (TriageResult, error) {
	filters.Period = s.period(filters.Period)
	window, err := filters.Window(s.clock.Now())
	if err != nil {
		return TriageResult{}, err
	}

	var (
		alerts         []domain.Alert
		occurrences    []domain.Occurrence
		alertErr       error
		occurrencesErr error
		g              errgroup.Group
	)
	g.Go(func() error {
		alerts, alertErr = s.alerts(ctx, store.AlertQuery{Window: window, MachineID: filters.MachineID})
		return nil
	})
	g.Go(func() error {
		occurrences, occurrencesErr = s.occurrences(ctx, store.OccurrenceQuery{Window: window, MachineID: filters.MachineID})
		return nil
	})
	_ = g.Wait()
	if alertErr != nil {
		if occurrencesErr != nil {
			return TriageResult{}, errors.Join(alertErr, occurrencesErr)
		}
		return TriageResult{}, alertErr
	}

	snapshot := s.sla.Snapshot()
	alerts = s.overlayAlerts(alerts)
	matched := triage.Filter(alerts, filters, snapshot)
	triage.Sort(matched, snapshot)
	result := TriageResult{
		Window: window,
		Alerts: matched,
		Counts: triage.Count(alerts, occurrences, snapshot),
	}
	if occurrencesErr != nil {
		s.logger.Warn("triage source failed", "source", SourceOccurrences, "error", occurrencesErr.Error())
		result.Counts.Occurrences = nil
		result.Errors = map[string]string{SourceOccurrences: occurrencesErr.Error()}
	}
	return result, nil
}

// OccurrenceResult is the filtered occurrence list, newest first.
type OccurrenceResult struct {
	Window      timewindow.Window   `json:"window"`
	Occurrences []domain.Occurrence `json:"occurrences"`
}

// Occurrences lists occurrences matching filters.
func (s *Service) Occurrences(ctx context.Context, filters triage.Filters) (OccurrenceResult, error) {
	filters.Period = s.period(filters.Period)
	window, err := filters.Window(s.clock.Now())
	if err != nil {
		return OccurrenceResult{}, err
	}
	rows, err := s.occurrences(ctx, store.OccurrenceQuery{Window: window, MachineID: filters.MachineID})
	if err != nil {
		return OccurrenceResult{}, err
	}
	return OccurrenceResult{Window: window, Occurrences: triage.FilterOccurrences(rows, filters)}, nil
}

// Activity returns the activity log of one alert.
func (s *Service) Activity(ctx context.Context, alertID string) ([]domain.ActivityEntry, error) {
	if _, err := s.store.GetAlert(ctx, alertID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, failure.Rejected("get alert", err)
		}
		return nil, failure.Transport("get alert", err)
	}
	entries, err := s.store.ListActivity(ctx, alertID)
	if err != nil {
		return nil, failure.Transport("list activity", err)
	}
	return entries, nil
}

// Load re-fetches the default-period alert set and reconciles the overlay.
// Params: context.
// Returns: store error; used as the refresher loader.
func (s *Service) Load(ctx context.Context) error {
	window, err := timewindow.Resolve(s.defaultPeriod, nil, s.clock.Now())
	if err != nil {
		return err
	}
	alerts, err := s.store.ListAlerts(ctx, store.AlertQuery{Window: window})
	if err != nil {
		return failure.Transport("load alerts", err)
	}
	if s.overlay != nil {
		s.overlay.Replace(alerts)
	}
	return nil
}

func (s *Service) alerts(ctx context.Context, query store.AlertQuery) ([]domain.Alert, error) {
	scope := scopeKey(query.Window, "machine="+query.MachineID, "tire="+query.TireID)
	var rows []domain.Alert
	slot, hit := s.cached(ctx, domain.TableAlerts, scope, &rows)
	if hit {
		return rows, nil
	}
	rows, err := s.store.ListAlerts(ctx, query)
	if err != nil {
		return nil, failure.Transport("list alerts", err)
	}
	s.remember(ctx, slot, rows)
	return rows, nil
}

func (s *Service) occurrences(ctx context.Context, query store.OccurrenceQuery) ([]domain.Occurrence, error) {
	scope := scopeKey(query.Window, "machine="+query.MachineID, "tire="+query.TireID)
	var rows []domain.Occurrence
	slot, hit := s.cached(ctx, domain.TableOccurrences, scope, &rows)
	if hit {
		return rows, nil
	}
	rows, err := s.store.ListOccurrences(ctx, query)
	if err != nil {
		return nil, failure.Transport("list occurrences", err)
	}
	s.remember(ctx, slot, rows)
	return rows, nil
}

func (s *Service) critical(ctx context.Context, window timewindow.Window, machineID, tireID string) ([]domain.TelemetryReading, error) {
	scope := scopeKey(window, "machine="+machineID, "tire="+tireID, "critical")
	var rows []domain.TelemetryReading
	slot, hit := s.cached(ctx, domain.TableTelemetry, scope, &rows)
	if hit {
		return rows, nil
	}
	tire, err := s.store.GetTire(ctx, tireID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, failure.Rejected("get tire", err)
		}
		return nil, failure.Transport("get tire", err)
	}
	readings, err := s.store.ListTelemetry(ctx, store.TelemetryQuery{Window: window, MachineID: machineID, TireID: tireID})
	if err != nil {
		return nil, failure.Transport("list telemetry", err)
	}
	rows = timeline.CriticalReadings(readings, tire.RecommendedPressure, s.ratio)
	s.remember(ctx, slot, rows)
	return rows, nil
}

// cacheSlot remembers where a missed read may be written back.
// version is captured before the store read.
type cacheSlot struct {
	table    domain.Table
	scope    string
	version  int64
	writable bool
}

func (s *Service) cached(ctx context.Context, table domain.Table, scope string, dst any) (cacheSlot, bool) {
	slot := cacheSlot{table: table, scope: scope}
	if s.cache == nil {
		return slot, false
	}
	version, err := s.cache.Version(ctx, table)
	if err != nil {
		s.logger.Debug("cache version failed", "table", string(table), "error", err.Error())
		return slot, false
	}
	slot.version = version
	slot.writable = true
	ok, err := s.cache.Get(ctx, table, scope, dst)
	if err != nil {
		s.logger.Debug("cache get failed", "table", string(table), "error", err.Error())
		return slot, false
	}
	return slot, ok
}

func (s *Service) remember(ctx context.Context, slot cacheSlot, value any) {
	if s.cache == nil || !slot.writable {
		return
	}
	stored, err := s.cache.SetVersioned(ctx, slot.table, slot.version, slot.scope, value)
	if err != nil {
		s.logger.Debug("cache set failed", "table", string(slot.table), "error", err.Error())
		return
	}
	if !stored {
		s.logger.Debug("cache write skipped after invalidation", "table", string(slot.table))
	}
}

// overlayAlerts swaps in locally held rows so speculative state stays visible.
func (s *Service) overlayAlerts(alerts []domain.Alert) []domain.Alert {
	out := make([]domain.Alert, 0, len(alerts))
	for _, alert := range alerts {
		if s.overlay != nil {
			if local, ok := s.overlay.Get(alert.ID); ok {
				alert = local
			}
		}
		out = append(out, alert)
	}
	return out
}

func (s *Service) period(period timewindow.Period) timewindow.Period {
	if period == "" {
		return s.defaultPeriod
	}
	return period
}

// scopeKey keys cached query sets by resolved window and selectors.
// Relative windows are keyed by their start truncated to the minute.
func scopeKey(window timewindow.Window, parts ...string) string {
	from := window.From.UTC().Truncate(time.Minute).Format(time.RFC3339)
	to := window.To.UTC().Truncate(time.Minute).Format(time.RFC3339)
	return strings.Join(append([]string{from, to}, parts...), "|")
}

func sortedSources(errs map[string]error) []string {
	out := make([]string, 0, len(errs))
	for source := range errs {
		out = append(out, source)
	}
	sort.Strings(out)
	return out
}
