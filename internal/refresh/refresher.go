package refresh

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"fleetpulse/internal/clock"
	"fleetpulse/internal/failure"

	"golang.org/x/sync/singleflight"
)

// DefaultInterval is the auto refresh period.
const DefaultInterval = 30 * time.Second

// Loader re-fetches every source and publishes the result.
type Loader func(ctx context.Context) error

// Status is the freshness tuple shown next to the dashboard.
type Status struct {
	IsOffline   bool       `json:"is_offline"`
	IsSyncing   bool       `json:"is_syncing"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// Refresher is the single refresh routine shared by timer, manual and realtime triggers.
// Params: loader, connectivity signal, interval, clock and logger.
// Returns: coalescing refresh scheduler.
type Refresher struct {
	load     Loader
	signal   *Signal
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	group   singleflight.Group
	trigger chan struct{}

	mu          sync.Mutex
	base        context.Context
	syncing     bool
	lastUpdated time.Time
	lastError   string
}

// New creates refresher.
// Params: loader, signal (nil means always online), interval (<= 0 uses DefaultInterval), clock and logger.
// Returns: idle refresher; call Run to start the timer.
func New(load Loader, signal *Signal, interval time.Duration, clk clock.Clock, logger *slog.Logger) *Refresher {
	if signal == nil {
		signal = NewSignal(true)
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		load:     load,
		signal:   signal,
		interval: interval,
		clock:    clk,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
		base:     context.Background(),
	}
}

// Refresh runs the loader now, joining an in-flight run if any.
// Params: caller context; cancelling it stops waiting but never the shared load,
// which runs on the context passed to Run.
// Returns: loader error, caller context error, or offline failure without calling the loader.
func (r *Refresher) Refresh(ctx context.Context) error {
	if !r.signal.Online() {
		return failure.Offline("refresh")
	}
	results := r.group.DoChan("refresh", func() (any, error) {
		r.mu.Lock()
		r.syncing = true
		base := r.base
		r.mu.Unlock()

		err := r.load(base)

		r.mu.Lock()
		r.syncing = false
		if err != nil {
			r.lastError = err.Error()
		} else {
			r.lastError = ""
			r.lastUpdated = r.clock.Now()
		}
		r.mu.Unlock()
		return nil, err
	})
	select {
	case result := <-results:
		return result.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger schedules a background refresh; repeated calls before it runs collapse into one.
func (r *Refresher) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run refreshes once, then on every tick, trigger and reconnect until ctx is done.
// Ticks are skipped while offline.
func (r *Refresher) Run(ctx context.Context) {
	r.mu.Lock()
	r.base = ctx
	r.mu.Unlock()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.refreshLogged(ctx, "startup")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.signal.Online() {
				r.refreshLogged(ctx, "timer")
			}
		case <-r.trigger:
			r.refreshLogged(ctx, "trigger")
		case <-r.signal.Changed():
			if r.signal.Online() {
				r.logger.Info("connectivity restored, refreshing")
				r.refreshLogged(ctx, "reconnect")
			} else {
				r.logger.Warn("connectivity lost, refresh suspended")
			}
		}
	}
}

// Status returns the current freshness tuple.
func (r *Refresher) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	status := Status{
		IsOffline: !r.signal.Online(),
		IsSyncing: r.syncing,
		LastError: r.lastError,
	}
	if !r.lastUpdated.IsZero() {
		updated := r.lastUpdated
		status.LastUpdated = &updated
	}
	return status
}

func (r *Refresher) refreshLogged(ctx context.Context, reason string) {
	if err := r.Refresh(ctx); err != nil {
		if failure.Is(err, failure.KindOffline) {
			r.logger.Debug("refresh skipped while offline", "reason", reason)
			return
		}
		r.logger.Warn("refresh failed", "reason", reason, "error", err.Error())
	}
}
