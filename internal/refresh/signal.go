package refresh

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Signal tracks connectivity to the server of record.
// Params: initial state passed to NewSignal.
// Returns: online flag with change notifications.
type Signal struct {
	online  atomic.Bool
	changes chan struct{}
}

// NewSignal creates signal in given state.
func NewSignal(online bool) *Signal {
	s := &Signal{changes: make(chan struct{}, 1)}
	s.online.Store(online)
	return s
}

// Online reports current connectivity.
func (s *Signal) Online() bool {
	return s.online.Load()
}

// SetOnline records connectivity and wakes waiters when it changed.
// Params: new state.
// Returns: none.
func (s *Signal) SetOnline(online bool) {
	if s.online.Swap(online) == online {
		return
	}
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// Changed fires after state flips; read Online for the current value.
func (s *Signal) Changed() <-chan struct{} {
	return s.changes
}

// Probe pings on every interval and records the outcome.
// Params: context, ping function, interval and logger.
// Returns: when context is done.
func (s *Signal) Probe(ctx context.Context, ping func(context.Context) error, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, interval)
			err := ping(pingCtx)
			cancel()
			online := err == nil
			if online != s.Online() {
				if online {
					logger.Info("store reachable again")
				} else {
					logger.Warn("store unreachable", "error", err.Error())
				}
			}
			s.SetOnline(online)
		}
	}
}
