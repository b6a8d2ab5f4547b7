package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fleetpulse/internal/config"
	"fleetpulse/internal/domain"
	"fleetpulse/internal/failure"

	"github.com/google/uuid"
)

// Level is the user-facing notification tone.
type Level string

const (
	// LevelInfo is a neutral notice.
	LevelInfo Level = "info"
	// LevelSuccess reports a completed workflow.
	LevelSuccess Level = "success"
	// LevelWarning asks for attention.
	LevelWarning Level = "warning"
	// LevelError reports a critical condition.
	LevelError Level = "error"
)

// Notification is one user-facing message derived from a data change.
// Params: level, title and body plus the originating table and row id.
// Returns: payload delivered to every sink.
type Notification struct {
	ID       string       `json:"id"`
	Level    Level        `json:"level"`
	Title    string       `json:"title"`
	Message  string       `json:"message"`
	Table    domain.Table `json:"table,omitempty"`
	RecordID string       `json:"record_id,omitempty"`
	At       time.Time    `json:"at"`
}

// Notifier accepts notifications for delivery.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// Sink delivers one notification to one destination.
// Params: context and notification payload.
// Returns: delivery error; permanent errors stop retries.
type Sink interface {
	Channel() string
	Send(ctx context.Context, notification Notification) error
}

// Dispatcher delivers notifications to every sink with configured retries/backoff.
// Params: sink list, per-channel retry policy and logger.
// Returns: fan-out helper for the realtime manager.
type Dispatcher struct {
	sinks   []Sink
	retries map[string]config.NotifyRetry
	inbox   *Inbox
	logger  *slog.Logger
	now     func() time.Time
}

// NewDispatcher builds notification dispatcher from enabled sinks.
// Params: notify config and optional logger.
// Returns: dispatcher with inbox always attached, or webhook setup error.
func NewDispatcher(cfg config.NotifyConfig, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	inbox := NewInbox(cfg.InboxSize)
	sinks := []Sink{inbox}
	retries := make(map[string]config.NotifyRetry)

	if cfg.Log.Enabled {
		sinks = append(sinks, NewLogSink(logger))
	}
	if cfg.Webhook.Enabled {
		webhook, err := NewWebhookSink(cfg.Webhook)
		if err != nil {
			return nil, fmt.Errorf("build webhook sink: %w", err)
		}
		sinks = append(sinks, webhook)
		retries[webhook.Channel()] = cfg.Webhook.Retry
	}

	return &Dispatcher{
		sinks:   sinks,
		retries: retries,
		inbox:   inbox,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// NewDispatcherWithSinks builds a dispatcher over explicit sinks.
// Params: inbox (may be nil), extra sinks, retry policy per channel and logger.
// Returns: dispatcher.
func NewDispatcherWithSinks(inbox *Inbox, sinks []Sink, retries map[string]config.NotifyRetry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	all := make([]Sink, 0, len(sinks)+1)
	if inbox != nil {
		all = append(all, inbox)
	}
	all = append(all, sinks...)
	if retries == nil {
		retries = make(map[string]config.NotifyRetry)
	}
	return &Dispatcher{
		sinks:   all,
		retries: retries,
		inbox:   inbox,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Inbox returns the in-memory sink polled by the API.
func (d *Dispatcher) Inbox() *Inbox {
	return d.inbox
}

// Channels returns configured sink names in delivery order.
func (d *Dispatcher) Channels() []string {
	out := make([]string, 0, len(d.sinks))
	for _, sink := range d.sinks {
		out = append(out, sink.Channel())
	}
	return out
}

// Notify stamps the notification and delivers it to every sink.
// Params: context and notification; empty id and time are filled in.
// Returns: joined per-sink delivery errors; one failing sink never skips the others.
func (d *Dispatcher) Notify(ctx context.Context, notification Notification) error {
	if strings.TrimSpace(notification.ID) == "" {
		notification.ID = uuid.NewString()
	}
	if notification.At.IsZero() {
		notification.At = d.now()
	}
	if notification.Level == "" {
		notification.Level = LevelInfo
	}

	var errs []error
	for _, sink := range d.sinks {
		if err := d.sendWithRetry(ctx, sink, notification, d.retries[sink.Channel()]); err != nil {
			d.logger.Warn("notification delivery failed", "channel", sink.Channel(), "id", notification.ID, "error", err.Error())
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// sendWithRetry delivers one notification, retrying transport failures.
// Params: context, sink, notification and retry policy.
// Returns: nil on delivery, last error after attempts, permanent errors immediately.
func (d *Dispatcher) sendWithRetry(ctx context.Context, sink Sink, notification Notification, retry config.NotifyRetry) error {
	if !retry.Enabled {
		return sink.Send(ctx, notification)
	}

	attempt := 0
	backoff := time.Duration(retry.InitialMS) * time.Millisecond
	maxBackoff := time.Duration(retry.MaxMS) * time.Millisecond
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		attempt++
		err := sink.Send(ctx, notification)
		if err == nil {
			if retry.LogEachAttempt && attempt > 1 {
				d.logger.Info("notification delivered after retries", "channel", sink.Channel(), "attempt", attempt)
			}
			return nil
		}
		if retry.LogEachAttempt {
			d.logger.Warn("notification attempt failed", "channel", sink.Channel(), "attempt", attempt, "error", err.Error())
		}
		if failure.IsPermanent(err) {
			return err
		}
		if retry.MaxAttempts > 0 && attempt >= retry.MaxAttempts {
			return fmt.Errorf("channel %s failed after %d attempts: %w", sink.Channel(), attempt, err)
		}

		if timer == nil {
			timer = time.NewTimer(backoff)
		} else {
			timer.Reset(backoff)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		if strings.EqualFold(retry.Backoff, "exponential") {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}
