package notify

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"text/template"
	"time"

	"fleetpulse/internal/config"
	"fleetpulse/internal/failure"
	"fleetpulse/internal/templatefmt"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
)

const (
	channelInbox   = "inbox"
	channelLog     = "log"
	channelWebhook = "webhook"
)

// Inbox keeps the most recent notifications in a fixed ring.
// Params: capacity passed to NewInbox.
// Returns: sink polled by GET /api/notifications.
type Inbox struct {
	mu    sync.Mutex
	items []Notification
	next  int
	full  bool
}

// NewInbox creates an inbox holding at most size entries.
func NewInbox(size int) *Inbox {
	if size <= 0 {
		size = 1
	}
	return &Inbox{items: make([]Notification, size)}
}

// Channel returns sink name.
func (i *Inbox) Channel() string {
	return channelInbox
}

// Send stores notification, overwriting the oldest entry when full.
func (i *Inbox) Send(_ context.Context, notification Notification) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.items[i.next] = notification
	i.next++
	if i.next == len(i.items) {
		i.next = 0
		i.full = true
	}
	return nil
}

// List returns stored notifications newest first.
// Params: maximum entries to return (<= 0 returns all).
// Returns: copied notification slice.
func (i *Inbox) List(limit int) []Notification {
	i.mu.Lock()
	defer i.mu.Unlock()
	count := i.next
	if i.full {
		count = len(i.items)
	}
	if limit > 0 && limit < count {
		count = limit
	}
	out := make([]Notification, 0, count)
	idx := i.next
	for len(out) < count {
		idx--
		if idx < 0 {
			idx = len(i.items) - 1
		}
		out = append(out, i.items[idx])
	}
	return out
}

// LogSink writes notifications to the service log.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink writing to logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Channel returns sink name.
func (s *LogSink) Channel() string {
	return channelLog
}

// Send logs one notification at a level matching its tone.
func (s *LogSink) Send(ctx context.Context, notification Notification) error {
	s.logger.Log(ctx, slogLevel(notification.Level), "notification",
		"id", notification.ID,
		"level", string(notification.Level),
		"title", notification.Title,
		"message", notification.Message,
		"table", string(notification.Table),
		"record_id", notification.RecordID,
	)
	return nil
}

func slogLevel(level Level) slog.Level {
	switch level {
	case LevelError:
		return slog.LevelError
	case LevelWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// webhookPayload is the JSON body posted by WebhookSink.
type webhookPayload struct {
	Notification
	Text string `json:"text,omitempty"`
}

// WebhookSink posts notifications as JSON to one HTTP endpoint.
// Params: endpoint, timeout, static headers and optional text template.
// Returns: sink with transport and rejection classification.
type WebhookSink struct {
	url      string
	client   *resty.Client
	template *template.Template
}

// NewWebhookSink builds webhook sink from config.
// Params: webhook section.
// Returns: sink or template parse error.
func NewWebhookSink(cfg config.WebhookConfig) (*WebhookSink, error) {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeaders(cfg.Headers)

	sink := &WebhookSink{url: strings.TrimSpace(cfg.URL), client: client}
	if body := strings.TrimSpace(cfg.Template); body != "" {
		tmpl, err := templatefmt.ParseNotificationTemplate("notify.webhook.template", body)
		if err != nil {
			return nil, err
		}
		sink.template = tmpl
	}
	return sink, nil
}

// Channel returns sink name.
func (s *WebhookSink) Channel() string {
	return channelWebhook
}

// Send posts one notification.
// Params: context and notification.
// Returns: transport error for network and 5xx, rejected error for 4xx.
func (s *WebhookSink) Send(ctx context.Context, notification Notification) error {
	payload := webhookPayload{Notification: notification}
	if s.template != nil {
		var rendered bytes.Buffer
		if err := s.template.Execute(&rendered, notification); err != nil {
			return failure.Rejected("render webhook template", err)
		}
		payload.Text = rendered.String()
	}
	body, err := sonic.Marshal(payload)
	if err != nil {
		return failure.Rejected("encode webhook payload", err)
	}

	resp, err := s.client.R().SetContext(ctx).SetBody(body).Post(s.url)
	if err != nil {
		return failure.Transport("webhook post", err)
	}
	if resp.IsSuccess() {
		return nil
	}
	statusErr := unexpectedStatusError(resp.StatusCode(), resp.String())
	if resp.StatusCode() >= 400 && resp.StatusCode() < 500 {
		return failure.Rejected("webhook post", statusErr)
	}
	return failure.Transport("webhook post", statusErr)
}

// unexpectedStatusError formats non-2xx HTTP response with optional body.
func unexpectedStatusError(status int, body string) error {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return fmt.Errorf("webhook status=%d", status)
	}
	return fmt.Errorf("webhook status=%d body=%s", status, templatefmt.Truncate(trimmed, 200))
}
