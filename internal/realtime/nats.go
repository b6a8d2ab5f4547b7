package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fleetpulse/internal/domain"

	"github.com/nats-io/nats.go"
)

// ConnectNATS opens a connection that reconnects forever and reports connectivity.
// Params: server urls, client name and optional connectivity callback.
// Returns: connected client or dial error.
func ConnectNATS(urls []string, name string, onState func(online bool)) (*nats.Conn, error) {
	report := func(online bool) {
		if onState != nil {
			onState(online)
		}
	}
	nc, err := nats.Connect(strings.Join(urls, ","),
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(*nats.Conn, error) { report(false) }),
		nats.ReconnectHandler(func(*nats.Conn) { report(true) }),
		nats.ClosedHandler(func(*nats.Conn) { report(false) }),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	report(true)
	return nc, nil
}

// NATSFeed carries change notifications on `<prefix>.<table>` subjects.
// Params: NATS connection, subject prefix and logger.
// Returns: feed for multi-instance deployments.
type NATSFeed struct {
	nc     *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewNATSFeed creates feed over an existing connection.
func NewNATSFeed(nc *nats.Conn, prefix string, logger *slog.Logger) *NATSFeed {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSFeed{nc: nc, prefix: strings.TrimSuffix(prefix, "."), logger: logger}
}

// Subject returns the subject carrying changes of table.
func (f *NATSFeed) Subject(table domain.Table) string {
	return f.prefix + "." + string(table)
}

// Subscribe listens to the table subject.
// Params: table and handler.
// Returns: subscription unsubscribing on Close.
func (f *NATSFeed) Subscribe(table domain.Table, handler Handler) (Subscription, error) {
	sub, err := f.nc.Subscribe(f.Subject(table), func(message *nats.Msg) {
		change, err := DecodeChange(message.Data)
		if err != nil {
			f.logger.Warn("drop malformed change", "subject", message.Subject, "error", err.Error())
			return
		}
		handler(context.Background(), change)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", f.Subject(table), err)
	}
	return &natsSubscription{sub: sub}, nil
}

// Publish sends one change to its table subject.
// Params: context (unused by core NATS publish) and change.
// Returns: encode or publish error.
func (f *NATSFeed) Publish(_ context.Context, change domain.Change) error {
	data, err := EncodeChange(change)
	if err != nil {
		return err
	}
	if err := f.nc.Publish(f.Subject(change.Table), data); err != nil {
		return fmt.Errorf("publish %s: %w", f.Subject(change.Table), err)
	}
	return nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Close() error {
	if !s.sub.IsValid() {
		return nil
	}
	return s.sub.Unsubscribe()
}
