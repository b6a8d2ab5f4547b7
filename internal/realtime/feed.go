package realtime

import (
	"context"
	"fmt"

	"fleetpulse/internal/domain"

	"github.com/bytedance/sonic"
)

// Handler receives one decoded change notification.
type Handler func(ctx context.Context, change domain.Change)

// Subscription is one live per-table subscription.
// Close is idempotent.
type Subscription interface {
	Close() error
}

// Feed delivers row changes for watched tables.
// Params: table and handler.
// Returns: owned subscription handle.
type Feed interface {
	Subscribe(table domain.Table, handler Handler) (Subscription, error)
}

// DecodeChange parses one change payload.
// Params: raw JSON payload.
// Returns: validated change or decode/validation error.
func DecodeChange(data []byte) (domain.Change, error) {
	var change domain.Change
	if err := sonic.Unmarshal(data, &change); err != nil {
		return domain.Change{}, fmt.Errorf("decode change: %w", err)
	}
	if err := change.Validate(); err != nil {
		return domain.Change{}, err
	}
	return change, nil
}

// EncodeChange renders change as JSON payload.
func EncodeChange(change domain.Change) ([]byte, error) {
	if err := change.Validate(); err != nil {
		return nil, err
	}
	data, err := sonic.Marshal(change)
	if err != nil {
		return nil, fmt.Errorf("encode change: %w", err)
	}
	return data, nil
}
