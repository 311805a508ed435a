// Package capture bridges postgres row change notifications onto the event
// bus. A dedicated connection LISTENs on the channel the notify triggers
// write to and republishes every payload as a db.changes event.
//
// Notifications emitted while the listener is disconnected are lost. That is
// by contract: change events are hints and consumers reconcile against the
// metadata store, so the capture process reconnects without replaying.
package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/benfrankstein/untxt-sub002/internal/logger"
	"github.com/benfrankstein/untxt-sub002/pkg/bus"
	"github.com/benfrankstein/untxt-sub002/pkg/store"
)

// DefaultChannel is the postgres notification channel the migration's
// triggers write to.
const DefaultChannel = "untxt_changes"

// Config contains change capture configuration.
type Config struct {
	// DSN is the postgres connection string for the dedicated listener
	// connection.
	DSN string

	// Channel is the notification channel (default: untxt_changes).
	Channel string

	// InitialBackoff is the reconnect backoff after the first failure
	// (default: 1s).
	InitialBackoff time.Duration

	// MaxBackoff caps the reconnect backoff (default: 30s).
	MaxBackoff time.Duration
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Channel == "" {
		c.Channel = DefaultChannel
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = 30 * time.Second
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("capture dsn is required")
	}
	return nil
}

// Capture is the LISTEN/NOTIFY republisher.
type Capture struct {
	config Config
	bus    *bus.Bus
}

// New creates a capture process publishing onto the given bus.
func New(config Config, b *bus.Bus) (*Capture, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Capture{config: config, bus: b}, nil
}

// Run listens until the context is cancelled, reconnecting with exponential
// backoff on connection loss.
func (c *Capture) Run(ctx context.Context) error {
	backoff := c.config.InitialBackoff

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.listen(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		logger.Warn("change capture connection lost, reconnecting",
			"error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > c.config.MaxBackoff {
			backoff = c.config.MaxBackoff
		}
	}
}

// listen holds one connection for its lifetime, republishing every
// notification. Returns when the connection or context fails.
func (c *Capture) listen(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, c.config.DSN)
	if err != nil {
		return fmt.Errorf("failed to connect listener: %w", err)
	}
	defer func() { _ = conn.Close(context.Background()) }()

	if _, err := conn.Exec(ctx, "LISTEN "+c.config.Channel); err != nil {
		return fmt.Errorf("failed to LISTEN on %s: %w", c.config.Channel, err)
	}

	logger.Info("change capture listening", "channel", c.config.Channel)

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("listener wait failed: %w", err)
		}

		change, err := decodePayload([]byte(notification.Payload))
		if err != nil {
			logger.Warn("dropping malformed change notification", "error", err)
			continue
		}

		if err := c.bus.PublishDBChange(ctx, change); err != nil {
			logger.Warn("failed to republish change event",
				"table", change.Table, "record_id", change.RecordID, "error", err)
		}
	}
}

// decodePayload parses one trigger payload into a db.changes envelope. The
// trigger emits the store.ChangeEvent shape.
func decodePayload(payload []byte) (*bus.DBChange, error) {
	var ev store.ChangeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("invalid change payload: %w", err)
	}
	if ev.Table == "" || ev.RecordID == "" {
		return nil, fmt.Errorf("change payload missing table or record id")
	}

	return &bus.DBChange{
		Table:    ev.Table,
		Op:       string(ev.Op),
		RecordID: ev.RecordID,
		OwnerID:  ev.OwnerID,
		Summary:  ev.Summary,
	}, nil
}
