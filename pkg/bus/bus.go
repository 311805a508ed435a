// Package bus implements the redis pub/sub event bus between the workers,
// the change capture process and the websocket gateway.
//
// Delivery is fire-and-forget: subscribers connected at publish time receive
// the event, nobody replays a backlog. Consumers treat events as hints and
// reconcile against the metadata store.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/benfrankstein/untxt-sub002/pkg/models"
)

const (
	// TopicTaskUpdates carries task lifecycle transitions from the workers.
	TopicTaskUpdates = "task.updates"

	// TopicDBChanges carries row change hints from the capture process (or
	// the in-process notifier on sqlite deployments).
	TopicDBChanges = "db.changes"

	// TopicNotifications carries user-facing completion notices. Every
	// notification also goes out on the per-user channel from
	// NotificationTopic, preserving the layout external consumers expect.
	TopicNotifications = "ocr:notifications"
)

// NotificationTopic returns the per-user notification channel name.
func NotificationTopic(userID string) string {
	return TopicNotifications + ":user:" + userID
}

// TaskUpdate is the envelope on task.updates. One event is published per
// observed status transition.
type TaskUpdate struct {
	EventID      string           `json:"event_id"`
	TaskID       string           `json:"task_id"`
	OwnerID      string           `json:"owner_id"`
	Status       models.TaskStatus `json:"status"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Attempts     int              `json:"attempts,omitempty"`
	WorkerID     string           `json:"worker_id,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
}

// DBChange is the envelope on db.changes. Mirrors store.ChangeEvent plus an
// event id and timestamp for client-side dedup.
type DBChange struct {
	EventID   string         `json:"event_id"`
	Table     string         `json:"table"`
	Op        string         `json:"operation"`
	RecordID  string         `json:"record_id"`
	OwnerID   string         `json:"owner_id,omitempty"`
	Summary   models.JSONMap `json:"summary,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Notification is a user-facing notice published on the per-user channel
// when a task reaches a terminal state.
type Notification struct {
	EventID   string    `json:"event_id"`
	UserID    string    `json:"user_id"`
	TaskID    string    `json:"task_id"`
	Kind      string    `json:"kind"` // task_completed | task_failed
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Bus publishes and subscribes on the redis event channels. Safe for
// concurrent use.
type Bus struct {
	client *redis.Client
}

// New creates a bus over an existing redis client.
func New(client *redis.Client) *Bus {
	return &Bus{client: client}
}

// PublishTaskUpdate publishes a task transition on task.updates. Missing
// event ids and timestamps are filled in.
func (b *Bus) PublishTaskUpdate(ctx context.Context, update *TaskUpdate) error {
	if update.EventID == "" {
		update.EventID = models.NewID()
	}
	if update.Timestamp.IsZero() {
		update.Timestamp = time.Now().UTC()
	}
	return b.publish(ctx, TopicTaskUpdates, update)
}

// PublishDBChange publishes a row change hint on db.changes.
func (b *Bus) PublishDBChange(ctx context.Context, change *DBChange) error {
	if change.EventID == "" {
		change.EventID = models.NewID()
	}
	if change.Timestamp.IsZero() {
		change.Timestamp = time.Now().UTC()
	}
	return b.publish(ctx, TopicDBChanges, change)
}

// PublishNotification publishes a user notification on the global channel
// and on the user's own channel.
func (b *Bus) PublishNotification(ctx context.Context, n *Notification) error {
	if n.EventID == "" {
		n.EventID = models.NewID()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}
	if err := b.publish(ctx, TopicNotifications, n); err != nil {
		return err
	}
	return b.publish(ctx, NotificationTopic(n.UserID), n)
}

func (b *Bus) publish(ctx context.Context, topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode event for %s: %w", topic, err)
	}
	if err := b.client.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", topic, err)
	}
	return nil
}

// Healthcheck pings the backing redis.
func (b *Bus) Healthcheck(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
