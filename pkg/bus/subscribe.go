// Package bus implements the redis pub/sub event bus.
//
// This file contains the subscriber side: a typed message stream over one
// redis subscription.
package bus

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/benfrankstein/untxt-sub002/internal/logger"
)

// Message is one decoded bus event. Exactly one of the payload fields is
// non-nil, matching Topic.
type Message struct {
	Topic        string
	TaskUpdate   *TaskUpdate
	DBChange     *DBChange
	Notification *Notification
}

// Subscription is a typed stream over one redis pub/sub connection. Close it
// to release the connection; the Events channel closes afterwards.
type Subscription struct {
	pubsub *redis.PubSub
	events chan Message
}

// Subscribe opens one subscription on the given topics (defaults to
// task.updates and db.changes) and starts the decode loop. Malformed
// payloads are logged and dropped; the hint-only contract makes skipping
// safe.
func (b *Bus) Subscribe(ctx context.Context, topics ...string) *Subscription {
	if len(topics) == 0 {
		topics = []string{TopicTaskUpdates, TopicDBChanges}
	}

	sub := &Subscription{
		pubsub: b.client.Subscribe(ctx, topics...),
		events: make(chan Message, 256),
	}
	go sub.decodeLoop()
	return sub
}

// Events returns the decoded message stream.
func (s *Subscription) Events() <-chan Message {
	return s.events
}

// Close terminates the subscription and closes the event channel.
func (s *Subscription) Close() error {
	return s.pubsub.Close()
}

func (s *Subscription) decodeLoop() {
	defer close(s.events)

	for msg := range s.pubsub.Channel() {
		decoded, ok := decode(msg.Channel, []byte(msg.Payload))
		if !ok {
			continue
		}
		s.events <- decoded
	}
}

func decode(topic string, payload []byte) (Message, bool) {
	switch {
	case topic == TopicTaskUpdates:
		var update TaskUpdate
		if err := json.Unmarshal(payload, &update); err != nil {
			logger.Warn("dropping malformed task update", "error", err)
			return Message{}, false
		}
		if update.TaskID == "" {
			logger.Warn("dropping task update without task id")
			return Message{}, false
		}
		return Message{Topic: topic, TaskUpdate: &update}, true

	case topic == TopicDBChanges:
		var change DBChange
		if err := json.Unmarshal(payload, &change); err != nil {
			logger.Warn("dropping malformed db change", "error", err)
			return Message{}, false
		}
		if change.Table == "" || change.RecordID == "" {
			logger.Warn("dropping db change without table or record id")
			return Message{}, false
		}
		return Message{Topic: topic, DBChange: &change}, true

	case topic == TopicNotifications || strings.HasPrefix(topic, TopicNotifications+":user:"):
		var n Notification
		if err := json.Unmarshal(payload, &n); err != nil {
			logger.Warn("dropping malformed notification", "error", err)
			return Message{}, false
		}
		if n.UserID == "" {
			logger.Warn("dropping notification without user id")
			return Message{}, false
		}
		return Message{Topic: topic, Notification: &n}, true

	default:
		logger.Warn("dropping event on unknown topic", "topic", topic)
		return Message{}, false
	}
}
