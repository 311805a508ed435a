// Package queue implements the redis-backed FIFO work queue feeding the
// worker pool. Producers LPUSH task ids; workers BRPOP them, so delivery is
// at-least-once and ordering is per-queue FIFO.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/benfrankstein/untxt-sub002/internal/logger"
)

// DefaultName is the task queue key.
const DefaultName = "ocr:tasks"

// ErrEmpty means the blocking pop timed out with no message.
var ErrEmpty = errors.New("queue empty")

// Config contains work queue configuration.
type Config struct {
	// URL is the redis connection string (redis://host:port/db).
	URL string

	// Name is the queue key (default: ocr:tasks).
	Name string

	// HighWaterMark is the depth above which ingest sheds load. Zero
	// disables backpressure.
	HighWaterMark int64
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = DefaultName
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("queue url is required")
	}
	return nil
}

// Queue is the redis-backed work queue. Safe for concurrent use.
type Queue struct {
	client *redis.Client
	name   string
	hwm    int64
}

// NewClient dials redis from a connection URL.
func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// New creates a queue over an existing redis client.
func New(client *redis.Client, config Config) *Queue {
	config.ApplyDefaults()
	return &Queue{
		client: client,
		name:   config.Name,
		hwm:    config.HighWaterMark,
	}
}

// Push enqueues a task id. The metadata row must already be durable: a
// worker that pops an id it cannot load treats the message as spurious.
func (q *Queue) Push(ctx context.Context, taskID string) error {
	if err := q.client.LPush(ctx, q.name, taskID).Err(); err != nil {
		return fmt.Errorf("failed to push task %s: %w", taskID, err)
	}
	logger.Debug("task enqueued", "task_id", taskID, "queue", q.name)
	return nil
}

// Pop blocks up to timeout for the next task id. Returns ErrEmpty when the
// timeout elapses with no message.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := q.client.BRPop(ctx, timeout, q.name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrEmpty
		}
		return "", fmt.Errorf("failed to pop from queue %s: %w", q.name, err)
	}
	// BRPOP returns [key, value]
	if len(res) != 2 {
		return "", fmt.Errorf("unexpected BRPOP reply length %d", len(res))
	}
	return res[1], nil
}

// Depth returns the number of queued messages.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	depth, err := q.client.LLen(ctx, q.name).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	return depth, nil
}

// Overloaded reports whether the queue depth reached the high-water mark.
// Ingest rejects new uploads with ServiceOverloaded while this holds.
func (q *Queue) Overloaded(ctx context.Context) (bool, error) {
	if q.hwm <= 0 {
		return false, nil
	}
	depth, err := q.Depth(ctx)
	if err != nil {
		return false, err
	}
	return depth >= q.hwm, nil
}

// Healthcheck pings the backing redis.
func (q *Queue) Healthcheck(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}
