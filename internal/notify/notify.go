// Package notify implements the outbound notifications channel contract
// (SPEC_FULL.md §6): a small Notifier interface with a Redis pub/sub
// implementation and a no-op one for tests and no-Redis deployments. The
// inbound tasks:incoming command channel is out of scope here — commands
// arrive over the admin HTTP API instead — but every lifecycle event that
// channel's system would have emitted is still published under the same
// "notifications" channel name and event vocabulary.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Event names as emitted on the "notifications" channel.
const (
	EventTaskCreated   = "task_created"
	EventTaskStopped   = "task_stopped"
	EventTaskRemoved   = "task_removed"
	EventTaskRestarted = "task_restarted"
	EventTaskError     = "task_error"
)

// Channel is the outbound pub/sub channel name.
const Channel = "notifications"

// Payload is the JSON shape published on Channel.
type Payload struct {
	Event  string `json:"event"`
	TaskID string `json:"taskId,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Notifier publishes task lifecycle events.
type Notifier interface {
	Publish(ctx context.Context, event, taskID, reason string) error
}

// NoOp satisfies Notifier without publishing anywhere; used by tests and by
// deployments with no REDIS_URL configured.
type NoOp struct{}

func (NoOp) Publish(context.Context, string, string, string) error { return nil }

// RedisNotifier publishes to Channel over a Redis pub/sub connection.
type RedisNotifier struct {
	client *redis.Client
}

// NewRedisNotifier wraps an existing Redis client.
func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) Publish(ctx context.Context, event, taskID, reason string) error {
	body, err := json.Marshal(Payload{Event: event, TaskID: taskID, Reason: reason})
	if err != nil {
		return fmt.Errorf("notify: marshal payload: %w", err)
	}
	if err := n.client.Publish(ctx, Channel, body).Err(); err != nil {
		return fmt.Errorf("notify: publish to %s: %w", Channel, err)
	}
	return nil
}
