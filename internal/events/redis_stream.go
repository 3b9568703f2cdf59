package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Madhan-droid/user-management-kiro-poc/internal/domain"
	"github.com/redis/go-redis/v9"
)

const defaultStream = "user:events"

// RedisStreamPublisher appends audit events to a Redis stream so local
// consumers can tail the event log without a broker.
type RedisStreamPublisher struct {
	client *redis.Client
	stream string
}

func NewRedisStreamPublisher(client *redis.Client, stream string) *RedisStreamPublisher {
	if stream == "" {
		stream = defaultStream
	}
	return &RedisStreamPublisher{client: client, stream: stream}
}

func (p *RedisStreamPublisher) Publish(ctx context.Context, entry domain.AuditEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"eventId":       entry.EventID,
			"userId":        entry.UserID,
			"action":        string(entry.Action),
			"correlationId": entry.CorrelationID,
			"routingKey":    routingKey(entry.Action),
			"payload":       string(body),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

func (p *RedisStreamPublisher) Name() string { return "redis_stream" }

func (p *RedisStreamPublisher) Close() error { return nil }
