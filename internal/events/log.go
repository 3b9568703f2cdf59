package events

import (
	"context"
	"log/slog"

	"github.com/Madhan-droid/user-management-kiro-poc/internal/domain"
)

// LogPublisher writes events to the structured log instead of a bus.
// It is the development fallback when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, entry domain.AuditEntry) error {
	p.logger.InfoContext(ctx, "audit event published",
		"event_id", entry.EventID,
		"user_id", entry.UserID,
		"action", string(entry.Action),
		"seq", entry.Seq,
		"actor", entry.Actor,
		"routing_key", routingKey(entry.Action),
	)
	return nil
}

func (p *LogPublisher) Name() string { return "log" }

func (p *LogPublisher) Close() error { return nil }
