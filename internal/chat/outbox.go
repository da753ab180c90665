package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/fechatter/fechatter/internal/eventbus"
	"github.com/fechatter/fechatter/internal/models"
)

// outboxBatchSize bounds how many stale rows a single sweep republishes, so
// one slow sweep tick never holds the pool open indefinitely.
const outboxBatchSize = 100

// outboxRetryBudget bounds how long the sweeper retries a single stale row
// against the bus before giving up and leaving it for the next tick.
const outboxRetryBudget = 3 * time.Second

// SweepOutbox republishes outbox rows older than OutboxGracePeriod that
// never got an inline publish confirmation (a dead bus, a network blip
// between commit and publish). Safe to call on a ticker from the server's
// main loop: each row is re-published at-least-once and marked published on
// success, so a sweep racing a slow inline publish just double-publishes,
// never loses, an event. Consumers dedupe on EventID.
func (s *Service) SweepOutbox(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.limits.OutboxGracePeriod)

	rows, err := s.pool.Query(ctx,
		`SELECT event_id, subject, payload, chat_id, user_id
		 FROM outbox_events
		 WHERE published_at IS NULL AND created_at < $1
		 ORDER BY created_at ASC
		 LIMIT $2`,
		cutoff, outboxBatchSize,
	)
	if err != nil {
		return fmt.Errorf("query stale outbox rows: %w", err)
	}
	defer rows.Close()

	type pending struct {
		env models.EventEnvelope
	}
	var batch []pending
	for rows.Next() {
		var env models.EventEnvelope
		var chatIDStr, userIDStr *string
		if err := rows.Scan(&env.EventID, &env.Subject, &env.Payload, &chatIDStr, &userIDStr); err != nil {
			return fmt.Errorf("scan outbox row: %w", err)
		}
		if chatIDStr != nil {
			env.ChatID = models.MustParseULID(*chatIDStr)
		}
		if userIDStr != nil {
			env.UserID = models.MustParseULID(*userIDStr)
		}
		batch = append(batch, pending{env: env})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate outbox rows: %w", err)
	}

	for _, p := range batch {
		attempts, err := eventbus.RetryPublish(ctx, outboxRetryBudget, s.logger, func() error {
			return s.bus.Publish(ctx, p.env)
		})
		if err != nil {
			s.logger.Warn("outbox sweep republish failed, will retry next tick",
				"event_id", p.env.EventID, "subject", p.env.Subject, "attempts", attempts, "error", err)
			continue
		}
		if _, err := s.pool.Exec(ctx, `UPDATE outbox_events SET published_at = now() WHERE event_id = $1`, p.env.EventID); err != nil {
			s.logger.Warn("failed to mark swept outbox row published", "event_id", p.env.EventID, "error", err)
		}
	}

	if len(batch) > 0 {
		s.logger.Info("outbox sweep republished stale events", "count", len(batch))
	}
	return nil
}

// RunOutboxSweeper runs SweepOutbox on a ticker until ctx is canceled,
// mirroring the teacher's background worker lifecycle (started once from
// cmd/fechatter-server, stopped by the same signal-driven context the HTTP
// server shuts down on).
func (s *Service) RunOutboxSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SweepOutbox(ctx); err != nil {
				s.logger.Error("outbox sweep failed", "error", err)
			}
		}
	}
}
