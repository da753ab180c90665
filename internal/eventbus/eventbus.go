// Package eventbus implements Fechatter's internal event bus on NATS
// JetStream. HTTP handlers and domain services publish EventEnvelopes after
// their owning transaction commits, and the notification hub and search
// indexer subscribe to fan events out to SSE clients and the search index.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fechatter/fechatter/internal/models"
)

// streamName is the single JetStream stream backing every Fechatter subject.
const streamName = "FECHATTER_EVENTS"

// Transport is the narrow interface the rest of the system depends on, so
// that domain services can be tested against a fake bus instead of a live
// NATS connection.
type Transport interface {
	Publish(ctx context.Context, env models.EventEnvelope) error
	Subscribe(subject string, handler func(models.EventEnvelope)) (Subscription, error)
	SubscribeWildcard(pattern string, handler func(subject string, env models.EventEnvelope)) (Subscription, error)
	QueueSubscribe(subject, queue string, handler func(models.EventEnvelope)) (Subscription, error)
}

// Subscription can be unsubscribed by the caller that created it.
type Subscription interface {
	Unsubscribe() error
}

// Bus wraps a NATS connection and JetStream context and implements
// Transport. It is the central nervous system connecting REST handlers and
// the chat/search/notify services inside the chat server process.
type Bus struct {
	conn       *nats.Conn
	js         nats.JetStreamContext
	logger     *slog.Logger
	hmacSecret string
}

var _ Transport = (*Bus)(nil)

// New connects to the NATS server at the given URL and initializes
// JetStream. hmacSecret, when non-empty, is used to sign every outgoing
// envelope.
func New(natsURL, hmacSecret string, logger *slog.Logger) (*Bus, error) {
	opts := []nats.Option{
		nats.Name("fechatter"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(60),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error("NATS error", slog.String("error", err.Error()))
		}),
	}

	nc, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", natsURL, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("initializing JetStream: %w", err)
	}

	logger.Info("NATS connection established", slog.String("url", nc.ConnectedUrl()))

	return &Bus{conn: nc, js: js, logger: logger, hmacSecret: hmacSecret}, nil
}

// EnsureStreams creates the JetStream stream backing every Fechatter subject
// if it doesn't already exist. Call this during server startup.
func (b *Bus) EnsureStreams() error {
	cfg := &nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{WildcardAll},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Storage:   nats.FileStorage,
		Replicas:  1,
	}

	info, err := b.js.StreamInfo(streamName)
	if err != nil && err != nats.ErrStreamNotFound {
		return fmt.Errorf("checking stream %s: %w", streamName, err)
	}
	if info == nil {
		if _, err := b.js.AddStream(cfg); err != nil {
			return fmt.Errorf("creating stream %s: %w", streamName, err)
		}
		b.logger.Info("JetStream stream created", slog.String("stream", streamName))
	} else {
		b.logger.Debug("JetStream stream exists", slog.String("stream", streamName))
	}

	return nil
}

// Publish signs env (if a secret is configured) and publishes it to
// env.Subject. Publishing is fire-and-forget core NATS, not a JetStream
// acknowledged publish: callers that need at-least-once delivery guarantees
// use the outbox sweep instead of relying on this call succeeding.
func (b *Bus) Publish(_ context.Context, env models.EventEnvelope) error {
	Sign(&env, b.hmacSecret)

	data, err := marshalEnvelope(env)
	if err != nil {
		return fmt.Errorf("marshaling envelope for %s: %w", env.Subject, err)
	}

	if err := b.conn.Publish(env.Subject, data); err != nil {
		return classify(fmt.Errorf("publishing to %s: %w", env.Subject, err))
	}

	b.logger.Debug("event published",
		slog.String("subject", env.Subject),
		slog.String("event_id", env.EventID),
	)

	return nil
}

// Subscribe creates a core NATS subscription to subject. The handler
// receives decoded, signature-verified EventEnvelopes; envelopes that fail
// to parse or verify are dropped and logged, never delivered to handler.
func (b *Bus) Subscribe(subject string, handler func(models.EventEnvelope)) (Subscription, error) {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		env, ok := b.decode(subject, msg.Data)
		if !ok {
			return
		}
		handler(env)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	b.logger.Debug("subscribed to subject", slog.String("subject", subject))
	return sub, nil
}

// SubscribeWildcard subscribes to every subject matching pattern (e.g.
// WildcardAll), passing the concrete subject alongside the decoded envelope.
func (b *Bus) SubscribeWildcard(pattern string, handler func(subject string, env models.EventEnvelope)) (Subscription, error) {
	sub, err := b.conn.Subscribe(pattern, func(msg *nats.Msg) {
		env, ok := b.decode(msg.Subject, msg.Data)
		if !ok {
			return
		}
		handler(msg.Subject, env)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", pattern, err)
	}
	b.logger.Debug("subscribed to pattern", slog.String("pattern", pattern))
	return sub, nil
}

// QueueSubscribe creates a queue-group subscription for load-balanced
// delivery across multiple instances of the same service, e.g. several
// search indexer replicas sharing SubjectSearchIndex.
func (b *Bus) QueueSubscribe(subject, queue string, handler func(models.EventEnvelope)) (Subscription, error) {
	sub, err := b.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		env, ok := b.decode(subject, msg.Data)
		if !ok {
			return
		}
		handler(env)
	})
	if err != nil {
		return nil, fmt.Errorf("queue subscribing to %s (queue: %s): %w", subject, queue, err)
	}
	b.logger.Debug("queue subscribed", slog.String("subject", subject), slog.String("queue", queue))
	return sub, nil
}

func (b *Bus) decode(subject string, data []byte) (models.EventEnvelope, bool) {
	env, err := unmarshalEnvelope(data)
	if err != nil {
		b.logger.Error("failed to unmarshal envelope",
			slog.String("subject", subject), slog.String("error", err.Error()))
		return models.EventEnvelope{}, false
	}
	if b.hmacSecret != "" && !Verify(env, b.hmacSecret) {
		b.logger.Error("envelope signature verification failed",
			slog.String("subject", subject), slog.String("event_id", env.EventID))
		return models.EventEnvelope{}, false
	}
	return env, true
}

// Conn returns the underlying NATS connection for advanced use cases (e.g.
// the health endpoint).
func (b *Bus) Conn() *nats.Conn { return b.conn }

// JetStream returns the JetStream context for stream-level operations.
func (b *Bus) JetStream() nats.JetStreamContext { return b.js }

// HealthCheck verifies the NATS connection is alive.
func (b *Bus) HealthCheck() error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS connection is not active (status: %s)", b.conn.Status())
	}
	return nil
}

// Close drains pending messages and closes the NATS connection.
func (b *Bus) Close() {
	b.logger.Info("closing NATS connection")
	b.conn.Drain()
}
