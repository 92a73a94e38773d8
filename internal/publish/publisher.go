// Package publish fans mirror notifications out to NATS JetStream for
// downstream consumers. Publishing is best effort: a failed publish is
// logged and counted, and consumers can fall back to the journal.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/moneyprotocol/engineering-sub002/internal/metrics"
	"github.com/moneyprotocol/engineering-sub002/internal/mirror"
)

// DefaultSubjectPrefix roots every subject the publisher uses.
const DefaultSubjectPrefix = "vaultmirror"

// StreamName is the JetStream stream holding change events.
const StreamName = "VAULT_MIRROR_EVENTS"

// JetStream is the subset of jetstream.JetStream used for publishing.
type JetStream interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// ChangeEvent is published for every mirror notification.
type ChangeEvent struct {
	Fields    []string     `json:"fields"`
	State     mirror.State `json:"state"`
	Timestamp time.Time    `json:"timestamp"`
}

// Event kinds, appended to the subject prefix.
const (
	KindChanges             = "changes"
	KindRecoveryMode        = "recovery_mode"
	KindUndercollateralized = "undercollateralized"
)

type message struct {
	kind  string
	event ChangeEvent
}

// Publisher publishes change events. Subjects follow the pattern
// {prefix}.events.{kind}.
type Publisher struct {
	js     JetStream
	prefix string
	queue  chan message
	clock  func() time.Time
	logger *slog.Logger
}

// NewPublisher creates a publisher with a queue of buffer events.
func NewPublisher(js JetStream, prefix string, buffer int, logger *slog.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		js:     js,
		prefix: prefix,
		queue:  make(chan message, buffer),
		clock:  time.Now,
		logger: logger,
	}
}

// Subject returns the subject for an event kind.
func (p *Publisher) Subject(kind string) string {
	return fmt.Sprintf("%s.events.%s", p.prefix, kind)
}

// Listen is a mirror.Listener. Besides the change event it publishes an
// alert when recovery mode toggles and when undercollateralized vaults
// appear.
func (p *Publisher) Listen(n mirror.Notification) {
	event := ChangeEvent{Fields: n.Fields.Strings(), State: n.New, Timestamp: p.clock()}
	p.enqueue(message{kind: KindChanges, event: event})

	if n.Fields.Has(mirror.FieldRecoveryMode) {
		p.enqueue(message{kind: KindRecoveryMode, event: event})
	}
	if n.Fields.Has(mirror.FieldHaveUndercollateralizedVaults) && n.New.HaveUndercollateralizedVaults {
		p.enqueue(message{kind: KindUndercollateralized, event: event})
	}
}

func (p *Publisher) enqueue(m message) {
	select {
	case p.queue <- m:
	default:
		metrics.PublishedEvents.WithLabelValues("dropped").Inc()
		p.logger.Warn("publish queue full, dropping event", "kind", m.kind)
	}
}

// Run starts the publish loop.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case m := <-p.queue:
			if err := p.publish(ctx, m); err != nil {
				metrics.PublishedEvents.WithLabelValues("error").Inc()
				p.logger.Warn("outbound publish failed", "kind", m.kind, "error", err)
				// Non-fatal: consumers can read the journal instead.
				continue
			}
			metrics.PublishedEvents.WithLabelValues("ok").Inc()
		}
	}
}

func (p *Publisher) publish(ctx context.Context, m message) error {
	data, err := json.Marshal(m.event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = p.js.Publish(ctx, p.Subject(m.kind), data)
	return err
}

// EnsureStream creates or updates the events stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream, prefix string) error {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{prefix + ".events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", StreamName, err)
	}
	return nil
}
