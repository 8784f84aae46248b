// Package natsbus pushes run events to NATS subscribers.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/kralicky/voicebox/pkg/tasks"
)

const DefaultSubjectPrefix = "voicebox.events"

// Subject returns the subject the events of category are published on.
func Subject(prefix string, category tasks.Category) string {
	return prefix + "." + string(category)
}

// Publisher is a tasks.Sink that publishes every event as JSON on
// <prefix>.<category>. Delivery is at-most-once and there is no replay.
type Publisher struct {
	nc     *nats.Conn
	prefix string
}

func NewPublisher(nc *nats.Conn, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{nc: nc, prefix: prefix}
}

var _ tasks.Sink = (*Publisher)(nil)

// Emit implements tasks.Sink. It does not wait for the event to be flushed.
func (p *Publisher) Emit(ev tasks.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.nc.Publish(Subject(p.prefix, ev.Category), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Watch delivers the events published for category, or for every category if
// category is empty, until ctx is canceled. Messages that cannot be decoded
// are skipped.
func Watch(ctx context.Context, nc *nats.Conn, prefix string, category tasks.Category, fn func(tasks.Event)) error {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	subject := prefix + ".*"
	if category != "" {
		subject = Subject(prefix, category)
	}
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		var ev tasks.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			slog.Warn("failed to decode event", "subject", msg.Subject, "error", err)
			return
		}
		fn(ev)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", subject, err)
	}

	<-ctx.Done()

	if err := sub.Drain(); err != nil {
		return fmt.Errorf("failed to drain subscription: %w", err)
	}
	return nil
}
