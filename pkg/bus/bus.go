// Package bus publishes pipeline lifecycle events over NATS as typed JSON
// messages with OpenTelemetry trace propagation.
package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"

	"github.com/speechsim/speechsim/engine/pipeline"
)

// SubjectRunCompleted carries one event per finished similarity run.
const SubjectRunCompleted = "similarity.run.completed"

// natsHeaderCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Bus publishes pipeline events. It satisfies pipeline.Publisher.
type Bus struct {
	nc *nats.Conn
}

// Connect dials NATS and returns a Bus over the connection.
func Connect(url string) (*Bus, error) {
	nc, err := nats.Connect(url, nats.Name("speechsim-api"))
	if err != nil {
		return nil, fmt.Errorf("bus: connect %s: %w", url, err)
	}
	return &Bus{nc: nc}, nil
}

// New wraps an existing connection.
func New(nc *nats.Conn) *Bus { return &Bus{nc: nc} }

// Close drains and closes the underlying connection.
func (b *Bus) Close() error {
	if b.nc == nil {
		return nil
	}
	return b.nc.Drain()
}

// PublishRunCompleted emits a run-completed event. Trace context from ctx is
// injected into the message headers.
func (b *Bus) PublishRunCompleted(ctx context.Context, ev pipeline.RunCompleted) error {
	return publish(ctx, b.nc, SubjectRunCompleted, ev)
}

func publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("bus: marshal %s: %w", subject, err)
	}
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
	}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return nc.PublishMsg(msg)
}

// SubscribeRunCompleted registers a handler for run-completed events. Trace
// context is extracted from message headers. Malformed messages are dropped.
func SubscribeRunCompleted(nc *nats.Conn, handler func(context.Context, pipeline.RunCompleted)) (*nats.Subscription, error) {
	return nc.Subscribe(SubjectRunCompleted, func(msg *nats.Msg) {
		var ev pipeline.RunCompleted
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return // drop malformed messages
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
		handler(ctx, ev)
	})
}
