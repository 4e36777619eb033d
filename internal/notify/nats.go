package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/ridehail/internal/booking/domain"
)

// NATSPort publishes dispatch events to NATS subjects so other services
// (payments, analytics) can observe the booking lifecycle. Delivery is
// fire-and-forget; a nil connection turns the port into a no-op.
type NATSPort struct {
	conn          *nats.Conn
	subjectPrefix string
}

// NewNATSPort builds a port publishing under prefix (default
// "dispatch.events").
func NewNATSPort(conn *nats.Conn, subjectPrefix string) *NATSPort {
	if subjectPrefix == "" {
		subjectPrefix = "dispatch.events"
	}
	return &NATSPort{conn: conn, subjectPrefix: subjectPrefix}
}

type natsEnvelope struct {
	Event   domain.EventType `json:"event"`
	PartyID string           `json:"party_id,omitempty"`
	Payload any              `json:"payload"`
}

// EmitToParty publishes the event tagged with the target party.
func (p *NATSPort) EmitToParty(ctx context.Context, partyID uuid.UUID, event domain.EventType, payload any) error {
	return p.publish(ctx, natsEnvelope{Event: event, PartyID: partyID.String(), Payload: payload})
}

// Broadcast publishes the event without a party tag.
func (p *NATSPort) Broadcast(ctx context.Context, event domain.EventType, payload any) error {
	return p.publish(ctx, natsEnvelope{Event: event, Payload: payload})
}

func (p *NATSPort) publish(ctx context.Context, env natsEnvelope) error {
	if p == nil || p.conn == nil {
		return nil
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.conn.PublishMsg(&nats.Msg{
		Subject: fmt.Sprintf("%s.%s", p.subjectPrefix, env.Event),
		Data:    data,
		Header: map[string][]string{
			"x-trace-id":   {traceIDFromContext(ctx)},
			"x-event-type": {string(env.Event)},
		},
	})
}

func traceIDFromContext(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
