package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New creates a new event bus based on configuration.
// For Community tier: returns ChannelBus.
// For Pro tier: returns NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel", "":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// newMessage wraps payload in an envelope carrying the trace ID of ctx.
func newMessage(ctx context.Context, topic string, payload []byte) *domain.Message {
	msg := &domain.Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
	if traceID := domain.TraceID(ctx); traceID != "" {
		msg.Metadata[domain.MetadataTraceID] = traceID
	}
	return msg
}

// handlerContext restores the publisher's trace ID on the handler side.
func handlerContext(ctx context.Context, msg *domain.Message) context.Context {
	if traceID := msg.Metadata[domain.MetadataTraceID]; traceID != "" {
		return domain.WithTraceID(ctx, traceID)
	}
	return ctx
}
