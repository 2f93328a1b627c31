package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Block event types. The subject of an event is "<prefix>.<type>".
const (
	BlockCreated    = "created"
	BlockUpdated    = "updated"
	BlockMoved      = "moved"
	BlockDeleted    = "deleted"
	BlockDuplicated = "duplicated"
	BlockCompleted  = "completed"
)

// BlockEvent describes a persisted change to a scheduled block.
type BlockEvent struct {
	Type       string    `json:"type"`
	BlockID    string    `json:"block_id"`
	UserID     string    `json:"user_id"`
	Scope      string    `json:"scope,omitempty"`
	Affected   int64     `json:"affected,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher delivers block events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, event BlockEvent) error
	Close()
}

type conn interface {
	Publish(subj string, data []byte) error
	Close()
}

// NATSPublisher publishes block events as JSON messages on NATS.
type NATSPublisher struct {
	nc     conn
	prefix string
	logger *zap.Logger
}

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(url, prefix string, logger *zap.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("planner-api"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	p := newNATSPublisher(nc, prefix, logger)
	p.logger.Info("connected to NATS", zap.String("url", url), zap.String("prefix", p.prefix))
	return p, nil
}

func newNATSPublisher(nc conn, prefix string, logger *zap.Logger) *NATSPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "planner.block"
	}
	return &NATSPublisher{nc: nc, prefix: prefix, logger: logger}
}

// Subject returns the subject an event type is published on.
func (p *NATSPublisher) Subject(eventType string) string {
	return p.prefix + "." + eventType
}

// Publish marshals event and sends it. A zero OccurredAt is stamped with the current time.
func (p *NATSPublisher) Publish(ctx context.Context, event BlockEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	subject := p.Subject(event.Type)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	p.logger.Debug("published block event", zap.String("subject", subject), zap.String("block_id", event.BlockID))
	return nil
}

// Close drops the NATS connection.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}

// Noop discards events. It is used when no NATS server is configured.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, BlockEvent) error { return nil }

// Close implements Publisher.
func (Noop) Close() {}
