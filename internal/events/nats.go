// Package events publishes interception state changes to a durable stream so
// external consumers (audit, alerting) can follow toggles without polling.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/config"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSPublisher implements Publisher using NATS JetStream.
type NATSPublisher struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	cfg *config.EventsConfig
}

// Compile-time check that NATSPublisher implements Publisher.
var _ Publisher = (*NATSPublisher)(nil)

// NewNATSPublisher creates a new NATS JetStream publisher. It connects to
// NATS, creates the JetStream context, and ensures the stream exists.
func NewNATSPublisher(cfg *config.EventsConfig) (*NATSPublisher, error) {
	nc, err := nats.Connect(cfg.NATSURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	streamConfig := jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Description: "Interception toggle events",
		Subjects: []string{
			cfg.StreamName + ".enable",
			cfg.StreamName + ".disable",
		},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   jetstream.FileStorage,
		Replicas:  1,
		Discard:   jetstream.DiscardOld,
	}

	if _, err := js.CreateOrUpdateStream(ctx, streamConfig); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	return &NATSPublisher{
		nc:  nc,
		js:  js,
		cfg: cfg,
	}, nil
}

// PublishToggle publishes a toggle event. The EventID doubles as the message
// id so JetStream deduplicates redelivered publishes.
func (p *NATSPublisher) PublishToggle(ctx context.Context, event ToggleEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := p.cfg.StreamName + "." + event.Operation
	_, err = p.js.Publish(ctx, subject, data,
		jetstream.WithMsgID(event.EventID),
	)
	if err != nil {
		return fmt.Errorf("failed to publish toggle event: %w", err)
	}
	return nil
}

// Close drains and closes the NATS connection.
func (p *NATSPublisher) Close() error {
	if p.nc != nil && !p.nc.IsClosed() {
		return p.nc.Drain()
	}
	return nil
}
