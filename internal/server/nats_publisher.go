package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/sensorfleet/deploy-console/internal/models"
)

// LifecycleWildcard matches every lifecycle subject
const LifecycleWildcard = "fleet.*.device.*.*"

var subjectReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")

// LifecycleSubject is the subject a transition is published on:
// fleet.<network>.device.<name>.<state>
func LifecycleSubject(network, deviceName string, state models.LifecycleState) string {
	return fmt.Sprintf("fleet.%s.device.%s.%s",
		subjectReplacer.Replace(network),
		subjectReplacer.Replace(deviceName),
		state,
	)
}

// NATSPublisher publishes lifecycle events
type NATSPublisher struct {
	nc     *nats.Conn
	origin string
}

// NewNATSPublisher creates a publisher stamping events with origin
func NewNATSPublisher(nc *nats.Conn, origin string) *NATSPublisher {
	return &NATSPublisher{nc: nc, origin: origin}
}

// PublishLifecycle publishes a lifecycle event
func (p *NATSPublisher) PublishLifecycle(ctx context.Context, event *models.LifecycleEvent) error {
	event.Origin = p.origin

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal lifecycle event: %w", err)
	}

	subject := LifecycleSubject(event.Network, event.DeviceName, event.State)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	log.Debug().Str("subject", subject).Msg("Lifecycle event published")
	return nil
}

// NopPublisher drops events when NATS is not configured
type NopPublisher struct{}

func (NopPublisher) PublishLifecycle(ctx context.Context, event *models.LifecycleEvent) error {
	return nil
}
