package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/sensorfleet/deploy-console/internal/models"
)

// Invalidator drops cached fleet lists of a network
type Invalidator interface {
	Invalidate(ctx context.Context, network string) error
}

// NATSSubscriber NATS subscriber
type NATSSubscriber struct {
	nc     *nats.Conn
	fleet  Invalidator
	origin string
	subs   []*nats.Subscription
}

// NewNATSSubscriber creates NATS subscriber. Events published under origin
// are ignored.
func NewNATSSubscriber(nc *nats.Conn, fleet Invalidator, origin string) *NATSSubscriber {
	return &NATSSubscriber{
		nc:     nc,
		fleet:  fleet,
		origin: origin,
		subs:   make([]*nats.Subscription, 0),
	}
}

// Start starts subscriptions
func (s *NATSSubscriber) Start(ctx context.Context) error {
	// Subscribe to lifecycle transitions from every console instance
	sub, err := s.nc.Subscribe(LifecycleWildcard, s.handleLifecycleEvent)
	if err != nil {
		return fmt.Errorf("subscribe lifecycle events: %w", err)
	}
	s.subs = append(s.subs, sub)

	log.Info().
		Int("subscriptions", len(s.subs)).
		Msg("NATS subscriber started")

	<-ctx.Done()

	// Unsubscribe
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}

	return ctx.Err()
}

// handleLifecycleEvent invalidates the fleet cache for transitions made elsewhere
func (s *NATSSubscriber) handleLifecycleEvent(msg *nats.Msg) {
	log.Debug().
		Str("subject", msg.Subject).
		Int("size", len(msg.Data)).
		Msg("Received lifecycle event")

	var event models.LifecycleEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		log.Error().Err(err).Msg("Failed to unmarshal lifecycle event")
		return
	}

	if event.Origin != "" && event.Origin == s.origin {
		return
	}
	if event.Network == "" {
		log.Warn().Str("subject", msg.Subject).Msg("Lifecycle event without network")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.fleet.Invalidate(ctx, event.Network); err != nil {
		log.Error().Err(err).Str("network", event.Network).Msg("Failed to invalidate fleet cache")
		return
	}

	log.Info().
		Str("network", event.Network).
		Str("device", event.DeviceName).
		Str("state", string(event.State)).
		Str("origin", event.Origin).
		Msg("Fleet cache invalidated by remote transition")
}
