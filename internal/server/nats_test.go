package server

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensorfleet/deploy-console/internal/models"
)

type fakeInvalidator struct {
	networks []string
	err      error
}

func (f *fakeInvalidator) Invalidate(ctx context.Context, network string) error {
	f.networks = append(f.networks, network)
	return f.err
}

func eventMsg(t *testing.T, event models.LifecycleEvent) *nats.Msg {
	t.Helper()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	return &nats.Msg{
		Subject: LifecycleSubject(event.Network, event.DeviceName, event.State),
		Data:    data,
	}
}

func TestLifecycleSubject(t *testing.T) {
	assert.Equal(t, "fleet.airqo.device.aq_g5_87.deployed", LifecycleSubject("airqo", "aq_g5_87", models.StateDeployed))
	assert.Equal(t, "fleet.my_net.device.a_b.recalled", LifecycleSubject("my.net", "a*b", models.StateRecalled))
}

func TestHandleLifecycleEvent_InvalidatesRemoteTransitions(t *testing.T) {
	inv := &fakeInvalidator{}
	s := NewNATSSubscriber(nil, inv, "console-a")

	s.handleLifecycleEvent(eventMsg(t, models.LifecycleEvent{
		ID:         uuid.New(),
		Origin:     "console-b",
		Network:    "airqo",
		DeviceName: "aq_g5_87",
		State:      models.StateRecalled,
		OccurredAt: time.Now(),
	}))

	assert.Equal(t, []string{"airqo"}, inv.networks)
}

func TestHandleLifecycleEvent_IgnoresOwnEvents(t *testing.T) {
	inv := &fakeInvalidator{}
	s := NewNATSSubscriber(nil, inv, "console-a")

	s.handleLifecycleEvent(eventMsg(t, models.LifecycleEvent{
		Origin:     "console-a",
		Network:    "airqo",
		DeviceName: "aq_g5_87",
		State:      models.StateDeployed,
	}))

	assert.Empty(t, inv.networks)
}

func TestHandleLifecycleEvent_BadPayload(t *testing.T) {
	inv := &fakeInvalidator{err: errors.New("unused")}
	s := NewNATSSubscriber(nil, inv, "console-a")

	s.handleLifecycleEvent(&nats.Msg{Subject: "fleet.airqo.device.x.deployed", Data: []byte("{")})
	s.handleLifecycleEvent(eventMsg(t, models.LifecycleEvent{Origin: "console-b", DeviceName: "x", State: models.StateDeployed}))

	assert.Empty(t, inv.networks)
}

func TestNopPublisher(t *testing.T) {
	assert.NoError(t, NopPublisher{}.PublishLifecycle(context.Background(), &models.LifecycleEvent{}))
}
