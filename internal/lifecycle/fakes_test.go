package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sensorfleet/deploy-console/internal/cache"
	"github.com/sensorfleet/deploy-console/internal/models"
	"github.com/sensorfleet/deploy-console/internal/registry"
	"github.com/sensorfleet/deploy-console/internal/storage"
)

var fixedNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

type mockRegistry struct {
	mock.Mock
}

func (m *mockRegistry) Deploy(ctx context.Context, deviceName string, payload registry.DeployPayload) (*registry.Message, error) {
	args := m.Called(ctx, deviceName, payload)
	msg, _ := args.Get(0).(*registry.Message)
	return msg, args.Error(1)
}

func (m *mockRegistry) DeployWithCoordinates(ctx context.Context, payload registry.CoordinateDeployPayload) (*registry.Message, error) {
	args := m.Called(ctx, payload)
	msg, _ := args.Get(0).(*registry.Message)
	return msg, args.Error(1)
}

func (m *mockRegistry) Recall(ctx context.Context, deviceName string, payload registry.RecallPayload) (*registry.Message, error) {
	args := m.Called(ctx, deviceName, payload)
	msg, _ := args.Get(0).(*registry.Message)
	return msg, args.Error(1)
}

func (m *mockRegistry) RecentFeed(ctx context.Context, channel int64) (*models.TelemetrySnapshot, error) {
	args := m.Called(ctx, channel)
	snap, _ := args.Get(0).(*models.TelemetrySnapshot)
	return snap, args.Error(1)
}

type fakeFleet struct {
	mu        sync.Mutex
	devices   map[string]models.Device
	loadedAt  time.Time
	refreshes int32
}

func newFakeFleet(devices ...models.Device) *fakeFleet {
	f := &fakeFleet{devices: make(map[string]models.Device)}
	for _, d := range devices {
		f.devices[d.Network+"/"+d.Name] = d
	}
	return f
}

func (f *fakeFleet) Device(ctx context.Context, network, name string) (*models.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[network+"/"+name]
	if !ok {
		return nil, cache.ErrNotFound
	}
	return &d, nil
}

func (f *fakeFleet) Refresh(ctx context.Context, network string) error {
	atomic.AddInt32(&f.refreshes, 1)
	return nil
}

func (f *fakeFleet) LoadedAt(ctx context.Context, network string) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadedAt
}

// reload replaces a device as a fleet reload at loadedAt would
func (f *fakeFleet) reload(d models.Device, loadedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices[d.Network+"/"+d.Name] = d
	f.loadedAt = loadedAt
}

func (f *fakeFleet) refreshCount() int32 {
	return atomic.LoadInt32(&f.refreshes)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.LifecycleEvent
}

func (p *recordingPublisher) PublishLifecycle(ctx context.Context, event *models.LifecycleEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *event)
	return nil
}

func (p *recordingPublisher) states() []models.LifecycleState {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.LifecycleState
	for _, e := range p.events {
		out = append(out, e.State)
	}
	return out
}

type harness struct {
	reg       *mockRegistry
	fleet     *fakeFleet
	store     *storage.MemoryStore
	publisher *recordingPublisher
	ctrl      *Controller
}

func newHarness(devices ...models.Device) *harness {
	h := &harness{
		reg:       &mockRegistry{},
		fleet:     newFakeFleet(devices...),
		store:     storage.NewMemoryStore(),
		publisher: &recordingPublisher{},
	}
	h.ctrl = NewController(h.reg, h.fleet, h.store,
		WithPublisher(h.publisher),
		WithClock(func() time.Time { return fixedNow }),
	)
	return h
}

func idleDevice() models.Device {
	return models.Device{Name: "aq_g5_87", Network: "airqo", DeviceNumber: 930434}
}

func activeDevice() models.Device {
	d := idleDevice()
	d.IsActive = true
	return d
}

func validSubmission() models.Submission {
	return models.Submission{
		MountType:      "Pole",
		PowerType:      "Solar",
		Height:         "2.5",
		DeploymentDate: time.Date(2024, 5, 9, 8, 0, 0, 0, time.UTC),
		Role:           models.SiteRolePrimary,
		Site:           models.SiteRef{ID: "site-1", Label: "Makerere"},
	}
}

var operator = &models.Operator{UserID: "u-1", Email: "ops@example.org", FirstName: "Ada", LastName: "Okello"}

func always(answer bool) Confirmer {
	return ConfirmFunc(func(ctx context.Context, p Prompt) bool { return answer })
}
