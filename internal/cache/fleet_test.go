package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensorfleet/deploy-console/internal/models"
)

type stubLoader struct {
	deviceCalls int32
	siteCalls   int32
	devices     []models.Device
	sites       []models.Site
	err         error
	delay       time.Duration
}

func (s *stubLoader) ListDevices(ctx context.Context, network string) ([]models.Device, error) {
	atomic.AddInt32(&s.deviceCalls, 1)
	time.Sleep(s.delay)
	if s.err != nil {
		return nil, s.err
	}
	return s.devices, nil
}

func (s *stubLoader) ListSites(ctx context.Context, network string) ([]models.Site, error) {
	atomic.AddInt32(&s.siteCalls, 1)
	time.Sleep(s.delay)
	return s.sites, nil
}

func newLoader() *stubLoader {
	return &stubLoader{
		devices: []models.Device{
			{Name: "aq_g5_87", DeviceNumber: 930434, IsActive: true},
			{Name: "aq_g5_88", DeviceNumber: 930435},
		},
		sites: []models.Site{{ID: "s1", Name: "Makerere"}},
	}
}

func setupRedisFleet(t *testing.T, loader Loader) (*miniredis.Miniredis, *Fleet) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewFleet(loader, NewRedisBackend(client), time.Minute)
}

func TestFleet_LoadsOnMissThenServesFromCache(t *testing.T) {
	loader := newLoader()
	mr, fleet := setupRedisFleet(t, loader)
	ctx := context.Background()

	devices, err := fleet.Devices(ctx, "airqo")
	require.NoError(t, err)
	assert.Len(t, devices, 2)

	sites, err := fleet.Sites(ctx, "airqo")
	require.NoError(t, err)
	assert.Equal(t, "Makerere", sites[0].Name)

	assert.Equal(t, int32(1), atomic.LoadInt32(&loader.deviceCalls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&loader.siteCalls))
	assert.True(t, mr.Exists("deploy-console:fleet:airqo:devices"))

	ttl := mr.TTL("deploy-console:fleet:airqo:sites")
	assert.Equal(t, time.Minute, ttl)
}

func TestFleet_Device(t *testing.T) {
	_, fleet := setupRedisFleet(t, newLoader())
	ctx := context.Background()

	d, err := fleet.Device(ctx, "airqo", "aq_g5_87")
	require.NoError(t, err)
	assert.Equal(t, int64(930434), d.DeviceNumber)

	_, err = fleet.Device(ctx, "airqo", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFleet_RefreshReplacesLists(t *testing.T) {
	loader := newLoader()
	_, fleet := setupRedisFleet(t, loader)
	ctx := context.Background()

	_, err := fleet.Devices(ctx, "airqo")
	require.NoError(t, err)

	loader.devices = []models.Device{{Name: "aq_g5_87", IsActive: false}}
	require.NoError(t, fleet.Refresh(ctx, "airqo"))

	devices, err := fleet.Devices(ctx, "airqo")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.False(t, devices[0].IsActive)
}

func TestFleet_Invalidate(t *testing.T) {
	loader := newLoader()
	mr, fleet := setupRedisFleet(t, loader)
	ctx := context.Background()

	_, err := fleet.Devices(ctx, "airqo")
	require.NoError(t, err)

	require.NoError(t, fleet.Invalidate(ctx, "airqo"))
	assert.False(t, mr.Exists("deploy-console:fleet:airqo:devices"))

	_, err = fleet.Devices(ctx, "airqo")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&loader.deviceCalls))
}

func TestFleet_ConcurrentReloadsCoalesce(t *testing.T) {
	loader := newLoader()
	loader.delay = 50 * time.Millisecond
	fleet := NewFleet(loader, NewMemoryBackend(), time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fleet.Devices(context.Background(), "airqo")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Less(t, atomic.LoadInt32(&loader.deviceCalls), int32(8))
}

// gatedLoader reports the registry as it is when each call starts, and holds
// the first device load until released.
type gatedLoader struct {
	mu      sync.Mutex
	active  bool
	calls   int
	entered chan struct{}
	release chan struct{}
}

func newGatedLoader() *gatedLoader {
	return &gatedLoader{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedLoader) ListDevices(ctx context.Context, network string) ([]models.Device, error) {
	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	devices := []models.Device{{Name: "aq_g5_87", IsActive: g.active}}
	g.mu.Unlock()

	if first {
		close(g.entered)
		<-g.release
	}
	return devices, nil
}

func (g *gatedLoader) ListSites(ctx context.Context, network string) ([]models.Site, error) {
	return nil, nil
}

func (g *gatedLoader) setActive(active bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = active
}

func (g *gatedLoader) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func TestFleet_RefreshStartsNewLoad(t *testing.T) {
	loader := newGatedLoader()
	fleet := NewFleet(loader, NewMemoryBackend(), time.Minute)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := fleet.Devices(ctx, "airqo")
		done <- err
	}()
	<-loader.entered

	// the registry changes while the first load is still running
	loader.setActive(true)
	require.NoError(t, fleet.Refresh(ctx, "airqo"))

	close(loader.release)
	require.NoError(t, <-done)

	d, err := fleet.Device(ctx, "airqo", "aq_g5_87")
	require.NoError(t, err)
	assert.True(t, d.IsActive)
	assert.Equal(t, 2, loader.callCount())
}

func TestFleet_InvalidateDiscardsLoadInFlight(t *testing.T) {
	loader := newGatedLoader()
	fleet := NewFleet(loader, NewMemoryBackend(), time.Minute)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := fleet.Devices(ctx, "airqo")
		done <- err
	}()
	<-loader.entered

	require.NoError(t, fleet.Invalidate(ctx, "airqo"))
	close(loader.release)
	require.NoError(t, <-done)

	assert.True(t, fleet.LoadedAt(ctx, "airqo").IsZero())

	loader.setActive(true)
	d, err := fleet.Device(ctx, "airqo", "aq_g5_87")
	require.NoError(t, err)
	assert.True(t, d.IsActive)
}

func TestFleet_LoadedAt(t *testing.T) {
	_, fleet := setupRedisFleet(t, newLoader())
	loadedAt := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	fleet.now = func() time.Time { return loadedAt }
	ctx := context.Background()

	assert.True(t, fleet.LoadedAt(ctx, "airqo").IsZero())

	_, err := fleet.Devices(ctx, "airqo")
	require.NoError(t, err)
	assert.True(t, loadedAt.Equal(fleet.LoadedAt(ctx, "airqo")))

	require.NoError(t, fleet.Invalidate(ctx, "airqo"))
	assert.True(t, fleet.LoadedAt(ctx, "airqo").IsZero())
}

func TestFleet_LoaderError(t *testing.T) {
	loader := newLoader()
	loader.err = errors.New("registry down")
	fleet := NewFleet(loader, NewMemoryBackend(), time.Minute)

	_, err := fleet.Devices(context.Background(), "airqo")
	assert.ErrorContains(t, err, "registry down")
}

func TestMemoryBackend_Expiry(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	b := NewMemoryBackend()
	b.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "k", []byte("v"), time.Minute))
	v, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	now = now.Add(2 * time.Minute)
	_, err = b.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisBackend_Miss(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	_, err := NewRedisBackend(client).Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestFleet_WithPrefix(t *testing.T) {
	mr, fleet := setupRedisFleet(t, newLoader())
	fleet.WithPrefix("staging:fleet")

	_, err := fleet.Devices(context.Background(), "airqo")
	require.NoError(t, err)

	assert.True(t, mr.Exists("staging:fleet:airqo:devices"))
	assert.False(t, mr.Exists("deploy-console:fleet:airqo:devices"))
}
