package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/sensorfleet/deploy-console/internal/models"
)

// ErrNotFound is returned when a device is not part of its network's list
var ErrNotFound = errors.New("device not found")

const (
	DefaultTTL    = 10 * time.Minute
	DefaultPrefix = "deploy-console:fleet"
)

// Loader fetches the authoritative fleet lists
type Loader interface {
	ListDevices(ctx context.Context, network string) ([]models.Device, error)
	ListSites(ctx context.Context, network string) ([]models.Site, error)
}

type snapshot struct {
	devices []models.Device
	sites   []models.Site
}

// Fleet caches the device and site lists of each network. Lists are only
// ever replaced by a full reload, never patched in place.
//
// Every load is numbered when it starts. A load only reaches the backend if
// no later load or invalidation of the same network has landed first.
type Fleet struct {
	loader  Loader
	backend Backend
	ttl     time.Duration
	prefix  string
	now     func() time.Time

	group singleflight.Group

	mu        sync.Mutex
	seq       uint64
	committed map[string]uint64
}

// NewFleet creates a fleet cache
func NewFleet(loader Loader, backend Backend, ttl time.Duration) *Fleet {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Fleet{
		loader:  loader,
		backend: backend,
		ttl:       ttl,
		prefix:    DefaultPrefix,
		now:       time.Now,
		committed: make(map[string]uint64),
	}
}

// WithPrefix namespaces the cache keys, e.g. per deployment environment
func (f *Fleet) WithPrefix(prefix string) *Fleet {
	if prefix != "" {
		f.prefix = prefix
	}
	return f
}

func (f *Fleet) devicesKey(network string) string {
	return fmt.Sprintf("%s:%s:devices", f.prefix, network)
}

func (f *Fleet) sitesKey(network string) string {
	return fmt.Sprintf("%s:%s:sites", f.prefix, network)
}

func (f *Fleet) loadedKey(network string) string {
	return fmt.Sprintf("%s:%s:loaded", f.prefix, network)
}

// Devices returns the cached device list, loading it on a miss
func (f *Fleet) Devices(ctx context.Context, network string) ([]models.Device, error) {
	var devices []models.Device
	if f.cached(ctx, f.devicesKey(network), &devices) {
		return devices, nil
	}

	snap, err := f.reload(ctx, network, false)
	if err != nil {
		return nil, err
	}
	return snap.devices, nil
}

// Sites returns the cached site list, loading it on a miss
func (f *Fleet) Sites(ctx context.Context, network string) ([]models.Site, error) {
	var sites []models.Site
	if f.cached(ctx, f.sitesKey(network), &sites) {
		return sites, nil
	}

	snap, err := f.reload(ctx, network, false)
	if err != nil {
		return nil, err
	}
	return snap.sites, nil
}

// Device looks up one device by name
func (f *Fleet) Device(ctx context.Context, network, name string) (*models.Device, error) {
	devices, err := f.Devices(ctx, network)
	if err != nil {
		return nil, err
	}

	for i := range devices {
		if devices[i].Name == name {
			d := devices[i]
			return &d, nil
		}
	}
	return nil, ErrNotFound
}

// Refresh reloads both lists of a network from the loader. It never joins a
// load that is already running, since that load may predate the change the
// caller wants to see.
func (f *Fleet) Refresh(ctx context.Context, network string) error {
	_, err := f.reload(ctx, network, true)
	return err
}

// Invalidate drops the cached lists of a network. Loads started before the
// call are not written back.
func (f *Fleet) Invalidate(ctx context.Context, network string) error {
	f.mu.Lock()
	f.seq++
	f.committed[network] = f.seq
	f.mu.Unlock()
	f.group.Forget(network)

	return f.backend.Delete(ctx, f.devicesKey(network), f.sitesKey(network), f.loadedKey(network))
}

// LoadedAt reports when the cached lists of a network were fetched from the
// loader. It is zero when nothing is cached.
func (f *Fleet) LoadedAt(ctx context.Context, network string) time.Time {
	var loadedAt time.Time
	if !f.cached(ctx, f.loadedKey(network), &loadedAt) {
		return time.Time{}
	}
	return loadedAt
}

func (f *Fleet) cached(ctx context.Context, key string, out interface{}) bool {
	data, err := f.backend.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			log.Warn().Err(err).Str("key", key).Msg("Fleet cache read failed")
		}
		return false
	}

	if err := json.Unmarshal(data, out); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Discarding corrupt fleet cache entry")
		return false
	}
	return true
}

// reload coalesces concurrent reloads of the same network. A fresh reload
// starts a new load instead of joining the one in flight.
func (f *Fleet) reload(ctx context.Context, network string, fresh bool) (*snapshot, error) {
	if fresh {
		f.group.Forget(network)
	}

	v, err, _ := f.group.Do(network, func() (interface{}, error) {
		gen, started := f.begin()
		snap := &snapshot{}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			devices, err := f.loader.ListDevices(gctx, network)
			if err != nil {
				return fmt.Errorf("failed to load devices: %w", err)
			}
			snap.devices = devices
			return nil
		})
		g.Go(func() error {
			sites, err := f.loader.ListSites(gctx, network)
			if err != nil {
				return fmt.Errorf("failed to load sites: %w", err)
			}
			snap.sites = sites
			return nil
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}

		if !f.commit(ctx, network, gen, started, snap) {
			log.Debug().Str("network", network).Msg("Discarding superseded fleet load")
			return snap, nil
		}

		log.Debug().
			Str("network", network).
			Int("devices", len(snap.devices)).
			Int("sites", len(snap.sites)).
			Msg("Fleet cache refreshed")

		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*snapshot), nil
}

func (f *Fleet) begin() (uint64, time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return f.seq, f.now()
}

// commit writes a load unless a newer load or an invalidation got there first
func (f *Fleet) commit(ctx context.Context, network string, gen uint64, started time.Time, snap *snapshot) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if gen < f.committed[network] {
		return false
	}
	f.committed[network] = gen

	f.store(ctx, f.devicesKey(network), snap.devices)
	f.store(ctx, f.sitesKey(network), snap.sites)
	f.store(ctx, f.loadedKey(network), started)
	return true
}

func (f *Fleet) store(ctx context.Context, key string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to encode fleet list")
		return
	}
	if err := f.backend.Set(ctx, key, data, f.ttl); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Fleet cache write failed")
	}
}
