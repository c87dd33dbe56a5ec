package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sensorfleet/deploy-console/internal/models"
)

// MemoryStore is an in-process Store used when no database is configured
type MemoryStore struct {
	mu         sync.RWMutex
	lifecycles map[string]models.LifecycleRecord
	activities []models.ActivityLog
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lifecycles: make(map[string]models.LifecycleRecord),
	}
}

func lifecycleKey(network, deviceName string) string {
	return network + "/" + deviceName
}

// BeginTx starts a transaction whose writes are applied on Commit
func (s *MemoryStore) BeginTx(ctx context.Context) (Store, error) {
	return &memoryTx{MemoryStore: s}, nil
}

func (s *MemoryStore) Commit() error   { return nil }
func (s *MemoryStore) Rollback() error { return nil }
func (s *MemoryStore) Close() error    { return nil }

func (s *MemoryStore) GetLifecycle(ctx context.Context, network, deviceName string) (*models.LifecycleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.lifecycles[lifecycleKey(network, deviceName)]
	if !ok {
		return nil, ErrNotFound
	}
	return &record, nil
}

func (s *MemoryStore) SaveLifecycle(ctx context.Context, record *models.LifecycleRecord) error {
	if err := validateLifecycle(record); err != nil {
		return err
	}
	record.UpdatedAt = time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lifecycles[lifecycleKey(record.Network, record.DeviceName)] = *record
	return nil
}

func (s *MemoryStore) CreateActivity(ctx context.Context, activity *models.ActivityLog) error {
	if activity.ID == uuid.Nil {
		activity.ID = uuid.New()
	}
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities = append(s.activities, *activity)
	return nil
}

func (s *MemoryStore) ListActivities(ctx context.Context, filters ActivityFilters, limit, offset int) ([]*models.ActivityLog, int64, error) {
	s.mu.RLock()
	var matched []*models.ActivityLog
	for i := range s.activities {
		a := s.activities[i]
		if filters.matches(&a) {
			matched = append(matched, &a)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func (f ActivityFilters) matches(a *models.ActivityLog) bool {
	switch {
	case f.Network != nil && a.Network != *f.Network:
		return false
	case f.DeviceName != nil && a.DeviceName != *f.DeviceName:
		return false
	case f.Type != nil && a.Type != *f.Type:
		return false
	case f.Level != nil && a.Level != *f.Level:
		return false
	case f.StartTime != nil && a.CreatedAt.Before(*f.StartTime):
		return false
	case f.EndTime != nil && a.CreatedAt.After(*f.EndTime):
		return false
	}
	return true
}

// memoryTx buffers writes until Commit. Reads see committed data only.
type memoryTx struct {
	*MemoryStore
	pending []func(ctx context.Context) error
	done    bool
}

func (t *memoryTx) BeginTx(ctx context.Context) (Store, error) {
	return t, nil
}

func (t *memoryTx) SaveLifecycle(ctx context.Context, record *models.LifecycleRecord) error {
	if err := validateLifecycle(record); err != nil {
		return err
	}
	r := *record
	t.pending = append(t.pending, func(ctx context.Context) error {
		return t.MemoryStore.SaveLifecycle(ctx, &r)
	})
	return nil
}

func (t *memoryTx) CreateActivity(ctx context.Context, activity *models.ActivityLog) error {
	if activity.ID == uuid.Nil {
		activity.ID = uuid.New()
	}
	a := *activity
	t.pending = append(t.pending, func(ctx context.Context) error {
		return t.MemoryStore.CreateActivity(ctx, &a)
	})
	return nil
}

func (t *memoryTx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	for _, op := range t.pending {
		if err := op(context.Background()); err != nil {
			return err
		}
	}
	t.pending = nil
	return nil
}

func (t *memoryTx) Rollback() error {
	t.done = true
	t.pending = nil
	return nil
}
