package jobstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// memoryStore keeps everything in process memory. Same semantics as the
// sqlite driver, minus durability.
type memoryStore struct {
	mu    sync.Mutex
	jobs  map[string]JobSpec
	order map[string]int // insertion order, for stable List()
	seq   int
	fires []FireRecord
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memoryStore{
		jobs:  map[string]JobSpec{},
		order: map[string]int{},
	}
}

func (m *memoryStore) Put(_ context.Context, spec JobSpec, replace bool) error {
	if spec.CreatedAt.IsZero() {
		spec.CreatedAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[spec.ID]; ok {
		if !replace {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, spec.ID)
		}
	} else {
		m.seq++
		m.order[spec.ID] = m.seq
	}
	m.jobs[spec.ID] = spec
	return nil
}

func (m *memoryStore) Get(_ context.Context, id string) (JobSpec, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	spec, ok := m.jobs[id]
	if !ok {
		return JobSpec{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return spec, nil
}

func (m *memoryStore) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.jobs, id)
	delete(m.order, id)
	return nil
}

func (m *memoryStore) List(_ context.Context) ([]JobSpec, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	specs := make([]JobSpec, 0, len(m.jobs))
	for _, spec := range m.jobs {
		specs = append(specs, spec)
	}
	// Insertion order keeps engine tie-breaking deterministic across loads.
	for i := 1; i < len(specs); i++ {
		for j := i; j > 0 && m.order[specs[j].ID] < m.order[specs[j-1].ID]; j-- {
			specs[j], specs[j-1] = specs[j-1], specs[j]
		}
	}
	return specs, nil
}

func (m *memoryStore) AppendFire(_ context.Context, rec FireRecord) error {
	if rec.FiredAt.IsZero() {
		rec.FiredAt = time.Now()
	}
	m.mu.Lock()
	m.fires = append(m.fires, rec)
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) PruneFires(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.fires[:0]
	var removed int64
	for _, rec := range m.fires {
		if rec.FiredAt.Before(olderThan) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	m.fires = kept
	return removed, nil
}

func (m *memoryStore) Close() error { return nil }
