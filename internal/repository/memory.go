package repository

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"taskhub/internal/models"
)

// MemoryStore keeps tasks in process memory. As a fallback store it seeds each
// owner with sample tasks on first use and marks everything it returns as mock.
type MemoryStore struct {
	mu     sync.RWMutex
	tasks  map[primitive.ObjectID]models.Task
	seeded map[string]bool
	mock   bool
	now    func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:  make(map[primitive.ObjectID]models.Task),
		seeded: make(map[string]bool),
		now:    time.Now,
	}
}

// NewFallbackStore returns a store for degraded mode: sample data per owner,
// every task flagged as mock.
func NewFallbackStore() *MemoryStore {
	s := NewMemoryStore()
	s.mock = true
	return s
}

// WithClock replaces the time source.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// seedLocked must be called with s.mu held for writing.
func (s *MemoryStore) seedLocked(owner string) {
	if !s.mock || s.seeded[owner] {
		return
	}
	s.seeded[owner] = true
	now := s.now().UTC().Truncate(time.Millisecond)
	samples := []models.Task{
		{Name: "Sample Task 1", Priority: models.PriorityMedium, Category: models.CategoryWork, CreatedAt: now},
		{Name: "Sample Task 2", Priority: models.PriorityHigh, Category: models.CategoryPersonal, Completed: true, CreatedAt: now.Add(-time.Second)},
	}
	for _, t := range samples {
		t.ID = primitive.NewObjectID()
		t.Owner = owner
		t.UpdatedAt = t.CreatedAt
		s.tasks[t.ID] = t
	}
}

func (s *MemoryStore) out(t models.Task) models.Task {
	t.Mock = s.mock
	return t
}

// Create saves a copy of t.
func (s *MemoryStore) Create(_ context.Context, t *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seedLocked(t.Owner)
	if t.ID.IsZero() {
		t.ID = primitive.NewObjectID()
	}
	stored := *t
	stored.Mock = false
	s.tasks[t.ID] = stored
	t.Mock = s.mock
	return nil
}

// List returns the owner's tasks matching f, newest first.
func (s *MemoryStore) List(_ context.Context, owner string, f models.TaskFilter) ([]models.Task, error) {
	s.mu.Lock()
	s.seedLocked(owner)
	tasks := []models.Task{}
	for _, t := range s.tasks {
		if t.Owner == owner && f.Matches(&t) {
			tasks = append(tasks, s.out(t))
		}
	}
	s.mu.Unlock()

	models.SortNewestFirst(tasks)
	return f.Page(tasks), nil
}

// Update applies patch to an owned task.
func (s *MemoryStore) Update(_ context.Context, owner, id string, patch models.TaskPatch) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seedLocked(owner)
	t, ok := s.lookupLocked(owner, id)
	if !ok {
		return nil, ErrNotFound
	}
	patch.Apply(&t, s.now())
	s.tasks[t.ID] = t
	out := s.out(t)
	return &out, nil
}

// Delete removes an owned task.
func (s *MemoryStore) Delete(_ context.Context, owner, id string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seedLocked(owner)
	t, ok := s.lookupLocked(owner, id)
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.tasks, t.ID)
	out := s.out(t)
	return &out, nil
}

func (s *MemoryStore) lookupLocked(owner, id string) (models.Task, bool) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return models.Task{}, false
	}
	t, ok := s.tasks[oid]
	if !ok || t.Owner != owner {
		return models.Task{}, false
	}
	return t, true
}

// Len reports how many tasks are held across all owners.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}
