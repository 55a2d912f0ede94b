package plan

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// Catalog is the read contract used on the hot path.
type Catalog interface {
	GetPlan(ctx context.Context, id string) (Plan, error)
}

// Store is the administrative contract.
type Store interface {
	Catalog
	SavePlan(ctx context.Context, p Plan) error
	ListPlans(ctx context.Context, activeOnly bool) ([]Plan, error)
	Retire(ctx context.Context, id string) error
}

// MemoryStore is a thread-safe in-memory Store.
type MemoryStore struct {
	mu    sync.RWMutex
	plans map[string]Plan
	now   func() time.Time
}

// NewMemoryStore creates a store preloaded with plans.
// Panics on an invalid plan, since seed data is programmer-controlled.
func NewMemoryStore(plans ...Plan) *MemoryStore {
	s := &MemoryStore{
		plans: make(map[string]Plan, len(plans)),
		now:   time.Now,
	}
	for _, p := range plans {
		if err := s.SavePlan(context.Background(), p); err != nil {
			panic(err)
		}
	}
	return s
}

func (s *MemoryStore) GetPlan(_ context.Context, id string) (Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.plans[id]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	return p.clone(), nil
}

// SavePlan creates a plan or updates the mutable fields of an existing one.
func (s *MemoryStore) SavePlan(_ context.Context, p Plan) error {
	p.Normalize()
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.plans[p.ID]; ok {
		if !existing.Terms().Equal(p.Terms()) {
			return ErrPlanImmutable
		}
		existing.Name = p.Name
		existing.IsActive = p.IsActive
		existing.ProcessorPriceID = cmp.Or(p.ProcessorPriceID, existing.ProcessorPriceID)
		s.plans[p.ID] = existing
		return nil
	}

	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	s.plans[p.ID] = p.clone()
	return nil
}

func (s *MemoryStore) ListPlans(_ context.Context, activeOnly bool) ([]Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Plan, 0, len(s.plans))
	for _, p := range s.plans {
		if activeOnly && !p.IsActive {
			continue
		}
		out = append(out, p.clone())
	}
	slices.SortFunc(out, func(a, b Plan) int {
		return cmp.Or(cmp.Compare(a.PriceMinorUnits, b.PriceMinorUnits), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// Retire marks a plan unavailable for new subscriptions.
func (s *MemoryStore) Retire(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.plans[id]
	if !ok {
		return ErrPlanNotFound
	}
	p.IsActive = false
	s.plans[id] = p
	return nil
}
