package subscription

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/clinicbilling/pkg/txn"
)

// MemoryStore is an in-memory Store. Writes made inside a txn.Memory unit of
// work are undone when it fails.
type MemoryStore struct {
	mu       sync.RWMutex
	subs     map[uuid.UUID]*Subscription
	attempts map[uuid.UUID][]PaymentAttempt
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs:     make(map[uuid.UUID]*Subscription),
		attempts: make(map[uuid.UUID][]PaymentAttempt),
	}
}

func (s *MemoryStore) Create(ctx context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[sub.ID]; ok {
		return ErrSubscriptionExists
	}
	s.subs[sub.ID] = sub.Clone()

	id := sub.ID
	txn.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	})
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return sub.Clone(), nil
}

func (s *MemoryStore) GetByProcessorID(_ context.Context, processorSubscriptionID string) (*Subscription, error) {
	if processorSubscriptionID == "" {
		return nil, ErrSubscriptionNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subs {
		if sub.ProcessorSubscriptionID == processorSubscriptionID {
			return sub.Clone(), nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (s *MemoryStore) Update(ctx context.Context, sub *Subscription, expectedRevision int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.subs[sub.ID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	if current.Revision != expectedRevision {
		return ErrRevisionMismatch
	}
	s.subs[sub.ID] = sub.Clone()

	txn.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.subs[current.ID] = current
	})
	return nil
}

func (s *MemoryStore) ListDue(_ context.Context, status Status, before time.Time, limit int) ([]*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Subscription
	for _, sub := range s.subs {
		if sub.Status != status {
			continue
		}
		if d := Deadline(sub); d != nil && !d.After(before) {
			out = append(out, sub.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *Subscription) int {
		return Deadline(a).Compare(*Deadline(b))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) AppendAttempt(ctx context.Context, attempt PaymentAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts[attempt.SubscriptionID] = append(s.attempts[attempt.SubscriptionID], attempt)

	id := attempt.ID
	txn.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.attempts[attempt.SubscriptionID] = slices.DeleteFunc(s.attempts[attempt.SubscriptionID], func(a PaymentAttempt) bool {
			return a.ID == id
		})
	})
	return nil
}

func (s *MemoryStore) ListAttempts(_ context.Context, subscriptionID uuid.UUID) ([]PaymentAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.attempts[subscriptionID]), nil
}
