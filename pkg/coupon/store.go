package coupon

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrymomot/clinicbilling/pkg/txn"
)

// ErrDuplicateCode is returned when saving a new coupon whose code is taken.
var ErrDuplicateCode = errors.New("coupon code already exists")

// Store persists coupons.
//
// TryReserve must validate and increment CurrentUses as one atomic step
// (compare-and-swap or row lock) and must join the unit of work carried by
// ctx so the increment is undone if that unit fails.
type Store interface {
	GetByCode(ctx context.Context, code string) (Coupon, error)
	SaveCoupon(ctx context.Context, c Coupon) error
	TryReserve(ctx context.Context, code string, now time.Time) (Coupon, error)
}

// MemoryStore is a thread-safe in-memory Store.
type MemoryStore struct {
	mu      sync.Mutex
	coupons map[string]Coupon // keyed by normalized code
}

func NewMemoryStore(coupons ...Coupon) *MemoryStore {
	s := &MemoryStore{coupons: make(map[string]Coupon, len(coupons))}
	for _, c := range coupons {
		if err := s.SaveCoupon(context.Background(), c); err != nil {
			panic(err)
		}
	}
	return s
}

func (s *MemoryStore) GetByCode(_ context.Context, code string) (Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.coupons[NormalizeCode(code)]
	if !ok {
		return Coupon{}, ErrCouponNotFound
	}
	return c.clone(), nil
}

// SaveCoupon inserts or replaces a coupon. Replacing keeps the stored usage counter.
func (s *MemoryStore) SaveCoupon(_ context.Context, c Coupon) error {
	c.Code = NormalizeCode(c.Code)
	if err := c.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.coupons[c.Code]; ok {
		if existing.ID != c.ID {
			return ErrDuplicateCode
		}
		c.CurrentUses = existing.CurrentUses
		c.CreatedAt = existing.CreatedAt
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.coupons[c.Code] = c.clone()
	return nil
}

func (s *MemoryStore) TryReserve(ctx context.Context, code string, now time.Time) (Coupon, error) {
	code = NormalizeCode(code)

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.coupons[code]
	if !ok {
		return Coupon{}, ErrCouponNotFound
	}
	if err := c.Check(now); err != nil {
		return Coupon{}, err
	}

	c.CurrentUses++
	s.coupons[code] = c

	txn.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if cur, ok := s.coupons[code]; ok && cur.CurrentUses > 0 {
			cur.CurrentUses--
			s.coupons[code] = cur
		}
	})

	return c.clone(), nil
}
