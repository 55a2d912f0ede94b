package billing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/clinicbilling/pkg/coupon"
	"github.com/dmitrymomot/clinicbilling/pkg/plan"
)

// Catalog is the seed file of plans and coupons.
//
//	plans:
//	  - id: basic-monthly
//	    name: Basic
//	    price_minor_units: 4900
//	    ...
//	coupons:
//	  - id: promo10
//	    code: PROMO10
//	    discount_percentage: 10
//	    max_uses: 1
//	    valid_from: 2026-01-01T00:00:00Z
//	    is_active: true
type Catalog struct {
	Plans   []plan.Plan     `yaml:"plans"`
	Coupons []coupon.Coupon `yaml:"coupons"`
}

// LoadCatalog reads a catalog from a YAML file.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML catalog. Unknown fields are rejected.
func ParseCatalog(data []byte) (Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Catalog{}, errors.Join(ErrInvalidCatalog, err)
	}
	return c, nil
}

// Seed saves every plan and coupon. Saving is an upsert of the mutable
// fields, so seeding the same file twice is harmless. Changing the billing
// terms of a seeded plan fails with plan.ErrPlanImmutable.
func (c Catalog) Seed(ctx context.Context, plans plan.Store, coupons coupon.Store) error {
	var errs []error
	for _, p := range c.Plans {
		if err := plans.SavePlan(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("plan %q: %w", p.ID, err))
		}
	}
	for _, cp := range c.Coupons {
		if err := coupons.SaveCoupon(ctx, cp); err != nil {
			errs = append(errs, fmt.Errorf("coupon %q: %w", cp.Code, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(ErrInvalidCatalog, errors.Join(errs...))
	}
	return nil
}
