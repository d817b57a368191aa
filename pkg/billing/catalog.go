package billing

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// UnlimitedScans is the sentinel scan limit for plans without metering.
// -1 keeps SQL comparisons simple and survives round-trips through the store.
const UnlimitedScans int64 = -1

// PlanSpec describes one catalog entry: the plan, its provider price id, and
// its quota limits.
type PlanSpec struct {
	Plan             Plan   `yaml:"plan"`
	Name             string `yaml:"name"`
	PriceID          string `yaml:"price_id"`
	MonthlyScanLimit int64  `yaml:"monthly_scan_limit"`
	PriceCents       int64  `yaml:"price_cents"`
	Currency         string `yaml:"currency"`
}

// Catalog is the static mapping {priceID -> Plan} and {Plan -> limits}.
// Loaded at startup and immutable at runtime; safe for concurrent reads.
type Catalog struct {
	byPlan  map[Plan]PlanSpec
	byPrice map[string]PlanSpec
}

// NewCatalog builds a catalog from specs, validating internal consistency.
func NewCatalog(specs []PlanSpec) (*Catalog, error) {
	c := &Catalog{
		byPlan:  make(map[Plan]PlanSpec, len(specs)),
		byPrice: make(map[string]PlanSpec, len(specs)),
	}

	for _, spec := range specs {
		if _, ok := planRank[spec.Plan]; !ok {
			return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("unknown plan %q", spec.Plan))
		}
		if spec.MonthlyScanLimit < 0 && spec.MonthlyScanLimit != UnlimitedScans {
			return nil, errors.Join(ErrInvalidCatalog,
				fmt.Errorf("plan %s has negative scan limit %d", spec.Plan, spec.MonthlyScanLimit))
		}
		if _, dup := c.byPlan[spec.Plan]; dup {
			return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("duplicate plan %q", spec.Plan))
		}
		if spec.PriceID != "" {
			if _, dup := c.byPrice[spec.PriceID]; dup {
				return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("duplicate price id %q", spec.PriceID))
			}
			c.byPrice[spec.PriceID] = spec
		}
		c.byPlan[spec.Plan] = spec
	}

	// Every deployment needs a landing plan for cancellations and unknown
	// prices.
	if _, ok := c.byPlan[PlanFree]; !ok {
		return nil, errors.Join(ErrInvalidCatalog, errors.New("catalog must define the free plan"))
	}

	return c, nil
}

// LoadCatalogFile reads plan specs from a YAML file.
//
//	- plan: free
//	  name: Free
//	  monthly_scan_limit: 3
//	- plan: pro
//	  name: Pro
//	  price_id: price_pro_monthly
//	  monthly_scan_limit: 100
func LoadCatalogFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}

	var specs []PlanSpec
	if err := yaml.Unmarshal(raw, &specs); err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}

	return NewCatalog(specs)
}

// DefaultCatalog returns the compiled-in catalog used when no file is
// configured. Price ids must be overridden per environment for checkout.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog([]PlanSpec{
		{Plan: PlanFree, Name: "Free", MonthlyScanLimit: 3},
		{Plan: PlanPro, Name: "Pro", MonthlyScanLimit: 100, PriceCents: 999, Currency: "USD"},
		{Plan: PlanEnterprise, Name: "Enterprise", MonthlyScanLimit: UnlimitedScans, PriceCents: 4999, Currency: "USD"},
	})
	if err != nil {
		panic(err) // compiled-in specs are always valid
	}
	return c
}

// SpecFor returns the catalog entry for a plan.
func (c *Catalog) SpecFor(p Plan) (PlanSpec, bool) {
	spec, ok := c.byPlan[p]
	return spec, ok
}

// ByPriceID looks up the plan sold under a provider price id.
func (c *Catalog) ByPriceID(priceID string) (PlanSpec, bool) {
	spec, ok := c.byPrice[priceID]
	return spec, ok
}

// ScanLimit returns the monthly scan limit for a plan, falling back to the
// free plan's limit for plans missing from the catalog.
func (c *Catalog) ScanLimit(p Plan) int64 {
	if spec, ok := c.byPlan[p]; ok {
		return spec.MonthlyScanLimit
	}
	return c.byPlan[PlanFree].MonthlyScanLimit
}
