package billing_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safedocs-io/safedocs/pkg/billing"
)

func TestNewCatalog_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		specs []billing.PlanSpec
	}{
		{
			name: "unknown plan",
			specs: []billing.PlanSpec{
				{Plan: billing.PlanFree, MonthlyScanLimit: 3},
				{Plan: billing.Plan("platinum"), MonthlyScanLimit: 10},
			},
		},
		{
			name: "duplicate plan",
			specs: []billing.PlanSpec{
				{Plan: billing.PlanFree, MonthlyScanLimit: 3},
				{Plan: billing.PlanFree, MonthlyScanLimit: 5},
			},
		},
		{
			name: "duplicate price id",
			specs: []billing.PlanSpec{
				{Plan: billing.PlanFree, MonthlyScanLimit: 3},
				{Plan: billing.PlanPro, PriceID: "price_x", MonthlyScanLimit: 100},
				{Plan: billing.PlanEnterprise, PriceID: "price_x", MonthlyScanLimit: -1},
			},
		},
		{
			name: "negative limit other than unlimited sentinel",
			specs: []billing.PlanSpec{
				{Plan: billing.PlanFree, MonthlyScanLimit: 3},
				{Plan: billing.PlanPro, PriceID: "price_pro", MonthlyScanLimit: -5},
			},
		},
		{
			name: "missing free plan",
			specs: []billing.PlanSpec{
				{Plan: billing.PlanPro, PriceID: "price_pro", MonthlyScanLimit: 100},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := billing.NewCatalog(tt.specs)
			assert.ErrorIs(t, err, billing.ErrInvalidCatalog)
		})
	}
}

func TestLoadCatalogFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "plans.yaml")
	data := `
- plan: free
  name: Free
  monthly_scan_limit: 3
- plan: pro
  name: Pro
  price_id: price_pro_monthly
  monthly_scan_limit: 100
  price_cents: 999
  currency: USD
- plan: enterprise
  name: Enterprise
  price_id: price_ent_monthly
  monthly_scan_limit: -1
  price_cents: 4999
  currency: USD
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	catalog, err := billing.LoadCatalogFile(path)
	require.NoError(t, err)

	spec, ok := catalog.ByPriceID("price_pro_monthly")
	require.True(t, ok)
	assert.Equal(t, billing.PlanPro, spec.Plan)
	assert.Equal(t, int64(100), spec.MonthlyScanLimit)

	assert.Equal(t, billing.UnlimitedScans, catalog.ScanLimit(billing.PlanEnterprise))
	assert.Equal(t, int64(3), catalog.ScanLimit(billing.PlanFree))
	assert.Equal(t, int64(3), catalog.ScanLimit(billing.Plan("retired")), "unknown plans fall back to free limits")
}

func TestLoadCatalogFile_Invalid(t *testing.T) {
	t.Parallel()

	_, err := billing.LoadCatalogFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, billing.ErrInvalidCatalog)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0o600))
	_, err = billing.LoadCatalogFile(path)
	assert.ErrorIs(t, err, billing.ErrInvalidCatalog)
}
