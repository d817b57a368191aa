package billing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safedocs-io/safedocs/pkg/billing"
)

func TestResolver(t *testing.T) {
	t.Parallel()

	catalog, err := billing.NewCatalog([]billing.PlanSpec{
		{Plan: billing.PlanFree, Name: "Free", MonthlyScanLimit: 3},
		{Plan: billing.PlanPro, Name: "Pro", PriceID: "price_pro", MonthlyScanLimit: 100},
		{Plan: billing.PlanEnterprise, Name: "Enterprise", PriceID: "price_ent", MonthlyScanLimit: billing.UnlimitedScans},
	})
	require.NoError(t, err)

	r := billing.NewResolver(catalog, nil)

	tests := []struct {
		name         string
		priceID      string
		metadataPlan string
		want         billing.Plan
	}{
		{
			name:         "metadata wins over price",
			priceID:      "price_pro",
			metadataPlan: "enterprise",
			want:         billing.PlanEnterprise,
		},
		{
			name:         "metadata normalized",
			metadataPlan: "  PRO ",
			want:         billing.PlanPro,
		},
		{
			name:    "price lookup without metadata",
			priceID: "price_ent",
			want:    billing.PlanEnterprise,
		},
		{
			name:         "garbage metadata falls through to price",
			priceID:      "price_pro",
			metadataPlan: "platinum",
			want:         billing.PlanPro,
		},
		{
			name:    "unknown price defaults to free",
			priceID: "price_deleted",
			want:    billing.PlanFree,
		},
		{
			name: "nothing to resolve defaults to free",
			want: billing.PlanFree,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := r.Resolve(context.Background(), tt.priceID, tt.metadataPlan)
			assert.Equal(t, tt.want, got)
		})
	}
}
