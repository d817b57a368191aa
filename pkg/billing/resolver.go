package billing

import (
	"context"
	"log/slog"
)

// Resolver derives the target plan from an event's price id and explicit
// metadata. The single rule: an explicit metadata plan always wins; otherwise
// the catalog maps the price id; an unknown price falls back to FREE with a
// warning so a misconfigured catalog degrades entitlement instead of granting
// it.
type Resolver struct {
	catalog *Catalog
	log     *slog.Logger
}

func NewResolver(catalog *Catalog, log *slog.Logger) *Resolver {
	if catalog == nil {
		panic("billing: resolver requires a catalog")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{catalog: catalog, log: log}
}

// Resolve returns the plan for a (priceID, metadataPlan) pair.
func (r *Resolver) Resolve(ctx context.Context, priceID, metadataPlan string) Plan {
	if metadataPlan != "" {
		if p, ok := ParsePlan(metadataPlan); ok {
			return p
		}
		r.log.WarnContext(ctx, "unparseable plan in event metadata, falling back to price lookup",
			slog.String("metadata_plan", metadataPlan),
		)
	}

	if priceID != "" {
		if spec, ok := r.catalog.ByPriceID(priceID); ok {
			return spec.Plan
		}
	}

	r.log.WarnContext(ctx, "price id not in catalog, defaulting to free plan",
		slog.String("price_id", priceID),
	)
	return PlanFree
}
