package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/safedocs-io/safedocs/pkg/billing"
)

func TestParsePlan(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want billing.Plan
		ok   bool
	}{
		{"free", billing.PlanFree, true},
		{"PRO", billing.PlanPro, true},
		{" Enterprise ", billing.PlanEnterprise, true},
		{"platinum", billing.Plan("platinum"), false},
		{"", billing.Plan(""), false},
	}

	for _, tt := range tests {
		got, ok := billing.ParsePlan(tt.in)
		assert.Equal(t, tt.ok, ok, "input %q", tt.in)
		if ok {
			assert.Equal(t, tt.want, got)
		}
	}
}

func TestPaymentStatusTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from billing.PaymentStatus
		to   billing.PaymentStatus
		ok   bool
	}{
		{billing.PaymentPending, billing.PaymentSucceeded, true},
		{billing.PaymentPending, billing.PaymentFailed, true},
		{billing.PaymentPending, billing.PaymentCanceled, true},
		{billing.PaymentSucceeded, billing.PaymentRefunded, true},
		{billing.PaymentSucceeded, billing.PaymentFailed, false},
		{billing.PaymentSucceeded, billing.PaymentSucceeded, false},
		{billing.PaymentFailed, billing.PaymentSucceeded, false},
		{billing.PaymentRefunded, billing.PaymentSucceeded, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}
