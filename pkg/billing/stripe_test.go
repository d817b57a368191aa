package billing_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safedocs-io/safedocs/pkg/billing"
)

// Provider under test runs with signature verification disabled so raw event
// payloads can be fed straight in. Verification itself is Stripe SDK code.
func newStripeNoVerify() *billing.StripeProvider {
	return billing.NewStripeProvider(billing.StripeConfig{
		APIKey:           "sk_test_x",
		WebhookSecret:    "whsec_x",
		Environment:      "development",
		SkipVerification: true,
	})
}

func TestStripeParseWebhook_SubscriptionUpdated(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	periodStart := created.Add(-24 * time.Hour)
	periodEnd := created.Add(29 * 24 * time.Hour)

	payload := fmt.Sprintf(`{
		"id": "evt_sub_upd",
		"type": "customer.subscription.updated",
		"created": %d,
		"data": {"object": {
			"id": "sub_123",
			"object": "subscription",
			"customer": "cus_123",
			"status": "active",
			"cancel_at_period_end": true,
			"current_period_start": %d,
			"current_period_end": %d,
			"metadata": {"user_id": "user-1", "plan": "pro"},
			"items": {"data": [{"price": {"id": "price_pro"}}]}
		}}
	}`, created.Unix(), periodStart.Unix(), periodEnd.Unix())

	ev, err := newStripeNoVerify().ParseWebhook(context.Background(), []byte(payload), "")
	require.NoError(t, err)

	assert.Equal(t, "evt_sub_upd", ev.ID)
	assert.Equal(t, billing.EventSubscriptionUpdated, ev.Kind)
	assert.Equal(t, "customer.subscription.updated", ev.ProviderEvent)
	assert.True(t, ev.OccurredAt.Equal(created))
	assert.Equal(t, "user-1", ev.UserRef)
	assert.Equal(t, "pro", ev.MetadataPlan)
	assert.Equal(t, "cus_123", ev.CustomerID)
	assert.Equal(t, "sub_123", ev.SubscriptionID)
	assert.Equal(t, "price_pro", ev.PriceID)
	assert.Equal(t, "active", ev.Status)
	assert.True(t, ev.CancelAtPeriodEnd)
	require.NotNil(t, ev.CurrentPeriodStart)
	require.NotNil(t, ev.CurrentPeriodEnd)
	assert.True(t, ev.CurrentPeriodStart.Equal(periodStart))
	assert.True(t, ev.CurrentPeriodEnd.Equal(periodEnd))
}

func TestStripeParseWebhook_CheckoutCompleted(t *testing.T) {
	t.Parallel()

	payload := `{
		"id": "evt_checkout",
		"type": "checkout.session.completed",
		"created": 1767225600,
		"data": {"object": {
			"id": "cs_1",
			"object": "checkout.session",
			"customer": "cus_123",
			"subscription": "sub_123",
			"client_reference_id": "user-ref",
			"metadata": {"user_id": "user-1", "plan": "enterprise"}
		}}
	}`

	ev, err := newStripeNoVerify().ParseWebhook(context.Background(), []byte(payload), "")
	require.NoError(t, err)

	assert.Equal(t, billing.EventCheckoutCompleted, ev.Kind)
	assert.Equal(t, "user-1", ev.UserRef, "metadata user id wins over client reference")
	assert.Equal(t, "enterprise", ev.MetadataPlan)
	assert.Equal(t, "cus_123", ev.CustomerID)
	assert.Equal(t, "sub_123", ev.SubscriptionID)
}

func TestStripeParseWebhook_InvoiceEvents(t *testing.T) {
	t.Parallel()

	payload := `{
		"id": "evt_inv",
		"type": "invoice.payment_succeeded",
		"created": 1767225600,
		"data": {"object": {
			"id": "in_1",
			"object": "invoice",
			"customer": "cus_123",
			"subscription": "sub_123",
			"amount_paid": 999,
			"amount_due": 999,
			"currency": "usd"
		}}
	}`

	ev, err := newStripeNoVerify().ParseWebhook(context.Background(), []byte(payload), "")
	require.NoError(t, err)

	assert.Equal(t, billing.EventPaymentSucceeded, ev.Kind)
	assert.Equal(t, "in_1", ev.PaymentID)
	assert.Equal(t, int64(999), ev.AmountCents)
	assert.Equal(t, "usd", ev.Currency)
	assert.Equal(t, "cus_123", ev.CustomerID)
	assert.Equal(t, "sub_123", ev.SubscriptionID)
}

func TestStripeParseWebhook_UnknownType(t *testing.T) {
	t.Parallel()

	payload := `{"id": "evt_x", "type": "charge.refunded", "created": 1767225600, "data": {"object": {"id": "ch_1"}}}`

	ev, err := newStripeNoVerify().ParseWebhook(context.Background(), []byte(payload), "")
	require.NoError(t, err)
	assert.Equal(t, billing.EventUnknown, ev.Kind)
	assert.Equal(t, "charge.refunded", ev.ProviderEvent)
}

func TestStripeParseWebhook_VerificationEnforcedInProduction(t *testing.T) {
	t.Parallel()

	// SkipVerification must not be honored in production.
	p := billing.NewStripeProvider(billing.StripeConfig{
		APIKey:           "sk_live_x",
		WebhookSecret:    "whsec_x",
		Environment:      "production",
		SkipVerification: true,
	})

	_, err := p.ParseWebhook(context.Background(), []byte(`{"id":"evt_1"}`), "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, billing.ErrInvalidSignature)
}
