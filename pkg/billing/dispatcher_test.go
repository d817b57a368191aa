package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safedocs-io/safedocs/pkg/billing"
)

func newDispatcherFixture(user *billing.User) (*billing.Dispatcher, *memSubStore, *memPaymentStore) {
	users := newMemUserStore(user)
	subs := newMemSubStore()
	payments := newMemPaymentStore()
	catalog := billing.DefaultCatalog()
	rec := billing.NewReconciler(users, subs, catalog, nil, nil)
	disp := billing.NewDispatcher(rec, billing.NewResolver(catalog, nil), users, payments, "stub", nil)
	return disp, subs, payments
}

func TestDispatch_DeletionReconcilesOntoFree(t *testing.T) {
	t.Parallel()

	user := testUser()
	disp, subs, _ := newDispatcherFixture(user)

	at := time.Now().UTC()
	require.NoError(t, disp.Dispatch(context.Background(), subscriptionEvent("evt_1", user, at)))

	err := disp.Dispatch(context.Background(), &billing.Event{
		ID:            "evt_2",
		Kind:          billing.EventSubscriptionDeleted,
		ProviderEvent: "customer.subscription.deleted",
		OccurredAt:    at.Add(time.Second),
		CustomerID:    "cus_123",
	})
	require.NoError(t, err)

	sub, err := subs.Get(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.PlanFree, sub.Plan)
	assert.Equal(t, billing.StatusCanceled, sub.Status)
	assert.Empty(t, sub.ProviderSubID)
}

func TestDispatch_ResolvesUserFromCustomerID(t *testing.T) {
	t.Parallel()

	user := testUser()
	disp, subs, _ := newDispatcherFixture(user)

	ev := subscriptionEvent("evt_1", user, time.Now().UTC())
	ev.UserRef = "" // metadata missing, customer id lookup must kick in

	require.NoError(t, disp.Dispatch(context.Background(), ev))

	sub, err := subs.Get(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.PlanPro, sub.Plan)
}

func TestDispatch_EventWithoutAnyUserReference(t *testing.T) {
	t.Parallel()

	user := testUser()
	disp, _, _ := newDispatcherFixture(user)

	ev := subscriptionEvent("evt_1", user, time.Now().UTC())
	ev.UserRef = ""
	ev.CustomerID = ""

	err := disp.Dispatch(context.Background(), ev)
	assert.ErrorIs(t, err, billing.ErrUserNotFound)
}

func TestDispatch_PaymentLedger(t *testing.T) {
	t.Parallel()

	user := testUser()
	disp, _, payments := newDispatcherFixture(user)

	ev := &billing.Event{
		ID:            "evt_pay",
		Kind:          billing.EventPaymentSucceeded,
		ProviderEvent: "invoice.payment_succeeded",
		OccurredAt:    time.Now().UTC(),
		CustomerID:    "cus_123",
		PaymentID:     "in_123",
		AmountCents:   999,
		Currency:      "usd",
	}
	require.NoError(t, disp.Dispatch(context.Background(), ev))

	p, err := payments.GetByProviderID(context.Background(), "stub", "in_123")
	require.NoError(t, err)
	assert.Equal(t, user.ID, p.UserID)
	assert.Equal(t, billing.PaymentSucceeded, p.Status)
	assert.Equal(t, int64(999), p.AmountCents)

	// Replay of the same payment event keeps the terminal state.
	require.NoError(t, disp.Dispatch(context.Background(), ev))
	p, err = payments.GetByProviderID(context.Background(), "stub", "in_123")
	require.NoError(t, err)
	assert.Equal(t, billing.PaymentSucceeded, p.Status)

	// A late failure event for a succeeded payment is not a valid transition
	// and is dropped.
	fail := *ev
	fail.Kind = billing.EventPaymentFailed
	require.NoError(t, disp.Dispatch(context.Background(), &fail))
	p, err = payments.GetByProviderID(context.Background(), "stub", "in_123")
	require.NoError(t, err)
	assert.Equal(t, billing.PaymentSucceeded, p.Status)
}

func TestDispatch_UnknownKindIsIgnored(t *testing.T) {
	t.Parallel()

	user := testUser()
	disp, subs, _ := newDispatcherFixture(user)

	err := disp.Dispatch(context.Background(), &billing.Event{
		ID:            "evt_x",
		Kind:          billing.EventUnknown,
		ProviderEvent: "charge.updated",
		OccurredAt:    time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, subs.applies)
}
