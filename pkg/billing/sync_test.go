package billing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safedocs-io/safedocs/pkg/billing"
)

type stubFetcher struct {
	sub   *billing.ProviderSubscription
	err   error
	calls int
}

func (f *stubFetcher) ActiveSubscription(context.Context, string) (*billing.ProviderSubscription, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.sub, nil
}

func newSyncFixture(user *billing.User, fetcher billing.SubscriptionFetcher) (*billing.Syncer, *memSubStore) {
	users := newMemUserStore(user)
	subs := newMemSubStore()
	catalog := billing.DefaultCatalog()
	rec := billing.NewReconciler(users, subs, catalog, nil, nil)
	return billing.NewSyncer(users, fetcher, billing.NewResolver(catalog, nil), rec, time.Second, nil), subs
}

func TestSync_AppliesProviderState(t *testing.T) {
	t.Parallel()

	user := testUser()
	start := time.Now().UTC().Add(-time.Hour)
	end := start.Add(30 * 24 * time.Hour)
	syncer, subs := newSyncFixture(user, &stubFetcher{
		sub: &billing.ProviderSubscription{
			SubscriptionID:     "sub_123",
			CustomerID:         "cus_123",
			MetadataPlan:       "pro",
			Status:             "active",
			CurrentPeriodStart: &start,
			CurrentPeriodEnd:   &end,
		},
	})

	res, err := syncer.Sync(context.Background(), user.ID)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, billing.PlanPro, res.To)

	sub, err := subs.Get(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.PlanPro, sub.Plan)
	assert.Equal(t, "sub_123", sub.ProviderSubID)
}

func TestSync_NoProviderSubscriptionMeansFree(t *testing.T) {
	t.Parallel()

	user := testUser()
	syncer, subs := newSyncFixture(user, &stubFetcher{sub: nil})

	// Seed a pro subscription the provider no longer knows about.
	rec := billing.NewReconciler(newMemUserStore(user), subs, billing.DefaultCatalog(), nil, nil)
	_, err := rec.Reconcile(context.Background(), proTarget(user.ID.String(), time.Now().UTC().Add(-time.Minute)))
	require.NoError(t, err)

	res, err := syncer.Sync(context.Background(), user.ID)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, billing.TransitionCancellation, res.Transition)

	sub, err := subs.Get(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.PlanFree, sub.Plan)
	assert.Equal(t, billing.StatusCanceled, sub.Status)
}

func TestSync_UserWithoutBillingAccountStaysFree(t *testing.T) {
	t.Parallel()

	user := testUser()
	user.ProviderCustomerID = ""
	fetcher := &stubFetcher{}
	syncer, subs := newSyncFixture(user, fetcher)

	res, err := syncer.Sync(context.Background(), user.ID)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, billing.PlanFree, res.To)
	assert.Equal(t, 0, fetcher.calls, "no customer id means no provider call")

	sub, err := subs.Get(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusCanceled, sub.Status)
}

func TestSync_ProviderFailure(t *testing.T) {
	t.Parallel()

	user := testUser()
	syncer, subs := newSyncFixture(user, &stubFetcher{err: errors.New("upstream 500")})

	_, err := syncer.Sync(context.Background(), user.ID)
	require.ErrorIs(t, err, billing.ErrProviderUnavailable)
	assert.Equal(t, 0, subs.applies, "a failed fetch must not touch local state")
}

type blockingFetcher struct {
	started chan struct{}
	release chan struct{}
	sub     *billing.ProviderSubscription
}

func (f *blockingFetcher) ActiveSubscription(ctx context.Context, _ string) (*billing.ProviderSubscription, error) {
	close(f.started)
	select {
	case <-f.release:
		return f.sub, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestSync_SurvivesCallerCancellation(t *testing.T) {
	t.Parallel()

	user := testUser()
	fetcher := &blockingFetcher{
		started: make(chan struct{}),
		release: make(chan struct{}),
		sub: &billing.ProviderSubscription{
			SubscriptionID: "sub_123",
			CustomerID:     "cus_123",
			MetadataPlan:   "pro",
			Status:         "active",
		},
	}
	syncer, subs := newSyncFixture(user, fetcher)

	// The caller hangs up while the shared provider fetch is in flight. The
	// fetch stays bounded by the provider timeout, not the caller's context,
	// so the collapsed flight still completes and applies provider state.
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := syncer.Sync(ctx, user.ID)
		done <- err
	}()

	<-fetcher.started
	cancel()
	close(fetcher.release)

	require.NoError(t, <-done)

	sub, err := subs.Get(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.PlanPro, sub.Plan)
}

func TestSync_UnknownUser(t *testing.T) {
	t.Parallel()

	syncer, _ := newSyncFixture(testUser(), &stubFetcher{})

	_, err := syncer.Sync(context.Background(), testUser().ID)
	assert.ErrorIs(t, err, billing.ErrUserNotFound)
}
