package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/safedocs-io/safedocs/pkg/logger"
)

// CheckoutService opens hosted checkout and customer portal sessions. It only
// talks to the provider; entitlement changes arrive later through webhooks or
// manual sync.
type CheckoutService struct {
	users    UserStore
	provider Provider
	catalog  *Catalog
	timeout  time.Duration
	log      *slog.Logger
}

// NewCheckoutService wires the checkout flow. timeout bounds each outbound
// provider call.
func NewCheckoutService(users UserStore, provider Provider, catalog *Catalog, timeout time.Duration, log *slog.Logger) *CheckoutService {
	if users == nil || provider == nil || catalog == nil {
		panic("billing: checkout service requires user store, provider, and catalog")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &CheckoutService{
		users:    users,
		provider: provider,
		catalog:  catalog,
		timeout:  timeout,
		log:      log,
	}
}

// StartCheckout creates a hosted checkout session for the given plan.
func (s *CheckoutService) StartCheckout(ctx context.Context, userID uuid.UUID, plan Plan, successURL, cancelURL string) (*CheckoutSession, error) {
	spec, ok := s.catalog.SpecFor(plan)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlan, plan)
	}
	if spec.PriceID == "" {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotPurchasable, plan)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	customerID := user.ProviderCustomerID
	if customerID == "" {
		if ensurer, ok := s.provider.(CustomerEnsurer); ok {
			ectx, cancel := context.WithTimeout(ctx, s.timeout)
			customerID, err = ensurer.EnsureCustomer(ectx, user.Email, user.ID.String())
			cancel()
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
			}
			if serr := s.users.SetProviderCustomerID(ctx, user.ID, customerID); serr != nil {
				// The webhook path stores the customer id again on the first
				// subscription event, so checkout proceeds anyway.
				s.log.WarnContext(ctx, "failed to persist provider customer id",
					logger.UserID(user.ID),
					logger.Error(serr),
				)
			}
		}
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sess, err := s.provider.CreateCheckoutSession(cctx, CheckoutRequest{
		PriceID:    spec.PriceID,
		CustomerID: customerID,
		UserRef:    user.ID.String(),
		Plan:       plan,
		Email:      user.Email,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}

	s.log.InfoContext(ctx, "checkout session created",
		logger.UserID(user.ID),
		logger.Plan(plan),
		slog.String("session_id", sess.SessionID),
	)
	return sess, nil
}

// OpenPortal creates a customer portal session for self-service billing
// management. Users without a provider customer record have nothing to manage.
func (s *CheckoutService) OpenPortal(ctx context.Context, userID uuid.UUID) (*PortalSession, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.ProviderCustomerID == "" {
		return nil, ErrNoBillingAccount
	}

	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sess, err := s.provider.CreatePortalSession(pctx, user.ProviderCustomerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	return sess, nil
}
