package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
)

// StripeConfig holds the Stripe credentials and webhook settings.
type StripeConfig struct {
	APIKey        string `env:"STRIPE_API_KEY,required"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET,required"`
	Environment   string `env:"STRIPE_ENVIRONMENT" envDefault:"development"`
	// SkipVerification disables webhook signature checks for local testing
	// with replayed payloads. It is ignored in production.
	SkipVerification bool `env:"STRIPE_SKIP_VERIFICATION" envDefault:"false"`
}

// StripeProvider implements Provider, SubscriptionFetcher, and CustomerEnsurer
// on top of the Stripe API.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
	skipVerify    bool
}

// NewStripeProvider builds a Stripe-backed billing provider.
func NewStripeProvider(cfg StripeConfig) *StripeProvider {
	api := &client.API{}
	api.Init(cfg.APIKey, nil)
	return &StripeProvider{
		api:           api,
		webhookSecret: cfg.WebhookSecret,
		skipVerify:    cfg.SkipVerification && cfg.Environment != "production",
	}
}

func (p *StripeProvider) Name() string { return "stripe" }

// ParseWebhook verifies the Stripe-Signature header and normalizes the event.
func (p *StripeProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error) {
	var stripeEvent stripe.Event
	if p.skipVerify {
		if err := json.Unmarshal(payload, &stripeEvent); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
		}
	} else {
		var err error
		stripeEvent, err = webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
		}
	}
	return p.normalize(&stripeEvent)
}

func (p *StripeProvider) normalize(se *stripe.Event) (*Event, error) {
	ev := &Event{
		ID:            se.ID,
		ProviderEvent: string(se.Type),
		OccurredAt:    time.Unix(se.Created, 0).UTC(),
		Raw:           se.Data.Raw,
	}

	switch se.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(se.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		ev.Kind = EventCheckoutCompleted
		ev.UserRef = sess.Metadata["user_id"]
		if ev.UserRef == "" {
			ev.UserRef = sess.ClientReferenceID
		}
		ev.MetadataPlan = sess.Metadata["plan"]
		if sess.Customer != nil {
			ev.CustomerID = sess.Customer.ID
		}
		// Expanded objects arrive id-only in webhook payloads; the session
		// carries no price or period data, those come on the subscription
		// events that follow.
		if sess.Subscription != nil {
			ev.SubscriptionID = sess.Subscription.ID
		}

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(se.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		switch se.Type {
		case "customer.subscription.created":
			ev.Kind = EventSubscriptionCreated
		case "customer.subscription.updated":
			ev.Kind = EventSubscriptionUpdated
		default:
			ev.Kind = EventSubscriptionDeleted
		}
		ev.UserRef = sub.Metadata["user_id"]
		ev.MetadataPlan = sub.Metadata["plan"]
		ev.SubscriptionID = sub.ID
		ev.Status = string(sub.Status)
		ev.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
		ev.CurrentPeriodStart = unixPtr(sub.CurrentPeriodStart)
		ev.CurrentPeriodEnd = unixPtr(sub.CurrentPeriodEnd)
		if sub.Customer != nil {
			ev.CustomerID = sub.Customer.ID
		}
		if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
			ev.PriceID = sub.Items.Data[0].Price.ID
		}

	case "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(se.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("decode invoice: %w", err)
		}
		if se.Type == "invoice.payment_succeeded" {
			ev.Kind = EventPaymentSucceeded
			ev.AmountCents = inv.AmountPaid
		} else {
			ev.Kind = EventPaymentFailed
			ev.AmountCents = inv.AmountDue
		}
		ev.PaymentID = inv.ID
		ev.Currency = string(inv.Currency)
		if inv.Customer != nil {
			ev.CustomerID = inv.Customer.ID
		}
		if inv.Subscription != nil {
			ev.SubscriptionID = inv.Subscription.ID
		}

	default:
		ev.Kind = EventUnknown
	}

	return ev, nil
}

// CreateCheckoutSession opens a hosted subscription checkout. The user ref and
// plan ride along in metadata on both the session and the subscription it
// creates so every later webhook can be attributed without a customer lookup.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	meta := map[string]string{
		"user_id": req.UserRef,
		"plan":    string(req.Plan),
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.UserRef),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: meta,
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: meta,
		},
	}
	params.Context = ctx

	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}

	sess, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &CheckoutSession{URL: sess.URL, SessionID: sess.ID}, nil
}

// CreatePortalSession opens the Stripe customer portal for self-service plan
// and payment management.
func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerID string) (*PortalSession, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx

	sess, err := p.api.BillingPortalSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create portal session: %w", err)
	}
	return &PortalSession{URL: sess.URL}, nil
}

// ActiveSubscription returns the customer's active or trialing subscription,
// or nil when the customer has none.
func (p *StripeProvider) ActiveSubscription(ctx context.Context, customerID string) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(10)

	var best *stripe.Subscription
	iter := p.api.Subscriptions.List(params)
	for iter.Next() {
		sub := iter.Subscription()
		if sub.Status != stripe.SubscriptionStatusActive && sub.Status != stripe.SubscriptionStatusTrialing {
			continue
		}
		if best == nil || sub.Created > best.Created {
			best = sub
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	if best == nil {
		return nil, nil
	}

	out := &ProviderSubscription{
		SubscriptionID:     best.ID,
		CustomerID:         customerID,
		MetadataPlan:       best.Metadata["plan"],
		Status:             string(best.Status),
		CurrentPeriodStart: unixPtr(best.CurrentPeriodStart),
		CurrentPeriodEnd:   unixPtr(best.CurrentPeriodEnd),
		CancelAtPeriodEnd:  best.CancelAtPeriodEnd,
	}
	if best.Items != nil && len(best.Items.Data) > 0 && best.Items.Data[0].Price != nil {
		out.PriceID = best.Items.Data[0].Price.ID
	}
	return out, nil
}

// EnsureCustomer creates a Stripe customer carrying the internal user id so
// checkout sessions bind to a stable customer record.
func (p *StripeProvider) EnsureCustomer(ctx context.Context, email, userRef string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Metadata: map[string]string{
			"user_id": userRef,
		},
	}
	params.Context = ctx

	cust, err := p.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	return cust.ID, nil
}

func unixPtr(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
