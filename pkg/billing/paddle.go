package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

// PaddleConfig holds the Paddle credentials and webhook settings.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY,required"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PaddleProvider implements Provider on top of the Paddle Billing API. It does
// not implement SubscriptionFetcher, so deployments on Paddle run without the
// manual sync endpoint.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
}

// NewPaddleProvider builds a Paddle-backed billing provider.
func NewPaddleProvider(cfg PaddleConfig) (*PaddleProvider, error) {
	var sdk *paddle.SDK
	var err error

	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		sdk, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		sdk, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("invalid paddle environment: %s", cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("create paddle client: %w", err)
	}

	return &PaddleProvider{
		client:   sdk,
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
	}, nil
}

func (p *PaddleProvider) Name() string { return "paddle" }

// paddleEnvelope is the common shape of Paddle webhook payloads. Data is kept
// loose because each event type carries a different object.
type paddleEnvelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt string          `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

type paddleSubData struct {
	ID                   string            `json:"id"`
	CustomerID           string            `json:"customer_id"`
	Status               string            `json:"status"`
	CustomData           map[string]string `json:"custom_data"`
	ScheduledChange      *struct {
		Action string `json:"action"`
	} `json:"scheduled_change"`
	CurrentBillingPeriod *struct {
		StartsAt time.Time `json:"starts_at"`
		EndsAt   time.Time `json:"ends_at"`
	} `json:"current_billing_period"`
	Items []struct {
		Price struct {
			ID string `json:"id"`
		} `json:"price"`
	} `json:"items"`
}

type paddleTxnData struct {
	ID             string            `json:"id"`
	SubscriptionID string            `json:"subscription_id"`
	CustomerID     string            `json:"customer_id"`
	CustomData     map[string]string `json:"custom_data"`
	CurrencyCode   string            `json:"currency_code"`
	Details        struct {
		Totals struct {
			GrandTotal string `json:"grand_total"`
		} `json:"totals"`
	} `json:"details"`
	Items []struct {
		Price struct {
			ID string `json:"id"`
		} `json:"price"`
	} `json:"items"`
}

// ParseWebhook verifies the Paddle-Signature header and normalizes the event.
func (p *PaddleProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error) {
	// The SDK verifier works on http.Request, so the raw delivery is rebuilt
	// around the payload and signature header.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build verification request: %w", err)
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if !valid {
		return nil, ErrInvalidSignature
	}

	var env paddleEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("parse webhook payload: %w", err)
	}

	ev := &Event{
		ID:            env.EventID,
		Kind:          mapPaddleEventKind(env.EventType),
		ProviderEvent: env.EventType,
		Raw:           env.Data,
	}
	if t, terr := time.Parse(time.RFC3339, env.OccurredAt); terr == nil {
		ev.OccurredAt = t.UTC()
	} else {
		ev.OccurredAt = time.Now().UTC()
	}

	switch {
	case strings.HasPrefix(env.EventType, "subscription."):
		var sub paddleSubData
		if err := json.Unmarshal(env.Data, &sub); err != nil {
			return nil, fmt.Errorf("decode subscription data: %w", err)
		}
		ev.SubscriptionID = sub.ID
		ev.CustomerID = sub.CustomerID
		ev.Status = sub.Status
		ev.UserRef = sub.CustomData["user_id"]
		ev.MetadataPlan = sub.CustomData["plan"]
		ev.CancelAtPeriodEnd = sub.ScheduledChange != nil && sub.ScheduledChange.Action == "cancel"
		if sub.CurrentBillingPeriod != nil {
			start := sub.CurrentBillingPeriod.StartsAt.UTC()
			end := sub.CurrentBillingPeriod.EndsAt.UTC()
			ev.CurrentPeriodStart = &start
			ev.CurrentPeriodEnd = &end
		}
		if len(sub.Items) > 0 {
			ev.PriceID = sub.Items[0].Price.ID
		}

	case strings.HasPrefix(env.EventType, "transaction."):
		var txn paddleTxnData
		if err := json.Unmarshal(env.Data, &txn); err != nil {
			return nil, fmt.Errorf("decode transaction data: %w", err)
		}
		ev.PaymentID = txn.ID
		ev.SubscriptionID = txn.SubscriptionID
		ev.CustomerID = txn.CustomerID
		ev.UserRef = txn.CustomData["user_id"]
		ev.MetadataPlan = txn.CustomData["plan"]
		ev.Currency = txn.CurrencyCode
		ev.AmountCents = parsePaddleAmount(txn.Details.Totals.GrandTotal)
		if len(txn.Items) > 0 {
			ev.PriceID = txn.Items[0].Price.ID
		}
	}

	return ev, nil
}

// CreateCheckoutSession creates a Paddle transaction with a hosted checkout
// URL. The user ref and plan travel in custom data so webhooks for the
// transaction and its subscription can be attributed.
func (p *PaddleProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceID,
		Quantity: 1,
	})

	txnReq := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			"user_id": req.UserRef,
			"plan":    string(req.Plan),
		},
	}
	if req.CustomerID != "" {
		txnReq.CustomerID = paddle.PtrTo(req.CustomerID)
	}
	if req.SuccessURL != "" {
		txnReq.Checkout = &paddle.TransactionCheckout{
			URL: paddle.PtrTo(req.SuccessURL),
		}
	}

	txn, err := p.client.TransactionsClient.CreateTransaction(ctx, txnReq)
	if err != nil {
		return nil, fmt.Errorf("create paddle transaction: %w", err)
	}
	if txn.Checkout == nil || txn.Checkout.URL == nil || *txn.Checkout.URL == "" {
		return nil, fmt.Errorf("paddle transaction %s returned no checkout url", txn.ID)
	}

	return &CheckoutSession{URL: *txn.Checkout.URL, SessionID: txn.ID}, nil
}

// CreatePortalSession opens the Paddle customer portal overview page.
func (p *PaddleProvider) CreatePortalSession(ctx context.Context, customerID string) (*PortalSession, error) {
	sess, err := p.client.CustomerPortalSessionsClient.CreateCustomerPortalSession(ctx, &paddle.CreateCustomerPortalSessionRequest{
		CustomerID: customerID,
	})
	if err != nil {
		return nil, fmt.Errorf("create paddle portal session: %w", err)
	}
	if sess.URLs.General.Overview == "" {
		return nil, fmt.Errorf("paddle portal session for %s returned no url", customerID)
	}
	return &PortalSession{URL: sess.URLs.General.Overview}, nil
}

func mapPaddleEventKind(eventType string) EventKind {
	switch eventType {
	case "transaction.completed":
		return EventCheckoutCompleted
	case "subscription.created":
		return EventSubscriptionCreated
	case "subscription.updated", "subscription.resumed":
		return EventSubscriptionUpdated
	case "subscription.canceled":
		return EventSubscriptionDeleted
	case "transaction.payment_succeeded":
		return EventPaymentSucceeded
	case "transaction.payment_failed":
		return EventPaymentFailed
	default:
		return EventUnknown
	}
}

// parsePaddleAmount converts Paddle's lowest-denomination string totals
// ("1999") to cents. Malformed totals report zero rather than failing the
// whole event.
func parsePaddleAmount(s string) int64 {
	var n int64
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int64(r-'0')
	}
	return n
}
