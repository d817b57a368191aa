// Package handler exposes the HTTP API: billing webhooks, checkout and portal
// sessions, manual sync, quota checks, document scans, and notifications.
// Authentication happens upstream; requests arrive with the verified user id
// in the X-User-ID header.
package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/safedocs-io/safedocs/pkg/billing"
	"github.com/safedocs-io/safedocs/pkg/notify"
	"github.com/safedocs-io/safedocs/pkg/quota"
	"github.com/safedocs-io/safedocs/pkg/scanner"
)

// WebhookIngress accepts raw provider deliveries. Satisfied by
// *billing.Ingress.
type WebhookIngress interface {
	Ingest(ctx context.Context, payload []byte, signature string) (billing.IngestResult, error)
}

// SubscriptionSyncer pulls provider state on demand. Satisfied by
// *billing.Syncer.
type SubscriptionSyncer interface {
	Sync(ctx context.Context, userID uuid.UUID) (billing.ReconcileResult, error)
}

// CheckoutService opens hosted checkout and portal sessions. Satisfied by
// *billing.CheckoutService.
type CheckoutService interface {
	StartCheckout(ctx context.Context, userID uuid.UUID, plan billing.Plan, successURL, cancelURL string) (*billing.CheckoutSession, error)
	OpenPortal(ctx context.Context, userID uuid.UUID) (*billing.PortalSession, error)
}

// SubscriptionReader returns the user's current entitlement snapshot.
// Satisfied by the subscription store.
type SubscriptionReader interface {
	Get(ctx context.Context, userID uuid.UUID) (*billing.Subscription, error)
}

// QuotaReader answers quota checks without consuming allowance. Satisfied by
// *quota.Ledger.
type QuotaReader interface {
	CanScan(ctx context.Context, userID uuid.UUID) (quota.Decision, error)
}

// ScanService runs scans and serves history. Satisfied by *scanner.Service.
type ScanService interface {
	Scan(ctx context.Context, userID uuid.UUID, upload scanner.Upload) (*scanner.ScanReport, error)
	List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]scanner.Scan, error)
	Stats(ctx context.Context, userID uuid.UUID) (*scanner.Stats, error)
	Report(ctx context.Context, userID, scanID uuid.UUID) (io.ReadCloser, error)
	SanitizedCopy(ctx context.Context, userID, scanID uuid.UUID) (io.ReadCloser, *scanner.Scan, error)
}

// Handler bundles the services behind the HTTP surface.
type Handler struct {
	ingress         WebhookIngress
	signatureHeader string
	syncer          SubscriptionSyncer
	checkout        CheckoutService
	subscriptions   SubscriptionReader
	quota           QuotaReader
	scans           ScanService
	notifications   notify.Storage
	probes          map[string]func(context.Context) error
	log             *slog.Logger
}

// Options carries the handler's dependencies. Every service field is
// required; Probes is optional.
type Options struct {
	Ingress         WebhookIngress
	SignatureHeader string // e.g. Stripe-Signature or Paddle-Signature
	Syncer          SubscriptionSyncer
	Checkout        CheckoutService
	Subscriptions   SubscriptionReader
	Quota           QuotaReader
	Scans           ScanService
	Notifications   notify.Storage
	Probes          map[string]func(context.Context) error
	Logger          *slog.Logger
}

func New(opts Options) *Handler {
	if opts.Ingress == nil || opts.Syncer == nil || opts.Checkout == nil ||
		opts.Subscriptions == nil || opts.Quota == nil || opts.Scans == nil ||
		opts.Notifications == nil {
		panic("handler: missing required service")
	}
	if opts.SignatureHeader == "" {
		opts.SignatureHeader = "Stripe-Signature"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handler{
		ingress:         opts.Ingress,
		signatureHeader: opts.SignatureHeader,
		syncer:          opts.Syncer,
		checkout:        opts.Checkout,
		subscriptions:   opts.Subscriptions,
		quota:           opts.Quota,
		scans:           opts.Scans,
		notifications:   opts.Notifications,
		probes:          opts.Probes,
		log:             opts.Logger,
	}
}

// Router assembles the route tree. The webhook endpoint stays outside the
// identity middleware because providers authenticate with signatures, not
// user headers. Rate limiting middlewares are injected by the caller so the
// store choice (memory vs Redis) stays a composition concern.
func (h *Handler) Router(webhookLimit, syncLimit func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealthz)

	r.Group(func(r chi.Router) {
		if webhookLimit != nil {
			r.Use(webhookLimit)
		}
		r.Post("/webhooks/billing", h.handleWebhook)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.requireUser)

		r.Route("/billing", func(r chi.Router) {
			if syncLimit != nil {
				r.With(syncLimit).Post("/sync", h.handleSync)
			} else {
				r.Post("/sync", h.handleSync)
			}
			r.Post("/checkout", h.handleCheckout)
			r.Post("/portal", h.handlePortal)
			r.Get("/subscription", h.handleSubscription)
		})

		r.Get("/quota", h.handleQuota)

		r.Route("/scans", func(r chi.Router) {
			r.Post("/", h.handleScan)
			r.Get("/", h.handleScanList)
			r.Get("/stats", h.handleScanStats)
			r.Get("/{scanID}/report", h.handleScanReport)
			r.Get("/{scanID}/download", h.handleScanDownload)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", h.handleNotificationList)
			r.Post("/read", h.handleNotificationRead)
		})
	})

	return r
}
