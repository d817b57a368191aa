package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/safedocs-io/safedocs/internal/handler"
	"github.com/safedocs-io/safedocs/internal/storage"
	"github.com/safedocs-io/safedocs/pkg/billing"
	"github.com/safedocs-io/safedocs/pkg/clientip"
	"github.com/safedocs-io/safedocs/pkg/config"
	"github.com/safedocs-io/safedocs/pkg/email"
	"github.com/safedocs-io/safedocs/pkg/file"
	"github.com/safedocs-io/safedocs/pkg/httpserver"
	"github.com/safedocs-io/safedocs/pkg/logger"
	"github.com/safedocs-io/safedocs/pkg/notify"
	"github.com/safedocs-io/safedocs/pkg/pg"
	"github.com/safedocs-io/safedocs/pkg/quota"
	"github.com/safedocs-io/safedocs/pkg/ratelimiter"
	"github.com/safedocs-io/safedocs/pkg/redis"
	"github.com/safedocs-io/safedocs/pkg/scanner"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type appConfig struct {
	Environment string `env:"APP_ENV" envDefault:"development"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"safedocs"`

	// BillingProvider selects stripe or paddle.
	BillingProvider string `env:"BILLING_PROVIDER" envDefault:"stripe"`

	// CatalogPath points at the plan catalog YAML; empty uses compiled-in
	// defaults.
	CatalogPath string `env:"PLAN_CATALOG_PATH"`

	SyncTimeout time.Duration `env:"BILLING_SYNC_TIMEOUT" envDefault:"5s"`

	// ArtifactBackend selects s3 or local for scan reports and sanitized
	// copies.
	ArtifactBackend string `env:"ARTIFACT_BACKEND" envDefault:"local"`
	ArtifactDir     string `env:"ARTIFACT_DIR" envDefault:"./data/artifacts"`
	ArtifactBaseURL string `env:"ARTIFACT_BASE_URL"`

	MaxUploadBytes int64 `env:"SCAN_MAX_UPLOAD_BYTES" envDefault:"26214400"`

	// EmailBackend selects postmark, file, or off for plan-transition
	// notifications.
	EmailBackend string `env:"EMAIL_BACKEND" envDefault:"file"`
	EmailOutbox  string `env:"EMAIL_OUTBOX_DIR" envDefault:"./data/outbox"`

	WebhookRateCapacity int `env:"WEBHOOK_RATE_CAPACITY" envDefault:"120"`
	SyncRateCapacity    int `env:"SYNC_RATE_CAPACITY" envDefault:"5"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg appConfig
	config.MustLoad(&cfg)

	log := logger.New(
		logger.WithEnvironment(cfg.Environment, cfg.ServiceName),
	)
	logger.SetAsDefault(log)

	if err := run(ctx, cfg, log); err != nil {
		log.ErrorContext(ctx, "server exited with error", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg appConfig, log *slog.Logger) error {
	var pgCfg pg.Config
	config.MustLoad(&pgCfg)

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, pgCfg, log); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	stores := storage.New(pool)

	catalog, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("load plan catalog: %w", err)
	}

	provider, fetcher, signatureHeader, err := buildProvider(cfg.BillingProvider)
	if err != nil {
		return err
	}

	notifier := buildNotifier(cfg, stores, log)

	resolver := billing.NewResolver(catalog, log)
	reconciler := billing.NewReconciler(stores.Users, stores.Subscriptions, catalog, notifier, log)
	dispatcher := billing.NewDispatcher(reconciler, resolver, stores.Users, stores.Payments, provider.Name(), log)
	ingress := billing.NewIngress(provider, stores.WebhookLogs, dispatcher, log)
	syncer := billing.NewSyncer(stores.Users, fetcher, resolver, reconciler, cfg.SyncTimeout, log)
	checkout := billing.NewCheckoutService(stores.Users, provider, catalog, cfg.SyncTimeout, log)
	ledger := quota.NewLedger(stores.Subscriptions, catalog, log)

	artifacts, err := buildArtifactStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init artifact storage: %w", err)
	}

	var engineCfg scanner.EngineConfig
	config.MustLoad(&engineCfg)
	engine, err := scanner.NewHTTPEngine(engineCfg)
	if err != nil {
		return fmt.Errorf("init scan engine client: %w", err)
	}
	scans := scanner.NewService(engine, stores.Scans, artifacts, ledger, cfg.MaxUploadBytes, log)

	webhookLimit, syncLimit, probes := buildRateLimits(ctx, cfg, pool, log)

	h := handler.New(handler.Options{
		Ingress:         ingress,
		SignatureHeader: signatureHeader,
		Syncer:          syncer,
		Checkout:        checkout,
		Subscriptions:   stores.Subscriptions,
		Quota:           ledger,
		Scans:           scans,
		Notifications:   stores.Notifications,
		Probes:          probes,
		Logger:          log,
	})

	var httpCfg httpserver.Config
	config.MustLoad(&httpCfg)
	srv := httpserver.New(httpCfg, log)

	log.InfoContext(ctx, "starting server",
		slog.String("addr", httpCfg.Addr),
		slog.String("provider", provider.Name()),
		slog.String("environment", cfg.Environment))

	return srv.Run(ctx, h.Router(webhookLimit, syncLimit))
}

func loadCatalog(path string) (*billing.Catalog, error) {
	if path == "" {
		return billing.DefaultCatalog(), nil
	}
	return billing.LoadCatalogFile(path)
}

// buildProvider wires the configured billing provider. Paddle cannot report
// subscriptions on demand, so its deployments get a fetcher that refuses
// manual sync for customers with provider accounts.
func buildProvider(name string) (billing.Provider, billing.SubscriptionFetcher, string, error) {
	switch name {
	case "stripe":
		var cfg billing.StripeConfig
		config.MustLoad(&cfg)
		p := billing.NewStripeProvider(cfg)
		return p, p, "Stripe-Signature", nil
	case "paddle":
		var cfg billing.PaddleConfig
		config.MustLoad(&cfg)
		p, err := billing.NewPaddleProvider(cfg)
		if err != nil {
			return nil, nil, "", fmt.Errorf("init paddle provider: %w", err)
		}
		return p, unsupportedFetcher{}, "Paddle-Signature", nil
	default:
		return nil, nil, "", fmt.Errorf("unknown billing provider %q", name)
	}
}

type unsupportedFetcher struct{}

func (unsupportedFetcher) ActiveSubscription(context.Context, string) (*billing.ProviderSubscription, error) {
	return nil, fmt.Errorf("%w: provider cannot report subscriptions on demand", billing.ErrProviderUnavailable)
}

// buildNotifier assembles the plan-transition pipeline: stored notification
// plus optional email delivery.
func buildNotifier(cfg appConfig, stores *storage.Stores, log *slog.Logger) billing.TransitionNotifier {
	var deliverer notify.Deliverer = notify.NoOpDeliverer{}

	switch cfg.EmailBackend {
	case "postmark":
		var emailCfg email.Config
		config.MustLoad(&emailCfg)
		sender, err := email.NewPostmarkSender(emailCfg)
		if err != nil {
			log.Error("postmark sender unavailable, notifications stay in-app only", logger.Error(err))
			break
		}
		deliverer = email.NewNotificationDeliverer(sender, userEmailResolver(stores))
	case "file":
		deliverer = email.NewNotificationDeliverer(email.NewFileSender(cfg.EmailOutbox), userEmailResolver(stores))
	case "off":
	default:
		log.Warn("unknown email backend, notifications stay in-app only", slog.String("backend", cfg.EmailBackend))
	}

	return notify.NewEmitter(stores.Notifications, deliverer, log)
}

func userEmailResolver(stores *storage.Stores) email.AddressResolver {
	return func(ctx context.Context, userID uuid.UUID) (string, error) {
		u, err := stores.Users.GetByID(ctx, userID)
		if err != nil {
			return "", err
		}
		return u.Email, nil
	}
}

func buildArtifactStorage(ctx context.Context, cfg appConfig) (file.Storage, error) {
	switch cfg.ArtifactBackend {
	case "s3":
		var s3Cfg file.S3Config
		config.MustLoad(&s3Cfg)
		return file.NewS3Storage(ctx, s3Cfg)
	case "local":
		return file.NewLocalStorage(cfg.ArtifactDir, cfg.ArtifactBaseURL)
	default:
		return nil, fmt.Errorf("unknown artifact backend %q", cfg.ArtifactBackend)
	}
}

// buildRateLimits connects Redis for the shared rate-limit store and returns
// the webhook and sync middlewares plus the health probes. A Redis outage at
// startup degrades to per-instance in-memory limiting instead of refusing to
// boot.
func buildRateLimits(ctx context.Context, cfg appConfig, pool *pgxpool.Pool, log *slog.Logger) (webhookLimit, syncLimit func(http.Handler) http.Handler, probes map[string]func(context.Context) error) {
	probes = map[string]func(context.Context) error{
		"postgres": pg.Healthcheck(pool),
	}

	var store ratelimiter.Store
	var redisCfg redis.Config
	config.MustLoad(&redisCfg)
	client, err := redis.Connect(ctx, redisCfg)
	if err != nil {
		log.WarnContext(ctx, "redis unavailable, falling back to in-memory rate limiting", logger.Error(err))
		store = ratelimiter.NewMemoryStore(time.Minute)
	} else {
		store = ratelimiter.NewRedisStore(client, "ratelimit")
		probes["redis"] = redis.Healthcheck(client)
	}

	webhookBucket, err := ratelimiter.NewBucket(store, ratelimiter.Config{
		Capacity:       cfg.WebhookRateCapacity,
		RefillRate:     cfg.WebhookRateCapacity,
		RefillInterval: time.Minute,
	})
	if err != nil {
		log.WarnContext(ctx, "invalid webhook rate limit config, endpoint unthrottled", logger.Error(err))
	} else {
		webhookLimit = ratelimiter.Middleware(webhookBucket, clientip.GetIP, log)
	}

	syncBucket, err := ratelimiter.NewBucket(store, ratelimiter.Config{
		Capacity:       cfg.SyncRateCapacity,
		RefillRate:     cfg.SyncRateCapacity,
		RefillInterval: time.Minute,
	})
	if err != nil {
		log.WarnContext(ctx, "invalid sync rate limit config, endpoint unthrottled", logger.Error(err))
	} else {
		syncLimit = ratelimiter.Middleware(syncBucket, handler.UserKeyFunc, log)
	}

	return webhookLimit, syncLimit, probes
}
