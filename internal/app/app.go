package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/vpn-checkout/internal/domain/auth"
	"github.com/xenking/vpn-checkout/internal/domain/checkout"
	"github.com/xenking/vpn-checkout/internal/domain/pricing"
	"github.com/xenking/vpn-checkout/internal/domain/topup"
	"github.com/xenking/vpn-checkout/internal/handler"
	"github.com/xenking/vpn-checkout/internal/storage/memory"
	"github.com/xenking/vpn-checkout/internal/storage/postgres"
	"github.com/xenking/vpn-checkout/internal/telegram"
	"github.com/xenking/vpn-checkout/pkg/health"
	"github.com/xenking/vpn-checkout/pkg/httpmiddleware"
)

// draftStore is a checkout.DraftStore that can drop expired drafts.
type draftStore interface {
	checkout.DraftStore
	Purge(ctx context.Context) (int64, error)
}

// Run creates all dependencies, starts the HTTP server and the optional
// Telegram bot, and handles graceful shutdown. It is the single wiring point
// for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("draft_backend", cfg.Checkout.DraftBackend),
		zap.Bool("telegram", cfg.Telegram.Token != ""),
	)
	ctx = zctx.Base(ctx, lg)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New(10 * time.Second)
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.Ping(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.MaxGoroutines(10000))

	// Repositories.
	tx := postgres.NewTxManager(pool)
	users := postgres.NewUserRepository(pool)
	ledgerRepo := postgres.NewLedgerRepository(pool)
	var drafts draftStore = postgres.NewDraftRepository(pool)
	if cfg.Checkout.DraftBackend == DraftBackendMemory {
		drafts = memory.NewDraftStore(cfg.Checkout.MemorySize, cfg.Checkout.DraftTTL)
	}

	// Domain services.
	checkoutSvc, err := checkout.NewService(checkout.Deps{
		Catalog:       postgres.NewCatalogRepository(pool),
		Subscriptions: postgres.NewSubscriptionRepository(pool),
		Ledger:        ledgerRepo,
		Discounts:     pricing.NewResolver(users),
		Offers:        users,
		Drafts:        drafts,
		Tx:            tx,
		Guard:         pricing.NewGuard(cfg.Checkout.StrictGuard),
		Meter:         m.MeterProvider().Meter("vpn-checkout"),
		DraftTTL:      cfg.Checkout.DraftTTL,
	})
	if err != nil {
		return errors.Wrap(err, "create checkout service")
	}

	var (
		bot      *telegram.Bot
		notifier topup.Notifier
	)
	if cfg.Telegram.Token != "" {
		api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			return errors.Wrap(err, "create telegram client")
		}
		lg.Info("Telegram bot authorized", zap.String("username", api.Self.UserName))
		bot = telegram.New(api, checkoutSvc, ledgerRepo, users)
		notifier = bot
	}
	topupSvc := topup.NewService(postgres.NewTopUpRepository(pool), ledgerRepo, tx, checkoutSvc, notifier)

	// HTTP.
	h := handler.NewHandler(
		handler.Config{WebhookSecrets: cfg.WebhookSecrets},
		checkoutSvc,
		topupSvc,
		auth.NewAuthenticator(postgres.NewAPIKeyRepository(pool), []byte(cfg.APIKeyPepper)),
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)

	limiter := httpmiddleware.NewRateLimiter(httpmiddleware.RateLimitConfig{
		Max:    cfg.RateLimit.Max,
		Window: cfg.RateLimit.Window,
		Key:    httpmiddleware.HeaderOrIP(handler.APIKeyHeader),
	})
	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.Recovery(),
			httpmiddleware.Instrument("vpn-checkout", m.TracerProvider(), m.MeterProvider()),
			limiter.Middleware(),
			httpmiddleware.LogRequests(),
		),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return healthSvc.Run(ctx)
	})
	g.Go(func() error {
		return limiter.Run(ctx)
	})
	g.Go(func() error {
		return purgeDrafts(ctx, drafts, cfg.Checkout.PurgeInterval)
	})
	if bot != nil {
		g.Go(func() error {
			return bot.Run(ctx, cfg.Telegram.PollTimeout)
		})
	}
	g.Go(func() error {
		// Graceful shutdown: readiness goes false first so the balancer stops
		// routing, then in-flight requests are drained.
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		return errors.Wrap(server.Shutdown(shutdownCtx), "shutdown")
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		healthSvc.SetReady(true)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	return g.Wait()
}

// purgeDrafts periodically deletes expired checkout drafts.
func purgeDrafts(ctx context.Context, drafts draftStore, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := drafts.Purge(ctx)
			if err != nil {
				zctx.From(ctx).Warn("Purge expired drafts", zap.Error(err))
				continue
			}
			if n > 0 {
				zctx.From(ctx).Debug("Purged expired drafts", zap.Int64("count", n))
			}
		}
	}
}
