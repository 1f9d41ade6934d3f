// Command entitlementd serves the entitlement HTTP API and runs the trial
// sweeper and drift reconciler until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/bloomnest/entitlements/internal/httpapi"
	"github.com/bloomnest/entitlements/internal/store/postgres"
	"github.com/bloomnest/entitlements/internal/store/redisstore"
	"github.com/bloomnest/entitlements/pkg/billing"
	"github.com/bloomnest/entitlements/pkg/config"
	"github.com/bloomnest/entitlements/pkg/entitlement"
	"github.com/bloomnest/entitlements/pkg/httpserver"
	"github.com/bloomnest/entitlements/pkg/logger"
	"github.com/bloomnest/entitlements/pkg/pg"
	"github.com/bloomnest/entitlements/pkg/promo"
	"github.com/bloomnest/entitlements/pkg/redis"
)

// providerNone runs the engine on local state only.
const providerNone = "none"

type settings struct {
	Log         logger.Config
	HTTP        httpserver.Config
	PG          pg.Config
	Redis       redis.Config
	Billing     billing.Config
	Entitlement entitlement.Config

	MemoryWebhookSecret string `env:"MEMORY_WEBHOOK_SECRET"`
}

func main() {
	if err := run(); err != nil {
		slog.Error("entitlementd failed", logger.Error(err))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load[settings]()
	if err != nil {
		return err
	}

	log := logger.New(append(
		logger.FromConfig(cfg.Log),
		logger.WithContextExtractors(httpapi.RequestIDExtractor()),
	)...)
	logger.SetAsDefault(log)

	pool, err := pg.Connect(ctx, cfg.PG)
	if err != nil {
		return err
	}
	defer pool.Close()
	if cfg.PG.AutoMigrate {
		if err := postgres.Migrate(ctx, pool, cfg.PG, log.With(logger.Component("migrations"))); err != nil {
			return err
		}
	}

	rdb, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := entitlement.NewMetrics(reg)
	if err != nil {
		return err
	}

	accounts := postgres.NewAccountStore(pool)
	promos := postgres.NewPromoStore(pool)
	ledger := promo.NewLedger(promos, promos, accounts,
		promo.WithLogger(log.With(logger.Component("promo"))),
		promo.WithAccountRetries(cfg.Entitlement.AccountRetries),
	)

	queue := redisstore.NewDriftQueue(rdb, cfg.Redis.KeyPrefix,
		redisstore.WithQueueCapacity(cfg.Entitlement.DriftQueueCapacity),
	)
	monitor := entitlement.NewMonitor(queue,
		entitlement.WithPublishTimeout(cfg.Entitlement.DriftPublishTimeout),
		entitlement.WithMonitorLogger(log.With(logger.Component("drift"))),
		entitlement.WithMonitorMetrics(metrics),
	)

	svcOpts := []entitlement.Option{
		entitlement.WithUsageStore(postgres.NewUsageStore(pool)),
		entitlement.WithMonitor(monitor),
		entitlement.WithMetrics(metrics),
		entitlement.WithLogger(log.With(logger.Component("entitlement"))),
		entitlement.WithMaxSnapshotAge(cfg.Entitlement.MaxSnapshotAge),
		entitlement.WithAccountRetries(cfg.Entitlement.AccountRetries),
		entitlement.WithCheckoutURLs(cfg.Billing.SuccessURL, cfg.Billing.CancelURL),
	}
	routerOpts := []httpapi.Option{
		httpapi.WithLogger(log.With(logger.Component("http"))),
		httpapi.WithMetrics(reg),
		httpapi.WithReadinessChecks(pg.Healthcheck(pool), redis.Healthcheck(rdb)),
	}

	billingClient, err := newBillingClient(cfg, redisstore.NewSnapshotCache(rdb, cfg.Redis.KeyPrefix), log)
	if err != nil {
		return err
	}
	if billingClient != nil {
		svcOpts = append(svcOpts, entitlement.WithBilling(billingClient))
		routerOpts = append(routerOpts, httpapi.WithWebhooks(billingClient))
	}

	svc := entitlement.NewService(accounts, ledger, svcOpts...)

	sweepOpts := []entitlement.SweeperOption{
		entitlement.WithSweepInterval(cfg.Entitlement.SweepInterval),
		entitlement.WithSweepBatchSize(cfg.Entitlement.SweepBatchSize),
		entitlement.WithSweepConcurrency(cfg.Entitlement.SweepConcurrency),
		entitlement.WithSweepMaxSnapshotAge(cfg.Entitlement.MaxSnapshotAge),
		entitlement.WithSweepLogger(log.With(logger.Component("sweeper"))),
		entitlement.WithSweepMetrics(metrics),
	}
	if billingClient != nil {
		sweepOpts = append(sweepOpts, entitlement.WithSweepSnapshots(billingClient))
	}
	sweeper := entitlement.NewSweeper(accounts, nil, sweepOpts...)

	srv := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log.With(logger.Component("http"))))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx, httpapi.NewRouter(svc, routerOpts...))
	})
	g.Go(func() error {
		return ignoreCanceled(sweeper.Start(gctx))
	})
	if billingClient != nil {
		reconciler := entitlement.NewReconciler(queue, accounts, billingClient,
			entitlement.WithReconcileMaxSnapshotAge(cfg.Entitlement.MaxSnapshotAge),
			entitlement.WithReconcileRetries(cfg.Entitlement.AccountRetries),
			entitlement.WithReconcileLogger(log.With(logger.Component("reconciler"))),
			entitlement.WithReconcileMetrics(metrics),
		)
		g.Go(func() error {
			return ignoreCanceled(reconciler.Start(gctx))
		})
	}

	log.InfoContext(ctx, "entitlementd started", logger.Provider(cfg.Billing.Provider))
	err = g.Wait()
	log.Info("entitlementd stopped")
	return err
}

// newBillingClient returns nil when billing is disabled. Snapshots are cached
// in Redis so every instance sees webhook updates.
func newBillingClient(cfg settings, cache billing.SnapshotCache, log *slog.Logger) (*billing.Client, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Billing.Provider))
	if name == "" || name == providerNone {
		log.Warn("billing disabled, decisions use local state only")
		return nil, nil
	}

	ps := billing.ProviderSettings{MemorySecret: cfg.MemoryWebhookSecret}
	var err error
	switch name {
	case billing.ProviderStripe:
		ps.Stripe, err = config.Load[billing.StripeConfig]()
	case billing.ProviderPaddle:
		ps.Paddle, err = config.Load[billing.PaddleConfig]()
	}
	if err != nil {
		return nil, fmt.Errorf("load %s settings: %w", name, err)
	}

	provider, err := billing.NewProvider(name, ps)
	if err != nil {
		return nil, err
	}
	return billing.NewClientFromConfig(provider, cfg.Billing,
		billing.WithCache(cache),
		billing.WithClientLogger(log.With(logger.Component("billing"))),
	), nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
