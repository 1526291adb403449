package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"example.com/fitstate/internal/api"
	"example.com/fitstate/internal/auth"
	"example.com/fitstate/internal/changefeed"
	"example.com/fitstate/internal/config"
	"example.com/fitstate/internal/logging"
	"example.com/fitstate/internal/observability"
	"example.com/fitstate/internal/persistence/sqlite"
	"example.com/fitstate/internal/remote/httpremote"
	remotepg "example.com/fitstate/internal/remote/postgres"
	"example.com/fitstate/internal/selector"
	"example.com/fitstate/internal/store"
	"example.com/fitstate/internal/syncq"
	httptransport "example.com/fitstate/internal/transport/http"
)

type remoteTarget interface {
	syncq.Remote
	syncq.Pinger
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("fitstate stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	db, err := sqlite.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	queue := syncq.NewQueue(syncq.WithJournal(db), syncq.WithQueueLogger(logger.Named("syncq")))
	if err := queue.Load(ctx); err != nil {
		return err
	}

	st := store.New(cfg.DeviceID,
		store.WithLogger(logger.Named("store")),
		store.WithSnapshotter(db, cfg.Namespace),
		store.WithSink(queue),
		store.WithDebounce(cfg.SnapshotDebounce),
		store.WithDedupeWindow(cfg.DedupeWindow),
		store.WithAppliedLog(db),
	)
	if err := st.Load(ctx); err != nil {
		return err
	}

	selectors := selector.New()
	stopGauges := observability.Watch(st, selectors)
	defer stopGauges()

	var repo *remotepg.Repository
	if cfg.Mode == config.ModeCloud || cfg.Remote == config.RemotePostgres {
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		repo = remotepg.NewRepository(pool, cfg.Owner)
		if err := repo.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	authCfg := auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}
	var target remoteTarget
	switch cfg.Remote {
	case config.RemoteHTTP:
		target = httpremote.NewClient(cfg.RemoteURL, remoteToken(cfg, authCfg), cfg.SyncAttemptTimeout)
	case config.RemotePostgres:
		target = repo
	}

	toggle := syncq.NewToggle(false)
	g, gctx := errgroup.WithContext(ctx)

	var reconciler *syncq.Reconciler
	if target != nil {
		opts := []syncq.ReconcilerOption{syncq.WithLogger(logger.Named("reconciler"))}
		if cfg.ChangeFeedEnabled() {
			producer := changefeed.NewKafkaProducer(cfg.KafkaBrokers, changefeed.WithProducerLogger(logger.Named("changefeed")))
			defer producer.Close()
			var registry changefeed.SchemaResolver = changefeed.FixedSchema(0)
			if cfg.SchemaRegistryURL != "" {
				registry = changefeed.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
			}
			opts = append(opts, syncq.WithPublisher(changefeed.NewPublisher(producer, registry, cfg.ChangeFeedTopic, cfg.Owner)))
		}
		reconciler = syncq.NewReconciler(queue, target, toggle, cfg.SyncConfig(), opts...)

		g.Go(func() error {
			syncq.Probe(gctx, target, toggle, cfg.ProbeInterval, cfg.ProbeTimeout, logger.Named("probe"))
			return nil
		})
		g.Go(func() error {
			reconciler.Start(gctx)
			return nil
		})
	}

	if cfg.ChangeFeedEnabled() {
		reader := changefeed.NewKafkaReader(cfg.KafkaBrokers, cfg.ChangeFeedTopic, cfg.ChangeFeedGroup)
		defer reader.Close()
		handler := changefeed.NewPatchHandler(st, cfg.DeviceID, cfg.Owner, logger.Named("changefeed"))
		processor := changefeed.NewProcessor(reader, handler, changefeed.WithLogger(logger))
		g.Go(func() error {
			if err := processor.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	var waker api.Waker
	if reconciler != nil {
		waker = reconciler
	}
	handlerOpts := []api.Option{api.WithLogger(logger.Named("api")), api.WithSync(queue, toggle, waker)}
	if cfg.Mode == config.ModeCloud {
		handlerOpts = append(handlerOpts, api.WithDocuments(func(owner string) api.DocumentStore {
			return repo.ForOwner(owner)
		}))
	}
	handler := api.NewHandler(st, selectors, handlerOpts...)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	serverCfg := httptransport.DefaultServerConfig(cfg.HTTPAddress)
	authMiddleware := auth.NewMiddleware(authCfg, auth.WithMiddlewareLogger(logger.Named("auth")))
	server := httptransport.NewServer(serverCfg,
		authMiddleware.Wrap(httptransport.RequestLogger(logger.Named("http"))(httptransport.CORS(cfg.CORSOrigin)(mux))))

	g.Go(func() error {
		return st.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("fitstate listening",
			zap.String("address", cfg.HTTPAddress), zap.String("mode", cfg.Mode),
			zap.String("device_id", cfg.DeviceID), zap.String("remote", cfg.Remote))
		return httptransport.Serve(gctx, server, serverCfg.ShutdownTimeout)
	})

	err = g.Wait()
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if closeErr := st.Close(closeCtx); closeErr != nil {
		logger.Error("final snapshot", zap.Error(closeErr))
	}
	return err
}

// remoteToken returns the configured token, or signs short-lived ones with the shared secret.
func remoteToken(cfg config.Config, authCfg auth.Config) httpremote.TokenSource {
	if cfg.RemoteToken != "" {
		return httpremote.StaticToken(cfg.RemoteToken)
	}
	claims := auth.Claims{
		Subject:  cfg.Owner,
		Owner:    cfg.Owner,
		DeviceID: cfg.DeviceID,
		Scopes:   auth.NewScopes(auth.ScopeSyncWrite),
	}
	return func() (string, error) {
		return auth.Sign(authCfg, claims, 5*time.Minute)
	}
}
