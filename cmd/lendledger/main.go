package main

import (
	"LendLedger/internal/config"
	"LendLedger/internal/core"
	"LendLedger/internal/ingestion"
	"LendLedger/internal/observability"
	"LendLedger/internal/oracle"
	"LendLedger/internal/persistence"
	"LendLedger/internal/projection"
	"LendLedger/internal/query"
	"LendLedger/internal/server"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := observability.NewLogger("main")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	zerolog.SetGlobalLevel(observability.ParseLogLevel(cfg.LogLevel))
	logger.Info().Int("markets", len(cfg.Markets)).Str("oracle", cfg.OracleSource).Msg("LendLedger starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("LendLedger stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("LendLedger shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	logger.Info().Msg("postgres connected")

	if err := persistence.NewMigrator(db, cfg.MigrationsDir).Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()
	healthChecker.AddCheck("postgres", db.PingContext)

	// --- Core ---
	persistCoreChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionCoreChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)

	lendingCore := core.NewLendingCore(core.Config{
		RootAuthority:       cfg.RootAuthority,
		CapabilitySalt:      cfg.CapabilitySalt,
		IdempotencyCapacity: cfg.IdempotencyLRUCapacity,
	}, persistCoreChan, projectionCoreChan, persistence.NewPostgresIdempotencyChecker(db), metrics)
	lendingCore.SetLogger(observability.NewLogger("core"))

	// --- Recovery: snapshot, markets, replay ---
	snapMgr := persistence.NewSnapshotManager(db)
	if err := recoverCore(ctx, cfg, lendingCore, snapMgr, metrics, logger); err != nil {
		return err
	}

	// --- Oracle ---
	var (
		prices   oracle.PriceSource
		enricher *ingestion.Enricher
	)
	switch cfg.OracleSource {
	case "redis":
		src, err := oracle.NewRedisSource(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return fmt.Errorf("redis oracle: %w", err)
		}
		defer src.Close()
		healthChecker.AddCheck("redis", src.Ping)
		prices = src
		enricher = ingestion.NewEnricher(src)
	default:
		logger.Warn().Msg("static oracle: refresher disabled, NFT creators must be supplied with deposits")
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()
	healthChecker.AddCheck("nats", func(context.Context) error {
		if !nc.IsConnected() {
			return errors.New("nats disconnected")
		}
		return nil
	})

	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		return fmt.Errorf("ensure NATS streams: %w", err)
	}
	if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
		return fmt.Errorf("ensure outbound stream: %w", err)
	}

	rawEventChan := make(chan ingestion.RawEvent, cfg.SubmitChanSize)
	natsSubscriber := ingestion.NewNATSSubscriber(js, rawEventChan)
	if err := natsSubscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	defer natsSubscriber.Stop()

	// --- Workers ---
	persistWorkerChan := make(chan persistence.CoreOutput, cfg.PersistChanSize)
	projectionWorkerChan := make(chan projection.ProjectionOutput, cfg.ProjectionChanSize)
	publishChan := make(chan ingestion.PublishableEvent, cfg.PublishChanSize)

	persistWorker := persistence.NewPersistenceWorker(db, persistWorkerChan, cfg.PersistBatchSize, cfg.PersistFlushDelay, metrics)
	projWorker := projection.NewProjectionWorker(db, projectionWorkerChan, metrics)
	publisher := ingestion.NewOutboundPublisher(js, publishChan)

	requests := make(chan core.Request, cfg.SubmitChanSize)
	pipeline := ingestion.NewPipeline(rawEventChan, requests, enricher, metrics)
	submitter := ingestion.NewSubmitter(requests, enricher, metrics)

	// --- Servers ---
	queryService := query.NewQueryService(db, projWorker.History())
	grpcServer, err := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		Query:         queryService,
		Submitter:     submitter,
		Core:          lendingCore,
		HealthChecker: healthChecker,
		Metrics:       metrics,
		StartTime:     time.Now(),
		AdminToken:    cfg.AdminToken,
		RebuildProjections: func(ctx context.Context) error {
			return projection.RebuildBalances(ctx, db)
		},
		LatestLoggedSeq: snapMgr.GetLatestSequence,
		TakeSnapshot: func(ctx context.Context) (int64, error) {
			return takeSnapshot(ctx, lendingCore, snapMgr, metrics)
		},
	})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	probe, closeProbe, err := server.GRPCProbe(cfg.GRPCAddr)
	if err != nil {
		return err
	}
	defer closeProbe()
	healthChecker.AddCheck("grpc", probe)

	// Persistence and the bridge outlive ctx so everything the core applied
	// reaches the log before the final snapshot.
	workCtx, stopWork := context.WithCancel(context.Background())
	defer stopWork()

	persistDone := make(chan error, 1)
	go func() { persistDone <- persistWorker.Run(workCtx) }()
	go bridgeCoreOutputs(persistCoreChan, projectionCoreChan, persistWorkerChan, projectionWorkerChan, publishChan, metrics)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return lendingCore.Run(gctx, requests) })
	g.Go(func() error { return projWorker.Run(gctx) })
	g.Go(func() error { return publisher.Run(gctx) })
	g.Go(func() error { return pipeline.Run(gctx) })
	g.Go(func() error { return grpcServer.StartGRPC(gctx) })
	g.Go(func() error { return grpcServer.StartHTTPGateway(gctx) })
	g.Go(func() error { return serveMetrics(gctx, cfg.MetricsAddr, logger) })
	g.Go(func() error {
		runPeriodicSnapshots(gctx, lendingCore, snapMgr, cfg.SnapshotInterval, metrics, logger)
		return nil
	})
	g.Go(func() error {
		reportChannels(gctx, metrics, map[string]func() (int, int){
			"requests":   func() (int, int) { return len(requests), cap(requests) },
			"persist":    func() (int, int) { return len(persistWorkerChan), cap(persistWorkerChan) },
			"projection": func() (int, int) { return len(projectionWorkerChan), cap(projectionWorkerChan) },
			"publish":    func() (int, int) { return len(publishChan), cap(publishChan) },
		})
		return nil
	})
	if prices != nil && len(cfg.Markets) > 0 {
		refresher := ingestion.NewRefresher(cfg.Markets, prices, submitter, cfg.RootAuthority,
			cfg.RefreshInterval, cfg.Slot, metrics)
		g.Go(func() error { return refresher.Run(gctx) })
	}

	grpcServer.SetServing(true)
	healthChecker.SetReady(true)
	logger.Info().
		Int64("sequence", lendingCore.GetSequence()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("LendLedger ready")

	err = g.Wait()
	healthChecker.SetReady(false)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("component failed, shutting down")
	}

	// The core has stopped and sends nothing more. Closing its outputs lets
	// the bridge drain them and close the persist channel behind itself.
	close(persistCoreChan)
	close(projectionCoreChan)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	select {
	case perr := <-persistDone:
		if perr != nil {
			logger.Error().Err(perr).Msg("persistence worker")
		}
	case <-shutdownCtx.Done():
		logger.Error().Msg("persistence flush timed out")
	}
	stopWork()

	if seq, serr := takeSnapshot(shutdownCtx, lendingCore, snapMgr, metrics); serr != nil {
		logger.Error().Err(serr).Msg("final snapshot failed")
	} else {
		logger.Info().Int64("sequence", seq).Msg("final snapshot saved")
	}
	return err
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func reportChannels(ctx context.Context, metrics *observability.Metrics, chans map[string]func() (int, int)) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, sample := range chans {
				size, capacity := sample()
				metrics.SetChannelMetrics(name, size, capacity)
			}
		}
	}
}
