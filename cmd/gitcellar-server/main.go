package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odvcencio/gitcellar/internal/auth"
	"github.com/odvcencio/gitcellar/internal/bloomindex"
	"github.com/odvcencio/gitcellar/internal/bundle"
	"github.com/odvcencio/gitcellar/internal/catalog"
	"github.com/odvcencio/gitcellar/internal/clockutil"
	"github.com/odvcencio/gitcellar/internal/config"
	"github.com/odvcencio/gitcellar/internal/jobs"
	"github.com/odvcencio/gitcellar/internal/objstore"
	"github.com/odvcencio/gitcellar/internal/refstore"
	"github.com/odvcencio/gitcellar/internal/smarthttp"
	"github.com/odvcencio/gitcellar/internal/storage"
	"github.com/odvcencio/gitcellar/internal/tieredstore"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: gitcellar-server <command>\n\nCommands:\n  serve    Start the storage engine's Smart HTTP server\n  migrate  Run catalog migrations\n")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "migrate":
		cmdMigrate(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.ValidateServe(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := slog.Default()
	ctx := context.Background()

	shutdownTracing, err := initTracing(ctx)
	if err != nil {
		log.Fatalf("init tracing: %v", err)
	}
	defer shutdownTracing(ctx)

	cat, err := openCatalog(ctx, cfg)
	if err != nil {
		log.Fatalf("open catalog: %v", err)
	}
	defer cat.Close()
	if err := cat.Migrate(ctx); err != nil {
		log.Fatalf("migrate catalog: %v", err)
	}

	store, bloomIdx, compactor, queue, err := buildStore(cfg, cat)
	if err != nil {
		log.Fatalf("build object store: %v", err)
	}

	policy, err := cfg.Tiering.Policy()
	if err != nil {
		log.Fatalf("tiering policy: %v", err)
	}
	decayWindow := policy.HotToWarmAge
	if decayWindow <= 0 {
		decayWindow = time.Hour
	}
	tracker := tieredstore.NewAccessTracker(clockutil.Real{}, decayWindow)
	index := tieredstore.NewMigrationIndex()
	routed := tieredstore.New(store.Hot, store.Warm, store.Cold, tracker, index)
	bloomFronted := tieredstore.NewBloomStore(routed, bloomIdx)

	schedOpts, err := cfg.Migration.SchedulerOptions()
	if err != nil {
		log.Fatalf("migration scheduler options: %v", err)
	}
	schedOpts.Policy = policy
	schedOpts.Clock = clockutil.Real{}
	schedOpts.Logger = logger
	scheduler := tieredstore.NewScheduler(routed, tracker, index, schedOpts)
	scheduler.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := scheduler.Stop(stopCtx); err != nil {
			logger.Warn("migration scheduler stop", "error", err)
		}
	}()

	compactionCtx, stopCompaction := context.WithCancel(ctx)
	compactionDone := runCompactionLoop(compactionCtx, cfg, queue, compactor, logger)
	defer func() {
		stopCompaction()
		<-compactionDone
	}()

	refsDir := filepath.Join(cfg.Storage.Path, "refs")
	refs := refstore.New(refstore.NewFSBackend(refsDir))

	tokenDur, err := time.ParseDuration(cfg.Auth.TokenDuration)
	if err != nil {
		tokenDur = 24 * time.Hour
	}
	authSvc := auth.NewService(cfg.Auth.JWTSecret, tokenDur)

	handler := smarthttp.NewHandler(bloomFronted, refs,
		smarthttp.WithLogger(logger),
		smarthttp.WithMetricsRegisterer(prometheus.DefaultRegisterer),
		smarthttp.WithAuthorize(authorizeFunc(authSvc), authorizeFunc(authSvc)),
	)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt)

	go func() {
		logger.Info("gitcellar-server listening", "addr", cfg.Addr())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-done
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)
}

func cmdMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()
	cat, err := openCatalog(ctx, cfg)
	if err != nil {
		log.Fatalf("open catalog: %v", err)
	}
	defer cat.Close()

	if err := cat.Migrate(ctx); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Println("migrations complete")
}

func openCatalog(ctx context.Context, cfg *config.Config) (catalog.Catalog, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		return catalog.OpenSQLite(cfg.Database.DSN)
	case "postgres":
		return catalog.OpenPostgres(ctx, cfg.Database.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
}

// builtStore bundles the three raw tiers so cmdServe can hand them to
// tieredstore.New after building the tracker/index it shares with the
// migration scheduler.
type builtStore struct {
	Hot, Warm, Cold tieredstore.Tier
}

func buildStore(cfg *config.Config, cat catalog.Catalog) (*builtStore, *bloomindex.Index, *bundle.Compactor, *jobs.Queue, error) {
	hot := objstore.NewLoose()

	warmBlobs, err := storage.NewLocalAppendBackend(filepath.Join(cfg.Storage.Path, "warm"))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open warm blob backend: %w", err)
	}
	writer := bundle.NewWriter(cat, warmBlobs, bundle.WriterOptions{})
	reader := bundle.NewReader(cat, warmBlobs)
	warm := bundle.NewStore(cat, writer, reader)
	compactor := bundle.NewCompactor(cat, warmBlobs, writer)
	queue := jobs.NewQueue(cat, warmBlobs, jobs.QueueOptions{MinFragmentRatio: cfg.Compaction.MinFragmentRatio})

	coldBackend, err := buildColdBackend(cfg)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open cold blob backend: %w", err)
	}
	cold := objstore.NewBacked(coldBackend, "objects")

	bloomIdx := bloomindex.New(cfg.Tiering.BloomOptions())
	return &builtStore{Hot: hot, Warm: warm, Cold: cold}, bloomIdx, compactor, queue, nil
}

// runCompactionLoop starts a ticker-driven goroutine that periodically
// scans queue for sealed bundles worth rewriting and drives compactor
// over them, mirroring the tiered-store migration scheduler's own
// start/stop shape. The returned channel closes once the loop has
// observed ctx's cancellation and exited.
func runCompactionLoop(ctx context.Context, cfg *config.Config, queue *jobs.Queue, compactor *bundle.Compactor, logger *slog.Logger) <-chan struct{} {
	interval, err := cfg.Compaction.IntervalOrDefault()
	if err != nil {
		log.Fatalf("compaction interval: %v", err)
	}
	pool := jobs.NewWorkerPool(compactor, jobs.WorkerPoolOptions{
		Concurrency: cfg.Compaction.Concurrency,
		Logger:      logger,
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				candidates, err := queue.Candidates(ctx)
				if err != nil {
					logger.Warn("compaction: list candidates", "error", err)
					continue
				}
				if len(candidates) == 0 {
					continue
				}
				if err := pool.Run(ctx, candidates); err != nil {
					logger.Warn("compaction: run", "error", err)
				}
			}
		}
	}()
	return done
}

func buildColdBackend(cfg *config.Config) (storage.Backend, error) {
	if cfg.Storage.ColdBucket == "" {
		return storage.NewLocalBackend(filepath.Join(cfg.Storage.Path, "cold"))
	}
	return storage.NewS3Backend(storage.S3Config{
		Endpoint:  cfg.Storage.S3Endpoint,
		Bucket:    cfg.Storage.ColdBucket,
		Region:    cfg.Storage.S3Region,
		AccessKey: cfg.Storage.S3AccessKey,
		SecretKey: cfg.Storage.S3SecretKey,
		UseSSL:    cfg.Storage.S3UseSSL,
	})
}

// authorizeFunc adapts auth.Service's bearer-token validation to
// smarthttp.AuthorizeFunc: both push and fetch require a valid token,
// the storage engine having no anonymous-read concept of its own.
func authorizeFunc(authSvc *auth.Service) smarthttp.AuthorizeFunc {
	return func(r *http.Request) (int, error) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			return http.StatusUnauthorized, errors.New("missing bearer token")
		}
		if _, err := authSvc.ValidateToken(token); err != nil {
			return http.StatusUnauthorized, fmt.Errorf("invalid token: %w", err)
		}
		return http.StatusOK, nil
	}
}
