// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-notifier/internal/api"
	"github.com/JakeFAU/review-notifier/internal/browser"
	"github.com/JakeFAU/review-notifier/internal/clock/system"
	"github.com/JakeFAU/review-notifier/internal/config"
	"github.com/JakeFAU/review-notifier/internal/discord"
	"github.com/JakeFAU/review-notifier/internal/extract"
	"github.com/JakeFAU/review-notifier/internal/hash/sha256"
	"github.com/JakeFAU/review-notifier/internal/id/uuid"
	"github.com/JakeFAU/review-notifier/internal/lock"
	"github.com/JakeFAU/review-notifier/internal/logging"
	"github.com/JakeFAU/review-notifier/internal/metrics"
	"github.com/JakeFAU/review-notifier/internal/notify"
	memorypublisher "github.com/JakeFAU/review-notifier/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/review-notifier/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/review-notifier/internal/storage/gcs"
	localstorage "github.com/JakeFAU/review-notifier/internal/storage/local"
	memorystorage "github.com/JakeFAU/review-notifier/internal/storage/memory"
	pgstore "github.com/JakeFAU/review-notifier/internal/storage/postgres"
	"github.com/JakeFAU/review-notifier/internal/sweep"
	"github.com/JakeFAU/review-notifier/internal/syncer"
	"github.com/JakeFAU/review-notifier/internal/telemetry"
	"github.com/JakeFAU/review-notifier/internal/tracker"
)

// ErrNotificationsDisabled is returned by commands that deliver messages when
// no messaging token is configured.
var ErrNotificationsDisabled = errors.New("notify.discord_token is required for this command")

// App contains the application's dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	Repo       tracker.Repository
	Syncer     *syncer.Service
	Dispatcher *notify.Dispatcher
	Runner     *sweep.Runner

	apiServer    *api.Server
	tracer       *sdktrace.TracerProvider
	pgRepo       *pgstore.Repository
	redisClient  *redis.Client
	pubsubClient *pubsub.Client
	pubsubTopic  *gcppublisher.Publisher
	storage      *storage.Client
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// RequireNotifications reports whether message delivery is wired.
func (a *App) RequireNotifications() error {
	if a.Dispatcher == nil || a.Runner == nil {
		return ErrNotificationsDisabled
	}
	return nil
}

// Migrate applies the schema to the configured database.
func (a *App) Migrate(ctx context.Context) error {
	if a.pgRepo == nil {
		return errors.New("database.dsn is required to migrate")
	}
	if err := a.pgRepo.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Handler exposes the admin API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Serve runs the admin API, and the sweep scheduler when deliveries are
// configured, until ctx is canceled or the process receives SIGINT/SIGTERM.
func (a *App) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.serve(ctx, ln)
}

func (a *App) serve(ctx context.Context, ln net.Listener) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var scheduler *sweep.Scheduler
	if a.Runner != nil {
		var err error
		scheduler, err = sweep.NewScheduler(a.Runner, a.cfg.Sweep.Schedule, a.cfg.Sweep.RunOnStartup, a.logger.Named("scheduler"))
		if err != nil {
			_ = ln.Close()
			return err
		}
		if err := scheduler.Start(ctx); err != nil {
			_ = ln.Close()
			return fmt.Errorf("start scheduler: %w", err)
		}
	} else {
		a.logger.Warn("sweeps disabled, serving queries only")
	}

	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if scheduler != nil {
		scheduler.Stop()
	}
	return nil
}

// Close waits for pending deliveries and releases every client.
func (a *App) Close() {
	if a.apiServer != nil {
		a.apiServer.Close()
	}
	if a.Dispatcher != nil {
		a.Dispatcher.Wait()
	}
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

func (a *App) closeInfrastructure() {
	if a.pubsubTopic != nil {
		a.pubsubTopic.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.pgRepo != nil {
		a.pgRepo.Close()
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer provider shutdown failed", zap.Error(err))
		}
	}
}

// Build creates the application's dependencies. On error everything built so
// far is released.
func Build(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeInfrastructure()
		}
	}()

	app.logger.Info("building application dependencies")
	app.tracer, err = telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	}, logger.Named("trace"))
	if err != nil {
		return nil, fmt.Errorf("tracing init failed: %w", err)
	}
	if err = setupRepository(ctx, app); err != nil {
		return nil, err
	}

	snapshots, err := setupSnapshots(ctx, app)
	if err != nil {
		return nil, err
	}
	extractor, err := setupExtractor(app, snapshots)
	if err != nil {
		return nil, err
	}

	clock := system.New()
	app.Syncer = syncer.New(app.Repo, extractor, extractor, clock,
		syncer.Config{ReviewAgeLimit: cfg.ReviewAgeLimit()}, logger.Named("syncer"))

	if err = setupNotifications(ctx, app, clock); err != nil {
		return nil, err
	}

	var sweeper api.Sweeper
	if app.Runner != nil {
		sweeper = app.Runner
	}
	app.apiServer = api.NewServer(app.Repo, app.Syncer, sweeper, *cfg, logger.Named("api"))
	return app, nil
}

func setupRepository(ctx context.Context, app *App) error {
	if app.cfg.Database.DSN == "" {
		app.logger.Warn("no DSN specified for database, using in-memory repository")
		app.Repo = memorystorage.NewRepository()
		return nil
	}
	repo, err := pgstore.New(ctx, pgstore.Config{
		DSN:             app.cfg.Database.DSN,
		MaxConns:        app.cfg.Database.MaxConns,
		MinConns:        app.cfg.Database.MinConns,
		MaxConnLifetime: app.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("postgres repository init failed: %w", err)
	}
	app.pgRepo = repo
	app.Repo = repo
	if app.cfg.Database.Migrate {
		if err := repo.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
		app.logger.Info("database schema migrated")
	}
	return nil
}

func setupSnapshots(ctx context.Context, app *App) (tracker.BlobStore, error) {
	cfg := app.cfg.Snapshots
	switch cfg.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("using GCS snapshot backend", zap.String("bucket", cfg.Bucket))
		return store, nil
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.Local.BaseDir, Prefix: cfg.Prefix})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("using local snapshot backend", zap.String("path", cfg.Local.BaseDir))
		return store, nil
	case "memory":
		app.logger.Info("using in-memory snapshot backend")
		return memorystorage.NewBlobStore(cfg.Prefix), nil
	default:
		app.logger.Info("failure snapshots disabled")
		return nil, nil
	}
}

func setupExtractor(app *App, snapshots tracker.BlobStore) (*extract.Extractor, error) {
	bcfg := app.cfg.Browser
	manager, err := browser.NewManager(browser.Config{
		ExecPath:     bcfg.ExecPath,
		Headless:     bcfg.Headless,
		NoSandbox:    bcfg.NoSandbox,
		UserAgent:    bcfg.UserAgent,
		Lang:         bcfg.Lang,
		OpTimeout:    bcfg.StepTimeout(),
		PollInterval: bcfg.PollInterval(),
		MaxBrowsers:  bcfg.MaxBrowsers,
	}, app.logger.Named("browser"))
	if err != nil {
		return nil, fmt.Errorf("browser manager init failed: %w", err)
	}
	var opts []extract.Option
	if snapshots != nil {
		opts = append(opts, extract.WithSnapshots(snapshots, uuid.New()))
	}
	return extract.New(manager, extract.Config{
		StepTimeout:     bcfg.StepTimeout(),
		ProfileTimeout:  bcfg.ProfileTimeout(),
		PollInterval:    bcfg.PollInterval(),
		TransitionPause: bcfg.TransitionPause(),
	}, app.logger.Named("extract"), opts...), nil
}

func setupNotifications(ctx context.Context, app *App, clock tracker.Clock) error {
	ncfg := app.cfg.Notify
	if ncfg.DiscordToken == "" {
		app.logger.Warn("no messaging token configured, deliveries and sweeps are disabled")
		return nil
	}
	client, err := discord.New(discord.Config{
		Token:   ncfg.DiscordToken,
		BaseURL: ncfg.APIBaseURL,
		Timeout: ncfg.RequestTimeout,
		Retries: ncfg.Retries,
	}, app.logger.Named("discord"))
	if err != nil {
		return fmt.Errorf("discord client init failed: %w", err)
	}
	app.Dispatcher = notify.New(app.Repo, client, notify.Config{
		StarText:        ncfg.StarText,
		EndpointName:    ncfg.EndpointName,
		AgeLimit:        app.cfg.ReviewAgeLimit(),
		DeliveryTimeout: ncfg.DeliveryTimeout,
	}, app.logger.Named("notify"))

	locker := setupLocker(app)
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return err
	}
	app.Runner, err = sweep.NewRunner(sweep.Deps{
		Repo:        app.Repo,
		Syncer:      app.Syncer,
		Notifier:    app.Dispatcher,
		Publisher:   publisher,
		Fingerprint: sha256.New(),
		Locker:      locker,
		IDs:         uuid.New(),
		Clock:       clock,
	}, sweep.Config{
		LockKey:      app.cfg.Sweep.Lock.Key,
		LockTTL:      app.cfg.Sweep.Lock.TTL,
		UserInterval: app.cfg.Sweep.UserInterval,
		Topic:        app.cfg.Events.TopicName,
	}, app.logger.Named("sweep"))
	if err != nil {
		return fmt.Errorf("sweep runner init failed: %w", err)
	}
	return nil
}

func setupLocker(app *App) tracker.Locker {
	lcfg := app.cfg.Sweep.Lock
	if lcfg.RedisAddr == "" {
		app.logger.Info("using in-process sweep lock")
		return lock.NewLocal()
	}
	app.redisClient = redis.NewClient(&redis.Options{
		Addr:     lcfg.RedisAddr,
		Password: lcfg.RedisPassword,
		DB:       lcfg.RedisDB,
	})
	app.logger.Info("using redis sweep lock", zap.String("addr", lcfg.RedisAddr))
	return lock.NewRedis(app.redisClient)
}

func setupPublisher(ctx context.Context, app *App) (tracker.Publisher, error) {
	ecfg := app.cfg.Events
	if ecfg.TopicName == "" || ecfg.ProjectID == "" {
		app.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, ecfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.pubsubTopic = gcppublisher.New(client.Topic(ecfg.TopicName))
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", ecfg.ProjectID),
		zap.String("topic", ecfg.TopicName))
	return app.pubsubTopic, nil
}
