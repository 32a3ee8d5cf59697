package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/club-events/internal/config"
	"github.com/iliyamo/club-events/internal/database"
	"github.com/iliyamo/club-events/internal/email"
	"github.com/iliyamo/club-events/internal/handler"
	"github.com/iliyamo/club-events/internal/ledger"
	"github.com/iliyamo/club-events/internal/middleware"
	"github.com/iliyamo/club-events/internal/queue"
	"github.com/iliyamo/club-events/internal/repository"
	"github.com/iliyamo/club-events/internal/router"
	"github.com/iliyamo/club-events/internal/telemetry"
)

const tokenPurgeInterval = time.Hour

var (
	// Server flags (override config/env)
	serverPort   string
	withNotifier bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API and begin accepting requests.

The server will:
- Load configuration from environment variables (and --env-file if present)
- Connect to MySQL, and to Redis for rate limiting and caching when reachable
- Publish registration changes to RabbitMQ when RABBITMQ_ENABLED is true
- Handle graceful shutdown on SIGINT/SIGTERM

Examples:
  # Start with configuration from the environment
  server serve

  # Start on another port and also consume notifications in-process
  server serve --port 9090 --with-notifier`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serverPort, "port", "", "server port (default: $APP_PORT)")
	serveCmd.Flags().BoolVar(&withNotifier, "with-notifier", false, "also run the notification consumer")
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if serverPort != "" {
		cfg.Port = serverPort
	}

	logger := config.NewLogger(cfg.Logging)
	logger.Info().Str("env", cfg.Env).Str("version", Version).Msg("starting club events server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing, Version)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error().Err(err).Msg("tracing shutdown error")
		}
	}()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	rdb := config.NewRedisClient(config.LoadRedisConfig())
	if rdb == nil {
		logger.Warn().Msg("redis unreachable; caching disabled, rate limiting is per-process")
	} else {
		defer rdb.Close()
	}

	opts := []ledger.Option{ledger.WithLogger(logger)}
	if cfg.Broker.Enabled {
		pub := queue.NewPublisher(cfg.Broker, logger)
		defer pub.Close()
		opts = append(opts, ledger.WithPublisher(pub))
	}
	l := ledger.New(repository.NewLedgerStore(db), opts...)

	e := newEcho(cfg, db, rdb, l, logger)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           e,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		purgeTokens(gctx, repository.NewTokenRepo(db), tokenPurgeInterval, logger)
		return nil
	})
	if withNotifier {
		consumer, err := newConsumer(cfg, db, logger)
		if err != nil {
			return err
		}
		g.Go(func() error { return consumer.Run(gctx) })
	}
	return g.Wait()
}

// newEcho wires middleware, repositories and handlers onto a fresh echo
// instance.  rdb may be nil.
func newEcho(cfg config.Config, db *sql.DB, rdb *redis.Client, l *ledger.Ledger, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()

	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.Tracing())
	e.Use(middleware.Metrics())
	e.Use(middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, logger))

	users := repository.NewUserRepo(db)
	events := repository.NewEventRepo(db)
	clubs := repository.NewClubRepo(db)
	orgs := repository.NewOrgRepo(db)
	regs := repository.NewRegistrationRepo(db)
	notes := repository.NewNotificationRepo(db)

	router.Register(e, router.Handlers{
		Auth:          handler.NewAuthHandler(cfg, users, repository.NewTokenRepo(db)),
		Events:        handler.NewEventHandler(events, clubs, orgs, l),
		Registrations: handler.NewRegistrationHandler(l, events, regs),
		Clubs:         handler.NewClubHandler(clubs, orgs),
		Orgs:          handler.NewOrgHandler(orgs),
		Notifications: handler.NewNotificationHandler(notes),
		Payments:      handler.NewPaymentHandler(repository.NewPaymentRepo(db), events, regs, notes, cfg.PaymentWebhookSecret),
		Ready:         &handler.ReadyHandler{DB: db, Redis: rdb},
	}, cfg.JWTSecret, middleware.NewRedisCache(config.LoadCacheConfig(), rdb))
	return e
}

// tokenPurger is the subset of TokenRepo used by purgeTokens.
type tokenPurger interface {
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// purgeTokens deletes expired refresh tokens every interval until ctx ends.
func purgeTokens(ctx context.Context, tokens tokenPurger, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := tokens.PurgeExpired(ctx, time.Now().UTC())
			if err != nil {
				logger.Warn().Err(err).Msg("purge expired refresh tokens failed")
				continue
			}
			if n > 0 {
				logger.Info().Int64("purged", n).Msg("expired refresh tokens removed")
			}
		}
	}
}

// newConsumer builds the notification consumer shared by serve and notifier.
func newConsumer(cfg config.Config, db *sql.DB, logger zerolog.Logger) (*queue.Consumer, error) {
	mailer, err := email.NewService(cfg.Email, logger)
	if err != nil {
		return nil, fmt.Errorf("email: %w", err)
	}
	return queue.NewConsumer(cfg.Broker, repository.NewNotificationRepo(db), repository.NewUserRepo(db), mailer, logger), nil
}
