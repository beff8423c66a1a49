package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	rdb "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lockhaven/authcore/internal/config"
	"github.com/lockhaven/authcore/internal/email"
	"github.com/lockhaven/authcore/internal/httpx/handlers"
	"github.com/lockhaven/authcore/internal/metrics"
	"github.com/lockhaven/authcore/internal/observability/logger"
	"github.com/lockhaven/authcore/internal/rate"
	"github.com/lockhaven/authcore/internal/security/password"
	"github.com/lockhaven/authcore/internal/store/core"
	"github.com/lockhaven/authcore/internal/store/mem"
	"github.com/lockhaven/authcore/internal/store/pg"
	"github.com/lockhaven/authcore/internal/tenant"
	"github.com/lockhaven/authcore/migrations"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "authcore",
		Short:         "Multi-tenant identity and credential service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (fallback: $CONFIG_PATH)")

	loadConfig := func() (*config.Config, error) {
		// .env is optional; real deployments set the environment directly.
		_ = godotenv.Load()
		path := configPath
		if path == "" {
			path = os.Getenv("CONFIG_PATH")
		}
		return config.Load(path)
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the auth HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}

	var migrateDown bool
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations to the configured database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			return migrate(cmd.Context(), cfg, migrateDown)
		},
	}
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "roll the schema back instead of applying it")

	root.AddCommand(serveCmd, migrateCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger.Init(logger.Config{Env: cfg.App.Env, ServiceName: "authcore"})
	defer logger.Sync()
	log := logger.Named("main")

	var (
		store   core.Gateway
		pgStore *pg.Store
	)
	if cfg.Storage.DSN != "" {
		var err error
		pgStore, err = pg.New(ctx, cfg.Storage.DSN, pg.Tuning{
			MaxConns:        cfg.Storage.Postgres.MaxConns,
			MinConns:        cfg.Storage.Postgres.MinConns,
			ConnMaxLifetime: config.Duration(cfg.Storage.Postgres.ConnMaxLifetime),
		})
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pgStore.Close()
		store = pgStore
	} else {
		if !cfg.Dev() {
			return fmt.Errorf("storage.dsn is required outside dev")
		}
		log.Warn("no storage dsn configured, using the in-memory store")
		store = mem.New()
	}

	templates, err := email.LoadTemplates()
	if err != nil {
		return fmt.Errorf("email templates: %w", err)
	}

	var sender email.Sender
	if cfg.SMTP.Host != "" {
		sender = email.NewSMTPSender(cfg.SMTP)
	} else {
		if !cfg.Dev() {
			return fmt.Errorf("smtp.host is required outside dev")
		}
		log.Warn("no smtp host configured, mail stays in memory")
		sender = &email.MemorySender{}
	}

	var limiter rate.Limiter
	if cfg.Rate.Enabled {
		window := config.Duration(cfg.Rate.Email.Window)
		if cfg.Rate.Redis.Addr != "" {
			client := rdb.NewClient(&rdb.Options{Addr: cfg.Rate.Redis.Addr, DB: cfg.Rate.Redis.DB})
			defer client.Close()
			limiter = rate.NewRedisLimiter(client, cfg.Rate.Redis.Prefix, cfg.Rate.Email.Limit, window)
		} else {
			log.Warn("rate limiting enabled without redis, falling back to per-process counters")
			limiter = rate.NewLocalLimiter(cfg.Rate.Email.Limit, window)
		}
	}

	auth := handlers.NewAuth(handlers.Deps{
		Store:    store,
		Settings: tenant.NewRegistry(store, config.Duration(cfg.Settings.CacheTTL)),
		Hasher: password.NewHasher(password.Params{
			Memory:      uint32(cfg.Password.MemoryKiB),
			Time:        uint32(cfg.Password.Time),
			Parallelism: uint8(cfg.Password.Parallelism),
		}),
		Templates:     templates,
		Dispatcher:    email.NewDispatcher(sender),
		Limiter:       limiter,
		PublicBaseURL: cfg.Server.PublicBaseURL,
		Dev:           cfg.Dev(),
	})

	router := auth.Routes()

	metricsHandler, err := metrics.Register(prometheus.DefaultRegisterer, func() *pgxpool.Pool {
		if pgStore == nil {
			return nil
		}
		return pgStore.Pool()
	})
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	router.Handle("/metrics", metricsHandler)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if pgStore != nil {
			if err := pgStore.Ping(r.Context()); err != nil {
				http.Error(w, "database unreachable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening",
			logger.String("addr", cfg.Server.Addr),
			logger.String("public_base_url", cfg.Server.PublicBaseURL),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Duration(cfg.Server.ShutdownTimeout))
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func migrate(ctx context.Context, cfg *config.Config, down bool) error {
	logger.Init(logger.Config{Env: cfg.App.Env, ServiceName: "authcore"})
	defer logger.Sync()
	log := logger.Named("migrate")

	if cfg.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required for migrations")
	}
	pool, err := pgxpool.New(ctx, cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	var applied []string
	if down {
		applied, err = migrations.Down(ctx, pool)
	} else {
		applied, err = migrations.Up(ctx, pool)
	}
	for _, name := range applied {
		log.Info("applied", logger.String("migration", name))
	}
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info("done", logger.Int("count", len(applied)))
	return nil
}
