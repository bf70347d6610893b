package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sgfc/sgfc/internal/config"
	"github.com/sgfc/sgfc/internal/domain/catalog"
	"github.com/sgfc/sgfc/internal/domain/waitlist"
	"github.com/sgfc/sgfc/internal/platform/auth"
	"github.com/sgfc/sgfc/internal/platform/db"
	"github.com/sgfc/sgfc/internal/platform/events"
	"github.com/sgfc/sgfc/internal/platform/logging"
	"github.com/sgfc/sgfc/internal/platform/metrics"
	"github.com/sgfc/sgfc/internal/platform/middleware"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "sgfc-server",
		Short:        "Surgical waiting list API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(queueCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the waiting list API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			ctx := cmd.Context()

			pool, closePool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer closePool()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			ctx := cmd.Context()

			pool, closePool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer closePool()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			writeMigrationStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func writeMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Print the ranked queue of a specialty",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := queueFilter(cmd)
			if err != nil {
				return err
			}
			asJSON, _ := cmd.Flags().GetBool("json")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			// Data issues go to stderr so --json output stays parseable.
			logger := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).Level(zerolog.WarnLevel).With().Timestamp().Logger()

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, poolConfig(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			svc, _ := buildServices(pool, events.NewLogPublisher(logger), logger, waitlist.WithLocation(loc))
			q, err := svc.Queue(ctx, f)
			if err != nil {
				return err
			}
			return writeQueue(cmd.OutOrStdout(), q, asJSON)
		},
	}
	cmd.Flags().Int64("specialty", 0, "Specialty code (required)")
	cmd.Flags().Int64("procedure", 0, "Procedure code")
	cmd.Flags().Bool("json", false, "Print the queue as JSON")
	return cmd
}

func queueFilter(cmd *cobra.Command) (waitlist.Filter, error) {
	var f waitlist.Filter
	specialty, _ := cmd.Flags().GetInt64("specialty")
	if specialty <= 0 {
		return f, fmt.Errorf("--specialty is required")
	}
	f.SpecialtyID = &specialty
	if cmd.Flags().Changed("procedure") {
		procedure, _ := cmd.Flags().GetInt64("procedure")
		if procedure <= 0 {
			return f, fmt.Errorf("--procedure must be positive")
		}
		f.ProcedureID = &procedure
	}
	return f, nil
}

func writeQueue(w io.Writer, q *waitlist.Queue, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(q)
	}

	fmt.Fprintf(w, "Queue as of %s\n", q.AsOf.Format("2006-01-02 15:04"))
	fmt.Fprintf(w, "%-5s %-8s %-30s %-10s %-4s %-9s %6s %10s\n",
		"POS", "ID", "PATIENT", "ENTRY", "PRI", "JUDICIAL", "DAYS", "SCORE")
	for _, r := range q.Entries {
		if r.Position == nil {
			continue
		}
		judicial := "no"
		if r.Entry.JudicialOrder {
			judicial = "yes"
		}
		fmt.Fprintf(w, "%-5d %-8d %-30s %-10s %-4s %-9s %6d %10.1f\n",
			*r.Position, r.Entry.ID, truncate(r.Entry.Display.PatientName, 30),
			r.Entry.EntryDate.Format("2006-01-02"), r.Entry.Priority, judicial,
			r.Score.DaysWaited, r.Score.PriorityScore)
	}
	if len(q.Issues) > 0 {
		fmt.Fprintf(w, "\n%d data issue(s):\n", len(q.Issues))
		for _, is := range q.Issues {
			fmt.Fprintf(w, "  entry %d: %s (%s)\n", is.EntryID, is.Message, is.Kind)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "~"
}

func poolConfig(cfg *config.Config) db.PoolConfig {
	return db.PoolConfig{
		URL:          cfg.DatabaseURL,
		MaxConns:     cfg.DBMaxConns,
		MinConns:     cfg.DBMinConns,
		QueryTimeout: cfg.DBQueryTimeout,
	}
}

func openPool(ctx context.Context) (db.Pool, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		return nil, nil, err
	}
	return pool, pool.Close, nil
}

// buildServices wires the repositories and services shared by the server and
// the queue command.
func buildServices(pool db.Pool, pub events.Publisher, logger zerolog.Logger, opts ...waitlist.Option) (*waitlist.Service, *catalog.Service) {
	txr := db.NewTransactor(pool)
	catalogSvc := catalog.NewService(catalog.NewRepo(pool))
	waitlistSvc := waitlist.NewService(
		waitlist.NewEntryRepo(pool, txr),
		waitlist.NewAuditRepo(pool),
		txr,
		newCatalogResolver(catalogSvc),
		pub,
		logger,
		opts...,
	)
	return waitlistSvc, catalogSvc
}

func newPublisher(cfg *config.Config, logger zerolog.Logger) events.Publisher {
	if len(cfg.KafkaBrokers) > 0 {
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaAuditTopic).Msg("publishing audit events to kafka")
		return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaAuditTopic, logger)
	}
	return events.NewLogPublisher(logger)
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Logger
	logger, closeLog := logging.New(logging.Config{
		Level:      cfg.LogLevel,
		Console:    cfg.IsDev(),
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	defer closeLog.Close()

	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	if cfg.IsDev() && cfg.AuthIssuer == "" && cfg.AuthSigningKey == "" {
		logger.Warn().Msg("development mode: requests are authenticated as a fixed dev user")
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Audit events
	pub := newPublisher(cfg, logger)
	defer func() {
		if err := pub.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close event publisher")
		}
	}()

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	opts := []waitlist.Option{waitlist.WithLocation(loc)}
	if cfg.MetricsEnabled {
		m := metrics.New()
		e.Use(m.Middleware())
		e.GET("/metrics", m.Handler())
		opts = append(opts, waitlist.WithObserver(m))
	}

	// Auth middleware
	if cfg.IsDev() && cfg.AuthIssuer == "" && cfg.AuthSigningKey == "" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	// Access audit middleware
	e.Use(middleware.AccessAudit(logger, accessRecorderFor(pub)))

	// API groups
	limit := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}
	apiV1 := e.Group("/api/v1", middleware.RateLimit(limit))
	public := e.Group("/public", middleware.RateLimit(limit))

	// Health
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool, db.PgxPoolStats(pool)))

	// Domains
	waitlistSvc, catalogSvc := buildServices(pool, pub, logger, opts...)
	catalog.NewHandler(catalogSvc).RegisterRoutes(apiV1)
	waitlist.NewHandler(waitlistSvc).RegisterRoutes(apiV1, public)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
