package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/careforms/intake/internal/config"
	"github.com/careforms/intake/internal/domain/consent"
	"github.com/careforms/intake/internal/domain/forms"
	"github.com/careforms/intake/internal/platform/auth"
	"github.com/careforms/intake/internal/platform/db"
	"github.com/careforms/intake/internal/platform/middleware"
	"github.com/careforms/intake/internal/platform/notification"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "intake-server",
		Short: "Patient intake and consent lifecycle API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(jobsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	if os.Getenv("ENV") == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the intake API server",
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

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
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

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

// jobsCmd exposes the batch jobs as one-shot commands for cron or manual
// runs, independent of the HTTP scheduler endpoints.
func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Run consent lifecycle batch jobs",
	}

	var dryRun bool

	warnCmd := &cobra.Command{
		Use:   "expiry-warnings",
		Short: "Send expiry warning emails for consents nearing their deadline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(func(ctx context.Context, deps *jobDeps) (interface{}, error) {
				return deps.warnJob.Run(ctx, dryRun)
			})
		},
	}
	warnCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report candidates without sending or recording")
	cmd.AddCommand(warnCmd)

	renewCmd := &cobra.Command{
		Use:   "auto-renew",
		Short: "Renew consents that opted into automatic renewal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(func(ctx context.Context, deps *jobDeps) (interface{}, error) {
				return deps.autoJob.Run(ctx, dryRun)
			})
		},
	}
	renewCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report candidates without renewing")
	cmd.AddCommand(renewCmd)

	return cmd
}

type jobDeps struct {
	warnJob *consent.ExpiryWarningJob
	autoJob *consent.AutoRenewalJob
}

func runJob(run func(context.Context, *jobDeps) (interface{}, error)) error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		return &consent.ConfigurationError{Msg: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return &consent.ConfigurationError{Msg: err.Error()}
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	notifier := newNotifier(cfg, logger)
	jobCfg := consent.JobConfig{Workers: cfg.JobWorkers, Budget: cfg.JobTimeout()}
	deps := &jobDeps{
		warnJob: consent.NewExpiryWarningJob(consent.NewStorePG(pool), consent.NewLedgerPG(pool), notifier, logger, jobCfg),
		autoJob: consent.NewAutoRenewalJob(consent.NewStorePG(pool), consent.NewLedgerPG(pool), notifier, logger, jobCfg),
	}

	report, err := run(ctx, deps)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// newNotifier builds the outbound email manager. Without an SMTP relay the
// server still runs, recording deliveries against a mock sender; useful for
// local development, fatal in production (Validate rejects it there).
func newNotifier(cfg *config.Config, logger zerolog.Logger) *notification.Manager {
	var sender notification.EmailSender
	if cfg.SMTPHost != "" {
		port, err := strconv.Atoi(cfg.SMTPPort)
		if err != nil || port <= 0 {
			port = 587
		}
		sender = notification.NewSMTPSender(notification.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     port,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
			FromName: cfg.MailFromName,
		})
	} else {
		logger.Warn().Msg("SMTP_HOST not set; email delivery is mocked")
		sender = &notification.MockEmailSender{}
	}
	return notification.NewManager(sender, notification.NewTemplateEngine())
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	// Staff/provider API group behind JWT (or dev identity locally).
	api := e.Group("/api/v1")
	api.Use(middleware.RequestTimeout(30 * time.Second))
	api.Use(middleware.RateLimit(rateLimitCfg))
	if cfg.IsDev() {
		api.Use(auth.DevAuthMiddleware())
	} else {
		api.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.JWTSecret),
		}))
	}

	// Scheduler job group behind the shared-secret token. In development
	// without a token the endpoints are open so local cron testing works.
	// The request deadline sits above the job budget: the budget truncates
	// the run, and the scheduler still receives the partial report instead
	// of a 504.
	jobs := e.Group("")
	jobs.Use(middleware.RequestTimeout(cfg.JobTimeout() + 15*time.Second))
	if cfg.SchedulerToken != "" || !cfg.IsDev() {
		jobs.Use(auth.SchedulerAuth(cfg.SchedulerToken))
	}

	// Health
	e.GET("/health", db.HealthHandler(pool))

	// Notification engine
	notifier := newNotifier(cfg, logger)
	notifHandler := notification.NewHandler(notifier)
	notifHandler.RegisterRoutes(api.Group("", auth.RequireRole("staff")))

	// Forms: templates and submissions
	templateRepo := forms.NewTemplateRepoPG(pool)
	submissionRepo := forms.NewSubmissionRepoPG(pool)
	formsSvc := forms.NewService(templateRepo, submissionRepo)
	formsHandler := forms.NewHandler(formsSvc)
	formsHandler.RegisterRoutes(api)

	// Consent lifecycle engine
	store := consent.NewStorePG(pool)
	ledger := consent.NewLedgerPG(pool)
	consentSvc := consent.NewService(store, notifier, logger)
	jobCfg := consent.JobConfig{Workers: cfg.JobWorkers, Budget: cfg.JobTimeout()}
	warnJob := consent.NewExpiryWarningJob(store, ledger, notifier, logger, jobCfg)
	autoJob := consent.NewAutoRenewalJob(store, ledger, notifier, logger, jobCfg)
	consentHandler := consent.NewHandler(consentSvc, warnJob, autoJob)
	consentHandler.RegisterRoutes(api, jobs)

	// Start server with graceful shutdown.
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("port", cfg.Port).Msg("starting server")
		errCh <- e.Start(":" + cfg.Port)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
