package main

import (
	"context"
	crypto_rand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/telehealth/rxdesk/internal/config"
	"github.com/telehealth/rxdesk/internal/domain/earnings"
	"github.com/telehealth/rxdesk/internal/domain/medication"
	"github.com/telehealth/rxdesk/internal/domain/patient"
	"github.com/telehealth/rxdesk/internal/domain/rxqueue"
	"github.com/telehealth/rxdesk/internal/domain/soapnote"
	"github.com/telehealth/rxdesk/internal/platform/auth"
	"github.com/telehealth/rxdesk/internal/platform/db"
	"github.com/telehealth/rxdesk/internal/platform/middleware"
	"github.com/telehealth/rxdesk/internal/platform/pharmacy"
	"github.com/telehealth/rxdesk/internal/platform/telemetry"
	"github.com/telehealth/rxdesk/internal/platform/webhook"
	"github.com/telehealth/rxdesk/internal/platform/websocket"
	"github.com/telehealth/rxdesk/migrations"
)

const version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rxdesk-server",
		Short: "Telehealth prescription queue API server",
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(tenantCmd())
	root.AddCommand(addressCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// migrationFS returns the embedded migrations unless dir points elsewhere.
func migrationFS(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run tenant schema migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			schema := db.SchemaName(tenant)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Running migrations on schema: %s\n", schema)
			count, err := db.NewMigrator(pool, migrationFS(dir)).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(out, "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("tenant", "default", "Tenant whose schema is migrated")
	upCmd.Flags().String("dir", "", "Migrations directory (defaults to the embedded set)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			schema := db.SchemaName(tenant)
			statuses, err := db.NewMigrator(pool, migrationFS(dir)).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd.OutOrStdout(), schema, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("tenant", "default", "Tenant whose schema is inspected")
	statusCmd.Flags().String("dir", "", "Migrations directory (defaults to the embedded set)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.Modified {
				status = "modified"
			}
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and apply migrations to it",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			ctx := context.Background()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Creating tenant schema: %s\n", db.SchemaName(name))
			migrator := db.NewMigrator(pool, migrationFS(cfg.MigrationsDir))
			if err := db.CreateTenantSchema(ctx, pool, name, migrator); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Tenant created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

// addressCmd runs the reconciler over one address, read as JSON from stdin
// or assembled from flags, and prints the result.
func addressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "address",
		Short: "Address utilities",
	}

	var in patient.Address
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Reconcile an address and print the repaired fields",
		RunE: func(cmd *cobra.Command, args []string) error {
			if in == (patient.Address{}) {
				if err := json.NewDecoder(cmd.InOrStdin()).Decode(&in); err != nil {
					return fmt.Errorf("read address from stdin: %w", err)
				}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(patient.Reconcile(in))
		},
	}
	checkCmd.Flags().StringVar(&in.Address1, "address1", "", "Street address")
	checkCmd.Flags().StringVar(&in.Address2, "address2", "", "Unit or suite")
	checkCmd.Flags().StringVar(&in.City, "city", "", "City")
	checkCmd.Flags().StringVar(&in.State, "state", "", "State")
	checkCmd.Flags().StringVar(&in.Zip, "zip", "", "Zip code")

	cmd.AddCommand(checkCmd)
	return cmd
}

// resolveSigningKey decodes the hex AUTH_SIGNING_KEY. In development an
// unset key is replaced by a random one so bearer tokens never verify
// against a guessable secret; the second return value reports that.
func resolveSigningKey(envValue string, dev bool) ([]byte, bool, error) {
	if envValue != "" {
		decoded, err := hex.DecodeString(envValue)
		if err != nil {
			return nil, false, fmt.Errorf("invalid AUTH_SIGNING_KEY hex value: %w", err)
		}
		return decoded, false, nil
	}
	if !dev {
		return nil, false, nil
	}
	key := make([]byte, 32)
	if _, err := crypto_rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("failed to generate random signing key: %w", err)
	}
	return key, true, nil
}

func newPharmacyRouter(cfg *config.Config, metrics *telemetry.Metrics, logger zerolog.Logger) pharmacy.Router {
	if !cfg.PharmacyConfigured() {
		logger.Warn().Msg("PHARMACY_BASE_URL not set, prescriptions are routed locally")
		return pharmacy.LocalRouter{Logger: logger}
	}
	return pharmacy.NewClient(pharmacy.Config{
		BaseURL:      cfg.PharmacyBaseURL,
		ClientID:     cfg.PharmacyClientID,
		ClientSecret: cfg.PharmacyClientSecret,
		TokenURL:     cfg.PharmacyTokenURL,
		MaxAttempts:  cfg.PharmacyMaxAttempts,
	}, metrics, logger)
}

func newGenerator(cfg *config.Config) soapnote.Generator {
	if cfg.SoapGeneratorURL == "" {
		return soapnote.TemplateGenerator{}
	}
	return soapnote.NewHTTPGenerator(cfg.SoapGeneratorURL)
}

func newDispatcher(cfg *config.Config, metrics *telemetry.Metrics, logger zerolog.Logger) (*webhook.Dispatcher, error) {
	endpoints, err := webhook.ParseEndpoints(cfg.WebhookURLs, cfg.WebhookSecret)
	if err != nil {
		return nil, err
	}
	return webhook.NewDispatcher(endpoints, metrics, logger), nil
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	shutdownTracing, err := telemetry.InitTracing(ctx, telemetry.TracingConfig{
		Enabled:        cfg.OTelEnabled,
		ServiceName:    "rxdesk",
		ServiceVersion: version,
		Environment:    cfg.Env,
		Writer:         os.Stdout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init tracing")
	}
	defer shutdownTracing(context.Background())

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	signingKey, random, err := resolveSigningKey(cfg.AuthSigningKey, cfg.IsDev())
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid signing key")
	}
	if random {
		logger.Warn().Msg("AUTH_SIGNING_KEY not set, using a random development key")
	}

	metrics := telemetry.NewMetrics()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadHeaderTimeout = 10 * time.Second
	e.Server.ReadTimeout = 30 * time.Second

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.BodyLimit("1M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))
	e.Use(middleware.Tracing("rxdesk"))
	e.Use(middleware.Metrics(metrics))

	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: signingKey,
		Skipper:    auth.AuthSkipper,
	}
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(pool, func() *db.PoolStats { return db.StatsOf(pool) }))
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1 := e.Group("/api/v1",
		middleware.RateLimit(rateLimitCfg),
		db.TenantMiddleware(pool, cfg.DefaultTenant),
		middleware.Audit(logger),
	)

	dispatcher, err := newDispatcher(cfg, metrics, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid webhook configuration")
	}
	liveFeed := websocket.NewHub(logger)

	patientRepo := patient.NewRepoPG(pool)
	patientSvc := patient.NewService(patientRepo, logger)
	patient.NewHandler(patientSvc).RegisterRoutes(apiV1)

	medicationSvc := medication.NewService(medication.NewCatalogRepoPG(pool))
	medication.NewHandler(medicationSvc).RegisterRoutes(apiV1)

	noteSvc := soapnote.NewService(soapnote.NewRepoPG(pool), newGenerator(cfg), logger)

	queueSvc := rxqueue.NewService(rxqueue.NewRepoPG(pool), rxqueue.Deps{
		Patients:  patientRepo,
		Notes:     noteSvc,
		Catalog:   medicationSvc,
		Pharmacy:  newPharmacyRouter(cfg, metrics, logger),
		Publisher: webhook.Multi{dispatcher, liveFeed},
		Tx:        db.NewTxRunner(),
		Metrics:   metrics,
		Logger:    logger,
	})
	rxqueue.NewHandler(queueSvc).RegisterRoutes(apiV1)
	websocket.NewHandler(liveFeed).RegisterRoutes(apiV1)
	soapnote.NewHandler(noteSvc, queueSvc).RegisterRoutes(apiV1)

	earningsSvc := earnings.NewService(earnings.NewRepoPG(pool), cfg.EarningsPerSubmissionCents)
	earnings.NewHandler(earningsSvc).RegisterRoutes(apiV1)

	webhook.NewHandler(dispatcher).RegisterRoutes(apiV1)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
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
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
