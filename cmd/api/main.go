package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/labcase-api/internal/catalogseed"
	"github.com/jwalitptl/labcase-api/internal/config"
	caseHandler "github.com/jwalitptl/labcase-api/internal/handler/casework"
	catalogHandler "github.com/jwalitptl/labcase-api/internal/handler/catalog"
	"github.com/jwalitptl/labcase-api/internal/handler/health"
	promHandler "github.com/jwalitptl/labcase-api/internal/handler/prometheus"
	"github.com/jwalitptl/labcase-api/internal/middleware"
	"github.com/jwalitptl/labcase-api/internal/repository/postgres"
	"github.com/jwalitptl/labcase-api/internal/router"
	"github.com/jwalitptl/labcase-api/internal/service/casework"
	"github.com/jwalitptl/labcase-api/internal/service/catalog"
	"github.com/jwalitptl/labcase-api/internal/service/rbac"
	"github.com/jwalitptl/labcase-api/pkg/auth"
	"github.com/jwalitptl/labcase-api/pkg/logger"
	"github.com/jwalitptl/labcase-api/pkg/metrics"
)

const shutdownTimeout = 15 * time.Second

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "labcase",
		Short:         "Lab case stage-progression API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yml")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(devTokenCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Pretty)
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(cfg.Metrics.Namespace, reg)

	repos := postgres.NewRepositories(db)
	rbacSvc := rbac.NewService(repos.RBAC, cfg.Cache.RolesTTL)
	catalogSvc := catalog.NewService(repos.Catalog, repos.Cases, rbacSvc, m, cfg.Cache.CatalogTTL)
	caseSvc := casework.NewService(repos.Cases, catalogSvc, m)

	tokens := auth.NewTokenValidator(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Audience)
	cors := middleware.DefaultCORSConfig()
	cors.AllowOrigins = cfg.Server.AllowedOrigins

	r, err := router.NewRouter(
		middleware.NewAuthMiddleware(tokens, rbacSvc),
		caseHandler.NewHandler(caseSvc),
		catalogHandler.NewHandler(catalogSvc),
		health.NewHandler(db),
		promHandler.New(reg, m),
		router.RouterConfig{
			RateLimit:  rate.Limit(cfg.RateLimit.RPS),
			RateBurst:  cfg.RateLimit.Burst,
			Timeout:    cfg.Server.Timeout,
			CORSConfig: cors,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Int("port", cfg.Server.Port).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("server exited")
	return nil
}

func openDB(cfg *config.Config) (*sqlx.DB, error) {
	return postgres.NewDB(cfg.Database)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := postgres.Migrate(cmd.Context(), db)
			if err != nil {
				return err
			}
			log.Info().Int("applied", applied).Msg("migrations complete")
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load roles, case types and role assignments from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			seed, err := catalogseed.LoadFile(file)
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			repos := postgres.NewRepositories(db)
			m := metrics.NewMetrics(cfg.Metrics.Namespace, prometheus.NewRegistry())
			rbacSvc := rbac.NewService(repos.RBAC, cfg.Cache.RolesTTL)
			catalogSvc := catalog.NewService(repos.Catalog, repos.Cases, rbacSvc, m, cfg.Cache.CatalogTTL)

			res, err := catalogseed.Apply(cmd.Context(), seed, rbacSvc, catalogSvc)
			if err != nil {
				return err
			}
			log.Info().
				Int("roles", res.Roles).
				Int("case_types", res.CaseTypes).
				Int("skipped", res.Skipped).
				Int("assignments", res.Assignments).
				Msg("seed complete")
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "config/catalog.yml", "seed file")
	return cmd
}

// devTokenCmd mints a bearer token signed with the configured secret, for
// local use against a running server.
func devTokenCmd() *cobra.Command {
	var (
		userID string
		email  string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "dev-token",
		Short: "Print a signed bearer token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.JWT.Secret == "" {
				return errors.New("jwt.secret is not configured")
			}
			id, err := uuid.Parse(userID)
			if err != nil {
				return fmt.Errorf("invalid --user: %w", err)
			}
			token, err := auth.NewTokenValidator(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Audience).Sign(id, email, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id placed in the subject claim")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
