package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/jwtauth"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tendant/knowledge-content/pkg/kbcontent"
	"github.com/tendant/knowledge-content/pkg/kbcontent/api"
	"github.com/tendant/knowledge-content/pkg/kbcontent/config"
	repopg "github.com/tendant/knowledge-content/pkg/kbcontent/repo/postgres"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var (
	envFile     string
	databaseURL string
	storageURL  string
)

var rootCmd = &cobra.Command{
	Use:          "kbserver",
	Short:        "Knowledge-base content server",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		err := godotenv.Load(envFile)
		if err == nil {
			return nil
		}
		// A missing default .env is fine; an explicit --env-file must exist.
		if errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("env-file") {
			return nil
		}
		return fmt.Errorf("loading %s: %w", envFile, err)
	},
}

// loadConfig reads the environment, applies flag overrides and installs the
// configured logger.
func loadConfig(cmd *cobra.Command) (*config.ServerConfig, error) {
	opts := []config.Option{config.WithEnv()}
	if cmd.Flags().Changed("database-url") {
		opts = append(opts, config.WithDatabaseURL(databaseURL))
	}
	if cmd.Flags().Changed("storage-url") {
		opts = append(opts, config.WithStorageURL(storageURL))
	}

	cfg, err := config.Load(opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.SetupLogging(os.Stderr)
	return cfg, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := cfg.ValidateServe(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		comps, err := cfg.Build(ctx)
		if err != nil {
			return err
		}
		defer comps.Close()

		router := api.NewRouter(api.RouterConfig{
			Service:        comps.Service,
			TokenAuth:      api.NewTokenAuth(cfg.JWTSecret),
			MaxUploadBytes: cfg.MaxUploadBytes,
			Pinger:         comps.Repository,
			Signer:         comps.Signer,
			Objects:        comps.Objects,
			RequestTimeout: cfg.RequestTimeout,
			Logger:         slog.Default(),
		})

		server := &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			slog.Info("Knowledge content server starting",
				"port", cfg.Port,
				"database", cfg.DatabaseType(),
				"storage", comps.BlobStore.Name())
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		slog.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		slog.Info("Server exiting")
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.DatabaseType() != config.DatabasePostgres {
			return errors.New("migrate requires a postgres DATABASE_URL")
		}
		return repopg.Migrate(cfg.DatabaseURL)
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Mark Completed content whose stored file is missing as Failed",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		batch, _ := cmd.Flags().GetInt("batch-size")

		comps, err := cfg.Build(cmd.Context())
		if err != nil {
			return err
		}
		defer comps.Close()

		report, err := comps.Service.Reconcile(cmd.Context(), batch)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "checked %d, marked failed %d\n", report.Checked, report.MarkedFailed)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token signed with JWT_SECRET (development)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := cfg.ValidateServe(); err != nil {
			return err
		}
		user, _ := cmd.Flags().GetString("user")
		role, _ := cmd.Flags().GetString("role")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		claims := map[string]interface{}{
			api.ClaimUserID: user,
			api.ClaimRole:   role,
		}
		jwtauth.SetIssuedNow(claims)
		jwtauth.SetExpiryIn(claims, ttl)

		_, token, err := api.NewTokenAuth(cfg.JWTSecret).Encode(claims)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "List supported environment variables",
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := config.Describe()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), text)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "overrides DATABASE_URL")
	rootCmd.PersistentFlags().StringVar(&storageURL, "storage-url", "", "overrides STORAGE_URL")

	reconcileCmd.Flags().Int("batch-size", kbcontent.DefaultReconcileBatchSize, "rows checked per page")

	tokenCmd.Flags().String("user", "dev-user", "user_id claim")
	tokenCmd.Flags().String("role", kbcontent.RoleEditor, "role claim")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(envCmd)
}
