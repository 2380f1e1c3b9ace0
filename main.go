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

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"jms/internal/backup"
	"jms/internal/config"
	"jms/internal/database"
	"jms/internal/email"
	"jms/internal/handlers"
	"jms/internal/logger"
	"jms/internal/metrics"
)

var version = "1.0.0"

// app carries what every subcommand needs once configuration is loaded.
type app struct {
	cfg     *config.Config
	store   *database.Store
	backups *backup.Manager
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warn("Failed to close database", "error", err)
		}
	}
	_ = logger.Sync()
}

// setup loads configuration, installs the logger and opens the database.
func setup(ctx context.Context, configPath string) (*app, error) {
	if configPath != "" {
		if err := os.Setenv("JMS_CONFIG", configPath); err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logger.Init(cfg.Logger); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	store, err := database.Open(ctx, cfg.DatabasePath, database.Options{
		BusyTimeout:  cfg.BusyTimeout,
		BarcodeStart: cfg.BarcodeStart,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	policy, err := backup.ParsePolicy(cfg.ImportPolicy)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		store:   store,
		backups: backup.NewManager(store, cfg.BackupDir, policy),
	}, nil
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "jms",
		Short:         "Jewelry inventory manager",
		Long:          `jms keeps warehouse and shop stock, sales, audits and backups for a jewelry business.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML configuration file")

	// withApp wraps a command body with setup and teardown.
	withApp := func(run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer a.close()
			return run(cmd, a, args)
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number of jms",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "jms version %s (export format %s)\n", version, backup.SchemaVersion)
			},
		},
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API",
			RunE:  withApp(runServe),
		},
	)
	addDataCommands(root, withApp)
	return root
}

func runServe(cmd *cobra.Command, a *app, _ []string) error {
	if a.cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	mail := email.NewService(a.cfg)
	if mail.IsEnabled() {
		logger.Info("Email alerts enabled with Mailgun")
	} else {
		logger.Info("Email alerts disabled - Mailgun not configured")
	}

	r := gin.New()
	r.Use(gin.Recovery())
	handlers.New(a.cfg, a.store, a.backups, mail, metrics.New(a.cfg.Metrics)).SetupRoutes(r)

	srv := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "port", a.cfg.Port, "environment", a.cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-quit:
	}

	logger.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "error", err)
		return err
	}
	return a.store.Checkpoint(ctx)
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
