package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/beaconworks/beacon/internal/auth"
	"github.com/beaconworks/beacon/internal/config"
	"github.com/beaconworks/beacon/internal/database"
	"github.com/beaconworks/beacon/internal/events"
	"github.com/beaconworks/beacon/internal/logging"
	"github.com/beaconworks/beacon/internal/server"
	"github.com/beaconworks/beacon/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "beacon-api",
		Short: "Beacon notification push service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Service token signing secret (overrides env)")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Service token TTL in minutes")
	cmd.PersistentFlags().Int("max-connections-per-user", defaults.GetInt("events.max_connections_per_user"), "Streaming connection cap per user")
	cmd.PersistentFlags().Int("cleanup-interval-minutes", defaults.GetInt("events.cleanup_interval_minutes"), "Minutes between terminal event purges")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "events.max_connections_per_user", "max-connections-per-user")
	bindFlag(cmd, "events.cleanup_interval_minutes", "cleanup-interval-minutes")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	registry := events.NewRegistry()
	if err := events.RegisterBuiltins(registry); err != nil {
		return err
	}

	store, err := events.NewGormStore(events.GormStoreConfig{Database: db})
	if err != nil {
		return err
	}

	eventManager, err := events.NewManager(events.ManagerConfig{
		Store:                 store,
		Registry:              registry,
		Logger:                logger,
		Metrics:               events.NewOTelRecorder(),
		DispatchQueueSize:     appConfig.DispatchQueueSize,
		StreamQueueSize:       appConfig.StreamQueueSize,
		MaxConnectionsPerUser: appConfig.MaxConnectionsPerUser,
		CleanupInterval:       appConfig.CleanupInterval,
	})
	if err != nil {
		return err
	}
	// Shutdown is idempotent; this covers error returns between here and the
	// signal-driven shutdown path below.
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = eventManager.Shutdown(shutdownCtx)
	}()

	identityService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	tokenIssuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.AuthSigningSecret),
		Issuer:        "beacon-auth",
		Audience:      "beacon-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenValidator:    tokenIssuer,
		Identity:          identityService,
		Events:            eventManager,
		Logger:            logger,
		HeartbeatInterval: appConfig.HeartbeatInterval,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown incomplete", zap.Error(err))
		}
		return eventManager.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
