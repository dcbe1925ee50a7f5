package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/access"
	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/assets"
	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/config"
	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/database"
	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/events"
	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/experience"
	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/gifts"
	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/pin"
	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/ratelimit"
	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "keepsake-api",
		Short: "Keepsake gift record backend service",
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
	cmd.PersistentFlags().String("environment", defaults.GetString("app.environment"), "Deployment environment (development, staging, production)")
	cmd.PersistentFlags().String("viewer-domain", defaults.GetString("viewer.base_domain"), "Base domain of the production viewer subdomains")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Admin token TTL in minutes")
	cmd.PersistentFlags().Int("pin-max-attempts", defaults.GetInt("pin.max_attempts"), "PIN attempts per window")
	cmd.PersistentFlags().Int("pin-window-seconds", defaults.GetInt("pin.window_seconds"), "PIN attempt window in seconds")
	cmd.PersistentFlags().String("pin-endpoint", "", "Base URL of a remote PIN function service")
	cmd.PersistentFlags().String("signing-secret", "", "Admin token signing secret (overrides env)")
	cmd.PersistentFlags().String("admin-api-key", "", "Admin API key (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "app.environment", "environment")
	bindFlag(cmd, "viewer.base_domain", "viewer-domain")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "pin.max_attempts", "pin-max-attempts")
	bindFlag(cmd, "pin.window_seconds", "pin-window-seconds")
	bindFlag(cmd, "pin.endpoint", "pin-endpoint")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.admin_api_key", "admin-api-key")
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

	logger, err := logging.NewLoggerForEnvironment(appConfig.LogLevel, appConfig.Environment)
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

	var objects assets.ObjectStore = assets.DisabledStore{}
	if appConfig.Assets.Enabled() {
		s3Store, err := assets.NewS3Store(ctx, appConfig.Assets)
		if err != nil {
			return err
		}
		objects = s3Store
	} else {
		logger.Warn("asset bucket not configured, uploads disabled")
	}

	store, err := gifts.NewStore(gifts.StoreConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: gifts.NewUUIDProvider(),
		Tokens:     gifts.NewRandomTokenSource(),
		Retry:      gifts.RetryPolicy{Attempts: appConfig.ReadAttempts, Base: appConfig.ReadBackoff},
		Assets:     objects,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	registry := experience.NewRegistry(experience.Config{
		Environment: appConfig.Environment,
		BaseDomain:  appConfig.ViewerDomain,
	})

	pinService, err := pin.NewService(pin.ServiceConfig{
		Records: store,
		Hasher:  pin.NewHasher(),
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	var verifier access.PinVerifier = pinService
	if appConfig.PinEndpoint != "" {
		client, err := pin.NewClient(pin.ClientConfig{BaseURL: appConfig.PinEndpoint})
		if err != nil {
			return err
		}
		verifier = client
		logger.Info("pin verification delegated", zap.String("endpoint", appConfig.PinEndpoint))
	}

	bus := events.NewBus()

	lifecycle, err := gifts.NewLifecycle(gifts.LifecycleConfig{
		Store:  store,
		Hasher: pinService,
		Policy: registry,
		Events: bus,
		Clock:  time.Now,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	limiter, err := ratelimit.New(ratelimit.Config{
		Store:              ratelimit.NewGormBucketStore(db),
		Clock:              time.Now,
		DefaultMaxAttempts: appConfig.PinMaxAttempts,
		Logger:             logger,
	})
	if err != nil {
		return err
	}

	gateway, err := access.NewGateway(access.GatewayConfig{
		Records:     store,
		Pins:        verifier,
		Limiter:     limiter,
		Views:       lifecycle,
		Events:      bus,
		MaxAttempts: appConfig.PinMaxAttempts,
		Window:      appConfig.PinWindow,
		Clock:       time.Now,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	uploader, err := assets.NewUploader(assets.UploaderConfig{
		Objects:  objects,
		Attacher: lifecycle,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		AdminAPIKey:   appConfig.AdminAPIKey,
		Issuer:        auth.DefaultIssuer,
		Audience:      auth.DefaultAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Lifecycle:      lifecycle,
		Gateway:        gateway,
		PinFunctions:   pinService,
		PinLimiter:     limiter,
		Registry:       registry,
		Uploader:       uploader,
		TokenManager:   tokenManager,
		Events:         bus,
		IntakeSecret:   appConfig.IntakeSecret,
		PinMaxAttempts: appConfig.PinMaxAttempts,
		PinWindow:      appConfig.PinWindow,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("environment", appConfig.Environment))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
