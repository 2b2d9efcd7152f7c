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
	"github.com/opsdesk/opsdesk/internal/authclient"
	"github.com/opsdesk/opsdesk/internal/dashboard"
	"github.com/opsdesk/opsdesk/internal/messaging"
	"github.com/opsdesk/opsdesk/internal/receiptspg"
	"github.com/opsdesk/opsdesk/internal/session"
	"github.com/opsdesk/opsdesk/pkg/sessionwatch"
	webassets "github.com/opsdesk/opsdesk/web"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "opsdesk",
		Short:   "Dashboard shell with token refresh, role permissions, and local read tracking for a remote admin API",
		PreRunE: prepareShellConfig,
		RunE:    runShell,
	}

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address for the shell")
	rootCmd.Flags().String("api_base_url", "", "Base URL of the remote REST API")
	rootCmd.Flags().String("database_url", "", "Database URL for persisted session tokens (postgres:// or sqlite://; leave empty for in-memory store)")
	rootCmd.Flags().String("receipts_pg_url", "", "Postgres URL for read receipts; empty shares the token database or memory")
	rootCmd.Flags().Duration("login_timeout", 15*time.Second, "Wall-clock timeout for the credential exchange call")
	rootCmd.Flags().Duration("poll_interval", 30*time.Second, "How often the session watcher re-reads the token expiry")
	rootCmd.Flags().Duration("warn_window", 2*time.Minute, "Remaining lifetime at which the expiry warning surfaces")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for cross-origin frontends")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled (required if enable_cors is true)")

	_ = viper.BindPFlag("listen_addr", rootCmd.Flags().Lookup("listen_addr"))
	_ = viper.BindPFlag("api_base_url", rootCmd.Flags().Lookup("api_base_url"))
	_ = viper.BindPFlag("database_url", rootCmd.Flags().Lookup("database_url"))
	_ = viper.BindPFlag("receipts_pg_url", rootCmd.Flags().Lookup("receipts_pg_url"))
	_ = viper.BindPFlag("login_timeout", rootCmd.Flags().Lookup("login_timeout"))
	_ = viper.BindPFlag("poll_interval", rootCmd.Flags().Lookup("poll_interval"))
	_ = viper.BindPFlag("warn_window", rootCmd.Flags().Lookup("warn_window"))
	_ = viper.BindPFlag("enable_cors", rootCmd.Flags().Lookup("enable_cors"))
	_ = viper.BindPFlag("cors_allowed_origins", rootCmd.Flags().Lookup("cors_allowed_origins"))

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	configCodeMissingAPIBaseURL     = "config.missing_api_base_url"
	configCodeInvalidLoginTimeout   = "config.invalid_login_timeout"
	configCodeInvalidPollInterval   = "config.invalid_poll_interval"
	configCodeInvalidWarnWindow     = "config.invalid_warn_window"
	configCodeUninitializedShellCnf = "config.uninitialized_shell_config"
)

type contextKey string

const shellConfigContextKey contextKey = "shellConfig"

// ShellConfig is the validated runtime configuration of the shell process.
type ShellConfig struct {
	ListenAddr         string
	APIBaseURL         string
	DatabaseURL        string
	ReceiptsPGURL      string
	LoginTimeout       time.Duration
	PollInterval       time.Duration
	WarnWindow         time.Duration
	EnableCORS         bool
	CORSAllowedOrigins []string
}

func prepareShellConfig(command *cobra.Command, arguments []string) error {
	shellConfig, loadErr := LoadShellConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, shellConfigContextKey, shellConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadShellConfig reads and validates configuration from viper.
func LoadShellConfig() (ShellConfig, error) {
	apiBaseURL := viper.GetString("api_base_url")
	if apiBaseURL == "" {
		return ShellConfig{}, configError(configCodeMissingAPIBaseURL, "api_base_url must be provided")
	}

	loginTimeout := viper.GetDuration("login_timeout")
	if loginTimeout <= 0 {
		return ShellConfig{}, configError(configCodeInvalidLoginTimeout, "login_timeout must be greater than zero")
	}

	pollInterval := viper.GetDuration("poll_interval")
	if pollInterval <= 0 {
		return ShellConfig{}, configError(configCodeInvalidPollInterval, "poll_interval must be greater than zero")
	}

	warnWindow := viper.GetDuration("warn_window")
	if warnWindow <= 0 {
		return ShellConfig{}, configError(configCodeInvalidWarnWindow, "warn_window must be greater than zero")
	}

	return ShellConfig{
		ListenAddr:         viper.GetString("listen_addr"),
		APIBaseURL:         apiBaseURL,
		DatabaseURL:        viper.GetString("database_url"),
		ReceiptsPGURL:      viper.GetString("receipts_pg_url"),
		LoginTimeout:       loginTimeout,
		PollInterval:       pollInterval,
		WarnWindow:         warnWindow,
		EnableCORS:         viper.GetBool("enable_cors"),
		CORSAllowedOrigins: viper.GetStringSlice("cors_allowed_origins"),
	}, nil
}

func runShell(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(shellConfigContextKey)
	}
	shellConfig, ok := contextValue.(ShellConfig)
	if !ok {
		return configError(configCodeUninitializedShellCnf, "shell configuration not prepared; PreRunE must execute before RunE")
	}

	var tokenStore authclient.TokenStore
	var sharedDatabase *authclient.DatabaseTokenStore
	if shellConfig.DatabaseURL != "" {
		persistentStore, storeErr := authclient.NewDatabaseTokenStore(context.Background(), shellConfig.DatabaseURL)
		if storeErr != nil {
			return storeErr
		}
		tokenStore = persistentStore
		sharedDatabase = persistentStore
		logger.Info("using persistent token store", zap.String("driver", persistentStore.Driver()))
	} else {
		tokenStore = authclient.NewMemoryTokenStore()
		logger.Info("using in-memory token store")
	}

	var receipts messaging.ReadReceiptStore
	switch {
	case shellConfig.ReceiptsPGURL != "":
		pool, poolErr := receiptspg.BuildPool(context.Background(), shellConfig.ReceiptsPGURL)
		if poolErr != nil {
			return poolErr
		}
		defer pool.Close()
		if schemaErr := receiptspg.EnsureSchema(context.Background(), pool); schemaErr != nil {
			return schemaErr
		}
		receipts = receiptspg.NewPostgresReadReceiptStore(pool)
		logger.Info("using postgres read receipt store")
	case sharedDatabase != nil:
		databaseReceipts, receiptsErr := messaging.NewDatabaseReadReceiptStore(context.Background(), sharedDatabase.DB())
		if receiptsErr != nil {
			return receiptsErr
		}
		receipts = databaseReceipts
		logger.Info("using shared-database read receipt store")
	default:
		receipts = messaging.NewMemoryReadReceiptStore()
		logger.Info("using in-memory read receipt store")
	}

	metricsRecorder := authclient.NewCounterMetrics()
	broadcaster := authclient.NewBroadcaster(authclient.NewSystemClock())

	apiClient, clientErr := authclient.NewClient(authclient.ClientConfig{
		APIBaseURL:   shellConfig.APIBaseURL,
		Store:        tokenStore,
		Broadcaster:  broadcaster,
		Metrics:      metricsRecorder,
		Logger:       logger,
		LoginTimeout: shellConfig.LoginTimeout,
	})
	if clientErr != nil {
		return clientErr
	}

	sessionManager, managerErr := session.NewManager(session.ManagerConfig{
		Client: apiClient,
		Logger: logger,
	})
	if managerErr != nil {
		return managerErr
	}

	// Pick up a session persisted by a previous run.
	if bootstrapErr := sessionManager.Bootstrap(context.Background()); bootstrapErr != nil {
		logger.Warn("stored session could not be restored",
			zap.String("code", "shell.bootstrap.failed"),
			zap.Error(bootstrapErr))
	}

	watcher, watcherErr := sessionwatch.New(sessionwatch.Config{
		TokenSource: apiClient.AccessToken,
		Extend:      apiClient.Refresh,
		ForceLogout: func(ctx context.Context, reason string) {
			metricsRecorder.Increment(authclient.EventTimeoutForcedOut)
			if logoutErr := sessionManager.Logout(ctx); logoutErr != nil {
				logger.Warn("forced logout error",
					zap.String("code", "shell.forced_logout.error"),
					zap.Error(logoutErr))
			}
			logger.Info("session force-logged-out",
				zap.String("code", "shell.forced_logout"),
				zap.String("reason", reason))
		},
		OnWarning: func(remaining time.Duration) {
			metricsRecorder.Increment(authclient.EventTimeoutWarning)
			logger.Info("session nearing expiry",
				zap.String("code", "shell.timeout_warning"),
				zap.Duration("remaining", remaining))
		},
		PollInterval: shellConfig.PollInterval,
		WarnWindow:   shellConfig.WarnWindow,
		Logger:       logger,
	})
	if watcherErr != nil {
		return watcherErr
	}

	watcherCtx, watcherCancel := context.WithCancel(context.Background())
	defer watcherCancel()
	if startErr := watcher.Start(watcherCtx); startErr != nil {
		return startErr
	}
	defer watcher.Stop()

	expiredEvents, unsubscribe := broadcaster.Subscribe()
	defer unsubscribe()
	go func() {
		for event := range expiredEvents {
			logger.Info("session expired broadcast",
				zap.String("code", "shell.session_expired"),
				zap.String("reason", event.Reason))
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if shellConfig.EnableCORS {
		corsMiddleware, corsErr := dashboard.ConfigureCORS(logger, shellConfig.CORSAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	router.GET("/static/dashboard-shell.js", func(contextGin *gin.Context) {
		dashboard.ServeEmbeddedStaticJS(contextGin, webassets.FS, "dashboard-shell.js")
	})
	router.GET("/shell/config.js", func(contextGin *gin.Context) {
		dashboard.ServeShellConfig(contextGin, dashboard.ShellConfig{
			APIBaseURL: shellConfig.APIBaseURL,
		})
	})

	dashboard.MountShellRoutes(router, dashboard.ShellDeps{
		Manager:  sessionManager,
		Client:   apiClient,
		Watcher:  watcher,
		Metrics:  metricsRecorder,
		Receipts: receipts,
		Logger:   logger,
	})

	server := &http.Server{
		Addr:              shellConfig.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		<-stopSignals
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", shellConfig.ListenAddr))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
