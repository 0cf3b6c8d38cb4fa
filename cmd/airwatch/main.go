// Command airwatch runs the environmental monitor service.
//
// Usage:
//
//	airwatch serve --config configs/config.yaml
//	airwatch check --config configs/config.yaml
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/rewired-gh/airwatch/internal/ambee"
	"github.com/rewired-gh/airwatch/internal/api"
	"github.com/rewired-gh/airwatch/internal/config"
	"github.com/rewired-gh/airwatch/internal/feed"
	"github.com/rewired-gh/airwatch/internal/lock"
	"github.com/rewired-gh/airwatch/internal/logger"
	"github.com/rewired-gh/airwatch/internal/scheduler"
	"github.com/rewired-gh/airwatch/internal/service"
	"github.com/rewired-gh/airwatch/internal/storage"
	"github.com/rewired-gh/airwatch/internal/telegram"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "airwatch",
		Short:         "Environmental change monitor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (defaults and AIRWATCH_* env when empty)")

	root.AddCommand(serveCmd(&configPath))
	root.AddCommand(checkCmd(&configPath))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the periodic check scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configPath, func(ctx context.Context, a *app) error {
				return a.serve(ctx)
			})
		},
	}
}

func checkCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run a single check cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configPath, func(ctx context.Context, a *app) error {
				result, err := a.scheduler.RunCycle(ctx)
				fmt.Fprintln(cmd.OutOrStdout(), result.Summary())
				return err
			})
		},
	}
}

// app holds the wired components shared by all commands.
type app struct {
	cfg       *config.Config
	store     *storage.Storage
	scheduler *scheduler.Scheduler
	telegram  *telegram.Client
	redis     *redis.Client
}

// withApp loads configuration, wires components, runs fn under a context
// cancelled on SIGINT/SIGTERM and closes everything afterwards.
func withApp(configPath string, fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()
	if configPath != "" {
		logger.Info("Configuration loaded from %s", configPath)
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return fn(ctx, a)
}

func newApp(cfg *config.Config) (*app, error) {
	thresholds, err := cfg.Thresholds()
	if err != nil {
		return nil, err
	}

	store, err := storage.New(cfg.Storage.MaxNotifications, cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a := &app{cfg: cfg, store: store}

	provider := ambee.NewClient(cfg.Ambee.BaseURL, cfg.Ambee.APIKey, cfg.Ambee.Timeout, ambee.ClientConfig{
		RequestsPerMinute: cfg.Ambee.RequestsPerMinute,
		MaxRetries:        cfg.Ambee.MaxRetries,
		RetryDelayBase:    cfg.Ambee.RetryDelayBase,
	})
	if cfg.Ambee.APIKey == "" {
		logger.Warn("ambee.api_key is empty; provider requests will be rejected")
	}

	var opts []scheduler.Option

	if cfg.Redis.Enabled {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		opts = append(opts, scheduler.WithLocker(lock.NewRedisLocker(a.redis, lock.DefaultKey, cfg.Scheduler.LockTTL)))
		logger.Info("Cycle lock enabled on Redis %s", cfg.Redis.Addr)
	}

	if cfg.Telegram.Enabled {
		a.telegram, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		opts = append(opts, scheduler.WithAlerter(a.telegram))
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram alerts disabled")
	}

	a.scheduler = scheduler.New(store, provider, scheduler.Config{
		Interval:     cfg.Scheduler.Interval,
		Concurrency:  cfg.Scheduler.Concurrency,
		FetchTimeout: cfg.Scheduler.FetchTimeout,
		Thresholds:   thresholds,
	}, opts...)

	if a.telegram != nil {
		a.telegram.SetStatusFunc(a.status)
	}
	return a, nil
}

// serve runs the HTTP server and the scheduler until ctx is cancelled.
func (a *app) serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	handler := api.NewHandler(service.New(a.store), feed.New(a.store), a.store)
	srv := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      api.NewRouter(handler, logger.Sugar(), a.cfg.Server.CORSOrigins),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	if a.telegram != nil {
		a.telegram.ListenForCommands(ctx)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.scheduler.Run(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, cleaning up...")
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Error("HTTP server failed: %v", serveErr)
		}
	}

	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shut down HTTP server: %v", err)
	}

	wg.Wait()
	logger.Info("Shutdown complete")
	return serveErr
}

func (a *app) status() string {
	result, at := a.scheduler.LastResult()
	if at.IsZero() {
		return "No check cycle has completed yet"
	}
	return fmt.Sprintf("Last cycle at %s: %s", at.UTC().Format(time.RFC3339), result.Summary())
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logger.Error("Failed to close Redis client: %v", err)
		}
	}
	if err := a.store.Close(); err != nil {
		logger.Error("Failed to close storage: %v", err)
	}
}
