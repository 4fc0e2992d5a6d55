package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"backchannel/internal/api"
	"backchannel/internal/config"
	"backchannel/internal/fanout"
	"backchannel/internal/gateway"
	"backchannel/internal/presence"
	"backchannel/internal/roomkey"
	"backchannel/internal/session"
	"backchannel/internal/store"
	"backchannel/pkg/database"
	"backchannel/pkg/interfaces"
)

// Application wires the service components in dependency order: the
// store first, then session windows, the shared backends, the gateway,
// the admin API and finally the HTTP server.
type Application struct {
	config     *config.Config
	store      *store.Store
	redis      *redis.Client
	registry   *gateway.Registry
	httpServer *http.Server
}

func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	masters, err := roomkey.ParseMasterKeys(cfg.Chat.MasterKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to parse master keys: %w", err)
	}
	deriver, err := roomkey.NewDeriver(masters)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize key deriver: %w", err)
	}

	messageStore, err := store.NewStore(&database.Config{
		Path:            cfg.Database.Path,
		MaxConnections:  10,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
	}, deriver)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize message store: %w", err)
	}

	windows := session.NewWindows(messageStore)

	// The shared backends are Redis when an address is configured,
	// in-process otherwise. The in-process variants serve only a
	// single-replica deployment.
	var (
		redisClient *redis.Client
		broker      interfaces.Broker
		counts      interfaces.Registry
		health      api.HealthChecker
	)
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			messageStore.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		redisBroker := fanout.NewRedis(redisClient)
		broker = redisBroker
		counts = presence.NewRedis(redisClient)
		health = redisBroker
	} else {
		log.Printf("No redis address configured, using in-process fan-out and participant counts")
		broker = fanout.NewMemory()
		counts = presence.NewMemory()
	}

	registry := gateway.NewRegistry()
	auth := gateway.NewAuthenticator([]byte(cfg.Auth.JWTSecret))

	opts := gateway.DefaultOptions()
	opts.RateLimitInterval = cfg.Chat.RateLimitInterval
	opts.OperationTimeout = cfg.Chat.OperationTimeout
	opts.PingInterval = cfg.Chat.PingInterval
	opts.ReadTimeout = cfg.Chat.ReadTimeout

	handler := gateway.NewHandler(auth, nil, messageStore, messageStore, windows, counts, broker, registry, opts)
	apiServer := api.NewServer(messageStore, health, registry, messageStore)

	router := mux.NewRouter()
	router.HandleFunc("/ws/chat/{username}", handler.HandleChat)
	router.PathPrefix("/api/").Handler(apiServer)
	router.Handle("/health", apiServer)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		store:      messageStore,
		redis:      redisClient,
		registry:   registry,
		httpServer: httpServer,
	}, nil
}

func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting backchannel on %s", app.httpServer.Addr)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("Backchannel started successfully")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts down in reverse dependency order: HTTP listener, live
// connections, then the shared backends and store.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down backchannel")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	app.registry.CloseAll()

	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			log.Printf("Redis shutdown error: %v", err)
		}
	}

	if err := app.store.Close(); err != nil {
		log.Printf("Message store shutdown error: %v", err)
	}

	log.Printf("Backchannel shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("BACKCHANNEL_CONFIG_FILE"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	appErrCh := make(chan error, 1)
	go func() {
		if err := app.Start(ctx); err != nil {
			appErrCh <- err
		}
	}()

	select {
	case err := <-appErrCh:
		return fmt.Errorf("application error: %w", err)
	case sig := <-signalCh:
		log.Printf("Received signal %v, shutting down gracefully", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := app.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	}
}
