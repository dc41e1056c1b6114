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

	"github.com/redis/go-redis/v9"
	"gocloud.dev/pubsub"

	_ "gocloud.dev/pubsub/mempubsub"
	_ "gocloud.dev/pubsub/rabbitpubsub"

	"github.com/stakemint/sagad/internal/chain"
	"github.com/stakemint/sagad/internal/config"
	"github.com/stakemint/sagad/internal/dispatch"
	"github.com/stakemint/sagad/internal/graph"
	"github.com/stakemint/sagad/internal/handlers"
	"github.com/stakemint/sagad/internal/nonce"
	"github.com/stakemint/sagad/internal/router"
	"github.com/stakemint/sagad/internal/server"
	"github.com/stakemint/sagad/internal/store"
	"github.com/stakemint/sagad/pkg/log"
)

const (
	appName    = "sagad"
	appVersion = "1.4.0"
)

type sagad struct {
	cfg        *config.Config
	store      *store.Store
	rdb        *redis.Client
	topic      *pubsub.Topic
	sub        *pubsub.Subscription
	publisher  *dispatch.TopicPublisher
	dispatcher *dispatch.Dispatcher
	httpServer *http.Server
	dispatchWG chan error
	stopRun    context.CancelFunc
	quit       chan os.Signal
}

var (
	ErrOpenStore        = errors.New("failed to open workflow store")
	ErrOpenTopic        = errors.New("failed to open broker topic")
	ErrOpenSubscription = errors.New("failed to open broker subscription")
)

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func main() {
	cfg := config.NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}

	s := &sagad{
		cfg:        cfg,
		quit:       make(chan os.Signal, 1),
		dispatchWG: make(chan error, 1),
	}
	s.setupLogging()

	if err := s.run(); err != nil {
		slog.Error("Failed to start application", log.Error(err))
		os.Exit(1)
	}
}

func (s *sagad) run() error {
	if err := graph.Validate(); err != nil {
		return err
	}

	if err := s.initialize(); err != nil {
		return err
	}
	s.startDispatcher()
	s.startServer()

	signal.Notify(s.quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(s.quit)
	<-s.quit

	s.shutdown()
	return nil
}

func (s *sagad) setupLogging() {
	level, ok := logLevels[s.cfg.LogLevel]
	if !ok {
		level = slog.LevelInfo
	}

	env := os.Getenv("ENV")
	logger := log.NewWithLevel(appName, env, appVersion, level)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level)

	slog.Info("Engine starting",
		slog.String("log_level", s.cfg.LogLevel),
		slog.String("subscription", s.cfg.SubscriptionURL),
		slog.Int("prefetch", s.cfg.Prefetch))
}

func (s *sagad) initialize() error {
	var err error

	s.store, err = store.Open(s.cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOpenStore, err)
	}

	s.rdb = redis.NewClient(&redis.Options{
		Addr:     s.cfg.Redis.Addr,
		Password: s.cfg.Redis.Password,
		DB:       s.cfg.Redis.DB,
	})

	ctx := context.Background()
	s.topic, err = pubsub.OpenTopic(ctx, s.cfg.TopicURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOpenTopic, err)
	}
	s.sub, err = pubsub.OpenSubscription(ctx, s.cfg.SubscriptionURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOpenSubscription, err)
	}
	s.publisher = dispatch.NewTopicPublisher(s.topic)

	chains := chain.NewRegistry(s.cfg.ChainRPC)
	nonces := nonce.New(s.rdb, chains, nonce.Options{
		LockTTL: s.cfg.NonceLockTTL,
		Poll:    s.cfg.NoncePoll,
		Timeout: s.cfg.NonceTimeout,
	})

	registry := handlers.NewRegistry(&handlers.Deps{
		Chains: chains,
		Nonces: nonces,
	})

	stepRouter := router.New(s.store, registry, s.publisher)
	s.dispatcher = dispatch.New(s.sub, stepRouter, s.store, dispatch.Config{
		Process:      s.cfg.Process,
		Prefetch:     s.cfg.Prefetch,
		TaskTimeout:  s.cfg.TaskTimeout,
		DrainPoll:    s.cfg.DrainPoll,
		ZombieCheck:  s.cfg.ZombieCheck,
		HeartbeatSec: s.cfg.HeartbeatSec,
	}, s.requestShutdown)

	views := server.NewViewCache(s.rdb, 0)
	apiServer := server.NewServer(stepRouter, s.store, views)
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.APIHost, s.cfg.APIPort),
		Handler: apiServer.SetupRoutes(),
	}

	return nil
}

func (s *sagad) startDispatcher() {
	ctx, cancel := context.WithCancel(context.Background())
	s.stopRun = cancel

	go func() {
		s.dispatchWG <- s.dispatcher.Run(ctx)
	}()
}

func (s *sagad) startServer() {
	go func() {
		slog.Info("HTTP server starting",
			slog.String("addr", s.httpServer.Addr))
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", log.Error(err))
		}
	}()
}

// requestShutdown lets the dispatcher trigger the same exit path as an
// operator signal when it detects it is wedged
func (s *sagad) requestShutdown() {
	select {
	case s.quit <- syscall.SIGTERM:
	default:
	}
}

func (s *sagad) shutdown() {
	slog.Info("Shutting down")

	ctx, cancel := context.WithTimeout(
		context.Background(), s.cfg.ShutdownTimeout,
	)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("HTTP shutdown failed", log.Error(err))
	}

	// Stop accepting notices; Run drains in-flight tasks, records the
	// stop heartbeat, and returns
	s.stopRun()
	select {
	case err := <-s.dispatchWG:
		if err != nil {
			slog.Error("Dispatcher shutdown failed", log.Error(err))
		}
	case <-ctx.Done():
		slog.Error("Dispatcher drain timed out",
			slog.Int("in_flight", s.dispatcher.InFlight()))
	}

	if err := s.publisher.Shutdown(ctx); err != nil {
		slog.Error("Publisher shutdown failed", log.Error(err))
	}
	if err := s.rdb.Close(); err != nil {
		slog.Error("Redis close failed", log.Error(err))
	}

	slog.Info("Server exited")
}
