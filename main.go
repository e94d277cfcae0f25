package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/ssau-fiit/livetype-api/config"
	"github.com/ssau-fiit/livetype-api/database"
	"github.com/ssau-fiit/livetype-api/discovery"
	"github.com/ssau-fiit/livetype-api/feed"
	"github.com/ssau-fiit/livetype-api/prefs"
	"github.com/ssau-fiit/livetype-api/store"
	"github.com/ssau-fiit/livetype-api/typing"
	"go.mongodb.org/mongo-driver/mongo"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("livetype stopped")
	}
}

func run() error {
	configPath := flag.String("config", "config.json", "path to the JSON config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := setupLogging(cfg.Log); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, closeBackends, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackends()

	server := &http.Server{
		Addr:        cfg.Addr,
		Handler:     logRequests(newRouter(app)),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	if cfg.Discovery.Enabled {
		adv, err := discovery.Advertise(cfg.Discovery.Instance, cfg.Addr, cfg.Self, cfg.Peer)
		if err != nil {
			log.Error().Err(err).Msg("could not advertise service")
		} else {
			defer adv.Shutdown()
		}
		go func() {
			if err := discovery.Browse(ctx); err != nil {
				log.Warn().Err(err).Msg("mdns browsing failed")
			}
		}()
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("store", cfg.Store).Str("feed", cfg.Feed).Msg("livetype listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("serve: %w", err)
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown")
	}
	// Hijacked websocket connections are not covered by Shutdown.
	app.CloseSessions(shutdownCtx)
	log.Info().Msg("graceful shutdown complete")
	return nil
}

// connect builds the App over the configured backends. The returned func
// releases every client it opened.
func connect(ctx context.Context, cfg config.Config) (*App, func(), error) {
	var (
		rdb     *redis.Client
		mongoDB *mongo.Database
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Store == config.BackendRedis || cfg.Feed == config.BackendRedis {
		c, err := database.Redis(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		rdb = c
		closers = append(closers, func() { rdb.Close() })
	}
	if cfg.Feed == config.BackendMongo {
		db, err := database.Mongo(ctx, cfg)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		mongoDB = db
		closers = append(closers, func() { mongoDB.Client().Disconnect(context.Background()) })
	}

	var (
		typingStore typing.Store
		prefStore   prefs.Store
		messages    feed.Feed
	)
	switch cfg.Store {
	case config.BackendRedis:
		typingStore = store.NewRedis(rdb)
		prefStore = prefs.NewRedis(rdb)
	default:
		typingStore = store.NewMemory()
		prefStore = prefs.NewMemory()
	}
	switch cfg.Feed {
	case config.BackendRedis:
		messages = feed.NewRedis(rdb)
	case config.BackendMongo:
		messages = feed.NewMongo(mongoDB, cfg.Mongo.MessagesCollection)
	default:
		messages = feed.NewMemory()
	}

	return NewApp(cfg, typingStore, messages, prefStore, typing.SystemClock{}), closeAll, nil
}
