// cmd/server/main.go
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

	"github.com/jason-s-yu/cluedo/internal/auth"
	"github.com/jason-s-yu/cluedo/internal/cache"
	"github.com/jason-s-yu/cluedo/internal/config"
	"github.com/jason-s-yu/cluedo/internal/database"
	"github.com/jason-s-yu/cluedo/internal/engine"
	"github.com/jason-s-yu/cluedo/internal/game"
	"github.com/jason-s-yu/cluedo/internal/handlers"
	"github.com/jason-s-yu/cluedo/internal/peer"
	"github.com/jason-s-yu/cluedo/internal/realtime"
	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger := cfg.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatalf("server exited: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	var (
		store      game.Store
		serverOpts = []handlers.Option{handlers.WithAllowedOrigins(cfg.AllowedOrigins)}
	)
	switch cfg.StoreDriver {
	case "postgres":
		pool, err := database.Connect(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			return err
		}
		store = database.NewPostgresStore(pool)
		serverOpts = append(serverOpts, handlers.WithHistory(database.NewActionStore(pool)))
	case "sqlite":
		sqlite, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer sqlite.Close()
		store = sqlite
	default:
		store = game.NewMemoryStore()
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		c, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer c.Close()
		rdb = c
	}

	var managerOpts []game.Option
	if rdb != nil {
		managerOpts = append(managerOpts, game.WithHistory(cache.NewPublisher(rdb, cfg.QueueName, logger)))
	}
	var registry peer.Registry = peer.NewMemoryRegistry()
	if cfg.PeerRegistry == "redis" {
		registry = cache.NewPeerRegistry(rdb)
	}

	expire, err := auth.ParseExpireTime(cfg.TokenExpireTime)
	if err != nil {
		return err
	}
	var tokens *auth.Service
	if cfg.PrivateKeyPath != "" && cfg.PublicKeyPath != "" {
		tokens, err = auth.NewServiceFromPath(cfg.PrivateKeyPath, cfg.PublicKeyPath, expire)
	} else {
		tokens, err = auth.NewService(expire)
	}
	if err != nil {
		return err
	}

	manager := game.NewManager(store, logger, managerOpts...)
	eng := engine.New(manager, tokens, logger, cfg.ActionRetries)
	hub := realtime.NewHub(tokens, logger)
	router := realtime.NewRouter(hub, logger)
	self := peer.Info{Address: cfg.PeerAddress, Port: cfg.Port, Protocol: cfg.PeerProtocol}
	peers := peer.NewManager(self, registry, hub, router, eng, logger)
	server := handlers.NewServer(eng, hub, router, peers, registry, tokens, logger, serverOpts...)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("Running on %s as %s", srv.Addr, self.Locator())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if err := peers.Start(ctx, server); err != nil {
		return err
	}

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := peers.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("failed to deregister peer")
	}
	return srv.Shutdown(shutdownCtx)
}
