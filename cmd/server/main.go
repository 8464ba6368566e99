package main

import (
	"context"
	"log"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/joho/godotenv"

	"github.com/Tyrowin/roomchat/internal/registry"
	"github.com/Tyrowin/roomchat/internal/server"
)

func main() {
	// Load local .env (dev only)
	_ = godotenv.Load()

	cfg := server.NewConfigFromEnv()
	logger := server.NewLogger(cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := server.OpenBackend(ctx, *cfg)
	if err != nil {
		logger.Error("backend.open", "err", err)
		log.Fatal(err)
	}
	if cfg.Redis.Addr == "" {
		logger.Warn("backend.memory", "note", "sessions and rooms are local to this process")
	}

	srv := server.New(*cfg, backend, logger)
	if err := srv.Start(); err != nil {
		logger.Error("hub.start", "err", err)
		log.Fatal(err)
	}

	if cfg.SessionGrace > 0 {
		janitor := registry.NewJanitor(srv.Registry(), srv.Sessions(), cfg.SessionGrace, 0, logger)
		go janitor.Run(ctx)
		logger.Info("janitor.started", "grace", cfg.SessionGrace)
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil {
			logger.Error("server.crash", "err", err)
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"relay": func(ctx context.Context) error {
				logger.Info("server.shutdown.start")
				cancel()
				// Closing sockets drives every Leave, so the broker goes last.
				serr := srv.Shutdown(ctx)
				if err := backend.Broker.Close(); err != nil {
					logger.Warn("broker.close", "err", err)
				}
				return serr
			},
		},
	)

	exitCode := <-wait
	logger.Info("server.shutdown.complete", "code", exitCode)
	os.Exit(exitCode)
}
