package main

import (
	"context"
	"log/slog"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/joho/godotenv"

	"github.com/Tyrowin/roomchat/internal/server"
)

func main() {
	envErr := godotenv.Load()

	cfg := server.NewConfigFromEnv().Sanitize()
	logger := server.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	if envErr != nil {
		logger.Debug("no .env file loaded", "err", envErr)
	}

	logger.Info("starting room relay",
		"port", cfg.Port,
		"max_room_size", cfg.MaxRoomSize,
		"reap_interval", cfg.ReapInterval,
		"empty_room_grace", cfg.EmptyRoomGrace)

	hub := server.NewHub(cfg, logger)
	go hub.Run()

	httpServer := server.CreateServer(cfg.Port, server.SetupRoutes(hub))
	go func() {
		if err := server.StartServer(httpServer, logger); err != nil {
			logger.Error("server stopped", "err", err)
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"http-server": func(ctx context.Context) error {
				return server.ShutdownServer(ctx, httpServer, logger)
			},
			"hub": func(ctx context.Context) error {
				return hub.Shutdown(ctx)
			},
		},
	)

	exitCode := <-wait
	logger.Info("room relay exited", "code", exitCode)
	os.Exit(exitCode)
}
