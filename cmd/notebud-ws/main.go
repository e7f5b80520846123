// notebud-ws is the realtime chat server: a hand-rolled WebSocket
// listener speaking the JSON chat protocol, backed by SQLite, with
// health and metrics on a side port.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/ktauchathuranga/notebud-sub000/internal/auth"
	"github.com/ktauchathuranga/notebud-sub000/internal/config"
	"github.com/ktauchathuranga/notebud-sub000/internal/logging"
	"github.com/ktauchathuranga/notebud-sub000/internal/ops"
	"github.com/ktauchathuranga/notebud-sub000/internal/server"
	"github.com/ktauchathuranga/notebud-sub000/internal/store"
)

func main() {
	boot := logging.New("info", "json")

	cfg, err := config.Load(&boot)
	if err != nil {
		boot.Fatal().Err(err).Msg("configuration failed")
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	cfg.LogConfig(logger)

	st, err := store.OpenSQLite(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Str("db_path", cfg.DBPath).Msg("store open failed")
	}
	defer st.Close()

	verifier := auth.NewJWTVerifier(cfg.JWTSecret)
	srv := server.New(cfg, st, verifier, logger)
	opsSrv := ops.New(cfg.OpsAddr, srv, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := opsSrv.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("ops server exited")
		}
	}()

	if err := srv.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
}
