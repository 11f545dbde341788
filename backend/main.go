package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"chunk-relay/backend/global"
	"chunk-relay/backend/initialize"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := initialize.Build(ctx, *configPath)
	if err != nil {
		global.Logger.Fatal().Err(err).Msg("init backend")
	}
	if err := app.Run(ctx); err != nil {
		global.Logger.Fatal().Err(err).Msg("run backend")
	}
}
