package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"moviebox/internal/config"
	"moviebox/internal/logging"
	"moviebox/internal/mockapi"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	empty := flag.Bool("empty", false, "start without the demo catalogue and account")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, logFile := logging.New(cfg.Logging)
	defer logFile.Close()

	logger.Info().
		Str("version", mockapi.Version).
		Msg("starting moviebox mock backend")

	backend := mockapi.NewSeededBackend()
	if *empty {
		backend = mockapi.NewBackend()
	}

	srv := mockapi.New(cfg.Mock, backend, logging.Component(logger, "mockapi"))

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info().Msg("received shutdown signal")

		if err := srv.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("shutdown error")
		}
	}()

	if err := srv.Start(); err != nil {
		logger.Error().Err(err).Msg("server error")
	}

	logger.Info().Msg("server stopped")
}
