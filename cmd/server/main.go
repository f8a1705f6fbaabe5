package main // Entry point package

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-ticket-sales/internal/app"
	"github.com/iliyamo/cinema-ticket-sales/internal/config"
	"github.com/iliyamo/cinema-ticket-sales/internal/logging"
)

func main() {
	cfg := config.Load()                // Load environment config
	logging.Init(cfg.LogLevel, cfg.Env) // Configure the global logger

	if err := run(cfg); err != nil {
		logrus.WithError(err).Fatal("service stopped with error")
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logrus.WithError(err).Warn("close failed")
		}
	}()
	return a.Run(ctx)
}
