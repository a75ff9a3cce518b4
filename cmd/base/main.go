// Command base runs the root service: it answers /, /compute and
// /external, the latter by calling the worker.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jimmitjoo/tracechain"
	"github.com/jimmitjoo/tracechain/config"
	"github.com/jimmitjoo/tracechain/services/base"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load("base")
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}

	app, err := tracechain.New(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("failed to start")
	}

	worker := base.NewWorkerClient(cfg.Worker, app.OutboundTransport(), app.Logger)
	base.New(app.Telemetry, worker, nil, cfg.Workload).Routes(app.API)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.ListenAndServe(ctx); err != nil {
		app.Logger.WithError(err).Fatal("server stopped")
	}
}
