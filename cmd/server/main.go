package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"listdb/pkg/api"
	"listdb/pkg/config"
	"listdb/pkg/logger"
	"listdb/pkg/network"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to listdb.yaml or listdb.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	if err := logger.Init(cfg.Log); err != nil {
		logrus.Fatalf("Failed to init logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil {
		logger.L().WithError(err).Fatal("server stopped")
	}
}

// run serves the configured list over HTTP and TCP until ctx is done.
func run(ctx context.Context, cfg *config.Config) error {
	log := logger.Component("server")

	list, closeBackend, err := openList(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = list.Close()
		if err := closeBackend(); err != nil {
			log.WithError(err).Warn("close backend")
		}
	}()
	n, err := list.Size(ctx)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"driver": cfg.Storage.Driver,
		"table":  cfg.Storage.Table,
		"size":   n,
	}).Info("ListDB server starting...")

	httpSrv := api.NewServer(list, cfg.Server.RateLimit, cfg.Server.RateBurst)
	tcpSrv := network.NewTCPServer(list, cfg.Server.CompressThreshold)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return errors.Wrap(httpSrv.Start(cfg.Server.Addr), "http")
	})
	g.Go(func() error {
		err := tcpSrv.Start(cfg.Server.TCPAddr)
		if errors.Is(err, net.ErrClosed) {
			return nil // shut down before the listener came up
		}
		return errors.Wrap(err, "tcp")
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		herr := httpSrv.Shutdown(sctx)
		terr := tcpSrv.Shutdown()
		if herr != nil {
			return herr
		}
		if terr != nil && !errors.Is(terr, net.ErrClosed) {
			return terr
		}
		return nil
	})
	return g.Wait()
}
