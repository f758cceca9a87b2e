package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flightoracle/internal/api"
	"flightoracle/internal/config"
	"flightoracle/internal/coordinator"
	"flightoracle/internal/ledger/eth"
	"flightoracle/internal/logging"
	"flightoracle/internal/notify"
	"flightoracle/internal/storage"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func main() {
	ctl := newApp()
	if err := ctl.Run(os.Args); err != nil {
		fmt.Fprintln(ctl.ErrWriter, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	ctl := cli.NewApp()
	ctl.Name = "oracled"
	ctl.Usage = "Flight status oracle node"
	ctl.ErrWriter = os.Stderr

	configFlag := cli.StringFlag{
		Name:  "config, c",
		Usage: "path to the YAML configuration file",
	}
	ctl.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "register the oracles and answer flight status requests",
			Action: run,
			Flags: []cli.Flag{
				configFlag,
				cli.IntFlag{
					Name:  "oracles, n",
					Usage: "number of accounts to register as oracles",
				},
			},
		},
		{
			Name:   "check",
			Usage:  "load and validate the configuration",
			Action: check,
			Flags:  []cli.Flag{configFlag},
		},
	}
	return ctl
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if n := c.Int("oracles"); n > 0 {
		cfg.Oracles = n
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func check(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	fmt.Fprintf(c.App.Writer, "configuration ok: %d oracles on %s\n", cfg.Oracles, cfg.LedgerURL)
	return nil
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.NewExitError(err, 1)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, log); err != nil {
		log.Error("oracle node failed", zap.Error(err))
		return cli.NewExitError(err, 1)
	}
	return nil
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	log.Info("configuration loaded",
		zap.String("ledger", cfg.LedgerURL),
		zap.String("app_contract", cfg.AppContract),
		zap.String("data_contract", cfg.DataContract),
		zap.Int("oracles", cfg.Oracles),
		zap.String("storage", cfg.Storage.Driver))

	client, err := eth.Dial(ctx, eth.Config{
		Log:          log.Named("ledger"),
		URL:          cfg.LedgerURL,
		AppContract:  common.HexToAddress(cfg.AppContract),
		DataContract: common.HexToAddress(cfg.DataContract),
		Gas:          eth.DefaultGas,
	})
	if err != nil {
		return fmt.Errorf("connect to ledger: %w", err)
	}
	defer client.Close()

	repo, err := storage.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN())
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if repo != nil {
		defer func() { _ = repo.Close() }()
		log.Info("storage connected", zap.String("driver", cfg.Storage.Driver))
	}

	var pub notify.Publisher = notify.NopPublisher{}
	if cfg.NATS.URL != "" {
		np, err := notify.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.Subject, log.Named("notify"))
		if err != nil {
			return err
		}
		pub = np
		log.Info("publishing events to nats", zap.String("subject", cfg.NATS.Subject))
	}
	defer func() { _ = pub.Close() }()

	coord := coordinator.New(coordinator.Config{
		Log:           log.Named("coordinator"),
		OracleCount:   cfg.Oracles,
		MaxConcurrent: cfg.MaxConcurrent,
		CallTimeout:   cfg.CallTimeout,
		QueueSize:     cfg.QueueSize,
		Retry:         cfg.Retry,
	}, coordinator.Deps{
		Ledger:     client,
		Repository: repo,
		Publisher:  pub,
	})

	// ops server first, /health reports 503 until the coordinator is live
	var srv *api.Server
	if cfg.MetricsAddr != "" {
		srv = api.NewServer(cfg.MetricsAddr, coord, repo, log.Named("api"))
		if err := srv.Start(); err != nil {
			return err
		}
	}

	startErr := coord.Start(ctx)

	if startErr == nil {
		<-ctx.Done()
		log.Warn("interrupt received, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = coord.Shutdown(shutdownCtx)
	if srv != nil {
		err = errors.Join(err, srv.Shutdown(shutdownCtx))
	}
	if startErr != nil {
		return fmt.Errorf("start coordinator: %w", startErr)
	}
	if err != nil {
		return err
	}
	log.Info("oracle node stopped")
	return nil
}
