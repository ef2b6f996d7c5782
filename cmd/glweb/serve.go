package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"glweb/middleware"
	"glweb/registry"
	"glweb/schema"
	"glweb/server"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveFlags struct {
	listen    string
	advertise string
	h2c       bool
	auth      bool
	grace     time.Duration
	autoPay   time.Duration
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run an in-memory development node",
	Long: `Serve an in-memory node over grpc-web for local testing.

When registry.etcd_endpoints is configured and --advertise is set, the node
registers itself under its id so clients can discover it.

With --auto-pay, every open invoice is paid on that interval, which pushes an
invoice_paid event to every "glweb stream-events" subscriber.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		schemaReg := schema.Default()
		if cfg.Schema != "" {
			var err error
			if schemaReg, err = schema.Load(cfg.Schema); err != nil {
				return err
			}
		}

		dev := server.NewDevNode(cfg.Network, logger)
		svr := server.NewServer(schemaReg,
			server.WithLogger(logger),
			server.WithAuth(serveFlags.auth),
			server.WithH2C(serveFlags.h2c),
			server.WithNodeID(dev.ID()),
			server.WithTTL(cfg.Registry.TTL),
		)
		svr.Use(middleware.LoggingMiddleware(logger))
		if err := dev.Register(svr); err != nil {
			return err
		}

		var reg registry.Registry
		if serveFlags.advertise != "" && len(cfg.Registry.EtcdEndpoints) > 0 {
			etcdReg, err := registry.NewEtcdRegistry(cfg.Registry.EtcdEndpoints, cfg.Registry.Prefix, cfg.Registry.DialTimeout, logger)
			if err != nil {
				return err
			}
			defer etcdReg.Close()
			reg = etcdReg
		}

		fmt.Fprintf(os.Stderr, "%s node %s on %s\n", color.GreenString("serving"), dev.ID(), serveFlags.listen)

		errc := make(chan error, 1)
		go func() { errc <- svr.Serve("tcp", serveFlags.listen, serveFlags.advertise, reg) }()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sig)

		if serveFlags.autoPay > 0 {
			done := make(chan struct{})
			defer close(done)
			go autoPay(dev, serveFlags.autoPay, done)
		}

		select {
		case err := <-errc:
			return err
		case s := <-sig:
			logger.Info("shutting down", zap.String("signal", s.String()))
		}
		if err := svr.Shutdown(serveFlags.grace); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
		return <-errc
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.listen, "listen", "127.0.0.1:1111", "listen address")
	f.StringVar(&serveFlags.advertise, "advertise", "", "base URL published to the registry")
	f.BoolVar(&serveFlags.h2c, "h2c", true, "accept cleartext HTTP/2")
	f.BoolVar(&serveFlags.auth, "auth", false, "reject calls without auth headers")
	f.DurationVar(&serveFlags.grace, "grace", 5*time.Second, "shutdown grace period")
	f.DurationVar(&serveFlags.autoPay, "auto-pay", 0, "pay open invoices on this interval (0 disables)")
}

func autoPay(dev *server.DevNode, every time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			for _, label := range dev.PayAll() {
				logger.Info("invoice paid", zap.String("label", label))
			}
		}
	}
}
