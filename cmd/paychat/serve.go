package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"paychat/internal/backend"
	"paychat/internal/bus"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the payment backend and the chat receivers",
		Long: `Serves the payment backend API (order creation, signature verification,
payment details) and the blank checkout page. The WebSocket transport and the
webhook receiver are started when enabled. Without Razorpay keys, or with
--local, orders are kept in memory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			sc := cfg.Server

			secret := sc.RazorpayKeySecret
			if secret == "" {
				secret = cfg.Gateway.KeySecret
			}
			if secret == "" {
				return errors.New("server.razorpayKeySecret (or gateway.keySecret) is required to verify checkout signatures")
			}

			var (
				orders   backend.OrderCreator
				payments backend.PaymentFetcher
			)
			if local || sc.RazorpayKeyID == "" {
				l := backend.NewLocal()
				orders, payments = l, l
				logger.Info("using in-memory gateway resources")
			} else {
				orders, payments = backend.NewRazorpay(sc.RazorpayKeyID, sc.RazorpayKeySecret)
			}

			a, err := newApp(cfg, os.Stdout)
			if err != nil {
				return err
			}
			defer a.close()

			srvCfg := backend.Config{
				Addr:      net.JoinHostPort(sc.Host, strconv.Itoa(sc.Port)),
				KeySecret: secret,
				Currency:  sc.Currency,
				Orders:    orders,
				Payments:  payments,
				Logger:    logger,
			}
			if cfg.Metrics.Enabled {
				srvCfg.Metrics = a.metrics
				srvCfg.MetricsPath = cfg.Metrics.Endpoint
			}
			srv, err := backend.NewServer(srvCfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a.events.On("*", func(e bus.Event) {
				logger.Debug("event", "type", e.Type, "source", e.Source, "payload", e.Payload)
			})
			for _, name := range []string{"websocket", "webhook"} {
				if a.channels.Get(name) == nil {
					continue
				}
				if err := a.channels.Start(ctx, name); err != nil {
					return fmt.Errorf("start receivers: %w", err)
				}
			}

			return srv.Start(ctx)
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "keep orders in memory even when Razorpay keys are set")
	return cmd
}
