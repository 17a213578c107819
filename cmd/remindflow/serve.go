package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"remindflow/api"
	"remindflow/auth"
)

func serveCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is required to serve the API")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := a.services(ctx)
			if err != nil {
				return err
			}

			h := &api.Handlers{
				Deadlines:  svc.deadlines,
				Scheduler:  svc.scheduler,
				Drainer:    svc.worker,
				Dispatcher: svc.dispatcher,
				Consent:    svc.gate,
				Receipts:   svc.receipts,
				Defaults:   api.Defaults{BatchSize: a.cfg.DrainBatchSize, WorkerID: a.cfg.WorkerID},
				Log:        a.log,
			}
			proofs, err := a.proofStore(ctx)
			if err != nil {
				a.log.WithError(err).Warn("proof storage unavailable, uploads disabled")
			} else if proofs != nil {
				h.Proofs = proofs
			}

			server := api.NewApp(h, api.Options{
				Tokens:        auth.NewService(a.cfg.JWTSecret, a.cfg.TokenTTL),
				ReceiptSecret: a.cfg.ReceiptSecret,
				Log:           a.log,
			})

			if addr == "" {
				addr = ":" + a.cfg.HTTPPort
			}
			errCh := make(chan error, 1)
			go func() {
				a.log.WithField("addr", addr).Info("http server starting")
				errCh <- server.Listen(addr)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			a.log.Info("shutting down http server")
			return server.ShutdownWithTimeout(10 * time.Second)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default :HTTP_PORT)")
	return cmd
}
