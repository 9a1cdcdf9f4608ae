package commands

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/layer-3/onerecurr/service"
)

// serve runs the HTTP API with the relay connection and the expiry sweep.
func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := appCtx.Log

			if _, err := appCtx.Resume(ctx); err != nil {
				log.WithError(err).Warn("failed to resume wallet")
			}
			if err := appCtx.Relay.Connect(ctx); err != nil {
				log.WithError(err).Warn("relay unavailable")
			}

			sched := service.NewScheduler(log)
			if err := service.ScheduleExpiryCheck(sched, appCtx.Sessions); err != nil {
				return err
			}
			if err := sched.Every(30*time.Second, "relay-status", func(context.Context) {
				log.WithField("status", appCtx.Relay.Status()).Debug("relay status")
			}); err != nil {
				return err
			}
			sched.Start()
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				sched.Stop(stopCtx)
			}()

			srv := &http.Server{
				Addr:              cfg.Listen,
				Handler:           appCtx.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				log.WithField("addr", cfg.Listen).Info("listening")
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.Listen, "listen", cfg.Listen, "listen address")
	f.Float64Var(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "requests per second per client on session routes (0 disables)")
	f.IntVar(&cfg.RateBurst, "rate-burst", cfg.RateBurst, "burst size for --rate-limit")
	f.DurationVar(&cfg.HeartbeatTimeout, "heartbeat-timeout", cfg.HeartbeatTimeout, "drop a silent relay connection after this long (0 disables)")
	return cmd
}
