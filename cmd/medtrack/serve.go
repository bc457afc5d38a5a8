package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	httpapi "github.com/tbourn/medtrack-backend/internal/http"
	"github.com/tbourn/medtrack-backend/internal/worker"
)

// shutdownGrace bounds graceful HTTP and scheduler shutdown.
const shutdownGrace = 15 * time.Second

func serveCmd(g *globalFlags) *cobra.Command {
	var noSweep bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the background sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, closeDB, err := setup(cmd, g, true)
			if err != nil {
				return err
			}
			defer closeDB()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdownTracing := env.tracing(ctx, "serve")
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
				defer cancel()
				_ = shutdownTracing(sctx)
			}()

			st := env.stack()

			var runner *worker.Runner
			if env.cfg.Schedule.SweepEnabled && !noSweep {
				runner, err = worker.NewRunner(
					worker.Config{Location: env.cfg.Schedule.Location()},
					env.log,
					worker.SweepJob(st.Sweeper, env.cfg.Schedule.SweepSchedule),
					worker.PurgeIdempotencyJob(env.db, worker.DefaultPurgeSpec),
				)
				if err != nil {
					return err
				}
				if err := runner.Start(); err != nil {
					return err
				}
			}

			gin.SetMode(env.cfg.GinMode)
			r := gin.New()
			httpapi.RegisterRoutes(r, env.db, st, env.cfg)

			srv := &http.Server{
				Addr:              net.JoinHostPort("", env.cfg.Port),
				Handler:           r,
				ReadTimeout:       env.cfg.ReadTimeout,
				ReadHeaderTimeout: env.cfg.ReadHeaderTimeout,
				WriteTimeout:      env.cfg.WriteTimeout,
				IdleTimeout:       env.cfg.IdleTimeout,
				MaxHeaderBytes:    env.cfg.MaxHeaderBytes,
			}

			errc := make(chan error, 1)
			go func() {
				env.log.Info().
					Str("addr", srv.Addr).
					Str("base_path", env.cfg.APIBasePath).
					Str("tz", env.cfg.Schedule.TZName).
					Bool("sweeper", runner != nil).
					Str("version", version).
					Msg("listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
				close(errc)
			}()

			select {
			case err := <-errc:
				if err != nil {
					return err
				}
			case <-ctx.Done():
				env.log.Info().Msg("shutting down")
			}

			sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if runner != nil {
				runner.Stop(sctx)
			}
			if err := srv.Shutdown(sctx); err != nil {
				env.log.Error().Err(err).Msg("http shutdown")
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noSweep, "no-sweep", false, "do not start the background sweeper")
	return cmd
}
