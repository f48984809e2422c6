package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"paper-trade-engine-go/internal/trader"
)

func newRunCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the engine, the HTTP API and the event stream until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, rc)
			if err != nil {
				return err
			}
			defer a.close()

			api := trader.NewAPIServer(a.engine, a.cfg.Server.Port, a.events, a.hub, a.log)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return a.hub.Run(gctx) })
			g.Go(func() error { return api.Run(gctx) })
			g.Go(func() error {
				// A halted engine keeps serving the API so the state can be inspected and reset.
				if err := a.engine.Run(gctx); err != nil {
					a.log.Error("Engine stopped", zap.Error(err))
				}
				<-gctx.Done()
				return nil
			})

			err = g.Wait()
			if err != nil && ctx.Err() == nil {
				return err
			}
			a.log.Info("Bot has been shut down.")
			return nil
		},
	}
}
