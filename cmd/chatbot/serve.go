package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/brunobiu/chatbotprincipal/internal/api"
	"github.com/brunobiu/chatbotprincipal/internal/service"
)

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the message pipeline and the inactivity reclaimer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			apiServer := api.NewServer(a.orch, cfg.Server.Addr, log)
			reclaimer := service.NewReclaimer(a.orch, cfg.Pipeline.ReclaimInterval, log)
			reclaimer.Start(ctx)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(apiServer.Start)
			g.Go(func() error {
				<-gctx.Done()
				log.Info().Msg("shutting down")

				timeout := cfg.Server.ShutdownTimeout
				if timeout <= 0 {
					timeout = 30 * time.Second
				}
				shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
				defer cancel()

				// Stop intake first, then answer what is still buffered
				if err := apiServer.Shutdown(shutdownCtx); err != nil {
					log.Warn().Err(err).Msg("api shutdown")
				}
				reclaimer.Stop()
				return a.orch.Shutdown(shutdownCtx)
			})

			log.Info().Str("version", Version).Str("addr", cfg.Server.Addr).Msg("chatbot started")
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
