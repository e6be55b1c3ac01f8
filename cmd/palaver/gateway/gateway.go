package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"palaver/internal/app"
	"palaver/internal/config"
	gw "palaver/internal/gateway"

	"github.com/spf13/cobra"
)

var addr string

var Cmd = &cobra.Command{
	Use:   "gateway",
	Short: "Serve the chat API over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if addr != "" {
			cfg.Gateway.Addr = addr
		}

		a, err := app.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(context.WithoutCancel(ctx)); err != nil {
				slog.Error("shutdown failed", "error", err)
			}
		}()

		srv := gw.NewServer(a.Sessions, cfg.Models(), cfg.Gateway.AllowedOrigins)
		slog.Info("starting gateway", "addr", cfg.Gateway.Addr, "default_llm", cfg.DefaultLLM, "tools", a.Registry.Len())
		return srv.ListenAndServe(ctx, cfg.Gateway.Addr)
	},
}

func init() {
	Cmd.Flags().StringVarP(&addr, "addr", "a", "", "override gateway listen address")
}
