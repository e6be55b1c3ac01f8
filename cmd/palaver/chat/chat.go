package chat

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"palaver/internal/app"
	"palaver/internal/config"
	"palaver/internal/logger"

	"github.com/spf13/cobra"
)

var (
	model  string
	resume string
)

var Cmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat in the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.Quiet()
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		a, err := app.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(context.WithoutCancel(ctx)); err != nil {
				slog.Error("saving sessions failed", "error", err)
			}
		}()

		r := &REPL{
			Sessions: a.Sessions,
			Models:   cfg.LLMKeys(),
			In:       os.Stdin,
			Out:      cmd.OutOrStdout(),
		}
		return r.Run(ctx, model, resume)
	},
}

func init() {
	Cmd.Flags().StringVarP(&model, "model", "m", "", "catalogue key to start with")
	Cmd.Flags().StringVarP(&resume, "resume", "r", "", "session id to resume")
}
