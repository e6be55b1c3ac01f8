package main

import (
	"os"

	"palaver/cmd/palaver/chat"
	"palaver/cmd/palaver/gateway"
	"palaver/cmd/palaver/models"
	"palaver/cmd/palaver/sessions"
	"palaver/internal/logger"

	"github.com/spf13/cobra"
)

func main() {
	logger.Init()
	rootCmd := &cobra.Command{
		Use:          "palaver",
		Short:        "Palaver is a streaming chat assistant with tool calling",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(chat.Cmd)
	rootCmd.AddCommand(gateway.Cmd)
	rootCmd.AddCommand(sessions.Cmd)
	rootCmd.AddCommand(models.Cmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
