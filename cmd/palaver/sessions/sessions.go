package sessions

import (
	"context"
	"fmt"

	"palaver/internal/app"
	"palaver/internal/config"

	"github.com/spf13/cobra"
)

var show string

var Cmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored chat sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		a, err := app.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		out := cmd.OutOrStdout()
		if show != "" {
			s, err := a.Sessions.Open(ctx, show)
			if err != nil {
				return err
			}
			for _, m := range s.Messages() {
				if m.Name != "" {
					fmt.Fprintf(out, "[%s:%s] %s\n", m.Role, m.Name, m.Content)
					continue
				}
				fmt.Fprintf(out, "[%s] %s\n", m.Role, m.Content)
			}
			return nil
		}

		ids, err := a.Sessions.List(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintln(out, id)
		}
		return nil
	},
}

func init() {
	Cmd.Flags().StringVarP(&show, "show", "s", "", "print the transcript of one session")
}
