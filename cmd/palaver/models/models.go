package models

import (
	"fmt"
	"text/tabwriter"

	"palaver/internal/config"

	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:   "models",
	Short: "List the model catalogue",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tNAME\tMODEL\tPROVIDER\tCONTEXT\tTOOLS")
		for _, m := range cfg.Models() {
			key := m.Key
			if m.Default {
				key += " *"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%t\n", key, m.Name, m.Model, m.Provider, m.ContextWindow, m.Tools)
		}
		return tw.Flush()
	},
}
