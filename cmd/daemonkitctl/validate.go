package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loykin/daemonkit/internal/config"
)

func createValidateCommand() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a daemonkit TOML config file without starting a daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			fc, err := config.Load(path)
			if err != nil {
				return err
			}
			fmt.Printf("ok: %d mediator(s) configured\n", len(fc.Mediators))
			for _, m := range fc.Mediators {
				fmt.Printf("  - %s: strategy=%q max_processes=%d\n", m.Alias, m.Strategy, m.MaxProcesses)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "daemonkit.toml", "path to the TOML config file")
	return cmd
}
