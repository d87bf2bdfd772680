package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func createStatsCommand(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print a daemon's mediator statistics as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newAPIClient(g.APIUrl, g.Timeout)
			var out map[string]any
			if err := c.getJSON("/stats", &out); err != nil {
				return err
			}
			b, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(b))
			return nil
		},
	}
}

func createHealthCommand(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check whether a daemon's stats plugin reports it healthy",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newAPIClient(g.APIUrl, g.Timeout)
			var out struct {
				OK    bool   `json:"ok"`
				State string `json:"state"`
				PID   int    `json:"pid"`
			}
			if err := c.getJSON("/healthz", &out); err != nil {
				return err
			}
			fmt.Printf("ok=%v state=%s pid=%d\n", out.OK, out.State, out.PID)
			return nil
		},
	}
}
