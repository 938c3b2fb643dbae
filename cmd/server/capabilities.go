package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/agentoven/taskrouter/internal/config"
	"github.com/spf13/cobra"
)

func capabilitiesCmd(load func() (*config.Config, error)) *cobra.Command {
	var (
		probe   bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "capabilities",
		Short: "List configured capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			reg, err := registry(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			defer w.Flush()

			if !probe {
				fmt.Fprintln(w, "ID\tKIND\tMODEL\tTIER\tCOST/1K")
				for _, d := range reg.Descriptors() {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.5f\n", d.ID, d.Kind, d.Model, d.Tier, d.CostPer1K)
				}
				return nil
			}

			fmt.Fprintln(w, "ID\tHEALTHY\tLATENCY\tERROR")
			unhealthy := 0
			for _, r := range reg.Probe(cmd.Context(), timeout) {
				if !r.Healthy {
					unhealthy++
				}
				fmt.Fprintf(w, "%s\t%t\t%dms\t%s\n", r.ID, r.Healthy, r.LatencyMs, r.Error)
			}
			if unhealthy > 0 {
				w.Flush()
				return fmt.Errorf("%d capabilities failed the probe", unhealthy)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", false, "send a short prompt to every capability")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "per-capability probe timeout")
	return cmd
}
