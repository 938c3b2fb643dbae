package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/agentoven/taskrouter/internal/cache"
	"github.com/agentoven/taskrouter/internal/capability"
	"github.com/agentoven/taskrouter/internal/config"
	"github.com/agentoven/taskrouter/pkg/server"
	"github.com/spf13/cobra"
)

func routeCmd(load func() (*config.Config, error)) *cobra.Command {
	var force string
	cmd := &cobra.Command{
		Use:   "route [text]",
		Short: "Print the routing decision for a text without calling any provider",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			reg, err := registry(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			srv, err := server.Assemble(cfg, reg, cache.Noop{})
			if err != nil {
				return err
			}

			info, err := srv.Service.Route(strings.Join(args, " "), force)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		},
	}
	cmd.Flags().StringVar(&force, "force", "", "force a capability id")
	return cmd
}

// registry builds the capability registry, reporting excluded entries.
func registry(ctx context.Context, cfg *config.Config) (*capability.Registry, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	reg, excluded := capability.Build(ctx, cfg.Capabilities)
	for _, err := range excluded {
		fmt.Fprintf(os.Stderr, "excluded: %v\n", err)
	}
	if reg == nil {
		return nil, capability.ErrNoCapabilities
	}
	return reg, nil
}
