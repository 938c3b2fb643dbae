// taskrouter routes chat requests across interchangeable model providers and
// runs complex requests as multi-step plans.
//
// Commands:
//   - serve: run the HTTP API
//   - route: print the routing decision for a text
//   - capabilities: list (and optionally probe) configured capabilities
package main

import (
	"os"
	"strings"
	"time"

	"github.com/agentoven/taskrouter/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:           "taskrouter",
		Short:         "AI request router and task execution engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (YAML)")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return nil, err
		}
		setupLogging(cfg.Log)
		return cfg, nil
	}

	root.AddCommand(serveCmd(load), routeCmd(load), capabilitiesCmd(load))
	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("taskrouter failed")
		os.Exit(1)
	}
}

// setupLogging configures the global zerolog logger.
func setupLogging(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if strings.EqualFold(cfg.Format, "json") {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func init() {
	// Default until config is loaded.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}
