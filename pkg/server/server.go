// Package server provides the public entry point for initializing the
// taskrouter service. Everything is built once at startup; the capability
// registry, rule table and tool registry are immutable afterwards.
//
// Usage:
//
//	cfg, _ := config.Load(path)
//	srv, err := server.New(ctx, cfg)
//	http.ListenAndServe(fmt.Sprintf(":%d", srv.Port), srv.Handler)
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/agentoven/taskrouter/internal/api"
	"github.com/agentoven/taskrouter/internal/api/handlers"
	"github.com/agentoven/taskrouter/internal/cache"
	"github.com/agentoven/taskrouter/internal/capability"
	"github.com/agentoven/taskrouter/internal/classify"
	"github.com/agentoven/taskrouter/internal/config"
	"github.com/agentoven/taskrouter/internal/executor"
	"github.com/agentoven/taskrouter/internal/fallback"
	"github.com/agentoven/taskrouter/internal/guardrails"
	"github.com/agentoven/taskrouter/internal/mcpgw"
	"github.com/agentoven/taskrouter/internal/orchestrator"
	"github.com/agentoven/taskrouter/internal/planner"
	"github.com/agentoven/taskrouter/internal/router"
	"github.com/agentoven/taskrouter/internal/telemetry"
	"github.com/agentoven/taskrouter/internal/tools"
	"github.com/agentoven/taskrouter/pkg/models"

	"github.com/rs/zerolog/log"
)

// Server holds the initialized taskrouter service.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	Service  *orchestrator.Service
	Registry *capability.Registry
	Fallback *fallback.Executor
	Tools    *tools.Registry
	Cache    cache.Cache
	Config   *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all components from cfg and returns a ready Server. It
// fails with capability.ErrNoCapabilities when no capability survives
// configuration.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, cfg.Server.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	reg, excluded := capability.Build(ctx, cfg.Capabilities)
	if reg == nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("build capabilities: %w", errors.Join(excluded...))
	}
	log.Info().Int("registered", reg.Len()).Int("excluded", len(excluded)).Msg("Capability registry ready")

	c, err := cache.New(ctx, cfg.Cache)
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("init cache: %w", err)
	}
	log.Info().Str("backend", c.Name()).Dur("ttl", cfg.Cache.TTL).Msg("Response cache ready")

	srv, err := Assemble(cfg, reg, c)
	if err != nil {
		_ = c.Close()
		_ = shutdown(ctx)
		return nil, err
	}
	srv.ShutdownFunc = func(ctx context.Context) error {
		return errors.Join(c.Close(), shutdown(ctx))
	}
	return srv, nil
}

// Assemble wires the pipeline over an existing registry and cache. Tests use
// it with fake capabilities.
func Assemble(cfg *config.Config, reg *capability.Registry, c cache.Cache) (*Server, error) {
	fb := fallback.New(reg, cfg.Fallback.Timeout)

	toolReg, err := tools.NewRegistry(toolHandlers(cfg.Tools, fb, ByTier(reg, models.TierOrder...)))
	if err != nil {
		return nil, fmt.Errorf("init tools: %w", err)
	}

	rt := router.New(reg, router.Thresholds{
		ComplexThreshold: cfg.Routing.ComplexThreshold,
		LongThreshold:    cfg.Routing.LongThreshold,
	})
	scorer := classify.NewScorer(classify.Thresholds{
		LongWords:      cfg.Routing.LongWords,
		VeryLongWords:  cfg.Routing.VeryLongWords,
		VeryShortChars: cfg.Routing.VeryShortChars,
	})

	// Recovery decisions are short; ask the cheapest capabilities first.
	recoveryCandidates := ByTier(reg, models.TierCheap, models.TierStandard, models.TierDeep)
	engine := executor.NewEngine(
		planner.New(fb, toolReg.AvailableSpecs(), cfg.Planner.MaxSteps),
		executor.NewStepExecutor(fb, toolReg, cfg.Executor.Window, cfg.Executor.ResultChars),
		executor.NewSupervisor(fb, recoveryCandidates),
		executor.NewSynthesizer(fb, cfg.Executor.ResultChars),
	)

	svc := orchestrator.New(orchestrator.Deps{
		Registry:      reg,
		Router:        rt,
		Scorer:        scorer,
		Fallback:      fb,
		Engine:        engine,
		Cache:         c,
		Guardrails:    guardrails.FromConfig(cfg.Guardrails),
		Personas:      orchestrator.NewPersonas(cfg.Personas),
		PlanThreshold: cfg.Routing.PlanThreshold,
	})

	gw := mcpgw.NewGateway(toolReg, cfg.Server.Version)
	h := handlers.New(svc, reg, fb, gw)
	handler := api.NewRouter(h, api.Info{
		Service:      cfg.Telemetry.ServiceName,
		Version:      cfg.Server.Version,
		Capabilities: reg.Len(),
	})

	log.Info().
		Int("tools", len(toolReg.AvailableSpecs())).
		Int("plan_threshold", cfg.Routing.PlanThreshold).
		Msg("Pipeline assembled")

	return &Server{
		Handler:      handler,
		Service:      svc,
		Registry:     reg,
		Fallback:     fb,
		Tools:        toolReg,
		Cache:        c,
		Config:       cfg,
		Port:         cfg.Server.Port,
		ShutdownFunc: func(context.Context) error { return nil },
	}, nil
}

// ByTier lists registered capability ids grouped by the given tier order.
func ByTier(reg *capability.Registry, order ...models.Tier) []string {
	var out []string
	for _, t := range order {
		out = append(out, reg.ByTier(t)...)
	}
	return out
}

// toolHandlers binds the tools whose credentials are present. Missing ones
// are left to the registry, which marks them unavailable.
func toolHandlers(cfg config.ToolsConfig, caller fallback.Caller, codeCandidates []string) map[models.ToolID]tools.Handler {
	client := &http.Client{Timeout: 60 * time.Second}
	out := map[models.ToolID]tools.Handler{
		models.ToolCodeSynthesize: tools.NewCodeSynthesize(caller, codeCandidates),
	}

	if cfg.SearchProvider != "" {
		key := cfg.SearchAPIKey
		if key == "" {
			key = os.Getenv(searchKeyEnv(cfg.SearchProvider))
		}
		ws, err := tools.NewWebSearch(tools.SearchProvider(cfg.SearchProvider), key, cfg.SearchBaseURL, client)
		if err != nil {
			log.Warn().Err(err).Msg("web_search disabled")
		} else {
			out[models.ToolWebSearch] = ws
		}
	}

	imageKey := cfg.ImageAPIKey
	if imageKey == "" {
		imageKey = os.Getenv("OPENAI_API_KEY")
	}
	if imageKey != "" {
		ig, err := tools.NewImageGenerate(cfg.ImageBaseURL, imageKey, cfg.ImageModel, client)
		if err != nil {
			log.Warn().Err(err).Msg("image_generate disabled")
		} else {
			out[models.ToolImageGenerate] = ig
		}
	}
	return out
}

func searchKeyEnv(provider string) string {
	switch tools.SearchProvider(provider) {
	case tools.SearchSerper:
		return "SERPER_API_KEY"
	default:
		return "BRAVE_API_KEY"
	}
}
