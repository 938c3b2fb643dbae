package capability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/agentoven/taskrouter/internal/config"
	"github.com/agentoven/taskrouter/pkg/models"
	"github.com/rs/zerolog/log"
)

// Build constructs every configured capability. Entries with missing
// credentials or invalid settings are excluded and reported as ConfigErrors;
// the registry is still returned as long as at least one capability remains.
func Build(ctx context.Context, cfgs []config.CapabilityConfig) (*Registry, []error) {
	var (
		caps     []Capability
		excluded []error
	)
	client := &http.Client{Timeout: 120 * time.Second}

	for _, cc := range cfgs {
		c, err := build(ctx, cc, client)
		if err != nil {
			log.Warn().Str("capability", cc.ID).Str("kind", cc.Kind).Err(err).Msg("Capability excluded")
			excluded = append(excluded, err)
			continue
		}
		caps = append(caps, c)
		log.Info().Str("capability", cc.ID).Str("kind", cc.Kind).Str("tier", cc.Tier).Str("model", cc.Model).Msg("Capability registered")
	}

	reg, err := NewRegistry(caps...)
	if err != nil {
		return nil, append(excluded, err)
	}
	return reg, excluded
}

func build(ctx context.Context, cc config.CapabilityConfig, client *http.Client) (Capability, error) {
	desc := Descriptor{
		ID:        cc.ID,
		Kind:      cc.Kind,
		Model:     cc.Model,
		Tier:      models.Tier(cc.Tier),
		CostPer1K: cc.CostPer1K,
		Timeout:   cc.Timeout,
	}
	if !desc.Tier.Valid() {
		return nil, &ConfigError{ID: cc.ID, Reason: "invalid tier " + cc.Tier}
	}
	if cc.Model == "" {
		return nil, &ConfigError{ID: cc.ID, Reason: "model is required"}
	}

	key := cc.ResolvedAPIKey()
	needsKey := func() error {
		if key == "" {
			reason := "api key not configured"
			if cc.APIKeyEnv != "" {
				reason += " (" + cc.APIKeyEnv + " is empty)"
			}
			return &ConfigError{ID: cc.ID, Reason: reason}
		}
		return nil
	}

	switch cc.Kind {
	case "openai":
		if err := needsKey(); err != nil {
			return nil, err
		}
		return NewOpenAICapability(desc, key, cc.BaseURL, cc.MaxTokens), nil
	case "anthropic":
		if err := needsKey(); err != nil {
			return nil, err
		}
		return NewAnthropicCapability(desc, key, cc.BaseURL, cc.MaxTokens), nil
	case "gemini":
		if err := needsKey(); err != nil {
			return nil, err
		}
		g, err := NewGeminiCapability(ctx, desc, key, cc.BaseURL)
		if err != nil {
			return nil, &ConfigError{ID: cc.ID, Reason: err.Error()}
		}
		return g, nil
	case "ollama":
		return NewHTTPCapability(desc, cc.BaseURL, key, cc.MaxTokens, client), nil
	case "openai-compatible":
		if cc.BaseURL == "" {
			return nil, &ConfigError{ID: cc.ID, Reason: "base_url is required"}
		}
		return NewHTTPCapability(desc, cc.BaseURL, key, cc.MaxTokens, client), nil
	default:
		return nil, &ConfigError{ID: cc.ID, Reason: "unknown kind " + cc.Kind}
	}
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
