// Package cache stores final chat responses keyed by a request fingerprint.
//
// The cache is the only mutable state shared between requests. Backends are
// an in-process expiring LRU and redis; both are last-write-wins.
package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentoven/taskrouter/internal/config"
	"github.com/agentoven/taskrouter/internal/metrics"
	"github.com/agentoven/taskrouter/pkg/models"
	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"
)

// Cache is a response cache. Get never fails: backend errors are misses.
type Cache interface {
	Get(ctx context.Context, key string) (models.ChatResponse, bool)
	Set(ctx context.Context, key string, value models.ChatResponse)
	Name() string
	Close() error
}

// New builds the backend selected by cfg.
func New(ctx context.Context, cfg config.CacheConfig) (Cache, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(cfg.Size, cfg.TTL), nil
	case "redis":
		return NewRedis(ctx, cfg.Redis, cfg.TTL)
	case "none":
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// Fingerprint identifies a request for caching: the agent type, the
// normalized last user prompt and a digest of every other turn.
func Fingerprint(agentType string, messages []models.ChatMessage) string {
	last := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			last = i
			break
		}
	}

	var prompt string
	before, after := messages, []models.ChatMessage(nil)
	if last >= 0 {
		prompt = messages[last].Content
		before, after = messages[:last], messages[last+1:]
	}

	// Turns on either side of the prompt are digested separately so that
	// moving a turn across the prompt changes the key.
	ctxDigest := xxhash.New()
	writeTurns(ctxDigest, before)
	_, _ = ctxDigest.Write([]byte{1})
	writeTurns(ctxDigest, after)

	h := xxhash.New()
	_, _ = h.WriteString(strings.ToLower(strings.TrimSpace(agentType)))
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(normalize(prompt))
	_, _ = h.Write([]byte{0})
	_, _ = fmt.Fprintf(h, "%016x", ctxDigest.Sum64())
	return fmt.Sprintf("%016x", h.Sum64())
}

func writeTurns(d *xxhash.Digest, turns []models.ChatMessage) {
	for _, m := range turns {
		_, _ = d.WriteString(m.Role)
		_, _ = d.Write([]byte{0})
		_, _ = d.WriteString(normalize(m.Content))
		_, _ = d.Write([]byte{0})
	}
}

// normalize lowercases and collapses whitespace.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func observe(backend string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	metrics.CacheLookups.WithLabelValues(backend, result).Inc()
	log.Debug().Str("backend", backend).Str("result", result).Msg("Cache lookup")
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string) (models.ChatResponse, bool) { return models.ChatResponse{}, false }
func (Noop) Set(context.Context, string, models.ChatResponse)         {}
func (Noop) Name() string                                             { return "none" }
func (Noop) Close() error                                             { return nil }
