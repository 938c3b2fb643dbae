package capability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentoven/taskrouter/pkg/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Registry is an immutable snapshot of the capabilities available to the
// process. It is built once at startup and read without locking.
type Registry struct {
	order  []Capability
	byID   map[string]Capability
	byTier map[models.Tier][]Capability
}

// NewRegistry builds a registry from already constructed capabilities.
// Duplicate ids and invalid tiers are rejected.
func NewRegistry(caps ...Capability) (*Registry, error) {
	r := &Registry{
		byID:   make(map[string]Capability, len(caps)),
		byTier: make(map[models.Tier][]Capability),
	}
	for _, c := range caps {
		if c == nil {
			continue
		}
		if _, dup := r.byID[c.ID()]; dup {
			return nil, fmt.Errorf("duplicate capability id %q", c.ID())
		}
		if !c.Tier().Valid() {
			return nil, fmt.Errorf("capability %q: invalid tier %q", c.ID(), c.Tier())
		}
		r.order = append(r.order, c)
		r.byID[c.ID()] = c
		r.byTier[c.Tier()] = append(r.byTier[c.Tier()], c)
	}
	if len(r.order) == 0 {
		return nil, ErrNoCapabilities
	}
	return r, nil
}

// Get returns the capability with the given id.
func (r *Registry) Get(id string) (Capability, bool) {
	c, ok := r.byID[id]
	return c, ok
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int { return len(r.order) }

// IDs returns all capability ids in registration order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.order))
	for i, c := range r.order {
		ids[i] = c.ID()
	}
	return ids
}

// ByTier returns the ids registered for a tier, in registration order.
func (r *Registry) ByTier(t models.Tier) []string {
	caps := r.byTier[t]
	ids := make([]string, len(caps))
	for i, c := range caps {
		ids[i] = c.ID()
	}
	return ids
}

// Descriptor returns the descriptor for id, synthesizing one for
// capabilities that do not expose metadata.
func (r *Registry) Descriptor(id string) (Descriptor, bool) {
	c, ok := r.byID[id]
	if !ok {
		return Descriptor{}, false
	}
	if d, ok := c.(Described); ok {
		return d.Descriptor(), true
	}
	return Descriptor{ID: c.ID(), Tier: c.Tier()}, true
}

// Descriptors returns all descriptors in registration order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, c := range r.order {
		d, _ := r.Descriptor(c.ID())
		out = append(out, d)
	}
	return out
}

// ProbeResult is the outcome of a single liveness probe.
type ProbeResult struct {
	ID        string
	Healthy   bool
	LatencyMs int64
	Error     string
}

// Probe sends a minimal prompt to every capability concurrently and reports
// which ones answered. It never fails as a whole.
func (r *Registry) Probe(ctx context.Context, timeout time.Duration) []ProbeResult {
	results := make([]ProbeResult, len(r.order))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, c := range r.order {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()

			start := time.Now()
			out, err := c.Invoke(pctx, []models.ChatMessage{{Role: models.RoleUser, Content: "Say OK"}}, "")
			res := ProbeResult{ID: c.ID(), LatencyMs: time.Since(start).Milliseconds()}
			switch {
			case err != nil:
				res.Error = err.Error()
			case out == "":
				res.Error = ErrEmptyOutput.Error()
			default:
				res.Healthy = true
			}

			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		log.Debug().Str("capability", res.ID).Bool("healthy", res.Healthy).Int64("latency_ms", res.LatencyMs).Msg("Capability probed")
	}
	return results
}
