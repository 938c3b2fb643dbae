// Package fallback calls capabilities in a fixed order until one answers.
//
// Each candidate is tried at most once, under its own timeout. The first
// non-empty answer wins; when the list is exhausted the caller gets an
// *AllFailedError naming every capability that was attempted, in order.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentoven/taskrouter/internal/capability"
	"github.com/agentoven/taskrouter/internal/metrics"
	"github.com/agentoven/taskrouter/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("taskrouter/fallback")

// DefaultTimeout applies to capabilities without their own timeout.
const DefaultTimeout = 60 * time.Second

// AllFailedError is returned when no candidate produced an answer.
type AllFailedError struct {
	Attempted []string
	LastError error
}

func (e *AllFailedError) Error() string {
	if len(e.Attempted) == 0 {
		return fmt.Sprintf("no capability attempted: %v", e.LastError)
	}
	return fmt.Sprintf("all capabilities failed (attempted %s): %v", strings.Join(e.Attempted, ", "), e.LastError)
}

func (e *AllFailedError) Unwrap() error { return e.LastError }

// Result is a successful call.
type Result struct {
	Output         string
	UsedCapability string
	Tier           models.Tier
	Attempted      []string
	Latency        time.Duration
}

// Caller is what the planner, step executor and recovery depend on.
// *Executor implements it.
type Caller interface {
	Execute(ctx context.Context, candidates []string, messages []models.ChatMessage, systemPrompt string) (Result, error)
}

// Executor runs ordered fallback chains. It is safe for concurrent use; the
// only mutable state is the latency average per capability.
type Executor struct {
	registry *capability.Registry
	timeout  time.Duration

	latencyMu sync.RWMutex
	latencies map[string]int64
}

// New creates an executor. A non-positive timeout selects DefaultTimeout.
func New(reg *capability.Registry, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{
		registry:  reg,
		timeout:   timeout,
		latencies: make(map[string]int64),
	}
}

// Execute tries candidates in order. A cancelled ctx stops iteration and is
// reported as the last error alongside the attempts made so far.
func (e *Executor) Execute(ctx context.Context, candidates []string, messages []models.ChatMessage, systemPrompt string) (Result, error) {
	var (
		attempted []string
		lastErr   error = capability.ErrNoCapabilities
	)

	for _, id := range candidates {
		if err := ctx.Err(); err != nil {
			return Result{}, &AllFailedError{Attempted: attempted, LastError: err}
		}

		c, ok := e.registry.Get(id)
		if !ok {
			log.Warn().Str("capability", id).Msg("Skipping unregistered capability")
			continue
		}

		attempted = append(attempted, id)
		start := time.Now()
		out, err := e.call(ctx, c, messages, systemPrompt)
		elapsed := time.Since(start)

		if err != nil {
			log.Warn().
				Str("capability", id).
				Dur("elapsed", elapsed).
				Err(err).
				Msg("Capability call failed, trying next")
			lastErr = err
			if ctx.Err() != nil {
				return Result{}, &AllFailedError{Attempted: attempted, LastError: ctx.Err()}
			}
			continue
		}

		e.recordLatency(id, elapsed.Milliseconds())
		return Result{
			Output:         out,
			UsedCapability: id,
			Tier:           c.Tier(),
			Attempted:      attempted,
			Latency:        elapsed,
		}, nil
	}

	return Result{}, &AllFailedError{Attempted: attempted, LastError: lastErr}
}

// call performs one attempt under the capability's own timeout.
func (e *Executor) call(ctx context.Context, c capability.Capability, messages []models.ChatMessage, systemPrompt string) (string, error) {
	timeout := e.timeout
	if d, ok := e.registry.Descriptor(c.ID()); ok && d.Timeout > 0 {
		timeout = d.Timeout
	}

	ctx, span := tracer.Start(ctx, "capability.invoke")
	span.SetAttributes(
		attribute.String("taskrouter.capability", c.ID()),
		attribute.String("taskrouter.tier", string(c.Tier())),
	)
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	out, err := invoke(callCtx, c, messages, systemPrompt)
	metrics.CapabilityLatency.WithLabelValues(c.ID()).Observe(time.Since(start).Seconds())

	outcome := "success"
	switch {
	case errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		// A late answer is discarded even when the driver ignored ctx.
		outcome = "timeout"
		err = &capability.ProviderError{Capability: c.ID(), Err: fmt.Errorf("timed out after %s: %w", timeout, context.DeadlineExceeded)}
	case err != nil:
		outcome = "error"
	case strings.TrimSpace(out) == "":
		outcome = "empty"
		err = &capability.ProviderError{Capability: c.ID(), Err: capability.ErrEmptyOutput}
	}
	metrics.CapabilityCalls.WithLabelValues(c.ID(), outcome).Inc()

	span.SetAttributes(attribute.String("taskrouter.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return "", err
	}
	return out, nil
}

func (e *Executor) recordLatency(id string, ms int64) {
	e.latencyMu.Lock()
	defer e.latencyMu.Unlock()
	prev := e.latencies[id]
	if prev == 0 {
		e.latencies[id] = ms
		return
	}
	// Exponential moving average
	e.latencies[id] = (prev*7 + ms*3) / 10
}

// Latency returns the moving average latency of id in milliseconds, or 0 when
// the capability has not answered yet.
func (e *Executor) Latency(id string) int64 {
	e.latencyMu.RLock()
	defer e.latencyMu.RUnlock()
	return e.latencies[id]
}

// Latencies returns a copy of all moving averages.
func (e *Executor) Latencies() map[string]int64 {
	e.latencyMu.RLock()
	defer e.latencyMu.RUnlock()
	out := make(map[string]int64, len(e.latencies))
	for k, v := range e.latencies {
		out[k] = v
	}
	return out
}

type invocation struct {
	out string
	err error
}

// invoke returns as soon as ctx is done. A driver that ignores ctx finishes
// in the background; the buffered channel lets it exit without a reader.
func invoke(ctx context.Context, c capability.Capability, messages []models.ChatMessage, systemPrompt string) (string, error) {
	done := make(chan invocation, 1)
	go func() {
		out, err := c.Invoke(ctx, messages, systemPrompt)
		done <- invocation{out: out, err: err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
