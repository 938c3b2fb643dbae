// Package capability defines the provider capabilities the router selects
// between, and the registry that holds them.
//
// A capability is an opaque remote text-generation backend. Drivers exist for
// OpenAI, Anthropic and Gemini through their official SDKs, and for Ollama or
// any OpenAI-compatible endpoint over plain HTTP.
package capability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentoven/taskrouter/pkg/models"
)

// Capability is one interchangeable backend. Implementations must honour ctx
// cancellation and must be safe for concurrent use.
type Capability interface {
	ID() string
	Tier() models.Tier
	Invoke(ctx context.Context, messages []models.ChatMessage, systemPrompt string) (string, error)
}

// Descriptor is the static metadata registered alongside a capability.
type Descriptor struct {
	ID        string
	Kind      string
	Model     string
	Tier      models.Tier
	CostPer1K float64
	Timeout   time.Duration
}

// Described is implemented by capabilities that expose their descriptor.
type Described interface {
	Descriptor() Descriptor
}

// ErrEmptyOutput is returned when a capability answers successfully but with
// no text. The fallback executor treats it like any other provider error.
var ErrEmptyOutput = errors.New("empty output")

// ErrNoCapabilities is returned when no capability survived configuration.
var ErrNoCapabilities = errors.New("no capabilities configured")

// ProviderError is a single failed capability call.
type ProviderError struct {
	Capability string
	Status     int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Capability, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Capability, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ConfigError marks a capability that was excluded at startup.
type ConfigError struct {
	ID     string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("capability %s excluded: %s", e.ID, e.Reason)
}

// InvokeFunc adapts a function into a capability body.
type InvokeFunc func(ctx context.Context, messages []models.ChatMessage, systemPrompt string) (string, error)

type funcCapability struct {
	desc Descriptor
	fn   InvokeFunc
}

// NewFunc wraps fn as a Capability with the given descriptor.
func NewFunc(desc Descriptor, fn InvokeFunc) Capability {
	if desc.Kind == "" {
		desc.Kind = "func"
	}
	return &funcCapability{desc: desc, fn: fn}
}

func (c *funcCapability) ID() string             { return c.desc.ID }
func (c *funcCapability) Tier() models.Tier      { return c.desc.Tier }
func (c *funcCapability) Descriptor() Descriptor { return c.desc }

func (c *funcCapability) Invoke(ctx context.Context, messages []models.ChatMessage, systemPrompt string) (string, error) {
	return c.fn(ctx, messages, systemPrompt)
}
