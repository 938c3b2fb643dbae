package capability

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentoven/taskrouter/pkg/models"
	"google.golang.org/genai"
)

type GeminiCapability struct {
	desc   Descriptor
	client *genai.Client
}

// NewGeminiCapability creates a Gemini API client. Client construction does
// not touch the network.
func NewGeminiCapability(ctx context.Context, desc Descriptor, apiKey, baseURL string) (*GeminiCapability, error) {
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiCapability{desc: desc, client: client}, nil
}

func (c *GeminiCapability) ID() string             { return c.desc.ID }
func (c *GeminiCapability) Tier() models.Tier      { return c.desc.Tier }
func (c *GeminiCapability) Descriptor() Descriptor { return c.desc }

func (c *GeminiCapability) Invoke(ctx context.Context, messages []models.ChatMessage, systemPrompt string) (string, error) {
	contents := make([]*genai.Content, 0, len(messages))
	var system []string
	if systemPrompt != "" {
		system = append(system, systemPrompt)
	}
	for _, m := range messages {
		switch m.Role {
		case models.RoleSystem:
			system = append(system, m.Content)
		case models.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	var cfg *genai.GenerateContentConfig
	if len(system) > 0 {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser),
		}
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.desc.Model, contents, cfg)
	if err != nil {
		return "", &ProviderError{Capability: c.desc.ID, Err: err}
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", &ProviderError{Capability: c.desc.ID, Err: fmt.Errorf("malformed response: no candidates")}
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}
