package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/agentoven/taskrouter/pkg/models"
)

// ── OpenAI-compatible HTTP driver (Ollama, vLLM, LM Studio, ...) ──

type chatCompletionRequest struct {
	Model     string               `json:"model"`
	Messages  []models.ChatMessage `json:"messages"`
	MaxTokens int                  `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// HTTPCapability talks to any endpoint that accepts OpenAI chat-completion
// requests. No SDK is involved; this keeps self-hosted backends dependency free.
type HTTPCapability struct {
	desc      Descriptor
	endpoint  string
	apiKey    string
	maxTokens int
	client    *http.Client
}

// NewHTTPCapability builds a driver for an OpenAI-compatible endpoint.
// For kind "ollama" the /v1 prefix is added and no key is required.
func NewHTTPCapability(desc Descriptor, baseURL, apiKey string, maxTokens int, client *http.Client) *HTTPCapability {
	endpoint := strings.TrimRight(baseURL, "/")
	if desc.Kind == "ollama" {
		if endpoint == "" {
			endpoint = "http://localhost:11434"
		}
		if !strings.HasSuffix(endpoint, "/v1") {
			endpoint += "/v1"
		}
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPCapability{
		desc:      desc,
		endpoint:  endpoint,
		apiKey:    apiKey,
		maxTokens: maxTokens,
		client:    client,
	}
}

func (c *HTTPCapability) ID() string             { return c.desc.ID }
func (c *HTTPCapability) Tier() models.Tier      { return c.desc.Tier }
func (c *HTTPCapability) Descriptor() Descriptor { return c.desc }

func (c *HTTPCapability) Invoke(ctx context.Context, messages []models.ChatMessage, systemPrompt string) (string, error) {
	msgs := withSystemPrompt(messages, systemPrompt)
	body, err := json.Marshal(chatCompletionRequest{Model: c.desc.Model, Messages: msgs, MaxTokens: c.maxTokens})
	if err != nil {
		return "", &ProviderError{Capability: c.desc.ID, Err: fmt.Errorf("encode request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", &ProviderError{Capability: c.desc.ID, Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return "", &ProviderError{Capability: c.desc.ID, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return "", &ProviderError{
			Capability: c.desc.ID,
			Status:     httpResp.StatusCode,
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(respBody))),
		}
	}

	var out chatCompletionResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
		return "", &ProviderError{Capability: c.desc.ID, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(out.Choices) == 0 {
		return "", &ProviderError{Capability: c.desc.ID, Err: fmt.Errorf("malformed response: no choices")}
	}
	return out.Choices[0].Message.Content, nil
}

// withSystemPrompt prepends systemPrompt as a system message when set.
func withSystemPrompt(messages []models.ChatMessage, systemPrompt string) []models.ChatMessage {
	if systemPrompt == "" {
		return messages
	}
	out := make([]models.ChatMessage, 0, len(messages)+1)
	out = append(out, models.ChatMessage{Role: models.RoleSystem, Content: systemPrompt})
	return append(out, messages...)
}
