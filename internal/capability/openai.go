package capability

import (
	"context"
	"errors"

	"github.com/agentoven/taskrouter/pkg/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAICapability calls the OpenAI chat completions API through the
// official SDK. SDK-level retries are disabled: retrying is the fallback
// executor's job, and it never retries the same candidate.
type OpenAICapability struct {
	desc      Descriptor
	client    openai.Client
	maxTokens int
}

func NewOpenAICapability(desc Descriptor, apiKey, baseURL string, maxTokens int) *OpenAICapability {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAICapability{
		desc:      desc,
		client:    openai.NewClient(opts...),
		maxTokens: maxTokens,
	}
}

func (c *OpenAICapability) ID() string             { return c.desc.ID }
func (c *OpenAICapability) Tier() models.Tier      { return c.desc.Tier }
func (c *OpenAICapability) Descriptor() Descriptor { return c.desc }

func (c *OpenAICapability) Invoke(ctx context.Context, messages []models.ChatMessage, systemPrompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.desc.Model),
		Messages: toOpenAIMessages(withSystemPrompt(messages, systemPrompt)),
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.maxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		perr := &ProviderError{Capability: c.desc.ID, Err: err}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			perr.Status = apiErr.StatusCode
		}
		return "", perr
	}
	if len(resp.Choices) == 0 {
		return "", &ProviderError{Capability: c.desc.ID, Err: errors.New("malformed response: no choices")}
	}
	return resp.Choices[0].Message.Content, nil
}

func toOpenAIMessages(messages []models.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case models.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case models.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
