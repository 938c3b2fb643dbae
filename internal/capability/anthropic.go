package capability

import (
	"context"
	"errors"
	"strings"

	"github.com/agentoven/taskrouter/pkg/models"
	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicMaxTokens = 4096

type AnthropicCapability struct {
	desc      Descriptor
	client    anthropic.Client
	maxTokens int
}

func NewAnthropicCapability(desc Descriptor, apiKey, baseURL string, maxTokens int) *AnthropicCapability {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &AnthropicCapability{
		desc:      desc,
		client:    anthropic.NewClient(opts...),
		maxTokens: maxTokens,
	}
}

func (c *AnthropicCapability) ID() string             { return c.desc.ID }
func (c *AnthropicCapability) Tier() models.Tier      { return c.desc.Tier }
func (c *AnthropicCapability) Descriptor() Descriptor { return c.desc }

func (c *AnthropicCapability) Invoke(ctx context.Context, messages []models.ChatMessage, systemPrompt string) (string, error) {
	system, chat := toAnthropicMessages(systemPrompt, messages)
	if len(chat) == 0 {
		return "", &ProviderError{Capability: c.desc.ID, Err: errors.New("no user or assistant messages")}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.desc.Model),
		MaxTokens: int64(c.maxTokens),
		Messages:  chat,
	}
	if len(system) > 0 {
		params.System = system
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		perr := &ProviderError{Capability: c.desc.ID, Err: err}
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			perr.Status = apiErr.StatusCode
		}
		return "", perr
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type != "text" {
			continue
		}
		sb.WriteString(block.Text)
	}
	return sb.String(), nil
}

// toAnthropicMessages splits system messages out, since the Messages API
// takes them as a separate parameter.
func toAnthropicMessages(systemPrompt string, messages []models.ChatMessage) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	if s := strings.TrimSpace(systemPrompt); s != "" {
		system = append(system, anthropic.TextBlockParam{Text: s})
	}

	chat := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case models.RoleSystem:
			if s := strings.TrimSpace(m.Content); s != "" {
				system = append(system, anthropic.TextBlockParam{Text: s})
			}
		case models.RoleAssistant:
			chat = append(chat, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content)},
			})
		default:
			chat = append(chat, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content)},
			})
		}
	}
	return system, chat
}
