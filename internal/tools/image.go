package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agentoven/taskrouter/pkg/models"
)

const defaultImageBaseURL = "https://api.openai.com/v1"

// ImageGenerate calls an OpenAI-compatible /images/generations endpoint.
type ImageGenerate struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewImageGenerate(baseURL, apiKey, model string, client *http.Client) (*ImageGenerate, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("image_generate: api key not configured")
	}
	if baseURL == "" {
		baseURL = defaultImageBaseURL
	}
	if model == "" {
		model = "dall-e-3"
	}
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	return &ImageGenerate{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  client,
	}, nil
}

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size,omitempty"`
}

type imageResponse struct {
	Data []struct {
		URL           string `json:"url"`
		B64JSON       string `json:"b64_json"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
}

// Image is the payload of a successful image_generate call.
type Image struct {
	URL           string `json:"url,omitempty"`
	B64JSON       string `json:"b64_json,omitempty"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

func (g *ImageGenerate) Invoke(ctx context.Context, args map[string]any) models.ToolResult {
	prompt := strings.TrimSpace(stringArg(args, "prompt"))
	if prompt == "" {
		return failed("image_generate: prompt is required")
	}
	size := stringArg(args, "size")
	if size == "" {
		size = "1024x1024"
	}

	body, _ := json.Marshal(imageRequest{Model: g.model, Prompt: prompt, N: 1, Size: size})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/images/generations", bytes.NewReader(body))
	if err != nil {
		return failed("image_generate: create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return failed("image_generate: request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return failed("image_generate: status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var ir imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return failed("image_generate: decode response: %v", err)
	}
	if len(ir.Data) == 0 || (ir.Data[0].URL == "" && ir.Data[0].B64JSON == "") {
		return failed("image_generate: no image returned")
	}

	d := ir.Data[0]
	return models.ToolResult{
		Type:    models.ToolResultImage,
		Payload: Image{URL: d.URL, B64JSON: d.B64JSON, RevisedPrompt: d.RevisedPrompt},
	}
}
