package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agentoven/taskrouter/pkg/models"
)

type SearchProvider string

const (
	SearchBrave  SearchProvider = "brave"
	SearchSerper SearchProvider = "serper"
)

const (
	braveBaseURL  = "https://api.search.brave.com"
	serperBaseURL = "https://google.serper.dev"
)

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// WebSearch calls Brave or Serper.
type WebSearch struct {
	provider SearchProvider
	apiKey   string
	baseURL  string
	client   *http.Client
}

// NewWebSearch creates a search handler. An empty baseURL selects the
// provider's public endpoint.
func NewWebSearch(provider SearchProvider, apiKey, baseURL string, client *http.Client) (*WebSearch, error) {
	switch provider {
	case SearchBrave:
		if baseURL == "" {
			baseURL = braveBaseURL
		}
	case SearchSerper:
		if baseURL == "" {
			baseURL = serperBaseURL
		}
	default:
		return nil, fmt.Errorf("unsupported search provider %q", provider)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("search provider %s: api key not configured", provider)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebSearch{
		provider: provider,
		apiKey:   apiKey,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   client,
	}, nil
}

func (s *WebSearch) Invoke(ctx context.Context, args map[string]any) models.ToolResult {
	q := strings.TrimSpace(stringArg(args, "query"))
	if q == "" {
		return failed("web_search: query is required")
	}
	k := intArg(args, "count", 5)
	if k <= 0 || k > 20 {
		k = 5
	}

	var (
		results []SearchResult
		err     error
	)
	switch s.provider {
	case SearchBrave:
		results, err = s.brave(ctx, q, k)
	case SearchSerper:
		results, err = s.serper(ctx, q, k)
	}
	if err != nil {
		return failed("web_search: %v", err)
	}
	return models.ToolResult{Type: models.ToolResultStructured, Payload: results}
}

func (s *WebSearch) brave(ctx context.Context, q string, k int) ([]SearchResult, error) {
	params := url.Values{}
	params.Set("q", q)
	params.Set("count", fmt.Sprint(k))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/res/v1/web/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", s.apiKey)

	var raw struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := s.do(req, &raw); err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, k)
	for i, r := range raw.Web.Results {
		if i >= k {
			break
		}
		out = append(out, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return out, nil
}

func (s *WebSearch) serper(ctx context.Context, q string, k int) ([]SearchResult, error) {
	body, _ := json.Marshal(map[string]any{"q": q, "num": k})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/search", strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-API-KEY", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	var raw struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	if err := s.do(req, &raw); err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, k)
	for i, r := range raw.Organic {
		if i >= k {
			break
		}
		out = append(out, SearchResult{Title: r.Title, URL: r.Link, Snippet: r.Snippet})
	}
	return out, nil
}

func (s *WebSearch) do(req *http.Request, v any) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: status %d: %s", s.provider, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%s: decode response: %w", s.provider, err)
	}
	return nil
}
