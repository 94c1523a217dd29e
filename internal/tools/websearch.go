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

	"github.com/workmesh/ndp/internal/llm"
	"github.com/workmesh/ndp/internal/ndperr"
	"github.com/workmesh/ndp/internal/process"
)

const defaultResultCount = 5

// WebSearchConfig configures the web_search tool.
type WebSearchConfig struct {
	// Client is the HTTP client to use; nil gets a 15-s timeout default.
	Client *http.Client

	// UserAgent identifies requests to the search backend.
	UserAgent string
}

// searchResult is one hit returned to the model.
type searchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// WebSearch returns the web_search tool, backed by the DuckDuckGo instant
// answer API.
func WebSearch(cfg WebSearchConfig) *Provider {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "Mozilla/5.0 (compatible; ndpd/1.0)"
	}
	return &Provider{
		Name:        "web_search",
		Description: "Searches the web and returns titles, URLs and snippets.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string"},
				"result_count": {"type": "integer", "minimum": 1, "maximum": 20}
			},
			"required": ["query"],
			"additionalProperties": false
		}`),
		Factory: func(args json.RawMessage) process.Runner {
			return RunnerFunc(func(ctx context.Context, h *process.Handle) (json.RawMessage, error) {
				var a struct {
					Query       string `json:"query"`
					ResultCount int    `json:"result_count"`
				}
				if err := json.Unmarshal(args, &a); err != nil {
					return nil, ndperr.BadToolArgumentsError("web_search", err)
				}
				if a.ResultCount == 0 {
					a.ResultCount = defaultResultCount
				}
				results, err := searchDuckDuckGo(ctx, client, userAgent, a.Query, a.ResultCount)
				if err != nil {
					return nil, ndperr.New(502, "ToolError.web_search", ndperr.KindRetryable, "search failed").WithCause(err)
				}
				return MarshalOutput(
					llm.Content{Mode: llm.ModeRequired, Text: fmt.Sprintf("%d results for %q", len(results), a.Query)},
					llm.Content{Mode: llm.ModeOptional, Text: formatResults(results)},
				)
			})
		},
	}
}

func searchDuckDuckGo(ctx context.Context, client *http.Client, userAgent, query string, count int) ([]searchResult, error) {
	endpoint := fmt.Sprintf("https://api.duckduckgo.com/?q=%s&format=json&no_html=1", url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search backend returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var ddg struct {
		AbstractText  string `json:"AbstractText"`
		AbstractURL   string `json:"AbstractURL"`
		Heading       string `json:"Heading"`
		RelatedTopics []struct {
			FirstURL string `json:"FirstURL"`
			Text     string `json:"Text"`
		} `json:"RelatedTopics"`
	}
	if err := json.Unmarshal(body, &ddg); err != nil {
		return nil, fmt.Errorf("parse search response: %w", err)
	}

	var results []searchResult
	if ddg.AbstractText != "" && ddg.AbstractURL != "" {
		results = append(results, searchResult{
			Title:   ddg.Heading,
			URL:     ddg.AbstractURL,
			Snippet: ddg.AbstractText,
		})
	}
	for _, topic := range ddg.RelatedTopics {
		if len(results) >= count {
			break
		}
		if topic.FirstURL == "" || topic.Text == "" {
			continue
		}
		title := topic.Text
		if len(title) > 100 {
			title = title[:100]
		}
		results = append(results, searchResult{Title: title, URL: topic.FirstURL, Snippet: topic.Text})
	}
	return results, nil
}

func formatResults(results []searchResult) string {
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return b.String()
}
