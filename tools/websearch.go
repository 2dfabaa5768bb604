// Web Search Tool backed by the SearchApi.io Google engine.
//
// Information Hiding:
// - HTTP client and endpoint details hidden
// - Response payload trimmed to the fields a model can use
// - Credential handling hidden

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

	"github.com/tidwall/gjson"
)

// DefaultSearchEndpoint is the SearchApi.io search endpoint.
const DefaultSearchEndpoint = "https://www.searchapi.io/api/v1/search"

const (
	defaultMaxResults = 5
	maxResponseBytes  = 2 * 1024 * 1024
)

// WebSearchTool searches the web for recent information.
type WebSearchTool struct {
	client      *http.Client
	apiKey      string
	endpoint    string
	maxResults  int
	timeoutSecs uint64
}

// NewWebSearchTool creates a web search tool. An empty apiKey yields a tool
// that reports a configuration error when executed.
func NewWebSearchTool(apiKey string, timeoutSecs uint64) *WebSearchTool {
	return &WebSearchTool{
		client: &http.Client{
			Timeout: time.Duration(timeoutSecs) * time.Second,
		},
		apiKey:      apiKey,
		endpoint:    DefaultSearchEndpoint,
		maxResults:  defaultMaxResults,
		timeoutSecs: timeoutSecs,
	}
}

// WithEndpoint overrides the search endpoint.
func (t *WebSearchTool) WithEndpoint(endpoint string) *WebSearchTool {
	t.endpoint = endpoint
	return t
}

// WithMaxResults limits the number of organic results returned.
func (t *WebSearchTool) WithMaxResults(n int) *WebSearchTool {
	if n > 0 {
		t.maxResults = n
	}
	return t
}

// Metadata returns the tool metadata.
func (t *WebSearchTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name: "web_search",
		Description: "Searches updated information on the internet using the Google search engine. " +
			"Ideal for questions that require recent data, such as news, ongoing events or constantly changing topics.",
		Parameters: []ToolParameter{
			{Name: "search_input", ParamType: "string", Description: "Search string.", Required: true},
		},
	}
}

type webSearchArgs struct {
	SearchInput string `json:"search_input"`
}

func parseWebSearchArgs(args json.RawMessage) (string, error) {
	var a webSearchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	query := strings.TrimSpace(a.SearchInput)
	if query == "" {
		return "", fmt.Errorf("search_input cannot be empty")
	}
	return query, nil
}

// Validate validates the arguments.
func (t *WebSearchTool) Validate(args json.RawMessage) error {
	_, err := parseWebSearchArgs(args)
	return err
}

// SearchResult is one organic search hit.
type SearchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet,omitempty"`
}

// SearchSummary is the trimmed payload handed back to the model.
type SearchSummary struct {
	Query   string         `json:"query"`
	Answer  string         `json:"answer,omitempty"`
	Results []SearchResult `json:"results"`
}

// Execute performs the search.
func (t *WebSearchTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	query, err := parseWebSearchArgs(args)
	if err != nil {
		return FailureResult(err), nil
	}
	if t.apiKey == "" {
		return FailureResultf("web search is not configured: SEARCHAPI_API_KEY not set"), nil
	}

	params := url.Values{}
	params.Set("engine", "google")
	params.Set("q", query)
	params.Set("api_key", t.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return FailureResult(fmt.Errorf("failed to create request: %w", err)), nil
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return FailureResultf("search timed out after %d seconds", t.timeoutSecs), nil
		}
		// url.Error embeds the request URL, which carries the key.
		return FailureResultf("search request failed: connection error"), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return FailureResult(fmt.Errorf("failed to read response body: %w", err)), nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := gjson.GetBytes(body, "error").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return FailureResultf("search HTTP error %d: %s", resp.StatusCode, msg), nil
	}

	if !gjson.ValidBytes(body) {
		return FailureResultf("search returned malformed JSON"), nil
	}

	out, err := json.Marshal(summarizeSearch(query, body, t.maxResults))
	if err != nil {
		return FailureResult(fmt.Errorf("failed to encode results: %w", err)), nil
	}
	return SuccessResult(string(out)), nil
}

// summarizeSearch extracts the answer box and top organic results.
func summarizeSearch(query string, body []byte, maxResults int) SearchSummary {
	summary := SearchSummary{Query: query, Results: []SearchResult{}}

	for _, path := range []string{"answer_box.answer", "answer_box.snippet", "knowledge_graph.description"} {
		if v := gjson.GetBytes(body, path); v.Exists() && v.String() != "" {
			summary.Answer = v.String()
			break
		}
	}

	gjson.GetBytes(body, "organic_results").ForEach(func(_, item gjson.Result) bool {
		summary.Results = append(summary.Results, SearchResult{
			Title:   item.Get("title").String(),
			Link:    item.Get("link").String(),
			Snippet: item.Get("snippet").String(),
		})
		return len(summary.Results) < maxResults
	})

	return summary
}
