// Package web implements HTTP fetch and search tools with SSRF protection.
//
// Security:
//   - Domain allowlist enforced before every fetch and on every redirect
//   - DNS resolution checked: private/internal IPs blocked (SSRF protection)
//   - Response body capped to prevent OOM
//   - Only GET and HEAD methods allowed
//   - Timeout enforced via context
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/neurovexon/axon/internal/security"
	"github.com/neurovexon/axon/internal/tools"
)

// Config configures the web tool restrictions.
type Config struct {
	AllowedDomains   []string // Domains allowed for fetches. Empty = deny all.
	MaxResponseBytes int64    // Maximum response body size. 0 = 5 MB default.
	TimeoutSeconds   int      // HTTP timeout. 0 = 10s default.
}

const (
	defaultMaxResponseBytes = 5 << 20 // 5 MB
	defaultTimeoutSeconds   = 10
)

func (c Config) timeout() time.Duration {
	if c.TimeoutSeconds > 0 {
		return time.Duration(c.TimeoutSeconds) * time.Second
	}
	return defaultTimeoutSeconds * time.Second
}

// ---- FetchTool ----

// FetchTool fetches URLs within the configured allowlist and converts
// HTML responses to markdown or plain text on request.
type FetchTool struct {
	config Config
	logger *slog.Logger
}

// NewFetchTool creates a web fetch tool restricted to the given domains.
func NewFetchTool(cfg Config, logger *slog.Logger) *FetchTool {
	return &FetchTool{config: cfg, logger: logger}
}

func (t *FetchTool) Name() string        { return "web_fetch" }
func (t *FetchTool) Description() string { return "Fetch content from allowed URLs with SSRF protection" }
func (t *FetchTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url":    map[string]any{"type": "string", "description": "The URL to fetch (http or https)"},
			"method": map[string]any{"type": "string", "enum": []string{"GET", "HEAD"}, "description": "HTTP method. Defaults to GET"},
			"format": map[string]any{"type": "string", "enum": []string{"markdown", "text", "html"}, "description": "Output format for HTML responses. Defaults to markdown"},
		},
		"required": []string{"url"},
	}
}
func (t *FetchTool) RiskLevel() security.RiskLevel { return security.RiskMedium }
func (t *FetchTool) RequiresApproval() bool        { return true }

func (t *FetchTool) Validate(params map[string]any) error {
	rawURL, err := requireString(params, "url")
	if err != nil {
		return err
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("only http/https schemes allowed, got %q", parsed.Scheme)
	}

	if !IsDomainAllowed(parsed.Hostname(), t.config.AllowedDomains) {
		return fmt.Errorf("domain %q is not in the allowlist", parsed.Hostname())
	}

	method := "GET"
	if m, ok := params["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	if method != "GET" && method != "HEAD" {
		return fmt.Errorf("only GET and HEAD methods allowed, got %q", method)
	}

	if f, ok := params["format"].(string); ok && f != "" {
		if f != "markdown" && f != "text" && f != "html" {
			return fmt.Errorf("format must be \"markdown\", \"text\" or \"html\", got %q", f)
		}
	}

	return nil
}

func (t *FetchTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	rawURL, _ := requireString(params, "url")

	method := "GET"
	if m, ok := params["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	format := "markdown"
	if f, ok := params["format"].(string); ok && f != "" {
		format = f
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	// SSRF check: resolve DNS and block private IPs.
	if err := CheckSSRF(parsed.Hostname()); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, t.config.timeout())
	defer cancel()

	// HTTP client that validates redirects.
	client := &http.Client{
		CheckRedirect: t.checkRedirect,
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "Axon/1.0")

	t.logger.InfoContext(ctx, "web_fetch executing",
		slog.String("method", method),
		slog.String("url", rawURL),
	)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	maxBytes := t.config.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxResponseBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	truncated := false
	if int64(len(body)) > maxBytes {
		body = body[:maxBytes]
		truncated = true
	}

	content := string(body)
	if isHTML(resp.Header.Get("Content-Type")) {
		switch format {
		case "markdown":
			if converted, err := htmlToMarkdown(content); err == nil {
				content = converted
			}
		case "text":
			if extracted, err := htmlToText(content); err == nil {
				content = extracted
			}
		}
	}

	return &tools.Result{
		Output:  tools.TruncateOutput(content, tools.MaxOutputBytes),
		Success: resp.StatusCode >= 200 && resp.StatusCode < 400,
		Metadata: map[string]any{
			"status_code": resp.StatusCode,
			"url":         resp.Request.URL.String(),
			"format":      format,
			"truncated":   truncated,
		},
	}, nil
}

// checkRedirect validates that redirect targets are also in the allowlist
// and don't resolve to private IPs.
func (t *FetchTool) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 5 {
		return fmt.Errorf("too many redirects (max 5)")
	}

	host := req.URL.Hostname()
	if !IsDomainAllowed(host, t.config.AllowedDomains) {
		return fmt.Errorf("redirect to disallowed domain %q blocked", host)
	}

	if err := CheckSSRF(host); err != nil {
		return err
	}

	return nil
}

func isHTML(contentType string) bool {
	return strings.Contains(contentType, "text/html") ||
		strings.Contains(contentType, "application/xhtml")
}

func htmlToMarkdown(html string) (string, error) {
	converter := md.NewConverter("", true, nil)
	return converter.ConvertString(html)
}

func htmlToText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	text := doc.Find("body").Text()
	return strings.Join(strings.Fields(text), " "), nil
}

// ---- SearchTool ----

const searchEndpoint = "https://api.duckduckgo.com/"

// SearchTool queries the DuckDuckGo Instant Answer API. It carries no
// credentials and hits a single fixed endpoint, so it is low risk and
// exempt from approval.
type SearchTool struct {
	config   Config
	endpoint string
	logger   *slog.Logger
}

// NewSearchTool creates a web search tool.
func NewSearchTool(cfg Config, logger *slog.Logger) *SearchTool {
	return &SearchTool{config: cfg, endpoint: searchEndpoint, logger: logger}
}

func (t *SearchTool) Name() string        { return "web_search" }
func (t *SearchTool) Description() string { return "Search the web via DuckDuckGo" }
func (t *SearchTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query":       map[string]any{"type": "string", "description": "Search query"},
			"max_results": map[string]any{"type": "integer", "description": "Maximum number of results. Defaults to 5"},
		},
		"required": []string{"query"},
	}
}
func (t *SearchTool) RiskLevel() security.RiskLevel { return security.RiskLow }
func (t *SearchTool) RequiresApproval() bool        { return false }

func (t *SearchTool) Validate(params map[string]any) error {
	if _, err := requireString(params, "query"); err != nil {
		return err
	}
	return nil
}

func (t *SearchTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	query, _ := requireString(params, "query")

	maxResults := 5
	if v, ok := params["max_results"].(float64); ok && v > 0 {
		maxResults = int(v)
	}
	if maxResults > 25 {
		maxResults = 25
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("no_html", "1")
	q.Set("skip_disambig", "1")

	ctx, cancel := context.WithTimeout(ctx, t.config.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "Axon/1.0")

	t.logger.InfoContext(ctx, "web_search executing", slog.String("query", query))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, defaultMaxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var payload struct {
		Abstract      string `json:"Abstract"`
		AbstractURL   string `json:"AbstractURL"`
		RelatedTopics []struct {
			Text     string `json:"Text"`
			FirstURL string `json:"FirstURL"`
		} `json:"RelatedTopics"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parsing search response: %w", err)
	}

	type searchResult struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Snippet string `json:"snippet"`
	}
	var results []searchResult
	if payload.Abstract != "" && payload.AbstractURL != "" {
		results = append(results, searchResult{
			Title:   extractTitle(payload.Abstract),
			URL:     payload.AbstractURL,
			Snippet: payload.Abstract,
		})
	}
	for _, topic := range payload.RelatedTopics {
		if len(results) >= maxResults {
			break
		}
		if topic.Text == "" || topic.FirstURL == "" {
			continue
		}
		results = append(results, searchResult{
			Title:   extractTitle(topic.Text),
			URL:     topic.FirstURL,
			Snippet: topic.Text,
		})
	}

	out, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding results: %w", err)
	}

	return &tools.Result{
		Output:  string(out),
		Success: true,
		Metadata: map[string]any{
			"query": query,
			"count": len(results),
		},
	}, nil
}

// extractTitle derives a short title from a result snippet.
func extractTitle(text string) string {
	if len(text) > 50 {
		if idx := strings.Index(text, "."); idx > 0 && idx < 50 {
			return text[:idx]
		}
		return text[:50] + "..."
	}
	return text
}

func requireString(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing required parameter: %s", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s must be a string, got %T", key, v)
	}
	if s == "" {
		return "", fmt.Errorf("parameter %s must not be empty", key)
	}
	return s, nil
}
