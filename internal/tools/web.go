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
)

// WebConfig configures the built-in web tools. SearchURL points at a
// SearXNG-compatible JSON search endpoint.
type WebConfig struct {
	SearchURL  string
	MaxResults int
	MaxBytes   int64
	Timeout    time.Duration
}

func (c *WebConfig) defaults() {
	if c.MaxResults <= 0 {
		c.MaxResults = 5
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 256 << 10
	}
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
}

// RegisterWebTools adds web_search and web_read to the registry.
func RegisterWebTools(r *Registry, cfg WebConfig) {
	cfg.defaults()
	client := &http.Client{Timeout: cfg.Timeout}
	r.Register(&webSearch{cfg: cfg, client: client})
	r.Register(&webRead{cfg: cfg, client: client})
}

type webSearch struct {
	cfg    WebConfig
	client *http.Client
}

func (w *webSearch) Name() string { return "web_search" }

func (w *webSearch) Execute(ctx context.Context, input map[string]any) (string, error) {
	query, _ := input["query"].(string)
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("web_search: query is required")
	}
	if w.cfg.SearchURL == "" {
		return "", fmt.Errorf("web_search: no search endpoint configured")
	}

	u, err := url.Parse(w.cfg.SearchURL)
	if err != nil {
		return "", fmt.Errorf("web_search: bad search endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("format", "json")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("web_search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("web_search: search endpoint returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, w.cfg.MaxBytes)).Decode(&parsed); err != nil {
		return "", fmt.Errorf("web_search: decode results: %w", err)
	}
	if len(parsed.Results) == 0 {
		return "No results found.", nil
	}

	var b strings.Builder
	for i, r := range parsed.Results {
		if i >= w.cfg.MaxResults {
			break
		}
		fmt.Fprintf(&b, "%d. %s\n%s\n", i+1, r.Title, r.URL)
		if r.Content != "" {
			fmt.Fprintf(&b, "%s\n", r.Content)
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String()), nil
}

type webRead struct {
	cfg    WebConfig
	client *http.Client
}

func (w *webRead) Name() string { return "web_read" }

func (w *webRead) Execute(ctx context.Context, input map[string]any) (string, error) {
	raw, _ := input["url"].(string)
	target, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
		return "", fmt.Errorf("web_read: url must be http or https")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "relaywing/1.0")
	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("web_read: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("web_read: %s returned status %d", target.Host, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, w.cfg.MaxBytes))
	if err != nil {
		return "", fmt.Errorf("web_read: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "html") {
		return stripHTML(string(body)), nil
	}
	return string(body), nil
}

// stripHTML reduces a page to its readable text. Script and style bodies are
// dropped, tags removed, and whitespace collapsed.
func stripHTML(s string) string {
	for _, elem := range []string{"script", "style", "noscript"} {
		s = dropElement(s, elem)
	}
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
			b.WriteByte(' ')
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func dropElement(s, elem string) string {
	lower := strings.ToLower(s)
	openTag := "<" + elem
	closeTag := "</" + elem + ">"
	var b strings.Builder
	for {
		i := strings.Index(lower, openTag)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		j := strings.Index(lower[i:], closeTag)
		if j < 0 {
			return b.String()
		}
		cut := i + j + len(closeTag)
		s = s[cut:]
		lower = lower[cut:]
	}
}
