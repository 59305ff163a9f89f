// ABOUTME: HTTP client for the optional knowledge-base collaborator
// ABOUTME: Provides readiness, context retrieval, and search

package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Result is one search hit from the knowledge base
type Result struct {
	Content string  `json:"content"`
	Source  string  `json:"source,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// Client talks to the knowledge-base service over HTTP
type Client struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewClient creates a knowledge client for the given base endpoint
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   slog.Default().With("component", "knowledge"),
	}
}

// Ready probes the knowledge base's health endpoint
func (c *Client) Ready(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Retrieve returns up to limit context fragments relevant to the query,
// joined into one block. An empty string means nothing relevant was found.
func (c *Client) Retrieve(ctx context.Context, query string, limit int) (string, error) {
	results, err := c.Search(ctx, query, limit)
	if err != nil {
		return "", err
	}

	fragments := make([]string, 0, len(results))
	for _, r := range results {
		fragments = append(fragments, r.Content)
	}
	return strings.Join(fragments, "\n"), nil
}

// Search queries the knowledge base and returns scored hits
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	u := fmt.Sprintf("%s/search?q=%s&limit=%s",
		c.endpoint, url.QueryEscape(query), strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searching knowledge base: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("knowledge base returned status %d", resp.StatusCode)
	}

	var results []Result
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("decoding search results: %w", err)
	}
	return results, nil
}

// Find locates specific resources by query. Unlike Search it matches
// resource identity rather than content relevance.
func (c *Client) Find(ctx context.Context, query string, limit int) ([]Result, error) {
	u := fmt.Sprintf("%s/find?q=%s&limit=%s",
		c.endpoint, url.QueryEscape(query), strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building find request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("finding in knowledge base: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("knowledge base returned status %d", resp.StatusCode)
	}

	var results []Result
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("decoding find results: %w", err)
	}
	return results, nil
}

// Add ingests a resource by path or URL into the knowledge base
func (c *Client) Add(ctx context.Context, path string) error {
	body, err := json.Marshal(map[string]string{"path": path})
	if err != nil {
		return fmt.Errorf("encoding add request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/add", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building add request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("adding to knowledge base: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("knowledge base returned status %d", resp.StatusCode)
	}
	return nil
}

// Ls lists resource entries under a URI. An empty URI lists the root.
func (c *Client) Ls(ctx context.Context, uri string) ([]string, error) {
	u := c.endpoint + "/ls"
	if uri != "" {
		u += "?uri=" + url.QueryEscape(uri)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building ls request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing knowledge base: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("knowledge base returned status %d", resp.StatusCode)
	}

	var entries []string
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decoding ls entries: %w", err)
	}
	return entries, nil
}
