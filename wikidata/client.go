// Package wikidata runs SPARQL queries against the Wikidata query service.
package wikidata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	// DefaultEndpoint is the public Wikidata SPARQL endpoint.
	DefaultEndpoint = "https://query.wikidata.org/sparql"

	// DefaultUserAgent identifies the client as the query service policy asks.
	DefaultUserAgent = "concepteng/1.0 (https://github.com/c360studio/concepteng)"

	// DefaultTimeout bounds a single query.
	DefaultTimeout = 60 * time.Second

	maxErrorBody = 4 << 10
)

var limitRe = regexp.MustCompile(`(?i)\bLIMIT\s+\d+\s*$`)

// Row maps each bound variable of one solution to its value.
type Row map[string]string

// StatusError reports a non-2xx response from the query service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("sparql endpoint returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("sparql endpoint returned HTTP %d: %s", e.StatusCode, e.Body)
}

// Client queries a SPARQL endpoint.
type Client struct {
	endpoint   string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the SPARQL endpoint URL.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient returns a client for the public endpoint unless overridden.
func NewClient(opts ...Option) *Client {
	c := &Client{
		endpoint:   DefaultEndpoint,
		userAgent:  DefaultUserAgent,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type sparqlResponse struct {
	Head struct {
		Vars []string `json:"vars"`
	} `json:"head"`
	Results struct {
		Bindings []map[string]struct {
			Type  string `json:"type"`
			Value string `json:"value"`
		} `json:"bindings"`
	} `json:"results"`
}

// Query runs a SELECT query. A positive limit is appended as a LIMIT clause
// unless the query already ends in one, and the rows are truncated to it.
func (c *Client) Query(ctx context.Context, query string, limit int) ([]Row, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty sparql query")
	}
	if limit > 0 && !limitRe.MatchString(query) {
		query = fmt.Sprintf("%s\nLIMIT %d", query, limit)
	}

	form := url.Values{"query": {query}, "format": {"json"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/sparql-results+json")
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sparql request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var parsed sparqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode sparql results: %w", err)
	}

	rows := make([]Row, 0, len(parsed.Results.Bindings))
	for _, b := range parsed.Results.Bindings {
		row := make(Row, len(b))
		for name, term := range b {
			row[name] = term.Value
		}
		rows = append(rows, row)
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	c.logger.Debug("SPARQL query completed",
		"endpoint", c.endpoint,
		"rows", len(rows),
		"duration", time.Since(start))

	return rows, nil
}

// EntityID returns the last path segment of an entity URI, e.g. "Q42" for
// "http://www.wikidata.org/entity/Q42".
func EntityID(uri string) string {
	uri = strings.TrimRight(uri, "/")
	if i := strings.LastIndexByte(uri, '/'); i >= 0 {
		return uri[i+1:]
	}
	return uri
}
