// Package wikipedia looks up page summaries through the Wikipedia REST API.
package wikipedia

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultEndpoint is the English Wikipedia REST API root.
	DefaultEndpoint = "https://en.wikipedia.org/api/rest_v1"

	// DefaultUserAgent identifies the client as the API etiquette asks.
	DefaultUserAgent = "concepteng/1.0 (https://github.com/c360studio/concepteng)"

	// DefaultTimeout bounds a single lookup.
	DefaultTimeout = 30 * time.Second
)

var (
	// ErrAmbiguous is returned when the title names a disambiguation page.
	ErrAmbiguous = errors.New("ambiguous page title")

	// ErrNotFound is returned when no page has the title.
	ErrNotFound = errors.New("page not found")
)

// Format selects how descriptions are rendered.
type Format string

const (
	// FormatText uses the plain-text extract.
	FormatText Format = "text"
	// FormatMarkdown converts the HTML extract to markdown.
	FormatMarkdown Format = "markdown"
)

// Summary is the subset of the page summary document the client uses.
type Summary struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Extract     string `json:"extract"`
	ExtractHTML string `json:"extract_html"`
}

// Client fetches page summaries.
type Client struct {
	endpoint   string
	userAgent  string
	format     Format
	httpClient *http.Client
	converter  *Converter
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the REST API root.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		if endpoint != "" {
			c.endpoint = strings.TrimRight(endpoint, "/")
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

// WithFormat selects text or markdown descriptions.
func WithFormat(f Format) Option {
	return func(c *Client) {
		if f != "" {
			c.format = f
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

// NewClient returns a client for English Wikipedia unless overridden.
func NewClient(opts ...Option) *Client {
	c := &Client{
		endpoint:   DefaultEndpoint,
		userAgent:  DefaultUserAgent,
		format:     FormatText,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		converter:  NewConverter(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Summary fetches the summary document for title. Disambiguation pages
// return ErrAmbiguous along with the summary.
func (c *Client) Summary(ctx context.Context, title string) (*Summary, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("empty page title")
	}

	u := c.endpoint + "/page/summary/" + url.PathEscape(strings.ReplaceAll(title, " ", "_"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch summary: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", title, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("summary for %s: HTTP %d: %s", title, resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	var s Summary
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	if s.Type == "disambiguation" {
		return &s, fmt.Errorf("%s: %w", title, ErrAmbiguous)
	}
	return &s, nil
}

// Describe returns the summary text for title in the configured format.
func (c *Client) Describe(ctx context.Context, title string) (string, error) {
	s, err := c.Summary(ctx, title)
	if err != nil {
		return "", err
	}

	if c.format == FormatMarkdown && s.ExtractHTML != "" {
		out, err := c.converter.Markdown(s.ExtractHTML)
		if err == nil && out != "" {
			return out, nil
		}
		c.logger.Debug("Markdown conversion failed, using text extract", "title", title, "error", err)
	}
	if s.Extract != "" {
		return strings.TrimSpace(s.Extract), nil
	}
	if s.ExtractHTML != "" {
		return PlainText(s.ExtractHTML), nil
	}
	return strings.TrimSpace(s.Description), nil
}

// TitleFromURL returns the URL-decoded last path segment of an article URL,
// e.g. "Ceres_(dwarf_planet)" for https://en.wikipedia.org/wiki/Ceres_%28dwarf_planet%29.
func TitleFromURL(articleURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(articleURL))
	if err != nil {
		return "", fmt.Errorf("parse article url: %w", err)
	}
	p := strings.TrimRight(u.EscapedPath(), "/")
	i := strings.LastIndexByte(p, '/')
	seg := p[i+1:]
	if seg == "" {
		return "", fmt.Errorf("article url %q has no title segment", articleURL)
	}
	title, err := url.PathUnescape(seg)
	if err != nil {
		return "", fmt.Errorf("decode title %q: %w", seg, err)
	}
	return title, nil
}
