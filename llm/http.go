package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/c360studio/concepteng/model"
)

// maxResponseSize limits the LLM response body to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Codec describes how to talk to a JSON-over-HTTP completion API.
type Codec interface {
	// Name returns the provider identifier.
	Name() string

	// BuildURL constructs the full API endpoint URL.
	BuildURL(baseURL, model string) string

	// SetHeaders adds provider-specific headers to the request.
	SetHeaders(req *http.Request)

	// BuildRequestBody creates the JSON request body for the provider.
	// temperature is nil to use provider default, or a pointer to explicit value.
	BuildRequestBody(model string, messages []Message, temperature *float64, maxTokens int) ([]byte, error)

	// ParseResponse extracts the response from provider-specific JSON.
	ParseResponse(body []byte, model string) (*Response, error)
}

// HTTPProvider turns a Codec into a Provider.
type HTTPProvider struct {
	Codec Codec
}

// NewHTTPProvider returns a provider that speaks the codec's wire format.
func NewHTTPProvider(codec Codec) *HTTPProvider {
	return &HTTPProvider{Codec: codec}
}

// Name returns the codec name.
func (p *HTTPProvider) Name() string {
	return p.Codec.Name()
}

// NewBackend binds the codec to an endpoint.
func (p *HTTPProvider) NewBackend(ep *model.EndpointConfig, opts BackendOptions) (Backend, error) {
	if ep.Model == "" {
		return nil, fmt.Errorf("%s endpoint has no model", p.Codec.Name())
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &httpBackend{
		codec:      p.Codec,
		endpoint:   ep,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type httpBackend struct {
	codec      Codec
	endpoint   *model.EndpointConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// Complete executes a single HTTP request to the LLM endpoint.
func (b *httpBackend) Complete(ctx context.Context, req Request) (*Response, error) {
	ep := b.endpoint
	url := b.codec.BuildURL(ep.URL, ep.Model)

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = ep.MaxTokens
	}

	body, err := b.codec.BuildRequestBody(ep.Model, req.Messages, req.Temperature, maxTokens)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	b.logger.Debug("Sending LLM request",
		"provider", b.codec.Name(),
		"model", ep.Model,
		"url", url,
		"messages", len(req.Messages))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	b.codec.SetHeaders(httpReq)

	httpResp, err := b.httpClient.Do(httpReq)
	if err != nil {
		// Network errors are transient
		return nil, NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(httpResp.StatusCode, respBody)
	}

	resp, err := b.codec.ParseResponse(respBody, ep.Model)
	if err != nil {
		return nil, NewFatalError(err)
	}
	return resp, nil
}

// classifyHTTPError determines if an HTTP error is transient or fatal.
func classifyHTTPError(statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}

	return ClassifyStatus(statusCode, fmt.Errorf("LLM API error (status %d): %s", statusCode, bodyStr))
}
