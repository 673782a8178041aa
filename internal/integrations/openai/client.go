// Package openai generates text through the OpenAI Chat Completions API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"psych-agent/internal/integrations/paramstore"
)

const defaultTimeout = 60 * time.Second

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a generation backend over the OpenAI SDK. The API key is read
// from SSM on first use and reused for the lifetime of the process.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      paramstore.Getter
	paramPrefix string

	// mu guards client, which stays nil until a key fetch succeeds.
	mu     sync.Mutex
	client *oai.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a new Client that resolves its API key through ps.
func NewClient(ps paramstore.Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("openai: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("openai: parameter prefix must not be empty")
	}
	c := &Client{
		httpClient:  &http.Client{Timeout: defaultTimeout},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/open-ai-token"
}

// resolveSDK builds the SDK client once the key has been fetched. Only a
// successful fetch is kept; a failed one is retried on the next call.
func (c *Client) resolveSDK(ctx context.Context) (*oai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}

	apiKey, err := paramstore.FetchToken(ctx, c.getter, c.tokenParameterName())
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Retries are the caller's decision; a failed turn is resubmitted.
		option.WithMaxRetries(0),
	}
	if c.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(c.baseURL))
	}
	if c.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(c.httpClient))
	}
	client := oai.NewClient(reqOpts...)
	c.client = &client
	return c.client, nil
}

// Generate sends prompt as a single system message and returns the content of
// every returned choice in order. An empty slice is a valid result.
func (c *Client) Generate(ctx context.Context, model, prompt string) ([]string, error) {
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}
	sdk, err := c.resolveSDK(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := sdk.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: shared.ChatModel(model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(prompt),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", classify(err))
	}

	candidates := make([]string, 0, len(resp.Choices))
	for _, choice := range resp.Choices {
		candidates = append(candidates, choice.Message.Content)
	}
	return candidates, nil
}

// classify converts SDK API errors into HTTPStatusError so callers can inspect
// the upstream status without importing the SDK.
func classify(err error) error {
	var apiErr *oai.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	statusErr := &HTTPStatusError{StatusCode: apiErr.StatusCode, Body: apiErr.Message}
	if apiErr.Request != nil && apiErr.Request.URL != nil {
		statusErr.URL = apiErr.Request.URL.String()
	}
	return statusErr
}
