// Package anthropic generates text through the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"psych-agent/internal/integrations/paramstore"
)

const (
	defaultTimeout = 60 * time.Second
	// maxTokens bounds a single completion. A 40 sentence summary fits well within it.
	maxTokens = 4096
)

// HTTPStatusError captures non-2xx upstream responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("anthropic: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a generation backend over the Anthropic SDK.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      paramstore.Getter
	paramPrefix string

	// mu guards client, which stays nil until a key fetch succeeds.
	mu     sync.Mutex
	client *sdk.Client
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

func NewClient(ps paramstore.Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("anthropic: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("anthropic: parameter prefix must not be empty")
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
	return c.paramPrefix + "/anthropic-token"
}

func (c *Client) resolveSDK(ctx context.Context) (*sdk.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}

	apiKey, err := paramstore.FetchToken(ctx, c.getter, c.tokenParameterName())
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if c.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(c.baseURL))
	}
	if c.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(c.httpClient))
	}
	client := sdk.NewClient(reqOpts...)
	c.client = &client
	return c.client, nil
}

// Generate sends prompt as a single user message. The Messages API returns one
// message per call, so the result holds at most one candidate: the
// concatenated text blocks. A message without text yields no candidates.
func (c *Client) Generate(ctx context.Context, model, prompt string) ([]string, error) {
	if model == "" {
		return nil, errors.New("anthropic: model must not be empty")
	}
	client, err := c.resolveSDK(ctx)
	if err != nil {
		return nil, err
	}

	msg, err := client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic: messages: %w", classify(err))
	}

	var (
		b       strings.Builder
		hasText bool
	)
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(sdk.TextBlock); ok {
			b.WriteString(text.Text)
			hasText = true
		}
	}
	if !hasText {
		return []string{}, nil
	}
	return []string{b.String()}, nil
}

func classify(err error) error {
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	statusErr := &HTTPStatusError{StatusCode: apiErr.StatusCode, Body: apiErr.Error()}
	if apiErr.Request != nil && apiErr.Request.URL != nil {
		statusErr.URL = apiErr.Request.URL.String()
	}
	return statusErr
}
