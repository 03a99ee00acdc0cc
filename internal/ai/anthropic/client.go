package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/vultisig/convo-backend/internal/ai"
	"github.com/vultisig/convo-backend/internal/types"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	defaultMaxTokens = 4096
	apiVersion       = "2023-06-01"

	// statusOverloaded is returned by the API when it is temporarily overloaded.
	statusOverloaded = 529
)

// Client is an Anthropic Claude API client.
type Client struct {
	apiKey     string
	model      string
	httpClient *http.Client
	baseURL    string
	maxTokens  int
}

// Message represents a conversation message.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Request is the request body for the messages API.
type Request struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
	Stream    bool      `json:"stream,omitempty"`
}

// Response is the response from the messages API.
type Response struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// ContentBlock represents a content block in the response.
type ContentBlock struct {
	Type string `json:"type"` // "text"
	Text string `json:"text,omitempty"`
}

// Usage contains token usage information.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// APIError represents an error from the Anthropic API.
type APIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("anthropic: %s: %s", e.Type, e.Message)
}

// Unwrap maps provider error types onto the backend taxonomy.
func (e *APIError) Unwrap() error {
	switch {
	case e.Type == "rate_limit_error" || e.Type == "overloaded_error":
		return ai.ErrRateLimited
	case e.Status == http.StatusTooManyRequests || e.Status == statusOverloaded:
		return ai.ErrRateLimited
	case e.Status == http.StatusGatewayTimeout || e.Status == http.StatusRequestTimeout:
		return ai.ErrTimeout
	}
	return nil
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API root.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithTimeout bounds a whole request, including the streamed body.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithMaxTokens sets the reply token budget.
func WithMaxTokens(n int) Option {
	return func(c *Client) { c.maxTokens = n }
}

// NewClient creates a new Anthropic client.
func NewClient(apiKey, model string, opts ...Option) *Client {
	c := &Client{
		apiKey:    apiKey,
		model:     model,
		baseURL:   defaultBaseURL,
		maxTokens: defaultMaxTokens,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendMessage sends a message to Claude and returns the response.
func (c *Client) SendMessage(ctx context.Context, req *Request) (*Response, error) {
	req.Stream = false
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("read response: %w", err))
	}

	var result Response
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return &result, nil
}

// StreamMessage opens a streamed reply. The caller must Close the stream.
func (c *Client) StreamMessage(ctx context.Context, req *Request) (*Stream, error) {
	req.Stream = true
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	return newStream(ctx, resp.Body), nil
}

// StreamComplete implements ai.Backend.
func (c *Client) StreamComplete(ctx context.Context, system string, transcript []types.Message) (ai.Stream, error) {
	return c.StreamMessage(ctx, &Request{
		System:   system,
		Messages: toMessages(transcript),
	})
}

// RequestOnce implements ai.Backend.
func (c *Client) RequestOnce(ctx context.Context, system string, transcript []types.Message) (string, error) {
	resp, err := c.SendMessage(ctx, &Request{
		System:   system,
		Messages: toMessages(transcript),
	})
	if err != nil {
		return "", err
	}

	for _, block := range resp.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("empty response from anthropic")
}

func (c *Client) do(ctx context.Context, req *Request) (*http.Response, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.maxTokens
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("send request: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)

		var apiErr struct {
			Error APIError `json:"error"`
		}
		if err := json.Unmarshal(respBody, &apiErr); err != nil || apiErr.Error.Type == "" {
			return nil, &APIError{
				Type:    "http_error",
				Message: fmt.Sprintf("status %d: %s", resp.StatusCode, string(respBody)),
				Status:  resp.StatusCode,
			}
		}
		apiErr.Error.Status = resp.StatusCode
		return nil, &apiErr.Error
	}

	return resp, nil
}

// classify wraps transport failures caused by a deadline with ai.ErrTimeout.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ai.ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ai.ErrTimeout, err)
	}
	return err
}

// toMessages converts a transcript to Anthropic message format, skipping
// system messages.
func toMessages(transcript []types.Message) []Message {
	var msgs []Message
	for _, msg := range ai.Conversational(transcript) {
		msgs = append(msgs, Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return msgs
}
