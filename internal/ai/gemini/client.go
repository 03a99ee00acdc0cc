package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/vultisig/convo-backend/internal/ai"
	"github.com/vultisig/convo-backend/internal/types"
)

const defaultModel = "gemini-2.5-flash"

// Client is a Gemini backend.
type Client struct {
	models *genai.Models
	model  string
}

// NewClient creates a Gemini API client.
func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	if model == "" {
		model = defaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Client{models: client.Models, model: model}, nil
}

// StreamComplete implements ai.Backend.
func (c *Client) StreamComplete(ctx context.Context, system string, transcript []types.Message) (ai.Stream, error) {
	seq := c.models.GenerateContentStream(ctx, c.model, toContents(transcript), generateConfig(system))
	return newStream(ctx, seq), nil
}

// RequestOnce implements ai.Backend.
func (c *Client) RequestOnce(ctx context.Context, system string, transcript []types.Message) (string, error) {
	res, err := c.models.GenerateContent(ctx, c.model, toContents(transcript), generateConfig(system))
	if err != nil {
		return "", classify(ctx, fmt.Errorf("gemini generate content: %w", err))
	}

	text := res.Text()
	if text == "" {
		return "", fmt.Errorf("gemini returned empty text")
	}
	return text, nil
}

func generateConfig(system string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	return cfg
}

func toContents(transcript []types.Message) []*genai.Content {
	var contents []*genai.Content
	for _, msg := range ai.Conversational(transcript) {
		role := genai.RoleUser
		if msg.Role == types.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}
	return contents
}

// Stream adapts the SDK's push iterator to ai.Stream.
type Stream struct {
	ctx     context.Context
	next    func() (*genai.GenerateContentResponse, error, bool)
	stop    func()
	content strings.Builder
}

func newStream(ctx context.Context, seq iter.Seq2[*genai.GenerateContentResponse, error]) *Stream {
	next, stop := iter.Pull2(seq)
	return &Stream{ctx: ctx, next: next, stop: stop}
}

// Recv returns the cumulative reply, skipping chunks that carry no text.
func (s *Stream) Recv() (string, error) {
	for {
		res, err, ok := s.next()
		if !ok {
			return "", io.EOF
		}
		if err != nil {
			return "", classify(s.ctx, fmt.Errorf("gemini stream: %w", err))
		}
		if res == nil {
			continue
		}
		if text := res.Text(); text != "" {
			s.content.WriteString(text)
			return s.content.String(), nil
		}
	}
}

// Close stops the underlying iterator.
func (s *Stream) Close() error {
	s.stop()
	return nil
}

// classify maps SDK failures onto the backend taxonomy.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ai.ErrTimeout, err)
	}

	code, status := apiErrorCode(err)
	switch {
	case code == http.StatusTooManyRequests || status == "RESOURCE_EXHAUSTED":
		return fmt.Errorf("%w: %w", ai.ErrRateLimited, err)
	case code == http.StatusServiceUnavailable || status == "UNAVAILABLE":
		return fmt.Errorf("%w: %w", ai.ErrRateLimited, err)
	case code == http.StatusGatewayTimeout || status == "DEADLINE_EXCEEDED":
		return fmt.Errorf("%w: %w", ai.ErrTimeout, err)
	}
	return err
}

func apiErrorCode(err error) (int, string) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, apiErr.Status
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, apiErrPtr.Status
	}
	return 0, ""
}
