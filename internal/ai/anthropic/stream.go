package anthropic

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
)

const maxEventSize = 1 << 20

// streamEvent is the union of the server-sent event payloads we act on.
type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error APIError `json:"error"`
}

// Stream reads a streamed reply and yields cumulative text.
type Stream struct {
	ctx     context.Context
	body    io.ReadCloser
	scanner *bufio.Scanner

	content strings.Builder
	done    bool

	closeOnce sync.Once
	closeErr  error
}

func newStream(ctx context.Context, body io.ReadCloser) *Stream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	return &Stream{ctx: ctx, body: body, scanner: scanner}
}

// Recv blocks until more text arrives and returns everything received so far.
// It returns io.EOF after message_stop.
func (s *Stream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}

	var dataLines []string
	for s.scanner.Scan() {
		line := s.scanner.Text()

		// Empty line signals end of event
		if line != "" {
			if data, ok := strings.CutPrefix(line, "data:"); ok {
				dataLines = append(dataLines, strings.TrimSpace(data))
			}
			continue
		}
		if len(dataLines) == 0 {
			continue
		}

		var evt streamEvent
		err := json.Unmarshal([]byte(strings.Join(dataLines, "\n")), &evt)
		dataLines = nil
		if err != nil {
			return "", fmt.Errorf("decode stream event: %w", err)
		}

		switch evt.Type {
		case "content_block_delta":
			if evt.Delta.Type != "text_delta" || evt.Delta.Text == "" {
				continue
			}
			s.content.WriteString(evt.Delta.Text)
			return s.content.String(), nil
		case "message_stop":
			s.done = true
			return "", io.EOF
		case "error":
			s.done = true
			apiErr := evt.Error
			return "", &apiErr
		}
	}

	s.done = true
	if err := s.scanner.Err(); err != nil {
		return "", classify(s.ctx, fmt.Errorf("read stream: %w", err))
	}
	if err := s.ctx.Err(); err != nil {
		return "", classify(s.ctx, err)
	}
	return "", fmt.Errorf("read stream: %w", io.ErrUnexpectedEOF)
}

// Close releases the response body. It is safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
