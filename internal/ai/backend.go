// Package ai defines the contract between the conversation services and the
// generative text backends.
package ai

import (
	"context"
	"errors"

	"github.com/vultisig/convo-backend/internal/types"
)

var (
	// ErrTimeout is wrapped by backends when a call exceeds its deadline.
	ErrTimeout = errors.New("backend timed out")
	// ErrRateLimited is wrapped by backends when the provider signals quota
	// exhaustion or congestion.
	ErrRateLimited = errors.New("backend rate limited")
)

// TitleInstruction asks the backend for a bare conversation title.
const TitleInstruction = "You are a title generator. You will receive one or multiple messages of a conversation. " +
	"You will reply with only the title of the conversation without any punctuation mark either at the beginning or the end."

// Stream is a lazy sequence of reply snapshots.
//
// Each Recv returns the cumulative reply so far, not a delta. Recv returns
// io.EOF once the reply is complete. Close releases the underlying connection
// and may be called before the stream is exhausted.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Backend produces replies for a transcript.
type Backend interface {
	// StreamComplete opens a streamed reply. system may be empty.
	StreamComplete(ctx context.Context, system string, transcript []types.Message) (Stream, error)
	// RequestOnce returns a complete reply in a single call.
	RequestOnce(ctx context.Context, system string, transcript []types.Message) (string, error)
}

// Conversational drops system messages, empty messages and leading assistant
// turns so the transcript starts with a user message, as both providers require.
func Conversational(transcript []types.Message) []types.Message {
	out := make([]types.Message, 0, len(transcript))
	for _, msg := range transcript {
		if msg.Role == types.RoleSystem || msg.Content == "" {
			continue
		}
		if len(out) == 0 && msg.Role != types.RoleUser {
			continue
		}
		out = append(out, msg)
	}
	return out
}
