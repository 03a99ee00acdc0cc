package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/vultisig/convo-backend/internal/types"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ConversationResponse is a conversation as returned by the API.
type ConversationResponse struct {
	ID        uuid.UUID `json:"id"`
	ChatID    string    `json:"chat_id"`
	Title     *string   `json:"title"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationDetailResponse is a conversation with its transcript.
type ConversationDetailResponse struct {
	ConversationResponse
	Messages []types.Message `json:"messages"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []ConversationResponse `json:"conversations"`
	TotalCount    int                    `json:"total_count"`
}

// ModeResponse is a conversation mode as returned by the API.
type ModeResponse struct {
	types.ConversationMode
	Active bool `json:"active"`
}

// ListModesResponse is the response for listing modes.
type ListModesResponse struct {
	Modes []ModeResponse `json:"modes"`
}

func toConversationResponse(conv *types.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:        conv.ID,
		ChatID:    conv.ChatID,
		Title:     conv.Title(),
		StartedAt: conv.StartedAt,
		UpdatedAt: conv.UpdatedAt,
	}
}
