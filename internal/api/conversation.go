package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vultisig/convo-backend/internal/storage/postgres"
	"github.com/vultisig/convo-backend/internal/types"
)

// ListConversationsRequest is the request body for listing conversations.
type ListConversationsRequest struct {
	Skip    int    `json:"skip"`
	Take    int    `json:"take"`
	OrderBy string `json:"order_by"`
	Desc    *bool  `json:"desc"`
}

// ListConversations returns a paginated list of the chat's conversations.
func (s *Server) ListConversations(c echo.Context) error {
	var req ListConversationsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}

	// Default pagination
	if req.Take <= 0 {
		req.Take = 20
	}
	if req.Take > 100 {
		req.Take = 100
	}
	if req.Skip < 0 {
		req.Skip = 0
	}

	opts := types.ListOptions{
		Skip:    req.Skip,
		Take:    req.Take,
		OrderBy: types.OrderByStartedAt,
		Desc:    true,
	}
	switch req.OrderBy {
	case "", types.OrderByStartedAt:
	case types.OrderByUpdatedAt:
		opts.OrderBy = types.OrderByUpdatedAt
	default:
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid order_by"})
	}
	if req.Desc != nil {
		opts.Desc = *req.Desc
	}

	conversations, totalCount, err := s.convRepo.List(c.Request().Context(), GetChatID(c), opts)
	if err != nil {
		s.logger.WithError(err).Error("failed to list conversations")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list conversations"})
	}

	resp := ListConversationsResponse{
		Conversations: make([]ConversationResponse, 0, len(conversations)),
		TotalCount:    totalCount,
	}
	for _, conv := range conversations {
		resp.Conversations = append(resp.Conversations, toConversationResponse(conv))
	}
	return c.JSON(http.StatusOK, resp)
}

// GetConversation returns a conversation with its messages.
func (s *Server) GetConversation(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid conversation id"})
	}

	conv, err := s.convRepo.GetWithMessages(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{Error: "conversation not found"})
		}
		s.logger.WithError(err).Error("failed to get conversation")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to get conversation"})
	}
	if conv.ChatID != GetChatID(c) {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "conversation not found"})
	}

	messages := conv.Messages()
	if messages == nil {
		messages = []types.Message{}
	}

	return c.JSON(http.StatusOK, ConversationDetailResponse{
		ConversationResponse: toConversationResponse(conv),
		Messages:             messages,
	})
}
