package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/convo-backend/internal/service"
	"github.com/vultisig/convo-backend/internal/types"
)

// ConversationReader reads stored conversations.
type ConversationReader interface {
	GetWithMessages(ctx context.Context, id uuid.UUID) (*types.Conversation, error)
	List(ctx context.Context, chatID string, opts types.ListOptions) ([]*types.Conversation, int, error)
}

// ModeLister lists a chat's modes.
type ModeLister interface {
	List(ctx context.Context, chatID string) ([]types.ConversationMode, error)
	Active(ctx context.Context, chatID string) (*types.ConversationMode, error)
}

// Server holds API dependencies.
type Server struct {
	authService *service.AuthService
	convRepo    ConversationReader
	modes       ModeLister
	logger      *logrus.Logger
}

// NewServer creates a new API server.
func NewServer(authService *service.AuthService, convRepo ConversationReader, modes ModeLister, logger *logrus.Logger) *Server {
	return &Server{
		authService: authService,
		convRepo:    convRepo,
		modes:       modes,
		logger:      logger,
	}
}

// Register mounts the API routes on e.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "ok",
		})
	})

	chats := e.Group("/chats/:chat_id", s.AuthMiddleware, s.ChatAccessMiddleware)
	chats.POST("/conversations/list", s.ListConversations)
	chats.POST("/conversations/:id", s.GetConversation)
	chats.GET("/modes", s.ListModes)
}
