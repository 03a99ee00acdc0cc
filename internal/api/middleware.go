package api

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
)

// AuthMiddleware validates JWT tokens and extracts the chat ID.
func (s *Server) AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if authHeader == "" {
			return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "missing authorization header"})
		}

		parts := strings.Fields(authHeader)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid authorization header"})
		}

		claims, err := s.authService.ValidateToken(parts[1])
		if err != nil {
			return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
		}

		c.Set("chat_id", claims.ChatID)
		return next(c)
	}
}

// ChatAccessMiddleware rejects requests for a chat other than the token's.
func (s *Server) ChatAccessMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if chatParam(c) != GetChatID(c) {
			return c.JSON(http.StatusForbidden, ErrorResponse{Error: "chat id mismatch"})
		}
		return next(c)
	}
}

// GetChatID extracts the authenticated chat ID from the echo context.
func GetChatID(c echo.Context) string {
	chatID, _ := c.Get("chat_id").(string)
	return chatID
}

// chatParam returns the chat ID path parameter. Room IDs such as
// "!room:example.org" may arrive percent-encoded.
func chatParam(c echo.Context) string {
	raw := c.Param("chat_id")
	if chatID, err := url.PathUnescape(raw); err == nil {
		return chatID
	}
	return raw
}
