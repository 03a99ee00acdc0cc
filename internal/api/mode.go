package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ListModes returns the chat's modes and marks the active one.
func (s *Server) ListModes(c echo.Context) error {
	ctx := c.Request().Context()
	chatID := GetChatID(c)

	modes, err := s.modes.List(ctx, chatID)
	if err != nil {
		s.logger.WithError(err).Error("failed to list modes")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list modes"})
	}

	active, err := s.modes.Active(ctx, chatID)
	if err != nil {
		s.logger.WithError(err).Error("failed to load active mode")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list modes"})
	}

	resp := ListModesResponse{Modes: make([]ModeResponse, 0, len(modes))}
	for _, m := range modes {
		resp.Modes = append(resp.Modes, ModeResponse{
			ConversationMode: m,
			Active:           active != nil && active.ID == m.ID,
		})
	}
	return c.JSON(http.StatusOK, resp)
}
