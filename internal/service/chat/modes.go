package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/convo-backend/internal/presenter"
	"github.com/vultisig/convo-backend/internal/service/mode"
)

const invalidModeText = "Invalid mode."

// ListModes offers the chat's modes for selection.
func (m *Manager) ListModes(ctx context.Context, chatID string) error {
	modes, err := m.modes.List(ctx, chatID)
	if err != nil {
		return fmt.Errorf("list modes: %w", err)
	}

	var text string
	switch {
	case len(modes) == 0:
		text = "No modes available. Tap \"Add\" to create a new mode."
	default:
		text = "Select a mode:"
		if active := m.activeMode(ctx, chatID); active != nil {
			text = fmt.Sprintf("Current mode: \"%s\". Change to mode:", active.Title)
		}
	}

	affordances := make([]presenter.Affordance, 0, len(modes)+3)
	for _, md := range modes {
		affordances = append(affordances, presenter.Affordance{
			Label:   md.Title,
			Command: fmt.Sprintf("/mode_select_%s", md.ID),
		})
	}
	affordances = append(affordances,
		presenter.Affordance{Label: "Clear", Command: "/mode_clear"},
		presenter.Affordance{Label: "Add", Command: "/mode_add"},
		presenter.Affordance{Label: "Show", Command: "/mode_show"},
	)

	_, err = m.presenter.Send(ctx, chatID, text, affordances...)
	return err
}

// SelectMode makes a mode the active one.
func (m *Manager) SelectMode(ctx context.Context, chatID string, id uuid.UUID) error {
	md, err := m.modes.Select(ctx, chatID, id)
	if err != nil {
		if errors.Is(err, mode.ErrNotFound) {
			return m.send(ctx, chatID, "Failed to find that mode. Try sending a new message.")
		}
		return fmt.Errorf("select mode: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"chat_id": chatID,
		"mode_id": md.ID,
	}).Info("selected mode")
	return m.send(ctx, chatID, fmt.Sprintf("Changed mode to \"%s\".", md.Title))
}

// ClearMode unsets the active mode.
func (m *Manager) ClearMode(ctx context.Context, chatID string) error {
	if err := m.modes.Clear(ctx, chatID); err != nil {
		return fmt.Errorf("clear mode: %w", err)
	}
	return m.send(ctx, chatID, "Cleared mode.")
}

// BeginAddMode starts adding a mode named title. The next text is its prompt.
func (m *Manager) BeginAddMode(ctx context.Context, chatID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return m.send(ctx, chatID, "Send /mode_add <title> to add a new mode.")
	}

	m.lifecycle.State(chatID).SetPendingModeTitle(title)
	return m.send(ctx, chatID, fmt.Sprintf("Enter a prompt for mode \"%s\":", title))
}

// SubmitModePrompt completes an add or edit started earlier. The first mode
// added to a chat becomes its active mode.
func (m *Manager) SubmitModePrompt(ctx context.Context, chatID, prompt string) error {
	st := m.lifecycle.State(chatID)

	if editing := st.TakeEditingMode(); editing != nil {
		if err := m.modes.UpdatePrompt(ctx, chatID, editing.ID, prompt); err != nil {
			if errors.Is(err, mode.ErrNotFound) {
				return m.send(ctx, chatID, invalidModeText)
			}
			return fmt.Errorf("update mode: %w", err)
		}
		return m.send(ctx, chatID, "Mode updated.")
	}

	title, ok := st.TakePendingModeTitle()
	if !ok {
		return ErrNoPendingMode
	}

	md, err := m.modes.Create(ctx, chatID, title, prompt)
	if err != nil {
		return fmt.Errorf("create mode: %w", err)
	}

	if m.activeMode(ctx, chatID) == nil {
		if _, err := m.modes.Select(ctx, chatID, md.ID); err != nil {
			m.logger.WithError(err).WithField("mode_id", md.ID).Warn("failed to activate new mode")
		}
	}
	return m.send(ctx, chatID, "Mode added.")
}

// ShowModes offers the chat's modes for editing.
func (m *Manager) ShowModes(ctx context.Context, chatID string) error {
	modes, err := m.modes.List(ctx, chatID)
	if err != nil {
		return fmt.Errorf("list modes: %w", err)
	}
	if len(modes) == 0 {
		return m.send(ctx, chatID, "No modes defined. Send /mode to add a new mode.")
	}

	affordances := make([]presenter.Affordance, 0, len(modes))
	for _, md := range modes {
		affordances = append(affordances, presenter.Affordance{
			Label:   md.Title,
			Command: fmt.Sprintf("/mode_detail_%s", md.ID),
		})
	}
	_, err = m.presenter.Send(ctx, chatID, "Select a mode to edit:", affordances...)
	return err
}

// ShowMode displays a mode's prompt with edit and delete actions.
func (m *Manager) ShowMode(ctx context.Context, chatID string, id uuid.UUID) error {
	md, err := m.modes.Get(ctx, chatID, id)
	if err != nil {
		if errors.Is(err, mode.ErrNotFound) {
			return m.send(ctx, chatID, invalidModeText)
		}
		return fmt.Errorf("get mode: %w", err)
	}

	text := fmt.Sprintf("Mode \"%s\":\n%s", md.Title, md.Prompt)
	_, err = m.presenter.Send(ctx, chatID, presenter.Prefix(text, m.cfg.MessageLimit),
		presenter.Affordance{Label: "Edit", Command: fmt.Sprintf("/mode_edit_%s", md.ID)},
		presenter.Affordance{Label: "Delete", Command: fmt.Sprintf("/mode_delete_%s", md.ID)},
	)
	return err
}

// BeginEditMode starts editing a mode. The next text is its new prompt.
func (m *Manager) BeginEditMode(ctx context.Context, chatID string, id uuid.UUID) error {
	md, err := m.modes.Get(ctx, chatID, id)
	if err != nil {
		if errors.Is(err, mode.ErrNotFound) {
			return m.send(ctx, chatID, invalidModeText)
		}
		return fmt.Errorf("get mode: %w", err)
	}

	m.lifecycle.State(chatID).SetEditingMode(md)
	return m.send(ctx, chatID, fmt.Sprintf("Enter a new prompt for mode \"%s\":", md.Title))
}

// DeleteMode removes a mode.
func (m *Manager) DeleteMode(ctx context.Context, chatID string, id uuid.UUID) error {
	md, err := m.modes.Get(ctx, chatID, id)
	if err == nil {
		err = m.modes.Delete(ctx, chatID, id)
	}
	if err != nil {
		if errors.Is(err, mode.ErrNotFound) {
			return m.send(ctx, chatID, invalidModeText)
		}
		return fmt.Errorf("delete mode: %w", err)
	}
	return m.send(ctx, chatID, fmt.Sprintf("Mode \"%s\" deleted.", md.Title))
}

func (m *Manager) send(ctx context.Context, chatID, text string) error {
	_, err := m.presenter.Send(ctx, chatID, text)
	return err
}
