// Package chat implements the user-facing operations of a chat: sending
// messages, retrying, starting and resuming conversations, and managing modes.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/convo-backend/internal/presenter"
	"github.com/vultisig/convo-backend/internal/service/completion"
	"github.com/vultisig/convo-backend/internal/service/lifecycle"
	"github.com/vultisig/convo-backend/internal/types"
)

// historyLimit caps the conversations listed by History.
const historyLimit = 50

// ErrNoPendingMode is returned when a mode prompt arrives without a mode being
// added or edited.
var ErrNoPendingMode = errors.New("no mode awaiting a prompt")

// ConversationStore creates and lists conversations.
type ConversationStore interface {
	Create(ctx context.Context, chatID string) (*types.Conversation, error)
	List(ctx context.Context, chatID string, opts types.ListOptions) ([]*types.Conversation, int, error)
}

// MessageStore persists user messages and drops retried replies.
type MessageStore interface {
	Create(ctx context.Context, msg *types.Message) error
	Delete(ctx context.Context, id string) error
}

// Completer runs one completion.
type Completer interface {
	Complete(ctx context.Context, req completion.Request) completion.Outcome
}

// Lifecycle tracks the active conversation of each chat.
type Lifecycle interface {
	State(chatID string) *lifecycle.State
	Active(chatID string) *types.Conversation
	Pause(chatID string)
	Rearm(chatID string)
	StartNew(ctx context.Context, chatID, notice string) error
	Resume(ctx context.Context, chatID string, convID uuid.UUID) (*types.Conversation, error)
}

// Modes manages conversation modes.
type Modes interface {
	Create(ctx context.Context, chatID, title, prompt string) (*types.ConversationMode, error)
	Get(ctx context.Context, chatID string, id uuid.UUID) (*types.ConversationMode, error)
	List(ctx context.Context, chatID string) ([]types.ConversationMode, error)
	UpdatePrompt(ctx context.Context, chatID string, id uuid.UUID, prompt string) error
	Delete(ctx context.Context, chatID string, id uuid.UUID) error
	Active(ctx context.Context, chatID string) (*types.ConversationMode, error)
	Select(ctx context.Context, chatID string, id uuid.UUID) (*types.ConversationMode, error)
	Clear(ctx context.Context, chatID string) error
}

// Config holds chat settings.
type Config struct {
	StartMessage string
	MessageLimit int
}

// Manager handles the operations a participant can trigger in a chat.
type Manager struct {
	cfg           Config
	presenter     presenter.Presenter
	conversations ConversationStore
	messages      MessageStore
	completer     Completer
	lifecycle     Lifecycle
	modes         Modes
	logger        *logrus.Logger
}

// NewManager creates a new chat Manager.
func NewManager(
	cfg Config,
	p presenter.Presenter,
	conversations ConversationStore,
	messages MessageStore,
	completer Completer,
	lc Lifecycle,
	modes Modes,
	logger *logrus.Logger,
) *Manager {
	if cfg.MessageLimit <= 0 {
		cfg.MessageLimit = presenter.Limit
	}
	return &Manager{
		cfg:           cfg,
		presenter:     p,
		conversations: conversations,
		messages:      messages,
		completer:     completer,
		lifecycle:     lc,
		modes:         modes,
		logger:        logger,
	}
}

// Start sends the configured welcome message.
func (m *Manager) Start(ctx context.Context, chatID string) error {
	_, err := m.presenter.Send(ctx, chatID, m.cfg.StartMessage)
	return err
}

// AwaitingModeInput reports whether the chat's next text is a mode prompt.
func (m *Manager) AwaitingModeInput(chatID string) bool {
	return m.lifecycle.State(chatID).AwaitingModeInput()
}

// HandleMessage appends a user message to the active conversation, creating
// one if needed, and streams the reply. The idle timer is paused for the turn;
// the completion rearms it.
func (m *Manager) HandleMessage(ctx context.Context, chatID, userMessageID, text string) error {
	m.lifecycle.Pause(chatID)

	slotID, err := m.presenter.Send(ctx, chatID, "Generating response...")
	if err != nil {
		m.lifecycle.Rearm(chatID)
		return fmt.Errorf("send placeholder: %w", err)
	}

	conv, err := m.appendUserMessage(ctx, chatID, userMessageID, text)
	if err != nil {
		m.lifecycle.Rearm(chatID)
		m.logger.WithError(err).WithField("chat_id", chatID).Error("failed to store user message")
		if ferr := m.presenter.Finalize(ctx, chatID, slotID, completion.FailureText); ferr != nil {
			m.logger.WithError(ferr).Warn("failed to present failure")
		}
		return err
	}

	m.complete(ctx, chatID, conv, slotID)
	return nil
}

func (m *Manager) appendUserMessage(ctx context.Context, chatID, userMessageID, text string) (*types.Conversation, error) {
	conv := m.lifecycle.Active(chatID)
	if conv == nil {
		var err error
		conv, err = m.conversations.Create(ctx, chatID)
		if err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
		m.logger.WithFields(logrus.Fields{
			"chat_id":         chatID,
			"conversation_id": conv.ID,
		}).Info("created conversation")
	}

	msg := types.Message{
		ID:             userMessageID,
		ConversationID: conv.ID,
		Role:           types.RoleUser,
		Content:        text,
		CreatedAt:      time.Now().UTC(),
	}
	if err := m.messages.Create(ctx, &msg); err != nil {
		return nil, fmt.Errorf("add user message: %w", err)
	}
	conv.Append(msg)
	return conv, nil
}

// Retry drops the last reply of the active conversation and generates it again.
func (m *Manager) Retry(ctx context.Context, chatID string) error {
	conv := m.lifecycle.Active(chatID)
	if conv == nil {
		_, err := m.presenter.Send(ctx, chatID, "No conversation to retry")
		return err
	}

	m.lifecycle.Pause(chatID)

	slotID, err := m.presenter.Send(ctx, chatID, "Regenerating response...")
	if err != nil {
		m.lifecycle.Rearm(chatID)
		return fmt.Errorf("send placeholder: %w", err)
	}

	if removed := conv.RemoveLast(types.RoleAssistant); removed != nil {
		if err := m.messages.Delete(ctx, removed.ID); err != nil {
			m.logger.WithError(err).WithField("message_id", removed.ID).Warn("failed to delete retried reply")
		}
	}

	last := conv.LastMessage()
	if last == nil || last.Role != types.RoleUser {
		m.lifecycle.Rearm(chatID)
		return m.presenter.Finalize(ctx, chatID, slotID, "No message to retry")
	}

	m.complete(ctx, chatID, conv, slotID)
	return nil
}

func (m *Manager) complete(ctx context.Context, chatID string, conv *types.Conversation, slotID string) {
	var system string
	active, err := m.modes.Active(ctx, chatID)
	if err != nil {
		m.logger.WithError(err).WithField("chat_id", chatID).Warn("failed to load active mode")
	} else if active != nil {
		system = active.Prompt
	}

	m.completer.Complete(ctx, completion.Request{
		ChatID:            chatID,
		Conversation:      conv,
		SlotID:            slotID,
		SystemInstruction: system,
	})
}

// NewConversation expires the active conversation and starts over.
func (m *Manager) NewConversation(ctx context.Context, chatID string) error {
	text := "Started a new conversation."
	if active := m.activeMode(ctx, chatID); active != nil {
		text = fmt.Sprintf("Started a new conversation in mode \"%s\".", active.Title)
	}
	return m.lifecycle.StartNew(ctx, chatID, text)
}

// Resume makes a stored conversation active and shows its last message.
func (m *Manager) Resume(ctx context.Context, chatID string, convID uuid.UUID) error {
	conv, err := m.lifecycle.Resume(ctx, chatID, convID)
	if err != nil {
		if !errors.Is(err, lifecycle.ErrNotFound) {
			m.logger.WithError(err).WithField("conversation_id", convID).Error("failed to resume conversation")
		}
		_, serr := m.presenter.Send(ctx, chatID, "Failed to find that conversation. Try sending a new message.")
		return serr
	}

	var modeDescription string
	if active := m.activeMode(ctx, chatID); active != nil {
		modeDescription = fmt.Sprintf(" in mode \"%s\"", active.Title)
	}
	text := fmt.Sprintf("Resuming conversation \"%s\"%s: ", conv.TitleOr("Untitled"), modeDescription)
	if last := conv.LastMessage(); last != nil {
		text += last.Content
	}

	_, err = m.presenter.Send(ctx, chatID, presenter.Prefix(text, m.cfg.MessageLimit))
	return err
}

// History lists the chat's past conversations with resume commands.
func (m *Manager) History(ctx context.Context, chatID string) error {
	convs, _, err := m.conversations.List(ctx, chatID, types.ListOptions{
		Take:    historyLimit,
		OrderBy: types.OrderByStartedAt,
		Desc:    true,
	})
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}

	lines := make([]string, 0, len(convs))
	for _, c := range convs {
		lines = append(lines, fmt.Sprintf("[/resume_%s] %s (%s)",
			c.ID, c.TitleOr("Untitled"), c.StartedAt.Format("2006-01-02 15:04")))
	}

	text := strings.Join(lines, "\n")
	if text == "" {
		text = "No conversation history"
	}

	_, err = m.presenter.Send(ctx, chatID, presenter.Prefix(text, m.cfg.MessageLimit))
	return err
}

func (m *Manager) activeMode(ctx context.Context, chatID string) *types.ConversationMode {
	active, err := m.modes.Active(ctx, chatID)
	if err != nil {
		m.logger.WithError(err).WithField("chat_id", chatID).Warn("failed to load active mode")
		return nil
	}
	return active
}
