package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/convo-backend/internal/presenter"
	"github.com/vultisig/convo-backend/internal/storage/postgres"
	"github.com/vultisig/convo-backend/internal/types"
)

// ErrNotFound is returned when resuming a conversation that does not exist.
var ErrNotFound = errors.New("conversation not found")

// expiryCallTimeout bounds the storage and presenter calls made when a timer fires.
const expiryCallTimeout = 30 * time.Second

// ConversationStore loads stored conversations.
type ConversationStore interface {
	GetWithMessages(ctx context.Context, id uuid.UUID) (*types.Conversation, error)
}

// ChatStore persists the chat's active conversation pointer.
type ChatStore interface {
	SetActiveConversation(ctx context.Context, chatID string, convID *uuid.UUID) error
}

// Config holds lifecycle settings.
type Config struct {
	// IdleTimeout expires a conversation after this long without activity.
	// Zero disables expiry.
	IdleTimeout  time.Duration
	MessageLimit int
}

// Manager owns the per-chat active conversation and its idle-expiry timer.
type Manager struct {
	cfg       Config
	presenter presenter.Presenter
	convRepo  ConversationStore
	chatRepo  ChatStore
	logger    *logrus.Logger

	mu     sync.Mutex
	states map[string]*State
}

// NewManager creates a new lifecycle Manager.
func NewManager(cfg Config, p presenter.Presenter, convRepo ConversationStore, chatRepo ChatStore, logger *logrus.Logger) *Manager {
	if cfg.MessageLimit <= 0 {
		cfg.MessageLimit = presenter.Limit
	}
	return &Manager{
		cfg:       cfg,
		presenter: p,
		convRepo:  convRepo,
		chatRepo:  chatRepo,
		logger:    logger,
		states:    make(map[string]*State),
	}
}

// State returns the chat's ephemeral state, creating it on first access.
func (m *Manager) State(chatID string) *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[chatID]
	if !ok {
		st = &State{}
		m.states[chatID] = st
	}
	return st
}

// Active returns the chat's active conversation, or nil.
func (m *Manager) Active(chatID string) *types.Conversation {
	st := m.State(chatID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.active
}

// Install binds conv as the chat's active conversation.
func (m *Manager) Install(chatID string, conv *types.Conversation) {
	st := m.State(chatID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.active = conv
}

// Rearm cancels the chat's idle timer and starts a new one. Only the most
// recently armed timer can fire.
func (m *Manager) Rearm(chatID string) {
	st := m.State(chatID)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.stopTimerLocked()
	if m.cfg.IdleTimeout <= 0 {
		return
	}

	gen := st.generation
	st.timer = time.AfterFunc(m.cfg.IdleTimeout, func() {
		m.fire(chatID, st, gen)
	})
}

// Pause cancels the chat's idle timer while a turn is in progress. The turn
// rearms it when it ends.
func (m *Manager) Pause(chatID string) {
	st := m.State(chatID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.stopTimerLocked()
}

// StartNew cancels the idle timer, expires the active conversation and sends
// notice. The chat has no active conversation afterwards.
func (m *Manager) StartNew(ctx context.Context, chatID, notice string) error {
	st := m.State(chatID)
	st.mu.Lock()
	st.stopTimerLocked()
	conv := st.active
	st.active = nil
	st.mu.Unlock()

	m.expire(ctx, chatID, conv)
	m.clearPointer(ctx, chatID, conv)

	if _, err := m.presenter.Send(ctx, chatID, notice); err != nil {
		return fmt.Errorf("send new conversation notice: %w", err)
	}

	m.logger.WithField("chat_id", chatID).Info("started a new conversation")
	return nil
}

// Resume loads a stored conversation and makes it the chat's active one.
func (m *Manager) Resume(ctx context.Context, chatID string, convID uuid.UUID) (*types.Conversation, error) {
	conv, err := m.convRepo.GetWithMessages(ctx, convID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if conv.ChatID != "" && conv.ChatID != chatID {
		return nil, ErrNotFound
	}

	m.Install(chatID, conv)
	if err := m.chatRepo.SetActiveConversation(ctx, chatID, &conv.ID); err != nil {
		m.logger.WithError(err).WithField("chat_id", chatID).Warn("failed to persist active conversation")
	}
	m.Rearm(chatID)

	m.logger.WithFields(logrus.Fields{
		"chat_id":         chatID,
		"conversation_id": conv.ID,
	}).Info("resumed conversation")
	return conv, nil
}

// Shutdown stops every outstanding timer.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.states {
		st.mu.Lock()
		st.stopTimerLocked()
		st.mu.Unlock()
	}
}

// fire runs when a timer elapses. The generation check and the clearing of the
// active conversation happen under one lock, so a timer that was superseded
// by a rearm, restart or resume never touches the newer conversation.
func (m *Manager) fire(chatID string, st *State, gen uint64) {
	st.mu.Lock()
	if st.generation != gen {
		st.mu.Unlock()
		return
	}
	st.timer = nil
	conv := st.active
	st.active = nil
	st.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), expiryCallTimeout)
	defer cancel()

	m.expire(ctx, chatID, conv)
	m.clearPointer(ctx, chatID, conv)
}

// clearPointer drops the stored active conversation once conv has expired.
func (m *Manager) clearPointer(ctx context.Context, chatID string, conv *types.Conversation) {
	if conv == nil {
		return
	}
	if err := m.chatRepo.SetActiveConversation(ctx, chatID, nil); err != nil {
		m.logger.WithError(err).WithField("chat_id", chatID).Warn("failed to clear active conversation")
	}
}

// expire annotates the conversation's last reply with an expiry notice and a
// resume affordance. Nothing is shown when the last message is not a reply, or
// when the reply never received content: its slot still shows the failure and
// its retry affordance.
func (m *Manager) expire(ctx context.Context, chatID string, conv *types.Conversation) {
	if conv == nil {
		return
	}

	last := conv.LastMessage()
	if last == nil || last.Role != types.RoleAssistant || last.Content == "" {
		return
	}

	resume := presenter.Resume(conv.ID)
	text := m.expiredText(last.Content, conv, resume)
	if err := m.presenter.Finalize(ctx, chatID, last.ID, text, resume); err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{
			"chat_id":         chatID,
			"conversation_id": conv.ID,
		}).Warn("failed to mark conversation as expired")
		return
	}

	m.logger.WithFields(logrus.Fields{
		"chat_id":         chatID,
		"conversation_id": conv.ID,
	}).Info("conversation timed out")
}

// expiredText appends the expiry notice to content. The result, once the
// affordances are rendered beside it, stays within the message limit.
func (m *Manager) expiredText(content string, conv *types.Conversation, affordances ...presenter.Affordance) string {
	notice := "\n\nThis conversation has expired. A new conversation has started."
	if title := conv.Title(); title != nil {
		notice = fmt.Sprintf("\n\nThis conversation has expired and it was about \"%s\". A new conversation has started.", *title)
	}

	limit := m.cfg.MessageLimit - presenter.AffordanceLength(affordances)
	budget := limit - utf8.RuneCountInString(notice)
	if utf8.RuneCountInString(content) > budget {
		content = presenter.Prefix(content, budget)
	}
	return presenter.Prefix(content+notice, limit)
}
