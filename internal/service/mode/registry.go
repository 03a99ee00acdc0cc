package mode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/convo-backend/internal/storage/postgres"
	"github.com/vultisig/convo-backend/internal/types"
)

// modesCacheTTL is how long a chat's mode list stays cached.
const modesCacheTTL = 5 * time.Minute

// ErrNotFound is returned for modes that do not exist in the chat.
var ErrNotFound = errors.New("mode not found")

// ModeStore persists modes.
type ModeStore interface {
	Create(ctx context.Context, chatID, title, prompt string) (*types.ConversationMode, error)
	Get(ctx context.Context, chatID string, id uuid.UUID) (*types.ConversationMode, error)
	List(ctx context.Context, chatID string) ([]types.ConversationMode, error)
	UpdatePrompt(ctx context.Context, chatID string, id uuid.UUID, prompt string) error
	Delete(ctx context.Context, chatID string, id uuid.UUID) error
}

// ChatStore persists the chat's active mode pointer.
type ChatStore interface {
	GetActiveMode(ctx context.Context, chatID string) (*uuid.UUID, error)
	SetActiveMode(ctx context.Context, chatID string, modeID *uuid.UUID) error
}

// Cache stores JSON values with a TTL.
type Cache interface {
	GetJSON(ctx context.Context, key string, v any) error
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Registry manages a chat's modes and its active mode.
type Registry struct {
	modes  ModeStore
	chats  ChatStore
	cache  Cache
	logger *logrus.Logger
}

// NewRegistry creates a new Registry. cache may be nil.
func NewRegistry(modes ModeStore, chats ChatStore, cache Cache, logger *logrus.Logger) *Registry {
	return &Registry{
		modes:  modes,
		chats:  chats,
		cache:  cache,
		logger: logger,
	}
}

func cacheKey(chatID string) string {
	return fmt.Sprintf("chat:%s:modes", chatID)
}

// Create adds a mode to the chat.
func (r *Registry) Create(ctx context.Context, chatID, title, prompt string) (*types.ConversationMode, error) {
	mode, err := r.modes.Create(ctx, chatID, title, prompt)
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx, chatID)

	r.logger.WithFields(logrus.Fields{
		"chat_id": chatID,
		"mode_id": mode.ID,
	}).Info("mode created")
	return mode, nil
}

// Get returns a mode of the chat.
func (r *Registry) Get(ctx context.Context, chatID string, id uuid.UUID) (*types.ConversationMode, error) {
	mode, err := r.modes.Get(ctx, chatID, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return mode, nil
}

// List returns the chat's modes, from the cache when possible.
func (r *Registry) List(ctx context.Context, chatID string) ([]types.ConversationMode, error) {
	if r.cache != nil {
		var cached []types.ConversationMode
		if err := r.cache.GetJSON(ctx, cacheKey(chatID), &cached); err == nil {
			return cached, nil
		}
	}

	modes, err := r.modes.List(ctx, chatID)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.SetJSON(ctx, cacheKey(chatID), modes, modesCacheTTL); err != nil {
			r.logger.WithError(err).Warn("failed to cache modes in Redis")
		}
	}
	return modes, nil
}

// UpdatePrompt replaces a mode's system instruction.
func (r *Registry) UpdatePrompt(ctx context.Context, chatID string, id uuid.UUID, prompt string) error {
	if err := r.modes.UpdatePrompt(ctx, chatID, id, prompt); err != nil {
		return mapNotFound(err)
	}
	r.invalidate(ctx, chatID)
	return nil
}

// Delete removes a mode. Deleting the active mode clears the active pointer.
func (r *Registry) Delete(ctx context.Context, chatID string, id uuid.UUID) error {
	activeID, err := r.chats.GetActiveMode(ctx, chatID)
	if err != nil {
		return err
	}
	if activeID != nil && *activeID == id {
		if err := r.chats.SetActiveMode(ctx, chatID, nil); err != nil {
			return err
		}
	}

	if err := r.modes.Delete(ctx, chatID, id); err != nil {
		return mapNotFound(err)
	}
	r.invalidate(ctx, chatID)

	r.logger.WithFields(logrus.Fields{
		"chat_id": chatID,
		"mode_id": id,
	}).Info("mode deleted")
	return nil
}

// Active returns the chat's active mode, or nil when none is selected.
func (r *Registry) Active(ctx context.Context, chatID string) (*types.ConversationMode, error) {
	id, err := r.chats.GetActiveMode(ctx, chatID)
	if err != nil || id == nil {
		return nil, err
	}

	mode, err := r.modes.Get(ctx, chatID, *id)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return mode, nil
}

// Select makes a mode the chat's active one.
func (r *Registry) Select(ctx context.Context, chatID string, id uuid.UUID) (*types.ConversationMode, error) {
	mode, err := r.Get(ctx, chatID, id)
	if err != nil {
		return nil, err
	}
	if err := r.chats.SetActiveMode(ctx, chatID, &mode.ID); err != nil {
		return nil, err
	}
	return mode, nil
}

// Clear unsets the chat's active mode.
func (r *Registry) Clear(ctx context.Context, chatID string) error {
	return r.chats.SetActiveMode(ctx, chatID, nil)
}

func (r *Registry) invalidate(ctx context.Context, chatID string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Delete(ctx, cacheKey(chatID)); err != nil {
		r.logger.WithError(err).WithField("chat_id", chatID).Warn("failed to invalidate mode cache")
	}
}

func mapNotFound(err error) error {
	if errors.Is(err, postgres.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
