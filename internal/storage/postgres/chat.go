package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// ChatRepository stores per-chat pointers that must survive restarts: the
// active conversation and the active mode.
type ChatRepository struct {
	db dbtx
}

// NewChatRepository creates a new ChatRepository.
func NewChatRepository(db dbtx) *ChatRepository {
	return &ChatRepository{db: db}
}

// SetActiveConversation records which conversation the chat is bound to.
// A nil id clears the pointer.
func (r *ChatRepository) SetActiveConversation(ctx context.Context, chatID string, convID *uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO chats (chat_id, active_conversation_id) VALUES ($1, $2)
		 ON CONFLICT (chat_id) DO UPDATE
		 SET active_conversation_id = EXCLUDED.active_conversation_id, updated_at = now()`,
		chatID, uuidPtrToPgtype(convID),
	)
	if err != nil {
		return fmt.Errorf("set active conversation: %w", err)
	}
	return nil
}

// GetActiveMode returns the chat's active mode id, or nil when none is set.
func (r *ChatRepository) GetActiveMode(ctx context.Context, chatID string) (*uuid.UUID, error) {
	var modeID pgtype.UUID
	err := r.db.QueryRow(ctx,
		`SELECT active_mode_id FROM chats WHERE chat_id = $1`, chatID,
	).Scan(&modeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active mode: %w", err)
	}
	return pgtypeToUUIDPtr(modeID), nil
}

// SetActiveMode records the chat's active mode. A nil id clears the pointer.
func (r *ChatRepository) SetActiveMode(ctx context.Context, chatID string, modeID *uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO chats (chat_id, active_mode_id) VALUES ($1, $2)
		 ON CONFLICT (chat_id) DO UPDATE
		 SET active_mode_id = EXCLUDED.active_mode_id, updated_at = now()`,
		chatID, uuidPtrToPgtype(modeID),
	)
	if err != nil {
		return fmt.Errorf("set active mode: %w", err)
	}
	return nil
}
