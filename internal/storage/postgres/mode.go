package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vultisig/convo-backend/internal/types"
)

const modeColumns = `id, chat_id, title, prompt, created_at`

// ModeRepository handles database operations for conversation modes.
type ModeRepository struct {
	db dbtx
}

// NewModeRepository creates a new ModeRepository.
func NewModeRepository(db dbtx) *ModeRepository {
	return &ModeRepository{db: db}
}

// Create stores a new mode for a chat.
func (r *ModeRepository) Create(ctx context.Context, chatID, title, prompt string) (*types.ConversationMode, error) {
	var row modeRow
	err := r.db.QueryRow(ctx,
		`INSERT INTO conversation_modes (chat_id, title, prompt) VALUES ($1, $2, $3) RETURNING `+modeColumns,
		chatID, title, prompt,
	).Scan(row.dest()...)
	if err != nil {
		return nil, fmt.Errorf("create mode: %w", err)
	}
	return row.toMode(), nil
}

// Get returns a mode if it exists and belongs to the given chat.
func (r *ModeRepository) Get(ctx context.Context, chatID string, id uuid.UUID) (*types.ConversationMode, error) {
	var row modeRow
	err := r.db.QueryRow(ctx,
		`SELECT `+modeColumns+` FROM conversation_modes WHERE id = $1 AND chat_id = $2`,
		id, chatID,
	).Scan(row.dest()...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get mode: %w", err)
	}
	return row.toMode(), nil
}

// List returns the chat's modes in creation order.
func (r *ModeRepository) List(ctx context.Context, chatID string) ([]types.ConversationMode, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+modeColumns+` FROM conversation_modes WHERE chat_id = $1 ORDER BY created_at, id`,
		chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("list modes: %w", err)
	}
	defer rows.Close()

	var modes []types.ConversationMode
	for rows.Next() {
		var row modeRow
		if err := rows.Scan(row.dest()...); err != nil {
			return nil, fmt.Errorf("scan mode: %w", err)
		}
		modes = append(modes, *row.toMode())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list modes: %w", err)
	}
	return modes, nil
}

// UpdatePrompt replaces a mode's system instruction.
func (r *ModeRepository) UpdatePrompt(ctx context.Context, chatID string, id uuid.UUID, prompt string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE conversation_modes SET prompt = $1 WHERE id = $2 AND chat_id = $3`,
		prompt, id, chatID,
	)
	if err != nil {
		return fmt.Errorf("update mode: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a mode. The chats.active_mode_id foreign key is set to NULL
// by the database when it pointed at this mode.
func (r *ModeRepository) Delete(ctx context.Context, chatID string, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM conversation_modes WHERE id = $1 AND chat_id = $2`,
		id, chatID,
	)
	if err != nil {
		return fmt.Errorf("delete mode: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
