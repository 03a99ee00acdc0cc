package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vultisig/convo-backend/internal/types"
)

// MessageRepository handles database operations for messages.
type MessageRepository struct {
	db dbtx
}

// NewMessageRepository creates a new MessageRepository.
func NewMessageRepository(db dbtx) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create stores a message and touches the parent conversation's updated_at.
func (r *MessageRepository) Create(ctx context.Context, msg *types.Message) error {
	if msg.Role == types.RoleSystem && msg.ID == types.SystemMessageID {
		return fmt.Errorf("create message: system directives are not stored")
	}

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var created messageRow
		err := tx.QueryRow(ctx,
			`INSERT INTO messages (id, conversation_id, role, content)
			 VALUES ($1, $2, $3, $4)
			 RETURNING id, conversation_id, role, content, created_at`,
			msg.ID, msg.ConversationID, string(msg.Role), msg.Content,
		).Scan(created.dest()...)
		if err != nil {
			return err
		}
		msg.CreatedAt = pgtimestamptzToTime(created.CreatedAt)

		_, err = tx.Exec(ctx, `UPDATE conversations SET updated_at = now() WHERE id = $1`, msg.ConversationID)
		return err
	})
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

// UpdateContent replaces the content of a message and touches its conversation.
func (r *MessageRepository) UpdateContent(ctx context.Context, id string, content string) error {
	var convID uuid.UUID
	err := r.db.QueryRow(ctx,
		`UPDATE messages SET content = $1 WHERE id = $2 RETURNING conversation_id`,
		content, id,
	).Scan(&convID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("update message: %w", err)
	}

	if _, err := r.db.Exec(ctx, `UPDATE conversations SET updated_at = now() WHERE id = $1`, convID); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

// Delete removes a message.
func (r *MessageRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByConversationID returns all messages for a conversation, ordered by creation.
func (r *MessageRepository) GetByConversationID(ctx context.Context, convID uuid.UUID) ([]types.Message, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, conversation_id, role, content, created_at
		 FROM messages WHERE conversation_id = $1 ORDER BY seq`,
		convID,
	)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var msgs []types.Message
	for rows.Next() {
		var row messageRow
		if err := rows.Scan(row.dest()...); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, row.toMessage())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	return msgs, nil
}
