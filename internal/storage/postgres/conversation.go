package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vultisig/convo-backend/internal/types"
)

// ErrNotFound is returned when a resource is not found.
var ErrNotFound = errors.New("not found")

const conversationColumns = `id, chat_id, title, started_at, updated_at`

// ConversationRepository handles database operations for conversations.
type ConversationRepository struct {
	db dbtx
}

// NewConversationRepository creates a new ConversationRepository.
func NewConversationRepository(db dbtx) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// Create creates a new, untitled conversation for the given chat.
func (r *ConversationRepository) Create(ctx context.Context, chatID string) (*types.Conversation, error) {
	var row conversationRow
	err := r.db.QueryRow(ctx,
		`INSERT INTO conversations (chat_id) VALUES ($1) RETURNING `+conversationColumns,
		chatID,
	).Scan(row.dest()...)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return row.toConversation(nil), nil
}

// GetWithMessages returns a conversation with all its messages in creation order.
func (r *ConversationRepository) GetWithMessages(ctx context.Context, id uuid.UUID) (*types.Conversation, error) {
	var row conversationRow
	err := r.db.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`,
		id,
	).Scan(row.dest()...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	msgs, err := NewMessageRepository(r.db).GetByConversationID(ctx, id)
	if err != nil {
		return nil, err
	}

	return row.toConversation(msgs), nil
}

// List returns paginated conversations for a chat, without messages.
func (r *ConversationRepository) List(ctx context.Context, chatID string, opts types.ListOptions) ([]*types.Conversation, int, error) {
	var total int
	if err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM conversations WHERE chat_id = $1`, chatID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count conversations: %w", err)
	}

	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE chat_id = $1 ORDER BY ` +
		orderClause(opts) + ` OFFSET $2`
	args := []any{chatID, max(0, opts.Skip)}
	if opts.Take > 0 {
		query += ` LIMIT $3`
		args = append(args, opts.Take)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []*types.Conversation
	for rows.Next() {
		var row conversationRow
		if err := rows.Scan(row.dest()...); err != nil {
			return nil, 0, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, row.toConversation(nil))
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list conversations: %w", err)
	}

	return convs, total, nil
}

// UpdateTitle updates the title of a conversation.
func (r *ConversationRepository) UpdateTitle(ctx context.Context, id uuid.UUID, title string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE conversations SET title = $1, updated_at = now() WHERE id = $2`,
		title, id,
	)
	if err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// orderClause only ever emits whitelisted column names.
func orderClause(opts types.ListOptions) string {
	column := types.OrderByStartedAt
	if opts.OrderBy == types.OrderByUpdatedAt {
		column = types.OrderByUpdatedAt
	}
	if opts.Desc {
		return column + " DESC"
	}
	return column + " ASC"
}
