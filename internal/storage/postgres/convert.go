package postgres

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/vultisig/convo-backend/internal/types"
)

// UUID conversions

func uuidPtrToPgtype(id *uuid.UUID) pgtype.UUID {
	if id == nil {
		return pgtype.UUID{Valid: false}
	}
	return pgtype.UUID{Bytes: *id, Valid: true}
}

func pgtypeToUUIDPtr(id pgtype.UUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	u := uuid.UUID(id.Bytes)
	return &u
}

// Text conversions

func pgtextToStringPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

// Timestamptz conversions

func pgtimestamptzToTime(t pgtype.Timestamptz) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time
}

// Row scanning

type conversationRow struct {
	ID        uuid.UUID
	ChatID    string
	Title     pgtype.Text
	StartedAt pgtype.Timestamptz
	UpdatedAt pgtype.Timestamptz
}

func (r *conversationRow) dest() []any {
	return []any{&r.ID, &r.ChatID, &r.Title, &r.StartedAt, &r.UpdatedAt}
}

func (r *conversationRow) toConversation(msgs []types.Message) *types.Conversation {
	conv := types.NewConversation(r.ID, r.ChatID, pgtextToStringPtr(r.Title), pgtimestamptzToTime(r.StartedAt), msgs)
	conv.UpdatedAt = pgtimestamptzToTime(r.UpdatedAt)
	return conv
}

type messageRow struct {
	ID             string
	ConversationID uuid.UUID
	Role           string
	Content        string
	CreatedAt      pgtype.Timestamptz
}

func (r *messageRow) dest() []any {
	return []any{&r.ID, &r.ConversationID, &r.Role, &r.Content, &r.CreatedAt}
}

func (r *messageRow) toMessage() types.Message {
	return types.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		Role:           types.MessageRole(r.Role),
		Content:        r.Content,
		CreatedAt:      pgtimestamptzToTime(r.CreatedAt),
	}
}

type modeRow struct {
	ID        uuid.UUID
	ChatID    string
	Title     string
	Prompt    string
	CreatedAt pgtype.Timestamptz
}

func (r *modeRow) dest() []any {
	return []any{&r.ID, &r.ChatID, &r.Title, &r.Prompt, &r.CreatedAt}
}

func (r *modeRow) toMode() *types.ConversationMode {
	return &types.ConversationMode{
		ID:        r.ID,
		ChatID:    r.ChatID,
		Title:     r.Title,
		Prompt:    r.Prompt,
		CreatedAt: pgtimestamptzToTime(r.CreatedAt),
	}
}
