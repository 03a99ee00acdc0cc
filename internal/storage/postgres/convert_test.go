package postgres

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/convo-backend/internal/types"
)

func TestOrderClause(t *testing.T) {
	tests := []struct {
		opts types.ListOptions
		want string
	}{
		{opts: types.ListOptions{}, want: "started_at ASC"},
		{opts: types.ListOptions{Desc: true}, want: "started_at DESC"},
		{opts: types.ListOptions{OrderBy: types.OrderByUpdatedAt}, want: "updated_at ASC"},
		{opts: types.ListOptions{OrderBy: "title; DROP TABLE conversations", Desc: true}, want: "started_at DESC"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, orderClause(tt.opts))
	}
}

func TestConversationRow(t *testing.T) {
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	row := conversationRow{
		ID:        uuid.New(),
		ChatID:    "!room:example.org",
		StartedAt: pgtype.Timestamptz{Time: started, Valid: true},
		UpdatedAt: pgtype.Timestamptz{Time: started.Add(time.Hour), Valid: true},
	}

	conv := row.toConversation(nil)
	assert.Nil(t, conv.Title())
	assert.Equal(t, started, conv.StartedAt)
	assert.Equal(t, started.Add(time.Hour), conv.UpdatedAt)

	row.Title = pgtype.Text{String: "Capitals", Valid: true}
	conv = row.toConversation([]types.Message{{ID: "$q", Role: types.RoleUser, Content: "Hi"}})
	require.NotNil(t, conv.Title())
	assert.Equal(t, "Capitals", *conv.Title())
	assert.Equal(t, 1, conv.Len())
}

func TestUUIDConversions(t *testing.T) {
	assert.False(t, uuidPtrToPgtype(nil).Valid)
	assert.Nil(t, pgtypeToUUIDPtr(pgtype.UUID{}))

	id := uuid.New()
	back := pgtypeToUUIDPtr(uuidPtrToPgtype(&id))
	require.NotNil(t, back)
	assert.Equal(t, id, *back)
}
