package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/convo-backend/internal/service"
	"github.com/vultisig/convo-backend/internal/storage/postgres"
	"github.com/vultisig/convo-backend/internal/types"
)

const (
	testSecret = "test-secret"
	testChat   = "!room:example.org"
)

type fakeConversations struct {
	convs    map[uuid.UUID]*types.Conversation
	lastOpts types.ListOptions
}

func (f *fakeConversations) GetWithMessages(_ context.Context, id uuid.UUID) (*types.Conversation, error) {
	conv, ok := f.convs[id]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	return conv, nil
}

func (f *fakeConversations) List(_ context.Context, chatID string, opts types.ListOptions) ([]*types.Conversation, int, error) {
	f.lastOpts = opts
	var out []*types.Conversation
	for _, conv := range f.convs {
		if conv.ChatID == chatID {
			out = append(out, conv)
		}
	}
	return out, len(out), nil
}

type fakeModes struct {
	modes  []types.ConversationMode
	active *types.ConversationMode
}

func (f *fakeModes) List(context.Context, string) ([]types.ConversationMode, error) {
	return f.modes, nil
}

func (f *fakeModes) Active(context.Context, string) (*types.ConversationMode, error) {
	return f.active, nil
}

func newTestServer(convs *fakeConversations, modes *fakeModes) *echo.Echo {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	e := echo.New()
	NewServer(service.NewAuthService(testSecret), convs, modes, logger).Register(e)
	return e
}

func token(t *testing.T, chatID string) string {
	t.Helper()
	claims := service.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		ChatID:    chatID,
		TokenType: service.TokenTypeAccess,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func do(t *testing.T, e *echo.Echo, method, path, bearer, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func chatPath(chatID, rest string) string {
	return "/chats/" + url.PathEscape(chatID) + rest
}

func TestHealthz(t *testing.T) {
	e := newTestServer(&fakeConversations{}, &fakeModes{})
	rec := do(t, e, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth(t *testing.T) {
	e := newTestServer(&fakeConversations{}, &fakeModes{})
	path := chatPath(testChat, "/conversations/list")

	rec := do(t, e, http.MethodPost, path, "", "{}")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, e, http.MethodPost, path, "garbage", "{}")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, e, http.MethodPost, path, token(t, "!other:example.org"), "{}")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, e, http.MethodPost, path, token(t, testChat), "{}")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListConversations(t *testing.T) {
	title := "Capitals"
	conv := types.NewConversation(uuid.New(), testChat, &title, time.Now().UTC(), nil)
	other := types.NewConversation(uuid.New(), "!other:example.org", nil, time.Now().UTC(), nil)
	convs := &fakeConversations{convs: map[uuid.UUID]*types.Conversation{conv.ID: conv, other.ID: other}}
	e := newTestServer(convs, &fakeModes{})

	rec := do(t, e, http.MethodPost, chatPath(testChat, "/conversations/list"), token(t, testChat), `{"take": 500}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ListConversationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, 1, resp.TotalCount)
	assert.Equal(t, conv.ID, resp.Conversations[0].ID)
	require.NotNil(t, resp.Conversations[0].Title)
	assert.Equal(t, "Capitals", *resp.Conversations[0].Title)

	assert.Equal(t, 100, convs.lastOpts.Take)
	assert.Equal(t, types.OrderByStartedAt, convs.lastOpts.OrderBy)
	assert.True(t, convs.lastOpts.Desc)
}

func TestListConversations_Options(t *testing.T) {
	convs := &fakeConversations{}
	e := newTestServer(convs, &fakeModes{})

	rec := do(t, e, http.MethodPost, chatPath(testChat, "/conversations/list"), token(t, testChat),
		`{"skip": 5, "order_by": "updated_at", "desc": false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"conversations": [], "total_count": 0}`, rec.Body.String())

	assert.Equal(t, types.ListOptions{Skip: 5, Take: 20, OrderBy: types.OrderByUpdatedAt, Desc: false}, convs.lastOpts)

	rec = do(t, e, http.MethodPost, chatPath(testChat, "/conversations/list"), token(t, testChat), `{"order_by": "title"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetConversation(t *testing.T) {
	conv := types.NewConversation(uuid.New(), testChat, nil, time.Now().UTC(), []types.Message{
		{ID: "$q", Role: types.RoleUser, Content: "Hi"},
		{ID: "$a", Role: types.RoleAssistant, Content: "Hello!"},
	})
	other := types.NewConversation(uuid.New(), "!other:example.org", nil, time.Now().UTC(), nil)
	convs := &fakeConversations{convs: map[uuid.UUID]*types.Conversation{conv.ID: conv, other.ID: other}}
	e := newTestServer(convs, &fakeModes{})
	bearer := token(t, testChat)

	rec := do(t, e, http.MethodPost, chatPath(testChat, "/conversations/"+conv.ID.String()), bearer, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ConversationDetailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, conv.ID, resp.ID)
	assert.Nil(t, resp.Title)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "Hello!", resp.Messages[1].Content)

	rec = do(t, e, http.MethodPost, chatPath(testChat, "/conversations/"+other.ID.String()), bearer, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, e, http.MethodPost, chatPath(testChat, "/conversations/"+uuid.NewString()), bearer, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, e, http.MethodPost, chatPath(testChat, "/conversations/nope"), bearer, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetConversation_EmptyTranscript(t *testing.T) {
	conv := types.NewConversation(uuid.New(), testChat, nil, time.Now().UTC(), nil)
	e := newTestServer(&fakeConversations{convs: map[uuid.UUID]*types.Conversation{conv.ID: conv}}, &fakeModes{})

	rec := do(t, e, http.MethodPost, chatPath(testChat, "/conversations/"+conv.ID.String()), token(t, testChat), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"messages":[]`)
}

func TestListModes(t *testing.T) {
	pirate := types.ConversationMode{ID: uuid.New(), ChatID: testChat, Title: "Pirate", Prompt: "Talk like a pirate."}
	poet := types.ConversationMode{ID: uuid.New(), ChatID: testChat, Title: "Poet", Prompt: "Answer in verse."}
	e := newTestServer(&fakeConversations{}, &fakeModes{modes: []types.ConversationMode{pirate, poet}, active: &poet})

	rec := do(t, e, http.MethodGet, chatPath(testChat, "/modes"), token(t, testChat), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ListModesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Modes, 2)
	assert.Equal(t, "Pirate", resp.Modes[0].Title)
	assert.False(t, resp.Modes[0].Active)
	assert.True(t, resp.Modes[1].Active)
}
