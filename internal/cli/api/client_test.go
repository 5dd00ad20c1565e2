package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"career-coach/internal/cache"
	"career-coach/internal/chat"
	"career-coach/internal/config"
	"career-coach/internal/database"
	"career-coach/internal/handler"
	"career-coach/internal/middleware"
	"career-coach/internal/repository"
	"career-coach/internal/service"
	"career-coach/pkg/jwt"
	"career-coach/pkg/response"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func init() {
	gin.SetMode(gin.TestMode)
}

// newServer 启动一个使用内存 SQLite 的完整服务端
func newServer(t *testing.T) (*httptest.Server, *jwt.JWTService) {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Driver: config.DriverSQLite, Path: ":memory:"}, "release")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	nop := cache.NewNopCache()
	conversations := service.NewConversationService(
		repository.NewConversationRepository(db),
		repository.NewMessageRepository(db),
		nop, nil,
	)
	completions := service.NewCompletionService(config.AIConfig{BaseURL: "http://127.0.0.1:1"}, nop, conversations, nil)
	jwtService := jwt.NewJWTService(testSecret, time.Hour)

	srv := httptest.NewServer(handler.NewRouter(handler.RouterDeps{
		JWT:           jwtService,
		Conversations: handler.NewConversationHandler(conversations, nil),
		Chat:          handler.NewChatHandler(completions, nil),
		CORS:          middleware.DefaultCORSConfig(),
	}))
	t.Cleanup(srv.Close)
	return srv, jwtService
}

func newClient(t *testing.T, userID string) *Client {
	t.Helper()
	srv, jwtService := newServer(t)
	token, err := jwtService.GenerateAccessToken(userID)
	require.NoError(t, err)
	return NewClient(srv.URL, token)
}

type snapshot []chat.ChatMessage

func (s snapshot) Persistable() ([]chat.ChatMessage, error) { return s, nil }

func TestClient_ConversationStore(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, "u1")

	conv, err := c.CreateConversation(ctx, "u1")
	require.NoError(t, err)
	require.NotEmpty(t, conv.ID)
	assert.Empty(t, conv.Title)

	msgs := snapshot{
		{ID: "m1", Role: chat.RoleUser, Content: "Should I learn Rust or Go for backend work?"},
		{ID: "m2", Role: chat.RoleAssistant, Content: "Go is a solid start."},
	}
	require.NoError(t, chat.SyncConversation(ctx, c, "u1", conv, msgs))
	assert.Equal(t, chat.DeriveTitle(msgs[0].Content), conv.Title)

	got, err := c.ListMessages(ctx, "u1", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, []chat.ChatMessage(msgs), got)

	list, err := c.ListConversations(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, conv.Title, list[0].Title)

	one, err := c.GetConversation(ctx, "u1", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, one.ID)
	assert.Equal(t, conv.Title, one.Title)

	require.NoError(t, c.DeleteConversation(ctx, "u1", conv.ID))
	list, err = c.ListConversations(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestClient_ReplaceWithEmptySnapshot(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, "u1")
	conv, err := c.CreateConversation(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, c.ReplaceMessages(ctx, conv.ID, "u1", []chat.ChatMessage{{ID: "a", Role: chat.RoleUser, Content: "x"}}))
	require.NoError(t, c.ReplaceMessages(ctx, conv.ID, "u1", nil))

	got, err := c.ListMessages(ctx, "u1", conv.ID)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestClient_Errors(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, "u1")

	_, err := c.ListConversations(ctx, "u2")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)

	err = c.DeleteConversation(ctx, "u1", "missing")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, response.CodeConversationNotFound, apiErr.Code)

	_, err = c.GetConversation(ctx, "u1", "missing")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	unauth := NewClient(c.baseURL, "")
	_, err = unauth.ListConversations(ctx, "u1")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	assert.NoError(t, c.Health(ctx))
}

func TestClient_CompletionURL(t *testing.T) {
	c := NewClient("http://coach.example", "")
	assert.Equal(t, "http://coach.example/api/v1/chat/completions", c.CompletionURL(""))
	assert.Equal(t, "http://coach.example/api/v1/chat/completions?conversation_id=a+b", c.CompletionURL("a b"))
}
