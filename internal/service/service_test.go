package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"career-coach/internal/cache"
	"career-coach/internal/config"
	"career-coach/internal/database"
	"career-coach/internal/model"
	"career-coach/internal/repository"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []ConversationEvent
}

func (n *recordingNotifier) NotifyUser(_ context.Context, _ string, event *ConversationEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, *event)
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

func newConversationService(t *testing.T, c ConversationCache) (*ConversationService, *recordingNotifier) {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Driver: config.DriverSQLite, Path: ":memory:"}, "release")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	svc := NewConversationService(repository.NewConversationRepository(db), repository.NewMessageRepository(db), c, nil)
	n := &recordingNotifier{}
	svc.SetNotifier(n)
	return svc, n
}

func newRedisCache(t *testing.T) *cache.RedisCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewRedisCacheWithClient(client, time.Minute, time.Minute)
}

func dialog(contents ...string) []MessageDTO {
	out := make([]MessageDTO, 0, len(contents))
	for i, c := range contents {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		out = append(out, MessageDTO{ID: fmt.Sprintf("m%d", i), Role: role, Content: c})
	}
	return out
}

func TestConversationService_Lifecycle(t *testing.T) {
	for name, c := range map[string]func(t *testing.T) ConversationCache{
		"nop":   func(*testing.T) ConversationCache { return cache.NewNopCache() },
		"redis": func(t *testing.T) ConversationCache { return newRedisCache(t) },
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			svc, notifier := newConversationService(t, c(t))

			conv, err := svc.CreateConversation(ctx, "u1")
			require.NoError(t, err)
			assert.Empty(t, conv.Title)

			list, err := svc.ListConversations(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, list, 1)

			msgs := dialog("How do I move into backend?", "Learn Go and SQL.")
			require.NoError(t, svc.ReplaceMessages(ctx, "u1", conv.ID, msgs))

			// 读两次，第二次走缓存
			for i := 0; i < 2; i++ {
				got, err := svc.ListMessages(ctx, "u1", conv.ID)
				require.NoError(t, err)
				assert.Equal(t, msgs, got)
			}

			updatedAt := time.Now().Add(time.Minute).Truncate(time.Second)
			require.NoError(t, svc.UpdateTitle(ctx, "u1", conv.ID, &UpdateTitleRequest{Title: "Backend", UpdatedAt: updatedAt}))

			list, err = svc.ListConversations(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "Backend", list[0].Title)
			assert.True(t, list[0].UpdatedAt.Equal(updatedAt))

			// 覆盖后缓存必须失效
			msgs = append(msgs, dialog("x", "y", "Follow-up?")[2])
			require.NoError(t, svc.ReplaceMessages(ctx, "u1", conv.ID, msgs))
			got, err := svc.ListMessages(ctx, "u1", conv.ID)
			require.NoError(t, err)
			assert.Len(t, got, 3)

			assert.Equal(t, []string{
				EventConversationCreated,
				EventMessagesReplaced,
				EventConversationUpdated,
				EventMessagesReplaced,
			}, notifier.types())
		})
	}
}

func TestConversationService_ReplaceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newConversationService(t, cache.NewNopCache())
	conv, err := svc.CreateConversation(ctx, "u1")
	require.NoError(t, err)

	msgs := dialog("q1", "a1", "q2", "a2")
	require.NoError(t, svc.ReplaceMessages(ctx, "u1", conv.ID, msgs))
	require.NoError(t, svc.ReplaceMessages(ctx, "u1", conv.ID, msgs))

	got, err := svc.ListMessages(ctx, "u1", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, msgs, got)
}

func TestConversationService_DeleteRemovesMessages(t *testing.T) {
	ctx := context.Background()
	svc, notifier := newConversationService(t, newRedisCache(t))
	conv, err := svc.CreateConversation(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, svc.ReplaceMessages(ctx, "u1", conv.ID, dialog("q1", "a1", "q2", "a2")))

	// 先读一次，把消息放进缓存
	_, err = svc.ListMessages(ctx, "u1", conv.ID)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteConversation(ctx, "u1", conv.ID))

	_, err = svc.ListMessages(ctx, "u1", conv.ID)
	assert.ErrorIs(t, err, ErrConversationNotFound)

	count, err := svc.messageRepo.CountByConversationID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	list, err := svc.ListConversations(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Contains(t, notifier.types(), EventConversationDeleted)
}

// interleavingCache 在第一次回填前执行 beforeFill，模拟读数据库和回填缓存之间提交的写操作
type interleavingCache struct {
	*cache.RedisCache
	once       sync.Once
	beforeFill func()
}

func (c *interleavingCache) FillMessages(ctx context.Context, conversationID string, version int64, msgs []model.Message) (bool, error) {
	c.once.Do(c.beforeFill)
	return c.RedisCache.FillMessages(ctx, conversationID, version, msgs)
}

func (c *interleavingCache) FillConversations(ctx context.Context, userID string, version int64, convs []model.Conversation) (bool, error) {
	c.once.Do(c.beforeFill)
	return c.RedisCache.FillConversations(ctx, userID, version, convs)
}

func TestConversationService_WriteDuringReadIsNotOverwritten(t *testing.T) {
	ctx := context.Background()

	t.Run("messages", func(t *testing.T) {
		ic := &interleavingCache{RedisCache: newRedisCache(t)}
		svc, _ := newConversationService(t, ic)
		conv, err := svc.CreateConversation(ctx, "u1")
		require.NoError(t, err)
		require.NoError(t, svc.ReplaceMessages(ctx, "u1", conv.ID, dialog("old q", "old a")))

		newer := dialog("q1", "a1", "q2", "a2")
		ic.beforeFill = func() {
			require.NoError(t, svc.ReplaceMessages(ctx, "u1", conv.ID, newer))
		}

		// 这次读取拿到的是旧快照，但不能写进缓存
		got, err := svc.ListMessages(ctx, "u1", conv.ID)
		require.NoError(t, err)
		assert.Len(t, got, 2)

		got, err = svc.ListMessages(ctx, "u1", conv.ID)
		require.NoError(t, err)
		assert.Equal(t, newer, got)
	})

	t.Run("conversations", func(t *testing.T) {
		ic := &interleavingCache{RedisCache: newRedisCache(t)}
		svc, _ := newConversationService(t, ic)
		conv, err := svc.CreateConversation(ctx, "u1")
		require.NoError(t, err)

		ic.beforeFill = func() {
			require.NoError(t, svc.UpdateTitle(ctx, "u1", conv.ID, &UpdateTitleRequest{Title: "Backend"}))
		}

		list, err := svc.ListConversations(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Empty(t, list[0].Title)

		list, err = svc.ListConversations(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "Backend", list[0].Title)
	})
}

func TestConversationService_Ownership(t *testing.T) {
	ctx := context.Background()
	svc, _ := newConversationService(t, cache.NewNopCache())
	conv, err := svc.CreateConversation(ctx, "owner")
	require.NoError(t, err)

	_, err = svc.ListMessages(ctx, "intruder", conv.ID)
	assert.ErrorIs(t, err, ErrNoPermission)
	_, err = svc.GetConversation(ctx, "intruder", conv.ID)
	assert.ErrorIs(t, err, ErrNoPermission)
	got, err := svc.GetConversation(ctx, "owner", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
	assert.ErrorIs(t, svc.ReplaceMessages(ctx, "intruder", conv.ID, dialog("x")), ErrNoPermission)
	assert.ErrorIs(t, svc.DeleteConversation(ctx, "intruder", conv.ID), ErrNoPermission)
	assert.ErrorIs(t, svc.UpdateTitle(ctx, "intruder", conv.ID, &UpdateTitleRequest{Title: "x"}), ErrNoPermission)

	assert.ErrorIs(t, svc.DeleteConversation(ctx, "owner", "missing"), ErrConversationNotFound)

	list, err := svc.ListConversations(ctx, "intruder")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestConversationService_RejectsInvalidMessages(t *testing.T) {
	ctx := context.Background()
	svc, _ := newConversationService(t, cache.NewNopCache())
	conv, err := svc.CreateConversation(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, svc.ReplaceMessages(ctx, "u1", conv.ID, dialog("keep", "me")))

	tests := map[string][]MessageDTO{
		"bad role":     {{ID: "a", Role: "system", Content: "x"}},
		"missing id":   {{Role: "user", Content: "x"}},
		"duplicate id": {{ID: "a", Role: "user", Content: "x"}, {ID: "a", Role: "assistant", Content: "y"}},
		"empty user":   {{ID: "a", Role: "user", Content: ""}},
	}
	for name, msgs := range tests {
		t.Run(name, func(t *testing.T) {
			err := svc.ReplaceMessages(ctx, "u1", conv.ID, msgs)
			assert.ErrorIs(t, err, ErrInvalidMessage)
		})
	}

	got, err := svc.ListMessages(ctx, "u1", conv.ID)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestConversationService_EmptyAssistantMessageAllowed(t *testing.T) {
	ctx := context.Background()
	svc, _ := newConversationService(t, cache.NewNopCache())
	conv, err := svc.CreateConversation(ctx, "u1")
	require.NoError(t, err)

	msgs := []MessageDTO{{ID: "a", Role: "user", Content: "hi"}, {ID: "b", Role: "assistant", Content: ""}}
	require.NoError(t, svc.ReplaceMessages(ctx, "u1", conv.ID, msgs))
}

func TestConversationService_TitleTooLong(t *testing.T) {
	ctx := context.Background()
	svc, _ := newConversationService(t, cache.NewNopCache())
	conv, err := svc.CreateConversation(ctx, "u1")
	require.NoError(t, err)

	long := make([]rune, maxTitleLength+1)
	for i := range long {
		long[i] = 'x'
	}
	err = svc.UpdateTitle(ctx, "u1", conv.ID, &UpdateTitleRequest{Title: string(long)})
	assert.ErrorIs(t, err, ErrInvalidTitle)
}

// fakeUpstream 模拟兼容 OpenAI 的流式接口
func fakeUpstream(t *testing.T, deltas []string, hold chan struct{}) (*httptest.Server, *[]map[string]interface{}) {
	t.Helper()
	var mu sync.Mutex
	var bodies []map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, d := range deltas {
			chunk := map[string]interface{}{
				"id":      "chatcmpl-1",
				"object":  "chat.completion.chunk",
				"created": 1,
				"model":   "test-model",
				"choices": []map[string]interface{}{{"index": 0, "delta": map[string]string{"content": d}}},
			}
			data, _ := json.Marshal(chunk)
			_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
		if hold != nil {
			select {
			case <-hold:
			case <-r.Context().Done():
				return
			}
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv, &bodies
}

type ownerFunc func(ctx context.Context, userID, conversationID string) error

func (f ownerFunc) EnsureOwned(ctx context.Context, userID, conversationID string) error {
	return f(ctx, userID, conversationID)
}

func allowAll() ConversationOwnerChecker {
	return ownerFunc(func(context.Context, string, string) error { return nil })
}

func newCompletionService(baseURL string, owners ConversationOwnerChecker) *CompletionService {
	return NewCompletionService(config.AIConfig{
		BaseURL:      baseURL,
		APIKey:       "sk-test",
		Model:        "test-model",
		SystemPrompt: "You are a career coach.",
		Timeout:      10 * time.Second,
	}, cache.NewNopCache(), owners, nil)
}

func TestCompletionService_Stream(t *testing.T) {
	srv, bodies := fakeUpstream(t, []string{"Learn ", "Go."}, nil)
	svc := newCompletionService(srv.URL, allowAll())

	var got []string
	err := svc.Stream(context.Background(), "u1", "", &CompletionRequest{
		Messages: []CompletionMessage{{Role: "user", Content: "What should I learn?"}},
	}, func(delta string) error {
		got = append(got, delta)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Learn ", "Go."}, got)

	require.Len(t, *bodies, 1)
	body := (*bodies)[0]
	assert.Equal(t, "test-model", body["model"])
	assert.Equal(t, true, body["stream"])
	msgs := body["messages"].([]interface{})
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]interface{})["role"])
	assert.Equal(t, "user", msgs[1].(map[string]interface{})["role"])
}

func TestCompletionService_KeepsClientSystemPrompt(t *testing.T) {
	srv, bodies := fakeUpstream(t, []string{"ok"}, nil)
	svc := newCompletionService(srv.URL, allowAll())

	err := svc.Stream(context.Background(), "u1", "", &CompletionRequest{
		Messages: []CompletionMessage{
			{Role: "system", Content: "Custom prompt"},
			{Role: "user", Content: "hi"},
		},
	}, func(string) error { return nil })
	require.NoError(t, err)

	msgs := (*bodies)[0]["messages"].([]interface{})
	require.Len(t, msgs, 2)
	assert.Equal(t, "Custom prompt", msgs[0].(map[string]interface{})["content"])
}

func TestCompletionService_InvalidRequest(t *testing.T) {
	svc := newCompletionService("http://127.0.0.1:1", allowAll())

	err := svc.Stream(context.Background(), "u1", "", &CompletionRequest{}, func(string) error { return nil })
	assert.ErrorIs(t, err, ErrInvalidRequest)

	err = svc.Stream(context.Background(), "u1", "", &CompletionRequest{
		Messages: []CompletionMessage{{Role: "tool", Content: "x"}},
	}, func(string) error { return nil })
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCompletionService_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"message":"boom","type":"server_error"}}`)
	}))
	defer srv.Close()
	svc := newCompletionService(srv.URL, allowAll())

	err := svc.Stream(context.Background(), "u1", "", &CompletionRequest{
		Messages: []CompletionMessage{{Role: "user", Content: "hi"}},
	}, func(string) error { return nil })
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestCompletionService_StreamLock(t *testing.T) {
	hold := make(chan struct{})
	srv, _ := fakeUpstream(t, []string{"first"}, hold)
	svc := newCompletionService(srv.URL, allowAll())
	req := &CompletionRequest{Messages: []CompletionMessage{{Role: "user", Content: "hi"}}}

	started := make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		var once sync.Once
		errc <- svc.Stream(context.Background(), "u1", "c1", req, func(string) error {
			once.Do(func() { close(started) })
			return nil
		})
	}()
	<-started

	err := svc.Stream(context.Background(), "u1", "c1", req, func(string) error { return nil })
	assert.ErrorIs(t, err, ErrStreamBusy)

	close(hold)
	require.NoError(t, <-errc)

	// 锁已释放
	require.NoError(t, svc.Stream(context.Background(), "u1", "c1", req, func(string) error { return nil }))
}

func TestCompletionService_OwnershipChecked(t *testing.T) {
	svc := newCompletionService("http://127.0.0.1:1", ownerFunc(func(context.Context, string, string) error {
		return ErrNoPermission
	}))
	err := svc.Stream(context.Background(), "u1", "c1", &CompletionRequest{
		Messages: []CompletionMessage{{Role: "user", Content: "hi"}},
	}, func(string) error { return nil })
	assert.ErrorIs(t, err, ErrNoPermission)
}

func TestCompletionService_EmitErrorStops(t *testing.T) {
	srv, _ := fakeUpstream(t, []string{"a", "b", "c"}, nil)
	svc := newCompletionService(srv.URL, allowAll())
	stop := errors.New("client gone")

	calls := 0
	err := svc.Stream(context.Background(), "u1", "", &CompletionRequest{
		Messages: []CompletionMessage{{Role: "user", Content: "hi"}},
	}, func(string) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}
