package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"career-coach/internal/config"
	"career-coach/internal/database"
	"career-coach/internal/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Driver: config.DriverSQLite, Path: ":memory:"}, "release")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func snapshot(convID, userID string, contents ...string) []model.Message {
	out := make([]model.Message, 0, len(contents))
	for i, c := range contents {
		role := model.MessageRoleUser
		if i%2 == 1 {
			role = model.MessageRoleAssistant
		}
		out = append(out, model.Message{
			ID:             convID + "-m" + string(rune('a'+i)),
			ConversationID: convID,
			UserID:         userID,
			Role:           role,
			Content:        c,
			Position:       i,
		})
	}
	return out
}

func TestConversationRepository_CRUD(t *testing.T) {
	ctx := context.Background()
	repo := NewConversationRepository(newTestDB(t))

	now := time.Now()
	older := &model.Conversation{ID: "c1", UserID: "u1", UpdatedAt: now.Add(-time.Hour)}
	newer := &model.Conversation{ID: "c2", UserID: "u1", UpdatedAt: now}
	other := &model.Conversation{ID: "c3", UserID: "u2", UpdatedAt: now}
	for _, c := range []*model.Conversation{older, newer, other} {
		require.NoError(t, repo.Create(ctx, c))
	}

	got, err := repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.UserID)
	assert.Empty(t, got.Title)

	missing, err := repo.GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	list, err := repo.ListByUserID(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c2", list[0].ID)
	assert.Equal(t, "c1", list[1].ID)

	found, err := repo.UpdateTitle(ctx, "c1", "Backend skills", now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, found)

	list, err = repo.ListByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "c1", list[0].ID)
	assert.Equal(t, "Backend skills", list[0].Title)

	found, err = repo.UpdateTitle(ctx, "nope", "x", now)
	require.NoError(t, err)
	assert.False(t, found)

	count, err := repo.CountByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestMessageRepository_ReplaceAllIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	convs := NewConversationRepository(db)
	msgs := NewMessageRepository(db)
	require.NoError(t, convs.Create(ctx, &model.Conversation{ID: "c1", UserID: "u1", UpdatedAt: time.Now()}))

	snap := snapshot("c1", "u1", "q1", "a1", "q2", "a2")
	require.NoError(t, msgs.ReplaceAll(ctx, "c1", snap))
	require.NoError(t, msgs.ReplaceAll(ctx, "c1", snapshot("c1", "u1", "q1", "a1", "q2", "a2")))

	stored, err := msgs.ListByConversationID(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, stored, 4)
	for i, m := range stored {
		assert.Equal(t, snap[i].ID, m.ID)
		assert.Equal(t, snap[i].Role, m.Role)
		assert.Equal(t, snap[i].Content, m.Content)
		assert.Equal(t, i, m.Position)
	}

	count, err := msgs.CountByConversationID(ctx, "c1")
	require.NoError(t, err)
	assert.EqualValues(t, 4, count)
}

func TestMessageRepository_ReplaceAllOverwrites(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	msgs := NewMessageRepository(db)
	require.NoError(t, NewConversationRepository(db).Create(ctx, &model.Conversation{ID: "c1", UserID: "u1", UpdatedAt: time.Now()}))

	require.NoError(t, msgs.ReplaceAll(ctx, "c1", snapshot("c1", "u1", "q1", "a1", "q2", "a2")))
	require.NoError(t, msgs.ReplaceAll(ctx, "c1", snapshot("c1", "u1", "only")))

	stored, err := msgs.ListByConversationID(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "only", stored[0].Content)

	require.NoError(t, msgs.ReplaceAll(ctx, "c1", nil))
	stored, err = msgs.ListByConversationID(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestMessageRepository_OrderFollowsPosition(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	msgs := NewMessageRepository(db)
	require.NoError(t, NewConversationRepository(db).Create(ctx, &model.Conversation{ID: "c1", UserID: "u1", UpdatedAt: time.Now()}))

	snap := snapshot("c1", "u1", "first", "second", "third")
	// 插入顺序与 Position 相反
	reversed := []model.Message{snap[2], snap[1], snap[0]}
	require.NoError(t, msgs.ReplaceAll(ctx, "c1", reversed))

	stored, err := msgs.ListByConversationID(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, "first", stored[0].Content)
	assert.Equal(t, "third", stored[2].Content)
}

func TestMessageRepository_ReplaceAllRollsBack(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	msgs := NewMessageRepository(db)
	require.NoError(t, NewConversationRepository(db).Create(ctx, &model.Conversation{ID: "c1", UserID: "u1", UpdatedAt: time.Now()}))
	require.NoError(t, msgs.ReplaceAll(ctx, "c1", snapshot("c1", "u1", "q1", "a1")))

	// 同一个快照里出现重复主键，插入失败，删除也应被回滚
	dup := snapshot("c1", "u1", "x", "y")
	dup[1].ID = dup[0].ID
	assert.Error(t, msgs.ReplaceAll(ctx, "c1", dup))

	stored, err := msgs.ListByConversationID(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "q1", stored[0].Content)
}

func TestConversationRepository_DeleteCascades(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	convs := NewConversationRepository(db)
	msgs := NewMessageRepository(db)
	require.NoError(t, convs.Create(ctx, &model.Conversation{ID: "c1", UserID: "u1", UpdatedAt: time.Now()}))
	require.NoError(t, convs.Create(ctx, &model.Conversation{ID: "c2", UserID: "u1", UpdatedAt: time.Now()}))
	require.NoError(t, msgs.ReplaceAll(ctx, "c1", snapshot("c1", "u1", "q1", "a1", "q2", "a2")))
	require.NoError(t, msgs.ReplaceAll(ctx, "c2", snapshot("c2", "u1", "keep")))

	require.NoError(t, convs.Delete(ctx, "c1"))

	stored, err := msgs.ListByConversationID(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, stored)

	got, err := convs.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, got)

	kept, err := msgs.ListByConversationID(ctx, "c2")
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}
