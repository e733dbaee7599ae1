package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"codevibe-chat/backend/internal/models"
	"codevibe-chat/backend/internal/repository"
	"codevibe-chat/backend/pkg/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newSessionService(t *testing.T) *SessionService {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, repository.Migrate(db))

	c := cache.New(cache.Options{TTL: time.Minute})
	t.Cleanup(c.Close)

	return NewSessionService(
		repository.NewGormSessionRepository(db),
		repository.NewGormMessageRepository(db),
		repository.NewGormFeedbackRepository(db),
		c,
	)
}

func TestAutoTitleFromFirstUserMessage(t *testing.T) {
	ctx := context.Background()
	svc := newSessionService(t)

	_, err := svc.CreateSession(ctx, models.CreateSessionRequest{SessionID: "s", UserID: "u"})
	require.NoError(t, err)

	_, err = svc.AddMessage(ctx, models.AddMessageRequest{SessionID: "s", Role: models.RoleUser, Content: "How do I reverse a linked list in Go?"})
	require.NoError(t, err)

	session, err := svc.GetSession(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "How do I reverse a linked list...", session.Title)

	_, err = svc.AddMessage(ctx, models.AddMessageRequest{SessionID: "s", Role: models.RoleUser, Content: "Second question"})
	require.NoError(t, err)
	session, err = svc.GetSession(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "How do I reverse a linked list...", session.Title)
}

func TestExplicitTitleIsNeverReplaced(t *testing.T) {
	ctx := context.Background()
	svc := newSessionService(t)

	_, err := svc.CreateSession(ctx, models.CreateSessionRequest{SessionID: "s", Title: "Mine"})
	require.NoError(t, err)
	_, err = svc.AddMessage(ctx, models.AddMessageRequest{SessionID: "s", Role: models.RoleUser, Content: "hello"})
	require.NoError(t, err)

	session, err := svc.GetSession(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "Mine", session.Title)
}

func TestAppendAdvancesUpdatedAt(t *testing.T) {
	ctx := context.Background()
	svc := newSessionService(t)

	created, err := svc.CreateSession(ctx, models.CreateSessionRequest{SessionID: "s"})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	_, err = svc.AddMessage(ctx, models.AddMessageRequest{SessionID: "s", Role: models.RoleAssistant, Content: "hi"})
	require.NoError(t, err)

	session, err := svc.GetSession(ctx, "s")
	require.NoError(t, err)
	assert.True(t, session.UpdatedAt.After(created.UpdatedAt))
	assert.Equal(t, models.DefaultSessionTitle, session.Title)
}

func TestAddMessageValidation(t *testing.T) {
	ctx := context.Background()
	svc := newSessionService(t)

	_, err := svc.AddMessage(ctx, models.AddMessageRequest{SessionID: "nope", Role: models.RoleUser, Content: "x"})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = svc.AddMessage(ctx, models.AddMessageRequest{SessionID: "nope", Role: models.RoleSystem, Content: "x"})
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, err = svc.AddMessage(ctx, models.AddMessageRequest{SessionID: "nope", Role: models.RoleUser})
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestEnsureSessionAndDelete(t *testing.T) {
	ctx := context.Background()
	svc := newSessionService(t)

	s1, err := svc.EnsureSession(ctx, "s", "u")
	require.NoError(t, err)
	s2, err := svc.EnsureSession(ctx, "s", "u")
	require.NoError(t, err)
	assert.Equal(t, s1.ID, s2.ID)

	_, err = svc.CreateSession(ctx, models.CreateSessionRequest{SessionID: "s"})
	assert.ErrorIs(t, err, ErrSessionExists)

	_, err = svc.AddMessage(ctx, models.AddMessageRequest{SessionID: "s", Role: models.RoleUser, Content: "x"})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteSession(ctx, "s"))
	_, err = svc.GetSession(ctx, "s")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	msgs, err := svc.Messages(ctx, "s", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestUpdateTitleAndStats(t *testing.T) {
	ctx := context.Background()
	svc := newSessionService(t)

	_, err := svc.UpdateTitle(ctx, "missing", "t")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = svc.CreateSession(ctx, models.CreateSessionRequest{SessionID: "s"})
	require.NoError(t, err)
	updated, err := svc.UpdateTitle(ctx, "s", "Renamed")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)

	_, err = svc.AddMessage(ctx, models.AddMessageRequest{SessionID: "s", Role: models.RoleUser, Content: "q"})
	require.NoError(t, err)
	_, err = svc.AddMessage(ctx, models.AddMessageRequest{SessionID: "s", Role: models.RoleAssistant, Content: "a"})
	require.NoError(t, err)

	stats, err := svc.Stats(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalMessages)
	assert.Equal(t, int64(1), stats.AssistantMessages)
}

func TestFeedbackRating(t *testing.T) {
	ctx := context.Background()
	svc := newSessionService(t)

	_, err := svc.AddFeedback(ctx, "m", "meh", "")
	assert.ErrorIs(t, err, ErrInvalidRating)

	fb, err := svc.AddFeedback(ctx, "m", models.RatingThumbsDown, "wrong output")
	require.NoError(t, err)
	assert.NotZero(t, fb.ID)
}

func TestMessageLookupAndRecent(t *testing.T) {
	ctx := context.Background()
	svc := newSessionService(t)

	_, err := svc.Message(ctx, 42)
	assert.ErrorIs(t, err, ErrMessageNotFound)

	_, err = svc.CreateSession(ctx, models.CreateSessionRequest{SessionID: "s"})
	require.NoError(t, err)
	var last *models.ChatMessage
	for _, content := range []string{"one", "two", "three"} {
		last, err = svc.AddMessage(ctx, models.AddMessageRequest{SessionID: "s", Role: models.RoleUser, Content: content})
		require.NoError(t, err)
	}

	got, err := svc.Message(ctx, last.ID)
	require.NoError(t, err)
	assert.Equal(t, "three", got.Content)

	recent, err := svc.RecentMessages(ctx, "s", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "two", recent[0].Content)
	assert.Equal(t, "three", recent[1].Content)
}

func TestFeedbackListing(t *testing.T) {
	ctx := context.Background()
	svc := newSessionService(t)

	list, err := svc.Feedback(ctx, "m")
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = svc.AddFeedback(ctx, "m", models.RatingThumbsUp, "")
	require.NoError(t, err)
	_, err = svc.AddFeedback(ctx, "other", models.RatingThumbsDown, "")
	require.NoError(t, err)

	list, err = svc.Feedback(ctx, "m")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.RatingThumbsUp, list[0].Rating)
}

func TestDeriveTitle(t *testing.T) {
	assert.Equal(t, "short", DeriveTitle("  short "))
	assert.Equal(t, strings.Repeat("é", 30)+"...", DeriveTitle(strings.Repeat("é", 31)))
	assert.Equal(t, strings.Repeat("a", 30), DeriveTitle(strings.Repeat("a", 30)))
}
