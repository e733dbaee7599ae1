package repository

import (
	"context"
	"errors"

	"codevibe-chat/backend/internal/models"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("record not found")

type SessionRepository interface {
	Create(ctx context.Context, session *models.ChatSession) error
	GetBySessionID(ctx context.Context, sessionID string) (*models.ChatSession, error)
	ListByUser(ctx context.Context, userID string) ([]models.ChatSession, error)
	Update(ctx context.Context, sessionID string, fields map[string]any) (*models.ChatSession, error)
	Delete(ctx context.Context, sessionID string) error
}

type MessageRepository interface {
	Create(ctx context.Context, message *models.ChatMessage) error
	GetByID(ctx context.Context, id uint) (*models.ChatMessage, error)
	ListBySession(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error)
	Recent(ctx context.Context, sessionID string, count int) ([]models.ChatMessage, error)
	CountByRole(ctx context.Context, sessionID, role string) (int64, error)
	Stats(ctx context.Context, sessionID string) (*models.SessionStats, error)
	Delete(ctx context.Context, id uint) error
}

type FeedbackRepository interface {
	Create(ctx context.Context, fb *models.Feedback) error
	ListByMessage(ctx context.Context, messageID string) ([]models.Feedback, error)
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Migrate creates or updates the chat history tables
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(models.AllModels()...)
}
