package repository

import (
	"context"

	"codevibe-chat/backend/internal/models"

	"gorm.io/gorm"
)

// DefaultMessageLimit bounds a session history read
const DefaultMessageLimit = 100

type GormMessageRepository struct {
	db *gorm.DB
}

func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

func (r *GormMessageRepository) Create(ctx context.Context, message *models.ChatMessage) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *GormMessageRepository) GetByID(ctx context.Context, id uint) (*models.ChatMessage, error) {
	var message models.ChatMessage
	if err := r.db.WithContext(ctx).First(&message, id).Error; err != nil {
		return nil, translate(err)
	}
	return &message, nil
}

// ListBySession returns messages in creation order; ties on created_at fall back to insertion id
func (r *GormMessageRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	var messages []models.ChatMessage
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

// Recent returns the newest count messages, still in creation order
func (r *GormMessageRepository) Recent(ctx context.Context, sessionID string, count int) ([]models.ChatMessage, error) {
	var messages []models.ChatMessage
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(count).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *GormMessageRepository) CountByRole(ctx context.Context, sessionID, role string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.ChatMessage{}).
		Where("session_id = ? AND role = ?", sessionID, role).
		Count(&n).Error
	return n, err
}

func (r *GormMessageRepository) Stats(ctx context.Context, sessionID string) (*models.SessionStats, error) {
	var stats models.SessionStats
	err := r.db.WithContext(ctx).
		Model(&models.ChatMessage{}).
		Select(
			"COUNT(*) AS total_messages, "+
				"COUNT(CASE WHEN role = ? THEN 1 END) AS user_messages, "+
				"COUNT(CASE WHEN role = ? THEN 1 END) AS assistant_messages, "+
				"COALESCE(SUM(tokens), 0) AS total_tokens",
			models.RoleUser, models.RoleAssistant,
		).
		Where("session_id = ?", sessionID).
		Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (r *GormMessageRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.ChatMessage{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

type GormFeedbackRepository struct {
	db *gorm.DB
}

func NewGormFeedbackRepository(db *gorm.DB) *GormFeedbackRepository {
	return &GormFeedbackRepository{db: db}
}

func (r *GormFeedbackRepository) Create(ctx context.Context, fb *models.Feedback) error {
	return r.db.WithContext(ctx).Create(fb).Error
}

func (r *GormFeedbackRepository) ListByMessage(ctx context.Context, messageID string) ([]models.Feedback, error) {
	var out []models.Feedback
	err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}
