package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"codevibe-chat/backend/internal/models"
	"codevibe-chat/backend/internal/repository"
	"codevibe-chat/backend/pkg/cache"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
	ErrMessageNotFound = errors.New("message not found")
	ErrInvalidRole     = errors.New("role must be user or assistant")
	ErrEmptyContent    = errors.New("message content is required")
	ErrInvalidRating   = errors.New("rating must be thumbs_up or thumbs_down")
)

// titleLength is how many characters of the first user message become the title
const titleLength = 30

// SessionService owns the session/message rules: strict ordering, updatedAt
// bump on append, one-time auto title and cascade delete.
type SessionService struct {
	sessions repository.SessionRepository
	messages repository.MessageRepository
	feedback repository.FeedbackRepository
	cache    *cache.Cache
}

// NewSessionService creates a session service; sessionCache may be nil
func NewSessionService(
	sessions repository.SessionRepository,
	messages repository.MessageRepository,
	feedback repository.FeedbackRepository,
	sessionCache *cache.Cache,
) *SessionService {
	return &SessionService{
		sessions: sessions,
		messages: messages,
		feedback: feedback,
		cache:    sessionCache,
	}
}

func (s *SessionService) CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.ChatSession, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, errors.New("sessionId is required")
	}
	if _, err := s.sessions.GetBySessionID(ctx, req.SessionID); err == nil {
		return nil, ErrSessionExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = models.DefaultSessionTitle
	}

	session := &models.ChatSession{SessionID: req.SessionID, UserID: req.UserID, Title: title}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.remember(session)
	return session, nil
}

// EnsureSession returns the session, creating an untitled one if it does not exist
func (s *SessionService) EnsureSession(ctx context.Context, sessionID, userID string) (*models.ChatSession, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}

	session, err = s.CreateSession(ctx, models.CreateSessionRequest{SessionID: sessionID, UserID: userID})
	if errors.Is(err, ErrSessionExists) {
		// lost a race with a concurrent request for the same session
		return s.GetSession(ctx, sessionID)
	}
	return session, err
}

func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*models.ChatSession, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(cacheKey(sessionID)); ok {
			cp := v.(models.ChatSession)
			return &cp, nil
		}
	}

	session, err := s.sessions.GetBySessionID(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	s.remember(session)
	return session, nil
}

func (s *SessionService) ListSessions(ctx context.Context, userID string) ([]models.ChatSession, error) {
	return s.sessions.ListByUser(ctx, userID)
}

// AddMessage appends to an existing session, advances its updatedAt, and
// titles it from the first user message while it is still untitled.
func (s *SessionService) AddMessage(ctx context.Context, req models.AddMessageRequest) (*models.ChatMessage, error) {
	if req.Role != models.RoleUser && req.Role != models.RoleAssistant {
		return nil, ErrInvalidRole
	}
	if req.Content == "" {
		return nil, ErrEmptyContent
	}

	session, err := s.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	msg := &models.ChatMessage{
		SessionID:       req.SessionID,
		Role:            req.Role,
		Content:         req.Content,
		Attachments:     req.Attachments,
		ToolInvocations: req.ToolInvocations,
		Model:           req.Model,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	fields := map[string]any{}
	if req.Role == models.RoleUser && isUntitled(session.Title) {
		n, err := s.messages.CountByRole(ctx, req.SessionID, models.RoleUser)
		if err != nil {
			return nil, err
		}
		if n == 1 {
			fields["title"] = DeriveTitle(req.Content)
		}
	}

	updated, err := s.sessions.Update(ctx, req.SessionID, fields)
	if err != nil {
		s.forget(req.SessionID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("touch session: %w", err)
	}
	s.remember(updated)

	return msg, nil
}

func (s *SessionService) Messages(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error) {
	return s.messages.ListBySession(ctx, sessionID, limit)
}

func (s *SessionService) Message(ctx context.Context, id uint) (*models.ChatMessage, error) {
	msg, err := s.messages.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	return msg, err
}

// RecentMessages returns the last count messages in creation order
func (s *SessionService) RecentMessages(ctx context.Context, sessionID string, count int) ([]models.ChatMessage, error) {
	return s.messages.Recent(ctx, sessionID, count)
}

// UpdateTitle sets the title; last write wins
func (s *SessionService) UpdateTitle(ctx context.Context, sessionID, title string) (*models.ChatSession, error) {
	updated, err := s.sessions.Update(ctx, sessionID, map[string]any{"title": title})
	s.forget(sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	s.remember(updated)
	return updated, nil
}

func (s *SessionService) DeleteSession(ctx context.Context, sessionID string) error {
	s.forget(sessionID)
	return s.sessions.Delete(ctx, sessionID)
}

func (s *SessionService) DeleteMessage(ctx context.Context, id uint) error {
	err := s.messages.Delete(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrMessageNotFound
	}
	return err
}

func (s *SessionService) Stats(ctx context.Context, sessionID string) (*models.SessionStats, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.messages.Stats(ctx, sessionID)
}

func (s *SessionService) AddFeedback(ctx context.Context, messageID, rating, comment string) (*models.Feedback, error) {
	if rating != models.RatingThumbsUp && rating != models.RatingThumbsDown {
		return nil, ErrInvalidRating
	}
	fb := &models.Feedback{MessageID: messageID, Rating: rating, Comment: comment}
	if err := s.feedback.Create(ctx, fb); err != nil {
		return nil, fmt.Errorf("save feedback: %w", err)
	}
	return fb, nil
}

// Feedback lists the ratings left on a message, newest first
func (s *SessionService) Feedback(ctx context.Context, messageID string) ([]models.Feedback, error) {
	return s.feedback.ListByMessage(ctx, messageID)
}

// DeriveTitle keeps the first 30 characters of content, marking truncation with "..."
func DeriveTitle(content string) string {
	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) <= titleLength {
		return content
	}
	return string([]rune(content)[:titleLength]) + "..."
}

func isUntitled(title string) bool {
	return title == "" || title == models.DefaultSessionTitle
}

func cacheKey(sessionID string) string { return "session:" + sessionID }

func (s *SessionService) remember(session *models.ChatSession) {
	if s.cache != nil && session != nil {
		s.cache.Set(cacheKey(session.SessionID), *session)
	}
}

func (s *SessionService) forget(sessionID string) {
	if s.cache != nil {
		s.cache.Delete(cacheKey(sessionID))
	}
}
