package stream

import (
	"context"
	"errors"
	"net/http"

	"codevibe-chat/backend/internal/generation"
	apperrors "codevibe-chat/backend/pkg/errors"
	"codevibe-chat/backend/pkg/resilience"
)

// AppError maps a Handle error onto the HTTP error envelope
func AppError(err error) *apperrors.AppError {
	switch {
	case errors.Is(err, ErrEmptyPrompt):
		return apperrors.NewBadRequestError("EMPTY_PROMPT", "Prompt is required")
	case errors.Is(err, ErrPromptTooLong):
		return apperrors.NewBadRequestError("PROMPT_TOO_LONG", "Prompt is too long").WithDetails(err.Error())
	case errors.Is(err, ErrInvalidHistory):
		return apperrors.NewBadRequestError("INVALID_HISTORY", "Invalid message history").WithDetails(err.Error())
	case errors.Is(err, resilience.ErrCircuitOpen):
		return apperrors.NewServiceUnavailableError("GENERATION_UNAVAILABLE", "The assistant is temporarily unavailable").WithCause(err)
	case errors.Is(err, generation.ErrUnavailable), errors.Is(err, generation.ErrEmptyResponse):
		return apperrors.NewBadGatewayError("GENERATION_FAILED", "Failed to generate a response").WithCause(err)
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewError(http.StatusGatewayTimeout, "GENERATION_TIMEOUT", "The assistant took too long to respond").WithCause(err)
	default:
		return apperrors.NewInternalServerError("INTERNAL_ERROR", "Failed to process chat request").WithCause(err)
	}
}

// ErrorEvent is the in-stream form of AppError, used once headers are written
func ErrorEvent(err error) Event {
	appErr := AppError(err)
	return Event{Type: EventError, Error: &ErrorPayload{Code: appErr.Code, Message: appErr.Message}}
}
