package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for validation failures.
var (
	ErrEmptyQuery       = errors.New("empty query")
	ErrQueryTooLong     = errors.New("query too long")
	ErrForbiddenContent = errors.New("query contains forbidden content")
	ErrEmptyRecord      = errors.New("record has neither question nor answer")
	ErrMissingID        = errors.New("record id is empty")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// User-facing messages returned in place of an answer.
const (
	RefusalMessage     = "Не разговариваю на такие темы :) Спроси что-нибудь другое"
	ClarifyMessage     = "Опиши свой запрос более конкретно"
	EmptyQueryMessage  = "Пожалуйста, задайте вопрос"
	TooLongMessage     = "Слишком длинный запрос, сократите его"
	ApologyMessage     = "Извините, произошла ошибка при обработке запроса."
	UnavailableMessage = "Извините, сервис временно недоступен."
)

// UserMessage maps a validation failure to the text shown to the user.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrForbiddenContent):
		return RefusalMessage
	case errors.Is(err, ErrQueryTooLong):
		return TooLongMessage
	case errors.Is(err, ErrEmptyQuery):
		return EmptyQueryMessage
	default:
		return ApologyMessage
	}
}
