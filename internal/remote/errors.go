package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthorized возвращается, если сервер отклонил токен терминала.
var ErrUnauthorized = errors.New("unauthorized")

// APIError описывает ответ сервера с кодом ошибки.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("unexpected status: %d", e.StatusCode)
}

// Is позволяет сравнивать ответ 401 с ErrUnauthorized через errors.Is.
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// IsCanceled сообщает, что вызов прерван отменой контекста, а не ошибкой сервера.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// Message возвращает текст ошибки, пригодный для показа пользователю:
// сообщение сервера, если оно есть, иначе текст самой ошибки.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}
