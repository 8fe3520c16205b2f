// Package validation содержит функции валидации входных данных локального API киоска.
package validation

import (
	"errors"
	"fmt"
	"unicode"

	"github.com/DS-Industry/sensor-terminal-front-end/internal/model"
)

var (
	// ErrInvalidProgramID возвращается, если идентификатор программы не положителен.
	ErrInvalidProgramID = errors.New("invalid program id")
	// ErrInvalidPaymentMethod возвращается для неизвестного способа оплаты.
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	// ErrInvalidOrderID возвращается, если идентификатор заказа пуст или содержит недопустимые символы.
	ErrInvalidOrderID = errors.New("invalid order id")
	// ErrInvalidMessage возвращается для некорректного сообщения push-канала.
	ErrInvalidMessage = errors.New("invalid push message")
)

const maxOrderIDLength = 64

// ValidateOrderRequest проверяет выбор программы и способа оплаты.
func ValidateOrderRequest(programID int64, method model.PaymentMethod) error {
	if programID <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidProgramID, programID)
	}
	if !method.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, method)
	}
	return nil
}

// IsValidOrderID проверяет идентификатор заказа: непустой, не длиннее
// 64 символов, только буквы, цифры, дефис и подчёркивание.
func IsValidOrderID(id string) bool {
	if id == "" || len(id) > maxOrderIDLength {
		return false
	}
	for _, ch := range id {
		if !unicode.IsLetter(ch) && !unicode.IsDigit(ch) && ch != '-' && ch != '_' {
			return false
		}
	}
	return true
}

// IsKnownOrderStatus сообщает, известен ли статус заказа.
func IsKnownOrderStatus(status model.OrderStatus) bool {
	switch status {
	case model.OrderStatusCreated, model.OrderStatusWaitingPayment, model.OrderStatusProcessing,
		model.OrderStatusPayed, model.OrderStatusCompleted, model.OrderStatusCancelled, model.OrderStatusFailed:
		return true
	}
	return false
}

// ValidatePushMessage проверяет сообщение, которое оператор внедряет в
// push-канал в режиме разработки.
func ValidatePushMessage(msg model.PushMessage) error {
	switch msg.Type {
	case model.MessageStatusUpdate:
		if !IsValidOrderID(msg.OrderID) {
			return fmt.Errorf("%w: %q", ErrInvalidOrderID, msg.OrderID)
		}
		if !IsKnownOrderStatus(msg.Status) {
			return fmt.Errorf("%w: unknown status %q", ErrInvalidMessage, msg.Status)
		}
	case model.MessageCardReader, model.MessageError:
		if msg.Code == nil {
			return fmt.Errorf("%w: %s without code", ErrInvalidMessage, msg.Type)
		}
	case model.MessageMobilePayment, model.MessageDeviceStatus:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, msg.Type)
	}
	return nil
}
