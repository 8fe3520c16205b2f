// Package model содержит доменные сущности платёжного терминала автомойки.
package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// ErrInvalidAmount возвращается, если сумма не является конечным числом.
var ErrInvalidAmount = errors.New("amount is not a finite number")

// OrderStatus описывает статус заказа на стороне сервера.
type OrderStatus string

const (
	OrderStatusCreated        OrderStatus = "CREATED"
	OrderStatusWaitingPayment OrderStatus = "WAITING_PAYMENT"
	OrderStatusProcessing     OrderStatus = "PROCESSING"
	OrderStatusPayed          OrderStatus = "PAYED"
	OrderStatusCompleted      OrderStatus = "COMPLETED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
	OrderStatusFailed         OrderStatus = "FAILED"
)

// PaymentMethod описывает способ оплаты заказа.
type PaymentMethod string

const (
	PaymentMethodCard          PaymentMethod = "CARD"
	PaymentMethodCash          PaymentMethod = "CASH"
	PaymentMethodMobilePayment PaymentMethod = "MOBILE_PAYMENT"
	PaymentMethodLoyalty       PaymentMethod = "LOYALTY"
)

// Valid сообщает, известен ли способ оплаты.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCard, PaymentMethodCash, PaymentMethodMobilePayment, PaymentMethodLoyalty:
		return true
	}
	return false
}

// Order описывает текущий заказ терминала.
type Order struct {
	ID            string        `json:"id,omitempty"`
	Status        OrderStatus   `json:"status,omitempty"`
	PaymentMethod PaymentMethod `json:"payment_method,omitempty"`
	ProgramID     int64         `json:"program_id,omitempty"`
	TransactionID string        `json:"transaction_id,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// OrderDetails описывает ответ сервера на запрос заказа по идентификатору.
type OrderDetails struct {
	ID            string      `json:"id"`
	Status        OrderStatus `json:"status"`
	AmountSum     *Amount     `json:"amount_sum,omitempty"`
	QueuePosition *int        `json:"queue_position,omitempty"`
	QueueNumber   *int        `json:"queue_number,omitempty"`
	QRCode        string      `json:"qr_code,omitempty"`
}

// Amount возвращает внесённую сумму; отсутствующее значение считается нулём.
func (d *OrderDetails) Amount() int64 {
	if d == nil || d.AmountSum == nil {
		return 0
	}
	return int64(*d.AmountSum)
}

// Amount хранит денежную сумму в целых единицах. Сервер присылает её
// то числом, то строкой.
type Amount int64

// UnmarshalJSON разбирает сумму из числа или строки.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*a = 0
			return nil
		}
		data = []byte(s)
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("parse amount %q: %w", data, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("parse amount %q: %w", data, ErrInvalidAmount)
	}
	*a = Amount(v)
	return nil
}

// Program описывает программу мойки.
type Program struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Price       int64    `json:"price"`
	Duration    int      `json:"time"`
	Description string   `json:"description,omitempty"`
	Services    []string `json:"services,omitempty"`
	PromoURL    string   `json:"promo_url,omitempty"`
}

// LoyaltyCard описывает данные, считанные с карты лояльности.
type LoyaltyCard struct {
	UCN     int64  `json:"ucn"`
	Balance *int64 `json:"balance,omitempty"`
}

// TerminalData содержит идентификаторы терминала, выданные сервером.
type TerminalData struct {
	CarWashID int64 `json:"car_wash_id"`
	DeviceID  int64 `json:"device_id"`
}

// MessageType задаёт тип сообщения push-канала.
type MessageType string

const (
	MessageStatusUpdate  MessageType = "status_update"
	MessageCardReader    MessageType = "card_reader"
	MessageError         MessageType = "error"
	MessageMobilePayment MessageType = "mobile_payment"
	MessageDeviceStatus  MessageType = "device_status"
)

// PushMessage описывает одно сообщение push-канала.
type PushMessage struct {
	Type          MessageType `json:"type"`
	OrderID       string      `json:"order_id,omitempty"`
	Status        OrderStatus `json:"status,omitempty"`
	TransactionID string      `json:"transaction_id,omitempty"`
	Code          *int        `json:"code,omitempty"`
	Timestamp     string      `json:"timestamp"`
}

// Screen обозначает экран, который должен показать интерфейс киоска.
type Screen string

const (
	ScreenMain      Screen = "main"
	ScreenPayment   Screen = "payment"
	ScreenQueue     Screen = "queue"
	ScreenSuccess   Screen = "success"
	ScreenError     Screen = "error"
	ScreenQueueFull Screen = "queue_full"
	ScreenLoyalty   Screen = "loyalty"
)

// CardReaderStatus описывает состояние кард-ридера карт лояльности.
type CardReaderStatus int

const (
	CardReaderWaiting  CardReaderStatus = 1
	CardReaderReading  CardReaderStatus = 2
	CardReaderComplete CardReaderStatus = 3
)

// LoyaltyResult описывает итог проверки карты лояльности.
type LoyaltyResult string

const (
	LoyaltyCardNotFound        LoyaltyResult = "card_not_found"
	LoyaltyInsufficientBalance LoyaltyResult = "insufficient_balance"
	LoyaltyAccepted            LoyaltyResult = "accepted"
)

// JournalEntry описывает одну запись журнала оплат: переход состояния
// оплаты или смену экрана в рамках цикла оплаты.
type JournalEntry struct {
	CycleID        string        `json:"cycle_id"`
	Cycle          uint64        `json:"cycle"`
	OrderID        string        `json:"order_id,omitempty"`
	OrderStatus    OrderStatus   `json:"order_status,omitempty"`
	PaymentState   string        `json:"payment_state"`
	PaymentMethod  PaymentMethod `json:"payment_method,omitempty"`
	ProgramID      int64         `json:"program_id,omitempty"`
	InsertedAmount int64         `json:"inserted_amount"`
	Screen         Screen        `json:"screen"`
	PaymentError   string        `json:"payment_error,omitempty"`
	RecordedAt     time.Time     `json:"recorded_at"`
}
