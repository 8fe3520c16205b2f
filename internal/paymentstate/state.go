// Package paymentstate описывает конечный автомат оплаты заказа.
package paymentstate

// State описывает состояние оплаты текущего заказа.
type State string

const (
	Idle              State = "IDLE"
	CreatingOrder     State = "CREATING_ORDER"
	WaitingPayment    State = "WAITING_PAYMENT"
	ProcessingPayment State = "PROCESSING_PAYMENT"
	PaymentSuccess    State = "PAYMENT_SUCCESS"
	StartingRobot     State = "STARTING_ROBOT"
	RobotStarted      State = "ROBOT_STARTED"
	QueueWaiting      State = "QUEUE_WAITING"
	QueueFull         State = "QUEUE_FULL"
	PaymentError      State = "PAYMENT_ERROR"
)

// transitions перечисляет допустимые переходы по событиям.
// Переход в Idle выполняется только явным сбросом и здесь не описан.
var transitions = map[State][]State{
	Idle:              {CreatingOrder},
	PaymentError:      {CreatingOrder},
	CreatingOrder:     {WaitingPayment, PaymentError, ProcessingPayment, PaymentSuccess, QueueFull},
	WaitingPayment:    {ProcessingPayment, PaymentSuccess, QueueFull},
	ProcessingPayment: {PaymentSuccess, QueueFull},
	PaymentSuccess:    {StartingRobot},
	StartingRobot:     {QueueWaiting, RobotStarted, PaymentError},
	QueueWaiting:      {RobotStarted},
}

// CanTransition сообщает, допустим ли переход from -> to по событию.
// Переход в то же состояние считается допустимым.
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Reached сообщает, достигнута ли успешная оплата. Из этих состояний
// события push-канала и опроса не могут вернуть оплату назад.
func Reached(s State) bool {
	switch s {
	case PaymentSuccess, StartingRobot, RobotStarted, QueueWaiting:
		return true
	}
	return false
}

// Terminal сообщает, завершён ли цикл заказа. Выйти из такого состояния
// можно только сбросом.
func Terminal(s State) bool {
	switch s {
	case RobotStarted, PaymentError, QueueFull:
		return true
	}
	return false
}

// Pending сообщает, ожидает ли терминал создания заказа или поступления денег.
func Pending(s State) bool {
	switch s {
	case CreatingOrder, WaitingPayment, ProcessingPayment:
		return true
	}
	return false
}
