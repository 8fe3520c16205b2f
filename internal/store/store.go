// Package store содержит общее состояние терминала: текущий заказ,
// состояние оплаты и всё, что видит интерфейс киоска.
//
// Все изменения проходят через именованные методы Store. Компоненты,
// которым нужно актуальное значение после сетевого вызова, перечитывают
// его через Snapshot, а не полагаются на значение, прочитанное до вызова.
package store

import (
	"sync"
	"time"

	"github.com/DS-Industry/sensor-terminal-front-end/internal/model"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/paymentstate"
)

// Snapshot содержит копию общего состояния на момент чтения.
type Snapshot struct {
	Version uint64 `json:"version"`
	// Cycle увеличивается при каждом сбросе оплаты.
	Cycle uint64 `json:"cycle"`

	Order        *model.Order       `json:"order,omitempty"`
	PaymentState paymentstate.State `json:"payment_state"`
	PaymentError string             `json:"payment_error,omitempty"`
	ErrorCode    *int               `json:"error_code,omitempty"`

	Program        *model.Program      `json:"program,omitempty"`
	PaymentMethod  model.PaymentMethod `json:"payment_method,omitempty"`
	InsertedAmount int64               `json:"inserted_amount"`

	QueuePosition *int   `json:"queue_position,omitempty"`
	QueueNumber   *int   `json:"queue_number,omitempty"`
	BankCheck     string `json:"bank_check,omitempty"`

	TimeUntilRobotStart int `json:"time_until_robot_start"`

	Loading    bool         `json:"loading"`
	Cancelling bool         `json:"cancelling"`
	Screen     model.Screen `json:"screen"`

	CardReader     model.CardReaderStatus `json:"card_reader,omitempty"`
	Loyalty        model.LoyaltyResult    `json:"loyalty,omitempty"`
	LoyaltyBalance *int64                 `json:"loyalty_balance,omitempty"`
}

// OrderID возвращает идентификатор текущего заказа или пустую строку.
func (s Snapshot) OrderID() string {
	if s.Order == nil {
		return ""
	}
	return s.Order.ID
}

// Price возвращает цену выбранной программы или ноль.
func (s Snapshot) Price() int64 {
	if s.Program == nil {
		return 0
	}
	return s.Program.Price
}

func (s Snapshot) clone() Snapshot {
	c := s
	if s.Order != nil {
		o := *s.Order
		c.Order = &o
	}
	if s.Program != nil {
		p := *s.Program
		c.Program = &p
	}
	c.ErrorCode = cloneInt(s.ErrorCode)
	c.QueuePosition = cloneInt(s.QueuePosition)
	c.QueueNumber = cloneInt(s.QueueNumber)
	if s.LoyaltyBalance != nil {
		b := *s.LoyaltyBalance
		c.LoyaltyBalance = &b
	}
	return c
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

// Store хранит общее состояние терминала и оповещает подписчиков об изменениях.
type Store struct {
	mu     sync.Mutex
	state  Snapshot
	subs   map[uint64]*subscriber
	nextID uint64
	now    func() time.Time
}

// New создаёт хранилище в начальном состоянии: оплата IDLE, главный экран.
func New() *Store {
	return &Store{
		state: Snapshot{
			PaymentState: paymentstate.Idle,
			Screen:       model.ScreenMain,
		},
		subs: make(map[uint64]*subscriber),
		now:  time.Now,
	}
}

// Snapshot возвращает копию текущего состояния.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe регистрирует обработчик изменений состояния. Обработчик
// получает снимки в порядке изменений в отдельной горутине, поэтому может
// сам вызывать методы Store. Возвращает функцию отписки.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	sub := &subscriber{fn: fn}
	s.subs[id] = sub
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		sub.close()
	}
}

// update применяет fn под блокировкой. Если fn сообщает об изменении,
// версия увеличивается и подписчики получают новый снимок.
func (s *Store) update(fn func(st *Snapshot) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !fn(&s.state) {
		return false
	}
	s.state.Version++
	snap := s.state.clone()
	for _, sub := range s.subs {
		sub.push(snap)
	}
	return true
}

// Advance выполняет переход автомата оплаты, если он допустим из
// текущего состояния. Проверка и запись выполняются атомарно.
func (s *Store) Advance(to paymentstate.State) bool {
	ok := true
	s.update(func(st *Snapshot) bool {
		if st.PaymentState == to {
			return false
		}
		if !paymentstate.CanTransition(st.PaymentState, to) {
			ok = false
			return false
		}
		st.PaymentState = to
		return true
	})
	return ok
}

// AdvanceFrom выполняет переход, только если текущее состояние равно from.
// Из двух одновременных вызовов переход выполнит ровно один.
func (s *Store) AdvanceFrom(from, to paymentstate.State) bool {
	return s.update(func(st *Snapshot) bool {
		if st.PaymentState != from || !paymentstate.CanTransition(from, to) {
			return false
		}
		st.PaymentState = to
		return true
	})
}

// Reset атомарно сбрасывает цикл заказа: заказ, выбор программы, чек,
// внесённую сумму, очередь, данные карты лояльности и состояние оплаты.
// Экран и признак отмены не меняются.
func (s *Store) Reset() {
	s.update(func(st *Snapshot) bool {
		st.Cycle++
		st.Order = nil
		st.PaymentState = paymentstate.Idle
		st.PaymentError = ""
		st.ErrorCode = nil
		st.Program = nil
		st.PaymentMethod = ""
		st.InsertedAmount = 0
		st.QueuePosition = nil
		st.QueueNumber = nil
		st.BankCheck = ""
		st.TimeUntilRobotStart = 0
		st.Loading = false
		st.CardReader = 0
		st.Loyalty = ""
		st.LoyaltyBalance = nil
		return true
	})
}

// ResetPayment возвращает оплату в IDLE и начинает новый цикл.
func (s *Store) ResetPayment() {
	s.update(func(st *Snapshot) bool {
		st.PaymentState = paymentstate.Idle
		st.PaymentError = ""
		st.TimeUntilRobotStart = 0
		st.Cycle++
		return true
	})
}

// SetOrder заменяет текущий заказ.
func (s *Store) SetOrder(o model.Order) {
	s.update(func(st *Snapshot) bool {
		st.Order = &o
		return true
	})
}

// ClearOrder удаляет текущий заказ.
func (s *Store) ClearOrder() {
	s.update(func(st *Snapshot) bool {
		if st.Order == nil {
			return false
		}
		st.Order = nil
		return true
	})
}

// UpdateOrderStatus меняет статус заказа id, если он текущий.
func (s *Store) UpdateOrderStatus(id string, status model.OrderStatus) bool {
	return s.update(func(st *Snapshot) bool {
		if st.Order == nil || st.Order.ID != id || status == "" || st.Order.Status == status {
			return false
		}
		st.Order.Status = status
		return true
	})
}

// ApplyStatusUpdate применяет сообщение status_update к текущему заказу.
//
// Заказ без идентификатора принимает идентификатор из сообщения. Заказ с
// тем же идентификатором обновляется. Заказ с другим идентификатором
// заменяется, только если прежний завершён или отменён, либо сообщение
// открывает новый цикл (CREATED или WAITING_PAYMENT).
func (s *Store) ApplyStatusUpdate(msg model.PushMessage) bool {
	if msg.OrderID == "" {
		return false
	}
	return s.update(func(st *Snapshot) bool {
		cur := st.Order
		switch {
		case cur == nil || cur.ID == "":
			o := model.Order{
				ID:            msg.OrderID,
				Status:        msg.Status,
				TransactionID: msg.TransactionID,
				PaymentMethod: st.PaymentMethod,
				CreatedAt:     s.now(),
			}
			if cur != nil {
				o.CreatedAt = cur.CreatedAt
				o.PaymentMethod = cur.PaymentMethod
				o.ProgramID = cur.ProgramID
			}
			if o.ProgramID == 0 && st.Program != nil {
				o.ProgramID = st.Program.ID
			}
			st.Order = &o
			return true
		case cur.ID == msg.OrderID:
			if msg.Status != "" {
				cur.Status = msg.Status
			}
			if msg.TransactionID != "" {
				cur.TransactionID = msg.TransactionID
			}
			return true
		}

		oldDone := cur.Status == model.OrderStatusCompleted || cur.Status == model.OrderStatusCancelled
		newCycle := msg.Status == model.OrderStatusCreated || msg.Status == model.OrderStatusWaitingPayment
		if !oldDone && !newCycle {
			return false
		}
		st.Order = &model.Order{
			ID:            msg.OrderID,
			Status:        msg.Status,
			TransactionID: msg.TransactionID,
			ProgramID:     cur.ProgramID,
			PaymentMethod: cur.PaymentMethod,
			CreatedAt:     s.now(),
		}
		return true
	})
}

// SetSelection запоминает выбранную программу и способ оплаты.
func (s *Store) SetSelection(p model.Program, method model.PaymentMethod) {
	s.update(func(st *Snapshot) bool {
		st.Program = &p
		st.PaymentMethod = method
		return true
	})
}

// ClearSelection сбрасывает выбор программы и способа оплаты.
func (s *Store) ClearSelection() {
	s.update(func(st *Snapshot) bool {
		if st.Program == nil && st.PaymentMethod == "" {
			return false
		}
		st.Program = nil
		st.PaymentMethod = ""
		return true
	})
}

// SetInsertedAmount задаёт сумму, внесённую наличными.
func (s *Store) SetInsertedAmount(v int64) {
	s.update(func(st *Snapshot) bool {
		if st.InsertedAmount == v {
			return false
		}
		st.InsertedAmount = v
		return true
	})
}

// SetQueue задаёт позицию и номер в очереди одним изменением.
func (s *Store) SetQueue(position, number *int) {
	s.update(func(st *Snapshot) bool {
		st.QueuePosition = cloneInt(position)
		st.QueueNumber = cloneInt(number)
		return true
	})
}

// SetQueuePosition задаёт позицию в очереди.
func (s *Store) SetQueuePosition(v int) {
	s.update(func(st *Snapshot) bool {
		if st.QueuePosition != nil && *st.QueuePosition == v {
			return false
		}
		st.QueuePosition = &v
		return true
	})
}

// SetQueueNumber задаёт номер в очереди.
func (s *Store) SetQueueNumber(v int) {
	s.update(func(st *Snapshot) bool {
		if st.QueueNumber != nil && *st.QueueNumber == v {
			return false
		}
		st.QueueNumber = &v
		return true
	})
}

// ClearQueue сбрасывает позицию и номер в очереди.
func (s *Store) ClearQueue() {
	s.update(func(st *Snapshot) bool {
		if st.QueuePosition == nil && st.QueueNumber == nil {
			return false
		}
		st.QueuePosition = nil
		st.QueueNumber = nil
		return true
	})
}

// SetBankCheck задаёт содержимое QR-кода чека.
func (s *Store) SetBankCheck(v string) {
	s.update(func(st *Snapshot) bool {
		if st.BankCheck == v {
			return false
		}
		st.BankCheck = v
		return true
	})
}

// SetPaymentError задаёт сообщение об ошибке оплаты для пользователя.
func (s *Store) SetPaymentError(msg string) {
	s.update(func(st *Snapshot) bool {
		if st.PaymentError == msg {
			return false
		}
		st.PaymentError = msg
		return true
	})
}

// SetErrorCode запоминает код ошибки, присланный сервером.
func (s *Store) SetErrorCode(code int) {
	s.update(func(st *Snapshot) bool {
		st.ErrorCode = &code
		return true
	})
}

// SetTimeUntilRobotStart задаёт число секунд до запуска мойки.
func (s *Store) SetTimeUntilRobotStart(v int) {
	s.update(func(st *Snapshot) bool {
		if st.TimeUntilRobotStart == v {
			return false
		}
		st.TimeUntilRobotStart = v
		return true
	})
}

// DecrementTimeUntilRobotStart уменьшает обратный отсчёт на единицу и
// возвращает новое значение. Отсчёт не опускается ниже нуля.
func (s *Store) DecrementTimeUntilRobotStart() int {
	var left int
	s.update(func(st *Snapshot) bool {
		if st.TimeUntilRobotStart <= 1 {
			changed := st.TimeUntilRobotStart != 0
			st.TimeUntilRobotStart = 0
			return changed
		}
		st.TimeUntilRobotStart--
		left = st.TimeUntilRobotStart
		return true
	})
	return left
}

// SetLoading задаёт признак ожидания для интерфейса.
func (s *Store) SetLoading(v bool) {
	s.update(func(st *Snapshot) bool {
		if st.Loading == v {
			return false
		}
		st.Loading = v
		return true
	})
}

// SetCancelling задаёт признак выполняющейся отмены заказа.
func (s *Store) SetCancelling(v bool) {
	s.update(func(st *Snapshot) bool {
		if st.Cancelling == v {
			return false
		}
		st.Cancelling = v
		return true
	})
}

// Navigate задаёт экран, который должен показать интерфейс.
func (s *Store) Navigate(screen model.Screen) {
	s.update(func(st *Snapshot) bool {
		if st.Screen == screen {
			return false
		}
		st.Screen = screen
		return true
	})
}

// SetCardReader задаёт состояние кард-ридера карт лояльности.
func (s *Store) SetCardReader(v model.CardReaderStatus) {
	s.update(func(st *Snapshot) bool {
		if st.CardReader == v {
			return false
		}
		st.CardReader = v
		return true
	})
}

// SetLoyalty задаёт итог проверки карты лояльности и её баланс.
func (s *Store) SetLoyalty(result model.LoyaltyResult, balance *int64) {
	s.update(func(st *Snapshot) bool {
		st.Loyalty = result
		st.LoyaltyBalance = balance
		return true
	})
}

// ClearLoyalty сбрасывает данные карты лояльности.
func (s *Store) ClearLoyalty() {
	s.update(func(st *Snapshot) bool {
		if st.Loyalty == "" && st.LoyaltyBalance == nil && st.CardReader == 0 {
			return false
		}
		st.Loyalty = ""
		st.LoyaltyBalance = nil
		st.CardReader = 0
		return true
	})
}
