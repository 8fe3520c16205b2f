package service

import (
	"go.uber.org/zap"

	"github.com/DS-Industry/sensor-terminal-front-end/internal/model"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/paymentstate"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/remote"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/store"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/timers"
)

const queueFullMessage = "Очередь заполнена. В очереди уже находится один автомобиль. Пожалуйста, подождите окончания мойки."

func (s *Service) onStatusUpdate(msg model.PushMessage) {
	if msg.OrderID == "" {
		s.logger.Debug("status update without order id dropped")
		return
	}
	before := s.store.Snapshot()
	if s.robotStarted(msg.OrderID) && before.OrderID() != msg.OrderID {
		// Мойка по заказу уже запущена, терминал его больше не ведёт.
		if msg.Status == model.OrderStatusCompleted {
			go s.onForeignCompleted(msg.OrderID, before)
		}
		return
	}
	applied := s.store.ApplyStatusUpdate(msg)
	snap := s.store.Snapshot()

	s.logger.Debug("status update",
		zap.String("order_id", msg.OrderID),
		zap.String("status", string(msg.Status)),
		zap.String("payment_state", string(snap.PaymentState)),
		zap.Bool("applied", applied))

	if snap.OrderID() != msg.OrderID {
		if msg.Status == model.OrderStatusCompleted {
			go s.onForeignCompleted(msg.OrderID, snap)
		}
		return
	}

	if msg.Status == model.OrderStatusPayed && mobilePayment(before) && !s.cancelled(msg.OrderID) {
		go s.autoStart(msg.OrderID)
		return
	}

	switch msg.Status {
	case model.OrderStatusPayed:
		go s.handlePayed(msg.OrderID)
	case model.OrderStatusCompleted, model.OrderStatusProcessing:
		s.handleProcessing(msg, snap)
	case model.OrderStatusWaitingPayment:
		if paymentstate.Reached(snap.PaymentState) {
			return
		}
		s.store.Advance(paymentstate.WaitingPayment)
		s.watchPayment(msg.OrderID)
	case model.OrderStatusCancelled, model.OrderStatusFailed:
		s.logger.Info("order closed by backend",
			zap.String("order_id", msg.OrderID),
			zap.String("status", string(msg.Status)))
	}
}

// handlePayed обрабатывает оплату заказа id. Повторные сообщения PAYED
// для того же заказа игнорируются.
func (s *Service) handlePayed(id string) {
	if !s.mark(eventPayed, id) {
		return
	}

	s.timers.Stop(timers.DepositTimeout)
	s.timers.Stop(timers.AmountPoll)

	cycle := s.store.Snapshot().Cycle
	details, err := s.fetch(id)
	if err == nil {
		s.applyPayedDetails(id, cycle, details)
		return
	}
	if remote.IsCanceled(err) {
		return
	}

	s.logger.Warn("fetch payed order failed, retrying",
		zap.String("order_id", id),
		zap.Duration("delay", s.cfg.PayedRetryDelay),
		zap.Error(err))

	s.timers.After(timers.PayedRetry, s.cfg.PayedRetryDelay, func() {
		if !s.current(id, cycle) {
			return
		}
		details, err := s.fetch(id)
		if err != nil {
			s.logger.Error("fetch payed order failed again, proceeding without details",
				zap.String("order_id", id),
				zap.Error(err))
			details = &model.OrderDetails{ID: id, Status: model.OrderStatusPayed}
		}
		s.applyPayedDetails(id, cycle, details)
	})
}

func (s *Service) applyPayedDetails(id string, cycle uint64, d *model.OrderDetails) {
	snap := s.store.Snapshot()
	if snap.Cycle != cycle || snap.OrderID() != id {
		s.logger.Debug("payed details dropped: order changed", zap.String("order_id", id))
		return
	}

	if d.QueuePosition != nil {
		pos := *d.QueuePosition
		s.store.SetQueuePosition(pos)
		if pos > s.cfg.MaxQueuePosition {
			if !paymentstate.Reached(snap.PaymentState) {
				s.queueFull(id)
				return
			}
			s.logger.Warn("queue is full but payment already succeeded, keeping success",
				zap.String("order_id", id),
				zap.Int("queue_position", pos))
		}
	}
	if d.QueueNumber != nil {
		s.store.SetQueueNumber(*d.QueueNumber)
	}

	if d.QRCode != "" {
		s.store.SetBankCheck(d.QRCode)
	} else {
		s.pollQRCode(id, cycle)
	}

	amount := d.Amount()
	if snap.PaymentMethod == model.PaymentMethodCash {
		s.store.SetInsertedAmount(amount)
	}

	price := snap.Price()
	if amount == 0 || amount >= price {
		s.paymentSucceeded(id)
		return
	}
	s.store.Advance(paymentstate.ProcessingPayment)
}

func (s *Service) queueFull(id string) {
	if !s.store.Advance(paymentstate.QueueFull) {
		return
	}
	s.logger.Warn("queue is full, cancelling order", zap.String("order_id", id))

	s.store.SetPaymentError(queueFullMessage)
	s.store.SetLoading(false)
	s.store.Navigate(model.ScreenQueueFull)
	s.timers.StopAll()
	s.cancelRemote(s.baseContext(), id, "queue_full")
}

func (s *Service) paymentSucceeded(id string) {
	s.timers.Stop(timers.DepositTimeout)
	s.timers.Stop(timers.AmountPoll)
	if !s.store.Advance(paymentstate.PaymentSuccess) {
		return
	}
	s.logger.Info("payment succeeded", zap.String("order_id", id))
	s.store.SetLoading(false)
	s.store.Navigate(model.ScreenSuccess)
}

// pollQRCode опрашивает заказ, пока сервер не вернёт QR-код чека или не
// закончатся попытки.
func (s *Service) pollQRCode(id string, cycle uint64) {
	s.mu.Lock()
	s.qrAttempts = 0
	s.mu.Unlock()

	s.timers.Every(timers.QRPoll, s.cfg.QRPollInterval, func(stop func()) {
		if !s.current(id, cycle) {
			stop()
			return
		}

		s.mu.Lock()
		s.qrAttempts++
		n := s.qrAttempts
		s.mu.Unlock()

		d, err := s.fetch(id)
		if err == nil && d.QRCode != "" && s.current(id, cycle) {
			s.store.SetBankCheck(d.QRCode)
			stop()
			return
		}
		if n >= s.cfg.QRPollMaxAttempts {
			s.logger.Warn("bank check QR code not received",
				zap.String("order_id", id),
				zap.Int("attempts", n))
			stop()
		}
	})
}

func (s *Service) handleProcessing(msg model.PushMessage, snap store.Snapshot) {
	s.timers.Stop(timers.DepositTimeout)

	switch snap.PaymentState {
	case paymentstate.StartingRobot, paymentstate.QueueWaiting:
		if msg.Status == model.OrderStatusProcessing {
			s.confirmRobotStarted(msg.OrderID)
		}
	case paymentstate.WaitingPayment, paymentstate.CreatingOrder:
		s.store.SetLoading(false)
		if msg.Status == model.OrderStatusProcessing && snap.PaymentMethod == model.PaymentMethodCash {
			s.store.Advance(paymentstate.ProcessingPayment)
		}
	default:
		s.store.SetLoading(false)
	}
}

// watchPayment опрашивает внесённую сумму и взводит таймаут ожидания денег.
func (s *Service) watchPayment(id string) {
	snap := s.store.Snapshot()
	if paymentstate.Reached(snap.PaymentState) || snap.OrderID() != id {
		return
	}
	cycle := snap.Cycle
	method := snap.PaymentMethod
	price := snap.Price()

	s.mu.Lock()
	if s.amountOrder != id {
		s.amountOrder = id
		s.lastAmount = 0
	}
	s.mu.Unlock()

	interval := s.cfg.CardPollInterval
	if method == model.PaymentMethodCash {
		interval = s.cfg.CashPollInterval
	}

	s.timers.Every(timers.AmountPoll, interval, func(stop func()) {
		if !s.current(id, cycle) {
			stop()
			return
		}
		d, err := s.fetch(id)
		if err != nil {
			if !remote.IsCanceled(err) {
				s.logger.Debug("amount poll failed", zap.String("order_id", id), zap.Error(err))
			}
			return
		}
		if !s.current(id, cycle) || paymentstate.Reached(s.store.Snapshot().PaymentState) {
			stop()
			return
		}

		amount := d.Amount()
		if method == model.PaymentMethodCash {
			s.store.SetInsertedAmount(amount)
			if price > 0 && amount >= price {
				stop()
				s.paymentSucceeded(id)
				return
			}
			if amount > 0 {
				s.store.Advance(paymentstate.ProcessingPayment)
			}
			return
		}

		s.mu.Lock()
		last := s.lastAmount
		s.lastAmount = amount
		s.mu.Unlock()

		if amount > 0 && amount > last {
			stop()
			s.store.Advance(paymentstate.ProcessingPayment)
		}
	})

	s.timers.After(timers.DepositTimeout, s.cfg.DepositTimeout, func() {
		s.depositTimeout(id, cycle, method)
	})
}

// depositTimeout отменяет заказ, если за отведённое время не внесено ни
// одной суммы.
func (s *Service) depositTimeout(id string, cycle uint64, method model.PaymentMethod) {
	if !s.current(id, cycle) {
		return
	}
	snap := s.store.Snapshot()
	if paymentstate.Reached(snap.PaymentState) {
		return
	}

	var funds int64
	if method == model.PaymentMethodCash {
		funds = snap.InsertedAmount
	} else {
		d, err := s.fetch(id)
		if err != nil {
			s.logger.Warn("deposit timeout: fetch order failed, assuming no funds",
				zap.String("order_id", id),
				zap.Error(err))
		} else {
			funds = d.Amount()
		}
	}

	if funds > 0 {
		s.logger.Info("deposit timeout ignored: funds present",
			zap.String("order_id", id),
			zap.Int64("amount", funds))
		return
	}
	if !s.current(id, cycle) {
		return
	}

	s.logger.Info("deposit timeout, cancelling order", zap.String("order_id", id))
	s.timers.Stop(timers.AmountPoll)
	s.cancelRemote(s.baseContext(), id, string(ReasonDepositTimeout))
	s.Back(s.baseContext(), ReasonDepositTimeout)
}

// resume продолжает обработку заказа, который уже лежит в хранилище.
func (s *Service) resume() {
	snap := s.store.Snapshot()
	id := snap.OrderID()
	if id == "" {
		return
	}
	switch snap.Order.Status {
	case model.OrderStatusPayed:
		s.logger.Info("resuming payed order", zap.String("order_id", id))
		go s.handlePayed(id)
	case model.OrderStatusWaitingPayment:
		s.logger.Info("resuming order awaiting payment", zap.String("order_id", id))
		s.watchPayment(id)
	}
}
