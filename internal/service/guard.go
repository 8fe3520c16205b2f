package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/DS-Industry/sensor-terminal-front-end/internal/model"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/paymentstate"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/remote"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/store"
)

const defaultCreateOrderError = "Произошла ошибка при создании заказа"

// RequestOrderCreation запускает создание заказа в отдельной горутине и
// сразу возвращает управление. Итог отражается в хранилище.
func (s *Service) RequestOrderCreation(p *model.Program, method model.PaymentMethod) {
	ctx := s.baseContext()
	go func() {
		_ = s.createOrder(ctx, p, method, nil)
	}()
}

// CreateOrder создаёт заказ и ждёт ответа сервера. Вызов, нарушающий
// предусловия (оплата уже идёт или завершена успехом), ничего не делает.
func (s *Service) CreateOrder(ctx context.Context, p *model.Program, method model.PaymentMethod) error {
	return s.createOrder(ctx, p, method, nil)
}

func (s *Service) createOrder(ctx context.Context, p *model.Program, method model.PaymentMethod, ucn *int64) error {
	if p == nil {
		s.logger.Warn("order creation skipped: no program selected")
		return ErrNoProgram
	}

	s.guardMu.Lock()
	if reason := creationBlocked(s.store.Snapshot()); reason != "" {
		s.guardMu.Unlock()
		s.logger.Debug("order creation skipped", zap.String("reason", reason))
		return nil
	}
	if s.creating {
		s.guardMu.Unlock()
		s.logger.Debug("order creation skipped", zap.String("reason", "creation in flight"))
		return nil
	}
	if s.cancelCreate != nil {
		s.cancelCreate()
	}
	attemptCtx, cancel := context.WithCancel(ctx)
	s.cancelCreate = cancel
	s.createAttempt++
	attempt := s.createAttempt
	s.creating = true
	s.loyaltyUCN = ucn
	s.guardMu.Unlock()

	defer s.finishAttempt(attempt, cancel)

	s.store.SetPaymentError("")
	s.store.SetSelection(*p, method)
	s.store.ClearOrder()
	s.store.Navigate(model.ScreenPayment)
	if !s.store.Advance(paymentstate.CreatingOrder) {
		s.logger.Debug("order creation skipped: state changed concurrently")
		return nil
	}
	cycle := s.store.Snapshot().Cycle

	s.logger.Info("creating order",
		zap.Int64("program_id", p.ID),
		zap.String("payment_method", string(method)))

	callCtx, cancelCall := s.callContext(attemptCtx)
	err := s.remote.CreateOrder(callCtx, remote.CreateOrderRequest{
		ProgramID:   p.ID,
		PaymentType: method,
		UCN:         ucn,
	})
	cancelCall()

	if attemptCtx.Err() != nil || remote.IsCanceled(err) {
		s.logger.Debug("order creation cancelled", zap.Int64("program_id", p.ID))
		return nil
	}

	snap := s.store.Snapshot()
	if snap.Cycle != cycle {
		s.logger.Debug("order creation result dropped: cycle was reset")
		return nil
	}

	if err != nil {
		if paymentstate.Reached(snap.PaymentState) {
			s.logger.Warn("create order failed after payment succeeded, ignoring", zap.Error(err))
			return nil
		}
		s.fail(remote.Message(err), defaultCreateOrderError)
		s.logger.Error("create order failed",
			zap.Int64("program_id", p.ID),
			zap.String("payment_method", string(method)),
			zap.Error(err))
		return fmt.Errorf("create order: %w", err)
	}

	s.store.Advance(paymentstate.WaitingPayment)
	return nil
}

// creationBlocked возвращает причину, по которой новый заказ создавать
// нельзя, или пустую строку.
func creationBlocked(snap store.Snapshot) string {
	switch {
	case paymentstate.Reached(snap.PaymentState):
		return "payment already succeeded"
	case snap.OrderID() != "" &&
		snap.PaymentState != paymentstate.Idle &&
		snap.PaymentState != paymentstate.PaymentError:
		return "order in progress"
	case paymentstate.Pending(snap.PaymentState):
		return "creation or payment in progress"
	case !paymentstate.CanTransition(snap.PaymentState, paymentstate.CreatingOrder):
		return "state " + string(snap.PaymentState) + " does not allow a new order"
	}
	return ""
}

func (s *Service) finishAttempt(attempt uint64, cancel context.CancelFunc) {
	cancel()

	s.guardMu.Lock()
	defer s.guardMu.Unlock()
	if s.createAttempt == attempt {
		s.creating = false
		s.cancelCreate = nil
	}
}

// fail переводит оплату в PAYMENT_ERROR и показывает экран ошибки.
func (s *Service) fail(msg, fallback string) {
	if !s.store.Advance(paymentstate.PaymentError) {
		return
	}
	if msg == "" {
		msg = fallback
	}
	s.store.SetPaymentError(msg)
	s.store.SetLoading(false)
	s.store.Navigate(model.ScreenError)
}

// CancelOrderCreation прерывает выполняющееся создание заказа. Ответ
// прерванного вызова отбрасывается без перехода в PAYMENT_ERROR.
func (s *Service) CancelOrderCreation() {
	s.guardMu.Lock()
	defer s.guardMu.Unlock()

	if s.cancelCreate != nil {
		s.cancelCreate()
		s.cancelCreate = nil
	}
	s.creating = false
	s.createAttempt++
}

// Retry повторяет создание заказа после PAYMENT_ERROR с прежним выбором.
func (s *Service) Retry() bool {
	snap := s.store.Snapshot()
	if snap.PaymentState != paymentstate.PaymentError || snap.Program == nil {
		s.logger.Debug("retry skipped", zap.String("state", string(snap.PaymentState)))
		return false
	}

	s.guardMu.Lock()
	ucn := s.loyaltyUCN
	s.guardMu.Unlock()

	s.timers.StopAll()
	s.store.ResetPayment()

	p := *snap.Program
	ctx := s.baseContext()
	go func() {
		_ = s.createOrder(ctx, &p, snap.PaymentMethod, ucn)
	}()
	return true
}
