package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/DS-Industry/sensor-terminal-front-end/internal/model"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/paymentstate"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/remote"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/store"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/timers"
)

// onStateChange взводит обратный отсчёт при входе в PAYMENT_SUCCESS и
// сбрасывает его при уходе из этого состояния.
func (s *Service) onStateChange(snap store.Snapshot) {
	s.mu.Lock()
	prev := s.prevState
	s.prevState = snap.PaymentState
	arm := snap.PaymentState == paymentstate.PaymentSuccess && !s.countdownArmed
	if arm {
		s.countdownArmed = true
	}
	s.mu.Unlock()

	switch {
	case arm:
		s.armCountdown(snap.Cycle)
	case prev == paymentstate.PaymentSuccess && snap.PaymentState != paymentstate.PaymentSuccess:
		s.stopCountdown()
	}
}

func (s *Service) armCountdown(cycle uint64) {
	if snap := s.store.Snapshot(); snap.Cycle != cycle || snap.PaymentState != paymentstate.PaymentSuccess {
		s.mu.Lock()
		s.countdownArmed = false
		s.mu.Unlock()
		return
	}

	tick := s.cfg.CountdownTick
	if tick <= 0 {
		tick = s.cfg.RobotStartInterval
	}
	seconds := int(s.cfg.RobotStartInterval / tick)

	s.logger.Info("robot start countdown armed", zap.Int("ticks", seconds))
	s.store.SetTimeUntilRobotStart(seconds)

	s.timers.Every(timers.CountdownTick, tick, func(stop func()) {
		if s.store.DecrementTimeUntilRobotStart() == 0 {
			stop()
		}
	})
	s.timers.After(timers.CountdownFire, s.cfg.RobotStartInterval, func() {
		if s.store.Snapshot().Cycle != cycle {
			return
		}
		s.StartRobot(s.baseContext())
	})
}

func (s *Service) stopCountdown() {
	s.mu.Lock()
	s.countdownArmed = false
	s.mu.Unlock()

	s.timers.Stop(timers.CountdownTick)
	s.timers.Stop(timers.CountdownFire)
	s.store.SetTimeUntilRobotStart(0)
}

// StartRobot запускает мойку по оплаченному заказу. Вызов возможен только
// в состоянии PAYMENT_SUCCESS; в остальных случаях ничего не делает.
func (s *Service) StartRobot(ctx context.Context) {
	snap := s.store.Snapshot()
	id := snap.OrderID()
	if id == "" || snap.PaymentState != paymentstate.PaymentSuccess {
		s.logger.Debug("robot start skipped",
			zap.String("order_id", id),
			zap.String("state", string(snap.PaymentState)))
		return
	}
	if !s.store.AdvanceFrom(paymentstate.PaymentSuccess, paymentstate.StartingRobot) {
		return
	}
	s.mark(eventStarted, id)
	s.stopCountdown()
	s.store.SetLoading(true)

	s.logger.Info("starting robot", zap.String("order_id", id))

	callCtx, cancel := s.callContext(ctx)
	res, err := s.remote.StartRobot(callCtx, id)
	cancel()

	if !s.current(id, snap.Cycle) {
		return
	}
	if err != nil {
		if remote.IsCanceled(err) {
			return
		}
		s.logger.Error("start robot failed", zap.String("order_id", id), zap.Error(err))
		s.fail(remote.Message(err), defaultStartRobotError)
		return
	}

	if res == nil || !isQueueMessage(res.Message) {
		return
	}

	s.logger.Info("order placed in queue",
		zap.String("order_id", id),
		zap.String("message", res.Message))

	d, err := s.fetch(id)
	switch {
	case err != nil:
		s.logger.Warn("fetch queued order failed", zap.String("order_id", id), zap.Error(err))
	case s.current(id, snap.Cycle):
		s.store.SetQueue(d.QueuePosition, d.QueueNumber)
		s.store.UpdateOrderStatus(id, d.Status)
	}

	if s.store.Advance(paymentstate.QueueWaiting) {
		s.store.SetLoading(false)
		s.store.Navigate(model.ScreenQueue)
	}
}

// confirmRobotStarted отмечает, что сервер подтвердил запуск мойки.
func (s *Service) confirmRobotStarted(id string) {
	if !s.store.Advance(paymentstate.RobotStarted) {
		return
	}
	s.mark(eventStarted, id)
	s.store.SetLoading(false)
	s.logger.Info("robot started", zap.String("order_id", id))

	snap := s.store.Snapshot()
	if snap.QueuePosition != nil && *snap.QueuePosition > 0 {
		s.store.Navigate(model.ScreenQueue)
		return
	}
	s.store.Navigate(model.ScreenSuccess)
}

const defaultStartRobotError = "Не удалось запустить мойку"

func isQueueMessage(msg string) bool {
	return strings.Contains(msg, "очереди") || strings.Contains(strings.ToLower(msg), "queue")
}

// mobilePayment сообщает, что терминал простаивал без выбора программы,
// то есть заказ оплачен из мобильного приложения.
func mobilePayment(before store.Snapshot) bool {
	return before.PaymentState == paymentstate.Idle && before.Program == nil && before.Order == nil
}

// robotStarted сообщает, запускалась ли мойка по заказу id.
func (s *Service) robotStarted(id string) bool {
	return s.marked(eventStarted, id)
}

// autoStart запускает мойку по заказу, оплаченному из мобильного
// приложения. Заказ больше не отслеживается терминалом.
func (s *Service) autoStart(id string) {
	if !s.mark(eventStarted, id) {
		return
	}

	if snap := s.store.Snapshot(); snap.OrderID() == id {
		s.store.ClearOrder()
	}

	ctx, cancel := s.callContext(s.baseContext())
	defer cancel()

	s.logger.Info("starting robot for mobile payment", zap.String("order_id", id))
	if _, err := s.remote.StartRobot(ctx, id); err != nil {
		s.logger.Error("start robot for mobile payment failed",
			zap.String("order_id", id),
			zap.Error(err))
		return
	}
	s.store.Navigate(model.ScreenSuccess)
}
