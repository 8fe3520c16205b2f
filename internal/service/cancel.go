package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/DS-Industry/sensor-terminal-front-end/internal/model"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/paymentstate"
)

// BackReason описывает причину возврата на главный экран.
type BackReason string

const (
	ReasonBack           BackReason = "back"
	ReasonInactivity     BackReason = "inactivity"
	ReasonError          BackReason = "error"
	ReasonDepositTimeout BackReason = "deposit_timeout"
	ReasonFinish         BackReason = "finish"
)

// Valid сообщает, известна ли причина возврата.
func (r BackReason) Valid() bool {
	switch r {
	case ReasonBack, ReasonInactivity, ReasonError, ReasonDepositTimeout, ReasonFinish:
		return true
	}
	return false
}

// Back прерывает текущий цикл оплаты и возвращает терминал на главный
// экран. Вызов безопасен при повторах и из нескольких горутин: итоговое
// состояние всегда одно и то же, а заказ отменяется на сервере не больше
// одного раза.
func (s *Service) Back(ctx context.Context, reason BackReason) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("back flow panicked", zap.Any("panic", r))
		}
	}()

	s.backMu.Lock()
	defer s.backMu.Unlock()

	snap := s.store.Snapshot()
	s.logger.Info("back flow",
		zap.String("reason", string(reason)),
		zap.String("order_id", snap.OrderID()),
		zap.String("state", string(snap.PaymentState)))

	s.store.SetCancelling(true)
	s.timers.StopAll()
	s.CancelOrderCreation()
	s.cancelLoyaltyReader()

	if id := snap.OrderID(); id != "" && remoteCancellable(snap.Order.Status, snap.PaymentState) {
		s.cancelRemote(ctx, id, string(reason))
	}

	s.mu.Lock()
	s.countdownArmed = false
	s.lastAmount = 0
	s.amountOrder = ""
	s.qrAttempts = 0
	s.mu.Unlock()

	s.store.Reset()
	s.store.SetCancelling(false)
	s.store.Navigate(model.ScreenMain)
}

// remoteCancellable сообщает, имеет ли смысл отменять заказ на сервере.
// Оплаченный заказ и заказ, закрытый сервером, не отменяются.
func remoteCancellable(status model.OrderStatus, state paymentstate.State) bool {
	switch status {
	case model.OrderStatusPayed, model.OrderStatusCompleted, model.OrderStatusCancelled, model.OrderStatusFailed:
		return false
	}
	return !paymentstate.Reached(state)
}
