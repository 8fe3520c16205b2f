package service

import (
	"go.uber.org/zap"

	"github.com/DS-Industry/sensor-terminal-front-end/internal/model"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/paymentstate"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/store"
)

// onForeignCompleted пересчитывает позицию в очереди, когда на мойке
// завершился чужой заказ.
func (s *Service) onForeignCompleted(otherID string, snap store.Snapshot) {
	our := snap.OrderID()
	if our == "" || snap.PaymentState == paymentstate.Idle {
		return
	}
	if st := snap.Order.Status; st == model.OrderStatusCompleted || st == model.OrderStatusCancelled {
		return
	}

	if !s.mark(eventCompleted, otherID) {
		return
	}

	if snap.QueuePosition != nil && *snap.QueuePosition == 1 && !paymentstate.Reached(snap.PaymentState) {
		s.store.Navigate(model.ScreenSuccess)
	}

	d, err := s.fetch(our)
	if err != nil {
		s.logger.Warn("queue refresh failed",
			zap.String("order_id", our),
			zap.String("completed_order_id", otherID),
			zap.Error(err))
		return
	}
	if !s.current(our, snap.Cycle) {
		return
	}

	if d.QueuePosition != nil {
		pos := *d.QueuePosition
		s.store.SetQueuePosition(pos)
		if pos > 0 {
			s.store.Advance(paymentstate.QueueWaiting)
		}
		prev := snap.QueuePosition
		if prev != nil && *prev > 0 && pos == 0 && !paymentstate.Reached(s.store.Snapshot().PaymentState) {
			s.store.Navigate(model.ScreenSuccess)
		}
	}
	if d.QueueNumber != nil {
		s.store.SetQueueNumber(*d.QueueNumber)
	}
	s.store.UpdateOrderStatus(our, d.Status)

	s.logger.Debug("queue refreshed",
		zap.String("order_id", our),
		zap.String("completed_order_id", otherID))
}
