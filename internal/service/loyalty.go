package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/DS-Industry/sensor-terminal-front-end/internal/model"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/remote"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/timers"
)

// noCardUCN возвращается кард-ридером, если карта не найдена.
const noCardUCN = -1

// PayWithLoyalty ждёт, пока клиент приложит карту лояльности, проверяет
// её баланс и создаёт заказ с оплатой картой. Если карта не приложена за
// LoyaltyTimeout, терминал возвращается на главный экран.
func (s *Service) PayWithLoyalty(ctx context.Context) error {
	snap := s.store.Snapshot()
	if snap.Program == nil || snap.PaymentMethod != model.PaymentMethodLoyalty {
		return ErrNoProgram
	}
	program := *snap.Program
	cycle := snap.Cycle

	readerCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.cancelLoyalty != nil {
		s.cancelLoyalty()
	}
	s.cancelLoyalty = cancel
	s.mu.Unlock()
	defer cancel()

	s.store.ClearLoyalty()
	s.store.SetCardReader(model.CardReaderWaiting)
	s.store.Navigate(model.ScreenLoyalty)

	s.timers.After(timers.LoyaltyTimeout, s.cfg.LoyaltyTimeout, func() {
		s.logger.Info("loyalty card was not presented in time")
		s.Back(s.baseContext(), ReasonInactivity)
	})

	card, err := s.remote.OpenLoyaltyCardReader(readerCtx)
	if s.store.Snapshot().Cycle != cycle {
		return nil
	}
	s.timers.Stop(timers.LoyaltyTimeout)

	if err != nil {
		if remote.IsCanceled(err) {
			return nil
		}
		s.logger.Error("loyalty card reader failed", zap.Error(err))
		s.store.SetLoading(false)
		return fmt.Errorf("open loyalty card reader: %w", err)
	}

	s.store.SetCardReader(model.CardReaderComplete)
	s.store.SetLoading(false)

	if card.UCN == noCardUCN {
		s.store.SetLoyalty(model.LoyaltyCardNotFound, nil)
		s.logger.Info("loyalty card not found")
		return ErrCardNotFound
	}
	if card.Balance != nil && *card.Balance < program.Price {
		s.store.SetLoyalty(model.LoyaltyInsufficientBalance, card.Balance)
		s.logger.Info("loyalty balance is not enough",
			zap.Int64("balance", *card.Balance),
			zap.Int64("price", program.Price))
		return ErrInsufficientBalance
	}

	s.store.SetLoyalty(model.LoyaltyAccepted, card.Balance)
	ucn := card.UCN
	return s.createOrder(ctx, &program, model.PaymentMethodLoyalty, &ucn)
}

func (s *Service) cancelLoyaltyReader() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelLoyalty != nil {
		s.cancelLoyalty()
		s.cancelLoyalty = nil
	}
}

func (s *Service) onCardReader(msg model.PushMessage) {
	if msg.Code == nil {
		return
	}
	status := model.CardReaderStatus(*msg.Code)
	switch status {
	case model.CardReaderWaiting, model.CardReaderReading, model.CardReaderComplete:
	default:
		s.logger.Warn("unknown card reader code", zap.Int("code", *msg.Code))
		return
	}
	s.store.SetCardReader(status)
	s.store.SetLoading(status == model.CardReaderReading)
}
