package service

import (
	"context"
	"fmt"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/DS-Industry/sensor-terminal-front-end/internal/model"
)

const (
	programsKey = "programs"
	loyaltyKey  = "loyalty"
)

// Programs возвращает каталог программ мойки. Ответ сервера кешируется
// на ProgramsTTL.
func (s *Service) Programs(ctx context.Context) ([]model.Program, error) {
	if v, ok := s.programs.Get(programsKey); ok {
		return v.([]model.Program), nil
	}

	programs, err := s.remote.GetPrograms(ctx)
	if err != nil {
		return nil, fmt.Errorf("get programs: %w", err)
	}
	s.programs.Set(programsKey, programs, cache.DefaultExpiration)
	s.logger.Debug("program catalog refreshed", zap.Int("count", len(programs)))
	return programs, nil
}

// LoyaltyAvailable сообщает, принимает ли мойка карты лояльности. Ответ
// кешируется так же, как каталог.
func (s *Service) LoyaltyAvailable(ctx context.Context) (bool, error) {
	if v, ok := s.programs.Get(loyaltyKey); ok {
		return v.(bool), nil
	}

	ok, err := s.remote.LoyaltyCheck(ctx)
	if err != nil {
		return false, fmt.Errorf("loyalty check: %w", err)
	}
	s.programs.Set(loyaltyKey, ok, cache.DefaultExpiration)
	return ok, nil
}

// Program возвращает программу по идентификатору.
func (s *Service) Program(ctx context.Context, id int64) (*model.Program, error) {
	programs, err := s.Programs(ctx)
	if err != nil {
		return nil, err
	}
	for i := range programs {
		if programs[i].ID == id {
			p := programs[i]
			return &p, nil
		}
	}
	return nil, ErrProgramNotFound
}

// Checkout выбирает программу и способ оплаты и запускает оплату. Для
// карты лояльности сначала ожидается карта, для остальных способов сразу
// создаётся заказ.
func (s *Service) Checkout(ctx context.Context, programID int64, method model.PaymentMethod) error {
	p, err := s.Program(ctx, programID)
	if err != nil {
		return err
	}

	if method != model.PaymentMethodLoyalty {
		s.RequestOrderCreation(p, method)
		return nil
	}

	if reason := creationBlocked(s.store.Snapshot()); reason != "" {
		s.logger.Debug("loyalty payment skipped", zap.String("reason", reason))
		return nil
	}
	s.store.SetSelection(*p, method)

	base := s.baseContext()
	go func() {
		if err := s.PayWithLoyalty(base); err != nil {
			s.logger.Info("loyalty payment stopped", zap.Error(err))
		}
	}()
	return nil
}
