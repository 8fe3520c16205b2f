// Package service реализует сценарий оплаты терминала: создание заказа,
// сверку статусов из push-канала и опроса, отслеживание очереди, запуск
// мойки и возврат на главный экран.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/DS-Industry/sensor-terminal-front-end/internal/config"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/model"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/paymentstate"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/remote"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/store"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/timers"
)

var (
	// ErrNoProgram возвращается, если программа мойки не выбрана.
	ErrNoProgram = errors.New("program is not selected")
	// ErrProgramNotFound возвращается, если программы нет в каталоге.
	ErrProgramNotFound = errors.New("program not found")
	// ErrCardNotFound возвращается, если кард-ридер не нашёл карту лояльности.
	ErrCardNotFound = errors.New("loyalty card not found")
	// ErrInsufficientBalance возвращается, если баланса карты не хватает на программу.
	ErrInsufficientBalance = errors.New("insufficient loyalty balance")
)

// Remote описывает вызовы сервера автомойки, которые использует сервис.
type Remote interface {
	CreateOrder(ctx context.Context, req remote.CreateOrderRequest) error
	GetOrder(ctx context.Context, id string) (*model.OrderDetails, error)
	CancelOrder(ctx context.Context, id string) error
	StartRobot(ctx context.Context, id string) (*remote.StartRobotResult, error)
	OpenLoyaltyCardReader(ctx context.Context) (*model.LoyaltyCard, error)
	LoyaltyCheck(ctx context.Context) (bool, error)
	GetPrograms(ctx context.Context) ([]model.Program, error)
}

// Push описывает подписку на сообщения push-канала.
type Push interface {
	AddListener(t model.MessageType, fn func(model.PushMessage)) func()
}

// Service содержит логику оплаты терминала.
type Service struct {
	store    *store.Store
	remote   Remote
	push     Push
	timers   *timers.Registry
	cfg      config.Payment
	logger   *zap.Logger
	programs *cache.Cache

	baseMu  sync.RWMutex
	baseCtx context.Context

	guardMu       sync.Mutex
	creating      bool
	cancelCreate  context.CancelFunc
	createAttempt uint64
	loyaltyUCN    *int64

	backMu sync.Mutex

	// seen помнит обработанные события по заказам. Записи истекают через
	// OrderMemoryTTL, чтобы память не росла за время работы терминала.
	seen *cache.Cache

	mu             sync.Mutex
	amountOrder    string
	lastAmount     int64
	qrAttempts     int
	prevState      paymentstate.State
	countdownArmed bool
	cancelLoyalty  context.CancelFunc
}

const (
	eventPayed     = "payed"
	eventCancelled = "cancelled"
	eventCompleted = "completed"
	eventStarted   = "started"
)

// NewService создаёт сервис оплаты поверх общего хранилища состояния.
func NewService(st *store.Store, rem Remote, push Push, cfg config.Payment, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.ProgramsTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	memoryTTL := cfg.OrderMemoryTTL
	if memoryTTL <= 0 {
		memoryTTL = 24 * time.Hour
	}

	return &Service{
		store:     st,
		remote:    rem,
		push:      push,
		timers:    timers.NewRegistry(),
		cfg:       cfg,
		logger:    logger,
		programs:  cache.New(ttl, 2*ttl),
		seen:      cache.New(memoryTTL, memoryTTL),
		baseCtx:   context.Background(),
		prevState: paymentstate.Idle,
	}
}

// Store возвращает хранилище состояния, с которым работает сервис.
func (s *Service) Store() *store.Store {
	return s.store
}

// Start подписывает сервис на push-канал и изменения хранилища и
// продолжает обработку заказа, если он уже есть в хранилище. Подписки
// снимаются, а таймеры останавливаются при завершении ctx.
func (s *Service) Start(ctx context.Context) {
	s.baseMu.Lock()
	s.baseCtx = ctx
	s.baseMu.Unlock()

	unsubscribe := []func(){
		s.store.Subscribe(s.onStateChange),
	}
	if s.push != nil {
		unsubscribe = append(unsubscribe,
			s.push.AddListener(model.MessageStatusUpdate, s.onStatusUpdate),
			s.push.AddListener(model.MessageCardReader, s.onCardReader),
			s.push.AddListener(model.MessageError, s.onPushError),
		)
	}

	s.resume()

	go func() {
		<-ctx.Done()
		for _, fn := range unsubscribe {
			fn()
		}
		s.timers.StopAll()
		s.logger.Info("payment service stopped")
	}()
}

func (s *Service) baseContext() context.Context {
	s.baseMu.RLock()
	defer s.baseMu.RUnlock()
	return s.baseCtx
}

func (s *Service) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.RemoteCallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.RemoteCallTimeout)
}

func (s *Service) fetch(id string) (*model.OrderDetails, error) {
	ctx, cancel := s.callContext(s.baseContext())
	defer cancel()
	return s.remote.GetOrder(ctx, id)
}

// current сообщает, что цикл и заказ не сменились с момента, когда
// их запомнило продолжение.
func (s *Service) current(id string, cycle uint64) bool {
	snap := s.store.Snapshot()
	return snap.Cycle == cycle && snap.OrderID() == id
}

// mark отмечает событие event для заказа id. Возвращает false, если
// событие уже было отмечено.
func (s *Service) mark(event, id string) bool {
	return s.seen.Add(event+":"+id, struct{}{}, cache.DefaultExpiration) == nil
}

func (s *Service) marked(event, id string) bool {
	_, ok := s.seen.Get(event + ":" + id)
	return ok
}

// cancelRemote отменяет заказ на сервере не больше одного раза.
func (s *Service) cancelRemote(ctx context.Context, id, reason string) {
	if !s.mark(eventCancelled, id) {
		return
	}

	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	if err := s.remote.CancelOrder(callCtx, id); err != nil {
		s.logger.Warn("cancel order failed",
			zap.String("order_id", id),
			zap.String("reason", reason),
			zap.Error(err))
		return
	}
	s.logger.Info("order cancelled",
		zap.String("order_id", id),
		zap.String("reason", reason))
}

func (s *Service) cancelled(id string) bool {
	return s.marked(eventCancelled, id)
}

func (s *Service) onPushError(msg model.PushMessage) {
	fields := []zap.Field{
		zap.String("order_id", msg.OrderID),
		zap.String("timestamp", msg.Timestamp),
	}
	if msg.Code != nil {
		fields = append(fields, zap.Int("code", *msg.Code))
		s.store.SetErrorCode(*msg.Code)
	}
	s.logger.Warn("backend reported an error", fields...)
}
