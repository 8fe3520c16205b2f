package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DS-Industry/sensor-terminal-front-end/internal/model"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/store"
)

const (
	defaultJournalBuffer = 256
	journalWriteTimeout  = 15 * time.Second
)

// Recorder сохраняет записи журнала оплат.
type Recorder interface {
	RecordTransition(ctx context.Context, e model.JournalEntry) error
}

// Source отдаёт снимки состояния терминала по мере изменений.
type Source interface {
	Subscribe(fn func(store.Snapshot)) func()
}

// journalKey задаёт поля снимка, изменение которых попадает в журнал.
type journalKey struct {
	cycle   uint64
	orderID string
	status  model.OrderStatus
	state   string
	screen  model.Screen
	amount  int64
	errMsg  string
}

// Writer записывает в журнал переходы состояния оплаты. Каждому циклу
// оплаты присваивается свой UUID. Запись идёт в отдельной горутине; если
// БД не успевает, лишние записи отбрасываются с предупреждением.
type Writer struct {
	repo    Recorder
	logger  *zap.Logger
	entries chan model.JournalEntry
	now     func() time.Time

	// поля ниже используются только из обработчика подписки
	last    journalKey
	hasLast bool
	cycle   uint64
	cycleID uuid.UUID
}

// NewWriter создаёт писателя журнала поверх repo.
func NewWriter(repo Recorder, logger *zap.Logger) *Writer {
	return &Writer{
		repo:    repo,
		logger:  logger,
		entries: make(chan model.JournalEntry, defaultJournalBuffer),
		now:     time.Now,
		cycleID: uuid.New(),
	}
}

// Run подписывается на src и пишет записи, пока не отменён ctx.
func (w *Writer) Run(ctx context.Context, src Source) error {
	unsubscribe := src.Subscribe(w.observe)
	defer unsubscribe()

	w.logger.Info("payment journal started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("payment journal stopped")
			return nil
		case e := <-w.entries:
			w.write(ctx, e)
		}
	}
}

func (w *Writer) write(ctx context.Context, e model.JournalEntry) {
	ctx, cancel := context.WithTimeout(ctx, journalWriteTimeout)
	defer cancel()

	if err := w.repo.RecordTransition(ctx, e); err != nil {
		w.logger.Error("failed to write journal entry",
			zap.String("cycle_id", e.CycleID),
			zap.String("order_id", e.OrderID),
			zap.String("payment_state", e.PaymentState),
			zap.Error(err))
	}
}

func (w *Writer) observe(snap store.Snapshot) {
	key := journalKey{
		cycle:   snap.Cycle,
		orderID: snap.OrderID(),
		state:   string(snap.PaymentState),
		screen:  snap.Screen,
		amount:  snap.InsertedAmount,
		errMsg:  snap.PaymentError,
	}
	if snap.Order != nil {
		key.status = snap.Order.Status
	}
	if w.hasLast && key == w.last {
		return
	}
	w.last = key
	w.hasLast = true

	if snap.Cycle != w.cycle {
		w.cycle = snap.Cycle
		w.cycleID = uuid.New()
	}

	e := model.JournalEntry{
		CycleID:        w.cycleID.String(),
		Cycle:          snap.Cycle,
		OrderID:        key.orderID,
		OrderStatus:    key.status,
		PaymentState:   key.state,
		PaymentMethod:  snap.PaymentMethod,
		InsertedAmount: snap.InsertedAmount,
		Screen:         snap.Screen,
		PaymentError:   snap.PaymentError,
		RecordedAt:     w.now(),
	}
	if snap.Program != nil {
		e.ProgramID = snap.Program.ID
	}

	select {
	case w.entries <- e:
	default:
		w.logger.Warn("payment journal buffer is full, entry dropped",
			zap.String("order_id", e.OrderID),
			zap.String("payment_state", e.PaymentState))
	}
}
