package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/DS-Industry/sensor-terminal-front-end/internal/config"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/model"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/paymentstate"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/remote"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/store"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var wash = model.Program{ID: 7, Name: "Стандарт", Price: 500, Duration: 8}

type stubRemote struct {
	mu sync.Mutex

	createErr   error
	createCalls int
	createReqs  []remote.CreateOrderRequest
	createBlock chan struct{}
	onCreate    func()

	responses   map[string][]*model.OrderDetails
	getErrTimes int
	getCalls    map[string]int

	cancelCalls map[string]int

	startResult *remote.StartRobotResult
	startErr    error
	startCalls  map[string]int

	card      *model.LoyaltyCard
	cardErr   error
	cardBlock bool

	programs      []model.Program
	programsCalls int

	loyaltyAvailable bool
	loyaltyCalls     int
}

func newStubRemote() *stubRemote {
	return &stubRemote{
		responses:   make(map[string][]*model.OrderDetails),
		getCalls:    make(map[string]int),
		cancelCalls: make(map[string]int),
		startCalls:  make(map[string]int),
	}
}

func (r *stubRemote) CreateOrder(ctx context.Context, req remote.CreateOrderRequest) error {
	r.mu.Lock()
	r.createCalls++
	r.createReqs = append(r.createReqs, req)
	block := r.createBlock
	hook := r.onCreate
	err := r.createErr
	r.mu.Unlock()

	if hook != nil {
		hook()
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (r *stubRemote) GetOrder(ctx context.Context, id string) (*model.OrderDetails, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.getCalls[id]++
	if r.getErrTimes > 0 {
		r.getErrTimes--
		return nil, errors.New("backend unavailable")
	}
	seq := r.responses[id]
	if len(seq) == 0 {
		return nil, &remote.APIError{StatusCode: 404, Message: "order not found"}
	}
	d := *seq[0]
	if len(seq) > 1 {
		r.responses[id] = seq[1:]
	}
	return &d, nil
}

func (r *stubRemote) CancelOrder(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelCalls[id]++
	return nil
}

func (r *stubRemote) StartRobot(ctx context.Context, id string) (*remote.StartRobotResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startCalls[id]++
	if r.startErr != nil {
		return nil, r.startErr
	}
	if r.startResult != nil {
		res := *r.startResult
		return &res, nil
	}
	return &remote.StartRobotResult{}, nil
}

func (r *stubRemote) OpenLoyaltyCardReader(ctx context.Context) (*model.LoyaltyCard, error) {
	r.mu.Lock()
	block := r.cardBlock
	card, err := r.card, r.cardErr
	r.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return card, err
}

func (r *stubRemote) LoyaltyCheck(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loyaltyCalls++
	return r.loyaltyAvailable, nil
}

func (r *stubRemote) GetPrograms(ctx context.Context) ([]model.Program, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.programsCalls++
	return r.programs, nil
}

func (r *stubRemote) creates() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createCalls
}

func (r *stubRemote) gets(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getCalls[id]
}

func (r *stubRemote) cancels(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelCalls[id]
}

func (r *stubRemote) starts(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startCalls[id]
}

func (r *stubRemote) respond(id string, seq ...*model.OrderDetails) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[id] = seq
}

type stubPush struct {
	mu        sync.Mutex
	listeners map[model.MessageType][]func(model.PushMessage)
}

func (p *stubPush) AddListener(t model.MessageType, fn func(model.PushMessage)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listeners == nil {
		p.listeners = make(map[model.MessageType][]func(model.PushMessage))
	}
	p.listeners[t] = append(p.listeners[t], fn)
	return func() {}
}

func (p *stubPush) emit(msg model.PushMessage) {
	p.mu.Lock()
	ls := append([]func(model.PushMessage){}, p.listeners[msg.Type]...)
	p.mu.Unlock()
	for _, fn := range ls {
		fn(msg)
	}
}

func (p *stubPush) status(id string, status model.OrderStatus) {
	p.emit(model.PushMessage{Type: model.MessageStatusUpdate, OrderID: id, Status: status})
}

func testPayment() config.Payment {
	return config.Payment{
		DepositTimeout:     time.Minute,
		RobotStartInterval: time.Minute,
		CountdownTick:      time.Second,
		QRPollInterval:     10 * time.Millisecond,
		QRPollMaxAttempts:  3,
		CardPollInterval:   10 * time.Millisecond,
		CashPollInterval:   10 * time.Millisecond,
		PayedRetryDelay:    10 * time.Millisecond,
		MaxQueuePosition:   1,
		LoyaltyTimeout:     time.Minute,
		ProgramsTTL:        time.Minute,
		RemoteCallTimeout:  time.Second,
		OrderMemoryTTL:     time.Minute,
	}
}

type fixture struct {
	svc    *Service
	store  *store.Store
	remote *stubRemote
	push   *stubPush
}

func newFixture(t *testing.T, cfg config.Payment) *fixture {
	t.Helper()
	return newFixtureWithLogger(t, cfg, zap.NewNop())
}

func newFixtureWithLogger(t *testing.T, cfg config.Payment, logger *zap.Logger) *fixture {
	t.Helper()

	st := store.New()
	rem := newStubRemote()
	push := &stubPush{}
	svc := NewService(st, rem, push, cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	svc.Start(ctx)

	return &fixture{svc: svc, store: st, remote: rem, push: push}
}

// waiting кладёт в хранилище заказ id, ожидающий оплаты.
func (f *fixture) waiting(id string, p model.Program, method model.PaymentMethod) {
	f.store.SetSelection(p, method)
	f.store.Advance(paymentstate.CreatingOrder)
	f.store.Advance(paymentstate.WaitingPayment)
	f.store.SetOrder(model.Order{
		ID:            id,
		Status:        model.OrderStatusWaitingPayment,
		PaymentMethod: method,
		ProgramID:     p.ID,
	})
}

func (f *fixture) eventuallyState(t *testing.T, want paymentstate.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.store.Snapshot().PaymentState == want
	}, waitFor, tick, "payment state never became %s, last %s", want, f.store.Snapshot().PaymentState)
}

func details(id string, amount int64) *model.OrderDetails {
	a := model.Amount(amount)
	return &model.OrderDetails{
		ID:        id,
		Status:    model.OrderStatusPayed,
		AmountSum: &a,
		QRCode:    "qr-" + id,
	}
}

func intPtr(v int) *int { return &v }

func TestOrderMemoryExpires(t *testing.T) {
	cfg := testPayment()
	cfg.OrderMemoryTTL = 20 * time.Millisecond
	f := newFixture(t, cfg)

	require.True(t, f.svc.mark(eventCancelled, "1"))
	require.False(t, f.svc.mark(eventCancelled, "1"))
	assert.True(t, f.svc.cancelled("1"))

	require.Eventually(t, func() bool { return f.svc.seen.ItemCount() == 0 }, waitFor, tick)
	assert.False(t, f.svc.cancelled("1"))
}

func TestPushErrorSetsCode(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	f := newFixtureWithLogger(t, testPayment(), zap.New(core))

	f.push.emit(model.PushMessage{Type: model.MessageError, Code: intPtr(1001)})

	snap := f.store.Snapshot()
	require.NotNil(t, snap.ErrorCode)
	assert.Equal(t, 1001, *snap.ErrorCode)
	assert.Equal(t, 1, logs.FilterMessage("backend reported an error").Len())
}

func TestStatusUpdateWithoutOrderIDIsDropped(t *testing.T) {
	f := newFixture(t, testPayment())

	f.push.status("", model.OrderStatusPayed)

	assert.Nil(t, f.store.Snapshot().Order)
	assert.Zero(t, f.remote.starts(""))
}
