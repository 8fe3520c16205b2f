package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DS-Industry/sensor-terminal-front-end/internal/model"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/paymentstate"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/remote"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/timers"
)

func TestCountdown_StartsRobot(t *testing.T) {
	cfg := testPayment()
	cfg.RobotStartInterval = 60 * time.Millisecond
	cfg.CountdownTick = 20 * time.Millisecond
	f := newFixture(t, cfg)
	f.waiting("1", wash, model.PaymentMethodCard)
	f.remote.respond("1", details("1", 500))

	f.push.status("1", model.OrderStatusPayed)

	require.Eventually(t, func() bool { return f.remote.starts("1") == 1 }, waitFor, tick)
	snap := f.store.Snapshot()
	assert.Equal(t, paymentstate.StartingRobot, snap.PaymentState)
	assert.True(t, snap.Loading)

	f.push.status("1", model.OrderStatusProcessing)

	snap = f.store.Snapshot()
	assert.Equal(t, paymentstate.RobotStarted, snap.PaymentState)
	assert.Equal(t, model.ScreenSuccess, snap.Screen)
	assert.False(t, snap.Loading)
	assert.Equal(t, 1, f.remote.starts("1"))
}

func TestCountdown_SurvivesUnrelatedUpdates(t *testing.T) {
	f := newFixture(t, testPayment())
	f.waiting("1", wash, model.PaymentMethodCard)
	require.True(t, f.store.Advance(paymentstate.PaymentSuccess))

	require.Eventually(t, func() bool { return f.svc.timers.Active(timers.CountdownFire) }, waitFor, tick)
	assert.Equal(t, 60, f.store.Snapshot().TimeUntilRobotStart)

	f.store.SetBankCheck("qr")
	f.store.SetQueueNumber(3)
	f.store.SetLoading(false)
	time.Sleep(20 * time.Millisecond)

	assert.True(t, f.svc.timers.Active(timers.CountdownFire))
	assert.True(t, f.svc.timers.Active(timers.CountdownTick))
}

func TestCountdown_ClearedWhenLeavingSuccess(t *testing.T) {
	f := newFixture(t, testPayment())
	f.waiting("1", wash, model.PaymentMethodCard)
	require.True(t, f.store.Advance(paymentstate.PaymentSuccess))
	require.Eventually(t, func() bool { return f.svc.timers.Active(timers.CountdownFire) }, waitFor, tick)

	f.svc.StartRobot(t.Context())

	require.Eventually(t, func() bool {
		return !f.svc.timers.Active(timers.CountdownFire) && !f.svc.timers.Active(timers.CountdownTick)
	}, waitFor, tick)
	assert.Equal(t, paymentstate.StartingRobot, f.store.Snapshot().PaymentState)
}

func TestCountdown_ClearedAfterBack(t *testing.T) {
	f := newFixture(t, testPayment())

	for i := 0; i < 50; i++ {
		id := strconv.Itoa(i)
		f.waiting(id, wash, model.PaymentMethodCard)
		require.True(t, f.store.Advance(paymentstate.PaymentSuccess))
		f.svc.Back(context.Background(), ReasonBack)
	}

	idle := func() bool {
		snap := f.store.Snapshot()
		return snap.PaymentState == paymentstate.Idle &&
			snap.TimeUntilRobotStart == 0 &&
			!f.svc.timers.Active(timers.CountdownFire) &&
			!f.svc.timers.Active(timers.CountdownTick)
	}
	require.Eventually(t, idle, waitFor, tick)
	require.Never(t, func() bool { return !idle() }, 50*time.Millisecond, tick)
}

func TestStartRobot_QueueResponse(t *testing.T) {
	f := newFixture(t, testPayment())
	f.waiting("1", wash, model.PaymentMethodCard)
	require.True(t, f.store.Advance(paymentstate.PaymentSuccess))

	queued := details("1", 500)
	queued.QueuePosition = intPtr(1)
	queued.QueueNumber = intPtr(7)
	f.remote.respond("1", queued)
	f.remote.startResult = &remote.StartRobotResult{Message: "Заказ добавлен в очереди"}

	f.svc.StartRobot(t.Context())

	snap := f.store.Snapshot()
	assert.Equal(t, paymentstate.QueueWaiting, snap.PaymentState)
	assert.Equal(t, model.ScreenQueue, snap.Screen)
	require.NotNil(t, snap.QueuePosition)
	assert.Equal(t, 1, *snap.QueuePosition)
	require.NotNil(t, snap.QueueNumber)
	assert.Equal(t, 7, *snap.QueueNumber)
	assert.Equal(t, model.OrderStatusPayed, snap.Order.Status)

	f.push.status("1", model.OrderStatusProcessing)

	snap = f.store.Snapshot()
	assert.Equal(t, paymentstate.RobotStarted, snap.PaymentState)
	assert.Equal(t, model.ScreenQueue, snap.Screen)
}

func TestStartRobot_NoQueueIndicatorWaitsForConfirmation(t *testing.T) {
	f := newFixture(t, testPayment())
	f.waiting("1", wash, model.PaymentMethodCard)
	require.True(t, f.store.Advance(paymentstate.PaymentSuccess))
	f.remote.startResult = &remote.StartRobotResult{Message: "ok"}

	f.svc.StartRobot(t.Context())

	assert.Equal(t, paymentstate.StartingRobot, f.store.Snapshot().PaymentState)
	assert.Zero(t, f.remote.gets("1"))

	f.push.status("1", model.OrderStatusProcessing)
	assert.Equal(t, paymentstate.RobotStarted, f.store.Snapshot().PaymentState)
}

func TestStartRobot_Error(t *testing.T) {
	f := newFixture(t, testPayment())
	f.waiting("1", wash, model.PaymentMethodCard)
	require.True(t, f.store.Advance(paymentstate.PaymentSuccess))
	f.remote.startErr = &remote.APIError{StatusCode: 409, Message: "Робот занят"}

	f.svc.StartRobot(t.Context())

	snap := f.store.Snapshot()
	assert.Equal(t, paymentstate.PaymentError, snap.PaymentState)
	assert.Equal(t, "Робот занят", snap.PaymentError)
	assert.Equal(t, model.ScreenError, snap.Screen)
	assert.False(t, snap.Loading)
}

func TestStartRobot_ErrorWithoutMessage(t *testing.T) {
	f := newFixture(t, testPayment())
	f.waiting("1", wash, model.PaymentMethodCard)
	require.True(t, f.store.Advance(paymentstate.PaymentSuccess))
	f.remote.startErr = errors.New("")

	f.svc.StartRobot(t.Context())

	snap := f.store.Snapshot()
	assert.Equal(t, paymentstate.PaymentError, snap.PaymentState)
	assert.Equal(t, defaultStartRobotError, snap.PaymentError)
}

func TestStartRobot_RedeliveredPayedAfterFinish(t *testing.T) {
	cfg := testPayment()
	cfg.RobotStartInterval = 40 * time.Millisecond
	cfg.CountdownTick = 20 * time.Millisecond
	f := newFixture(t, cfg)
	f.waiting("1", wash, model.PaymentMethodCard)
	f.remote.respond("1", details("1", 500))

	f.push.status("1", model.OrderStatusPayed)
	require.Eventually(t, func() bool { return f.remote.starts("1") == 1 }, waitFor, tick)
	f.push.status("1", model.OrderStatusProcessing)
	require.Equal(t, paymentstate.RobotStarted, f.store.Snapshot().PaymentState)

	f.svc.Back(context.Background(), ReasonFinish)

	f.push.status("1", model.OrderStatusPayed)
	f.push.status("1", model.OrderStatusProcessing)
	time.Sleep(50 * time.Millisecond)

	snap := f.store.Snapshot()
	assert.Equal(t, 1, f.remote.starts("1"))
	assert.Nil(t, snap.Order)
	assert.Equal(t, paymentstate.Idle, snap.PaymentState)
	assert.Equal(t, model.ScreenMain, snap.Screen)
}

func TestStartRobot_RequiresPaymentSuccess(t *testing.T) {
	f := newFixture(t, testPayment())
	f.waiting("1", wash, model.PaymentMethodCard)

	f.svc.StartRobot(t.Context())

	assert.Zero(t, f.remote.starts("1"))
	assert.Equal(t, paymentstate.WaitingPayment, f.store.Snapshot().PaymentState)
}

func TestStartRobot_ConcurrentCallsStartOnce(t *testing.T) {
	f := newFixture(t, testPayment())
	f.waiting("1", wash, model.PaymentMethodCard)
	require.True(t, f.store.Advance(paymentstate.PaymentSuccess))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.svc.StartRobot(t.Context())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.remote.starts("1"))
}

func TestMobilePaymentAutoStart(t *testing.T) {
	f := newFixture(t, testPayment())

	f.push.status("m1", model.OrderStatusPayed)

	require.Eventually(t, func() bool { return f.remote.starts("m1") == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { return f.store.Snapshot().Screen == model.ScreenSuccess }, waitFor, tick)

	f.push.status("m1", model.OrderStatusPayed)
	f.push.status("m1", model.OrderStatusProcessing)
	time.Sleep(20 * time.Millisecond)

	snap := f.store.Snapshot()
	assert.Equal(t, 1, f.remote.starts("m1"))
	assert.Nil(t, snap.Order)
	assert.Equal(t, paymentstate.Idle, snap.PaymentState)
}

func TestMobilePaymentAutoStart_FailureStaysOnMain(t *testing.T) {
	f := newFixture(t, testPayment())
	f.remote.startErr = errors.New("robot offline")

	f.push.status("m1", model.OrderStatusPayed)

	require.Eventually(t, func() bool { return f.remote.starts("m1") == 1 }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, model.ScreenMain, f.store.Snapshot().Screen)
}

func TestIsQueueMessage(t *testing.T) {
	assert.True(t, isQueueMessage("Вы в очереди"))
	assert.True(t, isQueueMessage("Added to QUEUE"))
	assert.False(t, isQueueMessage("Робот запущен"))
	assert.False(t, isQueueMessage(""))
}
