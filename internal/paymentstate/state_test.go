package paymentstate

import (
	"testing"
)

var allStates = []State{
	Idle, CreatingOrder, WaitingPayment, ProcessingPayment, PaymentSuccess,
	StartingRobot, RobotStarted, QueueWaiting, QueueFull, PaymentError,
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from State
		to   State
		want bool
	}{
		{Idle, CreatingOrder, true},
		{CreatingOrder, WaitingPayment, true},
		{CreatingOrder, PaymentError, true},
		{CreatingOrder, PaymentSuccess, true},
		{WaitingPayment, ProcessingPayment, true},
		{WaitingPayment, PaymentSuccess, true},
		{ProcessingPayment, PaymentSuccess, true},
		{WaitingPayment, QueueFull, true},
		{PaymentSuccess, StartingRobot, true},
		{StartingRobot, QueueWaiting, true},
		{StartingRobot, RobotStarted, true},
		{StartingRobot, PaymentError, true},
		{QueueWaiting, RobotStarted, true},
		{PaymentError, CreatingOrder, true},
		{WaitingPayment, WaitingPayment, true},

		{Idle, PaymentSuccess, false},
		{ProcessingPayment, WaitingPayment, false},
		{PaymentSuccess, WaitingPayment, false},
		{PaymentSuccess, ProcessingPayment, false},
		{PaymentSuccess, CreatingOrder, false},
		{PaymentSuccess, QueueFull, false},
		{StartingRobot, PaymentSuccess, false},
		{RobotStarted, CreatingOrder, false},
		{QueueFull, CreatingOrder, false},
		{WaitingPayment, Idle, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestReachedStatesNeverRegress(t *testing.T) {
	early := []State{Idle, CreatingOrder, WaitingPayment, ProcessingPayment}

	for _, from := range allStates {
		if !Reached(from) {
			continue
		}
		for _, to := range early {
			if CanTransition(from, to) {
				t.Fatalf("transition %s -> %s must be rejected", from, to)
			}
		}
	}
}

func TestClassification(t *testing.T) {
	for _, s := range allStates {
		if Terminal(s) && Reached(s) && s != RobotStarted {
			t.Fatalf("state %s cannot be both terminal and reached", s)
		}
	}

	if !Pending(WaitingPayment) || Pending(PaymentSuccess) || Pending(Idle) {
		t.Fatalf("unexpected Pending classification")
	}
	if !Terminal(QueueFull) || Terminal(QueueWaiting) {
		t.Fatalf("unexpected Terminal classification")
	}
}
