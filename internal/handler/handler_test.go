package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/DS-Industry/sensor-terminal-front-end/internal/middleware"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/model"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/paymentstate"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/service"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/store"
)

const operatorToken = "op-secret"

type stubService struct {
	st *store.Store

	programsResp []model.Program
	programsErr  error

	checkoutErr error

	loyalty bool

	mu            sync.Mutex
	checkoutCalls []orderRequest
	backReasons   []service.BackReason
	robotStarts   int
	retryOK       bool
}

func newStubService() *stubService {
	return &stubService{st: store.New()}
}

func (s *stubService) Store() *store.Store { return s.st }

func (s *stubService) Programs(ctx context.Context) ([]model.Program, error) {
	return s.programsResp, s.programsErr
}

func (s *stubService) LoyaltyAvailable(ctx context.Context) (bool, error) {
	return s.loyalty, nil
}

func (s *stubService) Checkout(ctx context.Context, programID int64, method model.PaymentMethod) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkoutCalls = append(s.checkoutCalls, orderRequest{ProgramID: programID, PaymentMethod: method})
	return s.checkoutErr
}

func (s *stubService) Back(ctx context.Context, reason service.BackReason) {
	s.mu.Lock()
	s.backReasons = append(s.backReasons, reason)
	s.mu.Unlock()
	s.st.Reset()
}

func (s *stubService) Retry() bool { return s.retryOK }

func (s *stubService) StartRobot(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.robotStarts++
}

func (s *stubService) starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.robotStarts
}

type stubPush struct {
	connected bool
	accept    bool
	simulated []model.PushMessage
}

func (p *stubPush) IsConnected() bool { return p.connected }

func (p *stubPush) SimulateEvent(msg model.PushMessage) bool {
	p.simulated = append(p.simulated, msg)
	return p.accept
}

type stubJournal struct {
	entries []model.JournalEntry
	limit   int
}

func (j *stubJournal) RecentEntries(ctx context.Context, limit int) ([]model.JournalEntry, error) {
	j.limit = limit
	return j.entries, nil
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware(operatorToken)

	return NewHandler(svc, logger, auth)
}

func serve(h *Handler, req *http.Request) *http.Response {
	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)
	return rec.Result()
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bytes.NewReader(body)
}

func TestCreateOrder(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		checkoutErr error
		wantStatus  int
		wantCalls   int
	}{
		{name: "accepted", body: `{"program_id":7,"payment_method":"CARD"}`, wantStatus: http.StatusAccepted, wantCalls: 1},
		{name: "malformed json", body: `{"program_id":`, wantStatus: http.StatusBadRequest},
		{name: "unknown method", body: `{"program_id":7,"payment_method":"CHEQUE"}`, wantStatus: http.StatusBadRequest},
		{name: "missing program", body: `{"payment_method":"CASH"}`, wantStatus: http.StatusBadRequest},
		{
			name:        "unknown program",
			body:        `{"program_id":99,"payment_method":"CASH"}`,
			checkoutErr: service.ErrProgramNotFound,
			wantStatus:  http.StatusNotFound,
			wantCalls:   1,
		},
		{
			name:        "catalog unavailable",
			body:        `{"program_id":7,"payment_method":"CASH"}`,
			checkoutErr: errors.New("get programs: timeout"),
			wantStatus:  http.StatusBadGateway,
			wantCalls:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newStubService()
			svc.checkoutErr = tt.checkoutErr
			h := newTestHandler(t, svc)

			req := httptest.NewRequest(http.MethodPost, "/api/kiosk/order", strings.NewReader(tt.body))
			res := serve(h, req)
			defer res.Body.Close()

			if res.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.wantStatus)
			}
			if len(svc.checkoutCalls) != tt.wantCalls {
				t.Fatalf("checkout calls = %d, want %d", len(svc.checkoutCalls), tt.wantCalls)
			}
		})
	}
}

func TestPayWithLoyalty_UsesLoyaltyMethod(t *testing.T) {
	svc := newStubService()
	h := newTestHandler(t, svc)

	res := serve(h, httptest.NewRequest(http.MethodPost, "/api/kiosk/loyalty", jsonBody(t, loyaltyRequest{ProgramID: 3})))
	defer res.Body.Close()

	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusAccepted)
	}
	if len(svc.checkoutCalls) != 1 || svc.checkoutCalls[0].PaymentMethod != model.PaymentMethodLoyalty {
		t.Fatalf("checkout calls = %+v", svc.checkoutCalls)
	}
}

func TestLoyaltyStatus(t *testing.T) {
	svc := newStubService()
	svc.loyalty = true
	h := newTestHandler(t, svc)

	res := serve(h, httptest.NewRequest(http.MethodGet, "/api/kiosk/loyalty", nil))
	defer res.Body.Close()

	var resp loyaltyStatusResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Available {
		t.Fatalf("loyalty reported unavailable")
	}
}

func TestBack(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantReason service.BackReason
	}{
		{name: "empty body", wantStatus: http.StatusOK, wantReason: service.ReasonBack},
		{name: "inactivity", body: `{"reason":"inactivity"}`, wantStatus: http.StatusOK, wantReason: service.ReasonInactivity},
		{name: "unknown reason", body: `{"reason":"bored"}`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newStubService()
			svc.st.SetSelection(model.Program{ID: 7, Price: 500}, model.PaymentMethodCard)
			svc.st.Advance(paymentstate.CreatingOrder)
			h := newTestHandler(t, svc)

			res := serve(h, httptest.NewRequest(http.MethodPost, "/api/kiosk/back", strings.NewReader(tt.body)))
			defer res.Body.Close()

			if res.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				if len(svc.backReasons) != 0 {
					t.Fatalf("back called for invalid request")
				}
				return
			}
			if len(svc.backReasons) != 1 || svc.backReasons[0] != tt.wantReason {
				t.Fatalf("back reasons = %v, want [%s]", svc.backReasons, tt.wantReason)
			}

			var snap store.Snapshot
			if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
				t.Fatalf("decode snapshot: %v", err)
			}
			if snap.PaymentState != paymentstate.Idle || snap.Program != nil {
				t.Fatalf("snapshot after back = %+v", snap)
			}
		})
	}
}

func TestRetry(t *testing.T) {
	for _, ok := range []bool{true, false} {
		svc := newStubService()
		svc.retryOK = ok
		h := newTestHandler(t, svc)

		res := serve(h, httptest.NewRequest(http.MethodPost, "/api/kiosk/retry", nil))
		res.Body.Close()

		want := http.StatusAccepted
		if !ok {
			want = http.StatusConflict
		}
		if res.StatusCode != want {
			t.Fatalf("retry ok=%v: status = %d, want %d", ok, res.StatusCode, want)
		}
	}
}

func TestStartRobot(t *testing.T) {
	svc := newStubService()
	h := newTestHandler(t, svc)

	res := serve(h, httptest.NewRequest(http.MethodPost, "/api/kiosk/robot/start", nil))
	res.Body.Close()

	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusAccepted)
	}
	deadline := time.Now().Add(time.Second)
	for svc.starts() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("robot start was not requested")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGetPrograms(t *testing.T) {
	svc := newStubService()
	svc.programsResp = []model.Program{{ID: 7, Name: "Стандарт", Price: 500}}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/programs", nil)
	res := serve(h, req)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var programs []model.Program
	if err := json.NewDecoder(res.Body).Decode(&programs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(programs) != 1 || programs[0].Price != 500 {
		t.Fatalf("programs = %+v", programs)
	}
}

func TestGetPrograms_Empty(t *testing.T) {
	h := newTestHandler(t, newStubService())

	res := serve(h, httptest.NewRequest(http.MethodGet, "/api/programs", nil))
	res.Body.Close()

	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNoContent)
	}
}

func TestGetState(t *testing.T) {
	svc := newStubService()
	svc.st.SetOrder(model.Order{ID: "42", Status: model.OrderStatusWaitingPayment})
	h := newTestHandler(t, svc)

	res := serve(h, httptest.NewRequest(http.MethodGet, "/api/kiosk/state", nil))
	defer res.Body.Close()

	var snap store.Snapshot
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.OrderID() != "42" {
		t.Fatalf("order id = %q, want 42", snap.OrderID())
	}
}

func TestSimulatePush(t *testing.T) {
	valid := `{"type":"status_update","order_id":"42","status":"PAYED"}`

	tests := []struct {
		name       string
		devMode    bool
		token      string
		body       string
		wantStatus int
	}{
		{name: "dev mode with token", devMode: true, token: operatorToken, body: valid, wantStatus: http.StatusAccepted},
		{name: "no token", devMode: true, body: valid, wantStatus: http.StatusUnauthorized},
		{name: "invalid message", devMode: true, token: operatorToken, body: `{"type":"status_update"}`, wantStatus: http.StatusBadRequest},
		{name: "production", devMode: false, token: operatorToken, body: valid, wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			push := &stubPush{accept: true}
			h := newTestHandler(t, newStubService()).WithPush(push, tt.devMode)

			req := httptest.NewRequest(http.MethodPost, "/api/dev/push", strings.NewReader(tt.body))
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			res := serve(h, req)
			res.Body.Close()

			if res.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusAccepted && len(push.simulated) != 1 {
				t.Fatalf("simulated %d events, want 1", len(push.simulated))
			}
		})
	}
}

func TestGetJournal(t *testing.T) {
	journal := &stubJournal{entries: []model.JournalEntry{{OrderID: "42", PaymentState: "PAYMENT_SUCCESS"}}}
	h := newTestHandler(t, newStubService()).WithJournal(journal)

	req := httptest.NewRequest(http.MethodGet, "/api/kiosk/journal?limit=10", nil)
	req.Header.Set("Authorization", "Bearer "+operatorToken)
	res := serve(h, req)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if journal.limit != 10 {
		t.Fatalf("limit = %d, want 10", journal.limit)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/kiosk/journal?limit=0", nil)
	req.Header.Set("Authorization", "Bearer "+operatorToken)
	res = serve(h, req)
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestGetJournal_Disabled(t *testing.T) {
	h := newTestHandler(t, newStubService())

	req := httptest.NewRequest(http.MethodGet, "/api/kiosk/journal", nil)
	req.Header.Set("Authorization", "Bearer "+operatorToken)
	res := serve(h, req)
	res.Body.Close()

	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusServiceUnavailable)
	}
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	h := newTestHandler(t, newStubService())

	res := serve(h, httptest.NewRequest(http.MethodGet, "/api/unknown", nil))
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}

	res = serve(h, httptest.NewRequest(http.MethodGet, "/api/kiosk/order", nil))
	res.Body.Close()
	if res.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusMethodNotAllowed)
	}
}

func TestStateFeed(t *testing.T) {
	svc := newStubService()
	h := newTestHandler(t, svc)

	srv := httptest.NewServer(h.SetupRouter())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/kiosk/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	read := func() store.Snapshot {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var snap store.Snapshot
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatalf("read snapshot: %v", err)
		}
		return snap
	}

	if first := read(); first.PaymentState != paymentstate.Idle {
		t.Fatalf("initial state = %s", first.PaymentState)
	}

	svc.st.SetOrder(model.Order{ID: "42", Status: model.OrderStatusWaitingPayment})

	for {
		snap := read()
		if snap.OrderID() == "42" {
			break
		}
	}
}
