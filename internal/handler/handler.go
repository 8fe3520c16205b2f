// Package handler содержит HTTP-обработчики локального API киоска.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/DS-Industry/sensor-terminal-front-end/internal/middleware"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/model"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/service"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/store"
	"github.com/DS-Industry/sensor-terminal-front-end/internal/validation"
)

const (
	defaultJournalLimit = 50
	maxJournalLimit     = 500
)

// Service определяет контракт сценария оплаты, используемый HTTP-обработчиками.
type Service interface {
	Store() *store.Store
	Programs(ctx context.Context) ([]model.Program, error)
	LoyaltyAvailable(ctx context.Context) (bool, error)
	Checkout(ctx context.Context, programID int64, method model.PaymentMethod) error
	Back(ctx context.Context, reason service.BackReason)
	Retry() bool
	StartRobot(ctx context.Context)
}

// Push описывает push-канал сервера с точки зрения API киоска.
type Push interface {
	IsConnected() bool
	SimulateEvent(msg model.PushMessage) bool
}

// Journal отдаёт последние записи журнала оплат.
type Journal interface {
	RecentEntries(ctx context.Context, limit int) ([]model.JournalEntry, error)
}

// Handler реализует HTTP-обработчики локального API киоска.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware

	push    Push
	devMode bool
	journal Journal
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

// WithPush подключает push-канал. В режиме разработки становится
// доступна операторская отправка событий в канал.
func (h *Handler) WithPush(p Push, devMode bool) *Handler {
	h.push = p
	h.devMode = devMode
	return h
}

// WithJournal подключает журнал оплат.
func (h *Handler) WithJournal(j Journal) *Handler {
	h.journal = j
	return h
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode разбирает JSON-тело запроса. Пустое тело допустимо, если allowEmpty.
func decode(r *http.Request, v any, allowEmpty bool) error {
	defer r.Body.Close()
	err := json.NewDecoder(r.Body).Decode(v)
	if allowEmpty && errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// GetState возвращает текущий снимок состояния терминала.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Store().Snapshot())
}

type healthResponse struct {
	PushConnected bool `json:"push_connected"`
}

// Health сообщает, подключён ли push-канал.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{}
	if h.push != nil {
		resp.PushConnected = h.push.IsConnected()
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetPrograms возвращает каталог программ мойки.
func (h *Handler) GetPrograms(w http.ResponseWriter, r *http.Request) {
	programs, err := h.service.Programs(r.Context())
	if err != nil {
		h.logger.Error("get programs error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	if len(programs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, programs)
}

type loyaltyStatusResponse struct {
	Available bool `json:"available"`
}

// LoyaltyStatus сообщает, можно ли оплатить мойку картой лояльности.
func (h *Handler) LoyaltyStatus(w http.ResponseWriter, r *http.Request) {
	ok, err := h.service.LoyaltyAvailable(r.Context())
	if err != nil {
		h.logger.Error("loyalty check error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, loyaltyStatusResponse{Available: ok})
}

type orderRequest struct {
	ProgramID     int64               `json:"program_id"`
	PaymentMethod model.PaymentMethod `json:"payment_method"`
}

// CreateOrder выбирает программу и способ оплаты и запускает создание заказа.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := decode(r, &req, false); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	h.checkout(w, r, req.ProgramID, req.PaymentMethod)
}

type loyaltyRequest struct {
	ProgramID int64 `json:"program_id"`
}

// PayWithLoyalty запускает оплату картой лояльности для выбранной программы.
func (h *Handler) PayWithLoyalty(w http.ResponseWriter, r *http.Request) {
	var req loyaltyRequest
	if err := decode(r, &req, false); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	h.checkout(w, r, req.ProgramID, model.PaymentMethodLoyalty)
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request, programID int64, method model.PaymentMethod) {
	if err := validation.ValidateOrderRequest(programID, method); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err := h.service.Checkout(r.Context(), programID, method)
	if err != nil {
		if errors.Is(err, service.ErrProgramNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("checkout error", zap.Error(err),
			zap.Int64("program_id", programID),
			zap.String("payment_method", string(method)))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

type backRequest struct {
	Reason service.BackReason `json:"reason"`
}

// Back прерывает текущую оплату и возвращает киоск на главный экран.
func (h *Handler) Back(w http.ResponseWriter, r *http.Request) {
	var req backRequest
	if err := decode(r, &req, true); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		req.Reason = service.ReasonBack
	}
	if !req.Reason.Valid() {
		http.Error(w, "invalid back reason", http.StatusBadRequest)
		return
	}

	h.service.Back(context.WithoutCancel(r.Context()), req.Reason)
	writeJSON(w, http.StatusOK, h.service.Store().Snapshot())
}

// Retry повторяет создание заказа после ошибки оплаты.
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	if !h.service.Retry() {
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// StartRobot запускает мойку, не дожидаясь окончания обратного отсчёта.
func (h *Handler) StartRobot(w http.ResponseWriter, r *http.Request) {
	go h.service.StartRobot(context.WithoutCancel(r.Context()))
	w.WriteHeader(http.StatusAccepted)
}

// SimulatePush внедряет сообщение в push-канал. Доступно только в режиме разработки.
func (h *Handler) SimulatePush(w http.ResponseWriter, r *http.Request) {
	var msg model.PushMessage
	if err := decode(r, &msg, false); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if err := validation.ValidatePushMessage(msg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if h.push == nil || !h.push.SimulateEvent(msg) {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	h.logger.Info("simulated push event",
		zap.String("type", string(msg.Type)),
		zap.String("order_id", msg.OrderID),
		zap.String("status", string(msg.Status)))
	w.WriteHeader(http.StatusAccepted)
}

// GetJournal возвращает последние записи журнала оплат.
func (h *Handler) GetJournal(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		http.Error(w, "payment journal is disabled", http.StatusServiceUnavailable)
		return
	}

	limit := defaultJournalLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxJournalLimit {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := h.journal.RecentEntries(r.Context(), limit)
	if err != nil {
		h.logger.Error("get journal error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if len(entries) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
