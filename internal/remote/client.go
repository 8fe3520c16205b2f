// Package remote предоставляет клиент HTTP API сервера автомойки.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/DS-Industry/sensor-terminal-front-end/internal/model"
)

const requestIDHeader = "X-Request-ID"

// Options содержит параметры HTTP-клиента.
type Options struct {
	Timeout    time.Duration
	RetryCount int
	RPS        float64
	Token      string
}

// Client инкапсулирует HTTP-взаимодействие с сервером автомойки.
type Client struct {
	client  *resty.Client
	limiter *rate.Limiter
	logger  *zap.Logger

	mu    sync.RWMutex
	token string
}

// CreateOrderRequest описывает запрос на создание заказа.
type CreateOrderRequest struct {
	ProgramID   int64               `json:"program_id"`
	PaymentType model.PaymentMethod `json:"payment_type"`
	UCN         *int64              `json:"ucn,omitempty"`
}

// StartRobotResult описывает ответ сервера на запуск мойки.
type StartRobotResult struct {
	Message string `json:"message,omitempty"`
}

type loyaltyCheckResponse struct {
	LoyaltyStatus bool `json:"loyalty_status"`
}

type envelope[T any] struct {
	Data T `json:"data"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewClient создаёт клиент сервера по базовому адресу.
func NewClient(baseURL string, opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	limit := rate.Inf
	burst := 1
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
		burst = int(opts.RPS)
		if burst < 1 {
			burst = 1
		}
	}

	c := &Client{
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
		token:   opts.Token,
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	c.client = resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetLogger(logger.Sugar()).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(retryIdempotent).
		OnBeforeRequest(c.beforeRequest).
		OnAfterResponse(c.afterResponse)

	return c
}

// retryIdempotent повторяет только GET-запросы при сетевой ошибке,
// ответе 5xx или 429. Создание и отмену заказа повторять нельзя.
func retryIdempotent(resp *resty.Response, err error) bool {
	if resp == nil || resp.Request == nil || resp.Request.Method != http.MethodGet {
		return false
	}
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	code := resp.StatusCode()
	return code >= http.StatusInternalServerError || code == http.StatusTooManyRequests
}

func (c *Client) beforeRequest(_ *resty.Client, r *resty.Request) error {
	if err := c.limiter.Wait(r.Context()); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	if token := c.Token(); token != "" {
		r.SetHeader("Authorization", "Bearer "+token)
	}
	if r.Header.Get(requestIDHeader) == "" {
		r.SetHeader(requestIDHeader, uuid.NewString())
	}
	return nil
}

func (c *Client) afterResponse(_ *resty.Client, resp *resty.Response) error {
	if resp.StatusCode() == http.StatusUnauthorized && c.Token() != "" {
		c.logger.Warn("backend rejected terminal token, dropping it",
			zap.String("url", resp.Request.URL))
		c.SetToken("")
	}
	return nil
}

// Token возвращает текущий токен терминала.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken задаёт токен терминала. Пустая строка отключает авторизацию.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// CreateOrder создаёт заказ. Тело ответа не используется: идентификатор
// заказа приходит позже через push-канал.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetError(&errorBody{}).
		Post("/order")
	return c.check(resp, err, "create order")
}

// GetOrder запрашивает подробности заказа.
func (c *Client) GetOrder(ctx context.Context, id string) (*model.OrderDetails, error) {
	var out model.OrderDetails
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&out).
		SetError(&errorBody{}).
		Get("/order/{id}")
	if err := c.check(resp, err, "get order "+id); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelOrder отменяет заказ.
func (c *Client) CancelOrder(ctx context.Context, id string) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetError(&errorBody{}).
		Post("/order/{id}/cancel")
	return c.check(resp, err, "cancel order "+id)
}

// StartRobot запускает мойку по оплаченному заказу.
func (c *Client) StartRobot(ctx context.Context, id string) (*StartRobotResult, error) {
	var out StartRobotResult
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&out).
		SetError(&errorBody{}).
		Post("/order/{id}/start")
	if err := c.check(resp, err, "start robot "+id); err != nil {
		return nil, err
	}
	return &out, nil
}

// OpenLoyaltyCardReader включает кард-ридер и ждёт, пока клиент приложит
// карту лояльности. Запрос прерывается отменой ctx.
func (c *Client) OpenLoyaltyCardReader(ctx context.Context) (*model.LoyaltyCard, error) {
	var out model.LoyaltyCard
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&errorBody{}).
		Post("/loyalty/card-reader")
	if err := c.check(resp, err, "open loyalty card reader"); err != nil {
		return nil, err
	}
	return &out, nil
}

// LoyaltyCheck сообщает, доступна ли оплата картой лояльности.
func (c *Client) LoyaltyCheck(ctx context.Context) (bool, error) {
	var out loyaltyCheckResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&errorBody{}).
		Get("/loyalty/check")
	if err := c.check(resp, err, "loyalty check"); err != nil {
		return false, err
	}
	return out.LoyaltyStatus, nil
}

// GetPrograms возвращает список программ мойки.
func (c *Client) GetPrograms(ctx context.Context) ([]model.Program, error) {
	var out envelope[[]model.Program]
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&errorBody{}).
		Get("/program")
	if err := c.check(resp, err, "get programs"); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// GetTerminalData возвращает идентификаторы мойки и устройства.
func (c *Client) GetTerminalData(ctx context.Context) (*model.TerminalData, error) {
	var out model.TerminalData
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&errorBody{}).
		Get("/terminal")
	if err := c.check(resp, err, "get terminal data"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) check(resp *resty.Response, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !resp.IsError() {
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode()}
	if body, ok := resp.Error().(*errorBody); ok && body != nil {
		apiErr.Message = body.Error
		if apiErr.Message == "" {
			apiErr.Message = body.Message
		}
	}
	return fmt.Errorf("%s: %w", op, apiErr)
}
