// Package push предоставляет клиент push-канала сервера автомойки.
//
// Клиент держит одно WebSocket-соединение с сервером, переподключается
// по заданной политике и раздаёт входящие сообщения слушателям по типу.
package push

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/DS-Industry/sensor-terminal-front-end/internal/model"
)

const statusPath = "/ws/orders/status/"

// Options содержит параметры подключения к push-каналу.
type Options struct {
	InitialDelay      time.Duration
	ConnectTimeout    time.Duration
	ReconnectInterval time.Duration
	ReconnectAttempts int
	Token             string
	DevMode           bool
}

type listener struct {
	id uint64
	fn func(model.PushMessage)
}

// Client поддерживает соединение с push-каналом и оповещает слушателей.
type Client struct {
	url    string
	opts   Options
	dialer *websocket.Dialer
	logger *zap.Logger

	mu        sync.RWMutex
	listeners map[model.MessageType][]listener
	nextID    uint64
	conn      *websocket.Conn

	connected atomic.Bool
}

// NewClient создаёт клиент push-канала по базовому адресу сервера.
func NewClient(baseURL string, opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	base := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case !strings.HasPrefix(base, "ws://") && !strings.HasPrefix(base, "wss://"):
		base = "ws://" + base
	}

	return &Client{
		url:       base + statusPath,
		opts:      opts,
		dialer:    &websocket.Dialer{HandshakeTimeout: opts.ConnectTimeout},
		logger:    logger,
		listeners: make(map[model.MessageType][]listener),
	}
}

// AddListener подписывает fn на сообщения типа t. Слушатели вызываются
// синхронно в порядке регистрации. Возвращает функцию отписки.
func (c *Client) AddListener(t model.MessageType, fn func(model.PushMessage)) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[t] = append(c.listeners[t], listener{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		ls := c.listeners[t]
		for i, l := range ls {
			if l.id == id {
				c.listeners[t] = append(ls[:i:i], ls[i+1:]...)
				return
			}
		}
	}
}

// IsConnected сообщает, открыто ли сейчас соединение.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// SimulateEvent доставляет сообщение слушателям без обращения к сети.
// Работает только в режиме разработки.
func (c *Client) SimulateEvent(msg model.PushMessage) bool {
	if !c.opts.DevMode {
		c.logger.Warn("simulated push event ignored outside dev mode",
			zap.String("type", string(msg.Type)))
		return false
	}
	c.logger.Debug("simulated push event",
		zap.String("type", string(msg.Type)),
		zap.String("order_id", msg.OrderID),
		zap.String("status", string(msg.Status)))
	c.deliver(msg)
	return true
}

// Run подключается к push-каналу и читает сообщения, пока не завершится ctx.
// После ReconnectAttempts неудачных попыток подряд клиент прекращает
// переподключение. Счётчик попыток сбрасывается после успешного подключения.
func (c *Client) Run(ctx context.Context) error {
	if !sleep(ctx, c.opts.InitialDelay) {
		return nil
	}

	failures := 0
	for {
		opened, err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if opened {
			failures = 0
		}
		if failures >= c.opts.ReconnectAttempts {
			c.logger.Error("push channel reconnect attempts exhausted",
				zap.Int("attempts", failures),
				zap.Error(err))
			return nil
		}
		failures++

		c.logger.Warn("push channel disconnected, reconnecting",
			zap.Int("attempt", failures),
			zap.Duration("interval", c.opts.ReconnectInterval),
			zap.Error(err))

		if !sleep(ctx, c.opts.ReconnectInterval) {
			return nil
		}
	}
}

// Close закрывает текущее соединение и удаляет всех слушателей.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.listeners = make(map[model.MessageType][]listener)
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *Client) session(ctx context.Context) (bool, error) {
	dialCtx := ctx
	if c.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.opts.ConnectTimeout)
		defer cancel()
	}

	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	conn, _, err := c.dialer.DialContext(dialCtx, c.url, header)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)
	c.logger.Info("push channel connected", zap.String("url", c.url))

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	defer func() {
		close(done)
		c.connected.Store(false)
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var msg model.PushMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("malformed push message dropped",
			zap.ByteString("payload", data),
			zap.Error(err))
		return
	}
	c.deliver(msg)
}

func (c *Client) deliver(msg model.PushMessage) {
	c.mu.RLock()
	ls := append([]listener(nil), c.listeners[msg.Type]...)
	c.mu.RUnlock()

	for _, l := range ls {
		c.call(l, msg)
	}
}

func (c *Client) call(l listener, msg model.PushMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("push listener panicked",
				zap.String("type", string(msg.Type)),
				zap.Any("panic", r))
		}
	}()
	l.fn(msg)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
