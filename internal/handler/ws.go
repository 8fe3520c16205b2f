package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/DS-Industry/sensor-terminal-front-end/internal/store"
)

const (
	feedWriteTimeout = 5 * time.Second
	feedPingInterval = 30 * time.Second
	feedPongTimeout  = 2 * feedPingInterval
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Интерфейс киоска открывается локально, с другого порта dev-сервера.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StateFeed отдаёт интерфейсу киоска поток снимков состояния: текущий
// снимок сразу после подключения и новый при каждом изменении. Если
// клиент не успевает читать, промежуточные снимки пропускаются, последний
// доставляется всегда.
func (h *Handler) StateFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("state feed upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	st := h.service.Store()
	updates := make(chan store.Snapshot, 1)
	unsubscribe := st.Subscribe(func(snap store.Snapshot) {
		select {
		case <-updates:
		default:
		}
		updates <- snap
	})
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(feedPongTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(feedPongTimeout))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.logger.Debug("state feed connected", zap.String("remote_addr", r.RemoteAddr))
	defer h.logger.Debug("state feed disconnected", zap.String("remote_addr", r.RemoteAddr))

	current := st.Snapshot()
	if err := h.writeSnapshot(conn, current); err != nil {
		return
	}
	lastVersion := current.Version

	ping := time.NewTicker(feedPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case snap := <-updates:
			if snap.Version <= lastVersion {
				continue
			}
			lastVersion = snap.Version
			if err := h.writeSnapshot(conn, snap); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) writeSnapshot(conn *websocket.Conn, snap store.Snapshot) error {
	_ = conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
	if err := conn.WriteJSON(snap); err != nil {
		h.logger.Debug("state feed write failed", zap.Error(err))
		return err
	}
	return nil
}
