package events

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Stream writes every audit event to conn as JSON until the client goes away
// or ctx ends. It owns conn and closes it on return.
func (h *Hub) Stream(ctx context.Context, conn *websocket.Conn) {
	events, cancel := h.Subscribe()
	defer cancel()
	defer conn.Close()

	entry := h.logEntry().WithField("remote", conn.RemoteAddr().String())
	entry.Info("WS клиент подключён.")

	conn.SetReadLimit(4 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			// inbound frames are ignored, reading only drives pong and close handling
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					entry.WithError(err).Warn("Ошибка чтения WS.")
				}
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"), time.Now().Add(writeWait))
			return
		case <-gone:
			entry.Info("WS клиент отключён.")
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				entry.WithError(err).Warn("Не удалось отправить событие в WS.")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				entry.WithError(err).Warn("Не удалось отправить ping в WS.")
				return
			}
		}
	}
}
