package websocket

import (
	"log"
	"os"
	"strings"
	"time"

	gorilla "github.com/gorilla/websocket"

	"arbscan/internal/bus"
)

const (
	writeWait = 10 * time.Second

	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Входящие сообщения - только текстовый "ping", 512 байт с запасом
	maxMessageSize = 512
)

// OriginChecker проверяет Origin за O(1) по множеству из окружения
type OriginChecker struct {
	allowedOrigins map[string]struct{}
	allowAll       bool
}

var originChecker = initOriginChecker()

func initOriginChecker() *OriginChecker {
	checker := &OriginChecker{
		allowedOrigins: make(map[string]struct{}),
	}

	// ALLOWED_ORIGINS=http://localhost:3000,https://example.com
	envOrigins := os.Getenv("ALLOWED_ORIGINS")
	if envOrigins == "" || envOrigins == "*" {
		checker.allowAll = true
		return checker
	}
	for _, origin := range strings.Split(envOrigins, ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			checker.allowedOrigins[origin] = struct{}{}
		}
	}
	return checker
}

// Check пропускает пустой Origin: curl и нативные клиенты
func (oc *OriginChecker) Check(origin string) bool {
	if origin == "" || oc.allowAll {
		return true
	}
	_, ok := oc.allowedOrigins[origin]
	return ok
}

// Client - одно WebSocket-соединение с собственной подпиской на шину.
// Две горутины: readPump принимает текстовые "ping", writePump гонит
// кадры событий. Закрытие подписки (отмена или slow_consumer) рвёт
// соединение.
type Client struct {
	hub  *Hub
	conn *gorilla.Conn
	sub  *bus.Subscription
	pong chan struct{}
}

func (c *Client) readPump() {
	defer func() {
		c.sub.Close()
		c.conn.Close()
		c.hub.remove(c)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if gorilla.IsUnexpectedCloseError(err, gorilla.CloseGoingAway, gorilla.CloseAbnormalClosure) {
				log.Printf("[ws] ошибка чтения: %v", err)
			}
			return
		}
		// Прикладной ping поверх текстовых кадров
		if string(message) == "ping" {
			c.conn.SetReadDeadline(time.Now().Add(pongWait))
			select {
			case c.pong <- struct{}{}:
			default:
			}
		}
	}
}

func (c *Client) writePump(first []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.hub.remove(c)
	}()

	// Первый кадр - снимок состояния, до любых событий
	if first != nil {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(gorilla.TextMessage, first); err != nil {
			return
		}
	}

	for {
		select {
		case ev, ok := <-c.sub.C():
			if !ok {
				// Шина закрыла подписку: slow_consumer или shutdown
				if reason := c.sub.Reason(); reason != "" {
					log.Printf("[ws] клиент отключён шиной: %s", reason)
				}
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(gorilla.CloseMessage,
					gorilla.FormatCloseMessage(gorilla.ClosePolicyViolation, c.sub.Reason()))
				return
			}
			raw, err := encodeFrame(Frame{Type: string(ev.Kind), Data: ev.Data})
			if err != nil {
				log.Printf("[ws] событие %s не сериализуется: %v", ev.Kind, err)
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(gorilla.TextMessage, raw); err != nil {
				return
			}

		case <-c.pong:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(gorilla.TextMessage, []byte("pong")); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(gorilla.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
