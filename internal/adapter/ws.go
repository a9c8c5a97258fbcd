package adapter

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"arbscan/internal/metrics"
	"arbscan/internal/models"
)

// ============================================================
// Общий websocket-цикл для биржевых адаптеров
// ============================================================

const (
	wsConnectTimeout = 10 * time.Second
	wsPingInterval   = 30 * time.Second
	wsPongTimeout    = 10 * time.Second
	wsWriteTimeout   = 5 * time.Second
)

// errSkipFrame помечает служебный фрейм (подтверждение подписки,
// heartbeat): не тик, но и не мусор
var errSkipFrame = errors.New("service frame")

// parseFunc разбирает сырой фрейм в канонический тик. errSkipFrame
// означает служебное сообщение, любая другая ошибка - битый фрейм.
type parseFunc func(raw []byte) (models.PriceUpdate, error)

// WSAdapter - websocket-адаптер биржи с автопереподключением.
// Конкретные биржи собираются конструкторами в файлах по имени биржи:
// они задают URL, сообщения подписки и парсер фреймов.
type WSAdapter struct {
	name      string
	url       string
	subscribe []interface{}
	parse     parseFunc

	handler Handler
	status  StatusFunc
	policy  ReconnectPolicy

	state stateVar
}

func (a *WSAdapter) Name() string { return a.name }

func (a *WSAdapter) State() State { return a.state.get() }

// Run держит соединение живым до отмены ctx. После policy.MaxAttempts
// неудачных подключений ПОДРЯД возвращает ErrGaveUp: сессия, дошедшая
// до потока тиков, обнуляет счётчик.
func (a *WSAdapter) Run(ctx context.Context) error {
	attempts := 0
	for {
		streamed, err := a.session(ctx)
		if ctx.Err() != nil {
			a.setState(StateDisconnected, attempts, nil)
			return ctx.Err()
		}
		if streamed {
			attempts = 0
		}
		attempts++
		metrics.AdapterReconnects.WithLabelValues(a.name).Inc()
		if attempts >= a.policy.MaxAttempts {
			log.Printf("[%s] превышен лимит переподключений (%d), адаптер остановлен: %v",
				a.name, a.policy.MaxAttempts, err)
			a.setState(StateGaveUp, attempts, err)
			return ErrGaveUp
		}
		a.setState(StateReconnecting, attempts, err)
		log.Printf("[%s] соединение потеряно (попытка %d/%d), пауза %v: %v",
			a.name, attempts, a.policy.MaxAttempts, a.policy.Delay, err)

		select {
		case <-ctx.Done():
			a.setState(StateDisconnected, attempts, nil)
			return ctx.Err()
		case <-time.After(a.policy.Delay):
		}
	}
}

// session - одно подключение: dial, подписка, чтение до первой ошибки.
// Возвращает признак того, что сессия дошла до потока тиков.
func (a *WSAdapter) session(ctx context.Context) (bool, error) {
	a.setState(StateConnecting, 0, nil)

	dialer := websocket.Dialer{HandshakeTimeout: wsConnectTimeout}
	conn, _, err := dialer.DialContext(ctx, a.url, nil)
	if err != nil {
		return false, &AdapterError{Exchange: a.name, Op: "dial", Err: err}
	}
	defer conn.Close()

	for _, msg := range a.subscribe {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			return false, &AdapterError{Exchange: a.name, Op: "subscribe", Err: err}
		}
	}
	a.setState(StateSubscribed, 0, nil)

	conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongTimeout))
		return nil
	})

	// Закрываем соединение при отмене ctx, чтобы разблокировать ReadMessage
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	streaming := false
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return streaming, &AdapterError{Exchange: a.name, Op: "read", Err: err}
		}
		u, perr := a.parse(raw)
		if perr != nil {
			if !errors.Is(perr, errSkipFrame) {
				metrics.MalformedMessages.WithLabelValues(a.name).Inc()
			}
			continue
		}
		if !streaming {
			streaming = true
			a.setState(StateStreaming, 0, nil)
		}
		a.handler(u)
	}
}

func (a *WSAdapter) setState(s State, attempts int, err error) {
	a.state.set(s)
	metrics.AdapterState.WithLabelValues(a.name).Set(float64(s))
	if a.status == nil {
		return
	}
	st := models.ConnectionStatus{
		Exchange:  a.name,
		State:     s.String(),
		Attempts:  attempts,
		Timestamp: time.Now(),
	}
	if err != nil {
		st.Error = err.Error()
	}
	a.status(st)
}
