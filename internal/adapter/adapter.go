package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"arbscan/internal/models"
)

// ============================================================
// Контракт адаптера биржи
// ============================================================

// ErrGaveUp - адаптер исчерпал попытки переподключения и мёртв до
// перезапуска оператором
var ErrGaveUp = errors.New("adapter gave up after max reconnect attempts")

// Handler принимает нормализованный тик. Не должен блокировать.
type Handler func(u models.PriceUpdate)

// StatusFunc получает уведомления о смене состояния адаптера
type StatusFunc func(st models.ConnectionStatus)

// Adapter - долгоживущий источник PriceUpdate для одной биржи.
// Адаптер не содержит арбитражной логики: его единственный выход -
// канонические тики через Handler.
type Adapter interface {
	// Name - имя биржи в нижнем регистре
	Name() string

	// Run ведёт цикл connect -> subscribe -> receive до отмены ctx.
	// Возвращает ErrGaveUp после исчерпания попыток переподключения.
	Run(ctx context.Context) error

	// State возвращает текущее состояние соединения
	State() State
}

// State - состояние жизненного цикла адаптера
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateStreaming
	StateReconnecting
	StateGaveUp
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateGaveUp:
		return "gave_up"
	default:
		return "unknown"
	}
}

// stateVar - атомарное состояние, читаемое из HTTP-обработчиков
type stateVar struct {
	v int32
}

func (s *stateVar) get() State      { return State(atomic.LoadInt32(&s.v)) }
func (s *stateVar) set(state State) { atomic.StoreInt32(&s.v, int32(state)) }

// AdapterError - ошибка адаптера с привязкой к бирже
type AdapterError struct {
	Exchange string
	Op       string
	Err      error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Exchange, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// ReconnectPolicy - параметры цикла переподключения
type ReconnectPolicy struct {
	Delay       time.Duration
	MaxAttempts int
}

// DefaultReconnectPolicy - пауза 5 секунд, до 10 попыток
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Delay:       5 * time.Second,
		MaxAttempts: 10,
	}
}
