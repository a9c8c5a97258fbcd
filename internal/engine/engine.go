// Package engine содержит детекторы арбитражных возможностей.
//
// Все движки вызываются синхронно диспетчером в фиксированном порядке
// и видят консистентный снапшот пары на момент тика. Движки никогда не
// вызывают друг друга и не делают блокирующий I/O; всё их состояние
// приватно и обновляется только из горутины диспетчера. State()
// читается HTTP-обработчиками конкурентно, поэтому защищён мьютексом
// внутри каждого движка.
package engine

import (
	"time"

	"arbscan/internal/models"
)

// TickContext - вход движка на одном тике: сам тик и снапшот
// котировок его пары по всем биржам (включая этот тик)
type TickContext struct {
	Update models.PriceUpdate
	Quotes map[string]models.ExchangeQuote
	Now    time.Time
}

// Engine - детектор, получающий каждый зафиксированный тик
type Engine interface {
	// Name - стабильное имя движка (метки метрик, логи)
	Name() string

	// Process обрабатывает тик и возвращает 0..K событий для шины
	Process(tc TickContext) []models.Event

	// State возвращает снапшот состояния для HTTP API
	State() interface{}
}

// pushBounded добавляет элемент в деку с ограничением длины,
// вытесняя старейший элемент
func pushBounded[T any](deque []T, item T, cap int) []T {
	deque = append(deque, item)
	if len(deque) > cap {
		copy(deque, deque[1:])
		deque = deque[:len(deque)-1]
	}
	return deque
}

// lastN возвращает копию последних n элементов
func lastN[T any](items []T, n int) []T {
	if len(items) > n {
		items = items[len(items)-n:]
	}
	out := make([]T, len(items))
	copy(out, items)
	return out
}
