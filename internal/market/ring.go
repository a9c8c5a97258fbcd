package market

import (
	"sync"
	"time"

	"arbscan/internal/models"
)

// DefaultRingCapacity - ёмкость кольцевого буфера тиков по умолчанию
const DefaultRingCapacity = 500

// TickRing - ограниченный FIFO тиков фиксированной ёмкости.
// Push за O(1), старейшая запись вытесняется при переполнении.
// Не потокобезопасен сам по себе: синхронизацию даёт RingSet.
type TickRing struct {
	buf  []models.Tick
	head int // индекс старейшей записи
	size int
}

// NewTickRing создаёт кольцо ёмкости capacity
func NewTickRing(capacity int) *TickRing {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &TickRing{buf: make([]models.Tick, capacity)}
}

// Push добавляет тик, вытесняя старейший при переполнении
func (r *TickRing) Push(t models.Tick) {
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = t
		r.size++
		return
	}
	r.buf[r.head] = t
	r.head = (r.head + 1) % len(r.buf)
}

// Len возвращает число записей
func (r *TickRing) Len() int {
	return r.size
}

// Cap возвращает ёмкость кольца
func (r *TickRing) Cap() int {
	return len(r.buf)
}

// At возвращает запись по индексу: 0 - старейшая, Len()-1 - новейшая
func (r *TickRing) At(i int) models.Tick {
	return r.buf[(r.head+i)%len(r.buf)]
}

// Last возвращает новейшую запись
func (r *TickRing) Last() (models.Tick, bool) {
	if r.size == 0 {
		return models.Tick{}, false
	}
	return r.At(r.size - 1), true
}

// Snapshot возвращает копию записей от старых к новым
func (r *TickRing) Snapshot() []models.Tick {
	out := make([]models.Tick, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.At(i)
	}
	return out
}

// Mids возвращает ряд mid-цен от старых к новым
func (r *TickRing) Mids() []float64 {
	out := make([]float64, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.At(i).Mid
	}
	return out
}

// ============================================================
// RingSet - кольца по ключу (exchange, pair)
// ============================================================

// RingKey - ключ кольца
type RingKey struct {
	Exchange string
	Pair     string
}

// RingSet хранит TickRing для каждого ключа (exchange, pair).
// Пишет только диспетчер, читают движки и HTTP-обработчики.
type RingSet struct {
	mu       sync.RWMutex
	capacity int
	rings    map[RingKey]*TickRing
}

// NewRingSet создаёт набор колец заданной ёмкости
func NewRingSet(capacity int) *RingSet {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &RingSet{
		capacity: capacity,
		rings:    make(map[RingKey]*TickRing),
	}
}

// Push фиксирует тик в кольцо его ключа
func (rs *RingSet) Push(u models.PriceUpdate) {
	key := RingKey{Exchange: u.Exchange, Pair: u.Pair}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	ring, ok := rs.rings[key]
	if !ok {
		ring = NewTickRing(rs.capacity)
		rs.rings[key] = ring
	}
	ring.Push(models.Tick{
		Timestamp: u.Timestamp,
		Mid:       u.Mid(),
		Bid:       u.Bid,
		Ask:       u.Ask,
	})
}

// Snapshot возвращает копию тиков ключа от старых к новым
func (rs *RingSet) Snapshot(exchange, pair string) []models.Tick {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	ring, ok := rs.rings[RingKey{Exchange: exchange, Pair: pair}]
	if !ok {
		return nil
	}
	return ring.Snapshot()
}

// Mids возвращает ряд mid-цен ключа от старых к новым
func (rs *RingSet) Mids(exchange, pair string) []float64 {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	ring, ok := rs.rings[RingKey{Exchange: exchange, Pair: pair}]
	if !ok {
		return nil
	}
	return ring.Mids()
}

// Last возвращает новейший тик ключа
func (rs *RingSet) Last(exchange, pair string) (models.Tick, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	ring, ok := rs.rings[RingKey{Exchange: exchange, Pair: pair}]
	if !ok {
		return models.Tick{}, false
	}
	return ring.Last()
}

// Keys возвращает все известные ключи
func (rs *RingSet) Keys() []RingKey {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	keys := make([]RingKey, 0, len(rs.rings))
	for k := range rs.rings {
		keys = append(keys, k)
	}
	return keys
}

// Len возвращает число записей в кольце ключа
func (rs *RingSet) Len(exchange, pair string) int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	ring, ok := rs.rings[RingKey{Exchange: exchange, Pair: pair}]
	if !ok {
		return 0
	}
	return ring.Len()
}

// Aggregate агрегирует тики ключа в OHLCV-свечи с шагом interval
func (rs *RingSet) Aggregate(exchange, pair string, interval time.Duration) []models.OHLCV {
	ticks := rs.Snapshot(exchange, pair)
	if len(ticks) == 0 {
		return nil
	}
	return AggregateOHLCV(exchange, pair, ticks, interval)
}
