package bus

import (
	"sync"

	"arbscan/internal/models"
)

// ============================================================
// Subscription - подписчик с ограниченной очередью
// ============================================================

// Subscription - один подписчик шины. Держит ограниченную исходящую
// очередь глубины queue_depth. При переполнении вытесняется старейшее
// событие низшего приоритета (PriceTick < Prediction < *Opp); после
// disconnect_after_drops вытеснений подряд подписчик отключается
// с кодом slow_consumer.
type Subscription struct {
	bus    *Bus
	filter map[models.EventKind]bool // nil = все типы

	mu               sync.Mutex
	queue            []models.Event
	depth            int
	consecutiveDrops int
	maxDrops         int
	droppedTotal     uint64
	closed           bool
	closeReason      string
	notify           chan struct{}
	done             chan struct{}

	out chan models.Event
}

func newSubscription(b *Bus, filter map[models.EventKind]bool, depth, maxDrops int) *Subscription {
	return &Subscription{
		bus:      b,
		filter:   filter,
		depth:    depth,
		maxDrops: maxDrops,
		queue:    make([]models.Event, 0, depth),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		out:      make(chan models.Event),
	}
}

// C - канал доставки событий. Закрывается при отключении подписки.
func (s *Subscription) C() <-chan models.Event {
	return s.out
}

// Close отключает подписку по инициативе потребителя
func (s *Subscription) Close() {
	s.bus.Unsubscribe(s)
}

// Reason возвращает код отключения (пусто если подписка жива
// или закрыта потребителем)
func (s *Subscription) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReason
}

// Dropped возвращает суммарное число вытесненных событий
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.droppedTotal
}

func (s *Subscription) wants(kind models.EventKind) bool {
	if s.filter == nil {
		return true
	}
	return s.filter[kind]
}

// enqueue кладёт событие в очередь, применяя политику вытеснения.
// Возвращает тип вытесненного события (пусто если вытеснения не было)
// и признак что подписчик превысил лимит и должен быть отключён.
func (s *Subscription) enqueue(e models.Event) (dropped models.EventKind, dead bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", false
	}

	if len(s.queue) < s.depth {
		s.queue = append(s.queue, e)
		s.consecutiveDrops = 0
		s.wake()
		return "", false
	}

	// Очередь полна: жертва - старейшее событие низшего приоритета
	// среди очереди и входящего события
	minPrio := e.Priority()
	victim := -1 // -1 означает входящее событие
	for i, q := range s.queue {
		if q.Priority() < minPrio {
			minPrio = q.Priority()
			victim = i
		}
	}

	if victim == -1 {
		dropped = e.Kind
	} else {
		dropped = s.queue[victim].Kind
		copy(s.queue[victim:], s.queue[victim+1:])
		s.queue[len(s.queue)-1] = e
		s.wake()
	}

	s.droppedTotal++
	s.consecutiveDrops++
	if s.consecutiveDrops >= s.maxDrops {
		s.closed = true
		s.closeReason = CloseReasonSlowConsumer
		close(s.done)
		return dropped, true
	}
	return dropped, false
}

// wake сигналит pump без блокировки
func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// close завершает подписку. Идемпотентен.
func (s *Subscription) close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	s.mu.Unlock()
}

// pump перекладывает события из очереди в исходящий канал.
// Блокировка на отправке медленному потребителю - точка
// приостановки брокера; очередь тем временем наполняет Publish.
func (s *Subscription) pump() {
	defer close(s.out)

	for {
		s.mu.Lock()
		var next models.Event
		have := len(s.queue) > 0
		if have {
			next = s.queue[0]
			copy(s.queue, s.queue[1:])
			s.queue = s.queue[:len(s.queue)-1]
		}
		closed := s.closed
		s.mu.Unlock()

		if have {
			select {
			case s.out <- next:
				continue
			case <-s.done:
				return
			}
		}
		if closed {
			return
		}
		select {
		case <-s.notify:
		case <-s.done:
			// Дренируем остаток очереди перед закрытием канала
			s.mu.Lock()
			empty := len(s.queue) == 0
			s.mu.Unlock()
			if empty {
				return
			}
		}
	}
}
