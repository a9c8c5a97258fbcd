package bus

import (
	"sync"

	"arbscan/internal/models"
)

// ============================================================
// Opportunity Bus - типизированный fan-out событий
// ============================================================

// Значения по умолчанию для брокера подписчиков
const (
	DefaultQueueDepth           = 256
	DefaultDisconnectAfterDrops = 32
)

// CloseReasonSlowConsumer - код отключения подписчика, переполнившего
// очередь disconnect_after_drops раз подряд
const CloseReasonSlowConsumer = "slow_consumer"

// Bus публикует события всем подписчикам, чей фильтр пропускает тип
// события. Публикация неблокирующая: медленный подписчик теряет
// события по политике вытеснения своей очереди, но никогда не
// задерживает диспетчер.
type Bus struct {
	mu                   sync.RWMutex
	subs                 map[*Subscription]struct{}
	queueDepth           int
	disconnectAfterDrops int

	// onDrop вызывается при каждом вытеснении (для метрик)
	onDrop func(kind models.EventKind)
}

// New создаёт шину с параметрами очередей подписчиков
func New(queueDepth, disconnectAfterDrops int) *Bus {
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}
	if disconnectAfterDrops <= 0 {
		disconnectAfterDrops = DefaultDisconnectAfterDrops
	}
	return &Bus{
		subs:                 make(map[*Subscription]struct{}),
		queueDepth:           queueDepth,
		disconnectAfterDrops: disconnectAfterDrops,
	}
}

// OnDrop регистрирует hook вытеснения (счётчик broker_dropped)
func (b *Bus) OnDrop(fn func(kind models.EventKind)) {
	b.mu.Lock()
	b.onDrop = fn
	b.mu.Unlock()
}

// Subscribe создаёт подписку на перечисленные типы событий.
// Пустой список означает все типы.
func (b *Bus) Subscribe(kinds ...models.EventKind) *Subscription {
	var filter map[models.EventKind]bool
	if len(kinds) > 0 {
		filter = make(map[models.EventKind]bool, len(kinds))
		for _, k := range kinds {
			filter[k] = true
		}
	}

	sub := newSubscription(b, filter, b.queueDepth, b.disconnectAfterDrops)

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go sub.pump()
	return sub
}

// Publish рассылает событие подписчикам. Мёртвые подписчики
// молча убираются из шины.
func (b *Bus) Publish(e models.Event) {
	b.mu.RLock()
	onDrop := b.onDrop
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		if !s.wants(e.Kind) {
			continue
		}
		dropped, dead := s.enqueue(e)
		if dropped != "" && onDrop != nil {
			onDrop(dropped)
		}
		if dead {
			b.Unsubscribe(s)
		}
	}
}

// Unsubscribe убирает подписку из шины и закрывает её
func (b *Bus) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	_, ok := b.subs[s]
	delete(b.subs, s)
	b.mu.Unlock()

	if ok {
		s.close()
	}
}

// SubscriberCount возвращает число живых подписчиков
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
