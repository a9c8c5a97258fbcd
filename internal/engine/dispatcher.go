package engine

import (
	"context"
	"log"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"arbscan/internal/bus"
	"arbscan/internal/market"
	"arbscan/internal/metrics"
	"arbscan/internal/models"
)

// ============================================================
// Диспетчер тиков
// ============================================================

const (
	// DefaultIngressDepth - ёмкость входной очереди тиков
	DefaultIngressDepth = 4096

	// DefaultEngineDeadline - бюджет одного движка на тик
	DefaultEngineDeadline = 25 * time.Millisecond

	staleSweepInterval = time.Second
)

// TickSink получает зафиксированные тики для фоновой записи.
// Enqueue не должен блокировать.
type TickSink interface {
	Enqueue(u models.PriceUpdate)
}

// Dispatcher - единственный писатель состояния пайплайна: снимает
// тики с входной очереди, валидирует, фиксирует в стор и кольца,
// публикует на шину и прогоняет через движки в фиксированном порядке.
//
// При переполнении входной очереди вытесняется старейший тик: свежая
// цена ценнее устаревшей. Паника движка изолируется, движок
// пропускает тик. Выход движка, превысившего дедлайн, отбрасывается.
type Dispatcher struct {
	store    *market.Store
	rings    *market.RingSet
	bus      *bus.Bus
	engines  []Engine
	sink     TickSink
	ml       *MLEngine
	deadline time.Duration

	ingress  chan models.PriceUpdate
	lastTick atomic.Int64 // UnixNano обработки последнего валидного тика

	wg sync.WaitGroup
}

// Option настраивает диспетчер
type Option func(*Dispatcher)

// WithSink подключает фоновую запись тиков
func WithSink(sink TickSink) Option {
	return func(d *Dispatcher) { d.sink = sink }
}

// WithDeadline меняет бюджет движка на тик
func WithDeadline(deadline time.Duration) Option {
	return func(d *Dispatcher) { d.deadline = deadline }
}

// WithIngressDepth меняет ёмкость входной очереди
func WithIngressDepth(depth int) Option {
	return func(d *Dispatcher) { d.ingress = make(chan models.PriceUpdate, depth) }
}

// NewDispatcher создаёт диспетчер. Порядок engines фиксирует порядок
// обработки каждого тика.
func NewDispatcher(store *market.Store, rings *market.RingSet, b *bus.Bus, engines []Engine, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:    store,
		rings:    rings,
		bus:      b,
		engines:  engines,
		deadline: DefaultEngineDeadline,
		ingress:  make(chan models.PriceUpdate, DefaultIngressDepth),
	}
	for _, eng := range engines {
		if ml, ok := eng.(*MLEngine); ok {
			d.ml = ml
		}
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Offer кладёт тик во входную очередь без блокировки. При
// переполнении вытесняется старейший тик очереди.
func (d *Dispatcher) Offer(u models.PriceUpdate) {
	select {
	case d.ingress <- u:
		return
	default:
	}

	select {
	case old := <-d.ingress:
		metrics.IngressDropped.WithLabelValues(old.Exchange, old.Pair).Inc()
	default:
	}

	select {
	case d.ingress <- u:
	default:
		metrics.IngressDropped.WithLabelValues(u.Exchange, u.Pair).Inc()
	}
}

// Run запускает цикл обработки. Блокирует до отмены ctx.
func (d *Dispatcher) Run(ctx context.Context) {
	d.wg.Add(1)
	defer d.wg.Done()

	staleSweep := time.NewTicker(staleSweepInterval)
	defer staleSweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case u := <-d.ingress:
			d.processTick(u)
		case <-staleSweep.C:
			if d.ml != nil {
				for _, ev := range d.ml.CheckStale(time.Now()) {
					d.bus.Publish(ev)
				}
			}
		}
	}
}

// Wait блокирует до завершения цикла обработки
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// LastTickAt возвращает момент обработки последнего валидного тика.
// Это время конвейера, не время рынка: при реплее архивных тиков
// метка остаётся свежей, пока диспетчер работает.
func (d *Dispatcher) LastTickAt() time.Time {
	ns := d.lastTick.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (d *Dispatcher) processTick(u models.PriceUpdate) {
	start := time.Now()

	if err := u.Validate(); err != nil {
		metrics.InvalidTicks.Inc()
		return
	}

	quotes := d.store.UpdateAndSnapshot(u)
	d.rings.Push(u)
	d.lastTick.Store(start.UnixNano())
	metrics.TicksProcessed.WithLabelValues(u.Exchange, u.Pair).Inc()

	d.bus.Publish(models.Event{
		Kind: models.KindPrice,
		Data: models.QuoteFromUpdate(u),
	})

	tc := TickContext{Update: u, Quotes: quotes, Now: start}
	for _, eng := range d.engines {
		d.runEngine(eng, tc)
	}

	if d.sink != nil {
		d.sink.Enqueue(u)
	}

	metrics.TickProcessing.Observe(time.Since(start).Seconds())
}

// runEngine прогоняет тик через один движок с изоляцией паники и
// контролем дедлайна
func (d *Dispatcher) runEngine(eng Engine, tc TickContext) {
	defer func() {
		if r := recover(); r != nil {
			metrics.EngineErrors.WithLabelValues(eng.Name()).Inc()
			log.Printf("engine %s: паника на тике %s %s: %v\n%s",
				eng.Name(), tc.Update.Exchange, tc.Update.Pair, r, debug.Stack())
		}
	}()

	started := time.Now()
	events := eng.Process(tc)
	elapsed := time.Since(started)
	metrics.EngineDuration.WithLabelValues(eng.Name()).Observe(elapsed.Seconds())

	if elapsed > d.deadline {
		metrics.EngineTimeouts.WithLabelValues(eng.Name()).Inc()
		log.Printf("engine %s: превышен дедлайн %v (%v), выход отброшен",
			eng.Name(), d.deadline, elapsed)
		return
	}

	for _, ev := range events {
		metrics.Opportunities.WithLabelValues(string(ev.Kind)).Inc()
		d.bus.Publish(ev)
	}
}
