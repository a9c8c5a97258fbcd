package engine

import (
	"math"
	"sync"

	"arbscan/internal/models"
	"arbscan/pkg/mathutil"
)

// ============================================================
// Статистический арбитраж (парный трейдинг)
// ============================================================

const (
	statRingCap        = 500
	statSignalHistory  = 100
	statMinCorrPoints  = 10
	statHalfLifePoints = 50
)

// Отслеживаемые пары пар: сильно коррелированные активы
var defaultTrackedPairs = [][2]string{
	{"BTC/USDT", "ETH/USDT"},
	{"ETH/USDT", "SOL/USDT"},
	{"BTC/USDT", "SOL/USDT"},
}

type statPriceKey struct {
	exchange string
	pair     string
}

type statSpreadKey struct {
	exchange string
	pairA    string
	pairB    string
}

type floatRing struct {
	buf  []float64
	head int
	size int
}

func newFloatRing(cap int) *floatRing {
	return &floatRing{buf: make([]float64, cap)}
}

func (r *floatRing) push(v float64) {
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = v
		r.size++
		return
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
}

func (r *floatRing) values() []float64 {
	out := make([]float64, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

func (r *floatRing) last() float64 {
	if r.size == 0 {
		return 0
	}
	return r.buf[(r.head+r.size-1)%len(r.buf)]
}

// StatisticalEngine отслеживает отношение цен (spread = price_a/price_b)
// коррелированных пар и сигналит при выходе z-score за порог входа.
//
// Сигнал требует corr >= min_correlation и |z| >= z_entry:
// z >= +entry - short_spread (спред завышен, ожидается сужение),
// z <= -entry - long_spread. Сигнал замещает прежний по той же
// тройке (exchange, pair_a, pair_b).
type StatisticalEngine struct {
	zEntry     float64
	zExit      float64
	minCorr    float64
	minHistory int
	tracked    [][2]string

	mu         sync.RWMutex
	priceHist  map[statPriceKey]*floatRing
	spreadHist map[statSpreadKey]*floatRing
	signals    map[statSpreadKey]models.StatArbSignal
	history    []models.StatArbSignal
}

// NewStatisticalEngine создаёт движок с порогами z_entry/z_exit,
// минимальной корреляцией и минимальной длиной истории
func NewStatisticalEngine(zEntry, zExit, minCorr float64, minHistory int) *StatisticalEngine {
	return &StatisticalEngine{
		zEntry:     zEntry,
		zExit:      zExit,
		minCorr:    minCorr,
		minHistory: minHistory,
		tracked:    defaultTrackedPairs,
		priceHist:  make(map[statPriceKey]*floatRing),
		spreadHist: make(map[statSpreadKey]*floatRing),
		signals:    make(map[statSpreadKey]models.StatArbSignal),
	}
}

func (e *StatisticalEngine) Name() string { return "statistical" }

func (e *StatisticalEngine) Process(tc TickContext) []models.Event {
	u := tc.Update
	mid := u.Mid()

	e.mu.Lock()
	defer e.mu.Unlock()

	key := statPriceKey{exchange: u.Exchange, pair: u.Pair}
	ring, ok := e.priceHist[key]
	if !ok {
		ring = newFloatRing(statRingCap)
		e.priceHist[key] = ring
	}
	ring.push(mid)

	var events []models.Event
	for _, tp := range e.tracked {
		if u.Pair != tp[0] && u.Pair != tp[1] {
			continue
		}
		if sig, ok := e.updateSpread(u.Exchange, tp[0], tp[1], tc); ok {
			events = append(events, models.Event{Kind: models.KindStatArb, Data: sig})
		}
	}
	return events
}

// updateSpread пересчитывает спред тройки и решает, сигналить ли.
// Вызывается под mu.
func (e *StatisticalEngine) updateSpread(exchange, pairA, pairB string, tc TickContext) (models.StatArbSignal, bool) {
	histA, okA := e.priceHist[statPriceKey{exchange: exchange, pair: pairA}]
	histB, okB := e.priceHist[statPriceKey{exchange: exchange, pair: pairB}]
	if !okA || !okB {
		return models.StatArbSignal{}, false
	}
	if histA.size < e.minHistory || histB.size < e.minHistory {
		return models.StatArbSignal{}, false
	}

	priceB := histB.last()
	if priceB == 0 {
		return models.StatArbSignal{}, false
	}
	spread := histA.last() / priceB

	skey := statSpreadKey{exchange: exchange, pairA: pairA, pairB: pairB}
	sring, ok := e.spreadHist[skey]
	if !ok {
		sring = newFloatRing(statRingCap)
		e.spreadHist[skey] = sring
	}
	sring.push(spread)

	corr := mathutil.PearsonCorrelation(histA.values(), histB.values(), statMinCorrPoints)
	if corr < e.minCorr {
		return models.StatArbSignal{}, false
	}
	if sring.size < e.minHistory {
		return models.StatArbSignal{}, false
	}

	spreads := sring.values()
	mean := mathutil.Mean(spreads)
	std := mathutil.SampleStdDev(spreads)
	z := mathutil.ZScore(spread, mean, std)

	if math.Abs(z) < e.zEntry {
		return models.StatArbSignal{}, false
	}

	halfLife, hlOK := mathutil.OUHalfLife(spreads, statHalfLifePoints)

	sig := models.StatArbSignal{
		PairA:       pairA,
		PairB:       pairB,
		Exchange:    exchange,
		ZScore:      z,
		Spread:      spread,
		MeanSpread:  mean,
		StdSpread:   std,
		HalfLife:    halfLife,
		Correlation: corr,
		Signal:      e.determineSignal(z),
		Confidence:  e.confidence(z, halfLife, hlOK, corr),
		Timestamp:   tc.Now,
	}

	e.signals[skey] = sig
	e.history = pushBounded(e.history, sig, statSignalHistory)
	return sig, true
}

func (e *StatisticalEngine) determineSignal(z float64) string {
	switch {
	case z >= e.zEntry:
		return models.SignalShortSpread
	case z <= -e.zEntry:
		return models.SignalLongSpread
	default:
		return models.SignalNeutral
	}
}

// confidence взвешивает экстремальность z, скорость возврата к
// среднему и силу корреляции
func (e *StatisticalEngine) confidence(z, halfLife float64, hlOK bool, corr float64) float64 {
	zFactor := math.Min(1, math.Max(0.5, (math.Abs(z)-e.zEntry)/2+0.5))

	hlFactor := 0.3
	if hlOK && halfLife < float64(statHalfLifePoints) {
		hlFactor = math.Min(1, float64(statHalfLifePoints)/math.Max(1, halfLife))
	}

	corrFactor := mathutil.Clamp((corr-e.minCorr)/(1-e.minCorr), 0, 1)

	return 0.4*zFactor + 0.3*hlFactor + 0.3*corrFactor
}

// Signals возвращает текущие сигналы
func (e *StatisticalEngine) Signals() []models.StatArbSignal {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]models.StatArbSignal, 0, len(e.signals))
	for _, s := range e.signals {
		out = append(out, s)
	}
	return out
}

func (e *StatisticalEngine) State() interface{} {
	e.mu.RLock()
	history := lastN(e.history, 20)
	tracked := make([]map[string]string, 0, len(e.tracked))
	for _, tp := range e.tracked {
		tracked = append(tracked, map[string]string{"pair_a": tp[0], "pair_b": tp[1]})
	}
	e.mu.RUnlock()

	return map[string]interface{}{
		"signals":       e.Signals(),
		"history":       history,
		"tracked_pairs": tracked,
		"config": map[string]interface{}{
			"z_entry":         e.zEntry,
			"z_exit":          e.zExit,
			"min_correlation": e.minCorr,
			"min_history":     e.minHistory,
		},
	}
}
