package engine

import (
	"math"
	"sort"
	"sync"
	"time"

	"arbscan/internal/models"

	"arbscan/pkg/mathutil"
)

// ============================================================
// Латентный арбитраж (отставшие фиды)
// ============================================================

const (
	latencyFeedCap      = 200
	latencyMinFeedSize  = 10
	latencyHistoryCap   = 100
	latencyMinConsensus = 2
)

// Пороги устаревания фида по биржам, мс. Быстрые биржи обновляются
// чаще, поэтому их молчание значимее.
var stalenessThresholdsMs = map[string]float64{
	"binance":  500,
	"bybit":    500,
	"okx":      500,
	"kraken":   1000,
	"coinbase": 1000,
}

const defaultStalenessMs = 1000

// feedHistory - скользящая история обновлений одного фида
type feedHistory struct {
	prices     *floatRing
	timestamps []time.Time
	intervals  *floatRing // мс между обновлениями
}

func newFeedHistory() *feedHistory {
	return &feedHistory{
		prices:    newFloatRing(latencyFeedCap),
		intervals: newFloatRing(latencyFeedCap),
	}
}

func (f *feedHistory) add(price float64, ts time.Time) {
	if len(f.timestamps) > 0 {
		last := f.timestamps[len(f.timestamps)-1]
		f.intervals.push(float64(ts.Sub(last).Milliseconds()))
	}
	f.timestamps = append(f.timestamps, ts)
	if len(f.timestamps) > latencyFeedCap {
		copy(f.timestamps, f.timestamps[1:])
		f.timestamps = f.timestamps[:len(f.timestamps)-1]
	}
	f.prices.push(price)
}

func (f *feedHistory) lastUpdate() time.Time {
	if len(f.timestamps) == 0 {
		return time.Time{}
	}
	return f.timestamps[len(f.timestamps)-1]
}

// updateFrequencyHz - средняя частота обновлений по окну
func (f *feedHistory) updateFrequencyHz() float64 {
	if len(f.timestamps) < 2 {
		return 0
	}
	span := f.timestamps[len(f.timestamps)-1].Sub(f.timestamps[0]).Seconds()
	if span == 0 {
		return 0
	}
	return float64(len(f.timestamps)-1) / span
}

func (f *feedHistory) avgIntervalMs() float64 {
	if f.intervals.size == 0 {
		return 0
	}
	return mathutil.Mean(f.intervals.values())
}

type feedKey struct {
	exchange string
	pair     string
}

// feedMetrics - снапшот качества фида на момент проверки
type feedMetrics struct {
	exchange      string
	price         float64
	stalenessMs   float64
	thresholdMs   float64
	isStale       bool
	freqHz        float64
	avgIntervalMs float64
}

// LatencyEngine ловит моменты, когда фид одной биржи отстал, а
// консенсус быстрых бирж уже ушёл: отставшая цена с высокой
// вероятностью догонит консенсус после следующего обновления.
type LatencyEngine struct {
	minStalenessMs  float64
	minPriceDiffPct float64
	maxWindowMs     float64

	mu            sync.RWMutex
	feeds         map[feedKey]*feedHistory
	opportunities []models.LatencyOpportunity
	history       []models.LatencyOpportunity
}

// NewLatencyEngine создаёт движок с минимальным устареванием (мс),
// минимальной дивергенцией (%) и максимальным окном исполнения (мс)
func NewLatencyEngine(minStalenessMs, minPriceDiffPct, maxWindowMs float64) *LatencyEngine {
	return &LatencyEngine{
		minStalenessMs:  minStalenessMs,
		minPriceDiffPct: minPriceDiffPct,
		maxWindowMs:     maxWindowMs,
		feeds:           make(map[feedKey]*feedHistory),
	}
}

func (e *LatencyEngine) Name() string { return "latency" }

func (e *LatencyEngine) Process(tc TickContext) []models.Event {
	u := tc.Update

	e.mu.Lock()
	defer e.mu.Unlock()

	key := feedKey{exchange: u.Exchange, pair: u.Pair}
	feed, ok := e.feeds[key]
	if !ok {
		feed = newFeedHistory()
		e.feeds[key] = feed
	}
	feed.add(u.Mid(), tc.Now)

	return e.checkPair(u.Pair, tc)
}

// checkPair ищет отставшие фиды пары против консенсуса быстрых.
// Вызывается под mu.
func (e *LatencyEngine) checkPair(pair string, tc TickContext) []models.Event {
	metrics := make(map[string]feedMetrics)
	for key, feed := range e.feeds {
		if key.pair != pair || feed.prices.size < latencyMinFeedSize {
			continue
		}
		threshold, ok := stalenessThresholdsMs[key.exchange]
		if !ok {
			threshold = defaultStalenessMs
		}
		staleness := float64(tc.Now.Sub(feed.lastUpdate()).Milliseconds())
		metrics[key.exchange] = feedMetrics{
			exchange:      key.exchange,
			price:         feed.prices.last(),
			stalenessMs:   staleness,
			thresholdMs:   threshold,
			isStale:       staleness > threshold,
			freqHz:        feed.updateFrequencyHz(),
			avgIntervalMs: feed.avgIntervalMs(),
		}
	}
	if len(metrics) < latencyMinConsensus {
		return nil
	}

	var fastExchanges []string
	var fastPrices []float64
	var staleExchanges []string
	for ex, m := range metrics {
		switch {
		case m.isStale:
			staleExchanges = append(staleExchanges, ex)
		case m.stalenessMs < e.minStalenessMs:
			fastExchanges = append(fastExchanges, ex)
			fastPrices = append(fastPrices, m.price)
		}
	}
	if len(staleExchanges) == 0 || len(fastExchanges) == 0 {
		return nil
	}
	sort.Strings(fastExchanges)

	consensus := mathutil.Mean(fastPrices)

	var fresh []models.LatencyOpportunity
	for _, staleEx := range staleExchanges {
		m := metrics[staleEx]
		if m.price == 0 {
			continue
		}
		diffPct := (consensus - m.price) / m.price * 100
		if math.Abs(diffPct) < e.minPriceDiffPct {
			continue
		}

		direction := "long"
		if diffPct < 0 {
			direction = "short"
		}

		window := e.estimateWindowMs(m)
		if window > e.maxWindowMs {
			continue
		}

		fresh = append(fresh, models.LatencyOpportunity{
			StaleExchange:    staleEx,
			FastExchanges:    fastExchanges,
			Pair:             pair,
			StalePrice:       m.price,
			ConsensusPrice:   consensus,
			PredictedMovePct: diffPct,
			StalenessMs:      m.stalenessMs,
			TimeWindowMs:     window,
			Direction:        direction,
			Confidence:       e.confidence(m, fastPrices, diffPct),
			RiskScore:        e.riskScore(m, window, diffPct),
			Timestamp:        tc.Now,
		})
	}
	if len(fresh) == 0 {
		return nil
	}

	kept := e.opportunities[:0]
	for _, o := range e.opportunities {
		if o.Pair != pair {
			kept = append(kept, o)
		}
	}
	e.opportunities = append(kept, fresh...)
	sort.Slice(e.opportunities, func(i, j int) bool {
		return math.Abs(e.opportunities[i].PredictedMovePct) > math.Abs(e.opportunities[j].PredictedMovePct)
	})
	for _, o := range fresh {
		e.history = pushBounded(e.history, o, latencyHistoryCap)
	}

	events := make([]models.Event, 0, len(fresh))
	for _, o := range fresh {
		events = append(events, models.Event{Kind: models.KindLatency, Data: o})
	}
	return events
}

// estimateWindowMs оценивает остаток окна до следующего обновления
// отставшего фида
func (e *LatencyEngine) estimateWindowMs(m feedMetrics) float64 {
	expectedMs := 1000.0
	if m.freqHz > 0 {
		expectedMs = 1000 / m.freqHz
	}
	remaining := expectedMs*1.5 - m.stalenessMs
	if remaining < 0 {
		return 0
	}
	return remaining
}

// confidence: число быстрых бирж, величина дивергенции, явность
// устаревания и согласие быстрых цен между собой
func (e *LatencyEngine) confidence(m feedMetrics, fastPrices []float64, diffPct float64) float64 {
	consensusFactor := math.Min(1, float64(len(fastPrices))/3)
	diffFactor := math.Min(1, math.Abs(diffPct)/0.5)
	stalenessFactor := math.Min(1, m.stalenessMs/2000)

	agreementFactor := 0.5
	if len(fastPrices) > 1 {
		std := mathutil.SampleStdDev(fastPrices)
		mean := mathutil.Mean(fastPrices)
		if mean > 0 {
			agreementFactor = 1 - math.Min(1, std/mean*100)
		}
	}

	return mathutil.Clamp(
		0.25*consensusFactor+0.25*diffFactor+0.25*stalenessFactor+0.25*agreementFactor, 0, 1)
}

func (e *LatencyEngine) riskScore(m feedMetrics, windowMs, diffPct float64) float64 {
	timeRisk := 1 - math.Min(1, windowMs/1000)

	// Слишком большая дивергенция может быть ошибкой данных
	diffRisk := 0.1
	switch {
	case math.Abs(diffPct) > 0.5:
		diffRisk = 0.8
	case math.Abs(diffPct) > 0.2:
		diffRisk = 0.4
	}

	latencyRisk := 0.1
	switch {
	case m.avgIntervalMs > 500:
		latencyRisk = 0.6
	case m.avgIntervalMs > 200:
		latencyRisk = 0.3
	}

	return mathutil.Clamp(0.4*timeRisk+0.3*diffRisk+0.3*latencyRisk, 0, 1)
}

// Opportunities возвращает текущие возможности (топ-10)
func (e *LatencyEngine) Opportunities() []models.LatencyOpportunity {
	e.mu.RLock()
	defer e.mu.RUnlock()

	n := len(e.opportunities)
	if n > 10 {
		n = 10
	}
	out := make([]models.LatencyOpportunity, n)
	copy(out, e.opportunities[:n])
	return out
}

// FeedHealth возвращает снапшот здоровья фидов для API
func (e *LatencyEngine) FeedHealth(now time.Time) map[string]map[string]interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()

	health := make(map[string]map[string]interface{})
	for key, feed := range e.feeds {
		threshold, ok := stalenessThresholdsMs[key.exchange]
		if !ok {
			threshold = defaultStalenessMs
		}
		staleness := float64(now.Sub(feed.lastUpdate()).Milliseconds())
		byPair, ok := health[key.exchange]
		if !ok {
			byPair = make(map[string]interface{})
			health[key.exchange] = byPair
		}
		byPair[key.pair] = map[string]interface{}{
			"staleness_ms":        staleness,
			"is_stale":            staleness > threshold,
			"update_frequency_hz": feed.updateFrequencyHz(),
			"avg_interval_ms":     feed.avgIntervalMs(),
		}
	}
	return health
}

func (e *LatencyEngine) State() interface{} {
	e.mu.RLock()
	history := lastN(e.history, 20)
	feedCount := len(e.feeds)
	e.mu.RUnlock()

	return map[string]interface{}{
		"opportunities":   e.Opportunities(),
		"history":         history,
		"feeds_monitored": feedCount,
		"config": map[string]interface{}{
			"min_staleness_ms":       e.minStalenessMs,
			"min_price_diff_percent": e.minPriceDiffPct,
			"max_time_window_ms":     e.maxWindowMs,
		},
	}
}
