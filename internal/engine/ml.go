package engine

import (
	"fmt"
	"math"
	"sync"
	"time"

	"arbscan/internal/models"

	"arbscan/pkg/mathutil"
)

// ============================================================
// ML-движок: предсказания, аномалии, режимы рынка
// ============================================================

const (
	windowShort  = 10
	windowMedium = 50
	windowLong   = 200

	predictionHorizonMs = 500
	predictionNotifyMin = 0.5
	predictionsKept     = 100

	anomalyHistoryCap = 100

	regimeWindow    = 100
	regimeMinPoints = 20
	regimeVolCutoff = 0.005

	rsiPeriod       = 14
	macdFast        = 12
	macdSlow        = 26
	macdSignalSpan  = 9
	bollingerPeriod = 20
	bollingerStd    = 2.0
)

// Веса rule-based аппроксиматора градиентного бустинга
var predictorWeights = struct {
	velocity     float64
	acceleration float64
	volRatio     float64
	spreadZ      float64
	dispersion   float64
	rsi          float64
	macd         float64
	bollinger    float64
}{
	velocity:     0.15,
	acceleration: 0.15,
	volRatio:     0.20,
	spreadZ:      0.15,
	dispersion:   0.20,
	rsi:          0.05,
	macd:         0.05,
	bollinger:    0.05,
}

// mlFeatures - вектор признаков одной пары на момент тика.
// Индикаторные признаки нейтральны по умолчанию: RSI 50, положение
// в полосах Боллинджера 0.5.
type mlFeatures struct {
	velocity      float64
	acceleration  float64
	volShort      float64
	volLong       float64
	volRatio      float64
	spreadZ       float64
	dispersion    float64
	rsi           float64
	macdHistogram float64 // нормирован к последней цене
	bollinger     float64
	exchangeCount int
	updatesPerSec float64
}

// relStdDev - нормированное к среднему стандартное отклонение
// (population)
func relStdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := mathutil.Mean(values)
	if mean == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum/float64(len(values))) / mean
}

// lastPrice - последняя виденная цена фида и её время
type lastPrice struct {
	price float64
	ts    time.Time
}

// marketRegime - классификация состояния рынка пары
type marketRegime struct {
	Regime        string    `json:"regime"`
	Confidence    float64   `json:"confidence"`
	Volatility    float64   `json:"volatility"`
	TrendStrength float64   `json:"trend_strength"`
	Timestamp     time.Time `json:"timestamp"`
}

// MLEngine объединяет предсказатель возможностей, детектор аномалий
// и классификатор режимов. Предсказание публикуется, когда score
// превышает predictionNotifyMin; порог threshold разделяет сигналы
// HIGH/MEDIUM в состоянии.
type MLEngine struct {
	threshold float64

	mu sync.RWMutex

	// Предсказатель
	feeds       map[feedKey]*feedHistory
	spreads     map[string]*floatRing
	predictions []models.Prediction

	// Детектор аномалий
	staleThresholdS    float64
	spikeThresholdPct  float64
	desyncThresholdPct float64
	lastPrices         map[feedKey]lastPrice
	anomalies          []models.Anomaly

	// Классификатор режимов
	regimePrices map[string]*floatRing
	regimes      map[string]marketRegime
}

// NewMLEngine создаёт движок с порогом предсказаний и порогами
// детектора аномалий
func NewMLEngine(threshold, staleThresholdS, spikeThresholdPct, desyncThresholdPct float64) *MLEngine {
	return &MLEngine{
		threshold:          threshold,
		feeds:              make(map[feedKey]*feedHistory),
		spreads:            make(map[string]*floatRing),
		staleThresholdS:    staleThresholdS,
		spikeThresholdPct:  spikeThresholdPct,
		desyncThresholdPct: desyncThresholdPct,
		lastPrices:         make(map[feedKey]lastPrice),
		regimePrices:       make(map[string]*floatRing),
		regimes:      make(map[string]marketRegime),
	}
}

func (e *MLEngine) Name() string { return "ml" }

func (e *MLEngine) Process(tc TickContext) []models.Event {
	u := tc.Update
	mid := u.Mid()

	e.mu.Lock()
	defer e.mu.Unlock()

	key := feedKey{exchange: u.Exchange, pair: u.Pair}
	feed, ok := e.feeds[key]
	if !ok {
		feed = newFeedHistory()
		e.feeds[key] = feed
	}
	feed.add(mid, tc.Now)

	spreadRing, ok := e.spreads[u.Pair]
	if !ok {
		spreadRing = newFloatRing(windowLong)
		e.spreads[u.Pair] = spreadRing
	}
	spreadRing.push(u.Ask - u.Bid)

	var events []models.Event

	if a, ok := e.checkAnomaly(u.Exchange, u.Pair, mid, tc.Now); ok {
		events = append(events, models.Event{Kind: models.KindAnomaly, Data: a})
	}

	e.updateRegime(u.Pair, mid, tc.Now)

	if p, ok := e.predict(u.Pair, tc.Now); ok {
		events = append(events, models.Event{Kind: models.KindPrediction, Data: p})
	}

	return events
}

// ------------------------------------------------------------
// Предсказатель возможностей
// ------------------------------------------------------------

// predict считает score по взвешенным признакам и публикует
// предсказание выше predictionNotifyMin. Вызывается под mu.
func (e *MLEngine) predict(pair string, now time.Time) (models.Prediction, bool) {
	f := e.extractFeatures(pair, now)

	score := predictorWeights.velocity * math.Min(1, math.Abs(f.velocity)*100)
	score += predictorWeights.acceleration * math.Min(1, math.Abs(f.acceleration)*200)
	if f.volRatio > 1 {
		score += predictorWeights.volRatio * math.Min(1, f.volRatio-1)
	}
	score += predictorWeights.spreadZ * math.Min(1, math.Abs(f.spreadZ)/3)
	score += predictorWeights.dispersion * math.Min(1, f.dispersion*1000)
	// Индикаторы нормируются в [-1,1] относительно нейтрали
	score += predictorWeights.rsi * math.Abs(f.rsi-50) / 50
	score += predictorWeights.macd * math.Min(1, math.Abs(f.macdHistogram)*1000)
	score += predictorWeights.bollinger * math.Abs(f.bollinger*2-1)
	score = mathutil.Clamp(score, 0, 1)

	confidence := math.Min(1, float64(f.exchangeCount)/3) * math.Min(1, f.updatesPerSec/10)

	regime := "unknown"
	if r, ok := e.regimes[pair]; ok {
		regime = r.Regime
	}

	p := models.Prediction{
		Pair:        pair,
		Probability: score,
		Confidence:  confidence,
		HorizonMs:   predictionHorizonMs,
		Regime:      regime,
		Timestamp:   now,
	}
	e.predictions = pushBounded(e.predictions, p, predictionsKept)

	return p, score > predictionNotifyMin
}

// extractFeatures собирает вектор признаков пары. Вызывается под mu.
func (e *MLEngine) extractFeatures(pair string, now time.Time) mlFeatures {
	f := mlFeatures{rsi: 50, bollinger: 0.5}

	var latest []float64
	for key, feed := range e.feeds {
		if key.pair != pair || feed.prices.size == 0 {
			continue
		}
		latest = append(latest, feed.prices.last())
		f.exchangeCount++
		if hz := feed.updateFrequencyHz(); hz > f.updatesPerSec {
			f.updatesPerSec = hz
		}
	}
	if len(latest) == 0 {
		return f
	}
	if len(latest) > 1 {
		f.dispersion = relStdDev(latest)
	}

	// Ценовые признаки по первому фиду с достаточной историей
	for key, feed := range e.feeds {
		if key.pair != pair || feed.prices.size < windowShort {
			continue
		}
		prices := feed.prices.values()
		n := len(prices)

		if prices[n-2] != 0 {
			f.velocity = (prices[n-1] - prices[n-2]) / prices[n-2]
		}
		if n >= 3 && prices[n-3] != 0 {
			v1 := (prices[n-2] - prices[n-3]) / prices[n-3]
			f.acceleration = f.velocity - v1
		}

		f.volShort = relStdDev(prices[n-windowShort:])
		if n >= windowMedium {
			f.volLong = relStdDev(prices)
		}
		if f.volLong > 0 {
			f.volRatio = f.volShort / f.volLong
		}

		f.rsi = mathutil.RSI(prices, rsiPeriod)
		f.bollinger = mathutil.BollingerPosition(prices, bollingerPeriod, bollingerStd)
		if macd, signal := mathutil.MACD(prices, macdFast, macdSlow, macdSignalSpan); prices[n-1] != 0 {
			f.macdHistogram = (macd - signal) / prices[n-1]
		}
		break
	}

	if ring, ok := e.spreads[pair]; ok && ring.size >= windowShort {
		spreads := ring.values()
		mean := mathutil.Mean(spreads)
		var sum float64
		for _, s := range spreads {
			d := s - mean
			sum += d * d
		}
		std := math.Sqrt(sum / float64(len(spreads)))
		if std > 0 {
			f.spreadZ = (spreads[len(spreads)-1] - mean) / std
		}
	}

	return f
}

// ------------------------------------------------------------
// Детектор аномалий
// ------------------------------------------------------------

// checkAnomaly проверяет тик на скачок цены и рассинхронизацию с
// консенсусом остальных бирж. Вызывается под mu.
func (e *MLEngine) checkAnomaly(exchange, pair string, price float64, now time.Time) (models.Anomaly, bool) {
	key := feedKey{exchange: exchange, pair: pair}

	var anomaly models.Anomaly
	found := false

	if last, ok := e.lastPrices[key]; ok && last.price > 0 {
		changePct := math.Abs(price-last.price) / last.price * 100
		if changePct > e.spikeThresholdPct {
			anomaly = models.Anomaly{
				Kind:      models.AnomalyPriceSpike,
				Exchange:  exchange,
				Pair:      pair,
				Severity:  math.Min(1, changePct/5),
				Detail:    fmt.Sprintf("price moved %.2f%% in one tick (%.2f -> %.2f)", changePct, last.price, price),
				Timestamp: now,
			}
			found = true
		}
	}
	e.lastPrices[key] = lastPrice{price: price, ts: now}

	if !found {
		var prices []float64
		for k, lp := range e.lastPrices {
			if k.pair == pair {
				prices = append(prices, lp.price)
			}
		}
		if len(prices) > 1 {
			mean := mathutil.Mean(prices)
			if mean > 0 {
				deviationPct := math.Abs(price-mean) / mean * 100
				if deviationPct > e.desyncThresholdPct {
					anomaly = models.Anomaly{
						Kind:      models.AnomalyDesync,
						Exchange:  exchange,
						Pair:      pair,
						Severity:  math.Min(1, deviationPct/2),
						Detail:    fmt.Sprintf("%.2f%% off consensus %.2f", deviationPct, mean),
						Timestamp: now,
					}
					found = true
				}
			}
		}
	}

	if found {
		e.anomalies = pushBounded(e.anomalies, anomaly, anomalyHistoryCap)
	}
	return anomaly, found
}

// CheckStale обходит все фиды и репортит молчащие дольше порога.
// Вызывается диспетчером периодически, не на каждом тике.
func (e *MLEngine) CheckStale(now time.Time) []models.Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	var events []models.Event
	for key, lp := range e.lastPrices {
		age := now.Sub(lp.ts).Seconds()
		if age <= e.staleThresholdS {
			continue
		}
		a := models.Anomaly{
			Kind:      models.AnomalyStaleFeed,
			Exchange:  key.exchange,
			Pair:      key.pair,
			Severity:  math.Min(1, age/10),
			Detail:    fmt.Sprintf("no updates for %.1fs", age),
			Timestamp: now,
		}
		e.anomalies = pushBounded(e.anomalies, a, anomalyHistoryCap)
		events = append(events, models.Event{Kind: models.KindAnomaly, Data: a})
	}
	return events
}

// ------------------------------------------------------------
// Классификатор режимов рынка
// ------------------------------------------------------------

// updateRegime переклассифицирует режим пары. Вызывается под mu.
func (e *MLEngine) updateRegime(pair string, price float64, now time.Time) {
	ring, ok := e.regimePrices[pair]
	if !ok {
		ring = newFloatRing(regimeWindow)
		e.regimePrices[pair] = ring
	}
	ring.push(price)

	if ring.size < regimeMinPoints {
		return
	}

	prices := ring.values()
	mean := mathutil.Mean(prices)
	volatility := relStdDev(prices)
	slope := mathutil.LinearRegressionSlope(prices)

	trendStrength := 0.0
	if mean > 0 {
		trendStrength = math.Abs(slope) / mean
	}

	var regime string
	var confidence float64
	switch {
	case volatility > regimeVolCutoff:
		regime = "volatile"
		confidence = math.Min(1, volatility/0.01)
	case trendStrength > 0.0001:
		if slope > 0 {
			regime = "trending_up"
		} else {
			regime = "trending_down"
		}
		confidence = math.Min(1, trendStrength/0.0005)
	default:
		regime = "stable"
		confidence = 1 - volatility/regimeVolCutoff
	}

	e.regimes[pair] = marketRegime{
		Regime:        regime,
		Confidence:    confidence,
		Volatility:    volatility,
		TrendStrength: trendStrength,
		Timestamp:     now,
	}
}

// Regime возвращает текущий режим пары
func (e *MLEngine) Regime(pair string) (marketRegime, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.regimes[pair]
	return r, ok
}

// Predictions возвращает последние n предсказаний
func (e *MLEngine) Predictions(n int) []models.Prediction {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return lastN(e.predictions, n)
}

// Anomalies возвращает последние n аномалий
func (e *MLEngine) Anomalies(n int) []models.Anomaly {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return lastN(e.anomalies, n)
}

func (e *MLEngine) State() interface{} {
	e.mu.RLock()
	regimes := make(map[string]marketRegime, len(e.regimes))
	for pair, r := range e.regimes {
		regimes[pair] = r
	}
	e.mu.RUnlock()

	return map[string]interface{}{
		"predictions":    e.Predictions(10),
		"anomalies":      e.Anomalies(10),
		"market_regimes": regimes,
		"model_info": map[string]interface{}{
			"predictor": map[string]interface{}{
				"threshold":  e.threshold,
				"horizon_ms": predictionHorizonMs,
				"features": []string{
					"price_velocity", "price_acceleration", "volatility_ratio",
					"spread_z_score", "price_dispersion",
					"rsi_14", "macd_histogram", "bollinger_position",
				},
			},
			"anomaly_detector": map[string]interface{}{
				"stale_threshold_s":    e.staleThresholdS,
				"spike_threshold_pct":  e.spikeThresholdPct,
				"desync_threshold_pct": e.desyncThresholdPct,
			},
			"regime_classifier": map[string]interface{}{
				"window":  regimeWindow,
				"regimes": []string{"stable", "volatile", "trending_up", "trending_down"},
			},
		},
	}
}
