package engine

import (
	"testing"
	"time"

	"arbscan/internal/models"
)

func mlCtx(exchange, pair string, mid float64, ts time.Time) TickContext {
	return TickContext{
		Update: models.PriceUpdate{Exchange: exchange, Pair: pair, Bid: mid - 0.5, Ask: mid + 0.5, Timestamp: ts},
		Now:    ts,
	}
}

func newTestMLEngine() *MLEngine {
	return NewMLEngine(0.6, 3.0, 1.0, 0.5)
}

func TestMLAnomalyPriceSpike(t *testing.T) {
	e := newTestMLEngine()
	base := time.Now()

	e.Process(mlCtx("binance", "BTC/USDT", 65000, base))
	// +1.54% за один тик превышает порог 1%
	events := e.Process(mlCtx("binance", "BTC/USDT", 66000, base.Add(100*time.Millisecond)))

	var a models.Anomaly
	var found bool
	for _, ev := range events {
		if ev.Kind == models.KindAnomaly {
			a = ev.Data.(models.Anomaly)
			found = true
		}
	}
	if !found {
		t.Fatal("скачок цены не обнаружен")
	}
	if a.Kind != models.AnomalyPriceSpike {
		t.Errorf("вид аномалии %s, ожидалось %s", a.Kind, models.AnomalyPriceSpike)
	}
	if a.Exchange != "binance" || a.Pair != "BTC/USDT" {
		t.Errorf("атрибуция %s/%s неверна", a.Exchange, a.Pair)
	}
	if a.Severity <= 0 || a.Severity > 1 {
		t.Errorf("severity %v вне (0, 1]", a.Severity)
	}
}

func TestMLAnomalyDesync(t *testing.T) {
	e := newTestMLEngine()
	base := time.Now()

	e.Process(mlCtx("binance", "BTC/USDT", 65000, base))
	e.Process(mlCtx("kraken", "BTC/USDT", 65000, base))
	// Два шага по ~0.77%: каждый ниже порога скачка, но второй уводит
	// kraken на 0.76% от консенсуса
	e.Process(mlCtx("kraken", "BTC/USDT", 65500, base.Add(100*time.Millisecond)))
	events := e.Process(mlCtx("kraken", "BTC/USDT", 66000, base.Add(200*time.Millisecond)))

	var found bool
	for _, ev := range events {
		if ev.Kind != models.KindAnomaly {
			continue
		}
		a := ev.Data.(models.Anomaly)
		if a.Kind == models.AnomalyDesync && a.Exchange == "kraken" {
			found = true
		}
	}
	if !found {
		t.Fatal("рассинхронизация kraken с консенсусом не обнаружена")
	}
}

func TestMLCheckStale(t *testing.T) {
	e := newTestMLEngine()
	base := time.Now()

	e.Process(mlCtx("binance", "BTC/USDT", 65000, base))

	// Через 4 секунды молчания фид считается мёртвым (порог 3 с)
	events := e.CheckStale(base.Add(4 * time.Second))
	if len(events) != 1 {
		t.Fatalf("ожидалась 1 аномалия, получено %d", len(events))
	}
	a := events[0].Data.(models.Anomaly)
	if a.Kind != models.AnomalyStaleFeed {
		t.Errorf("вид аномалии %s, ожидалось %s", a.Kind, models.AnomalyStaleFeed)
	}

	// Свежий фид не репортится
	if events := e.CheckStale(base.Add(time.Second)); len(events) != 0 {
		t.Errorf("свежий фид помечен мёртвым: %d событий", len(events))
	}
}

func TestMLRegimeClassification(t *testing.T) {
	t.Run("волатильный рынок", func(t *testing.T) {
		e := newTestMLEngine()
		base := time.Now()
		for i := 0; i < 30; i++ {
			mid := 65000.0
			if i%2 == 1 {
				mid = 66300
			}
			e.Process(mlCtx("binance", "BTC/USDT", mid, base.Add(time.Duration(i)*100*time.Millisecond)))
		}
		r, ok := e.Regime("BTC/USDT")
		if !ok {
			t.Fatal("режим не классифицирован")
		}
		if r.Regime != "volatile" {
			t.Errorf("режим %s, ожидалось volatile (волатильность %v)", r.Regime, r.Volatility)
		}
	})

	t.Run("восходящий тренд", func(t *testing.T) {
		e := newTestMLEngine()
		base := time.Now()
		for i := 0; i < 30; i++ {
			mid := 65000 * (1 + 0.0005*float64(i))
			e.Process(mlCtx("binance", "BTC/USDT", mid, base.Add(time.Duration(i)*100*time.Millisecond)))
		}
		r, ok := e.Regime("BTC/USDT")
		if !ok {
			t.Fatal("режим не классифицирован")
		}
		if r.Regime != "trending_up" {
			t.Errorf("режим %s, ожидалось trending_up (тренд %v)", r.Regime, r.TrendStrength)
		}
	})

	t.Run("стабильный рынок", func(t *testing.T) {
		e := newTestMLEngine()
		base := time.Now()
		for i := 0; i < 30; i++ {
			e.Process(mlCtx("binance", "BTC/USDT", 65000, base.Add(time.Duration(i)*100*time.Millisecond)))
		}
		r, ok := e.Regime("BTC/USDT")
		if !ok {
			t.Fatal("режим не классифицирован")
		}
		if r.Regime != "stable" {
			t.Errorf("режим %s, ожидалось stable", r.Regime)
		}
	})

	t.Run("мало данных", func(t *testing.T) {
		e := newTestMLEngine()
		base := time.Now()
		for i := 0; i < 10; i++ {
			e.Process(mlCtx("binance", "BTC/USDT", 65000, base.Add(time.Duration(i)*100*time.Millisecond)))
		}
		if _, ok := e.Regime("BTC/USDT"); ok {
			t.Error("режим классифицирован до накопления минимума точек")
		}
	})
}

func TestMLIndicatorFeatures(t *testing.T) {
	e := newTestMLEngine()
	base := time.Now()

	// Монотонный рост по 0.1% за тик: ниже порога скачка, но 40 точек
	// хватает для RSI(14), MACD(12/26/9) и полос Боллинджера(20)
	price := 65000.0
	for i := 0; i < 40; i++ {
		e.Process(mlCtx("binance", "BTC/USDT", price, base.Add(time.Duration(i)*100*time.Millisecond)))
		price *= 1.001
	}

	e.mu.Lock()
	f := e.extractFeatures("BTC/USDT", base.Add(4*time.Second))
	e.mu.Unlock()

	if f.rsi != 100 {
		t.Errorf("RSI %v при монотонном росте, ожидалось 100", f.rsi)
	}
	if f.bollinger < 0.9 {
		t.Errorf("положение в полосах %v, при росте цена должна быть у верхней полосы", f.bollinger)
	}
	if f.macdHistogram <= 0 {
		t.Errorf("гистограмма MACD %v, при ускоряющемся росте ожидалась положительная", f.macdHistogram)
	}
}

func TestMLIndicatorDefaultsNeutral(t *testing.T) {
	e := newTestMLEngine()

	// Без истории индикаторы нейтральны и не накручивают score
	e.mu.Lock()
	f := e.extractFeatures("BTC/USDT", time.Now())
	e.mu.Unlock()

	if f.rsi != 50 {
		t.Errorf("RSI без данных %v, ожидалась нейтраль 50", f.rsi)
	}
	if f.bollinger != 0.5 {
		t.Errorf("положение в полосах без данных %v, ожидалось 0.5", f.bollinger)
	}
	if f.macdHistogram != 0 {
		t.Errorf("гистограмма MACD без данных %v, ожидался 0", f.macdHistogram)
	}
}

func TestMLPredictionsAccumulate(t *testing.T) {
	e := newTestMLEngine()
	base := time.Now()

	for i := 0; i < 20; i++ {
		mid := 65000 * (1 + 0.0001*float64(i))
		e.Process(mlCtx("binance", "BTC/USDT", mid, base.Add(time.Duration(i)*100*time.Millisecond)))
	}

	preds := e.Predictions(10)
	if len(preds) == 0 {
		t.Fatal("предсказания не накапливаются")
	}
	for _, p := range preds {
		if p.Probability < 0 || p.Probability > 1 {
			t.Errorf("вероятность %v вне [0, 1]", p.Probability)
		}
		if p.Confidence < 0 || p.Confidence > 1 {
			t.Errorf("confidence %v вне [0, 1]", p.Confidence)
		}
		if p.HorizonMs != predictionHorizonMs {
			t.Errorf("горизонт %d мс, ожидалось %d", p.HorizonMs, predictionHorizonMs)
		}
	}
}
