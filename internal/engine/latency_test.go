package engine

import (
	"math"
	"testing"
	"time"

	"arbscan/internal/models"
)

func latCtx(exchange string, mid float64, ts time.Time) TickContext {
	return TickContext{
		Update: models.PriceUpdate{Exchange: exchange, Pair: "BTC/USDT", Bid: mid - 1, Ask: mid + 1, Timestamp: ts},
		Now:    ts,
	}
}

// binance обновляется каждые 100 мс, coinbase молчит 1200 мс с ценой
// на 100 пунктов ниже: консенсус предсказывает движение вверх
func TestLatencyEngineDetectsStaleFeed(t *testing.T) {
	e := NewLatencyEngine(500, 0.05, 2000)
	t0 := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	// coinbase: 11 обновлений каждые 200 мс, последнее за 1200 мс до t0
	for i := 0; i <= 10; i++ {
		ts := t0.Add(time.Duration(-3200+200*i) * time.Millisecond)
		e.Process(latCtx("coinbase", 64900, ts))
	}
	// binance: 19 обновлений каждые 100 мс до t0, двадцатое в t0
	for i := 1; i < 20; i++ {
		ts := t0.Add(time.Duration(-2000+100*i) * time.Millisecond)
		e.Process(latCtx("binance", 65000, ts))
	}

	events := e.Process(latCtx("binance", 65000, t0))

	var opp models.LatencyOpportunity
	var found bool
	for _, ev := range events {
		if ev.Kind == models.KindLatency {
			opp = ev.Data.(models.LatencyOpportunity)
			found = true
		}
	}
	if !found {
		t.Fatal("отставший фид coinbase не обнаружен")
	}
	if opp.StaleExchange != "coinbase" {
		t.Errorf("отставшая биржа %s, ожидалось coinbase", opp.StaleExchange)
	}
	if opp.Direction != "long" {
		t.Errorf("направление %s, ожидалось long", opp.Direction)
	}
	want := (65000.0 - 64900.0) / 64900.0 * 100
	if math.Abs(opp.PredictedMovePct-want) > 1e-9 {
		t.Errorf("предсказанное движение %v%%, ожидалось %v%%", opp.PredictedMovePct, want)
	}
	if math.Abs(opp.PredictedMovePct-0.154) > 1e-3 {
		t.Errorf("предсказанное движение %v%%, ожидалось около +0.154%%", opp.PredictedMovePct)
	}
	if opp.StalenessMs != 1200 {
		t.Errorf("устаревание %v мс, ожидалось 1200", opp.StalenessMs)
	}
	if opp.ConsensusPrice != 65000 {
		t.Errorf("консенсус %v, ожидалось 65000", opp.ConsensusPrice)
	}
}

func TestLatencyEngineSmallDivergenceIgnored(t *testing.T) {
	e := NewLatencyEngine(500, 0.05, 2000)
	t0 := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	// Дивергенция 0.02% ниже минимума 0.05%
	for i := 0; i <= 10; i++ {
		ts := t0.Add(time.Duration(-3200+200*i) * time.Millisecond)
		e.Process(latCtx("coinbase", 64987, ts))
	}
	for i := 1; i < 20; i++ {
		ts := t0.Add(time.Duration(-2000+100*i) * time.Millisecond)
		e.Process(latCtx("binance", 65000, ts))
	}

	events := e.Process(latCtx("binance", 65000, t0))
	for _, ev := range events {
		if ev.Kind == models.KindLatency {
			t.Errorf("малая дивергенция опубликована: %+v", ev.Data)
		}
	}
}

func TestLatencyEngineFreshFeedsQuiet(t *testing.T) {
	e := NewLatencyEngine(500, 0.05, 2000)
	t0 := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	// Обе биржи свежие: некому отставать
	for i := 0; i < 20; i++ {
		ts := t0.Add(time.Duration(100*i) * time.Millisecond)
		e.Process(latCtx("binance", 65000, ts))
		e.Process(latCtx("coinbase", 64900, ts))
	}

	events := e.Process(latCtx("binance", 65000, t0.Add(2*time.Second)))
	for _, ev := range events {
		if ev.Kind == models.KindLatency {
			t.Errorf("свежие фиды породили событие: %+v", ev.Data)
		}
	}
}

func TestLatencyEngineNeedsMinHistory(t *testing.T) {
	e := NewLatencyEngine(500, 0.05, 2000)
	t0 := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	// У coinbase меньше 10 обновлений: фид не участвует в оценке
	for i := 0; i < 5; i++ {
		ts := t0.Add(time.Duration(-3000+200*i) * time.Millisecond)
		e.Process(latCtx("coinbase", 64900, ts))
	}
	for i := 1; i < 20; i++ {
		ts := t0.Add(time.Duration(-2000+100*i) * time.Millisecond)
		e.Process(latCtx("binance", 65000, ts))
	}

	events := e.Process(latCtx("binance", 65000, t0))
	for _, ev := range events {
		if ev.Kind == models.KindLatency {
			t.Errorf("фид без минимальной истории породил событие: %+v", ev.Data)
		}
	}
}
