package engine

import (
	"testing"
	"time"

	"arbscan/internal/models"
)

func statCtx(exchange, pair string, mid float64, ts time.Time) TickContext {
	return TickContext{
		Update: models.PriceUpdate{Exchange: exchange, Pair: pair, Bid: mid - 0.5, Ask: mid + 0.5, Timestamp: ts},
		Now:    ts,
	}
}

// Спред двух коррелированных серий колеблется вокруг 1.0 со
// стандартным отклонением около 0.01; финальное значение 1.025
// выбрасывает z-score за порог входа 2.0 - шорт спреда
func TestStatisticalEngineShortSpreadSignal(t *testing.T) {
	e := NewStatisticalEngine(2.0, 0.5, 0.7, 100)
	base := time.Now()

	for i := 0; i < 200; i++ {
		ts := base.Add(time.Duration(i) * 100 * time.Millisecond)

		// Трендовая серия A держит корреляцию высокой
		a := 65000 * (1 + 0.001*float64(i))

		// Спред чередует +-1% вокруг единицы
		spread := 1.0 + 0.01
		if i%2 == 1 {
			spread = 1.0 - 0.01
		}
		b := a / spread

		e.Process(statCtx("binance", "BTC/USDT", a, ts))
		e.Process(statCtx("binance", "ETH/USDT", b, ts))
	}

	// Финальный тик выводит спред на 1.025
	lastA := 65000 * (1 + 0.001*199)
	events := e.Process(statCtx("binance", "ETH/USDT", lastA/1.025, base.Add(20*time.Second)))

	var sig models.StatArbSignal
	var found bool
	for _, ev := range events {
		if ev.Kind == models.KindStatArb {
			sig = ev.Data.(models.StatArbSignal)
			found = true
		}
	}
	if !found {
		t.Fatal("сигнал short_spread не опубликован")
	}
	if sig.Signal != models.SignalShortSpread {
		t.Errorf("сигнал %s, ожидалось %s", sig.Signal, models.SignalShortSpread)
	}
	if sig.ZScore < 2.0 || sig.ZScore > 3.0 {
		t.Errorf("z-score %v вне ожидаемого диапазона [2.0, 3.0]", sig.ZScore)
	}
	if sig.Correlation < 0.7 {
		t.Errorf("корреляция %v ниже минимума 0.7", sig.Correlation)
	}
	if sig.PairA != "BTC/USDT" || sig.PairB != "ETH/USDT" {
		t.Errorf("тройка %s/%s, ожидалось BTC/USDT и ETH/USDT", sig.PairA, sig.PairB)
	}
	if sig.Confidence < 0 || sig.Confidence > 1 {
		t.Errorf("confidence %v вне [0, 1]", sig.Confidence)
	}
}

func TestStatisticalEngineQuietWithinBand(t *testing.T) {
	e := NewStatisticalEngine(2.0, 0.5, 0.7, 100)
	base := time.Now()

	var events []models.Event
	for i := 0; i < 200; i++ {
		ts := base.Add(time.Duration(i) * 100 * time.Millisecond)
		a := 65000 * (1 + 0.001*float64(i))
		spread := 1.0 + 0.01
		if i%2 == 1 {
			spread = 1.0 - 0.01
		}
		events = append(events, e.Process(statCtx("binance", "BTC/USDT", a, ts))...)
		events = append(events, e.Process(statCtx("binance", "ETH/USDT", a/spread, ts))...)
	}

	// Спред не покидал +-1 sigma от среднего: сигналов быть не должно
	for _, ev := range events {
		if ev.Kind == models.KindStatArb {
			sig := ev.Data.(models.StatArbSignal)
			t.Errorf("неожиданный сигнал %s с z=%v", sig.Signal, sig.ZScore)
		}
	}
}

func TestStatisticalEngineNeedsHistory(t *testing.T) {
	e := NewStatisticalEngine(2.0, 0.5, 0.7, 100)
	base := time.Now()

	// 50 точек меньше min_history: любые выбросы игнорируются
	for i := 0; i < 50; i++ {
		ts := base.Add(time.Duration(i) * 100 * time.Millisecond)
		e.Process(statCtx("binance", "BTC/USDT", 65000, ts))
		events := e.Process(statCtx("binance", "ETH/USDT", 3500, ts))
		for _, ev := range events {
			if ev.Kind == models.KindStatArb {
				t.Fatal("сигнал опубликован до накопления минимальной истории")
			}
		}
	}
	if got := len(e.Signals()); got != 0 {
		t.Errorf("таблица сигналов должна быть пуста, в ней %d", got)
	}
}
