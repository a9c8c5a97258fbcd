package engine

import (
	"math"
	"testing"
	"time"

	"arbscan/internal/models"
)

// stubDerivatives отдаёт фиксированную ставку и марк-цену с заданным
// множителем к споту
type stubDerivatives struct {
	rate       float64
	markFactor float64
}

func (s stubDerivatives) Funding(exchange, pair string, spotMid float64) (FundingData, bool) {
	return FundingData{FundingRate: s.rate, MarkPrice: spotMid * s.markFactor}, true
}

func futCtx(exchange string, bid, ask float64) TickContext {
	now := time.Now()
	return TickContext{
		Update: models.PriceUpdate{Exchange: exchange, Pair: "BTC/USDT", Bid: bid, Ask: ask, Timestamp: now},
		Now:    now,
	}
}

func TestFuturesSpotCashAndCarry(t *testing.T) {
	// 0.05% за период = 54.75% годовых при трёх начислениях в день
	e := NewFuturesSpotEngine(0.0001, 5.0, 0.5, stubDerivatives{rate: 0.0005, markFactor: 1.0002})

	events := e.Process(futCtx("binance", 65000, 65010))
	if len(events) != 1 {
		t.Fatalf("ожидалось 1 событие, получено %d", len(events))
	}
	opp := events[0].Data.(models.FuturesSpotOpportunity)
	if opp.Direction != models.DirectionCashAndCarry {
		t.Errorf("направление %s, ожидалось %s", opp.Direction, models.DirectionCashAndCarry)
	}
	wantAnnual := 0.0005 * 3 * 365 * 100
	if math.Abs(opp.AnnualizedRate-wantAnnual) > 1e-9 {
		t.Errorf("годовая ставка %v, ожидалось %v", opp.AnnualizedRate, wantAnnual)
	}
	wantBasis := 0.02
	if math.Abs(opp.BasisPct-wantBasis) > 1e-9 {
		t.Errorf("базис %v%%, ожидалось %v%%", opp.BasisPct, wantBasis)
	}
	if opp.RiskLevel != "low" && opp.RiskLevel != "medium" && opp.RiskLevel != "high" {
		t.Errorf("неизвестный уровень риска %q", opp.RiskLevel)
	}
}

func TestFuturesSpotReverseCashCarry(t *testing.T) {
	e := NewFuturesSpotEngine(0.0001, 5.0, 0.5, stubDerivatives{rate: -0.0005, markFactor: 0.9998})

	events := e.Process(futCtx("bybit", 65000, 65010))
	if len(events) != 1 {
		t.Fatalf("ожидалось 1 событие, получено %d", len(events))
	}
	opp := events[0].Data.(models.FuturesSpotOpportunity)
	if opp.Direction != models.DirectionReverseCashCarry {
		t.Errorf("направление %s, ожидалось %s", opp.Direction, models.DirectionReverseCashCarry)
	}
}

func TestFuturesSpotBelowMinFunding(t *testing.T) {
	e := NewFuturesSpotEngine(0.0001, 5.0, 0.5, stubDerivatives{rate: 0.00005, markFactor: 1.0001})

	if events := e.Process(futCtx("binance", 65000, 65010)); len(events) != 0 {
		t.Errorf("ставка ниже минимума опубликована: %d событий", len(events))
	}
}

func TestFuturesSpotWideBasisRejected(t *testing.T) {
	// Базис 1% при лимите 0.5%: рынок неэффективен, возможность не считается
	e := NewFuturesSpotEngine(0.0001, 5.0, 0.5, stubDerivatives{rate: 0.0005, markFactor: 1.01})

	if events := e.Process(futCtx("binance", 65000, 65010)); len(events) != 0 {
		t.Errorf("широкий базис опубликован: %d событий", len(events))
	}
}

func TestFuturesSpotUnsupportedExchange(t *testing.T) {
	e := NewFuturesSpotEngine(0.0001, 5.0, 0.5, stubDerivatives{rate: 0.0005, markFactor: 1.0002})

	if events := e.Process(futCtx("kraken", 65000, 65010)); len(events) != 0 {
		t.Errorf("биржа без перпетуалов опубликована: %d событий", len(events))
	}
}

func TestFuturesSpotReplacesPerKey(t *testing.T) {
	e := NewFuturesSpotEngine(0.0001, 5.0, 0.5, stubDerivatives{rate: 0.0005, markFactor: 1.0002})

	e.Process(futCtx("binance", 65000, 65010))
	e.Process(futCtx("binance", 65100, 65110))

	if got := len(e.Opportunities()); got != 1 {
		t.Errorf("ожидалась 1 возможность по ключу (binance, BTC/USDT), получено %d", got)
	}
}

func TestSimulatedDerivativesClamp(t *testing.T) {
	src := NewSimulatedDerivatives(42)

	for i := 0; i < 1000; i++ {
		fd, ok := src.Funding("binance", "BTC/USDT", 65000)
		if !ok {
			t.Fatal("симуляция не вернула данные")
		}
		if fd.FundingRate < -0.001 || fd.FundingRate > 0.003 {
			t.Fatalf("ставка %v вне диапазона [-0.001, 0.003]", fd.FundingRate)
		}
		if fd.MarkPrice <= 0 {
			t.Fatalf("марк-цена %v не положительна", fd.MarkPrice)
		}
	}
}
