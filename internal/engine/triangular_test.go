package engine

import (
	"math"
	"testing"
	"time"

	"arbscan/internal/models"
)

func triCtx(exchange, pair string, bid, ask float64) TickContext {
	now := time.Now()
	return TickContext{
		Update: models.PriceUpdate{Exchange: exchange, Pair: pair, Bid: bid, Ask: ask, Timestamp: now},
		Now:    now,
	}
}

// Путь USDT -> BTC -> ETH -> USDT по заданным ценам с комиссией 0.1%
// на каждом шаге
func TestTriangularEngineEvaluatesCycle(t *testing.T) {
	// Отрицательный порог: движок сохраняет и убыточные пути
	e := NewTriangularEngine(-100, 0.001, 10000)

	e.Process(triCtx("binance", "BTC/USDT", 65000, 65010))
	e.Process(triCtx("binance", "ETH/BTC", 0.054, 0.0541))
	e.Process(triCtx("binance", "ETH/USDT", 3510, 3511))

	want := 10000.0/65010.0/0.0541*3510*math.Pow(0.999, 3) - 10000
	wantPct := want / 10000 * 100

	var found bool
	for _, opp := range e.Opportunities() {
		if len(opp.Steps) != 3 {
			continue
		}
		if opp.Steps[0].Pair == "BTC/USDT" && opp.Steps[0].Side == "buy" &&
			opp.Steps[1].Pair == "ETH/BTC" && opp.Steps[1].Side == "buy" &&
			opp.Steps[2].Pair == "ETH/USDT" && opp.Steps[2].Side == "sell" {
			found = true
			if math.Abs(opp.ProfitPct-wantPct) > 1e-9 {
				t.Errorf("профит %v, ожидалось %v", opp.ProfitPct, wantPct)
			}
			if opp.BaseCurrency != "USDT" {
				t.Errorf("корневая валюта %s, ожидалось USDT", opp.BaseCurrency)
			}
			if math.Abs(opp.EndAmount-(10000+want)) > 1e-6 {
				t.Errorf("конечная сумма %v, ожидалось %v", opp.EndAmount, 10000+want)
			}
		}
	}
	if !found {
		t.Fatal("путь USDT->BTC->ETH->USDT не найден среди возможностей")
	}
}

func TestTriangularEngineEmitsProfitableCycle(t *testing.T) {
	e := NewTriangularEngine(0.1, 0.001, 10000)

	e.Process(triCtx("binance", "BTC/USDT", 50000, 50010))
	e.Process(triCtx("binance", "ETH/BTC", 0.05, 0.0501))
	events := e.Process(triCtx("binance", "ETH/USDT", 2600, 2601))

	var found bool
	for _, ev := range events {
		if ev.Kind != models.KindTriangular {
			continue
		}
		opp := ev.Data.(models.TriangularOpportunity)
		if opp.ProfitPct < 0.1 {
			t.Errorf("опубликован путь ниже порога: %v%%", opp.ProfitPct)
		}
		found = true
	}
	if !found {
		t.Fatal("прибыльный цикл не опубликован")
	}
}

func TestTriangularEngineNoEmitOnLoss(t *testing.T) {
	e := NewTriangularEngine(0.1, 0.001, 10000)

	e.Process(triCtx("binance", "BTC/USDT", 65000, 65010))
	e.Process(triCtx("binance", "ETH/BTC", 0.054, 0.0541))
	events := e.Process(triCtx("binance", "ETH/USDT", 3510, 3511))

	if len(events) != 0 {
		t.Errorf("убыточные цены не должны порождать события, получено %d", len(events))
	}
}

func TestTriangularEnginePathCacheRebuild(t *testing.T) {
	e := NewTriangularEngine(-100, 0.001, 10000)

	e.Process(triCtx("binance", "BTC/USDT", 65000, 65010))
	e.Process(triCtx("binance", "ETH/BTC", 0.054, 0.0541))
	if got := len(e.paths["binance"]); got != 0 {
		t.Fatalf("из двух пар цикл не строится, закешировано %d путей", got)
	}

	e.Process(triCtx("binance", "ETH/USDT", 3510, 3511))
	if got := len(e.paths["binance"]); got == 0 {
		t.Fatal("после третьей пары циклы должны появиться в кеше")
	}

	// Повторный тик той же пары кеш не трогает
	before := len(e.paths["binance"])
	e.Process(triCtx("binance", "ETH/USDT", 3512, 3513))
	if got := len(e.paths["binance"]); got != before {
		t.Errorf("кеш перестроен без изменения набора пар: %d -> %d", before, got)
	}
}
