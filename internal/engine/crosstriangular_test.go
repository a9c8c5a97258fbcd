package engine

import (
	"testing"
	"time"

	"arbscan/internal/models"
)

func crossCtx(exchange, pair string, bid, ask float64) TickContext {
	now := time.Now()
	return TickContext{
		Update: models.PriceUpdate{Exchange: exchange, Pair: pair, Bid: bid, Ask: ask, Timestamp: now},
		Now:    now,
	}
}

func TestCrossTriangularDetectsTwoExchangeCycle(t *testing.T) {
	e := NewCrossTriangularEngine(0.3, 120000, 10000, nil)

	e.Process(crossCtx("binance", "BTC/USDT", 65000, 65010))
	events := e.Process(crossCtx("kraken", "BTC/USDT", 65500, 65510))

	var found bool
	for _, ev := range events {
		if ev.Kind != models.KindCrossTri {
			continue
		}
		opp := ev.Data.(models.CrossExchangeOpportunity)
		if len(opp.Exchanges) < 2 {
			t.Errorf("путь должен затрагивать >= 2 бирж, получено %v", opp.Exchanges)
		}
		if opp.ProfitPct < 0.3 {
			t.Errorf("опубликован путь ниже порога: %v%%", opp.ProfitPct)
		}
		if opp.TransferTimeMs != 60000 {
			t.Errorf("время перевода %d мс, ожидалось 60000", opp.TransferTimeMs)
		}
		if opp.RiskScore < 0 || opp.RiskScore > 1 {
			t.Errorf("risk_score %v вне [0, 1]", opp.RiskScore)
		}
		found = true
	}
	if !found {
		t.Fatal("межбиржевой цикл не обнаружен")
	}
}

func TestCrossTriangularRejectsSlowTransfer(t *testing.T) {
	// binance <-> kraken переводится 60 секунд: лимит 30 отсекает путь
	e := NewCrossTriangularEngine(0.3, 30000, 10000, nil)

	e.Process(crossCtx("binance", "BTC/USDT", 65000, 65010))
	events := e.Process(crossCtx("kraken", "BTC/USDT", 65500, 65510))

	if len(events) != 0 {
		t.Errorf("путь с переводом дольше лимита опубликован: %d событий", len(events))
	}
}

func TestCrossTriangularSingleExchangeIgnored(t *testing.T) {
	e := NewCrossTriangularEngine(-100, 120000, 10000, nil)

	e.Process(crossCtx("binance", "BTC/USDT", 65000, 65010))
	e.Process(crossCtx("binance", "ETH/USDT", 3500, 3501))
	e.Process(crossCtx("binance", "ETH/BTC", 0.054, 0.0541))

	for _, opp := range e.Opportunities() {
		if len(opp.Exchanges) < 2 {
			t.Errorf("внутрибиржевой путь попал в межбиржевой движок: %v", opp.Exchanges)
		}
	}
}

func TestCrossTriangularFeeOverride(t *testing.T) {
	// Завышенная комиссия kraken убивает профит цикла
	e := NewCrossTriangularEngine(0.3, 120000, 10000, map[string]float64{"kraken": 0.05})

	e.Process(crossCtx("binance", "BTC/USDT", 65000, 65010))
	events := e.Process(crossCtx("kraken", "BTC/USDT", 65500, 65510))

	if len(events) != 0 {
		t.Errorf("цикл с комиссией 5%% не может быть прибыльным, получено %d событий", len(events))
	}
}

func TestCrossTriangularTopNotifyLimit(t *testing.T) {
	e := NewCrossTriangularEngine(-100, 120000, 10000, nil)

	e.Process(crossCtx("binance", "BTC/USDT", 65000, 65010))
	e.Process(crossCtx("binance", "ETH/USDT", 3500, 3501))
	e.Process(crossCtx("kraken", "BTC/USDT", 65500, 65510))
	events := e.Process(crossCtx("kraken", "ETH/USDT", 3530, 3531))

	if len(events) > crossTopNotify {
		t.Errorf("опубликовано %d событий, лимит %d", len(events), crossTopNotify)
	}
}
