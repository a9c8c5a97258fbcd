package engine

import (
	"sort"
	"sync"

	"arbscan/internal/models"
)

// ============================================================
// Простой межбиржевой арбитраж
// ============================================================

const simpleHistoryCap = 100

// Ключ возможности: направление между двумя биржами по паре
type simpleKey struct {
	pair string
	buy  string
	sell string
}

// SimpleEngine сравнивает котировки пары на всех биржах попарно:
// profit_pct = (bid_sell - ask_buy) / ask_buy * 100.
// Повторная оценка тройки (pair, buy, sell) замещает прежнюю запись.
type SimpleEngine struct {
	minProfitPct float64

	mu            sync.RWMutex
	opportunities map[simpleKey]models.ArbitrageOpportunity
	history       []models.ArbitrageOpportunity
}

// NewSimpleEngine создаёт движок с порогом min_profit_threshold (в %)
func NewSimpleEngine(minProfitPct float64) *SimpleEngine {
	return &SimpleEngine{
		minProfitPct:  minProfitPct,
		opportunities: make(map[simpleKey]models.ArbitrageOpportunity),
	}
}

func (e *SimpleEngine) Name() string { return "simple" }

func (e *SimpleEngine) Process(tc TickContext) []models.Event {
	u := tc.Update
	if len(tc.Quotes) < 2 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var events []models.Event
	this := tc.Quotes[u.Exchange]
	for other, q := range tc.Quotes {
		if other == u.Exchange {
			continue
		}
		// Купить на нашей бирже, продать на другой - и наоборот
		if opp, ok := e.evaluate(u.Pair, this, q, tc); ok {
			events = append(events, models.Event{Kind: models.KindSimpleOpp, Data: opp})
		}
		if opp, ok := e.evaluate(u.Pair, q, this, tc); ok {
			events = append(events, models.Event{Kind: models.KindSimpleOpp, Data: opp})
		}
	}
	return events
}

// evaluate оценивает направление buy->sell и обновляет таблицу
// возможностей. Вызывается под mu.
func (e *SimpleEngine) evaluate(pair string, buy, sell models.ExchangeQuote, tc TickContext) (models.ArbitrageOpportunity, bool) {
	key := simpleKey{pair: pair, buy: buy.Exchange, sell: sell.Exchange}

	profitPct := (sell.Bid - buy.Ask) / buy.Ask * 100
	if profitPct < e.minProfitPct {
		// Переоценка ниже порога снимает прежнюю возможность тройки
		delete(e.opportunities, key)
		return models.ArbitrageOpportunity{}, false
	}

	opp := models.ArbitrageOpportunity{
		Pair:         pair,
		BuyExchange:  buy.Exchange,
		SellExchange: sell.Exchange,
		BuyPrice:     buy.Ask,
		SellPrice:    sell.Bid,
		ProfitPct:    profitPct,
		Timestamp:    tc.Now,
	}
	e.opportunities[key] = opp
	e.history = pushBounded(e.history, opp, simpleHistoryCap)
	return opp, true
}

// Opportunities возвращает текущие возможности, отсортированные по
// убыванию профита; при равном профите раньше идёт более ранняя
func (e *SimpleEngine) Opportunities() []models.ArbitrageOpportunity {
	e.mu.RLock()
	defer e.mu.RUnlock()

	opps := make([]models.ArbitrageOpportunity, 0, len(e.opportunities))
	for _, o := range e.opportunities {
		opps = append(opps, o)
	}
	sort.Slice(opps, func(i, j int) bool {
		if opps[i].ProfitPct != opps[j].ProfitPct {
			return opps[i].ProfitPct > opps[j].ProfitPct
		}
		return opps[i].Timestamp.Before(opps[j].Timestamp)
	})
	return opps
}

// History возвращает последние n записей истории
func (e *SimpleEngine) History(n int) []models.ArbitrageOpportunity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return lastN(e.history, n)
}

func (e *SimpleEngine) State() interface{} {
	return map[string]interface{}{
		"opportunities": e.Opportunities(),
		"history":       e.History(20),
		"config": map[string]interface{}{
			"min_profit_threshold": e.minProfitPct,
		},
	}
}
