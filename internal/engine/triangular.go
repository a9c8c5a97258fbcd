package engine

import (
	"strings"
	"sync"

	"arbscan/internal/models"
)

// ============================================================
// Треугольный арбитраж внутри одной биржи
// ============================================================

const (
	triangularHistoryCap = 50
	triangularSteps      = 3
)

// Стартовые валюты циклов: фиат и стейблы
var rootCurrencies = []string{"USDT", "USD", "USDC", "BUSD"}

// bidAsk - пара цен для оценки пути
type bidAsk struct {
	bid float64
	ask float64
}

// pathStep - ребро валютного графа: пара и направление сделки
type pathStep struct {
	pair string
	side string // buy | sell
}

// triPath - закешированный трёхшаговый цикл
type triPath struct {
	root  string
	steps [triangularSteps]pathStep
}

// TriangularEngine перечисляет трёхшаговые циклы валютного графа
// каждой биржи и переоценивает их на каждом тике этой биржи.
//
// buy расходует quote-валюту по ask, sell - base-валюту по bid,
// комиссия trading_fee удерживается на каждом шаге:
//
//	buy:  amount = amount / ask * (1 - fee)
//	sell: amount = amount * bid * (1 - fee)
//
// Кеш путей инвалидируется при изменении набора пар биржи.
type TriangularEngine struct {
	minProfitPct float64
	tradingFee   float64
	startAmount  float64

	mu            sync.RWMutex
	prices        map[string]map[string]bidAsk // exchange -> pair -> цены
	paths         map[string][]triPath         // exchange -> кеш циклов
	opportunities map[string][]models.TriangularOpportunity
	history       []models.TriangularOpportunity
}

// NewTriangularEngine создаёт движок: порог в %, комиссия долей
// (0.001 = 0.1%), стартовая сумма в котируемой валюте
func NewTriangularEngine(minProfitPct, tradingFee, startAmount float64) *TriangularEngine {
	return &TriangularEngine{
		minProfitPct:  minProfitPct,
		tradingFee:    tradingFee,
		startAmount:   startAmount,
		prices:        make(map[string]map[string]bidAsk),
		paths:         make(map[string][]triPath),
		opportunities: make(map[string][]models.TriangularOpportunity),
	}
}

func (e *TriangularEngine) Name() string { return "triangular" }

func (e *TriangularEngine) Process(tc TickContext) []models.Event {
	u := tc.Update

	e.mu.Lock()
	defer e.mu.Unlock()

	byPair, ok := e.prices[u.Exchange]
	if !ok {
		byPair = make(map[string]bidAsk)
		e.prices[u.Exchange] = byPair
	}
	_, known := byPair[u.Pair]
	byPair[u.Pair] = bidAsk{bid: u.Bid, ask: u.Ask}

	// Новая пара меняет валютный граф биржи - кеш перестраивается
	if !known {
		e.paths[u.Exchange] = enumerateCycles(byPair)
	}

	var events []models.Event
	var current []models.TriangularOpportunity
	for _, p := range e.paths[u.Exchange] {
		opp, ok := e.evaluatePath(u.Exchange, p, tc)
		if !ok {
			continue
		}
		current = append(current, opp)
		if opp.ProfitPct >= e.minProfitPct {
			e.history = pushBounded(e.history, opp, triangularHistoryCap)
			events = append(events, models.Event{Kind: models.KindTriangular, Data: opp})
		}
	}
	e.opportunities[u.Exchange] = filterProfitable(current, e.minProfitPct)
	return events
}

// evaluatePath прогоняет стартовую сумму через цикл. Вызывается под mu.
func (e *TriangularEngine) evaluatePath(exchange string, p triPath, tc TickContext) (models.TriangularOpportunity, bool) {
	byPair := e.prices[exchange]
	amount := e.startAmount
	steps := make([]models.TradeStep, 0, triangularSteps)

	for _, st := range p.steps {
		prices, ok := byPair[st.pair]
		if !ok || prices.bid <= 0 || prices.ask <= 0 {
			return models.TriangularOpportunity{}, false
		}
		var price float64
		if st.side == "buy" {
			price = prices.ask
			amount = amount / price * (1 - e.tradingFee)
		} else {
			price = prices.bid
			amount = amount * price * (1 - e.tradingFee)
		}
		steps = append(steps, models.TradeStep{Pair: st.pair, Side: st.side, Price: price})
	}

	return models.TriangularOpportunity{
		Exchange:     exchange,
		BaseCurrency: p.root,
		Steps:        steps,
		StartAmount:  e.startAmount,
		EndAmount:    amount,
		ProfitPct:    (amount - e.startAmount) / e.startAmount * 100,
		Timestamp:    tc.Now,
	}, true
}

// Opportunities возвращает текущие прибыльные циклы по всем биржам
func (e *TriangularEngine) Opportunities() []models.TriangularOpportunity {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []models.TriangularOpportunity
	for _, opps := range e.opportunities {
		out = append(out, opps...)
	}
	return out
}

// History возвращает последние n записей истории
func (e *TriangularEngine) History(n int) []models.TriangularOpportunity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return lastN(e.history, n)
}

func (e *TriangularEngine) State() interface{} {
	e.mu.RLock()
	pathCounts := make(map[string]int, len(e.paths))
	for ex, paths := range e.paths {
		pathCounts[ex] = len(paths)
	}
	e.mu.RUnlock()

	return map[string]interface{}{
		"opportunities": e.Opportunities(),
		"history":       e.History(20),
		"paths":         pathCounts,
		"config": map[string]interface{}{
			"min_triangular_threshold": e.minProfitPct,
			"trading_fee":              e.tradingFee,
			"start_amount":             e.startAmount,
		},
	}
}

// enumerateCycles строит все трёхшаговые циклы из корневых валют
// по текущему набору пар
func enumerateCycles(byPair map[string]bidAsk) []triPath {
	// Рёбра: из quote можно купить base, из base - продать в quote
	type edge struct {
		to   string
		step pathStep
	}
	edges := make(map[string][]edge)
	for pair := range byPair {
		base, quote, ok := strings.Cut(pair, "/")
		if !ok {
			continue
		}
		edges[quote] = append(edges[quote], edge{to: base, step: pathStep{pair: pair, side: "buy"}})
		edges[base] = append(edges[base], edge{to: quote, step: pathStep{pair: pair, side: "sell"}})
	}

	var paths []triPath
	for _, root := range rootCurrencies {
		for _, e1 := range edges[root] {
			for _, e2 := range edges[e1.to] {
				// Возврат по той же паре не является циклом
				if e2.step.pair == e1.step.pair {
					continue
				}
				for _, e3 := range edges[e2.to] {
					if e3.to != root || e3.step.pair == e2.step.pair {
						continue
					}
					paths = append(paths, triPath{
						root:  root,
						steps: [triangularSteps]pathStep{e1.step, e2.step, e3.step},
					})
				}
			}
		}
	}
	return paths
}

func filterProfitable(opps []models.TriangularOpportunity, minPct float64) []models.TriangularOpportunity {
	var out []models.TriangularOpportunity
	for _, o := range opps {
		if o.ProfitPct >= minPct {
			out = append(out, o)
		}
	}
	return out
}
