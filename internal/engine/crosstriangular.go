package engine

import (
	"sort"
	"strings"
	"sync"

	"arbscan/internal/models"

	"arbscan/pkg/mathutil"
)

// ============================================================
// Межбиржевой треугольный арбитраж
// ============================================================

const (
	crossHistoryCap = 50
	crossMaxTrades  = 3
	crossMaxPaths   = 100
	crossTopNotify  = 5
)

// Оценка времени перевода между биржами, мс. Ключ - пара бирж
// в лексикографическом порядке.
var transferTimesMs = map[[2]string]int64{
	{"binance", "kraken"}:   60000,
	{"binance", "coinbase"}: 60000,
	{"binance", "bybit"}:    30000,
	{"binance", "okx"}:      30000,
	{"coinbase", "kraken"}:  90000,
	{"bybit", "kraken"}:     60000,
	{"kraken", "okx"}:       60000,
	{"bybit", "coinbase"}:   60000,
	{"coinbase", "okx"}:     60000,
	{"bybit", "okx"}:        30000,
}

const defaultTransferMs = 60000

// Торговые комиссии бирж (доли)
var defaultExchangeFees = map[string]float64{
	"binance":  0.001,
	"kraken":   0.002,
	"coinbase": 0.004,
	"bybit":    0.001,
	"okx":      0.001,
}

const fallbackExchangeFee = 0.001

// Корни межбиржевых циклов
var crossRootCurrencies = []string{"USDT", "USD", "USDC"}

// crossStep - сделка пути: биржа, пара, направление
type crossStep struct {
	exchange string
	pair     string
	side     string
}

type crossPath struct {
	root  string
	steps []crossStep
}

// CrossTriangularEngine ищет циклы из 2-3 сделок, начинающиеся и
// заканчивающиеся корневой валютой и затрагивающие >= 2 бирж.
// Перенос валюты между биржами считается неявным переводом с
// оценкой времени из статической таблицы; путь с суммарным временем
// переводов выше max_transfer_time_ms отбрасывается.
type CrossTriangularEngine struct {
	minProfitPct  float64
	maxTransferMs int64
	startAmount   float64
	fees          map[string]float64

	mu            sync.RWMutex
	prices        map[string]map[string]bidAsk
	paths         []crossPath
	pathsStale    bool
	opportunities []models.CrossExchangeOpportunity
	history       []models.CrossExchangeOpportunity
}

// NewCrossTriangularEngine создаёт движок. feeOverrides замещает
// комиссии отдельных бирж поверх таблицы по умолчанию.
func NewCrossTriangularEngine(minProfitPct float64, maxTransferMs int64, startAmount float64, feeOverrides map[string]float64) *CrossTriangularEngine {
	fees := make(map[string]float64, len(defaultExchangeFees))
	for ex, f := range defaultExchangeFees {
		fees[ex] = f
	}
	for ex, f := range feeOverrides {
		fees[ex] = f
	}
	return &CrossTriangularEngine{
		minProfitPct:  minProfitPct,
		maxTransferMs: maxTransferMs,
		startAmount:   startAmount,
		fees:          fees,
		prices:        make(map[string]map[string]bidAsk),
	}
}

func (e *CrossTriangularEngine) Name() string { return "cross_triangular" }

func (e *CrossTriangularEngine) Process(tc TickContext) []models.Event {
	u := tc.Update

	e.mu.Lock()
	defer e.mu.Unlock()

	byPair, ok := e.prices[u.Exchange]
	if !ok {
		byPair = make(map[string]bidAsk)
		e.prices[u.Exchange] = byPair
	}
	if _, known := byPair[u.Pair]; !known {
		e.pathsStale = true
	}
	byPair[u.Pair] = bidAsk{bid: u.Bid, ask: u.Ask}

	if len(e.prices) < 2 {
		return nil
	}
	if e.pathsStale {
		e.paths = e.enumeratePaths()
		e.pathsStale = false
	}

	var current []models.CrossExchangeOpportunity
	for _, p := range e.paths {
		if opp, ok := e.evaluatePath(p, tc); ok {
			current = append(current, opp)
		}
	}
	sort.Slice(current, func(i, j int) bool {
		return current[i].ProfitPct > current[j].ProfitPct
	})
	e.opportunities = current

	// Публикуются только лучшие пути выше порога
	var events []models.Event
	top := current
	if len(top) > crossTopNotify {
		top = top[:crossTopNotify]
	}
	for _, opp := range top {
		if opp.ProfitPct >= e.minProfitPct {
			e.history = pushBounded(e.history, opp, crossHistoryCap)
			events = append(events, models.Event{Kind: models.KindCrossTri, Data: opp})
		}
	}
	return events
}

// evaluatePath прогоняет сумму через цикл с комиссией биржи на каждой
// сделке и временем перевода между сменами бирж. Вызывается под mu.
func (e *CrossTriangularEngine) evaluatePath(p crossPath, tc TickContext) (models.CrossExchangeOpportunity, bool) {
	amount := e.startAmount
	var transferMs int64
	prevExchange := ""
	steps := make([]models.TradeStep, 0, len(p.steps))
	exchangeSet := make(map[string]bool, 3)

	for _, st := range p.steps {
		if prevExchange != "" && prevExchange != st.exchange {
			transferMs += transferTime(prevExchange, st.exchange)
		}
		prices, ok := e.prices[st.exchange][st.pair]
		if !ok || prices.bid <= 0 || prices.ask <= 0 {
			return models.CrossExchangeOpportunity{}, false
		}
		fee, ok := e.fees[st.exchange]
		if !ok {
			fee = fallbackExchangeFee
		}
		var price float64
		if st.side == "buy" {
			price = prices.ask
			amount = amount / price * (1 - fee)
		} else {
			price = prices.bid
			amount = amount * price * (1 - fee)
		}
		steps = append(steps, models.TradeStep{
			Exchange: st.exchange,
			Pair:     st.pair,
			Side:     st.side,
			Price:    price,
		})
		exchangeSet[st.exchange] = true
		prevExchange = st.exchange
	}

	if transferMs > e.maxTransferMs {
		return models.CrossExchangeOpportunity{}, false
	}

	profitPct := (amount - e.startAmount) / e.startAmount * 100
	if profitPct < e.minProfitPct {
		return models.CrossExchangeOpportunity{}, false
	}

	exchanges := make([]string, 0, len(exchangeSet))
	for ex := range exchangeSet {
		exchanges = append(exchanges, ex)
	}
	sort.Strings(exchanges)

	timeRisk := float64(transferMs) / float64(e.maxTransferMs)
	profitRisk := 1 - profitPct/1.0
	if profitRisk < 0 {
		profitRisk = 0
	}
	risk := mathutil.Clamp(
		0.3*float64(len(exchanges))/3+0.4*timeRisk+0.3*profitRisk, 0, 1)

	return models.CrossExchangeOpportunity{
		BaseCurrency:   p.root,
		Steps:          steps,
		Exchanges:      exchanges,
		StartAmount:    e.startAmount,
		EndAmount:      amount,
		ProfitPct:      profitPct,
		TransferTimeMs: transferMs,
		RiskScore:      risk,
		Timestamp:      tc.Now,
	}, true
}

// enumeratePaths перебирает циклы DFS'ом по глобальному валютному
// графу. Вызывается под mu при изменении набора пар.
func (e *CrossTriangularEngine) enumeratePaths() []crossPath {
	type edge struct {
		to   string
		step crossStep
	}
	edges := make(map[string][]edge)
	for exchange, byPair := range e.prices {
		for pair := range byPair {
			base, quote, ok := strings.Cut(pair, "/")
			if !ok {
				continue
			}
			edges[quote] = append(edges[quote], edge{to: base, step: crossStep{exchange: exchange, pair: pair, side: "buy"}})
			edges[base] = append(edges[base], edge{to: quote, step: crossStep{exchange: exchange, pair: pair, side: "sell"}})
		}
	}

	var paths []crossPath
	seen := make(map[string]bool)

	var dfs func(root, currency string, steps []crossStep)
	dfs = func(root, currency string, steps []crossStep) {
		if len(paths) >= crossMaxPaths {
			return
		}
		if len(steps) >= 2 && currency == root {
			exchanges := make(map[string]bool)
			for _, s := range steps {
				exchanges[s.exchange] = true
			}
			if len(exchanges) >= 2 {
				key := pathKey(steps)
				if !seen[key] {
					seen[key] = true
					paths = append(paths, crossPath{root: root, steps: append([]crossStep(nil), steps...)})
				}
			}
			return
		}
		if len(steps) >= crossMaxTrades {
			return
		}
		for _, ed := range edges[currency] {
			if usesPair(steps, ed.step.exchange, ed.step.pair) {
				continue
			}
			dfs(root, ed.to, append(steps, ed.step))
		}
	}

	for _, root := range crossRootCurrencies {
		dfs(root, root, nil)
	}
	return paths
}

func usesPair(steps []crossStep, exchange, pair string) bool {
	for _, s := range steps {
		if s.exchange == exchange && s.pair == pair {
			return true
		}
	}
	return false
}

func pathKey(steps []crossStep) string {
	var b strings.Builder
	for _, s := range steps {
		b.WriteString(s.exchange)
		b.WriteByte(':')
		b.WriteString(s.pair)
		b.WriteByte(':')
		b.WriteString(s.side)
		b.WriteByte('|')
	}
	return b.String()
}

func transferTime(ex1, ex2 string) int64 {
	key := [2]string{ex1, ex2}
	if key[0] > key[1] {
		key[0], key[1] = key[1], key[0]
	}
	if t, ok := transferTimesMs[key]; ok {
		return t
	}
	return defaultTransferMs
}

// Opportunities возвращает текущие возможности (топ-10)
func (e *CrossTriangularEngine) Opportunities() []models.CrossExchangeOpportunity {
	e.mu.RLock()
	defer e.mu.RUnlock()

	n := len(e.opportunities)
	if n > 10 {
		n = 10
	}
	out := make([]models.CrossExchangeOpportunity, n)
	copy(out, e.opportunities[:n])
	return out
}

func (e *CrossTriangularEngine) State() interface{} {
	e.mu.RLock()
	pathCount := len(e.paths)
	exchanges := make([]string, 0, len(e.prices))
	for ex := range e.prices {
		exchanges = append(exchanges, ex)
	}
	sort.Strings(exchanges)
	history := lastN(e.history, 20)
	e.mu.RUnlock()

	return map[string]interface{}{
		"opportunities":    e.Opportunities(),
		"history":          history,
		"paths_computed":   pathCount,
		"exchanges_active": exchanges,
		"config": map[string]interface{}{
			"min_cross_triangular_threshold": e.minProfitPct,
			"max_transfer_time_ms":           e.maxTransferMs,
		},
	}
}
