package engine

import (
	"math"
	"sort"
	"strings"
	"sync"

	"arbscan/internal/models"

	"arbscan/pkg/mathutil"
)

// ============================================================
// Арбитраж DEX/CEX
// ============================================================

const (
	dexHistoryCap   = 100
	dexMinTradeUSD  = 100
	dexLiquidityCut = 0.01 // доля ликвидности пула на одну сделку
)

// Соответствие пар CEX токенам AMM-пулов
var dexPairMapping = map[string]string{
	"BTC/USDT": "WBTC/USDC",
	"ETH/USDT": "WETH/USDC",
	"SOL/USDT": "SOL/USDC",
	"XRP/USDT": "XRP/USDC",
}

// chainConfig - параметры сети для оценки газа
type chainConfig struct {
	gasPriceGwei float64
	swapGasUnits float64
	nativeUSD    float64
}

var chainConfigs = map[string]chainConfig{
	"Ethereum": {gasPriceGwei: 30, swapGasUnits: 150000, nativeUSD: 3200},
	"BSC":      {gasPriceGwei: 5, swapGasUnits: 150000, nativeUSD: 300},
	"Polygon":  {gasPriceGwei: 100, swapGasUnits: 150000, nativeUSD: 300},
	"Arbitrum": {gasPriceGwei: 0.1, swapGasUnits: 150000, nativeUSD: 3200},
}

// DexPool - состояние пула ликвидности x*y=k
type DexPool struct {
	Dex          string
	Chain        string
	Pair         string
	Reserve0     float64 // base-токен
	Reserve1     float64 // quote-токен
	FeeTier      float64
	LiquidityUSD float64
}

// Price - спотовая цена пула из резервов
func (p DexPool) Price() float64 {
	if p.Reserve0 == 0 {
		return 0
	}
	return p.Reserve1 / p.Reserve0
}

// PriceImpact - упрощённая оценка влияния сделки на цену
func (p DexPool) PriceImpact(inputAmount float64, inputIsToken0 bool) float64 {
	reserve := p.Reserve1
	if inputIsToken0 {
		reserve = p.Reserve0
	}
	if reserve == 0 {
		return 1
	}
	return inputAmount / reserve
}

// DexPoolSource поставляет состояния пулов для DEX-пары
type DexPoolSource interface {
	Pools(dexPair string, cexMid float64) []DexPool
}

// DexCexEngine сравнивает цену AMM-пулов с котировкой CEX и считает
// чистую прибыль после комиссии пула, ценового влияния и газа:
//
//	dex_to_cex: eff = dex * (1 + fee + impact), gross = size * (cex_bid/eff - 1)
//	cex_to_dex: eff = dex * (1 - fee - impact), gross = size * (eff/cex_ask - 1)
//
// Возможности по (cex, pair) замещаются при каждой переоценке.
type DexCexEngine struct {
	minProfitPct    float64
	maxTradeSizeUSD float64
	maxPriceImpact  float64
	source          DexPoolSource
	chains          map[string]chainConfig

	mu            sync.RWMutex
	opportunities []models.DexCexOpportunity
	history       []models.DexCexOpportunity
}

// NewDexCexEngine создаёт движок. source может быть nil - тогда
// движок неактивен.
func NewDexCexEngine(minProfitPct, maxTradeSizeUSD, maxPriceImpact float64, source DexPoolSource) *DexCexEngine {
	chains := make(map[string]chainConfig, len(chainConfigs))
	for chain, cfg := range chainConfigs {
		chains[chain] = cfg
	}
	return &DexCexEngine{
		minProfitPct:    minProfitPct,
		maxTradeSizeUSD: maxTradeSizeUSD,
		maxPriceImpact:  maxPriceImpact,
		source:          source,
		chains:          chains,
	}
}

// SetGasPriceGwei переопределяет цену газа сети из конфига.
// Вызывается до запуска диспетчера, имя сети без учёта регистра.
func (e *DexCexEngine) SetGasPriceGwei(chain string, gwei float64) {
	if gwei <= 0 {
		return
	}
	for name, cfg := range e.chains {
		if strings.EqualFold(name, chain) {
			cfg.gasPriceGwei = gwei
			e.chains[name] = cfg
			return
		}
	}
}

func (e *DexCexEngine) Name() string { return "dex_cex" }

func (e *DexCexEngine) Process(tc TickContext) []models.Event {
	u := tc.Update
	if e.source == nil {
		return nil
	}
	dexPair, ok := dexPairMapping[u.Pair]
	if !ok {
		return nil
	}

	cexMid := u.Mid()
	pools := e.source.Pools(dexPair, cexMid)
	if len(pools) == 0 {
		return nil
	}

	var fresh []models.DexCexOpportunity
	for _, pool := range pools {
		if opp, ok := e.evaluatePool(pool, u, cexMid, tc); ok {
			fresh = append(fresh, opp)
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	e.mu.Lock()
	kept := e.opportunities[:0]
	for _, o := range e.opportunities {
		if o.Cex != u.Exchange || o.Pair != u.Pair {
			kept = append(kept, o)
		}
	}
	e.opportunities = append(kept, fresh...)
	sort.Slice(e.opportunities, func(i, j int) bool {
		return e.opportunities[i].NetPct > e.opportunities[j].NetPct
	})
	for _, o := range fresh {
		e.history = pushBounded(e.history, o, dexHistoryCap)
	}
	e.mu.Unlock()

	events := make([]models.Event, 0, len(fresh))
	for _, o := range fresh {
		events = append(events, models.Event{Kind: models.KindDexCex, Data: o})
	}
	return events
}

func (e *DexCexEngine) evaluatePool(pool DexPool, u models.PriceUpdate, cexMid float64, tc TickContext) (models.DexCexOpportunity, bool) {
	dexPrice := pool.Price()
	if dexPrice == 0 || cexMid == 0 {
		return models.DexCexOpportunity{}, false
	}

	tradeSize := e.tradeSize(pool)
	if tradeSize < dexMinTradeUSD {
		return models.DexCexOpportunity{}, false
	}

	impact := pool.PriceImpact(tradeSize/cexMid, true)
	if impact > e.maxPriceImpact {
		return models.DexCexOpportunity{}, false
	}

	gasCost := e.swapCostUSD(pool.Chain)

	var direction string
	var gross float64
	if dexPrice < cexMid {
		direction = models.DirectionDexToCex
		effective := dexPrice * (1 + pool.FeeTier + impact)
		gross = tradeSize * (u.Bid/effective - 1)
	} else {
		direction = models.DirectionCexToDex
		effective := dexPrice * (1 - pool.FeeTier - impact)
		gross = tradeSize * (effective/u.Ask - 1)
	}

	net := gross - gasCost
	netPct := net / tradeSize * 100
	if netPct < e.minProfitPct {
		return models.DexCexOpportunity{}, false
	}

	priceDiffPct := (dexPrice - cexMid) / cexMid * 100
	mevRisk := assessMevRisk(net, pool.Chain, priceDiffPct)

	return models.DexCexOpportunity{
		Dex:          pool.Dex,
		Chain:        pool.Chain,
		Cex:          u.Exchange,
		Pair:         u.Pair,
		Direction:    direction,
		TradeSizeUSD: tradeSize,
		GrossUSD:     gross,
		GasCostUSD:   gasCost,
		NetUSD:       net,
		NetPct:       netPct,
		PriceImpact:  impact,
		LiquidityUSD: pool.LiquidityUSD,
		MevRisk:      mevRisk,
		Confidence:   e.confidence(netPct, impact, pool.LiquidityUSD, mevRisk),
		Timestamp:    tc.Now,
	}, true
}

// tradeSize - доля ликвидности пула, ограниченная сверху конфигом
func (e *DexCexEngine) tradeSize(pool DexPool) float64 {
	size := pool.LiquidityUSD * dexLiquidityCut
	if size > e.maxTradeSizeUSD {
		size = e.maxTradeSizeUSD
	}
	if size < dexMinTradeUSD {
		return dexMinTradeUSD
	}
	return size
}

func (e *DexCexEngine) swapCostUSD(chain string) float64 {
	cfg, ok := e.chains[chain]
	if !ok {
		return 10
	}
	gasETH := cfg.swapGasUnits * cfg.gasPriceGwei / 1e9
	return gasETH * cfg.nativeUSD
}

// assessMevRisk оценивает риск сэндвич-атаки: крупный профит и
// Ethereum mainnet привлекают MEV-ботов сильнее всего
func assessMevRisk(profitUSD float64, chain string, priceDiffPct float64) string {
	if profitUSD > 500 {
		return "high"
	}
	if chain == "Ethereum" {
		if profitUSD > 100 || math.Abs(priceDiffPct) > 0.5 {
			return "high"
		}
		return "medium"
	}
	if chain == "Arbitrum" || chain == "Polygon" {
		if profitUSD < 200 {
			return "low"
		}
		return "medium"
	}
	return "medium"
}

func (e *DexCexEngine) confidence(netPct, impact, liquidityUSD float64, mevRisk string) float64 {
	profitFactor := mathutil.Clamp(netPct/1.0, 0, 1)
	impactFactor := 1 - mathutil.Clamp(impact/e.maxPriceImpact, 0, 1)
	liquidityFactor := mathutil.Clamp(liquidityUSD/1000000, 0, 1)

	mevFactor := 0.5
	switch mevRisk {
	case "low":
		mevFactor = 1.0
	case "medium":
		mevFactor = 0.6
	case "high":
		mevFactor = 0.3
	}

	return mathutil.Clamp(
		0.3*profitFactor+0.2*impactFactor+0.2*liquidityFactor+0.3*mevFactor, 0, 1)
}

// Opportunities возвращает текущие возможности (топ-10)
func (e *DexCexEngine) Opportunities() []models.DexCexOpportunity {
	e.mu.RLock()
	defer e.mu.RUnlock()

	n := len(e.opportunities)
	if n > 10 {
		n = 10
	}
	out := make([]models.DexCexOpportunity, n)
	copy(out, e.opportunities[:n])
	return out
}

func (e *DexCexEngine) State() interface{} {
	e.mu.RLock()
	history := lastN(e.history, 20)
	e.mu.RUnlock()

	gas := make(map[string]float64, len(e.chains))
	for chain := range e.chains {
		gas[chain] = e.swapCostUSD(chain)
	}

	return map[string]interface{}{
		"opportunities":     e.Opportunities(),
		"history":           history,
		"gas_estimates_usd": gas,
		"config": map[string]interface{}{
			"min_profit_percent": e.minProfitPct,
			"max_trade_size_usd": e.maxTradeSizeUSD,
			"max_price_impact":   e.maxPriceImpact,
		},
	}
}
