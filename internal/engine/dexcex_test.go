package engine

import (
	"testing"
	"time"

	"arbscan/internal/models"
)

// stubPools отдаёт заранее сконструированные пулы
type stubPools struct {
	pools []DexPool
}

func (s stubPools) Pools(dexPair string, cexMid float64) []DexPool {
	return s.pools
}

func dexCtx(bid, ask float64) TickContext {
	now := time.Now()
	return TickContext{
		Update: models.PriceUpdate{Exchange: "binance", Pair: "ETH/USDT", Bid: bid, Ask: ask, Timestamp: now},
		Now:    now,
	}
}

// Пул с ценой из резервов: price = Reserve1/Reserve0
func poolAt(dex, chain string, price, feeTier, liquidityUSD, reserve0 float64) DexPool {
	return DexPool{
		Dex:          dex,
		Chain:        chain,
		Pair:         "WETH/USDC",
		Reserve0:     reserve0,
		Reserve1:     reserve0 * price,
		FeeTier:      feeTier,
		LiquidityUSD: liquidityUSD,
	}
}

func TestDexCexDexToCexDirection(t *testing.T) {
	// DEX дешевле CEX: купить в пуле, продать на бирже
	src := stubPools{pools: []DexPool{
		poolAt("PancakeSwap", "BSC", 2950, 0.003, 2000000, 10000),
	}}
	e := NewDexCexEngine(0.1, 50000, 0.005, src)

	events := e.Process(dexCtx(3004, 3006))
	if len(events) != 1 {
		t.Fatalf("ожидалось 1 событие, получено %d", len(events))
	}
	opp := events[0].Data.(models.DexCexOpportunity)
	if opp.Direction != models.DirectionDexToCex {
		t.Errorf("направление %s, ожидалось %s", opp.Direction, models.DirectionDexToCex)
	}
	if opp.Dex != "PancakeSwap" || opp.Cex != "binance" {
		t.Errorf("связка %s<->%s, ожидалось PancakeSwap<->binance", opp.Dex, opp.Cex)
	}
	// 1% ликвидности пула, в пределах конфигурационного максимума
	if opp.TradeSizeUSD != 20000 {
		t.Errorf("размер сделки %v, ожидалось 20000", opp.TradeSizeUSD)
	}
	if opp.NetPct < 0.1 {
		t.Errorf("чистый профит %v%% ниже порога", opp.NetPct)
	}
	if opp.NetUSD >= opp.GrossUSD {
		t.Errorf("чистый профит %v должен быть меньше грязного %v на газ", opp.NetUSD, opp.GrossUSD)
	}
}

func TestDexCexCexToDexDirection(t *testing.T) {
	// DEX дороже CEX: купить на бирже, продать в пуле
	src := stubPools{pools: []DexPool{
		poolAt("QuickSwap", "Polygon", 3060, 0.003, 2000000, 10000),
	}}
	e := NewDexCexEngine(0.1, 50000, 0.005, src)

	events := e.Process(dexCtx(3004, 3006))
	if len(events) != 1 {
		t.Fatalf("ожидалось 1 событие, получено %d", len(events))
	}
	opp := events[0].Data.(models.DexCexOpportunity)
	if opp.Direction != models.DirectionCexToDex {
		t.Errorf("направление %s, ожидалось %s", opp.Direction, models.DirectionCexToDex)
	}
}

func TestDexCexGasEatsProfit(t *testing.T) {
	// Цена пула почти равна CEX: на Ethereum газ съедает остаток
	src := stubPools{pools: []DexPool{
		poolAt("Uniswap_V2", "Ethereum", 3004, 0.003, 2000000, 10000),
	}}
	e := NewDexCexEngine(0.1, 50000, 0.005, src)

	if events := e.Process(dexCtx(3004, 3006)); len(events) != 0 {
		t.Errorf("убыточная после газа сделка опубликована: %d событий", len(events))
	}
}

func TestDexCexImpactRejected(t *testing.T) {
	// Мелкий пул: сделка двигает цену сильнее лимита
	src := stubPools{pools: []DexPool{
		poolAt("SushiSwap", "Ethereum", 2950, 0.003, 2000000, 100),
	}}
	e := NewDexCexEngine(0.1, 50000, 0.005, src)

	if events := e.Process(dexCtx(3004, 3006)); len(events) != 0 {
		t.Errorf("сделка с превышением price impact опубликована: %d событий", len(events))
	}
}

func TestDexCexGasPriceOverride(t *testing.T) {
	e := NewDexCexEngine(0.1, 50000, 0.005, nil)

	base := e.swapCostUSD("Ethereum")
	e.SetGasPriceGwei("ethereum", 60) // регистр имени сети не важен
	if got := e.swapCostUSD("Ethereum"); got != base*2 {
		t.Errorf("стоимость свопа %v, ожидалось удвоение от %v", got, base)
	}

	// Неположительные и неизвестные значения игнорируются
	e.SetGasPriceGwei("Ethereum", -1)
	if got := e.swapCostUSD("Ethereum"); got != base*2 {
		t.Errorf("отрицательный газ применился: %v", got)
	}
	e.SetGasPriceGwei("Solana", 10)
}

func TestDexCexUnmappedPairIgnored(t *testing.T) {
	src := stubPools{pools: []DexPool{
		poolAt("Uniswap_V2", "Ethereum", 2950, 0.003, 2000000, 10000),
	}}
	e := NewDexCexEngine(0.1, 50000, 0.005, src)

	now := time.Now()
	events := e.Process(TickContext{
		Update: models.PriceUpdate{Exchange: "binance", Pair: "DOGE/USDT", Bid: 0.1, Ask: 0.11, Timestamp: now},
		Now:    now,
	})
	if len(events) != 0 {
		t.Errorf("пара без DEX-соответствия опубликована: %d событий", len(events))
	}
}

func TestSimulatedDexPoolsShape(t *testing.T) {
	src := NewSimulatedDexPools(7)

	pools := src.Pools("WETH/USDC", 3000)
	if len(pools) != len(simDexConfigs) {
		t.Fatalf("ожидалось %d пулов, получено %d", len(simDexConfigs), len(pools))
	}
	for _, p := range pools {
		if p.Price() <= 0 {
			t.Errorf("пул %s: цена %v не положительна", p.Dex, p.Price())
		}
		if p.LiquidityUSD < 500000 || p.LiquidityUSD > 5000000 {
			t.Errorf("пул %s: ликвидность %v вне диапазона", p.Dex, p.LiquidityUSD)
		}
	}
}
