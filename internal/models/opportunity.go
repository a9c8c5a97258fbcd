package models

import "time"

// ============================================================
// Типы арбитражных возможностей
// ============================================================

// ArbitrageOpportunity - простой межбиржевой арбитраж:
// купить по ask на одной бирже, продать по bid на другой
type ArbitrageOpportunity struct {
	Pair         string    `json:"pair"`
	BuyExchange  string    `json:"buy_exchange"`
	SellExchange string    `json:"sell_exchange"`
	BuyPrice     float64   `json:"buy_price"`
	SellPrice    float64   `json:"sell_price"`
	ProfitPct    float64   `json:"profit_percent"`
	Timestamp    time.Time `json:"timestamp"`
}

// TradeStep - один шаг пути (покупка или продажа пары на бирже)
type TradeStep struct {
	Exchange string  `json:"exchange,omitempty"`
	Pair     string  `json:"pair"`
	Side     string  `json:"side"` // buy | sell
	Price    float64 `json:"price"`
}

// TriangularOpportunity - треугольный арбитраж внутри одной биржи:
// трёхшаговый цикл сделок, возвращающийся к стартовой валюте
type TriangularOpportunity struct {
	Exchange     string      `json:"exchange"`
	BaseCurrency string      `json:"base_currency"`
	Steps        []TradeStep `json:"steps"`
	StartAmount  float64     `json:"start_amount"`
	EndAmount    float64     `json:"end_amount"`
	ProfitPct    float64     `json:"profit_percent"`
	Timestamp    time.Time   `json:"timestamp"`
}

// CrossExchangeOpportunity - треугольный путь через >= 2 бирж
// с неявными переводами между биржами
type CrossExchangeOpportunity struct {
	BaseCurrency   string      `json:"base_currency"`
	Steps          []TradeStep `json:"steps"`
	Exchanges      []string    `json:"exchanges"`
	StartAmount    float64     `json:"start_amount"`
	EndAmount      float64     `json:"end_amount"`
	ProfitPct      float64     `json:"profit_percent"`
	TransferTimeMs int64       `json:"estimated_transfer_time_ms"`
	RiskScore      float64     `json:"risk_score"`
	Timestamp      time.Time   `json:"timestamp"`
}

// Направления basis-арбитража
const (
	DirectionCashAndCarry     = "cash_and_carry"
	DirectionReverseCashCarry = "reverse_cash_carry"
)

// FuturesSpotOpportunity - арбитраж базиса перпетуала к споту
type FuturesSpotOpportunity struct {
	Exchange       string    `json:"exchange"`
	Symbol         string    `json:"symbol"`
	Direction      string    `json:"direction"`
	SpotPrice      float64   `json:"spot_price"`
	FuturesPrice   float64   `json:"futures_price"`
	BasisPct       float64   `json:"basis_percent"`
	FundingRate    float64   `json:"funding_rate"`
	AnnualizedRate float64   `json:"annualized_rate"`
	ZScore         float64   `json:"z_score"`
	Confidence     float64   `json:"confidence"`
	RiskLevel      string    `json:"risk_level"` // low | medium | high
	Timestamp      time.Time `json:"timestamp"`
}

// Направления DEX/CEX арбитража
const (
	DirectionDexToCex = "dex_to_cex"
	DirectionCexToDex = "cex_to_dex"
)

// DexCexOpportunity - арбитраж между AMM-пулом и централизованной биржей
type DexCexOpportunity struct {
	Dex          string    `json:"dex"`
	Chain        string    `json:"chain"`
	Cex          string    `json:"cex"`
	Pair         string    `json:"pair"`
	Direction    string    `json:"direction"`
	TradeSizeUSD float64   `json:"trade_size_usd"`
	GrossUSD     float64   `json:"gross_profit_usd"`
	GasCostUSD   float64   `json:"gas_cost_usd"`
	NetUSD       float64   `json:"net_profit_usd"`
	NetPct       float64   `json:"net_profit_percent"`
	PriceImpact  float64   `json:"price_impact"`
	LiquidityUSD float64   `json:"liquidity_usd"`
	MevRisk      string    `json:"mev_risk"` // low | medium | high
	Confidence   float64   `json:"confidence"`
	Timestamp    time.Time `json:"timestamp"`
}

// LatencyOpportunity - предсказание движения отставшего фида
// к консенсусу быстрых бирж
type LatencyOpportunity struct {
	StaleExchange    string    `json:"stale_exchange"`
	FastExchanges    []string  `json:"fast_exchanges"`
	Pair             string    `json:"pair"`
	StalePrice       float64   `json:"stale_price"`
	ConsensusPrice   float64   `json:"consensus_price"`
	PredictedMovePct float64   `json:"predicted_move_percent"`
	StalenessMs      float64   `json:"staleness_ms"`
	TimeWindowMs     float64   `json:"time_window_ms"`
	Direction        string    `json:"direction"` // long | short
	Confidence       float64   `json:"confidence"`
	RiskScore        float64   `json:"risk_score"`
	Timestamp        time.Time `json:"timestamp"`
}

// Сигналы статистического арбитража
const (
	SignalLongSpread  = "long_spread"
	SignalShortSpread = "short_spread"
	SignalNeutral     = "neutral"
)

// StatArbSignal - сигнал парного трейдинга по z-score спреда
type StatArbSignal struct {
	PairA       string    `json:"pair_a"`
	PairB       string    `json:"pair_b"`
	Exchange    string    `json:"exchange"`
	ZScore      float64   `json:"z_score"`
	Spread      float64   `json:"spread"`
	MeanSpread  float64   `json:"mean_spread"`
	StdSpread   float64   `json:"std_spread"`
	HalfLife    float64   `json:"half_life"`
	Correlation float64   `json:"correlation"`
	Signal      string    `json:"signal"`
	Confidence  float64   `json:"confidence"`
	Timestamp   time.Time `json:"timestamp"`
}

// Prediction - вероятностный прогноз появления арбитражной возможности
type Prediction struct {
	Pair        string    `json:"pair"`
	Probability float64   `json:"probability"`
	Confidence  float64   `json:"confidence"`
	HorizonMs   int64     `json:"horizon_ms"`
	Regime      string    `json:"regime"`
	Timestamp   time.Time `json:"timestamp"`
}

// Виды аномалий рынка
const (
	AnomalyPriceSpike = "price_spike"
	AnomalyDesync     = "exchange_desync"
	AnomalyStaleFeed  = "stale_feed"
)

// Anomaly - обнаруженная аномалия рыночных данных
type Anomaly struct {
	Kind      string    `json:"kind"`
	Exchange  string    `json:"exchange,omitempty"`
	Pair      string    `json:"pair"`
	Severity  float64   `json:"severity"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

// ConnectionStatus - уведомление о состоянии адаптера биржи
type ConnectionStatus struct {
	Exchange  string    `json:"exchange"`
	State     string    `json:"state"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
