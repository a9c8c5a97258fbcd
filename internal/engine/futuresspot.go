package engine

import (
	"math"
	"sort"
	"sync"

	"arbscan/internal/models"

	"arbscan/pkg/mathutil"
)

// ============================================================
// Арбитраж базиса перпетуал/спот (funding rate)
// ============================================================

const (
	futuresHistoryCap    = 100
	futuresMinZPoints    = 10
	fundingPeriodsPerDay = 3
)

// Биржи с перпетуальными контрактами в симуляции
var perpExchanges = map[string]bool{
	"binance": true,
	"bybit":   true,
	"okx":     true,
}

// FundingData - ставка финансирования и марк-цена перпетуала
type FundingData struct {
	FundingRate float64
	MarkPrice   float64
}

// DerivativesSource поставляет данные перпетуала для биржи и пары.
// Возвращает false, если данных нет.
type DerivativesSource interface {
	Funding(exchange, pair string, spotMid float64) (FundingData, bool)
}

type futuresKey struct {
	exchange string
	pair     string
}

// FuturesSpotEngine детектирует funding-арбитраж: положительная
// ставка - cash_and_carry (шорт перпетуала, лонг спота), отрицательная -
// reverse_cash_carry. Возможность замещает прежнюю по той же паре
// (exchange, symbol).
type FuturesSpotEngine struct {
	minFundingRate float64
	minAnnualized  float64
	maxBasisPct    float64
	source         DerivativesSource

	mu            sync.RWMutex
	fundingHist   map[futuresKey]*floatRing
	opportunities map[futuresKey]models.FuturesSpotOpportunity
	history       []models.FuturesSpotOpportunity
}

// NewFuturesSpotEngine создаёт движок. source может быть nil - тогда
// движок неактивен (реальные деривативные фиды вне контура).
func NewFuturesSpotEngine(minFundingRate, minAnnualized, maxBasisPct float64, source DerivativesSource) *FuturesSpotEngine {
	return &FuturesSpotEngine{
		minFundingRate: minFundingRate,
		minAnnualized:  minAnnualized,
		maxBasisPct:    maxBasisPct,
		source:         source,
		fundingHist:    make(map[futuresKey]*floatRing),
		opportunities:  make(map[futuresKey]models.FuturesSpotOpportunity),
	}
}

func (e *FuturesSpotEngine) Name() string { return "futures_spot" }

func (e *FuturesSpotEngine) Process(tc TickContext) []models.Event {
	u := tc.Update
	if e.source == nil || !perpExchanges[u.Exchange] {
		return nil
	}

	spotMid := u.Mid()
	funding, ok := e.source.Funding(u.Exchange, u.Pair, spotMid)
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	key := futuresKey{exchange: u.Exchange, pair: u.Pair}
	ring, ok := e.fundingHist[key]
	if !ok {
		ring = newFloatRing(futuresHistoryCap)
		e.fundingHist[key] = ring
	}
	ring.push(funding.FundingRate)

	basisPct := (funding.MarkPrice - spotMid) / spotMid * 100
	if math.Abs(basisPct) > e.maxBasisPct {
		return nil
	}

	rate := funding.FundingRate
	annualized := rate * fundingPeriodsPerDay * 365 * 100

	var z float64
	if ring.size >= futuresMinZPoints {
		rates := ring.values()
		z = mathutil.ZScore(rate, mathutil.Mean(rates), mathutil.SampleStdDev(rates))
	}

	var direction string
	switch {
	case rate >= e.minFundingRate && annualized >= e.minAnnualized:
		direction = models.DirectionCashAndCarry
	case rate <= -e.minFundingRate && math.Abs(annualized) >= e.minAnnualized:
		direction = models.DirectionReverseCashCarry
	default:
		return nil
	}

	opp := models.FuturesSpotOpportunity{
		Exchange:       u.Exchange,
		Symbol:         u.Pair,
		Direction:      direction,
		SpotPrice:      spotMid,
		FuturesPrice:   funding.MarkPrice,
		BasisPct:       basisPct,
		FundingRate:    rate,
		AnnualizedRate: annualized,
		ZScore:         z,
		Confidence:     e.confidence(z, rate, basisPct),
		RiskLevel:      e.riskLevel(z, basisPct, rate),
		Timestamp:      tc.Now,
	}

	e.opportunities[key] = opp
	e.history = pushBounded(e.history, opp, futuresHistoryCap)
	return []models.Event{{Kind: models.KindFuturesSpot, Data: opp}}
}

// confidence: экстремальность z, узкий базис и высокая ставка
func (e *FuturesSpotEngine) confidence(z, rate, basisPct float64) float64 {
	zFactor := math.Min(1, math.Abs(z)/3)
	basisFactor := 1 - math.Min(1, math.Abs(basisPct)/e.maxBasisPct)
	rateFactor := math.Min(1, math.Abs(rate)/0.001)
	return 0.4*zFactor + 0.3*basisFactor + 0.3*rateFactor
}

func (e *FuturesSpotEngine) riskLevel(z, basisPct, rate float64) string {
	score := 0
	switch {
	case math.Abs(z) > 2.5:
		score += 2
	case math.Abs(z) > 1.5:
		score++
	}
	switch {
	case math.Abs(basisPct) > 0.3:
		score += 2
	case math.Abs(basisPct) > 0.1:
		score++
	}
	if math.Abs(rate) > 0.002 {
		score++
	}
	switch {
	case score >= 4:
		return "high"
	case score >= 2:
		return "medium"
	default:
		return "low"
	}
}

// Opportunities возвращает текущие возможности по убыванию
// годовой доходности
func (e *FuturesSpotEngine) Opportunities() []models.FuturesSpotOpportunity {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]models.FuturesSpotOpportunity, 0, len(e.opportunities))
	for _, o := range e.opportunities {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		return math.Abs(out[i].AnnualizedRate) > math.Abs(out[j].AnnualizedRate)
	})
	return out
}

func (e *FuturesSpotEngine) State() interface{} {
	e.mu.RLock()
	history := lastN(e.history, 20)
	e.mu.RUnlock()

	return map[string]interface{}{
		"opportunities": e.Opportunities(),
		"history":       history,
		"config": map[string]interface{}{
			"min_funding_rate":      e.minFundingRate,
			"min_annualized_return": e.minAnnualized,
			"max_basis_percent":     e.maxBasisPct,
		},
	}
}
