package adapter

import (
	"context"
	"math/rand"
	"time"

	"arbscan/internal/models"
)

// ============================================================
// Симулятор рынка
// ============================================================

// simBasePrices - стартовые цены случайного блуждания
var simBasePrices = map[string]float64{
	"BTC/USDT": 65000,
	"ETH/USDT": 3000,
	"SOL/USDT": 150,
	"XRP/USDT": 0.5,
}

var simExchanges = []string{"binance", "kraken", "coinbase", "bybit", "okx"}

const (
	simStepSigma   = 0.0005 // шаг случайного блуждания
	simOffsetSigma = 0.0003 // постоянный разброс между биржами
	simSpreadPct   = 0.0002 // полуспред bid/ask
	simShockProb   = 0.01   // вероятность инъекции расхождения
	simShockPct    = 0.004  // размер инъекции
)

// Simulator генерирует коррелированные случайные блуждания по всем
// биржам и парам. Изредка уводит одну биржу в сторону, чтобы в потоке
// появлялись настоящие арбитражные окна.
type Simulator struct {
	pairs    []string
	interval time.Duration
	handler  Handler
	rng      *rand.Rand

	prices  map[string]float64            // пара -> общая цена
	offsets map[string]map[string]float64 // пара -> биржа -> смещение
	state   stateVar
}

func NewSimulator(pairs []string, interval time.Duration, seed int64, handler Handler) *Simulator {
	s := &Simulator{
		pairs:    pairs,
		interval: interval,
		handler:  handler,
		rng:      rand.New(rand.NewSource(seed)),
		prices:   make(map[string]float64),
		offsets:  make(map[string]map[string]float64),
	}
	for _, p := range pairs {
		base, ok := simBasePrices[p]
		if !ok {
			base = 100
		}
		s.prices[p] = base
		s.offsets[p] = make(map[string]float64)
		for _, ex := range simExchanges {
			s.offsets[p][ex] = s.rng.NormFloat64() * simOffsetSigma
		}
	}
	return s
}

func (s *Simulator) Name() string { return "simulator" }

func (s *Simulator) State() State { return s.state.get() }

func (s *Simulator) Run(ctx context.Context) error {
	s.state.set(StateStreaming)
	defer s.state.set(StateDisconnected)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.step(now)
		}
	}
}

// step продвигает блуждание на один шаг и раздаёт тики по биржам
func (s *Simulator) step(now time.Time) {
	for _, pair := range s.pairs {
		s.prices[pair] *= 1 + s.rng.NormFloat64()*simStepSigma

		for _, ex := range simExchanges {
			// Смещение биржи медленно возвращается к нулю
			s.offsets[pair][ex] *= 0.99
			s.offsets[pair][ex] += s.rng.NormFloat64() * simOffsetSigma * 0.1
			if s.rng.Float64() < simShockProb {
				shock := simShockPct * (s.rng.Float64()*2 - 1)
				s.offsets[pair][ex] += shock
			}

			mid := s.prices[pair] * (1 + s.offsets[pair][ex])
			half := mid * simSpreadPct
			s.handler(models.PriceUpdate{
				Exchange:  ex,
				Pair:      pair,
				Bid:       mid - half,
				Ask:       mid + half,
				Timestamp: now,
			})
		}
	}
}
