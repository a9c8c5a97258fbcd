package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Ошибки валидации тиков
var (
	ErrInvalidBid  = errors.New("bid must be positive")
	ErrInvalidAsk  = errors.New("ask must be >= bid")
	ErrInvalidPair = errors.New("pair must be BASE/QUOTE uppercase")
)

// PriceUpdate - каноническая котировка от адаптера биржи
//
// Неизменяемое значение: создаётся адаптером, потребляется диспетчером.
// Инварианты: Bid > 0, Ask >= Bid, Pair в формате BASE/QUOTE (uppercase).
type PriceUpdate struct {
	Exchange  string    `json:"exchange"`
	Pair      string    `json:"pair"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Timestamp time.Time `json:"timestamp"`
}

// Mid возвращает среднюю цену (bid+ask)/2
func (p PriceUpdate) Mid() float64 {
	return (p.Bid + p.Ask) / 2
}

// Validate проверяет инварианты тика.
// Нарушение означает InvalidTick: тик считается и отбрасывается.
func (p PriceUpdate) Validate() error {
	if p.Bid <= 0 {
		return fmt.Errorf("%w: bid=%f", ErrInvalidBid, p.Bid)
	}
	if p.Ask < p.Bid {
		return fmt.Errorf("%w: bid=%f ask=%f", ErrInvalidAsk, p.Bid, p.Ask)
	}
	if !IsCanonicalPair(p.Pair) {
		return fmt.Errorf("%w: %q", ErrInvalidPair, p.Pair)
	}
	return nil
}

// IsCanonicalPair проверяет формат BASE/QUOTE uppercase (например "BTC/USDT")
func IsCanonicalPair(pair string) bool {
	base, quote, ok := strings.Cut(pair, "/")
	if !ok || base == "" || quote == "" {
		return false
	}
	return pair == strings.ToUpper(pair)
}

// ExchangeQuote - последняя котировка по ключу (pair, exchange)
//
// Создаётся при первом тике ключа, перезаписывается каждым следующим,
// никогда не удаляется в течение жизни процесса.
type ExchangeQuote struct {
	Exchange  string    `json:"exchange"`
	Pair      string    `json:"pair"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Mid       float64   `json:"mid"`
	SpreadPct float64   `json:"spread_pct"`
	Timestamp time.Time `json:"timestamp"`
}

// QuoteFromUpdate строит ExchangeQuote с производными полями
func QuoteFromUpdate(u PriceUpdate) ExchangeQuote {
	mid := u.Mid()
	spreadPct := 0.0
	if mid > 0 {
		spreadPct = (u.Ask - u.Bid) / mid * 100
	}
	return ExchangeQuote{
		Exchange:  u.Exchange,
		Pair:      u.Pair,
		Bid:       u.Bid,
		Ask:       u.Ask,
		Mid:       mid,
		SpreadPct: spreadPct,
		Timestamp: u.Timestamp,
	}
}

// Tick - одна запись кольцевого буфера (exchange, pair)
type Tick struct {
	Timestamp time.Time `json:"timestamp"`
	Mid       float64   `json:"mid"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
}

// OHLCV - агрегированная свеча по тикам
type OHLCV struct {
	Timestamp time.Time `json:"timestamp"`
	Exchange  string    `json:"exchange"`
	Pair      string    `json:"pair"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int       `json:"volume"`
	VWAP      float64   `json:"vwap"`
}
