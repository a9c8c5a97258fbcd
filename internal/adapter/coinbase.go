package adapter

import (
	"strconv"
	"time"

	"arbscan/internal/models"
)

// NewCoinbase - адаптер канала ticker Coinbase Exchange
func NewCoinbase(pairs []string, handler Handler, status StatusFunc, policy ReconnectPolicy) *WSAdapter {
	symbols := venueSymbols(coinbaseSymbols, pairs)
	fromVenue := invert(coinbaseSymbols)

	return &WSAdapter{
		name: "coinbase",
		url:  "wss://ws-feed.exchange.coinbase.com",
		subscribe: []interface{}{
			map[string]interface{}{
				"type":        "subscribe",
				"product_ids": symbols,
				"channels":    []string{"ticker"},
			},
		},
		parse: func(raw []byte) (models.PriceUpdate, error) {
			var msg struct {
				Type      string `json:"type"`
				ProductID string `json:"product_id"`
				BestBid   string `json:"best_bid"`
				BestAsk   string `json:"best_ask"`
			}
			if err := json.Unmarshal(raw, &msg); err != nil {
				return models.PriceUpdate{}, err
			}
			if msg.Type != "ticker" {
				return models.PriceUpdate{}, errSkipFrame
			}
			pair, ok := fromVenue[msg.ProductID]
			if !ok {
				return models.PriceUpdate{}, errSkipFrame
			}
			bid, err := strconv.ParseFloat(msg.BestBid, 64)
			if err != nil {
				return models.PriceUpdate{}, err
			}
			ask, err := strconv.ParseFloat(msg.BestAsk, 64)
			if err != nil {
				return models.PriceUpdate{}, err
			}
			return models.PriceUpdate{
				Exchange:  "coinbase",
				Pair:      pair,
				Bid:       bid,
				Ask:       ask,
				Timestamp: time.Now(),
			}, nil
		},
		handler: handler,
		status:  status,
		policy:  policy,
	}
}
