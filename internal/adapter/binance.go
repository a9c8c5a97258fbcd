package adapter

import (
	"strconv"
	"strings"
	"time"

	"arbscan/internal/models"
)

// NewBinance - адаптер спотового стрима Binance (bookTicker)
func NewBinance(pairs []string, handler Handler, status StatusFunc, policy ReconnectPolicy) *WSAdapter {
	symbols := venueSymbols(binanceSymbols, pairs)
	fromVenue := make(map[string]string, len(symbols))
	for canonical, venue := range binanceSymbols {
		fromVenue[strings.ToUpper(venue)] = canonical
	}

	params := make([]string, 0, len(symbols))
	for _, s := range symbols {
		params = append(params, s+"@bookTicker")
	}

	return &WSAdapter{
		name: "binance",
		url:  "wss://stream.binance.com:9443/ws",
		subscribe: []interface{}{
			map[string]interface{}{
				"method": "SUBSCRIBE",
				"params": params,
				"id":     1,
			},
		},
		parse: func(raw []byte) (models.PriceUpdate, error) {
			var msg struct {
				Symbol string `json:"s"`
				Bid    string `json:"b"`
				Ask    string `json:"a"`
			}
			if err := json.Unmarshal(raw, &msg); err != nil {
				return models.PriceUpdate{}, err
			}
			if msg.Symbol == "" {
				// Подтверждение подписки приходит без поля s
				return models.PriceUpdate{}, errSkipFrame
			}
			pair, ok := fromVenue[msg.Symbol]
			if !ok {
				return models.PriceUpdate{}, errSkipFrame
			}
			bid, err := strconv.ParseFloat(msg.Bid, 64)
			if err != nil {
				return models.PriceUpdate{}, err
			}
			ask, err := strconv.ParseFloat(msg.Ask, 64)
			if err != nil {
				return models.PriceUpdate{}, err
			}
			return models.PriceUpdate{
				Exchange:  "binance",
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
