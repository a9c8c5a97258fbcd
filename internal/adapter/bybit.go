package adapter

import (
	"strconv"
	"strings"
	"time"

	"arbscan/internal/models"
)

// NewBybit - адаптер публичного спотового стрима Bybit v5
func NewBybit(pairs []string, handler Handler, status StatusFunc, policy ReconnectPolicy) *WSAdapter {
	symbols := venueSymbols(bybitSymbols, pairs)
	fromVenue := invert(bybitSymbols)

	args := make([]string, 0, len(symbols))
	for _, s := range symbols {
		args = append(args, "tickers."+s)
	}

	return &WSAdapter{
		name: "bybit",
		url:  "wss://stream.bybit.com/v5/public/spot",
		subscribe: []interface{}{
			map[string]interface{}{
				"op":   "subscribe",
				"args": args,
			},
		},
		parse: func(raw []byte) (models.PriceUpdate, error) {
			var msg struct {
				Topic string `json:"topic"`
				Data  struct {
					Symbol    string `json:"symbol"`
					Bid1Price string `json:"bid1Price"`
					Ask1Price string `json:"ask1Price"`
				} `json:"data"`
			}
			if err := json.Unmarshal(raw, &msg); err != nil {
				return models.PriceUpdate{}, err
			}
			if !strings.HasPrefix(msg.Topic, "tickers.") {
				return models.PriceUpdate{}, errSkipFrame
			}
			pair, ok := fromVenue[msg.Data.Symbol]
			if !ok {
				return models.PriceUpdate{}, errSkipFrame
			}
			bid, err := strconv.ParseFloat(msg.Data.Bid1Price, 64)
			if err != nil {
				return models.PriceUpdate{}, err
			}
			ask, err := strconv.ParseFloat(msg.Data.Ask1Price, 64)
			if err != nil {
				return models.PriceUpdate{}, err
			}
			return models.PriceUpdate{
				Exchange:  "bybit",
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
