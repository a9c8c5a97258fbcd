package adapter

import (
	"strconv"
	"time"

	"arbscan/internal/models"
)

// NewOKX - адаптер публичного канала tickers OKX v5
func NewOKX(pairs []string, handler Handler, status StatusFunc, policy ReconnectPolicy) *WSAdapter {
	symbols := venueSymbols(okxSymbols, pairs)
	fromVenue := invert(okxSymbols)

	args := make([]interface{}, 0, len(symbols))
	for _, s := range symbols {
		args = append(args, map[string]string{
			"channel": "tickers",
			"instId":  s,
		})
	}

	return &WSAdapter{
		name: "okx",
		url:  "wss://ws.okx.com:8443/ws/v5/public",
		subscribe: []interface{}{
			map[string]interface{}{
				"op":   "subscribe",
				"args": args,
			},
		},
		parse: func(raw []byte) (models.PriceUpdate, error) {
			var msg struct {
				Arg struct {
					InstID string `json:"instId"`
				} `json:"arg"`
				Data []struct {
					BidPx string `json:"bidPx"`
					AskPx string `json:"askPx"`
				} `json:"data"`
			}
			if err := json.Unmarshal(raw, &msg); err != nil {
				return models.PriceUpdate{}, err
			}
			if len(msg.Data) == 0 {
				// Подтверждения подписки и события канала идут без data
				return models.PriceUpdate{}, errSkipFrame
			}
			pair, ok := fromVenue[msg.Arg.InstID]
			if !ok {
				return models.PriceUpdate{}, errSkipFrame
			}
			bid, err := strconv.ParseFloat(msg.Data[0].BidPx, 64)
			if err != nil {
				return models.PriceUpdate{}, err
			}
			ask, err := strconv.ParseFloat(msg.Data[0].AskPx, 64)
			if err != nil {
				return models.PriceUpdate{}, err
			}
			return models.PriceUpdate{
				Exchange:  "okx",
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
