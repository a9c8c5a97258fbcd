package adapter

import (
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"

	"arbscan/internal/models"
)

// NewKraken - адаптер публичного канала ticker Kraken (протокол v1).
// Тики приходят массивом [channelID, payload, "ticker", "XBT/USDT"],
// служебные сообщения - объектами с полем event.
func NewKraken(pairs []string, handler Handler, status StatusFunc, policy ReconnectPolicy) *WSAdapter {
	symbols := venueSymbols(krakenSymbols, pairs)
	fromVenue := invert(krakenSymbols)

	return &WSAdapter{
		name: "kraken",
		url:  "wss://ws.kraken.com",
		subscribe: []interface{}{
			map[string]interface{}{
				"event": "subscribe",
				"pair":  symbols,
				"subscription": map[string]string{
					"name": "ticker",
				},
			},
		},
		parse: func(raw []byte) (models.PriceUpdate, error) {
			root := jsoniter.Get(raw)
			if root.ValueType() != jsoniter.ArrayValue {
				// Объекты - это event-сообщения (heartbeat, systemStatus)
				return models.PriceUpdate{}, errSkipFrame
			}
			if root.Size() < 4 {
				return models.PriceUpdate{}, errSkipFrame
			}
			pair, ok := fromVenue[root.Get(3).ToString()]
			if !ok {
				return models.PriceUpdate{}, errSkipFrame
			}
			// b и a - массивы [цена, объём лота, объём]
			bidStr := root.Get(1, "b", 0).ToString()
			askStr := root.Get(1, "a", 0).ToString()
			bid, err := strconv.ParseFloat(bidStr, 64)
			if err != nil {
				return models.PriceUpdate{}, err
			}
			ask, err := strconv.ParseFloat(askStr, 64)
			if err != nil {
				return models.PriceUpdate{}, err
			}
			return models.PriceUpdate{
				Exchange:  "kraken",
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
