package market

import (
	"time"

	"arbscan/internal/models"
)

// AggregateOHLCV сворачивает тики в свечи с шагом interval.
// Тики должны идти от старых к новым; свечи выравниваются по
// границе интервала усечением метки времени.
func AggregateOHLCV(exchange, pair string, ticks []models.Tick, interval time.Duration) []models.OHLCV {
	if len(ticks) == 0 || interval <= 0 {
		return nil
	}

	var candles []models.OHLCV
	var cur *models.OHLCV
	var sum float64

	flush := func() {
		if cur == nil {
			return
		}
		cur.VWAP = sum / float64(cur.Volume)
		candles = append(candles, *cur)
		cur = nil
		sum = 0
	}

	for _, t := range ticks {
		bucket := t.Timestamp.Truncate(interval)
		if cur == nil || !bucket.Equal(cur.Timestamp) {
			flush()
			cur = &models.OHLCV{
				Timestamp: bucket,
				Exchange:  exchange,
				Pair:      pair,
				Open:      t.Mid,
				High:      t.Mid,
				Low:       t.Mid,
			}
		}
		if t.Mid > cur.High {
			cur.High = t.Mid
		}
		if t.Mid < cur.Low {
			cur.Low = t.Mid
		}
		cur.Close = t.Mid
		cur.Volume++
		sum += t.Mid
	}
	flush()

	return candles
}
