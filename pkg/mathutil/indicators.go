package mathutil

// indicators.go - технические индикаторы для фичей ML движка.
// Все функции чистые: вход - ряд цен от старых к новым.

// RSI - индекс относительной силы за period точек
//
// Классическая формула Уайлдера на простых средних:
//
//	RSI = 100 - 100 / (1 + avgGain/avgLoss)
//
// Возвращает 50 (нейтраль) если данных меньше period+1.
func RSI(prices []float64, period int) float64 {
	if len(prices) < period+1 {
		return 50
	}
	prices = prices[len(prices)-period-1:]

	var gains, losses float64
	for i := 1; i < len(prices); i++ {
		d := prices[i] - prices[i-1]
		if d > 0 {
			gains += d
		} else {
			losses -= d
		}
	}
	if losses == 0 {
		if gains == 0 {
			return 50
		}
		return 100
	}
	rs := (gains / float64(period)) / (losses / float64(period))
	return 100 - 100/(1+rs)
}

// EMA - экспоненциальное скользящее среднее за period точек.
// Начальное значение - SMA первых period точек.
func EMA(prices []float64, period int) float64 {
	if len(prices) == 0 {
		return 0
	}
	if len(prices) < period {
		return Mean(prices)
	}
	ema := Mean(prices[:period])
	k := 2.0 / float64(period+1)
	for _, p := range prices[period:] {
		ema = p*k + ema*(1-k)
	}
	return ema
}

// MACD возвращает линию MACD и сигнальную линию (12/26/9 по умолчанию
// вызывающего кода). Сигнальная линия аппроксимируется EMA разности
// на хвосте ряда.
func MACD(prices []float64, fast, slow, signal int) (macd, signalLine float64) {
	if len(prices) < slow {
		return 0, 0
	}
	macd = EMA(prices, fast) - EMA(prices, slow)

	// Ряд разностей для сигнальной линии
	diffs := make([]float64, 0, signal)
	for i := signal; i > 0; i-- {
		end := len(prices) - i + 1
		if end < slow {
			continue
		}
		diffs = append(diffs, EMA(prices[:end], fast)-EMA(prices[:end], slow))
	}
	signalLine = EMA(diffs, signal)
	return macd, signalLine
}

// BollingerPosition - положение последней цены внутри полос Боллинджера,
// нормированное в [0,1]: 0 - нижняя полоса, 0.5 - средняя, 1 - верхняя.
func BollingerPosition(prices []float64, period int, numStd float64) float64 {
	if len(prices) < period {
		return 0.5
	}
	window := prices[len(prices)-period:]
	mean := Mean(window)
	std := SampleStdDev(window)
	if std == 0 {
		return 0.5
	}
	last := prices[len(prices)-1]
	lower := mean - numStd*std
	upper := mean + numStd*std
	return Clamp((last-lower)/(upper-lower), 0, 1)
}
