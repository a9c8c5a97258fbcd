package mathutil

import "math"

// Clamp ограничивает значение диапазоном [min, max]
//
// Параметры:
//   - value: значение
//   - min: нижняя граница
//   - max: верхняя граница
//
// Примеры:
//
//	Clamp(1.5, 0, 1) = 1.0
//	Clamp(-0.2, 0, 1) = 0.0
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// Mean возвращает среднее арифметическое.
// Пустой срез даёт 0.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// SampleStdDev возвращает выборочное стандартное отклонение (делитель n-1)
//
// Возвращает 0 если точек меньше двух.
func SampleStdDev(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	mean := Mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(n-1))
}

// ZScore возвращает (x - mean) / std.
// При std = 0 возвращает 0 - вырожденный спред никогда не сигналит.
func ZScore(x, mean, std float64) float64 {
	if std == 0 {
		return 0
	}
	return (x - mean) / std
}

// PearsonCorrelation - коэффициент корреляции Пирсона двух рядов
//
// Ряды усекаются до общей длины с хвоста. Возвращает 0 если общая
// длина меньше minN или дисперсия одного из рядов нулевая.
func PearsonCorrelation(a, b []float64, minN int) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < minN || n < 2 {
		return 0
	}
	a = a[len(a)-n:]
	b = b[len(b)-n:]

	meanA := Mean(a)
	meanB := Mean(b)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}

// OUHalfLife - период полувозврата процесса Орнштейна-Уленбека
//
// AR(1) коэффициент по центрированному ряду спреда:
//
//	rho = sum(s_t * s_{t-1}) / sum(s_{t-1}^2)
//	half_life = -ln(2) / ln(rho)
//
// Возвращает:
//   - half_life и true, если 0 < rho < 1 и точек достаточно
//   - 0 и false иначе (процесс не mean-reverting)
func OUHalfLife(spread []float64, minN int) (float64, bool) {
	n := len(spread)
	if n < minN || n < 3 {
		return 0, false
	}
	mean := Mean(spread)
	demeaned := make([]float64, n)
	for i, v := range spread {
		demeaned[i] = v - mean
	}

	var num, den float64
	for i := 1; i < n; i++ {
		num += demeaned[i] * demeaned[i-1]
		den += demeaned[i-1] * demeaned[i-1]
	}
	if den == 0 {
		return 0, false
	}
	rho := num / den
	if rho <= 0 || rho >= 1 {
		return 0, false
	}
	return -math.Ln2 / math.Log(rho), true
}

// LinearRegressionSlope - наклон линейной регрессии y на индекс 0..n-1.
// Используется классификатором рыночного режима.
func LinearRegressionSlope(y []float64) float64 {
	n := len(y)
	if n < 2 {
		return 0
	}
	meanX := float64(n-1) / 2
	meanY := Mean(y)

	var num, den float64
	for i, v := range y {
		dx := float64(i) - meanX
		num += dx * (v - meanY)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return num / den
}
