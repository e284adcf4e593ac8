package indicator

import (
	talib "github.com/markcheno/go-talib"
)

// 以下函数对整段输入计算单个统计量，talib 在窗口等于输入长度时最后一个输出即为结果。

// Mean 返回算术平均，空输入返回0。
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return Clean(Last(talib.Sma(values, len(values))))
}

// Sum 返回总和，空输入返回0。
func Sum(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return Clean(Last(talib.Sum(values, len(values))))
}

// StdDev 返回总体标准差（除以 N），少于2个样本返回0。
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return Clean(Last(talib.StdDev(values, len(values), 1)))
}

// TypicalPrice 返回 (H+L+C)/3 序列。
func TypicalPrice(s Series) []float64 {
	if s.Len() == 0 {
		return nil
	}
	return talib.TypPrice(s.High, s.Low, s.Close)
}

// Multiply 逐元素相乘，长度以较短者为准。
func Multiply(a, b []float64) []float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = a[i] * b[i]
	}
	return out
}
