// Package indicators computes the technical indicator columns the prefilter
// and the feature vectors read from each bar.
package indicators

import (
	"github.com/rewired-gh/hybridscan/internal/models"
)

// Window sizes.
const (
	SMAWindow       = 50
	RSIWindow       = 14
	MACDFast        = 12
	MACDSlow        = 26
	MACDSignal      = 9
	VolumeSMAWindow = 20
)

// MinCandles is the shortest series Calculate accepts.
const MinCandles = SMAWindow

// Calculate augments candles with sma_50, rsi, macd_diff and volume_sma_20.
// Warm-up rows without every indicator are dropped, so the result starts at
// the 50th candle. Fewer than MinCandles candles yield an empty result.
func Calculate(candles []models.Candle) []models.Bar {
	n := len(candles)
	if n < MinCandles {
		return nil
	}

	closes := make([]float64, n)
	volumes := make([]float64, n)
	for i, c := range candles {
		closes[i] = c.Close
		volumes[i] = c.Volume
	}

	sma := SMA(closes, SMAWindow)
	volSMA := SMA(volumes, VolumeSMAWindow)
	rsi := RSI(closes, RSIWindow)
	macd := MACDDiff(closes, MACDFast, MACDSlow, MACDSignal)

	first := SMAWindow - 1
	bars := make([]models.Bar, 0, n-first)
	for i := first; i < n; i++ {
		bars = append(bars, models.Bar{
			Candle:        candles[i],
			SMA50:         sma[i],
			RSI:           rsi[i],
			MACDDiff:      macd[i],
			VolumeSMA20:   volSMA[i],
			HasIndicators: true,
		})
	}
	return bars
}

// SMA returns the simple moving average; entries before the first full window
// are zero.
func SMA(xs []float64, window int) []float64 {
	out := make([]float64, len(xs))
	var sum float64
	for i, x := range xs {
		sum += x
		if i >= window {
			sum -= xs[i-window]
		}
		if i >= window-1 {
			out[i] = sum / float64(window)
		}
	}
	return out
}

// EMA returns the exponential moving average with smoothing alpha, seeded with
// the first value.
func EMA(xs []float64, alpha float64) []float64 {
	out := make([]float64, len(xs))
	if len(xs) == 0 {
		return out
	}
	out[0] = xs[0]
	for i := 1; i < len(xs); i++ {
		out[i] = alpha*xs[i] + (1-alpha)*out[i-1]
	}
	return out
}

func spanAlpha(span int) float64 {
	return 2 / (float64(span) + 1)
}

// RSI returns Wilder's relative strength index. Entries before index
// window-1 are zero.
func RSI(closes []float64, window int) []float64 {
	n := len(closes)
	up := make([]float64, n)
	down := make([]float64, n)
	for i := 1; i < n; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			up[i] = d
		} else {
			down[i] = -d
		}
	}
	alpha := 1 / float64(window)
	avgUp := EMA(up, alpha)
	avgDown := EMA(down, alpha)

	out := make([]float64, n)
	for i := window - 1; i < n; i++ {
		switch {
		case avgDown[i] == 0 && avgUp[i] == 0:
			out[i] = 50
		case avgDown[i] == 0:
			out[i] = 100
		default:
			rs := avgUp[i] / avgDown[i]
			out[i] = 100 - 100/(1+rs)
		}
	}
	return out
}

// MACDDiff returns the MACD histogram: (EMA fast − EMA slow) minus its signal
// EMA. Entries before the signal line is defined are zero.
func MACDDiff(closes []float64, fast, slow, signal int) []float64 {
	n := len(closes)
	out := make([]float64, n)
	if n < slow {
		return out
	}
	emaFast := EMA(closes, spanAlpha(fast))
	emaSlow := EMA(closes, spanAlpha(slow))

	macd := make([]float64, 0, n-slow+1)
	for i := slow - 1; i < n; i++ {
		macd = append(macd, emaFast[i]-emaSlow[i])
	}
	sig := EMA(macd, spanAlpha(signal))
	for k := signal - 1; k < len(macd); k++ {
		out[slow-1+k] = macd[k] - sig[k]
	}
	return out
}
