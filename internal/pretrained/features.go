package pretrained

import (
	"math"

	"github.com/rewired-gh/hybridscan/internal/features"
	"github.com/rewired-gh/hybridscan/internal/models"
)

// DefaultColumns is the column order written by Train.
var DefaultColumns = []string{
	"rsi",
	"macd",
	"bb_upper",
	"bb_lower",
	"bb_position",
	"volume_ratio",
	"price_change",
	"volatility",
	"momentum",
}

var knownColumns = func() map[string]bool {
	m := make(map[string]bool, len(DefaultColumns))
	for _, c := range DefaultColumns {
		m[c] = true
	}
	return m
}()

const (
	bandWindow        = 20
	bandWidth         = 2.0
	priceChangeWindow = 5
	volatilityWindow  = 20
	momentumWindow    = 10
)

// extract derives the named static features from the newest bar of a series.
func extract(bars []models.Bar) map[string]float64 {
	last := bars[len(bars)-1]
	closes := features.Closes(bars)

	f := map[string]float64{
		"rsi":          features.DefaultRSI,
		"macd":         features.DefaultMACDDiff,
		"volume_ratio": features.DefaultVolRatio,
	}
	if last.HasIndicators {
		f["rsi"] = last.RSI
		f["macd"] = last.MACDDiff
		if last.VolumeSMA20 > 0 {
			f["volume_ratio"] = last.Volume / last.VolumeSMA20
		}
	}

	tail := closes
	if len(tail) > bandWindow {
		tail = tail[len(tail)-bandWindow:]
	}
	mid := features.Mean(tail)
	sd := features.StdDev(tail)
	upper := mid + bandWidth*sd
	lower := mid - bandWidth*sd
	f["bb_upper"] = upper
	f["bb_lower"] = lower
	f["bb_position"] = 0.5
	if upper > lower {
		f["bb_position"] = math.Max(0, math.Min(1, (last.Close-lower)/(upper-lower)))
	}

	f["price_change"] = features.PercentChange(closes, priceChangeWindow)
	f["volatility"] = features.Volatility(closes, volatilityWindow)
	f["momentum"] = features.Momentum(closes, momentumWindow)
	return f
}

// vector orders the extracted features by columns.
func vector(bars []models.Bar, columns []string) []float64 {
	f := extract(bars)
	out := make([]float64, len(columns))
	for i, c := range columns {
		out[i] = f[c]
	}
	return out
}
