// Package features assembles the fixed-order feature vector shared by the
// training corpus and the adaptive model.
package features

import (
	"time"

	"github.com/rewired-gh/hybridscan/internal/models"
)

// Columns is the feature order of every adaptive model vector. It is stored
// with each persisted model and checked on load.
var Columns = []string{
	"rsi",
	"macd_diff",
	"sma_ratio",
	"volume_ratio",
	"volatility",
	"momentum",
	"sentiment_score",
	"hour_of_day",
	"day_of_week",
	"confidence_score",
}

// Size is the length of a feature vector.
const Size = 10

// Neutral defaults used when an upstream value is missing.
const (
	DefaultRSI        = 50.0 // oscillator midpoint
	DefaultMACDDiff   = 0.0  // no divergence
	DefaultSMARatio   = 1.0  // price at its average
	DefaultVolRatio   = 1.0  // volume at its average
	DefaultConfidence = 70.0 // prefilter minimum
)

const (
	volatilityWindow = 20
	momentumWindow   = 10
)

// Vector is one feature vector in Columns order.
type Vector [Size]float64

// Row is a labeled vector as used for training.
type Row struct {
	X Vector
	Y int
}

// Snapshot holds the named market features taken at decision time.
type Snapshot struct {
	RSI            float64
	MACDDiff       float64
	SMARatio       float64
	VolumeRatio    float64
	Volatility     float64
	Momentum       float64
	SentimentScore float64
	HourOfDay      int
	DayOfWeek      int
	Confidence     float64
}

// FromBars extracts a snapshot from the newest bar of an indicator-augmented
// series. Missing indicators fall back to the neutral defaults; volatility is
// 0 with fewer than 21 closes and momentum is 0 with fewer than 10.
func FromBars(bars []models.Bar, sentiment, confidence float64, now time.Time) Snapshot {
	s := Snapshot{
		RSI:            DefaultRSI,
		MACDDiff:       DefaultMACDDiff,
		SMARatio:       DefaultSMARatio,
		VolumeRatio:    DefaultVolRatio,
		SentimentScore: sentiment,
		HourOfDay:      now.Hour(),
		DayOfWeek:      Weekday(now),
		Confidence:     confidence,
	}
	if len(bars) == 0 {
		return s
	}

	last := bars[len(bars)-1]
	if last.HasIndicators {
		s.RSI = last.RSI
		s.MACDDiff = last.MACDDiff
		if last.SMA50 > 0 {
			s.SMARatio = last.Close / last.SMA50
		}
		if last.VolumeSMA20 > 0 {
			s.VolumeRatio = last.Volume / last.VolumeSMA20
		}
	}

	closes := Closes(bars)
	s.Volatility = Volatility(closes, volatilityWindow)
	s.Momentum = Momentum(closes, momentumWindow)
	return s
}

// Vector returns the snapshot in Columns order.
func (s Snapshot) Vector() Vector {
	return Vector{
		s.RSI,
		s.MACDDiff,
		s.SMARatio,
		s.VolumeRatio,
		s.Volatility,
		s.Momentum,
		s.SentimentScore,
		float64(s.HourOfDay),
		float64(s.DayOfWeek),
		s.Confidence,
	}
}

// FromRecord rebuilds the vector persisted in a corpus record.
func FromRecord(r models.FeatureRecord) Vector {
	return Snapshot{
		RSI:            r.RSI,
		MACDDiff:       r.MACDDiff,
		SMARatio:       r.SMARatio,
		VolumeRatio:    r.VolumeRatio,
		Volatility:     r.Volatility,
		Momentum:       r.Momentum,
		SentimentScore: r.SentimentScore,
		HourOfDay:      r.HourOfDay,
		DayOfWeek:      r.DayOfWeek,
		Confidence:     r.ConfidenceScore,
	}.Vector()
}

// Weekday returns the day of week with Monday = 0.
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// Closes returns the close column of bars.
func Closes(bars []models.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Volatility is the standard deviation, in percent, of the last window
// simple returns. It needs window+1 closes.
func Volatility(closes []float64, window int) float64 {
	if len(closes) < window+1 {
		return 0
	}
	tail := closes[len(closes)-window-1:]
	returns := make([]float64, 0, window)
	for i := 1; i < len(tail); i++ {
		if tail[i-1] == 0 {
			continue
		}
		returns = append(returns, (tail[i]-tail[i-1])/tail[i-1])
	}
	return StdDev(returns) * 100
}

// Momentum is the percent change from the close window-1 bars back to the last
// close.
func Momentum(closes []float64, window int) float64 {
	return PercentChange(closes, window)
}

// PercentChange is the percent change between closes[len-n] and the last
// close, or 0 with fewer than n closes.
func PercentChange(closes []float64, n int) float64 {
	if n < 1 || len(closes) < n {
		return 0
	}
	old := closes[len(closes)-n]
	if old == 0 {
		return 0
	}
	return (closes[len(closes)-1] - old) / old * 100
}
