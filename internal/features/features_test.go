package features

import (
	"math"
	"testing"
	"time"

	"github.com/rewired-gh/hybridscan/internal/models"
)

func barsFromCloses(closes []float64) []models.Bar {
	bars := make([]models.Bar, len(closes))
	for i, c := range closes {
		bars[i] = models.Bar{Candle: models.Candle{Close: c, High: c, Low: c, Volume: 1000}}
	}
	return bars
}

func TestColumnsMatchVectorSize(t *testing.T) {
	if len(Columns) != Size {
		t.Fatalf("len(Columns) = %d, want %d", len(Columns), Size)
	}
	if Columns[0] != "rsi" || Columns[Size-1] != "confidence_score" {
		t.Errorf("unexpected column order: %v", Columns)
	}
}

func TestFromBarsDefaults(t *testing.T) {
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC) // Monday
	s := FromBars(barsFromCloses([]float64{100, 101, 102}), 0.2, 85, now)

	want := Vector{DefaultRSI, DefaultMACDDiff, DefaultSMARatio, DefaultVolRatio, 0, 0, 0.2, 9, 0, 85}
	if got := s.Vector(); got != want {
		t.Errorf("Vector() = %v, want %v", got, want)
	}
}

func TestFromBarsWithIndicators(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	bars := barsFromCloses(closes)
	last := &bars[len(bars)-1]
	last.HasIndicators = true
	last.RSI = 62
	last.MACDDiff = 0.8
	last.SMA50 = 100
	last.VolumeSMA20 = 500

	now := time.Date(2024, 3, 10, 23, 0, 0, 0, time.UTC) // Sunday
	s := FromBars(bars, 0, 70, now)

	if s.RSI != 62 || s.MACDDiff != 0.8 {
		t.Errorf("indicators not copied: %+v", s)
	}
	if math.Abs(s.SMARatio-1.29) > 1e-9 {
		t.Errorf("SMARatio = %f, want 1.29", s.SMARatio)
	}
	if s.VolumeRatio != 2 {
		t.Errorf("VolumeRatio = %f, want 2", s.VolumeRatio)
	}
	if s.Volatility <= 0 {
		t.Errorf("Volatility = %f, want > 0", s.Volatility)
	}
	// momentum from close 10 bars back (120) to last (129)
	if math.Abs(s.Momentum-7.5) > 1e-9 {
		t.Errorf("Momentum = %f, want 7.5", s.Momentum)
	}
	if s.DayOfWeek != 6 {
		t.Errorf("DayOfWeek = %d, want 6 for Sunday", s.DayOfWeek)
	}
}

func TestVolatilityNeedsWindowPlusOne(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100 + float64(i%3)
	}
	if v := Volatility(closes, 20); v != 0 {
		t.Errorf("Volatility with 20 closes = %f, want 0", v)
	}
	closes = append(closes, 105)
	if v := Volatility(closes, 20); v <= 0 {
		t.Errorf("Volatility with 21 closes = %f, want > 0", v)
	}
}

func TestMomentumShortSeries(t *testing.T) {
	if m := Momentum([]float64{1, 2, 3}, 10); m != 0 {
		t.Errorf("Momentum = %f, want 0", m)
	}
}

func TestStdDev(t *testing.T) {
	got := StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	want := math.Sqrt(32.0 / 7.0)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("StdDev = %f, want %f", got, want)
	}
	if StdDev([]float64{1}) != 0 {
		t.Error("StdDev of one sample should be 0")
	}
}

func TestFromRecordOrder(t *testing.T) {
	r := models.FeatureRecord{
		RSI: 1, MACDDiff: 2, SMARatio: 3, VolumeRatio: 4, Volatility: 5, Momentum: 6,
		SentimentScore: 7, HourOfDay: 8, DayOfWeek: 2, ConfidenceScore: 10,
	}
	want := Vector{1, 2, 3, 4, 5, 6, 7, 8, 2, 10}
	if got := FromRecord(r); got != want {
		t.Errorf("FromRecord = %v, want %v", got, want)
	}
}
