package models

import "time"

// Candle is one OHLCV observation.
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Bar is a candle augmented with the indicator columns used by the prefilter
// and the feature vectors. HasIndicators is false for bars that never went
// through indicator calculation; feature preparation then uses neutral
// defaults.
type Bar struct {
	Candle
	SMA50         float64 `json:"sma_50"`
	RSI           float64 `json:"rsi"`
	MACDDiff      float64 `json:"macd_diff"`
	VolumeSMA20   float64 `json:"volume_sma_20"`
	HasIndicators bool    `json:"-"`
}
