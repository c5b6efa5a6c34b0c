// Package models defines the core domain entities: training records, monitored
// signals, decisions, and market bars.
package models

import (
	"errors"
	"time"
)

// Label is the outcome attached to a FeatureRecord once its signal resolves.
type Label string

const (
	LabelPending Label = "pending"
	LabelSuccess Label = "success"
	LabelFailure Label = "failure"
)

// Resolved reports whether the label is a final outcome.
func (l Label) Resolved() bool {
	return l == LabelSuccess || l == LabelFailure
}

// FeatureRecord is one row of the training corpus: the feature snapshot taken
// when a signal was emitted, plus its asynchronously resolved label.
type FeatureRecord struct {
	SignalID        string    `json:"signal_id"`
	Symbol          string    `json:"symbol"`
	EntryPrice      float64   `json:"entry_price"`
	TargetPrice     float64   `json:"target_price"`
	StopLoss        float64   `json:"stop_loss"`
	ConfidenceScore float64   `json:"confidence_score"`
	Strategy        string    `json:"strategy,omitempty"`
	CreatedAt       time.Time `json:"created_at"`

	RSI            float64 `json:"rsi"`
	MACDDiff       float64 `json:"macd_diff"`
	SMARatio       float64 `json:"sma_ratio"`
	VolumeRatio    float64 `json:"volume_ratio"`
	Volatility     float64 `json:"volatility"`
	Momentum       float64 `json:"momentum"`
	SentimentScore float64 `json:"sentiment_score"`
	HourOfDay      int     `json:"hour_of_day"`
	DayOfWeek      int     `json:"day_of_week"`

	Result          Label      `json:"result"`
	ResultUpdatedAt *time.Time `json:"result_updated_at"`
	DaysToResult    *int       `json:"days_to_result"`
}

// Validate checks record field constraints.
func (r *FeatureRecord) Validate() error {
	if r.SignalID == "" {
		return errors.New("signal ID must not be empty")
	}
	if r.Symbol == "" {
		return errors.New("symbol must not be empty")
	}
	if r.EntryPrice <= 0 {
		return errors.New("entry price must be positive")
	}
	if r.TargetPrice <= r.EntryPrice {
		return errors.New("target price must be above entry price")
	}
	if r.StopLoss >= r.EntryPrice {
		return errors.New("stop loss must be below entry price")
	}
	if r.HourOfDay < 0 || r.HourOfDay > 23 {
		return errors.New("hour of day must be between 0 and 23")
	}
	if r.DayOfWeek < 0 || r.DayOfWeek > 6 {
		return errors.New("day of week must be between 0 and 6")
	}
	return nil
}

// Label returns the record label, treating an absent value as pending.
func (r *FeatureRecord) Label() Label {
	if r.Result == "" {
		return LabelPending
	}
	return r.Result
}
