package models

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a monitored signal.
type Status string

const (
	StatusMonitoring Status = "monitoring"
	StatusCompleted  Status = "completed"
)

// Signal is the descriptor produced when the engine decides to send.
type Signal struct {
	ID                string       `json:"id"`
	Symbol            string       `json:"symbol"`
	EntryPrice        float64      `json:"entry_price"`
	TargetPrice       float64      `json:"target_price"`
	StopLoss          float64      `json:"stop_loss"`
	RiskReward        string       `json:"risk_reward"`
	ConfidenceScore   float64      `json:"confidence_score"`
	Strategy          string       `json:"strategy"`
	StaticProbability float64      `json:"static_probability"`
	StaticTier        StaticTier   `json:"static_tier"`
	AdaptiveProb      float64      `json:"adaptive_probability"`
	AdaptiveTier      AdaptiveTier `json:"adaptive_tier"`
	HybridConfidence  float64      `json:"hybrid_confidence"`
	CreatedAt         time.Time    `json:"created_at"`
}

// MonitoredSignal tracks a live signal until it resolves.
type MonitoredSignal struct {
	SignalID        string     `json:"signal_id"`
	Symbol          string     `json:"symbol"`
	EntryPrice      float64    `json:"entry_price"`
	TargetPrice     float64    `json:"target_price"`
	StopLoss        float64    `json:"stop_loss"`
	CreatedAt       time.Time  `json:"created_at"`
	Status          Status     `json:"status"`
	Result          *Label     `json:"result"`
	CompletionDate  *time.Time `json:"completion_date"`
	DaysToResult    *int       `json:"days_to_result"`
	MaxPriceReached *float64   `json:"max_price_reached"`
	MinPriceReached *float64   `json:"min_price_reached"`
}

// NewMonitoredSignal starts tracking s in the Monitoring state.
func NewMonitoredSignal(s Signal) MonitoredSignal {
	return MonitoredSignal{
		SignalID:    s.ID,
		Symbol:      s.Symbol,
		EntryPrice:  s.EntryPrice,
		TargetPrice: s.TargetPrice,
		StopLoss:    s.StopLoss,
		CreatedAt:   s.CreatedAt,
		Status:      StatusMonitoring,
	}
}

// Validate checks monitored signal field constraints.
func (m *MonitoredSignal) Validate() error {
	if m.SignalID == "" {
		return errors.New("signal ID must not be empty")
	}
	if m.Symbol == "" {
		return errors.New("symbol must not be empty")
	}
	if m.TargetPrice <= m.EntryPrice {
		return errors.New("target price must be above entry price")
	}
	if m.StopLoss >= m.EntryPrice {
		return errors.New("stop loss must be below entry price")
	}
	if m.Status != StatusMonitoring && m.Status != StatusCompleted {
		return errors.New("status must be monitoring or completed")
	}
	if m.Status == StatusCompleted && m.Result == nil {
		return errors.New("completed signal must carry a result")
	}
	return nil
}

// Active reports whether the signal is still being monitored.
func (m *MonitoredSignal) Active() bool {
	return m.Status == StatusMonitoring
}

// Observe folds price into the running max/min. Completed signals are frozen.
func (m *MonitoredSignal) Observe(price float64) {
	if !m.Active() {
		return
	}
	if m.MaxPriceReached == nil || price > *m.MaxPriceReached {
		p := price
		m.MaxPriceReached = &p
	}
	if m.MinPriceReached == nil || price < *m.MinPriceReached {
		p := price
		m.MinPriceReached = &p
	}
}

// Complete performs the single monitoring→completed transition. It returns
// false and leaves the signal untouched when it is already completed.
func (m *MonitoredSignal) Complete(result Label, at time.Time, days int) bool {
	if !m.Active() || !result.Resolved() {
		return false
	}
	r := result
	d := days
	ts := at
	m.Status = StatusCompleted
	m.Result = &r
	m.CompletionDate = &ts
	m.DaysToResult = &d
	return true
}
