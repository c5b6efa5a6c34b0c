// Package monitor tracks emitted signals until their target, stop or expiry
// resolves them, feeds the outcome back into the training corpus and triggers
// retraining.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rewired-gh/hybridscan/internal/logger"
	"github.com/rewired-gh/hybridscan/internal/models"
)

// Resolution reasons.
const (
	ReasonTarget = "target"
	ReasonStop   = "stop"
	ReasonExpiry = "expiry"
)

// PriceSource returns the latest price per symbol. Symbols it cannot price
// are absent from the map.
type PriceSource interface {
	LatestPrices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// Labeler writes outcomes into the training corpus.
type Labeler interface {
	ResolveLabel(signalID string, result models.Label, daysToResult int) (bool, error)
}

// Retrainer is the adaptive model.
type Retrainer interface {
	ShouldRetrain(threshold int) bool
	Retrain(minSamples int) (bool, error)
}

// Store persists the monitoring list.
type Store interface {
	LoadSignals() ([]models.MonitoredSignal, error)
	SaveSignals(signals []models.MonitoredSignal) error
}

// Recorder receives lifecycle metrics.
type Recorder interface {
	Resolution(result models.Label, reason string)
	Retrain(outcome string)
	ActiveSignals(n int)
}

// Config holds the expiry rule and retrain trigger.
type Config struct {
	ExpiryDays         int
	PartialCreditRatio float64
	RetrainThreshold   int
	MinSamples         int
}

// DefaultConfig returns a 7 day expiry with 0.8 partial credit, retraining
// after 20 new labels once 50 are available.
func DefaultConfig() Config {
	return Config{
		ExpiryDays:         7,
		PartialCreditRatio: 0.8,
		RetrainThreshold:   20,
		MinSamples:         50,
	}
}

// Statistics summarizes the monitoring list.
type Statistics struct {
	Total       int     `json:"total"`
	Active      int     `json:"active"`
	Completed   int     `json:"completed"`
	Successful  int     `json:"successful"`
	SuccessRate float64 `json:"success_rate"`
}

// CycleReport describes one RunCycle.
type CycleReport struct {
	Checked   int
	Resolved  int
	Successes int
	Failures  int
	Retrained bool
}

// Monitor owns the monitoring list. It is safe for concurrent use.
type Monitor struct {
	mu        sync.Mutex
	store     Store
	prices    PriceSource
	labeler   Labeler
	retrainer Retrainer
	recorder  Recorder
	config    Config
	signals   []models.MonitoredSignal
	index     map[string]int
	unlabeled map[string]struct{}
	now       func() time.Time
	log       zerolog.Logger
}

// New loads the monitoring list from store. A load failure is logged and the
// list starts empty. recorder may be nil.
func New(store Store, prices PriceSource, labeler Labeler, retrainer Retrainer, recorder Recorder, config Config) *Monitor {
	m := &Monitor{
		store:     store,
		prices:    prices,
		labeler:   labeler,
		retrainer: retrainer,
		recorder:  recorder,
		config:    config,
		index:     make(map[string]int),
		unlabeled: make(map[string]struct{}),
		now:       time.Now,
		log:       logger.Component("monitor"),
	}

	signals, err := store.LoadSignals()
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to load monitoring list, starting empty")
		signals = nil
	}
	for _, s := range signals {
		if _, dup := m.index[s.SignalID]; dup {
			continue
		}
		m.index[s.SignalID] = len(m.signals)
		m.signals = append(m.signals, s)
		// Completed before a restart; the label write may not have landed.
		if !s.Active() {
			m.unlabeled[s.SignalID] = struct{}{}
		}
	}
	m.log.Info().Int("signals", len(m.signals)).Int("active", m.countActive()).Msg("monitoring list loaded")
	return m
}

// Register starts monitoring a delivered signal.
func (m *Monitor) Register(signal models.Signal) error {
	ms := models.NewMonitoredSignal(signal)
	if err := ms.Validate(); err != nil {
		return fmt.Errorf("invalid signal: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.index[ms.SignalID]; dup {
		return fmt.Errorf("signal %s already monitored", ms.SignalID)
	}
	m.signals = append(m.signals, ms)
	m.index[ms.SignalID] = len(m.signals) - 1

	if err := m.store.SaveSignals(m.signals); err != nil {
		m.signals = m.signals[:len(m.signals)-1]
		delete(m.index, ms.SignalID)
		return err
	}
	m.setActiveGauge()
	m.log.Info().Str("signal_id", ms.SignalID).Str("symbol", ms.Symbol).Msg("monitoring signal")
	return nil
}

// RunCycle retries outstanding label writes, prices every active signal
// once, resolves those that hit their target, stop or expiry, persists the
// list and retrains the adaptive model when enough new labels arrived.
func (m *Monitor) RunCycle(ctx context.Context) (CycleReport, error) {
	var report CycleReport

	m.retryLabels()

	symbols := m.ActiveSymbols()
	if len(symbols) == 0 {
		m.maybeRetrain(&report)
		return report, nil
	}

	prices, err := m.prices.LatestPrices(ctx, symbols)
	if err != nil && len(prices) == 0 {
		return report, &models.UpstreamError{Source: "prices", Err: err}
	}
	if err != nil {
		m.log.Warn().Err(err).Int("priced", len(prices)).Int("wanted", len(symbols)).Msg("partial price data")
	}

	now := m.now()
	var resolved []resolution

	m.mu.Lock()
	for i := range m.signals {
		s := &m.signals[i]
		if !s.Active() {
			continue
		}
		price, ok := prices[s.Symbol]
		if !ok {
			continue
		}
		report.Checked++
		s.Observe(price)

		result, days, reason, done := Evaluate(s, price, now, m.config)
		if !done || !s.Complete(result, now, days) {
			continue
		}
		report.Resolved++
		if result == models.LabelSuccess {
			report.Successes++
		} else {
			report.Failures++
		}
		resolved = append(resolved, resolution{s.SignalID, result, days})
		if m.recorder != nil {
			m.recorder.Resolution(result, reason)
		}
		m.log.Info().
			Str("signal_id", s.SignalID).
			Str("symbol", s.Symbol).
			Str("result", string(result)).
			Str("reason", reason).
			Int("days", days).
			Float64("price", price).
			Msg("signal resolved")
	}

	var saveErr error
	if report.Checked > 0 {
		saveErr = m.store.SaveSignals(m.signals)
	}
	m.setActiveGauge()
	m.mu.Unlock()

	if saveErr != nil {
		m.log.Error().Err(saveErr).Msg("failed to persist monitoring list")
	}

	m.writeLabels(resolved)

	m.maybeRetrain(&report)
	return report, saveErr
}

type resolution struct {
	id     string
	result models.Label
	days   int
}

// writeLabels pushes outcomes into the corpus. Failed writes stay in the
// unlabeled set and are retried on the next cycle.
func (m *Monitor) writeLabels(resolved []resolution) {
	for _, r := range resolved {
		_, err := m.labeler.ResolveLabel(r.id, r.result, r.days)

		m.mu.Lock()
		if err != nil {
			m.unlabeled[r.id] = struct{}{}
		} else {
			delete(m.unlabeled, r.id)
		}
		m.mu.Unlock()

		if err != nil {
			m.log.Error().Err(err).Str("signal_id", r.id).Msg("failed to label training record, will retry")
		}
	}
}

// retryLabels re-sends the outcome of completed signals whose label write
// has not been confirmed. ResolveLabel is a no-op for records that already
// carry a label.
func (m *Monitor) retryLabels() {
	m.mu.Lock()
	pending := make([]resolution, 0, len(m.unlabeled))
	for id := range m.unlabeled {
		i, ok := m.index[id]
		if !ok || m.signals[i].Active() || m.signals[i].Result == nil {
			delete(m.unlabeled, id)
			continue
		}
		s := m.signals[i]
		days := 1
		if s.DaysToResult != nil {
			days = *s.DaysToResult
		}
		pending = append(pending, resolution{id, *s.Result, days})
	}
	m.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	sort.Slice(pending, func(a, b int) bool { return pending[a].id < pending[b].id })
	m.writeLabels(pending)
}

func (m *Monitor) maybeRetrain(report *CycleReport) {
	if m.retrainer == nil || !m.retrainer.ShouldRetrain(m.config.RetrainThreshold) {
		return
	}
	ok, err := m.retrainer.Retrain(m.config.MinSamples)
	switch {
	case errors.Is(err, models.ErrInsufficientData):
		m.log.Info().Err(err).Msg("retrain skipped")
		m.recordRetrain("insufficient")
	case err != nil:
		m.log.Error().Err(err).Msg("retrain failed")
		m.recordRetrain("error")
	case ok:
		report.Retrained = true
		m.recordRetrain("success")
	}
}

func (m *Monitor) recordRetrain(outcome string) {
	if m.recorder != nil {
		m.recorder.Retrain(outcome)
	}
}

// Evaluate decides whether s resolves at price. Target and stop are checked
// before expiry; an expired signal earns success when its best price covered
// at least PartialCreditRatio of the distance to target.
func Evaluate(s *models.MonitoredSignal, price float64, now time.Time, cfg Config) (result models.Label, days int, reason string, done bool) {
	age := now.Sub(s.CreatedAt)
	days = int(age.Hours() / 24)
	if days < 1 {
		days = 1
	}

	switch {
	case price >= s.TargetPrice:
		return models.LabelSuccess, days, ReasonTarget, true
	case price <= s.StopLoss:
		return models.LabelFailure, days, ReasonStop, true
	}

	if age <= time.Duration(cfg.ExpiryDays)*24*time.Hour {
		return "", 0, "", false
	}

	best := price
	if s.MaxPriceReached != nil {
		best = math.Max(best, *s.MaxPriceReached)
	}
	result = models.LabelFailure
	if best-s.EntryPrice >= cfg.PartialCreditRatio*(s.TargetPrice-s.EntryPrice) {
		result = models.LabelSuccess
	}
	return result, cfg.ExpiryDays, ReasonExpiry, true
}

// ActiveSymbols returns the sorted distinct symbols of active signals.
func (m *Monitor) ActiveSymbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	var out []string
	for _, s := range m.signals {
		if s.Active() && !seen[s.Symbol] {
			seen[s.Symbol] = true
			out = append(out, s.Symbol)
		}
	}
	sort.Strings(out)
	return out
}

// Statistics returns counts over the whole monitoring list.
func (m *Monitor) Statistics() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Statistics{Total: len(m.signals)}
	for _, s := range m.signals {
		if s.Active() {
			st.Active++
			continue
		}
		st.Completed++
		if s.Result != nil && *s.Result == models.LabelSuccess {
			st.Successful++
		}
	}
	if st.Completed > 0 {
		st.SuccessRate = math.Round(float64(st.Successful)/float64(st.Completed)*100*100) / 100
	}
	return st
}

// Get returns a copy of the monitored signal with id.
func (m *Monitor) Get(id string) (models.MonitoredSignal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i, ok := m.index[id]
	if !ok {
		return models.MonitoredSignal{}, false
	}
	return m.signals[i], true
}

// Shutdown persists the monitoring list one last time.
func (m *Monitor) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.SaveSignals(m.signals); err != nil {
		m.log.Error().Err(err).Msg("failed to persist monitoring list on shutdown")
	}
}

func (m *Monitor) countActive() int {
	n := 0
	for _, s := range m.signals {
		if s.Active() {
			n++
		}
	}
	return n
}

// setActiveGauge must be called with mu held.
func (m *Monitor) setActiveGauge() {
	if m.recorder != nil {
		m.recorder.ActiveSignals(m.countActive())
	}
}
