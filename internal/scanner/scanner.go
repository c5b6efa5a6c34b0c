// Package scanner runs the scan cycle: resolve monitored signals, fetch market
// data, score sentiment and hand each candidate to the decision engine.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/rewired-gh/hybridscan/internal/adaptive"
	"github.com/rewired-gh/hybridscan/internal/corpus"
	"github.com/rewired-gh/hybridscan/internal/engine"
	"github.com/rewired-gh/hybridscan/internal/indicators"
	"github.com/rewired-gh/hybridscan/internal/logger"
	"github.com/rewired-gh/hybridscan/internal/models"
	"github.com/rewired-gh/hybridscan/internal/monitor"
	"github.com/rewired-gh/hybridscan/internal/pretrained"
)

// Market supplies candle history per symbol.
type Market interface {
	FetchSeries(ctx context.Context, symbols []string) (map[string][]models.Candle, error)
}

// Sentiment scores a symbol in [-1, 1].
type Sentiment interface {
	Score(ctx context.Context, symbol string) (float64, error)
}

// Evaluator decides on one candidate.
type Evaluator interface {
	Evaluate(symbol string, bars []models.Bar, sentiment float64) (engine.Result, error)
}

// Lifecycle tracks delivered signals until they resolve.
type Lifecycle interface {
	RunCycle(ctx context.Context) (monitor.CycleReport, error)
	ActiveSymbols() []string
	Statistics() monitor.Statistics
}

// Corpus reports training data statistics.
type Corpus interface {
	Statistics() corpus.Statistics
}

// Adaptive is the retrainable model.
type Adaptive interface {
	Retrain(minSamples int) (bool, error)
	MinSamples() int
	Info() adaptive.Info
}

// Static reports the pretrained model state.
type Static interface {
	Info() pretrained.Info
}

// Alerter is told about the first failure of a streak and its recovery.
type Alerter interface {
	SendError(cycleErr error) error
	SendRecovery(failureCount int) error
}

// Recorder receives cycle metrics.
type Recorder interface {
	UpstreamError(source string)
	Cycle(d time.Duration, err error)
	Corpus(labeled, pending int)
	AdaptiveAccuracy(acc float64)
}

// Config selects the scanned universe.
type Config struct {
	Symbols          []string
	SentimentEnabled bool
	MinSentiment     float64
}

// Deps are the collaborators of a Scanner. Sentiment, Alerter and Recorder
// may be nil.
type Deps struct {
	Market    Market
	Sentiment Sentiment
	Engine    Evaluator
	Monitor   Lifecycle
	Corpus    Corpus
	Adaptive  Adaptive
	Static    Static
	Alerter   Alerter
	Recorder  Recorder
}

// Summary describes one scan cycle.
type Summary struct {
	Monitor    monitor.CycleReport `json:"monitor"`
	Fetched    int                 `json:"fetched"`
	Skipped    int                 `json:"skipped"`
	Evaluated  int                 `json:"evaluated"`
	Sent       int                 `json:"sent"`
	Delivered  int                 `json:"delivered"`
	Duration   time.Duration       `json:"duration"`
	StartedAt  time.Time           `json:"started_at"`
	Candidates []string            `json:"candidates,omitempty"`
}

// Stats is the combined operational view.
type Stats struct {
	Corpus     corpus.Statistics  `json:"corpus"`
	Monitoring monitor.Statistics `json:"monitoring"`
	Adaptive   adaptive.Info      `json:"adaptive_model"`
	Static     pretrained.Info    `json:"static_model"`
	LastCycle  *time.Time         `json:"last_cycle,omitempty"`
	LastError  string             `json:"last_error,omitempty"`
	Failures   int                `json:"consecutive_failures"`
}

// RetrainResult reports a manual retrain.
type RetrainResult struct {
	Retrained bool          `json:"retrained"`
	Model     adaptive.Info `json:"model"`
}

// Scanner is safe for concurrent use. Cycles and manual retrains are
// serialized.
type Scanner struct {
	cfg  Config
	deps Deps

	cycleMu sync.Mutex

	mu        sync.RWMutex
	lastCycle time.Time
	lastErr   error
	failures  int

	now func() time.Time
	log zerolog.Logger
}

// New creates a Scanner.
func New(cfg Config, deps Deps) *Scanner {
	return &Scanner{
		cfg:  cfg,
		deps: deps,
		now:  time.Now,
		log:  logger.Component("scanner"),
	}
}

// RunCycle runs one scan cycle. A panic inside the cycle is recovered and
// reported as the cycle error. The first failure of a streak and the first
// success after it are sent to the Alerter.
func (s *Scanner) RunCycle(ctx context.Context) (sum Summary, err error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	start := s.now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scan cycle panic: %v", r)
			s.log.Error().Str("stack", string(debug.Stack())).Msg("recovered from panic")
		}
		sum.Duration = s.now().Sub(start)
		if s.deps.Recorder != nil {
			s.deps.Recorder.Cycle(sum.Duration, err)
		}
		s.finish(start, err)
	}()

	sum, err = s.cycle(ctx)
	sum.StartedAt = start
	return sum, err
}

func (s *Scanner) cycle(ctx context.Context) (Summary, error) {
	var sum Summary
	s.log.Info().Int("symbols", len(s.cfg.Symbols)).Msg("starting scan cycle")

	report, monErr := s.deps.Monitor.RunCycle(ctx)
	sum.Monitor = report
	if monErr != nil {
		s.countUpstream(monErr)
		s.log.Error().Err(monErr).Msg("monitoring step failed")
	}

	active := make(map[string]bool)
	for _, sym := range s.deps.Monitor.ActiveSymbols() {
		active[sym] = true
	}

	series, fetchErr := s.deps.Market.FetchSeries(ctx, s.cfg.Symbols)
	if fetchErr != nil {
		s.countUpstream(fetchErr)
		s.log.Warn().Err(fetchErr).Int("fetched", len(series)).Msg("market data incomplete")
	}
	sum.Fetched = len(series)
	if len(series) == 0 && len(s.cfg.Symbols) > 0 {
		return sum, errors.Join(monErr, fmt.Errorf("no market data: %w", fetchErr))
	}

	symbols := make([]string, 0, len(series))
	for sym := range series {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return sum, errors.Join(monErr, err)
		}
		if active[sym] {
			sum.Skipped++
			s.log.Debug().Str("symbol", sym).Msg("signal already active, skipping")
			continue
		}

		bars := indicators.Calculate(series[sym])
		if len(bars) == 0 {
			sum.Skipped++
			s.log.Debug().Str("symbol", sym).Int("candles", len(series[sym])).Msg("not enough history for indicators")
			continue
		}

		score := s.sentiment(ctx, sym)
		if score < s.cfg.MinSentiment {
			sum.Skipped++
			s.log.Info().Str("symbol", sym).Float64("sentiment", score).Msg("negative sentiment, skipping")
			continue
		}

		sum.Evaluated++
		res, err := s.deps.Engine.Evaluate(sym, bars, score)
		if err != nil {
			s.countUpstream(err)
			s.log.Warn().Err(err).Str("symbol", sym).Msg("evaluation side effects failed")
		}
		if res.Signal != nil {
			sum.Sent++
			sum.Candidates = append(sum.Candidates, sym)
		}
		if res.Delivered {
			sum.Delivered++
		}
	}

	s.publishGauges()
	s.log.Info().
		Int("fetched", sum.Fetched).
		Int("evaluated", sum.Evaluated).
		Int("skipped", sum.Skipped).
		Int("sent", sum.Sent).
		Int("resolved", report.Resolved).
		Msg("scan cycle complete")
	return sum, monErr
}

func (s *Scanner) sentiment(ctx context.Context, symbol string) float64 {
	if !s.cfg.SentimentEnabled || s.deps.Sentiment == nil {
		return 0
	}
	score, err := s.deps.Sentiment.Score(ctx, symbol)
	if err != nil {
		s.countUpstream(err)
	}
	return score
}

func (s *Scanner) finish(start time.Time, err error) {
	s.mu.Lock()
	s.lastCycle = start
	s.lastErr = err
	prev := s.failures
	if err != nil {
		s.failures++
	} else {
		s.failures = 0
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error().Err(err).Int("consecutive_failures", prev+1).Msg("scan cycle failed")
		if prev == 0 && s.deps.Alerter != nil {
			if sendErr := s.deps.Alerter.SendError(err); sendErr != nil {
				s.log.Warn().Err(sendErr).Msg("failed to send error notification")
			}
		}
		return
	}
	if prev > 0 && s.deps.Alerter != nil {
		if sendErr := s.deps.Alerter.SendRecovery(prev); sendErr != nil {
			s.log.Warn().Err(sendErr).Msg("failed to send recovery notification")
		}
	}
}

// countUpstream records every upstream failure found in err, including
// those inside joined errors.
func (s *Scanner) countUpstream(err error) {
	if s.deps.Recorder == nil || err == nil {
		return
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			s.countUpstream(e)
		}
		return
	}
	var ue *models.UpstreamError
	if errors.As(err, &ue) {
		s.deps.Recorder.UpstreamError(ue.Source)
	}
}

func (s *Scanner) publishGauges() {
	if s.deps.Recorder == nil {
		return
	}
	cs := s.deps.Corpus.Statistics()
	s.deps.Recorder.Corpus(cs.Labeled, cs.Pending)
	s.deps.Recorder.AdaptiveAccuracy(s.deps.Adaptive.Info().Accuracy)
}

// Stats returns corpus, monitoring and model state plus the last cycle
// outcome.
func (s *Scanner) Stats() Stats {
	st := Stats{
		Corpus:     s.deps.Corpus.Statistics(),
		Monitoring: s.deps.Monitor.Statistics(),
		Adaptive:   s.deps.Adaptive.Info(),
	}
	if s.deps.Static != nil {
		st.Static = s.deps.Static.Info()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.lastCycle.IsZero() {
		t := s.lastCycle
		st.LastCycle = &t
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	st.Failures = s.failures
	return st
}

// RetrainNow retrains the adaptive model between cycles. Too few labeled
// records is reported as Retrained false, not as an error.
func (s *Scanner) RetrainNow() (RetrainResult, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	ok, err := s.deps.Adaptive.Retrain(s.deps.Adaptive.MinSamples())
	res := RetrainResult{Retrained: ok && err == nil, Model: s.deps.Adaptive.Info()}
	if errors.Is(err, models.ErrInsufficientData) {
		s.log.Info().Err(err).Msg("retrain skipped")
		return res, nil
	}
	if err != nil {
		return res, err
	}
	s.publishGauges()
	return res, nil
}

// StatusReport renders Stats for a chat reply.
func (s *Scanner) StatusReport() string {
	st := s.Stats()
	var b strings.Builder

	fmt.Fprintf(&b, "Corpus: %d records, %d labeled, %d pending, success rate %.2f%%\n",
		st.Corpus.Total, st.Corpus.Labeled, st.Corpus.Pending, st.Corpus.SuccessRate)
	fmt.Fprintf(&b, "Monitoring: %d active, %d completed, success rate %.2f%%\n",
		st.Monitoring.Active, st.Monitoring.Completed, st.Monitoring.SuccessRate)
	if st.Adaptive.Trained {
		fmt.Fprintf(&b, "Adaptive model: accuracy %.2f, trained on %d records\n", st.Adaptive.Accuracy, st.Adaptive.TrainedOn)
	} else {
		b.WriteString("Adaptive model: untrained\n")
	}
	if st.Static.Loaded {
		fmt.Fprintf(&b, "Static model: accuracy %.2f\n", st.Static.Accuracy)
	} else {
		b.WriteString("Static model: not loaded\n")
	}
	if st.LastCycle != nil {
		fmt.Fprintf(&b, "Last cycle: %s", st.LastCycle.UTC().Format(time.DateTime))
		if st.LastError != "" {
			fmt.Fprintf(&b, " (failed: %s)", st.LastError)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// RetrainReport runs RetrainNow and renders the outcome for a chat reply.
func (s *Scanner) RetrainReport(ctx context.Context) string {
	res, err := s.RetrainNow()
	switch {
	case err != nil:
		return fmt.Sprintf("Retrain failed: %v", err)
	case !res.Retrained:
		return fmt.Sprintf("Not enough labeled records to retrain (need %d)", s.deps.Adaptive.MinSamples())
	default:
		return fmt.Sprintf("Retrained on %d records, accuracy %.2f", res.Model.TrainedOn, res.Model.Accuracy)
	}
}

// Start runs one cycle immediately, then every interval until ctx is done.
// A cycle still running when the next one is due delays it.
func (s *Scanner) Start(ctx context.Context, interval time.Duration) error {
	if _, err := s.RunCycle(ctx); err != nil && ctx.Err() != nil {
		return nil
	}

	c := cron.New(cron.WithChain(cron.Recover(cronLogger{s.log}), cron.SkipIfStillRunning(cronLogger{s.log})))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		s.RunCycle(ctx) //nolint:errcheck
	}); err != nil {
		return fmt.Errorf("failed to schedule scan: %w", err)
	}
	c.Start()
	s.log.Info().Dur("interval", interval).Msg("scan loop started")

	<-ctx.Done()
	<-c.Stop().Done()
	s.log.Info().Msg("scan loop stopped")
	return nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct{ log zerolog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
