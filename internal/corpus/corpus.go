// Package corpus holds the append-only training corpus of emitted signals and
// their asynchronously resolved outcomes.
package corpus

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rewired-gh/hybridscan/internal/features"
	"github.com/rewired-gh/hybridscan/internal/logger"
	"github.com/rewired-gh/hybridscan/internal/models"
)

// Backend is the persistence the store needs.
type Backend interface {
	LoadRecords() ([]models.FeatureRecord, error)
	SaveRecords(records []models.FeatureRecord) error
}

// Statistics summarizes the corpus. Pending always equals Total - Labeled.
type Statistics struct {
	Total       int     `json:"total"`
	Labeled     int     `json:"labeled"`
	Pending     int     `json:"pending"`
	Successful  int     `json:"successful"`
	SuccessRate float64 `json:"success_rate"`
}

// Store is the in-memory corpus. Every mutation rewrites the whole corpus
// through the backend before it becomes visible.
type Store struct {
	mu      sync.RWMutex
	backend Backend
	records []models.FeatureRecord
	index   map[string]int
	now     func() time.Time
	log     zerolog.Logger
}

// Open loads the corpus from backend. A load failure is logged and the store
// starts empty.
func Open(backend Backend) *Store {
	s := &Store{
		backend: backend,
		index:   make(map[string]int),
		now:     time.Now,
		log:     logger.Component("corpus"),
	}

	records, err := backend.LoadRecords()
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to load training corpus, starting empty")
		records = nil
	}
	for _, r := range records {
		if r.Result == "" {
			r.Result = models.LabelPending
		}
		if _, dup := s.index[r.SignalID]; dup {
			s.log.Warn().Str("signal_id", r.SignalID).Msg("duplicate record in corpus, keeping first")
			continue
		}
		s.index[r.SignalID] = len(s.records)
		s.records = append(s.records, r)
	}
	s.log.Info().Int("records", len(s.records)).Msg("training corpus loaded")
	return s
}

// Append adds a new pending record and persists the corpus. On persistence
// failure the record is not kept.
func (s *Store) Append(record models.FeatureRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.index[record.SignalID]; dup {
		return fmt.Errorf("record %s already exists", record.SignalID)
	}

	record.Result = models.LabelPending
	record.ResultUpdatedAt = nil
	record.DaysToResult = nil

	s.records = append(s.records, record)
	s.index[record.SignalID] = len(s.records) - 1

	if err := s.backend.SaveRecords(s.records); err != nil {
		s.records = s.records[:len(s.records)-1]
		delete(s.index, record.SignalID)
		return wrapPersist("append", err)
	}
	return nil
}

// ResolveLabel sets the outcome of a pending record. It returns false when no
// pending record with that id exists; a resolved label is never overwritten.
func (s *Store) ResolveLabel(signalID string, result models.Label, daysToResult int) (bool, error) {
	if !result.Resolved() {
		return false, fmt.Errorf("invalid result %q", result)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[signalID]
	if !ok || s.records[i].Label() != models.LabelPending {
		return false, nil
	}

	prev := s.records[i]
	ts := s.now()
	days := daysToResult
	s.records[i].Result = result
	s.records[i].ResultUpdatedAt = &ts
	s.records[i].DaysToResult = &days

	if err := s.backend.SaveRecords(s.records); err != nil {
		s.records[i] = prev
		return false, wrapPersist("resolve", err)
	}
	return true, nil
}

// TrainingView returns the labeled records as training rows in
// features.Columns order. Y is 1 iff the outcome was success.
func (s *Store) TrainingView() []features.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]features.Row, 0, len(s.records))
	for _, r := range s.records {
		label := r.Label()
		if !label.Resolved() {
			continue
		}
		y := 0
		if label == models.LabelSuccess {
			y = 1
		}
		rows = append(rows, features.Row{X: features.FromRecord(r), Y: y})
	}
	return rows
}

// LabeledCount returns the number of resolved records.
func (s *Store) LabeledCount() int {
	return s.Statistics().Labeled
}

// Statistics returns corpus counts. SuccessRate is a percentage rounded to two
// decimals and 0 when nothing is labeled.
func (s *Store) Statistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Statistics{Total: len(s.records)}
	for _, r := range s.records {
		switch r.Label() {
		case models.LabelSuccess:
			st.Labeled++
			st.Successful++
		case models.LabelFailure:
			st.Labeled++
		}
	}
	st.Pending = st.Total - st.Labeled
	if st.Labeled > 0 {
		st.SuccessRate = math.Round(float64(st.Successful)/float64(st.Labeled)*100*100) / 100
	}
	return st
}

// Get returns a copy of the record with signalID.
func (s *Store) Get(signalID string) (models.FeatureRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[signalID]
	if !ok {
		return models.FeatureRecord{}, false
	}
	return s.records[i], true
}

func wrapPersist(op string, err error) error {
	var pe *models.PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &models.PersistenceError{Op: op, Path: "corpus", Err: err}
}
