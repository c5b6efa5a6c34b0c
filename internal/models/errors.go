package models

import (
	"errors"
	"fmt"
)

// ErrInsufficientData marks an expected skip: too few labeled samples to
// retrain, or too few observations to compute indicators.
var ErrInsufficientData = errors.New("insufficient data")

// ErrNotFound is returned by lookups that find nothing.
var ErrNotFound = errors.New("not found")

// PersistenceError wraps a failure to read or write durable state.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// UpstreamError wraps a failed call to a market, sentiment or notification
// service. It is always recoverable.
type UpstreamError struct {
	Source string
	Symbol string
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Symbol == "" {
		return fmt.Sprintf("upstream %s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("upstream %s (%s): %v", e.Source, e.Symbol, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ModelError wraps a model load or inference failure. Callers convert it to
// the documented fallback result.
type ModelError struct {
	Model string
	Op    string
	Err   error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model %s %s: %v", e.Model, e.Op, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }
