// Package metrics provides a minimal instrumentation interface with a no-op
// default and a Prometheus-backed implementation.
package metrics

import (
	"sync"
	"time"
)

// Recorder defines the metrics surface used across the codebase.
type Recorder interface {
	ObserveGeneration(model string, success bool, seconds float64)
	AddTokens(model string, prompt, completion int)
	ObserveOperation(op string, success bool, seconds float64)
	IncVerdict(op, verdict string)
	SetExperimentAccuracy(model, conceptID string, accuracy float64)
}

type noopRecorder struct{}

func (noopRecorder) ObserveGeneration(string, bool, float64)        {}
func (noopRecorder) AddTokens(string, int, int)                     {}
func (noopRecorder) ObserveOperation(string, bool, float64)         {}
func (noopRecorder) IncVerdict(string, string)                      {}
func (noopRecorder) SetExperimentAccuracy(string, string, float64) {}

var (
	recMu    sync.RWMutex
	recorder Recorder = noopRecorder{}
)

// Default returns the current recorder.
func Default() Recorder {
	recMu.RLock()
	defer recMu.RUnlock()
	return recorder
}

// SetRecorder swaps the global recorder implementation. nil restores the no-op recorder.
func SetRecorder(r Recorder) {
	recMu.Lock()
	defer recMu.Unlock()
	if r == nil {
		r = noopRecorder{}
	}
	recorder = r
}

// TimeOp times a dialectic, benchmark, or experiment operation.
func TimeOp(op string) func(success bool) {
	start := time.Now()
	return func(success bool) {
		Default().ObserveOperation(op, success, time.Since(start).Seconds())
	}
}
