package cancel

import (
	"errors"
	"sync/atomic"
)

// ErrCancelled is returned by pipeline stages when processing was
// cancelled through the gate. Callers treat it differently from real
// failures: a cancelled job is skipped, and its document keeps the
// status of the last step that finished.
var ErrCancelled = errors.New("processing cancelled")

// Gate is a process-wide cancellation flag for the ingestion pipeline.
// Clearing parsed output sets the gate; every long-running stage checks
// it between units of work (pages, batches, chunks). The flag is reset
// when a new ingestion task starts.
type Gate struct {
	cancelled atomic.Bool
}

func NewGate() *Gate {
	return &Gate{}
}

// Set raises the cancellation flag.
func (g *Gate) Set() {
	g.cancelled.Store(true)
}

// Clear resets the flag so new work can proceed.
func (g *Gate) Clear() {
	g.cancelled.Store(false)
}

// Cancelled reports whether cancellation was requested.
func (g *Gate) Cancelled() bool {
	return g.cancelled.Load()
}

// Err returns ErrCancelled if the gate is set, nil otherwise. Stages
// call this at checkpoint boundaries:
//
//	if err := gate.Err(); err != nil { return err }
func (g *Gate) Err() error {
	if g.cancelled.Load() {
		return ErrCancelled
	}
	return nil
}
