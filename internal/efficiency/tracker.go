// Package efficiency implements the lock-free EWMA of compression
// effectiveness and the retrain-trigger logic (spec §4.4). State is
// process-global by design (spec §9 "global mutable state exists and
// is required"); callers configure it once before readers start.
package efficiency

import (
	"math"
	"sync/atomic"
	"time"
)

// Tracker holds the EWMA/baseline pair plus retrain-gating state. The
// float64 fields are stored as bit patterns in atomic.Uint64s so the
// hot path never takes a lock.
type Tracker struct {
	ewmaBits     atomic.Uint64
	baselineBits atomic.Uint64
	initialized  atomic.Bool

	bytesSinceRetrain atomic.Int64
	lastRetrainNs     atomic.Int64

	enabled  atomic.Bool
	interval atomic.Int64 // seconds
	minBytes atomic.Int64
	alpha    atomic.Uint64 // float64 bits
	drop     atomic.Uint64 // float64 bits
}

// New constructs a tracker; call Configure then Init before use.
func New() *Tracker {
	return &Tracker{}
}

// Configure sets the single-writer tunables. Call before any reader
// goroutine starts.
func (t *Tracker) Configure(enabled bool, intervalSec int, minBytes int64, alpha, drop float64) {
	t.enabled.Store(enabled)
	t.interval.Store(int64(intervalSec))
	t.minBytes.Store(minBytes)
	t.alpha.Store(math.Float64bits(alpha))
	t.drop.Store(math.Float64bits(drop))
}

// Init zeroes the tracker's running state, recording now as the last
// retrain timestamp.
func (t *Tracker) Init(now time.Time) {
	t.ewmaBits.Store(0)
	t.baselineBits.Store(0)
	t.initialized.Store(false)
	t.bytesSinceRetrain.Store(0)
	t.lastRetrainNs.Store(now.UnixNano())
}

// OnObservation records one compress operation's ratio into the EWMA.
func (t *Tracker) OnObservation(orig, comp int64) {
	if orig == 0 {
		return
	}
	t.bytesSinceRetrain.Add(orig)
	sample := float64(comp) / float64(orig)

	if !t.initialized.Load() {
		t.ewmaBits.Store(math.Float64bits(sample))
		t.baselineBits.Store(math.Float64bits(sample))
		t.initialized.Store(true)
		return
	}

	alpha := math.Float64frombits(t.alpha.Load())
	for {
		oldBits := t.ewmaBits.Load()
		old := math.Float64frombits(oldBits)
		next := alpha*sample + (1-alpha)*old
		if t.ewmaBits.CompareAndSwap(oldBits, math.Float64bits(next)) {
			return
		}
	}
}

// ShouldRetrain evaluates the bootstrap and drift-trigger conditions
// from spec §4.4.
func (t *Tracker) ShouldRetrain(now time.Time) bool {
	if !t.enabled.Load() {
		return false
	}
	last := t.lastRetrainNs.Load()
	intervalSec := t.interval.Load()
	if now.Sub(time.Unix(0, last)) < time.Duration(intervalSec)*time.Second {
		return false
	}
	if t.bytesSinceRetrain.Load() < t.minBytes.Load() {
		return false
	}

	baseline := math.Float64frombits(t.baselineBits.Load())
	if !t.initialized.Load() || baseline <= 0 {
		return true
	}

	ewma := math.Float64frombits(t.ewmaBits.Load())
	rel := ewma/baseline - 1
	drop := math.Float64frombits(t.drop.Load())
	return rel <= -drop || rel >= drop
}

// MarkRetrained folds the current EWMA into a monotonically
// non-increasing baseline and resets the byte counter.
func (t *Tracker) MarkRetrained(now time.Time) {
	ewma := math.Float64frombits(t.ewmaBits.Load())
	for {
		oldBits := t.baselineBits.Load()
		old := math.Float64frombits(oldBits)
		var next float64
		if !t.initialized.Load() {
			next = ewma
		} else {
			next = math.Min(old, ewma)
		}
		if t.baselineBits.CompareAndSwap(oldBits, math.Float64bits(next)) {
			break
		}
	}
	t.bytesSinceRetrain.Store(0)
	t.lastRetrainNs.Store(now.UnixNano())
}

// EWMA returns the current ratio estimate.
func (t *Tracker) EWMA() float64 { return math.Float64frombits(t.ewmaBits.Load()) }

// Baseline returns the last-retrain baseline ratio.
func (t *Tracker) Baseline() float64 { return math.Float64frombits(t.baselineBits.Load()) }

// LastRetrain returns the timestamp of the last retrain.
func (t *Tracker) LastRetrain() time.Time { return time.Unix(0, t.lastRetrainNs.Load()) }

// Initialized reports whether at least one observation has landed.
func (t *Tracker) Initialized() bool { return t.initialized.Load() }
