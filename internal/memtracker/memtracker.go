// Package memtracker implements ShadowFS's Memory Tracker (component C3):
// an atomic accountant enforcing a hard byte ceiling via scoped allocation
// receipts.
package memtracker

import (
	"sync/atomic"

	"github.com/shadowfs/shadowfs/pkg/errors"
)

// Tracker enforces max_allowed as a hard ceiling on accounted bytes. At
// any instant, the sum of outstanding Receipts' sizes equals
// CurrentUsage().
type Tracker struct {
	currentUsage     atomic.Uint64
	maxAllowed       uint64
	allocationCount  atomic.Uint64
}

// New creates a Tracker with the given byte ceiling.
func New(maxAllowed uint64) *Tracker {
	return &Tracker{maxAllowed: maxAllowed}
}

// Receipt is a scoped, single-release accounting token. Release must be
// called exactly once, on every exit path (including error paths);
// calling it more than once is a no-op after the first call.
type Receipt struct {
	tracker  *Tracker
	size     uint64
	released atomic.Bool
}

// Size returns the number of bytes this receipt accounts for.
func (r *Receipt) Size() uint64 {
	return r.size
}

// Release returns the receipt's bytes to the tracker. Safe to call more
// than once.
func (r *Receipt) Release() {
	if r.released.CompareAndSwap(false, true) {
		r.tracker.subtract(r.size)
	}
}

func (t *Tracker) subtract(size uint64) {
	for {
		current := t.currentUsage.Load()
		next := current - size
		if size > current {
			next = 0
		}
		if t.currentUsage.CompareAndSwap(current, next) {
			return
		}
	}
}

// TryAllocate attempts to reserve size bytes. It retries its compare-and-
// swap on contention and fails (without mutating state) when the
// reservation would push current usage over max_allowed.
func (t *Tracker) TryAllocate(size uint64) (*Receipt, error) {
	for {
		current := t.currentUsage.Load()
		if current+size > t.maxAllowed {
			return nil, errors.NewOverrideStoreFull(current, t.maxAllowed)
		}
		if t.currentUsage.CompareAndSwap(current, current+size) {
			t.allocationCount.Add(1)
			return &Receipt{tracker: t, size: size}, nil
		}
	}
}

// CurrentUsage returns the currently accounted byte count.
func (t *Tracker) CurrentUsage() uint64 {
	return t.currentUsage.Load()
}

// MaxAllowed returns the configured ceiling.
func (t *Tracker) MaxAllowed() uint64 {
	return t.maxAllowed
}

// AvailableSpace returns how many bytes may still be allocated before
// hitting the ceiling.
func (t *Tracker) AvailableSpace() uint64 {
	current := t.currentUsage.Load()
	if current >= t.maxAllowed {
		return 0
	}
	return t.maxAllowed - current
}

// PressureRatio returns current/max as a float in [0, 1] (or higher,
// transiently, if max is reconfigured smaller than current usage).
func (t *Tracker) PressureRatio() float64 {
	if t.maxAllowed == 0 {
		return 0
	}
	return float64(t.currentUsage.Load()) / float64(t.maxAllowed)
}

// IsUnderPressure reports whether the pressure ratio exceeds 0.9 — a hint
// for opportunistic eviction, not a hard limit.
func (t *Tracker) IsUnderPressure() bool {
	return t.PressureRatio() > 0.9
}

// AllocationCount returns the number of successful TryAllocate calls made
// over the tracker's lifetime (monotonic; does not decrease on release).
func (t *Tracker) AllocationCount() uint64 {
	return t.allocationCount.Load()
}
