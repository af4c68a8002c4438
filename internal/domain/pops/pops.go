// Package pops implements the client-local accumulator of un-submitted taps.
package pops

import "sync"

// Cap bounds both the pending counter and a single submission.
const Cap = 200

// Accumulator counts taps that have not been confirmed on chain yet.
// The zero value is ready to use.
type Accumulator struct {
	mu      sync.Mutex
	pending int
}

// Register adds one tap. It saturates at Cap; saturated reports a tap that
// did not change the counter.
func (a *Accumulator) Register() (pending int, saturated bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending >= Cap {
		return a.pending, true
	}
	a.pending++
	return a.pending, false
}

// Capture returns the amount the next submission should carry.
func (a *Accumulator) Capture() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return min(a.pending, Cap)
}

// Settle subtracts a confirmed amount. Taps registered after the amount was
// captured survive; the counter never goes below zero.
func (a *Accumulator) Settle(amount int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if amount > 0 {
		a.pending = max(a.pending-amount, 0)
	}
	return a.pending
}

// Pending returns the current counter.
func (a *Accumulator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending
}

// Reset discards every pending tap.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	a.pending = 0
	a.mu.Unlock()
}
