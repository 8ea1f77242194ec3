// Package breaker implements a closed/open/half-open circuit breaker that
// fast-fails calls to a repeatedly failing dependency.
package breaker

import (
	"math"
	"sync/atomic"
	"time"
)

// State of the circuit.
type State uint32

// Circuit states.
const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Defaults.
const (
	DefaultFailureThreshold = 5
	DefaultTimeout          = 30 * time.Second
)

// Breaker trips open after a threshold of consecutive failures, rejects
// calls while open, and allows a single trial call once the timeout
// elapses. All transitions are linearizable via CAS loops.
type Breaker struct {
	failures    atomic.Int32
	state       atomic.Uint32
	lastFailure atomic.Int64 // unix nanos
	threshold   int32
	timeout     time.Duration
}

// New creates a breaker with the given threshold and open timeout.
func New(threshold int32, timeout time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Breaker{threshold: threshold, timeout: timeout}
}

// Allow reports whether a call may proceed. When the open timeout has
// elapsed exactly one caller wins the transition to half-open and gets the
// trial request.
func (b *Breaker) Allow() bool {
	for {
		switch State(b.state.Load()) {
		case StateOpen:
			lastFail := time.Unix(0, b.lastFailure.Load())
			if time.Since(lastFail) > b.timeout {
				if b.state.CompareAndSwap(uint32(StateOpen), uint32(StateHalfOpen)) {
					return true
				}
				continue
			}
			return false
		case StateHalfOpen:
			// Trial call already in flight.
			return false
		default:
			return true
		}
	}
}

// RecordSuccess closes the circuit and resets the failure counter.
func (b *Breaker) RecordSuccess() {
	b.failures.Store(0)
	b.state.Store(uint32(StateClosed))
}

// RecordFailure counts a failure, tripping the circuit once the threshold
// of consecutive failures is reached. A failed half-open trial reopens the
// circuit and restarts the timeout.
func (b *Breaker) RecordFailure() {
	if b.state.CompareAndSwap(uint32(StateHalfOpen), uint32(StateOpen)) {
		b.lastFailure.Store(time.Now().UnixNano())
		return
	}

	for {
		current := b.failures.Load()
		if current == math.MaxInt32 {
			return
		}
		if !b.failures.CompareAndSwap(current, current+1) {
			continue
		}
		if current+1 >= b.threshold {
			if b.state.CompareAndSwap(uint32(StateClosed), uint32(StateOpen)) {
				b.lastFailure.Store(time.Now().UnixNano())
			}
		}
		return
	}
}

// State returns the current circuit state.
func (b *Breaker) State() State {
	return State(b.state.Load())
}

// Reset returns the breaker to closed with a zeroed failure count.
func (b *Breaker) Reset() {
	b.failures.Store(0)
	b.lastFailure.Store(0)
	b.state.Store(uint32(StateClosed))
}
