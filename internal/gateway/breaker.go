package gateway

import (
	"sync/atomic"
	"time"

	"github.com/fechatter/fechatter/internal/config"
)

type breakerState int32

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// breaker is a small per-server circuit breaker: Closed allows traffic and
// counts consecutive failures; crossing failureThreshold trips to Open,
// which rejects everything until recoveryTimeout elapses; HalfOpen then
// allows a bounded number of probe requests through before deciding whether
// to close (success) or re-open (any failure). No pack dependency covers
// this narrowly scoped a state machine, so it is hand-rolled.
type breaker struct {
	failureThreshold int32
	recoveryTimeout  time.Duration
	halfOpenMax      int32

	state             atomic.Int32
	failures          atomic.Int32
	halfOpenHits      atomic.Int32
	halfOpenSuccesses atomic.Int32
	openedAt          atomic.Int64
}

func newBreaker(cfg config.UpstreamCircuitBreakerConfig) *breaker {
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = 5
	}
	halfOpenMax := cfg.HalfOpenMax
	if halfOpenMax <= 0 {
		halfOpenMax = 1
	}
	recovery := cfg.RecoveryTimeout()
	if recovery <= 0 {
		recovery = 30 * time.Second
	}
	return &breaker{
		failureThreshold: int32(threshold),
		recoveryTimeout:  recovery,
		halfOpenMax:      int32(halfOpenMax),
	}
}

// allow reports whether a request may proceed, transitioning Open -> HalfOpen
// once the recovery timeout has elapsed.
func (b *breaker) allow() bool {
	switch breakerState(b.state.Load()) {
	case breakerClosed:
		return true
	case breakerOpen:
		openedAt := time.Unix(0, b.openedAt.Load())
		if time.Since(openedAt) < b.recoveryTimeout {
			return false
		}
		if b.state.CompareAndSwap(int32(breakerOpen), int32(breakerHalfOpen)) {
			b.halfOpenHits.Store(0)
			b.halfOpenSuccesses.Store(0)
		}
		return true
	case breakerHalfOpen:
		return b.halfOpenHits.Add(1) <= b.halfOpenMax
	default:
		return true
	}
}

// recordSuccess closes the breaker immediately from Closed (resetting the
// failure count) but requires halfOpenMax cumulative successes while
// HalfOpen before closing, matching allow()'s admission of up to halfOpenMax
// probes per HalfOpen window: a single lucky probe must not reopen the gate
// to full traffic.
func (b *breaker) recordSuccess() {
	switch breakerState(b.state.Load()) {
	case breakerHalfOpen:
		if b.halfOpenSuccesses.Add(1) >= b.halfOpenMax {
			b.state.Store(int32(breakerClosed))
			b.failures.Store(0)
			b.halfOpenSuccesses.Store(0)
		}
	default:
		b.failures.Store(0)
		b.state.Store(int32(breakerClosed))
	}
}

// recordFailure trips the breaker Open once failureThreshold consecutive
// failures accumulate in Closed, or immediately on any failure in HalfOpen.
func (b *breaker) recordFailure() {
	switch breakerState(b.state.Load()) {
	case breakerHalfOpen:
		b.trip()
	default:
		if b.failures.Add(1) >= b.failureThreshold {
			b.trip()
		}
	}
}

func (b *breaker) trip() {
	b.state.Store(int32(breakerOpen))
	b.openedAt.Store(time.Now().UnixNano())
	b.failures.Store(0)
	b.halfOpenSuccesses.Store(0)
}
