package offer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/obs"
	"github.com/noah-isme/backend-kasir/internal/pricing"
)

// ErrBreakerOpen is returned while the offer store is treated as down.
var ErrBreakerOpen = errors.New("offer: store circuit open")

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker opens once the failure ratio over at least minRequests lookups
// reaches failureRatio. While open it rejects lookups until openFor has
// passed, then lets a single probe through.
type Breaker struct {
	Now func() time.Time

	mu           sync.Mutex
	state        breakerState
	failures     int
	successes    int
	minRequests  int
	failureRatio float64
	openedAt     time.Time
	openFor      time.Duration
	logger       zerolog.Logger
}

// NewBreaker builds a closed breaker. Non-positive arguments fall back to
// 5 requests, a 0.5 ratio and 30 seconds.
func NewBreaker(minRequests int, failureRatio float64, openFor time.Duration, logger zerolog.Logger) *Breaker {
	if minRequests <= 0 {
		minRequests = 5
	}
	if failureRatio <= 0 || failureRatio > 1 {
		failureRatio = 0.5
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &Breaker{minRequests: minRequests, failureRatio: failureRatio, openFor: openFor, logger: logger}
}

func (b *Breaker) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerOpen:
		if b.now().Sub(b.openedAt) < b.openFor {
			return false
		}
		b.transitionLocked(breakerHalfOpen)
		return true
	case breakerHalfOpen:
		// a probe is already in flight
		return false
	default:
		return true
	}
}

func (b *Breaker) report(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerOpen:
		return
	case breakerHalfOpen:
		if success {
			b.transitionLocked(breakerClosed)
		} else {
			b.transitionLocked(breakerOpen)
		}
		return
	}

	if success {
		b.successes++
	} else {
		b.failures++
	}
	total := b.failures + b.successes
	if total < b.minRequests {
		return
	}
	if float64(b.failures)/float64(total) >= b.failureRatio {
		b.transitionLocked(breakerOpen)
	} else if total > b.minRequests*2 {
		b.successes = (b.successes + 1) / 2
		b.failures = (b.failures + 1) / 2
	}
}

func (b *Breaker) transitionLocked(next breakerState) {
	prev := b.state
	b.state = next
	b.failures, b.successes = 0, 0
	if next == breakerOpen {
		b.openedAt = b.now()
	}
	if obs.OfferBreakerState != nil {
		obs.OfferBreakerState.Set(float64(next))
	}
	b.logger.Info().Str("from_state", prev.String()).Str("to_state", next.String()).Msg("offer_breaker_transition")
}

// GuardedSource fails lookups fast while its breaker is open.
type GuardedSource struct {
	next    Source
	breaker *Breaker
}

// NewGuardedSource wraps next with breaker.
func NewGuardedSource(next Source, breaker *Breaker) *GuardedSource {
	return &GuardedSource{next: next, breaker: breaker}
}

// ForCustomer implements Source.
func (g *GuardedSource) ForCustomer(ctx context.Context, customerID uuid.UUID) ([]pricing.CustomerOffer, error) {
	if !g.breaker.allow() {
		observeLookup("breaker", "rejected")
		return nil, ErrBreakerOpen
	}
	offers, err := g.next.ForCustomer(ctx, customerID)
	// a caller giving up says nothing about the store
	g.breaker.report(err == nil || errors.Is(err, context.Canceled))
	return offers, err
}
